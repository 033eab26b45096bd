package storagekeys

import (
	"encoding/json"
	"fmt"

	"gitlab.com/timkado/api/course-data-layer/pkg/crypto"
)

// DefaultNamespace prefixes every key when none is configured.
const DefaultNamespace = "course-dl"

// AccessTokenKey is the storage key holding the access token.
func AccessTokenKey(ns string) string {
	return fmt.Sprintf("%s:auth:access_token", ns)
}

// RefreshTokenKey is the storage key holding the refresh token.
func RefreshTokenKey(ns string) string {
	return fmt.Sprintf("%s:auth:refresh_token", ns)
}

// RoleKey is the storage key holding the role granted with the tokens.
func RoleKey(ns string) string {
	return fmt.Sprintf("%s:auth:role", ns)
}

// SessionSnapshotKey is the storage key of the persisted session projection.
func SessionSnapshotKey(ns string) string {
	return fmt.Sprintf("%s:session", ns)
}

// LoginKey holds the id of the session started by the most recent login.
func LoginKey(ns string) string {
	return fmt.Sprintf("%s:login", ns)
}

// LogoutKey is written with a fresh timestamp on every logout so other tabs observe a change.
func LogoutKey(ns string) string {
	return fmt.Sprintf("%s:logout", ns)
}

// SessionSignalChannel is the pub/sub channel (or NATS subject) carrying session signals.
func SessionSignalChannel(ns string) string {
	return fmt.Sprintf("%s.session.signals", ns)
}

// RequestKey derives the request cache key of a GET call: "GET:" + url + ":" + JSON(params).
// encoding/json sorts map keys, which keeps the key deterministic.
func RequestKey(url string, params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		// map[string]string always marshals; keep the key usable regardless.
		encoded = []byte("{}")
	}
	return "GET:" + url + ":" + string(encoded)
}

// ResponseCacheKey generates the Redis key for a cached response. Request keys
// embed full URLs, so they are hashed to keep Redis keys short.
func ResponseCacheKey(ns, requestKey string) string {
	return fmt.Sprintf("%s:response_cache:%s", ns, crypto.Sha256Hex(requestKey))
}
