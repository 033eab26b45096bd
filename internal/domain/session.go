package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Role is the authorization role granted alongside a token pair.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// TokenRecord is the token pair and role persisted by the token store.
// Access and refresh tokens are either both present or both absent, and the
// role is only present together with them.
type TokenRecord struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	Role         Role   `json:"role"`
}

// UserProfile is the body of GET /auth/me.
type UserProfile struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name,omitempty"`
	Role      Role       `json:"role,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// ProfileFetcher loads the profile of the user owning the current access token.
// It returns an error matching ErrAuthInvalid when the token was rejected.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context) (*UserProfile, error)
}

// AuthStatus is the tri-state login flag. Unknown means "not determined yet"
// and is distinct from LoggedOut.
type AuthStatus int

const (
	AuthUnknown AuthStatus = iota
	AuthLoggedOut
	AuthLoggedIn
)

func (s AuthStatus) String() string {
	switch s {
	case AuthLoggedOut:
		return "logged_out"
	case AuthLoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes Unknown as null, LoggedOut as false and LoggedIn as true.
func (s AuthStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case AuthLoggedIn:
		return []byte("true"), nil
	case AuthLoggedOut:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (s *AuthStatus) UnmarshalJSON(data []byte) error {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode auth status: %w", err)
	}
	switch {
	case v == nil:
		*s = AuthUnknown
	case *v:
		*s = AuthLoggedIn
	default:
		*s = AuthLoggedOut
	}
	return nil
}

// SessionState is the observable state of a session store.
// Bootstrapped implies Status is not AuthUnknown.
type SessionState struct {
	Status       AuthStatus   `json:"isLoggedIn"`
	Role         Role         `json:"role,omitempty"`
	User         *UserProfile `json:"user"`
	Loading      bool         `json:"loading"`
	Bootstrapped bool         `json:"bootstrapped"`
}

// IsLoggedIn returns nil while the status is still unknown.
func (s SessionState) IsLoggedIn() *bool {
	if s.Status == AuthUnknown {
		return nil
	}
	v := s.Status == AuthLoggedIn
	return &v
}

// SessionSnapshotVersion is bumped whenever the persisted projection changes shape.
const SessionSnapshotVersion = 1

// SessionSnapshot is the persisted projection of SessionState. Loading and
// Bootstrapped are never persisted.
type SessionSnapshot struct {
	Version    int          `json:"version"`
	IsLoggedIn AuthStatus   `json:"isLoggedIn"`
	Role       Role         `json:"role,omitempty"`
	User       *UserProfile `json:"user"`
}

// SessionSignalKind identifies a cross-tab session notification.
type SessionSignalKind string

const (
	SignalLogout SessionSignalKind = "logout"
	SignalLogin  SessionSignalKind = "login"
)

// SessionSignal is broadcast to every other tab whenever the stored tokens change.
type SessionSignal struct {
	Kind   SessionSignalKind `json:"kind"`
	Origin string            `json:"origin"` // tab id of the sender
	At     time.Time         `json:"at"`
	// SessionID names the login a logout ends. Empty when unknown.
	SessionID string `json:"session_id,omitempty"`
}

// SessionSignalHandler is called for every signal received from the broadcast channel.
type SessionSignalHandler func(ctx context.Context, signal SessionSignal) error

// SessionBroadcaster publishes and receives cross-tab session signals.
type SessionBroadcaster interface {
	Publish(ctx context.Context, signal SessionSignal) error

	// Subscribe registers handler for every signal published on the channel,
	// including this broadcaster's own. It returns once the subscription is active.
	Subscribe(ctx context.Context, handler SessionSignalHandler) error

	Close() error
}
