package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/metrics"
	"gitlab.com/timkado/api/course-data-layer/internal/application"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/contextkeys"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
	"golang.org/x/sync/singleflight"
)

const (
	requestIDHeader = "X-Request-ID"
	maxResponseSize = 8 << 20
)

// Params are the query parameters of a GET call. They are part of the request
// cache key, so they are encoded with sorted keys.
type Params map[string]string

// APIClient talks to the remote API. GET calls go through the request cache,
// POST calls never do. Both carry the stored access token.
type APIClient struct {
	httpClient     *http.Client
	configProvider config.Provider
	cache          *application.RequestCache
	tokens         *application.TokenStore
	logger         domain.Logger

	renewals singleflight.Group
}

// NewAPIClient creates a client for api.base_url. A nil httpClient gets one
// with api.timeout_seconds as its timeout.
func NewAPIClient(cfgProvider config.Provider, httpClient *http.Client, cache *application.RequestCache, tokens *application.TokenStore, logger domain.Logger) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfgProvider.Get().API.Timeout()}
	}
	return &APIClient{
		httpClient:     httpClient,
		configProvider: cfgProvider,
		cache:          cache,
		tokens:         tokens,
		logger:         logger,
	}
}

// Get fetches path through the request cache with key "GET:<url>:<params json>".
// A ttl <= 0 is never served from cache but still coalesces with an identical
// call in flight.
func (c *APIClient) Get(ctx context.Context, path string, params Params, ttl time.Duration) ([]byte, error) {
	endpoint := c.endpoint(path)
	key := storagekeys.RequestKey(endpoint, params)
	target := withQuery(endpoint, params)

	return c.cache.Request(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		return c.doWithRenewal(ctx, http.MethodGet, target, nil)
	})
}

// Post sends body as JSON. It is never cached or coalesced.
func (c *APIClient) Post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body for %s: %w", path, err)
	}
	return c.doWithRenewal(ctx, http.MethodPost, c.endpoint(path), payload)
}

func (c *APIClient) doWithRenewal(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	body, err := c.do(ctx, method, target, payload, true)
	if err == nil || !isUnauthorized(err) || c.configProvider.Get().API.RefreshPath == "" {
		return body, err
	}

	if errRenew := c.renewTokens(ctx); errRenew != nil {
		c.logger.Warn(ctx, "Access token renewal failed", "error", errRenew.Error())
		return nil, err
	}
	return c.do(ctx, method, target, payload, true)
}

// renewTokens exchanges the refresh token for a new pair. Concurrent 401s share
// one exchange.
func (c *APIClient) renewTokens(ctx context.Context) error {
	_, err, _ := c.renewals.Do("renew", func() (any, error) {
		refreshToken, err := c.tokens.RefreshToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("read refresh token: %w", err)
		}
		if refreshToken == "" {
			return nil, domain.ErrAuthInvalid
		}

		payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
		if err != nil {
			return nil, err
		}
		body, err := c.do(ctx, http.MethodPost, c.endpoint(c.configProvider.Get().API.RefreshPath), payload, false)
		if err != nil {
			return nil, err
		}

		var pair struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeData(body, &pair); err != nil {
			return nil, err
		}
		if pair.AccessToken == "" {
			return nil, domain.NewError(domain.ErrCodeUpstream, "refresh response carries no access token", nil)
		}
		if pair.RefreshToken == "" {
			pair.RefreshToken = refreshToken
		}

		c.logger.Info(ctx, "Access token renewed")
		return nil, c.tokens.Rotate(ctx, pair.AccessToken, pair.RefreshToken)
	})
	return err
}

func (c *APIClient) do(ctx context.Context, method, target string, payload []byte, withAuth bool) ([]byte, error) {
	start := time.Now()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}
	if withAuth {
		token, errToken := c.tokens.AccessToken(ctx)
		if errToken != nil {
			c.logger.Warn(ctx, "Failed to read access token, sending request without it", "error", errToken.Error())
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ObserveAPIRequest(method, "canceled", time.Since(start).Seconds())
			return nil, ctxErr
		}
		metrics.ObserveAPIRequest(method, string(domain.ErrCodeNetworkUnavailable), time.Since(start).Seconds())
		c.logger.Warn(ctx, "API request failed", "method", method, "url", target, "error", err.Error())
		return nil, domain.NewError(domain.ErrCodeNetworkUnavailable, fmt.Sprintf("%s %s", method, target), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.ObserveAPIRequest(method, string(domain.ErrCodeNetworkUnavailable), time.Since(start).Seconds())
		return nil, domain.NewError(domain.ErrCodeNetworkUnavailable, "read response body", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.ObserveAPIRequest(method, "ok", time.Since(start).Seconds())
		return body, nil
	}

	apiErr := errorFromResponse(resp.StatusCode, body)
	metrics.ObserveAPIRequest(method, string(apiErr.Code), time.Since(start).Seconds())
	c.logger.Debug(ctx, "API request rejected", "method", method, "url", target, "status", resp.StatusCode, "code", string(apiErr.Code))
	return nil, apiErr
}

func (c *APIClient) endpoint(path string) string {
	base := strings.TrimRight(c.configProvider.Get().API.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func withQuery(endpoint string, params Params) string {
	if len(params) == 0 {
		return endpoint
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return endpoint + "?" + q.Encode()
}

func errorFromResponse(status int, body []byte) *domain.Error {
	code := domain.ErrCodeUpstream
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = domain.ErrCodeAuthInvalid
	case http.StatusNotFound:
		code = domain.ErrCodeNotFound
	}

	message := http.StatusText(status)
	var er domain.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Message != "" {
		message = er.Message
	}
	return &domain.Error{Code: code, Message: message, Status: status}
}

func isUnauthorized(err error) bool {
	var apiErr *domain.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// decodeData decodes a bare JSON value or the "data" member of an envelope.
func decodeData(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
			trimmed = envelope.Data
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return domain.NewError(domain.ErrCodeUpstream, "decode API response", err)
	}
	return nil
}
