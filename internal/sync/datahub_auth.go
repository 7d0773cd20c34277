// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
)

var (
	// ErrAuthentication is returned when the datahub rejects the login or the
	// response cannot be turned into a token.
	ErrAuthentication = errors.New("datahub authentication failed")

	// ErrNoToken is returned when a successful login carries no token cookie.
	ErrNoToken = fmt.Errorf("%w: no token cookie in login response", ErrAuthentication)
)

// DefaultTokenTTL is shorter than the datahub's one hour session so a cached
// token is never presented after the server has expired it.
const DefaultTokenTTL = 50 * time.Minute

// Authenticator performs one login exchange and returns a fresh token.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
}

// TokenCache holds the most recent datahub token and refreshes it once it is
// older than the TTL.
//
// Two callers that find the token expired at the same time will both log in;
// the later result wins. Only field access is serialized.
type TokenCache struct {
	auth Authenticator
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// NewTokenCache creates a cache in front of auth. A non-positive ttl selects
// DefaultTokenTTL.
func NewTokenCache(auth Authenticator, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenCache{
		auth: auth,
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *TokenCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Token returns the cached token while its age is below the TTL, otherwise
// logs in and caches the result.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	now := c.now()
	if c.token != "" && now.Sub(c.issuedAt) < c.ttl {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	logging.Debug().Msg("Datahub token missing or expired, logging in")

	token, err := c.auth.Login(ctx)
	metrics.RecordTokenRefresh(err)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = token
	c.issuedAt = c.now()
	c.mu.Unlock()

	logging.Info().Str("token_prefix", tokenPrefix(token)).Msg("Datahub token refreshed")
	return token, nil
}

// Invalidate drops the cached token so the next Token call logs in again.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.issuedAt = time.Time{}
	c.mu.Unlock()
}

// tokenPrefix is the loggable part of a token.
func tokenPrefix(token string) string {
	const visible = 8
	if len(token) <= visible {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + "..."
}

// loginRequest is the body of POST {api_url}/Auth.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginClient exchanges configured credentials for a datahub session token.
// The token is delivered as a cookie rather than in the response body.
type LoginClient struct {
	client   *resty.Client
	loginURL string
	username string
	password string
}

// NewLoginClient builds a login client for cfg.APIURL.
func NewLoginClient(cfg *config.DatahubConfig) *LoginClient {
	timeout := cfg.LoginTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &LoginClient{
		client:   client,
		loginURL: strings.TrimRight(cfg.APIURL, "/") + "/Auth",
		username: cfg.Username,
		password: cfg.Password,
	}
}

// Login posts the credentials and returns the value of the first response
// cookie whose name contains "token" or "auth" (case-insensitive).
func (c *LoginClient) Login(ctx context.Context) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: c.username, Password: c.password}).
		Post(c.loginURL)
	if err != nil {
		return "", fmt.Errorf("datahub login request: %w", err)
	}

	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: login returned status %d", ErrAuthentication, resp.StatusCode())
	}

	for _, cookie := range resp.Cookies() {
		name := strings.ToLower(cookie.Name)
		if (strings.Contains(name, "token") || strings.Contains(name, "auth")) && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", ErrNoToken
}
