package investec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/httpclient"
	"github.com/Checker-Finance/investec-adapter/internal/metrics"
	"github.com/Checker-Finance/investec-adapter/pkg/utils"
)

const (
	// TokenPath is the OAuth2 client-credentials endpoint.
	TokenPath = "/identity/v2/oauth2/token"
	// sessionExpiryBuffer is how early a reused session is considered stale.
	sessionExpiryBuffer = 5 * time.Minute

	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

// ErrAuthFailed wraps every failed token exchange.
var ErrAuthFailed = errors.New("token exchange failed")

// BasicHeaders builds the headers for the token exchange.
func BasicHeaders(cfg ClientConfig) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+cfg.BasicToken())
	h.Set("Content-Type", contentTypeForm)
	if cfg.APIKey != "" {
		h.Set("x-api-key", cfg.APIKey)
	}
	return h
}

// BearerHeaders builds the headers for banking calls.
func BearerHeaders(s Session, cfg ClientConfig) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.AccessToken)
	h.Set("Content-Type", contentTypeJSON)
	h.Set("Accept", contentTypeJSON)
	if cfg.APIKey != "" {
		h.Set("x-api-key", cfg.APIKey)
	}
	return h
}

// Authenticate exchanges the client's Basic credentials for a bearer token.
// The stored session is replaced on every call: with the new token on success,
// with an empty session on failure. A response without access_token is kept as an
// empty token and logged rather than treated as an error.
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	body := url.Values{"grant_type": {"client_credentials"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(TokenPath), strings.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("investec auth: build request: %w", err)
	}
	req.Header = BasicHeaders(c.cfg)

	var tr TokenResponse
	err = c.exec.DoJSON(httpclient.WithOperation(ctx, "token"), req, c.key, &tr)

	s := Session{IssuedAt: c.now()}
	if err == nil {
		s.AccessToken = tr.AccessToken
		s.ExpiresIn = tr.ExpiresIn
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if err != nil {
		metrics.IncTokenRefresh("error")
		return Session{}, fmt.Errorf("investec auth for client %q: %w: %w", c.key, ErrAuthFailed, err)
	}

	if s.AccessToken == "" {
		metrics.IncTokenRefresh("empty")
		c.logger.Warn("investec.auth.empty_access_token", zap.String("client", c.key))
		return s, nil
	}

	metrics.IncTokenRefresh("ok")
	c.logger.Info("investec.auth.token_refreshed",
		zap.String("client", c.key),
		zap.String("token", utils.MaskSecret(s.AccessToken)),
		zap.Int("expires_in_sec", s.ExpiresIn))

	if c.reuse && c.cache != nil {
		if err := c.cache.SaveSession(ctx, c.key, s); err != nil {
			c.logger.Warn("investec.auth.session_cache_save_failed",
				zap.String("client", c.key),
				zap.Error(err))
		}
	}
	return s, nil
}

// currentSession returns the session to use for the next banking call.
// Without reuse every call authenticates afresh.
func (c *Client) currentSession(ctx context.Context) (Session, error) {
	if !c.reuse {
		return c.Authenticate(ctx)
	}

	now := c.now()
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s.Valid(now, sessionExpiryBuffer) {
		return s, nil
	}

	if c.cache != nil {
		cached, err := c.cache.LoadSession(ctx, c.key)
		switch {
		case err != nil:
			metrics.IncSessionCache("error")
			c.logger.Warn("investec.auth.session_cache_load_failed",
				zap.String("client", c.key),
				zap.Error(err))
		case cached != nil && cached.Valid(now, sessionExpiryBuffer):
			metrics.IncSessionCache("hit")
			c.mu.Lock()
			c.session = *cached
			c.mu.Unlock()
			return *cached, nil
		default:
			metrics.IncSessionCache("miss")
		}
	}

	return c.Authenticate(ctx)
}

// dropSession forgets the current session locally and in the shared cache.
func (c *Client) dropSession(ctx context.Context) {
	c.mu.Lock()
	c.session = Session{}
	c.mu.Unlock()

	if c.cache == nil {
		return
	}
	if err := c.cache.DeleteSession(ctx, c.key); err != nil {
		c.logger.Warn("investec.auth.session_cache_delete_failed",
			zap.String("client", c.key),
			zap.Error(err))
	}
}

// CredentialsRejected reports whether err is the identity server refusing the
// client's Basic credentials, as opposed to a transport or server failure.
func CredentialsRejected(err error) bool {
	return errors.Is(err, ErrAuthFailed) && isUnauthorized(err)
}
