package investec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/httpclient"
	"github.com/Checker-Finance/investec-adapter/internal/rate"
	"github.com/Checker-Finance/investec-adapter/pkg/utils"
)

// SessionCache shares sessions between adapter instances.
// LoadSession returns (nil, nil) on a miss.
type SessionCache interface {
	LoadSession(ctx context.Context, clientKey string) (*Session, error)
	SaveSession(ctx context.Context, clientKey string, s Session) error
	DeleteSession(ctx context.Context, clientKey string) error
}

// Option customises a Client.
type Option func(*Client)

// WithSessionReuse keeps a session until it nears expiry instead of
// authenticating before every call. cache may be nil.
func WithSessionReuse(cache SessionCache) Option {
	return func(c *Client) {
		c.reuse = true
		c.cache = cache
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to the Investec open API on behalf of one client.
type Client struct {
	logger *zap.Logger
	exec   *httpclient.Executor
	key    string
	cfg    ClientConfig
	reuse  bool
	cache  SessionCache
	now    func() time.Time

	mu      sync.Mutex
	session Session
}

// NewExecutor builds the HTTP executor shared by all Investec clients.
func NewExecutor(logger *zap.Logger, limiter *rate.Manager, timeout time.Duration, retryMax int) *httpclient.Executor {
	httpClient := &http.Client{Timeout: timeout}
	return httpclient.New(logger, limiter, httpClient, retryMax, "investec", func(status int, body []byte) error {
		var er ErrorResponse
		_ = json.Unmarshal(body, &er)

		msg := er.ErrorDescription
		if msg == "" {
			msg = er.Error
		}
		if msg == "" {
			msg = er.Message
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}

		logger.Warn("investec.client_error",
			zap.Int("status", status),
			zap.String("message", msg))
		return &APIError{StatusCode: status, Message: msg, Body: body}
	})
}

// NewClient creates a client for cfg. key identifies the client for rate limiting,
// session caching and logs.
func NewClient(logger *zap.Logger, exec *httpclient.Executor, key string, cfg ClientConfig, opts ...Option) *Client {
	c := &Client{
		logger: logger,
		exec:   exec,
		key:    key,
		cfg:    withDefaults(cfg),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the client's configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Get authenticates and then issues a bearer GET for rawURL. With session reuse,
// a 401 drops the reused session and the GET is retried once on a fresh token.
func (c *Client) Get(ctx context.Context, rawURL string) (*httpclient.Response, error) {
	s, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, rawURL, s)
	if !c.reuse || !isUnauthorized(err) {
		return resp, err
	}

	c.logger.Warn("investec.auth.session_rejected",
		zap.String("client", c.key),
		zap.String("token", utils.MaskSecret(s.AccessToken)))
	c.dropSession(ctx)

	if s, err = c.Authenticate(ctx); err != nil {
		return nil, err
	}
	return c.get(ctx, rawURL, s)
}

func (c *Client) get(ctx context.Context, rawURL string, s Session) (*httpclient.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("investec: build request: %w", err)
	}
	req.Header = BearerHeaders(s, c.cfg)

	return c.exec.Do(ctx, req, c.key)
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

func withDefaults(cfg ClientConfig) ClientConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + path
}
