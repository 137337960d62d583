package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/metrics"
	"github.com/Checker-Finance/investec-adapter/internal/rate"
)

type operationKey struct{}

// WithOperation labels requests made with ctx for logs and metrics.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return "unknown"
}

// Backoff returns the pause before retry attempt+1.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// ErrorHandler turns a 4xx response into a venue error.
type ErrorHandler func(status int, body []byte) error

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor sends requests through the per-client rate limiter.
// Retries on transport errors and 5xx happen only when retryMax > 0.
type Executor struct {
	logger   *zap.Logger
	limiter  *rate.Manager
	http     *http.Client
	retryMax int
	venue    string
	onError  ErrorHandler
}

// New creates an Executor. limiter and onError may be nil.
func New(logger *zap.Logger, limiter *rate.Manager, httpClient *http.Client, retryMax int, venue string, onError ErrorHandler) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if retryMax < 0 {
		retryMax = 0
	}
	return &Executor{
		logger:   logger,
		limiter:  limiter,
		http:     httpClient,
		retryMax: retryMax,
		venue:    venue,
		onError:  onError,
	}
}

// Do executes req and returns the read response. 4xx responses are converted by the
// error handler; 5xx and transport errors are retried up to retryMax times.
func (e *Executor) Do(ctx context.Context, req *http.Request, key string) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, key); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	op := operation(ctx)
	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, Backoff(attempt-1)); err != nil {
				return nil, err
			}
			fresh, err := rewind(req)
			if err != nil {
				return nil, err
			}
			req = fresh
		}

		start := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			metrics.ObserveRequest(op, req.Method, 0, start)
			e.logger.Warn(e.venue+".http_failed",
				zap.String("operation", op),
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		metrics.ObserveRequest(op, req.Method, resp.StatusCode, start)
		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			e.logger.Warn(e.venue+".server_error",
				zap.String("operation", op),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.Duration("latency", time.Since(start)))
			lastErr = fmt.Errorf("%s server error: %d", e.venue, resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			if e.onError != nil {
				return nil, e.onError(resp.StatusCode, body)
			}
			return nil, fmt.Errorf("%s returned %d", e.venue, resp.StatusCode)
		}

		e.logger.Debug(e.venue+".http_success",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))

		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	if e.retryMax == 0 {
		return nil, fmt.Errorf("%s request failed: %w", e.venue, lastErr)
	}
	return nil, fmt.Errorf("%s request failed after %d retries: %w", e.venue, e.retryMax, lastErr)
}

// DoJSON executes req and decodes a non-empty body into out.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, key string, out any) error {
	resp, err := e.Do(ctx, req, key)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		e.logger.Warn(e.venue+".decode_failed",
			zap.String("operation", operation(ctx)),
			zap.Error(err))
		return fmt.Errorf("decode failed: %w", err)
	}
	return nil
}

// rewind clones req with a fresh body so a retry re-sends the full payload.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
