package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/rate"
)

func newExec(retryMax int, client *http.Client) *Executor {
	return New(zap.NewNop(), nil, client, retryMax, "test", nil)
}

// countingHandler fails the first failCount calls with failStatus, then returns 200 with body.
func countingHandler(failCount int, failStatus int, successBody []byte) (http.Handler, *atomic.Int32) {
	var n atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if int(n.Add(1)) <= failCount {
			w.WriteHeader(failStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(successBody)
	}), &n
}

// ─── Success ──────────────────────────────────────────────────────────────────

func TestDoJSON_SuccessFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)

	var out map[string]string
	require.NoError(t, newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", &out))
	assert.Equal(t, "ok", out["result"])
}

func TestDo_ReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Test", "yes")
		_, _ = w.Write([]byte(`{"data":{"accounts":[]}}`))
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	resp, err := newExec(0, srv.Client()).Do(WithOperation(context.Background(), "accounts"), req, "k")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Test"))
	assert.JSONEq(t, `{"data":{"accounts":[]}}`, string(resp.Body))
}

// ─── Retries ──────────────────────────────────────────────────────────────────

func TestDoJSON_NoRetryByDefault(t *testing.T) {
	h, count := countingHandler(1, http.StatusServiceUnavailable, []byte(`{}`))
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	err := newExec(0, srv.Client()).DoJSON(context.Background(), req, "k", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error: 503")
	assert.EqualValues(t, 1, count.Load(), "retryMax=0 means exactly one attempt")
}

func TestDoJSON_Retries5xxThenSucceeds(t *testing.T) {
	h, count := countingHandler(1, http.StatusServiceUnavailable, []byte(`{"result":"ok"}`))
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)

	var out map[string]string
	require.NoError(t, newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", &out))
	assert.EqualValues(t, 2, count.Load())
	assert.Equal(t, "ok", out["result"])
}

func TestDoJSON_PostBodyResentOnRetry(t *testing.T) {
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received = append(received, string(b))
		if len(received) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL,
		bytes.NewReader([]byte("grant_type=client_credentials")))

	require.NoError(t, newExec(1, srv.Client()).DoJSON(context.Background(), req, "k", nil))
	require.Len(t, received, 2)
	assert.Equal(t, "grant_type=client_credentials", received[0])
	assert.Equal(t, "grant_type=client_credentials", received[1], "retry must re-send the full body")
}

func TestDoJSON_ExhaustAllRetries(t *testing.T) {
	h, count := countingHandler(10, http.StatusInternalServerError, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	err := newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.EqualValues(t, 3, count.Load())
}

func TestDo_RetryStopsOnCancelledContext(t *testing.T) {
	h, count := countingHandler(10, http.StatusInternalServerError, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	cancel()

	_, err := newExec(3, srv.Client()).Do(ctx, req, "k")
	require.Error(t, err)
	assert.LessOrEqual(t, count.Load(), int32(1))
}

// ─── 4xx ──────────────────────────────────────────────────────────────────────

func TestDoJSON_4xxNotRetried(t *testing.T) {
	h, count := countingHandler(10, http.StatusBadRequest, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.Error(t, newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", nil))
	assert.EqualValues(t, 1, count.Load(), "4xx must not be retried")
}

func TestDoJSON_CustomErrorHandlerCalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 0, "test", func(status int, body []byte) error {
		return fmt.Errorf("venue %d: %s", status, body)
	})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, nil)

	err := exec.DoJSON(context.Background(), req, "k", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid_client")
}

// ─── Decode / transport ───────────────────────────────────────────────────────

func TestDoJSON_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not-json"))
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)

	var out map[string]string
	err := newExec(0, srv.Client()).DoJSON(context.Background(), req, "k", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode failed")
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	_, err := newExec(0, &http.Client{Timeout: time.Second}).Do(context.Background(), req, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test request failed")
}

func TestDo_RateLimiterContextCancelled(t *testing.T) {
	limiter := rate.NewManager(rate.Config{RequestsPerSecond: 1, Burst: 1})
	require.True(t, limiter.Limiter("k").Allow())

	exec := New(zap.NewNop(), limiter, http.DefaultClient, 0, "test", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	_, err := exec.Do(ctx, req, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestWithOperation(t *testing.T) {
	assert.Equal(t, "unknown", operation(context.Background()))
	assert.Equal(t, "accounts", operation(WithOperation(context.Background(), "accounts")))
}
