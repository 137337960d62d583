package investec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

const (
	testToken  = "dGVzdC1pZDp0ZXN0LXNlY3JldA=="
	testBearer = "test-bearer-token"
)

// writeJSON encodes v as JSON into w.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

// mockInvestec is an httptest server with canned Investec responses.
type mockInvestec struct {
	*httptest.Server

	tokenCalls atomic.Int32
	// tokenBody overrides the token response when non-empty.
	tokenBody   string
	tokenStatus int
	// issued hands out these access tokens in order, repeating the last.
	issued []string
	// acceptBearer, when set, rejects banking calls carrying any other token.
	acceptBearer string

	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func newMockInvestec(t *testing.T) *mockInvestec {
	t.Helper()
	m := &mockInvestec{tokenStatus: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

func (m *mockInvestec) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, r.Clone(context.Background()))
	m.bodies = append(m.bodies, string(body))
	m.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == TokenPath:
		m.tokenCalls.Add(1)
		if m.tokenStatus != http.StatusOK {
			w.WriteHeader(m.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		if m.tokenBody != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(m.tokenBody))
			return
		}
		writeJSON(w, TokenResponse{AccessToken: m.nextToken(), TokenType: "Bearer", ExpiresIn: 1799, Scope: "accounts"})

	case r.Method == http.MethodGet && m.acceptBearer != "" && r.Header.Get("Authorization") != "Bearer "+m.acceptBearer:
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token revoked"}`))

	case r.Method == http.MethodGet && path == "/za/pb/v1/accounts":
		writeJSON(w, map[string]any{
			"data": map[string]any{"accounts": []map[string]any{
				{"accountId": "acc-1", "accountNumber": "10010206147", "accountName": "Mr J Soap", "productName": "Private Bank Account", "kycCompliant": true},
				{"accountId": "acc-2", "accountNumber": "10010206148", "accountName": "Mr J Soap", "productName": "Savings"},
			}},
			"links": map[string]any{"self": m.URL + path},
			"meta":  map[string]any{"totalPages": 1},
		})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/transactions"):
		writeJSON(w, map[string]any{
			"data": map[string]any{"transactions": []map[string]any{
				{"accountId": "acc-1", "type": "DEBIT", "transactionType": "CardPurchases", "status": "POSTED",
					"description": "COFFEE", "postingDate": "2026-01-05", "amount": 45.5, "runningBalance": 1954.5},
			}},
			"meta": map[string]any{"totalPages": 1},
		})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/balance"):
		if strings.Contains(path, "/missing/") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"account not found"}`))
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/za/pb/v1/accounts/"), "/balance")
		writeJSON(w, map[string]any{
			"data": map[string]any{
				"accountId": id, "currentBalance": 2000.25, "availableBalance": 1954.5,
				"budgetBalance": 0, "straightBalance": 0, "cashBalance": 2000.25, "currency": "ZAR",
			},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *mockInvestec) nextToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.issued) == 0 {
		return testBearer
	}
	tok := m.issued[0]
	if len(m.issued) > 1 {
		m.issued = m.issued[1:]
	}
	return tok
}

// lastRequest returns the most recent request matching method.
func (m *mockInvestec) lastRequest(method string) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].Method == method {
			return m.requests[i]
		}
	}
	return nil
}

func (m *mockInvestec) lastBody(method string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].Method == method {
			return m.bodies[i]
		}
	}
	return ""
}

func testConfig(baseURL string) ClientConfig {
	return ClientConfig{Token: testToken, APIKey: "test-api-key", BaseURL: baseURL}
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	logger := zap.NewNop()
	exec := NewExecutor(logger, nil, 0, 0)
	return NewClient(logger, exec, "client-1", testConfig(baseURL), opts...)
}

// mockResolver implements ConfigResolver.
type mockResolver struct {
	mu          sync.Mutex
	cfgs        map[string]*ClientConfig
	clients     []string
	err         error
	invalidated []string
}

func (m *mockResolver) Resolve(_ context.Context, clientID string) (*ClientConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cfg, ok := m.cfgs[clientID]
	if !ok {
		return nil, errNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *mockResolver) DiscoverClients(context.Context) ([]string, error) {
	return m.clients, m.err
}

func (m *mockResolver) Invalidate(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, clientID)
}

var errNotFound = &APIError{StatusCode: http.StatusNotFound, Message: "no such client"}

// memorySessionCache implements SessionCache in memory.
type memorySessionCache struct {
	mu       sync.Mutex
	sessions map[string]Session
	saves    int
	deletes  int
	err      error
}

func newMemorySessionCache() *memorySessionCache {
	return &memorySessionCache{sessions: make(map[string]Session)}
}

func (c *memorySessionCache) LoadSession(_ context.Context, key string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s, ok := c.sessions[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *memorySessionCache) SaveSession(_ context.Context, key string, s Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.sessions[key] = s
	return nil
}

func (c *memorySessionCache) DeleteSession(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.sessions, key)
	return nil
}
