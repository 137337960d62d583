package investec

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/httpclient"
)

// ConfigResolver resolves per-client Investec credentials. Invalidate drops
// any cached copy so the next Resolve refetches them.
type ConfigResolver interface {
	Resolve(ctx context.Context, clientID string) (*ClientConfig, error)
	DiscoverClients(ctx context.Context) ([]string, error)
	Invalidate(clientID string)
}

// Service serves many Investec clients, keeping one Client (and session) per client ID.
type Service struct {
	logger   *zap.Logger
	exec     *httpclient.Executor
	resolver ConfigResolver
	opts     []Option

	mu      sync.Mutex
	clients map[string]*Client
}

// NewService wires a multi-tenant service. opts are applied to every Client it creates.
func NewService(logger *zap.Logger, exec *httpclient.Executor, resolver ConfigResolver, opts ...Option) *Service {
	return &Service{
		logger:   logger,
		exec:     exec,
		resolver: resolver,
		opts:     opts,
		clients:  make(map[string]*Client),
	}
}

// Client returns the Client for clientID, rebuilding it when the resolved
// credentials changed since the last call.
func (s *Service) Client(ctx context.Context, clientID string) (*Client, error) {
	cfg, err := s.resolver.Resolve(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("resolve config for client %q: %w", clientID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[clientID]; ok && c.cfg == withDefaults(*cfg) {
		return c, nil
	}

	c := NewClient(s.logger, s.exec, clientID, *cfg, s.opts...)
	s.clients[clientID] = c
	s.logger.Info("investec.client_registered", zap.String("client", clientID))
	return c, nil
}

// DiscoverClients lists the client IDs with configured credentials.
func (s *Service) DiscoverClients(ctx context.Context) ([]string, error) {
	return s.resolver.DiscoverClients(ctx)
}

// IsKnownClient reports whether credentials resolve for clientID.
func (s *Service) IsKnownClient(ctx context.Context, clientID string) bool {
	if clientID == "" {
		return false
	}
	_, err := s.resolver.Resolve(ctx, clientID)
	return err == nil
}

// AccessBanking dispatches destination for clientID. Errors, including
// credential resolution failures, are returned inside the Result.
// Credentials refused by the identity server are forgotten, so a rotated
// secret is picked up on the next call.
func (s *Service) AccessBanking(ctx context.Context, clientID, destination string, p Params) Result {
	c, err := s.Client(ctx, clientID)
	if err != nil {
		return Result{Destination: Destination(destination), Err: err}
	}
	res := c.AccessBanking(ctx, destination, p)
	if CredentialsRejected(res.Err) {
		s.forget(clientID)
	}
	return res
}

func (s *Service) forget(clientID string) {
	s.resolver.Invalidate(clientID)

	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()

	s.logger.Warn("investec.credentials_rejected", zap.String("client", clientID))
}

// ListAccounts returns the client's accounts.
func (s *Service) ListAccounts(ctx context.Context, clientID string) ([]Account, error) {
	var resp AccountsResponse
	if err := s.AccessBanking(ctx, clientID, DestinationAccounts.String(), Params{}).Decode(&resp); err != nil {
		return nil, err
	}
	return resp.Data.Accounts, nil
}

// ListTransactions returns transactions for p.AccountID filtered by p's dates and type.
func (s *Service) ListTransactions(ctx context.Context, clientID string, p Params) ([]Transaction, error) {
	var resp TransactionsResponse
	if err := s.AccessBanking(ctx, clientID, DestinationAccountTransactions.String(), p).Decode(&resp); err != nil {
		return nil, err
	}
	return resp.Data.Transactions, nil
}

// GetBalance returns the balance of accountID.
func (s *Service) GetBalance(ctx context.Context, clientID, accountID string) (*Balance, error) {
	var resp BalanceResponse
	if err := s.AccessBanking(ctx, clientID, DestinationAccountBalance.String(), Params{AccountID: accountID}).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Data.AccountID == "" {
		resp.Data.AccountID = accountID
	}
	return &resp.Data, nil
}
