package investec

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/metrics"
	"github.com/Checker-Finance/investec-adapter/pkg/model"
)

// Venue tags every balance snapshot the poller records.
const Venue = "investec"

// BankingService is what the poller needs from Service.
type BankingService interface {
	DiscoverClients(ctx context.Context) ([]string, error)
	ListAccounts(ctx context.Context, clientID string) ([]Account, error)
	GetBalance(ctx context.Context, clientID, accountID string) (*Balance, error)
}

// SnapshotStore persists balance snapshots.
type SnapshotStore interface {
	RecordBalanceSnapshot(ctx context.Context, snap model.BalanceSnapshot) error
}

// BalancePublisher emits balance events.
type BalancePublisher interface {
	PublishBalanceUpdated(ctx context.Context, snap model.BalanceSnapshot) error
}

// Poller snapshots every account balance of every configured client on a fixed interval.
type Poller struct {
	logger    *zap.Logger
	service   BankingService
	store     SnapshotStore
	publisher BalancePublisher
	interval  time.Duration
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller creates a balance poller. store and pub may be nil.
func NewPoller(logger *zap.Logger, svc BankingService, store SnapshotStore, pub BalancePublisher, interval time.Duration) *Poller {
	return &Poller{
		logger:    logger,
		service:   svc,
		store:     store,
		publisher: pub,
		interval:  interval,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start polls immediately and then every interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("investec.poller.started", zap.Duration("interval", p.interval))
	p.PollOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("investec.poller.stopped")
			return
		case <-ctx.Done():
			p.logger.Info("investec.poller.stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// PollOnce runs one cycle and returns the number of snapshots taken.
// Failures for one client or account are logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) int {
	clients, err := p.service.DiscoverClients(ctx)
	if err != nil {
		metrics.IncError("poller", "discover_clients")
		p.logger.Warn("investec.poller.discover_failed", zap.Error(err))
		return 0
	}

	taken := 0
	for _, clientID := range clients {
		if ctx.Err() != nil {
			return taken
		}
		taken += p.pollClient(ctx, clientID)
	}

	metrics.MarkPoll(p.now())
	p.logger.Debug("investec.poller.cycle_complete",
		zap.Int("clients", len(clients)),
		zap.Int("snapshots", taken))
	return taken
}

func (p *Poller) pollClient(ctx context.Context, clientID string) int {
	accounts, err := p.service.ListAccounts(ctx, clientID)
	if err != nil {
		metrics.IncError("poller", "list_accounts")
		p.logger.Warn("investec.poller.accounts_failed",
			zap.String("client", clientID),
			zap.Error(err))
		return 0
	}

	taken := 0
	for _, acct := range accounts {
		bal, err := p.service.GetBalance(ctx, clientID, acct.AccountID)
		if err != nil {
			metrics.IncError("poller", "get_balance")
			p.logger.Warn("investec.poller.balance_failed",
				zap.String("client", clientID),
				zap.String("account", acct.AccountID),
				zap.Error(err))
			continue
		}

		snap := ToSnapshot(clientID, *bal, p.now())
		if err := p.record(ctx, snap); err != nil {
			p.logger.Warn("investec.poller.record_failed",
				zap.String("client", clientID),
				zap.String("account", acct.AccountID),
				zap.Error(err))
			continue
		}
		taken++
	}
	return taken
}

func (p *Poller) record(ctx context.Context, snap model.BalanceSnapshot) error {
	var errs []error
	if p.store != nil {
		if err := p.store.RecordBalanceSnapshot(ctx, snap); err != nil {
			metrics.IncError("poller", "store")
			errs = append(errs, err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishBalanceUpdated(ctx, snap); err != nil {
			metrics.IncError("poller", "publish")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToSnapshot converts an Investec balance to the canonical snapshot.
func ToSnapshot(clientID string, b Balance, asOf time.Time) model.BalanceSnapshot {
	return model.BalanceSnapshot{
		ClientID:         clientID,
		Venue:            Venue,
		AccountID:        b.AccountID,
		Currency:         b.Currency,
		CurrentBalance:   b.CurrentBalance,
		AvailableBalance: b.AvailableBalance,
		AsOf:             asOf.UTC(),
	}
}
