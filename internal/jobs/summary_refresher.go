package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/metrics"
)

// SubjectSummaryRefreshed announces a completed balance summary rebuild.
const SubjectSummaryRefreshed = "evt.balance.summary.refreshed.v1"

// DBExecutor is the subset of pgxpool.Pool the refresher needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EventPublisher sends plain JSON events.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// SummaryRefresher rebuilds the per-account balance summary from
// ledger.balance_snapshot on an interval and announces each rebuild on NATS.
type SummaryRefresher struct {
	logger    *zap.Logger
	db        DBExecutor
	publisher EventPublisher
	venue     string
	interval  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSummaryRefresher constructs the job. publisher may be nil.
func NewSummaryRefresher(logger *zap.Logger, db DBExecutor, pub EventPublisher, venue string, interval time.Duration) *SummaryRefresher {
	return &SummaryRefresher{
		logger:    logger,
		db:        db,
		publisher: pub,
		venue:     venue,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs RefreshOnce every interval until Stop or ctx is done.
func (r *SummaryRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("summary_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Error("summary_refresher.refresh_failed", zap.Error(err))
			}
		case <-r.stopCh:
			r.logger.Info("summary_refresher.stopped")
			return
		case <-ctx.Done():
			r.logger.Info("summary_refresher.stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (r *SummaryRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RefreshOnce rebuilds the materialized summary for the venue. A failed
// announcement is logged but does not fail the refresh.
func (r *SummaryRefresher) RefreshOnce(ctx context.Context) error {
	start := time.Now()

	tag, err := r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY ledger.balance_summary`)
	if err != nil {
		metrics.IncError("summary_refresher", "refresh")
		return fmt.Errorf("refresh balance summary: %w", err)
	}

	elapsed := time.Since(start)
	if r.publisher != nil {
		event := map[string]any{
			"event":       SubjectSummaryRefreshed,
			"venue":       r.venue,
			"timestamp":   time.Now().UTC(),
			"duration_ms": elapsed.Milliseconds(),
		}
		if err := r.publisher.Publish(ctx, SubjectSummaryRefreshed, event); err != nil {
			r.logger.Warn("summary_refresher.nats_publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("summary_refresher.success",
		zap.String("command", tag.String()),
		zap.Duration("duration", elapsed))
	return nil
}
