package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/pkg/model"
)

// HybridStore caches sessions and latest balances in Redis and keeps balance
// history in Postgres.
type HybridStore struct {
	redis      *redis.Client
	PG         *pgxpool.Pool
	logger     *zap.Logger
	sessionTTL time.Duration
	balanceTTL time.Duration
}

var (
	_ investec.SessionCache  = (*HybridStore)(nil)
	_ investec.SnapshotStore = (*HybridStore)(nil)
)

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Options configures NewHybrid. An empty PGURL runs Redis-only.
type Options struct {
	RedisAddr  string
	RedisDB    int
	RedisPass  string
	PGURL      string
	PG         PGPoolConfig
	SessionTTL time.Duration
	BalanceTTL time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store.
func NewHybrid(opts Options, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		DB:       opts.RedisDB,
		Password: opts.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if opts.PGURL != "" {
		cfg, err := pgxpool.ParseConfig(opts.PGURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if opts.PG.MaxConns > 0 {
			cfg.MaxConns = opts.PG.MaxConns
		}
		if opts.PG.MinConns > 0 {
			cfg.MinConns = opts.PG.MinConns
		}
		if opts.PG.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = opts.PG.MaxConnLifetime
		}
		if opts.PG.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = opts.PG.MaxConnIdleTime
		}
		if opts.PG.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = opts.PG.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return newHybrid(rdb, pgPool, logger, opts.SessionTTL, opts.BalanceTTL), nil
}

func newHybrid(rdb *redis.Client, pg *pgxpool.Pool, logger *zap.Logger, sessionTTL, balanceTTL time.Duration) *HybridStore {
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	if balanceTTL <= 0 {
		balanceTTL = 24 * time.Hour
	}
	return &HybridStore{redis: rdb, PG: pg, logger: logger, sessionTTL: sessionTTL, balanceTTL: balanceTTL}
}

func sessionKey(clientKey string) string {
	return "investec:session:" + clientKey
}

func balanceKey(clientID, venue, accountID string) string {
	return fmt.Sprintf("balance:%s:%s:%s", clientID, venue, accountID)
}

// LoadSession returns the shared session for clientKey, or nil when none is cached.
func (s *HybridStore) LoadSession(ctx context.Context, clientKey string) (*investec.Session, error) {
	var sess investec.Session
	err := s.GetJSON(ctx, sessionKey(clientKey), &sess)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

// SaveSession caches sess until it expires, capped at the configured session TTL.
func (s *HybridStore) SaveSession(ctx context.Context, clientKey string, sess investec.Session) error {
	ttl := s.sessionTTL
	if remaining := time.Until(sess.ExpiresAt()); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	if err := s.SetJSON(ctx, sessionKey(clientKey), sess, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes the shared session for clientKey. Deleting a missing key is not an error.
func (s *HybridStore) DeleteSession(ctx context.Context, clientKey string) error {
	if err := s.redis.Del(ctx, sessionKey(clientKey)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RecordBalanceSnapshot caches snap as the latest balance and appends it to
// ledger.balance_snapshot when Postgres is configured.
func (s *HybridStore) RecordBalanceSnapshot(ctx context.Context, snap model.BalanceSnapshot) error {
	if err := s.SetJSON(ctx, balanceKey(snap.ClientID, snap.Venue, snap.AccountID), snap, s.balanceTTL); err != nil {
		s.logger.Warn("store.redis.balance_cache_failed", zap.Error(err))
	}

	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO ledger.balance_snapshot (
			client_id, venue, account_id, currency,
			current_balance, available_balance, as_of
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snap.ClientID, snap.Venue, snap.AccountID, snap.Currency,
		snap.CurrentBalance, snap.AvailableBalance, snap.AsOf)
	if err != nil {
		s.logger.Error("store.pg.insert_snapshot_failed",
			zap.String("client", snap.ClientID),
			zap.String("account", snap.AccountID),
			zap.Error(err))
		return fmt.Errorf("insert balance snapshot: %w", err)
	}
	return nil
}

// GetBalance returns the cached latest balance, or nil when none is cached.
func (s *HybridStore) GetBalance(ctx context.Context, clientID, venue, accountID string) (*model.BalanceSnapshot, error) {
	var snap model.BalanceSnapshot
	err := s.GetJSON(ctx, balanceKey(clientID, venue, accountID), &snap)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetClientBalances returns the latest snapshot per account from Postgres.
func (s *HybridStore) GetClientBalances(ctx context.Context, clientID string) ([]model.BalanceSnapshot, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.PG.Query(ctx, `
		SELECT DISTINCT ON (account_id)
			client_id, venue, account_id, currency, current_balance, available_balance, as_of
		FROM ledger.balance_snapshot
		WHERE client_id = $1
		ORDER BY account_id, as_of DESC;
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.BalanceSnapshot
	for rows.Next() {
		var b model.BalanceSnapshot
		if err := rows.Scan(&b.ClientID, &b.Venue, &b.AccountID, &b.Currency,
			&b.CurrentBalance, &b.AvailableBalance, &b.AsOf); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
