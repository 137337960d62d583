package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/investec-adapter/pkg/secrets"
)

// AWSResolver resolves per-client configuration of type T from AWS Secrets Manager
// and keeps a local TTL copy.
//
// Secret naming convention: {env}/{clientID}/{venue}
type AWSResolver[T any] struct {
	logger   *zap.Logger
	env      string
	venue    string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
}

// NewAWSResolver constructs a multi-tenant config resolver.
func NewAWSResolver[T any](
	logger *zap.Logger,
	env string,
	venue string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
) *AWSResolver[T] {
	return &AWSResolver[T]{
		logger:   logger,
		env:      env,
		venue:    venue,
		provider: provider,
		cache:    cache,
	}
}

func (r *AWSResolver[T]) cacheKey(clientID string) string {
	return strings.ToLower(clientID + "|" + r.venue)
}

func (r *AWSResolver[T]) secretName(clientID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, clientID, r.venue))
}

// Resolve returns the cached T for clientID, fetching and parsing the secret on a miss.
func (r *AWSResolver[T]) Resolve(ctx context.Context, clientID string, parse func(map[string]string) (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(clientID) == "" {
		return zero, fmt.Errorf("resolve client config: empty client id")
	}

	key := r.cacheKey(clientID)
	if cfg, ok := r.cache.Get(key); ok {
		return cfg, nil
	}

	name := r.secretName(clientID)
	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return zero, fmt.Errorf("resolve client config for %q: %w", clientID, err)
	}

	cfg, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, cfg)
	r.logger.Info("aws.client_config_resolved",
		zap.String("client", clientID),
		zap.String("venue", r.venue))
	return cfg, nil
}

// Invalidate drops the cached config for clientID so the next Resolve refetches it.
func (r *AWSResolver[T]) Invalidate(clientID string) {
	r.cache.Bust(r.cacheKey(clientID))
	r.logger.Info("aws.client_config_invalidated",
		zap.String("client", clientID),
		zap.String("secret", r.secretName(clientID)))
}

// DiscoverClients lists client IDs that have a {env}/{clientID}/{venue} secret.
func (r *AWSResolver[T]) DiscoverClients(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(r.env + "/")
	suffix := "/" + r.venue

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover clients: %w", err)
	}

	var clients []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if id != "" && !strings.Contains(id, "/") {
			clients = append(clients, id)
		}
	}

	r.logger.Info("aws.clients_discovered",
		zap.Int("count", len(clients)),
		zap.Strings("clients", clients))
	return clients, nil
}
