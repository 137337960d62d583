package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/pkg/config"
	pkgsecrets "github.com/Checker-Finance/investec-adapter/pkg/secrets"
	"github.com/Checker-Finance/investec-adapter/pkg/utils"
)

// InvestecResolver resolves per-client Investec credentials from AWS Secrets Manager.
//
// Secret naming convention: {env}/{clientID}/investec
// Secret JSON format:       {"token": "...", "api_key": "...", "base_url": "https://openapi.investec.com"}
// or, instead of token:     {"client_id": "...", "client_secret": "..."}
type InvestecResolver struct {
	logger *zap.Logger
	inner  *AWSResolver[investec.ClientConfig]
}

// NewInvestecResolver constructs the Investec config resolver.
func NewInvestecResolver(
	logger *zap.Logger,
	cfg *config.Config,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[investec.ClientConfig],
) *InvestecResolver {
	return &InvestecResolver{logger: logger, inner: NewAWSResolver(logger, cfg.Env, cfg.Venue, provider, cache)}
}

// Resolve fetches or caches the ClientConfig for clientID.
func (r *InvestecResolver) Resolve(ctx context.Context, clientID string) (*investec.ClientConfig, error) {
	cfg, err := r.inner.Resolve(ctx, clientID, parseInvestecConfig)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("investec.credentials_resolved",
		zap.String("client", clientID),
		zap.String("basic", utils.MaskSecret(cfg.BasicToken())),
		zap.String("api_key", utils.MaskSecret(cfg.APIKey)))
	return &cfg, nil
}

// DiscoverClients lists client IDs with Investec secrets configured.
func (r *InvestecResolver) DiscoverClients(ctx context.Context) ([]string, error) {
	return r.inner.DiscoverClients(ctx)
}

// Invalidate forgets the cached credentials of clientID. The Service calls it
// when the identity server rejects them.
func (r *InvestecResolver) Invalidate(clientID string) {
	r.inner.Invalidate(clientID)
}

func parseInvestecConfig(m map[string]string) (investec.ClientConfig, error) {
	cfg := investec.ClientConfig{
		Token:        m["token"],
		ClientID:     m["client_id"],
		ClientSecret: m["client_secret"],
		APIKey:       m["api_key"],
		BaseURL:      m["base_url"],
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = investec.DefaultBaseURL
	}
	if cfg.Token == "" && (cfg.ClientID == "") != (cfg.ClientSecret == "") {
		return investec.ClientConfig{}, fmt.Errorf("client_id and client_secret must be set together")
	}
	if err := cfg.Validate(); err != nil {
		return investec.ClientConfig{}, err
	}
	return cfg, nil
}

// StaticResolver serves a single client from process configuration.
type StaticResolver struct {
	clientID string
	cfg      investec.ClientConfig
}

// NewStaticResolver builds a single-tenant resolver from the INVESTEC_* settings.
func NewStaticResolver(clientID string, cfg *config.Config) (*StaticResolver, error) {
	cc := investec.ClientConfig{
		Token:        cfg.Token,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
	}
	if cc.BaseURL == "" {
		cc.BaseURL = investec.DefaultBaseURL
	}
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("static investec config: %w", err)
	}
	return &StaticResolver{clientID: clientID, cfg: cc}, nil
}

func (r *StaticResolver) Resolve(_ context.Context, clientID string) (*investec.ClientConfig, error) {
	if clientID != r.clientID {
		return nil, fmt.Errorf("unknown client %q", clientID)
	}
	cfg := r.cfg
	return &cfg, nil
}

func (r *StaticResolver) DiscoverClients(context.Context) ([]string, error) {
	return []string{r.clientID}, nil
}

// Invalidate is a no-op: static credentials only change on restart.
func (r *StaticResolver) Invalidate(string) {}
