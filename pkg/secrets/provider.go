package secrets

import "context"

// Provider is the read side of a secrets manager.
type Provider interface {
	// GetSecret returns the secret stored under name, decoded as a flat JSON object.
	GetSecret(ctx context.Context, name string) (map[string]string, error)

	// ListSecrets returns every secret name that matches prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
