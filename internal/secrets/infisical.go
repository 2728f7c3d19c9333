package secrets

import (
	"context"
	"fmt"
	"sync"

	infisical "github.com/infisical/go-sdk"
)

// InfisicalConfig holds the provider's own configuration. Field values may be
// ${env:...} references; run them through Bootstrap before construction.
type InfisicalConfig struct {
	SiteURL      string `yaml:"site_url" json:"site_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	ProjectID    string `yaml:"project_id" json:"project_id"`
	Environment  string `yaml:"environment" json:"environment"`
	SecretPath   string `yaml:"secret_path" json:"secret_path"`
}

// InfisicalProvider resolves keys from an Infisical project environment.
// Login happens lazily on first resolve and is reused afterwards.
type InfisicalProvider struct {
	cfg InfisicalConfig

	mu     sync.Mutex
	client infisical.InfisicalClientInterface
}

// NewInfisicalProvider builds the provider. Credentials must already be
// literal values (bootstrapped), never unresolved references.
func NewInfisicalProvider(cfg InfisicalConfig) *InfisicalProvider {
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://app.infisical.com"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "/"
	}
	return &InfisicalProvider{cfg: cfg}
}

// Scheme returns "infisical".
func (p *InfisicalProvider) Scheme() string { return "infisical" }

func (p *InfisicalProvider) ensureClient(ctx context.Context) (infisical.InfisicalClientInterface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          p.cfg.SiteURL,
		AutoTokenRefresh: true,
	})
	if _, err := client.Auth().UniversalAuthLogin(p.cfg.ClientID, p.cfg.ClientSecret); err != nil {
		return nil, fmt.Errorf("infisical authentication failed: %w", err)
	}
	p.client = client
	return client, nil
}

// Resolve fetches one secret by key from the configured project environment.
func (p *InfisicalProvider) Resolve(ctx context.Context, key string) (string, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   key,
		Environment: p.cfg.Environment,
		ProjectID:   p.cfg.ProjectID,
		SecretPath:  p.cfg.SecretPath,
	})
	if err != nil {
		return "", fmt.Errorf("infisical secret %q not retrievable: %w", key, err)
	}
	return secret.SecretValue, nil
}
