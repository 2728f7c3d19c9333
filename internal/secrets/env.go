package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves keys from process environment variables. It is the
// bootstrap provider: other providers' configuration may only reference env.
type EnvProvider struct{}

// Scheme returns "env".
func (EnvProvider) Scheme() string { return "env" }

// Resolve reads the variable; unset or empty is an error so missing secrets
// fail startup instead of connecting with blank credentials.
func (EnvProvider) Resolve(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %s not set", key)
	}
	return v, nil
}
