package secrets

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"datalens/internal/logging"
)

// Provider resolves keys for one scheme (env, infisical, ...).
type Provider interface {
	// Scheme returns the tag this provider answers for.
	Scheme() string
	// Resolve returns the plaintext for key. Errors must not embed the value.
	Resolve(ctx context.Context, key string) (string, error)
}

// refPattern matches ${scheme:key}. Keys may contain anything but '}'.
var refPattern = regexp.MustCompile(`^\$\{([a-zA-Z0-9_-]+):([^}]+)\}$`)

// IsRef reports whether s has the ${scheme:key} shape.
func IsRef(s string) bool {
	return refPattern.MatchString(s)
}

// ParseRef splits a reference into scheme and key.
func ParseRef(s string) (scheme, key string, err error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("not a secret reference: %q", truncateForError(s))
	}
	return m[1], m[2], nil
}

func truncateForError(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// Resolver dispatches references to registered providers. Resolution is
// two-phase: provider configurations may themselves contain references,
// bootstrapped through the env provider only.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver builds a resolver over the given providers. Later providers
// with a duplicate scheme replace earlier ones.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Resolver) Register(p Provider) {
	r.providers[p.Scheme()] = p
}

// Resolve resolves one ${scheme:key} reference to an opaque Secret.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Secret, error) {
	scheme, key, err := ParseRef(ref)
	if err != nil {
		return Secret{}, err
	}
	p, ok := r.providers[scheme]
	if !ok {
		return Secret{}, fmt.Errorf("no secret provider registered for scheme %q", scheme)
	}
	value, err := p.Resolve(ctx, key)
	if err != nil {
		return Secret{}, fmt.Errorf("resolving %s:%s: %w", scheme, key, err)
	}
	logging.For(ctx, logging.CategorySecrets).Debugw("secret resolved", "scheme", scheme, "key", key)
	return NewSecret(value), nil
}

// ResolveString returns s unchanged when it is not a reference, otherwise the
// resolved plaintext. Used where configuration fields accept either literals
// or references.
func (r *Resolver) ResolveString(ctx context.Context, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}
	sec, err := r.Resolve(ctx, s)
	if err != nil {
		return "", err
	}
	return sec.Reveal(), nil
}

// ResolveMap resolves every reference-shaped string value of in, returning a
// new map. Non-string and literal values pass through. Keys whose value was
// a reference are reported in resolvedKeys so callers can mark them opaque.
func (r *Resolver) ResolveMap(ctx context.Context, in map[string]any) (map[string]any, []string, error) {
	out := make(map[string]any, len(in))
	var resolvedKeys []string
	for k, v := range in {
		s, isStr := v.(string)
		if !isStr || !IsRef(s) {
			out[k] = v
			continue
		}
		sec, err := r.Resolve(ctx, s)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = sec.Reveal()
		resolvedKeys = append(resolvedKeys, k)
	}
	return out, resolvedKeys, nil
}

// Schemes lists the registered provider schemes, for diagnostics.
func (r *Resolver) Schemes() []string {
	out := make([]string, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	return out
}

// Bootstrap resolves the provider-level configuration values in cfg using the
// env scheme only, then returns the fully-populated map. A non-env reference
// inside provider configuration is a wiring error.
func Bootstrap(ctx context.Context, env Provider, cfg map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if !IsRef(v) {
			out[k] = v
			continue
		}
		scheme, key, err := ParseRef(v)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(scheme, env.Scheme()) {
			return nil, fmt.Errorf("provider config %q: only %s references allowed during bootstrap, got %q",
				k, env.Scheme(), scheme)
		}
		value, err := env.Resolve(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("provider config %q: %w", k, err)
		}
		out[k] = value
	}
	return out, nil
}
