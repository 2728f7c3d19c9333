package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"datalens/internal/logging"
	"datalens/internal/secrets"
	"datalens/internal/types"
)

// Constructor builds a concrete adapter from resolved connection arguments.
// Connection secrets have already been resolved; values that came from
// references are listed in secretKeys so constructors can wrap them opaquely.
type Constructor func(datasourceID string, connArgs map[string]any, secretKeys []string) (Adapter, error)

var (
	constructorsMu sync.RWMutex
	constructors   = make(map[string]Constructor)
)

// RegisterConstructor installs a constructor for an engine tag. Concrete
// adapter packages call this from init().
func RegisterConstructor(engineType string, ctor Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[engineType] = ctor
}

// DatasourceConfig is the declarative per-datasource configuration.
type DatasourceConfig struct {
	ID         string         `yaml:"id" json:"id"`
	Connection map[string]any `yaml:"connection" json:"connection"` // must contain "type"
	Options    struct {
		RowLimit           int   `yaml:"row_limit" json:"row_limit"`
		MaxBytes           int64 `yaml:"max_bytes" json:"max_bytes"`
		StatementTimeoutMS int   `yaml:"statement_timeout_ms" json:"statement_timeout_ms"`
	} `yaml:"options" json:"options"`
}

// Registry eagerly constructs one adapter instance per configured datasource
// at startup and holds it for its lifetime. Adapters are never reconstructed
// per request.
type Registry struct {
	adapters map[string]Adapter
	profiles map[string]Profile
}

// DefaultRowLimit and friends apply when a datasource omits its ceilings.
const (
	DefaultRowLimit           = 10000
	DefaultMaxBytes           = 10 << 20 // 10 MiB
	DefaultStatementTimeoutMS = 30000
)

// NewRegistry resolves secrets, constructs and connects every adapter.
// Unknown engine tags and secret-resolution failures fail startup.
func NewRegistry(ctx context.Context, configs []DatasourceConfig, resolver *secrets.Resolver) (*Registry, error) {
	log := logging.For(ctx, logging.CategoryAdapter)
	r := &Registry{
		adapters: make(map[string]Adapter, len(configs)),
		profiles: make(map[string]Profile, len(configs)),
	}

	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("datasource with empty id")
		}
		if _, dup := r.adapters[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate datasource id %q", cfg.ID)
		}
		engineType, _ := cfg.Connection["type"].(string)
		if engineType == "" {
			return nil, fmt.Errorf("datasource %q: connection.type missing", cfg.ID)
		}

		constructorsMu.RLock()
		ctor, ok := constructors[engineType]
		constructorsMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("datasource %q: unknown engine type %q", cfg.ID, engineType)
		}

		connArgs, secretKeys, err := resolver.ResolveMap(ctx, cfg.Connection)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: %w", cfg.ID, err)
		}

		a, err := ctor(cfg.ID, connArgs, secretKeys)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: constructing adapter: %w", cfg.ID, err)
		}
		if err := a.Connect(ctx); err != nil {
			return nil, fmt.Errorf("datasource %q: connect: %w", cfg.ID, err)
		}

		profile := Profile{
			DatasourceID:       cfg.ID,
			EngineType:         engineType,
			RowLimit:           cfg.Options.RowLimit,
			MaxBytes:           cfg.Options.MaxBytes,
			StatementTimeoutMS: cfg.Options.StatementTimeoutMS,
		}
		if profile.RowLimit <= 0 {
			profile.RowLimit = DefaultRowLimit
		}
		if profile.MaxBytes <= 0 {
			profile.MaxBytes = DefaultMaxBytes
		}
		if profile.StatementTimeoutMS <= 0 {
			profile.StatementTimeoutMS = DefaultStatementTimeoutMS
		}

		r.adapters[cfg.ID] = a
		r.profiles[cfg.ID] = profile
		log.Infow("datasource registered",
			"datasource_id", cfg.ID,
			"engine", engineType,
			"capabilities", a.Capabilities().List())
	}
	return r, nil
}

// NewRegistryFromAdapters wires pre-built adapters; used by tests and
// embedded deployments.
func NewRegistryFromAdapters(adapters map[string]Adapter, profiles map[string]Profile) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		profiles: make(map[string]Profile, len(profiles)),
	}
	for id, a := range adapters {
		r.adapters[id] = a
		p, ok := profiles[id]
		if !ok {
			p = Profile{DatasourceID: id, RowLimit: DefaultRowLimit,
				MaxBytes: DefaultMaxBytes, StatementTimeoutMS: DefaultStatementTimeoutMS}
		}
		r.profiles[id] = p
	}
	return r
}

// Get returns the adapter for a datasource.
func (r *Registry) Get(datasourceID string) (Adapter, error) {
	a, ok := r.adapters[datasourceID]
	if !ok {
		return nil, fmt.Errorf("datasource %q not registered", datasourceID)
	}
	return a, nil
}

// Profile returns the safeguard profile for a datasource.
func (r *Registry) Profile(datasourceID string) (Profile, error) {
	p, ok := r.profiles[datasourceID]
	if !ok {
		return Profile{}, fmt.Errorf("datasource %q not registered", datasourceID)
	}
	return p, nil
}

// Capabilities returns the capability set for a datasource, or an empty set
// for unknown ids.
func (r *Registry) Capabilities(datasourceID string) types.CapabilitySet {
	a, ok := r.adapters[datasourceID]
	if !ok {
		return types.CapabilitySet{}
	}
	return a.Capabilities()
}

// IDs returns the registered datasource ids, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GuardedExecute enforces the plan-type contract before touching the adapter
// and converts panics into failure frames, so Execute never raises across
// this boundary.
func GuardedExecute(ctx context.Context, a Adapter, req types.AdapterRequest) (frame types.ResultFrame) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.For(ctx, logging.CategoryAdapter).Errorw("adapter panic recovered", "panic", fmt.Sprint(rec))
			frame = types.FailedFrame(types.ErrExecutionError, "adapter failed unexpectedly")
		}
	}()

	caps := a.Capabilities()
	switch req.PlanType {
	case types.PlanSQL:
		if !caps.Has(types.CapSQL) {
			return types.FailedFrame(types.ErrCapabilityViolation,
				fmt.Sprintf("adapter does not support plan type %q", req.PlanType))
		}
		if _, ok := req.SQL(); !ok {
			return types.FailedFrame(types.ErrMissingSQL, "sql payload required for plan type \"sql\"")
		}
	case types.PlanREST:
		if !caps.Has(types.CapREST) {
			return types.FailedFrame(types.ErrCapabilityViolation,
				fmt.Sprintf("adapter does not support plan type %q", req.PlanType))
		}
	default:
		return types.FailedFrame(types.ErrCapabilityViolation,
			fmt.Sprintf("unsupported plan type %q", req.PlanType))
	}

	return a.Execute(ctx, req)
}
