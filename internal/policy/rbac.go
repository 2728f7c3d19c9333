// Package policy implements role-based access control over datasources and
// tables, plus the schema-version mismatch policy consulted by retrieval.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"datalens/internal/types"
)

// RolePolicy defines access rules for one role.
type RolePolicy struct {
	Description        string   `yaml:"description" json:"description"`
	Role               string   `yaml:"role" json:"role"`
	AllowedDatasources []string `yaml:"allowed_datasources" json:"allowed_datasources"`
	AllowedTables      []string `yaml:"allowed_tables" json:"allowed_tables"`
}

// Validate enforces strict namespacing on table patterns: "*", "ds.*", or
// "ds.table". Unnamespaced entries are configuration errors — an ambiguous
// bare table name could silently widen access across datasources.
func (p RolePolicy) Validate() error {
	for _, table := range p.AllowedTables {
		if table == "*" {
			continue
		}
		if strings.HasSuffix(table, ".*") {
			if strings.Count(table, ".") < 1 || strings.TrimSuffix(table, ".*") == "" {
				return fmt.Errorf("invalid wildcard %q: must be 'datasource.*'", table)
			}
			continue
		}
		if !strings.Contains(table, ".") {
			return fmt.Errorf("invalid table %q: policy requires explicit 'datasource.table' format", table)
		}
	}
	return nil
}

// Config maps role id to its policy.
type Config map[string]RolePolicy

// Validate validates every role.
func (c Config) Validate() error {
	for id, p := range c {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("role %q: %w", id, err)
		}
	}
	return nil
}

// RBAC resolves user contexts against the policy config.
type RBAC struct {
	config Config
}

// NewRBAC validates and wraps the config.
func NewRBAC(config Config) (*RBAC, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RBAC{config: config}, nil
}

// AllowedDatasources returns the union of the user's roles' datasource
// grants. A "*" entry is preserved verbatim; use DatasourceAllowed to test.
func (r *RBAC) AllowedDatasources(user types.UserContext) []string {
	set := make(map[string]struct{})
	for _, role := range user.Roles {
		p, ok := r.config[role]
		if !ok {
			continue
		}
		for _, ds := range p.AllowedDatasources {
			set[ds] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for ds := range set {
		out = append(out, ds)
	}
	sort.Strings(out)
	return out
}

// AllowedTables returns the union of the user's roles' table patterns.
func (r *RBAC) AllowedTables(user types.UserContext) []string {
	set := make(map[string]struct{})
	for _, role := range user.Roles {
		p, ok := r.config[role]
		if !ok {
			continue
		}
		for _, t := range p.AllowedTables {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DatasourceAllowed reports whether the user may touch a datasource.
func (r *RBAC) DatasourceAllowed(user types.UserContext, datasourceID string) bool {
	for _, ds := range r.AllowedDatasources(user) {
		if ds == "*" || ds == datasourceID {
			return true
		}
	}
	return false
}

// TableAllowed reports whether any pattern covers datasource.table.
// Matching is case-insensitive on the table part, mirroring SQL identifier
// semantics; the fully-qualified table may itself contain dots
// ("ds.schema.table"), so patterns match on the first segment boundary.
func (r *RBAC) TableAllowed(user types.UserContext, datasourceID, table string) bool {
	return MatchTable(r.AllowedTables(user), datasourceID, table)
}

// MatchTable applies the pattern semantics to one datasource.table pair.
func MatchTable(patterns []string, datasourceID, table string) bool {
	target := strings.ToLower(datasourceID + "." + table)
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		switch {
		case p == "*":
			return true
		case strings.HasSuffix(p, ".*"):
			if strings.HasPrefix(target, strings.TrimSuffix(p, "*")) {
				return true
			}
		case p == target:
			return true
		}
	}
	return false
}
