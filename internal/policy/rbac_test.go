package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/types"
)

func testConfig() Config {
	return Config{
		"admin": {
			Role:               "admin",
			Description:        "full access",
			AllowedDatasources: []string{"*"},
			AllowedTables:      []string{"*"},
		},
		"analyst": {
			Role:               "analyst",
			AllowedDatasources: []string{"manufacturing"},
			AllowedTables:      []string{"manufacturing.factories", "manufacturing.machines"},
		},
		"sales": {
			Role:               "sales",
			AllowedDatasources: []string{"suppliers"},
			AllowedTables:      []string{"suppliers.*"},
		},
	}
}

func TestValidateRejectsUnnamespacedTables(t *testing.T) {
	bad := Config{"r": {Role: "r", AllowedTables: []string{"factories"}}}
	_, err := NewRBAC(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datasource.table")

	badWildcard := Config{"r": {Role: "r", AllowedTables: []string{".*"}}}
	_, err = NewRBAC(badWildcard)
	require.Error(t, err)
}

func TestAllowedResolutionUnionsRoles(t *testing.T) {
	rbac, err := NewRBAC(testConfig())
	require.NoError(t, err)

	user := types.UserContext{Roles: []string{"analyst", "sales"}}
	assert.Equal(t, []string{"manufacturing", "suppliers"}, rbac.AllowedDatasources(user))
	assert.Len(t, rbac.AllowedTables(user), 3)

	empty := types.UserContext{}
	assert.Empty(t, rbac.AllowedDatasources(empty))
	assert.Empty(t, rbac.AllowedTables(empty))

	unknown := types.UserContext{Roles: []string{"ghost"}}
	assert.Empty(t, rbac.AllowedDatasources(unknown))
}

func TestTableMatching(t *testing.T) {
	rbac, err := NewRBAC(testConfig())
	require.NoError(t, err)

	admin := types.UserContext{Roles: []string{"admin"}}
	analyst := types.UserContext{Roles: []string{"analyst"}}
	sales := types.UserContext{Roles: []string{"sales"}}

	assert.True(t, rbac.TableAllowed(admin, "anything", "anywhere"))
	assert.True(t, rbac.TableAllowed(analyst, "manufacturing", "factories"))
	assert.True(t, rbac.TableAllowed(analyst, "manufacturing", "FACTORIES"))
	assert.False(t, rbac.TableAllowed(analyst, "manufacturing", "salaries"))
	assert.False(t, rbac.TableAllowed(analyst, "suppliers", "factories"))
	assert.True(t, rbac.TableAllowed(sales, "suppliers", "any_table"))
	assert.False(t, rbac.TableAllowed(sales, "manufacturing", "factories"))

	assert.True(t, rbac.DatasourceAllowed(admin, "whatever"))
	assert.True(t, rbac.DatasourceAllowed(analyst, "manufacturing"))
	assert.False(t, rbac.DatasourceAllowed(analyst, "suppliers"))
}

func TestMismatchPolicy(t *testing.T) {
	warn, err := ParseMismatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MismatchWarn, warn)

	_, err = ParseMismatchPolicy("explode")
	require.Error(t, err)

	// Matching versions: no record under any policy.
	keep, rec := MismatchFail.Apply("resolver", "ds", "v1", "v1")
	assert.True(t, keep)
	assert.Nil(t, rec)

	keep, rec = MismatchWarn.Apply("resolver", "ds", "v1", "v2")
	assert.True(t, keep)
	require.NotNil(t, rec)
	assert.Equal(t, types.SeverityWarning, rec.Severity)

	keep, rec = MismatchFail.Apply("resolver", "ds", "v1", "v2")
	assert.False(t, keep)
	require.NotNil(t, rec)
	assert.Equal(t, types.SeverityError, rec.Severity)
	assert.False(t, rec.Retryable)

	keep, rec = MismatchIgnore.Apply("resolver", "ds", "v1", "v2")
	assert.True(t, keep)
	assert.Nil(t, rec)
}
