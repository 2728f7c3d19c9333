package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 60, s.GlobalTimeoutSec)
	assert.Equal(t, 4, s.SandboxExecWorkers)
	assert.Equal(t, "warn", s.SchemaVersionMismatchPolicy)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATALENS_GLOBAL_TIMEOUT_SEC", "120")
	t.Setenv("DATALENS_SCHEMA_VERSION_MISMATCH_POLICY", "fail")
	t.Setenv("DATALENS_LOGICAL_VALIDATOR_STRICT_COLUMNS", "true")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120, s.GlobalTimeoutSec)
	assert.Equal(t, "fail", s.SchemaVersionMismatchPolicy)
	assert.True(t, s.LogicalValidatorStrictColumns)
}

func TestInvalidMismatchPolicyRejected(t *testing.T) {
	t.Setenv("DATALENS_SCHEMA_VERSION_MISMATCH_POLICY", "explode")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadDatasourcesAndPolicies(t *testing.T) {
	dir := t.TempDir()

	dsPath := filepath.Join(dir, "datasources.yaml")
	require.NoError(t, os.WriteFile(dsPath, []byte(`
datasources:
  - id: manufacturing
    connection:
      type: postgres
      host: db.internal
      password: ${env:MFG_DB_PASSWORD}
    options:
      row_limit: 500
      statement_timeout_ms: 10000
`), 0o644))

	dss, err := LoadDatasources(dsPath)
	require.NoError(t, err)
	require.Len(t, dss, 1)
	assert.Equal(t, "manufacturing", dss[0].ID)
	assert.Equal(t, "postgres", dss[0].Connection["type"])
	assert.Equal(t, "${env:MFG_DB_PASSWORD}", dss[0].Connection["password"])
	assert.Equal(t, 500, dss[0].Options.RowLimit)

	polPath := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(polPath, []byte(`
admin:
  role: admin
  description: full access
  allowed_datasources: ["*"]
  allowed_tables: ["*"]
analyst:
  role: analyst
  allowed_datasources: [manufacturing]
  allowed_tables: [manufacturing.factories]
`), 0o644))

	pol, err := LoadPolicies(polPath)
	require.NoError(t, err)
	assert.Len(t, pol, 2)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
r:
  role: r
  allowed_tables: [unnamespaced]
`), 0o644))
	_, err = LoadPolicies(bad)
	require.Error(t, err)
}
