// Package config holds the typed settings for the pipeline and the loaders
// for the declarative datasource and policy files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"datalens/internal/adapter"
	"datalens/internal/embedding"
	"datalens/internal/policy"
)

// Settings is the application configuration. Defaults come from
// DefaultSettings; DATALENS_* environment variables override individual
// fields after file loading.
type Settings struct {
	LogLevel       string `yaml:"log_level" json:"log_level"`
	LogDevelopment bool   `yaml:"log_development" json:"log_development"`

	DatasourceConfigPath string `yaml:"datasource_config_path" json:"datasource_config_path"`
	PoliciesConfigPath   string `yaml:"policies_config_path" json:"policies_config_path"`

	GlobalTimeoutSec   int `yaml:"global_timeout_sec" json:"global_timeout_sec"`
	SandboxExecWorkers int `yaml:"sandbox_exec_workers" json:"sandbox_exec_workers"`
	SandboxIndexWorkers int `yaml:"sandbox_index_workers" json:"sandbox_index_workers"`

	SchemaStoreBackend     string `yaml:"schema_store_backend" json:"schema_store_backend"` // memory | sqlite
	SchemaStorePath        string `yaml:"schema_store_path" json:"schema_store_path"`
	SchemaStoreMaxVersions int    `yaml:"schema_store_max_versions" json:"schema_store_max_versions"`
	// SchemaVersionMismatchPolicy: warn | fail | ignore.
	SchemaVersionMismatchPolicy string `yaml:"schema_version_mismatch_policy" json:"schema_version_mismatch_policy"`

	VectorIndexPath string `yaml:"vector_index_path" json:"vector_index_path"`

	LogicalValidatorStrictColumns bool `yaml:"logical_validator_strict_columns" json:"logical_validator_strict_columns"`

	ArtifactBackend   string `yaml:"artifact_backend" json:"artifact_backend"` // local | s3 | adls
	ArtifactLocalDir  string `yaml:"artifact_local_dir" json:"artifact_local_dir"`
	ArtifactS3Bucket  string `yaml:"artifact_s3_bucket" json:"artifact_s3_bucket"`
	ArtifactS3Prefix  string `yaml:"artifact_s3_prefix" json:"artifact_s3_prefix"`
	ArtifactADLSURL   string `yaml:"artifact_adls_account_url" json:"artifact_adls_account_url"`
	ArtifactContainer string `yaml:"artifact_adls_container" json:"artifact_adls_container"`

	AuditLogPath string `yaml:"audit_log_path" json:"audit_log_path"`

	TenantID string `yaml:"tenant_id" json:"tenant_id"`

	GeminiAPIKey string `yaml:"gemini_api_key" json:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model" json:"gemini_model"`

	Embedding embedding.Config `yaml:"embedding" json:"embedding"`

	Infisical secretsProviderConfig `yaml:"infisical" json:"infisical"`
}

type secretsProviderConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	SiteURL      string `yaml:"site_url" json:"site_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	ProjectID    string `yaml:"project_id" json:"project_id"`
	Environment  string `yaml:"environment" json:"environment"`
}

// DefaultSettings returns the standard configuration.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:                    "info",
		DatasourceConfigPath:        "configs/datasources.yaml",
		PoliciesConfigPath:          "configs/policies.yaml",
		GlobalTimeoutSec:            60,
		SandboxExecWorkers:          4,
		SandboxIndexWorkers:         2,
		SchemaStoreBackend:          "memory",
		SchemaStorePath:             ".datalens/schema.db",
		SchemaStoreMaxVersions:      3,
		SchemaVersionMismatchPolicy: "warn",
		VectorIndexPath:             ".datalens/index.db",
		ArtifactBackend:             "local",
		ArtifactLocalDir:            ".datalens/artifacts",
		AuditLogPath:                "logs/audit_events.log",
		TenantID:                    "default_tenant",
		Embedding:                   embedding.DefaultConfig(),
	}
}

// Load reads settings from an optional YAML file, then applies environment
// overrides. A missing file yields pure defaults.
func Load(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return s, fmt.Errorf("reading settings %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parsing settings %s: %w", path, err)
		}
	}
	s.applyEnv()

	if _, err := policy.ParseMismatchPolicy(s.SchemaVersionMismatchPolicy); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	envStr("DATALENS_LOG_LEVEL", &s.LogLevel)
	envStr("DATALENS_DATASOURCE_CONFIG", &s.DatasourceConfigPath)
	envStr("DATALENS_POLICIES_CONFIG", &s.PoliciesConfigPath)
	envInt("DATALENS_GLOBAL_TIMEOUT_SEC", &s.GlobalTimeoutSec)
	envInt("DATALENS_SANDBOX_EXEC_WORKERS", &s.SandboxExecWorkers)
	envInt("DATALENS_SANDBOX_INDEX_WORKERS", &s.SandboxIndexWorkers)
	envStr("DATALENS_SCHEMA_STORE_BACKEND", &s.SchemaStoreBackend)
	envStr("DATALENS_SCHEMA_STORE_PATH", &s.SchemaStorePath)
	envInt("DATALENS_SCHEMA_STORE_MAX_VERSIONS", &s.SchemaStoreMaxVersions)
	envStr("DATALENS_SCHEMA_VERSION_MISMATCH_POLICY", &s.SchemaVersionMismatchPolicy)
	envStr("DATALENS_VECTOR_INDEX_PATH", &s.VectorIndexPath)
	envBool("DATALENS_LOGICAL_VALIDATOR_STRICT_COLUMNS", &s.LogicalValidatorStrictColumns)
	envStr("DATALENS_ARTIFACT_BACKEND", &s.ArtifactBackend)
	envStr("DATALENS_ARTIFACT_LOCAL_DIR", &s.ArtifactLocalDir)
	envStr("DATALENS_ARTIFACT_S3_BUCKET", &s.ArtifactS3Bucket)
	envStr("DATALENS_AUDIT_LOG_PATH", &s.AuditLogPath)
	envStr("DATALENS_TENANT_ID", &s.TenantID)
	envStr("GEMINI_API_KEY", &s.GeminiAPIKey)
	envStr("DATALENS_GEMINI_MODEL", &s.GeminiModel)
}

// GlobalTimeout returns the configured pipeline deadline.
func (s Settings) GlobalTimeout() time.Duration {
	return time.Duration(s.GlobalTimeoutSec) * time.Second
}

// LoadDatasources reads the declarative datasource list.
func LoadDatasources(path string) ([]adapter.DatasourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading datasource config %s: %w", path, err)
	}
	var doc struct {
		Datasources []adapter.DatasourceConfig `yaml:"datasources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing datasource config %s: %w", path, err)
	}
	return doc.Datasources, nil
}

// LoadPolicies reads the role policy map and validates namespacing.
func LoadPolicies(path string) (policy.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config %s: %w", path, err)
	}
	var cfg policy.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing policy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
