// Command datalens is the thin CLI over the pipeline: ask a question, index
// the configured datasources, or probe their health. All logic lives in
// internal/; this file only wires and prints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"datalens/internal/adapter"
	_ "datalens/internal/adapter/sqliteadapter" // register the embedded engine
	"datalens/internal/agents"
	"datalens/internal/artifact"
	"datalens/internal/config"
	"datalens/internal/embedding"
	"datalens/internal/index"
	"datalens/internal/indexing"
	"datalens/internal/logging"
	"datalens/internal/metrics"
	"datalens/internal/orchestrator"
	"datalens/internal/policy"
	"datalens/internal/runtime"
	"datalens/internal/sandbox"
	"datalens/internal/schema"
	"datalens/internal/secrets"
	"datalens/internal/subquery"
	"datalens/internal/types"
)

var (
	settingsPath string
	rolesFlag    []string
)

func main() {
	root := &cobra.Command{
		Use:           "datalens",
		Short:         "Natural-language analytics over heterogeneous datasources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&settingsPath, "config", "configs/datalens.yaml", "settings file")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one analytical question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringSliceVar(&rolesFlag, "role", []string{"admin"}, "caller roles")

	root.AddCommand(askCmd)
	root.AddCommand(&cobra.Command{
		Use:   "index",
		Short: "Introspect datasources and rebuild the retrieval index",
		RunE:  runIndex,
	})
	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Probe datasource connectivity",
		RunE:  runDoctor,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles everything wired from settings.
type app struct {
	settings config.Settings
	registry *adapter.Registry
	schema   schema.Store
	index    index.Index
	store    *artifact.Store
	pools    *sandbox.Manager
	breakers *sandbox.Breakers
	rbac     *policy.RBAC
	caller   *agents.Caller
	metrics  *metrics.Metrics
	audit    *logging.AuditLogger
}

func buildApp(ctx context.Context) (*app, error) {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	logging.Initialize(settings.LogLevel, settings.LogDevelopment)

	audit := logging.NewAuditLogger(settings.AuditLogPath)

	resolver := secrets.NewResolver(secrets.EnvProvider{})
	if settings.Infisical.Enabled {
		boot, err := secrets.Bootstrap(ctx, secrets.EnvProvider{}, map[string]string{
			"client_id":     settings.Infisical.ClientID,
			"client_secret": settings.Infisical.ClientSecret,
		})
		if err != nil {
			return nil, err
		}
		resolver.Register(secrets.NewInfisicalProvider(secrets.InfisicalConfig{
			SiteURL:      settings.Infisical.SiteURL,
			ClientID:     boot["client_id"],
			ClientSecret: boot["client_secret"],
			ProjectID:    settings.Infisical.ProjectID,
			Environment:  settings.Infisical.Environment,
		}))
	}

	dsConfigs, err := config.LoadDatasources(settings.DatasourceConfigPath)
	if err != nil {
		return nil, err
	}
	registry, err := adapter.NewRegistry(ctx, dsConfigs, resolver)
	if err != nil {
		return nil, err
	}

	polCfg, err := config.LoadPolicies(settings.PoliciesConfigPath)
	if err != nil {
		return nil, err
	}
	rbac, err := policy.NewRBAC(polCfg)
	if err != nil {
		return nil, err
	}

	var store schema.Store
	if settings.SchemaStoreBackend == "sqlite" {
		s, err := schema.NewSQLiteStore(settings.SchemaStorePath, settings.SchemaStoreMaxVersions)
		if err != nil {
			return nil, err
		}
		store = s
	} else {
		store = schema.NewMemoryStore(settings.SchemaStoreMaxVersions)
	}

	engine, err := embedding.NewEngine(settings.Embedding)
	if err != nil {
		return nil, err
	}
	ix, err := index.NewSQLiteIndex(settings.VectorIndexPath, engine)
	if err != nil {
		return nil, err
	}

	var backend artifact.Backend
	switch settings.ArtifactBackend {
	case "s3":
		backend, err = artifact.NewS3Backend(ctx, settings.ArtifactS3Bucket, settings.ArtifactS3Prefix)
	case "adls":
		backend, err = artifact.NewADLSBackend(settings.ArtifactADLSURL, settings.ArtifactContainer)
	default:
		backend, err = artifact.NewLocalBackend(settings.ArtifactLocalDir)
	}
	if err != nil {
		return nil, err
	}

	pools := sandbox.NewManager(settings.SandboxExecWorkers, settings.SandboxIndexWorkers)
	breakers := sandbox.NewBreakers(audit)
	m := metrics.New()

	var client agents.LLMClient
	if settings.GeminiAPIKey != "" {
		cfg := agents.DefaultGeminiConfig(settings.GeminiAPIKey)
		if settings.GeminiModel != "" {
			cfg.Model = settings.GeminiModel
		}
		client = agents.NewGeminiClientWithConfig(cfg)
	}

	return &app{
		settings: settings,
		registry: registry,
		schema:   store,
		index:    ix,
		store:    artifact.NewStore(backend, ""),
		pools:    pools,
		breakers: breakers,
		rbac:     rbac,
		caller:   agents.NewCaller(client, breakers.LLM, audit, m),
		metrics:  m,
		audit:    audit,
	}, nil
}

func (a *app) close() {
	a.pools.Shutdown()
	_ = a.audit.Close()
	logging.Sync()
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	mismatch, err := policy.ParseMismatchPolicy(a.settings.SchemaVersionMismatchPolicy)
	if err != nil {
		return err
	}

	pipe := subquery.New(a.registry, a.schema, a.index, a.store, a.pools, a.breakers,
		a.caller, a.rbac, a.metrics, a.audit, subquery.Config{
			StrictColumns: a.settings.LogicalValidatorStrictColumns,
		})
	orch := orchestrator.New(a.registry, a.schema, a.index, a.store, a.breakers,
		a.caller, a.rbac, pipe, a.metrics, a.audit, orchestrator.Config{
			Mismatch:      mismatch,
			GlobalTimeout: a.settings.GlobalTimeout(),
		})

	// Ctrl-C flips the cooperative cancellation flag.
	flag := runtime.NewFlag()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		flag.Cancel()
	}()

	state := orch.Answer(ctx, orchestrator.UserRequest{
		Query: strings.Join(args, " "),
		User:  types.UserContext{TenantID: a.settings.TenantID, Roles: rolesFlag},
	}, flag)

	if state.Answer != nil {
		fmt.Println(state.Answer.Summary)
		fmt.Println()
		fmt.Println(state.Answer.Content)
		for _, w := range state.Answer.Warnings {
			fmt.Println("warning:", w)
		}
	}
	return nil
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	indexer := &indexing.Indexer{
		Registry: a.registry,
		Schema:   a.schema,
		Index:    a.index,
		Pools:    a.pools,
		Audit:    a.audit,
	}
	for _, res := range indexer.RefreshAll(ctx) {
		if res.Err != nil {
			fmt.Printf("%-24s FAILED: %v\n", res.DatasourceID, res.Err)
			continue
		}
		fmt.Printf("%-24s %s (%d chunks, %d evicted)\n",
			res.DatasourceID, res.SchemaVersion, res.Chunks, len(res.Evicted))
	}
	return nil
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	for _, id := range a.registry.IDs() {
		ad, err := a.registry.Get(id)
		if err != nil {
			continue
		}
		status := "ok"
		if !ad.TestConnection(ctx) {
			status = "UNREACHABLE"
		}
		details, _ := json.Marshal(ad.Details())
		fmt.Printf("%-24s %-12s %s\n", id, status, details)
	}
	return nil
}
