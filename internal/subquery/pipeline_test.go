package subquery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/adapter"
	"datalens/internal/adapter/adaptertest"
	"datalens/internal/agents"
	"datalens/internal/agents/agentstest"
	"datalens/internal/artifact"
	"datalens/internal/metrics"
	"datalens/internal/policy"
	"datalens/internal/sandbox"
	"datalens/internal/schema"
	"datalens/internal/types"
)

// validPlanJSON is the planner response for "list factories in the US".
const validPlanJSON = `{
  "plan": {
    "query_type": "READ",
    "tables": [{"name": "main.factories", "alias": "f", "ordinal": 0}],
    "select_items": [
      {"expr": {"kind": "column", "alias": "f", "name": "id"}, "ordinal": 0},
      {"expr": {"kind": "column", "alias": "f", "name": "name"}, "ordinal": 1},
      {"expr": {"kind": "column", "alias": "f", "name": "country"}, "ordinal": 2}
    ],
    "where": {"kind": "binary", "op": "=",
              "left": {"kind": "column", "alias": "f", "name": "country"},
              "right": {"kind": "literal", "value": "US"}}
  },
  "reasoning": "single-table scan with a country filter"
}`

// badTablePlanJSON references a table outside the retrieved schema.
const badTablePlanJSON = `{
  "plan": {
    "query_type": "READ",
    "tables": [{"name": "main.ghosts", "alias": "g", "ordinal": 0}],
    "select_items": [{"expr": {"kind": "column", "alias": "g", "name": "id"}, "ordinal": 0}]
  }
}`

const writePlanJSON = `{
  "plan": {
    "query_type": "WRITE",
    "tables": [{"name": "main.factories", "alias": "f", "ordinal": 0}],
    "select_items": [{"expr": {"kind": "column", "alias": "f", "name": "id"}, "ordinal": 0}]
  }
}`

type harness struct {
	pipeline *Pipeline
	fake     *adaptertest.Fake
	client   *agentstest.Scripted
	pools    *sandbox.Manager
}

func newHarness(t *testing.T, client *agentstest.Scripted) *harness {
	t.Helper()

	frame := adaptertest.Frame([]string{"id", "name", "country"}, [][]any{
		{int64(1), "Detroit Plant", "US"},
		{int64(2), "Austin Plant", "US"},
	})
	fake := adaptertest.NewSQLFake("manufacturing", frame)
	fake.Snapshot = adapter.SchemaSnapshot{
		DatasourceID: "manufacturing",
		Contract: adapter.SchemaContract{
			TableOrder: []string{"main.factories"},
			Tables: map[string]adapter.TableContract{
				"main.factories": {Columns: []adapter.ColumnContract{
					{Name: "id", Type: "INTEGER", PrimaryKey: true},
					{Name: "name", Type: "TEXT"},
					{Name: "country", Type: "TEXT"},
				}},
			},
		},
	}

	store := schema.NewMemoryStore(3)
	_, _, err := store.RegisterSnapshot(t.Context(), fake.Snapshot)
	require.NoError(t, err)

	backend, err := artifact.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	rbac, err := policy.NewRBAC(policy.Config{
		"admin": {Role: "admin", AllowedDatasources: []string{"*"}, AllowedTables: []string{"*"}},
	})
	require.NoError(t, err)

	pools := sandbox.NewManager(2, 1)
	t.Cleanup(pools.Shutdown)
	breakers := sandbox.NewBreakers(nil)

	reg := adapter.NewRegistryFromAdapters(
		map[string]adapter.Adapter{"manufacturing": fake},
		map[string]adapter.Profile{"manufacturing": {
			DatasourceID: "manufacturing", EngineType: "sqlite",
			RowLimit: 1000, MaxBytes: 1 << 20, StatementTimeoutMS: 5000,
		}},
	)

	p := New(reg, store, nil, artifact.NewStore(backend, ""), pools, breakers,
		agents.NewCaller(client, breakers.LLM, nil, metrics.New()), rbac,
		metrics.New(), nil, DefaultConfig())
	p.sleep = func(time.Duration) {} // no real backoff in tests
	p.jitter = func() float64 { return 0 }

	return &harness{pipeline: p, fake: fake, client: client, pools: pools}
}

func adminRequest() Request {
	return Request{
		TraceID:      "trace-1",
		User:         types.UserContext{TenantID: "acme", Roles: []string{"admin"}},
		SubQuery:     types.SubQuery{ID: "sq_1", DatasourceID: "manufacturing", Intent: "List all factories in the US"},
		SubgraphName: "sql_agent",
		DAGNodeID:    "scan_sq_1",
	}
}

func TestHappyPathProducesArtifact(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON}})

	out := h.pipeline.Run(t.Context(), adminRequest())

	require.Empty(t, types.Blocking(out.Errors), "unexpected errors: %v", out.Errors)
	assert.Equal(t, types.SubgraphSuccess, out.Status)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, []string{"id", "name", "country"}, out.Artifact.Columns)
	assert.Equal(t, 2, out.Artifact.RowCount)
	assert.Contains(t, out.SQLDraft, "SELECT f.id, f.name, f.country FROM main.factories f")
	assert.Contains(t, out.SQLDraft, "WHERE f.country = 'US'")
	assert.Contains(t, out.SQLDraft, "LIMIT 1000")
	assert.Zero(t, out.RetryCount)
}

func TestRBACDenyTerminatesWithoutRetry(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON, validPlanJSON, validPlanJSON, validPlanJSON}})

	req := adminRequest()
	req.User.Roles = nil

	out := h.pipeline.Run(t.Context(), req)
	assert.Equal(t, types.SubgraphError, out.Status)
	assert.True(t, types.HasCode(out.Errors, types.ErrSecurityViolation))
	assert.Nil(t, out.Artifact)
	assert.Equal(t, 1, h.client.Calls(), "security violations must not retry")
	assert.Empty(t, h.fake.Recorded(), "no execution after a security violation")
}

func TestWritePlanRejectedAsSecurityViolation(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{writePlanJSON}})
	out := h.pipeline.Run(t.Context(), adminRequest())
	assert.True(t, types.HasCode(out.Errors, types.ErrSecurityViolation))
	assert.Equal(t, 1, h.client.Calls())
}

func TestRetryCeilingAtThree(t *testing.T) {
	client := &agentstest.Scripted{Handler: func(system, user string) (string, error) {
		return badTablePlanJSON, nil
	}}
	h := newHarness(t, client)

	out := h.pipeline.Run(t.Context(), adminRequest())
	assert.Equal(t, types.SubgraphError, out.Status)
	assert.Equal(t, 3, out.RetryCount)
	// Initial attempt plus three refined retries.
	assert.Equal(t, 4, client.Calls())
	assert.True(t, types.HasCode(out.Errors, types.ErrPlanningFailure))
}

func TestRefinerFeedsErrorsBack(t *testing.T) {
	calls := 0
	client := &agentstest.Scripted{Handler: func(system, user string) (string, error) {
		calls++
		if calls == 1 {
			return badTablePlanJSON, nil
		}
		return validPlanJSON, nil
	}}
	h := newHarness(t, client)

	out := h.pipeline.Run(t.Context(), adminRequest())
	require.Equal(t, types.SubgraphSuccess, out.Status)
	assert.Equal(t, 1, out.RetryCount)
	require.GreaterOrEqual(t, len(client.Prompts), 2)
	// The second prompt carries the refiner packet.
	second := client.Prompts[1][1]
	assert.Contains(t, second, "Previous attempt failed")
	assert.Contains(t, second, "main.ghosts")
}

func TestPerformanceWarningProceedsToExecution(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON}})
	base := h.fake.Frame
	h.fake.ExecuteFn = func(ctx context.Context, req types.AdapterRequest) types.ResultFrame {
		if req.Payload["mode"] == "cost_estimate" {
			return types.ResultFrame{Success: true, ExecutionStats: map[string]any{"estimated_rows": 99999}}
		}
		return base
	}

	out := h.pipeline.Run(t.Context(), adminRequest())
	assert.Equal(t, types.SubgraphSuccess, out.Status)
	assert.True(t, types.HasCode(out.Errors, types.ErrPerformanceWarning))
	require.NotNil(t, out.Artifact)
}

func TestExecutorCrashAndBreaker(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Handler: func(system, user string) (string, error) {
		return validPlanJSON, nil
	}})
	// Dry-run and cost-estimate go through GuardedExecute (panic contained);
	// drop those capabilities so only the execute submission runs.
	h.fake.Caps = types.NewCapabilitySet(types.CapSQL)
	h.fake.PanicOnExec = true

	out := h.pipeline.Run(t.Context(), adminRequest())
	assert.Equal(t, types.SubgraphError, out.Status)
	assert.True(t, types.HasCode(out.Errors, types.ErrExecutorCrash))

	// Four more crashes open the DB breaker (fail_max 5)...
	for i := 0; i < 4; i++ {
		h.pipeline.Run(t.Context(), adminRequest())
	}
	before := len(h.fake.Recorded())
	out = h.pipeline.Run(t.Context(), adminRequest())
	assert.True(t, types.HasCode(out.Errors, types.ErrServiceUnavailable))
	// ...and the short-circuited call never reached the adapter.
	assert.Equal(t, before, len(h.fake.Recorded()))
}

func TestSafeguardViolationOnByteLimit(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON}})
	big := h.fake.Frame
	big.Bytes = 10 << 20 // over the 1 MiB profile limit
	h.fake.Frame = big

	out := h.pipeline.Run(t.Context(), adminRequest())
	assert.Equal(t, types.SubgraphError, out.Status)
	assert.True(t, types.HasCode(out.Errors, types.ErrSafeguardViolation))
	assert.Nil(t, out.Artifact)
}

func TestMissingSchemaFailsCleanly(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON}})
	req := adminRequest()
	req.SubQuery.DatasourceID = "unknown_ds"

	out := h.pipeline.Run(t.Context(), req)
	assert.Equal(t, types.SubgraphError, out.Status)
	assert.True(t, types.HasCode(out.Errors, types.ErrSchemaRetrieval))
	assert.Zero(t, h.client.Calls())
}

func TestCancellationBeforePlanning(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON}})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out := h.pipeline.Run(ctx, adminRequest())
	assert.Equal(t, types.SubgraphError, out.Status)
	assert.True(t, types.HasCode(out.Errors, types.ErrCancelled))
	assert.Nil(t, out.Artifact)
}

func TestOutputSerializable(t *testing.T) {
	h := newHarness(t, &agentstest.Scripted{Responses: []string{validPlanJSON}})
	out := h.pipeline.Run(t.Context(), adminRequest())
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sql_agent:sq_1:trace-1")
}
