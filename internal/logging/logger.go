// Package logging provides categorized structured logging for datalens.
// Every subsystem logs through a category logger obtained via Get; log lines
// obtained through For carry trace_id and tenant_id, null when the calling
// context lacks them.
package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and wiring
	CategoryAdapter      Category = "adapter"      // Adapter registry and execution
	CategorySchema       Category = "schema"       // Schema store operations
	CategoryIndex        Category = "index"        // Retrieval index
	CategoryEmbedding    Category = "embedding"    // Embedding engine
	CategoryArtifact     Category = "artifact"     // Artifact store
	CategorySandbox      Category = "sandbox"      // Worker pools, breakers
	CategoryPolicy       Category = "policy"       // RBAC decisions
	CategoryPlanner      Category = "planner"      // AST planning, SQL generation
	CategorySubquery     Category = "subquery"     // Sub-pipeline state machine
	CategoryOrchestrator Category = "orchestrator" // Top-level graph
	CategoryEngine       Category = "engine"       // Combine engine
	CategoryAgents       Category = "agents"       // LLM calls
	CategoryRuntime      Category = "runtime"      // Scheduler, deadlines
	CategorySecrets      Category = "secrets"      // Secret resolution (never values)
)

type ctxKey int

const (
	ctxKeyTraceID ctxKey = iota
	ctxKeyTenantID
)

// WithTrace returns a context carrying the trace id.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// WithTenant returns a context carrying the tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}

// TraceID returns the trace id from ctx, or "".
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKeyTraceID).(string)
	return v
}

// TenantID returns the tenant id from ctx, or "".
func TenantID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKeyTenantID).(string)
	return v
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize installs the process-wide root logger. level is one of
// debug/info/warn/error; unknown values fall back to info. Safe to call more
// than once; later calls replace the root and drop cached category loggers.
func Initialize(level string, development bool) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var enc zapcore.Encoder
	if development {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	logger := zap.New(core, zap.AddCaller())

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns (or creates) the logger for a category. Before Initialize it
// returns a no-op logger so library code never nil-checks.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	r := root
	mu.RUnlock()

	if r == nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.With(zap.String("category", string(category))).Sugar()
	loggers[category] = l
	return l
}

// For returns a category logger enriched with the context's trace and tenant
// ids. Absent ids are logged as null fields; a nil context never panics.
func For(ctx context.Context, category Category) *zap.SugaredLogger {
	var tid, ten any
	if v := TraceID(ctx); v != "" {
		tid = v
	}
	if v := TenantID(ctx); v != "" {
		ten = v
	}
	return Get(category).With("trace_id", tid, "tenant_id", ten)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
