package policy

import (
	"fmt"

	"datalens/internal/types"
)

// MismatchPolicy decides what happens when a retrieved chunk was embedded
// against a schema version other than the current one.
type MismatchPolicy string

const (
	// MismatchWarn attaches a warning to state and keeps the candidate.
	MismatchWarn MismatchPolicy = "warn"
	// MismatchFail surfaces an error and drops the candidate.
	MismatchFail MismatchPolicy = "fail"
	// MismatchIgnore keeps the candidate silently.
	MismatchIgnore MismatchPolicy = "ignore"
)

// ParseMismatchPolicy validates a config string; empty selects warn.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch MismatchPolicy(s) {
	case "":
		return MismatchWarn, nil
	case MismatchWarn, MismatchFail, MismatchIgnore:
		return MismatchPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown schema_version_mismatch_policy %q (warn|fail|ignore)", s)
	}
}

// Apply evaluates one chunk version against the current version. keep
// reports whether the candidate survives; the returned record (if any) is
// appended to state.
func (p MismatchPolicy) Apply(node, datasourceID, chunkVersion, currentVersion string) (keep bool, rec *types.PipelineError) {
	if chunkVersion == currentVersion {
		return true, nil
	}
	msg := fmt.Sprintf("datasource %s: retrieved chunk from schema version %s, current is %s",
		datasourceID, chunkVersion, currentVersion)
	switch p {
	case MismatchFail:
		e := types.NewError(node, types.ErrSchemaRetrieval, msg)
		e.Retryable = false
		return false, &e
	case MismatchIgnore:
		return true, nil
	default:
		w := types.NewWarning(node, types.ErrSchemaRetrieval, msg)
		return true, &w
	}
}
