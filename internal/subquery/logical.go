package subquery

import (
	"context"
	"fmt"
	"strings"

	"datalens/internal/logging"
	"datalens/internal/plan"
	"datalens/internal/types"
)

const logicalNode = "logical_validator"

// validateLogical checks the plan against policy and the retrieved schema:
// read-only declaration, RBAC table coverage, table presence, column
// existence per alias (case-insensitive), join alias declarations.
// Security violations are never retryable; schema mismatches are.
func (p *Pipeline) validateLogical(ctx context.Context, s *state) []types.PipelineError {
	defer p.Metrics.TimeNode(logicalNode, s.req.SubQuery.DatasourceID)()

	m := s.plan
	if m == nil {
		return []types.PipelineError{
			types.NewError(logicalNode, types.ErrInvalidState, "no plan to validate"),
		}
	}

	var errs []types.PipelineError

	// Read-only enforcement: anything but READ is a security violation.
	if m.QueryType != plan.QueryRead {
		errs = append(errs, securityError(
			fmt.Sprintf("plan declares query type %q; only READ is permitted", m.QueryType)))
		return errs
	}

	sq := s.req.SubQuery

	// RBAC: datasource and every referenced table must be covered.
	if !p.RBAC.DatasourceAllowed(s.req.User, sq.DatasourceID) {
		errs = append(errs, securityError(
			fmt.Sprintf("role set not permitted on datasource %s", sq.DatasourceID)))
		logging.For(ctx, logging.CategoryPolicy).Warnw("rbac datasource denial",
			"datasource_id", sq.DatasourceID, "roles", s.req.User.Roles)
		p.Audit.LogEvent(logging.AuditSecurityViolation, map[string]any{
			"node":          logicalNode,
			"datasource_id": sq.DatasourceID,
			"reason":        "datasource not allowed",
		}, s.req.TraceID, s.req.User.TenantID)
		return errs
	}

	// Index the retrieved schema by table name; lookups are case-insensitive.
	byTable := make(map[string]RetrievedTable, len(s.tables))
	for _, t := range s.tables {
		byTable[strings.ToLower(t.Name)] = t
	}

	aliasToTable := make(map[string]RetrievedTable, len(m.Tables))
	for _, ref := range m.Tables {
		table, ok := byTable[strings.ToLower(ref.Name)]
		if !ok {
			errs = append(errs, types.NewError(logicalNode, types.ErrPlanningFailure,
				fmt.Sprintf("table %q is not in the retrieved schema", ref.Name)))
			continue
		}
		aliasToTable[ref.Alias] = table

		if !p.RBAC.TableAllowed(s.req.User, sq.DatasourceID, ref.Name) {
			errs = append(errs, securityError(
				fmt.Sprintf("table %s.%s is not covered by the caller's role set", sq.DatasourceID, ref.Name)))
			p.Audit.LogEvent(logging.AuditSecurityViolation, map[string]any{
				"node":  logicalNode,
				"table": sq.DatasourceID + "." + ref.Name,
			}, s.req.TraceID, s.req.User.TenantID)
		}
	}

	// Column references: alias must be declared and column must exist on it.
	for _, ref := range m.ColumnRefs() {
		if ref.Alias == "" {
			// Unqualified: accept when any retrieved table has it.
			if !columnExistsAnywhere(s.tables, ref.Name) {
				errs = append(errs, types.NewError(logicalNode, types.ErrPlanningFailure,
					fmt.Sprintf("column %q does not exist in any retrieved table", ref.Name)))
			}
			continue
		}
		table, ok := aliasToTable[ref.Alias]
		if !ok {
			errs = append(errs, types.NewError(logicalNode, types.ErrPlanningFailure,
				fmt.Sprintf("column reference uses undeclared alias %q", ref.Alias)))
			continue
		}
		if !hasColumn(table, ref.Name) {
			msg := fmt.Sprintf("column %q does not exist in table alias %q (%s)", ref.Name, ref.Alias, table.Name)
			if p.cfg.StrictColumns {
				errs = append(errs, types.NewError(logicalNode, types.ErrPlanningFailure, msg))
			} else {
				errs = append(errs, types.NewWarning(logicalNode, types.ErrPlanningFailure, msg))
			}
		}
	}

	// Join aliases must be declared (structure validation catches this too,
	// but the planner may have been refined since).
	declared := make(map[string]bool, len(m.Tables))
	for _, t := range m.Tables {
		declared[t.Alias] = true
	}
	for _, j := range m.Joins {
		for _, alias := range []string{j.LeftAlias, j.RightAlias} {
			if !declared[alias] {
				errs = append(errs, types.NewError(logicalNode, types.ErrPlanningFailure,
					fmt.Sprintf("join references alias %q not declared in tables", alias)))
			}
		}
	}

	if blocking := types.Blocking(errs); len(blocking) == 0 {
		s.addReasoning(logicalNode, "plan is logically valid")
	}
	return errs
}

func securityError(msg string) types.PipelineError {
	e := types.NewError(logicalNode, types.ErrSecurityViolation, msg)
	e.Retryable = false
	return e
}

func hasColumn(t RetrievedTable, name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func columnExistsAnywhere(tables []RetrievedTable, name string) bool {
	for _, t := range tables {
		if hasColumn(t, name) {
			return true
		}
	}
	return false
}
