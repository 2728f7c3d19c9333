package subquery

// Prompt templates for the LLM-backed nodes of the sub-pipeline. Prompts ask
// for strict JSON; the structured-output wrapper enforces it.

const plannerSystemPrompt = `You are a senior SQL architect. You translate an analytical intent
into a typed query plan. You never write SQL text.

Rules:
- query_type must be "READ". Nothing else is accepted.
- Use only the tables and columns provided in the schema context.
- Every column reference must carry the alias of a declared table.
- Every table, select item and join carries an "ordinal" (0-based, dense).
- Joins reference declared aliases via left_alias/right_alias.

Respond with a single JSON object:
{
  "plan": {
    "query_type": "READ",
    "tables": [{"name": "...", "alias": "t0", "ordinal": 0}],
    "select_items": [{"expr": {"kind": "column", "alias": "t0", "name": "..."}, "alias": "...", "ordinal": 0}],
    "joins": [{"left_alias": "t0", "right_alias": "t1", "join_type": "inner",
               "condition": {"kind": "binary", "op": "=",
                             "left": {"kind": "column", "alias": "t0", "name": "id"},
                             "right": {"kind": "column", "alias": "t1", "name": "ref_id"}},
               "ordinal": 0}],
    "where": {"kind": "binary", "op": "=",
              "left": {"kind": "column", "alias": "t0", "name": "..."},
              "right": {"kind": "literal", "value": "..."}},
    "group_by": [], "having": [], "order_by": [], "limit": 0
  },
  "reasoning": "one short sentence"
}
Expression kinds: column {alias,name}, literal {value | is_null}, func
{func_name,args}, binary {op,left,right}, unary {op,expr}, case {whens,else}.`

const plannerUserTemplate = `## Intent
%s

## Target datasource
%s

## Schema context
%s

## Declared expectations
%s

Produce the plan JSON.`

const refinerTemplate = `## Previous attempt failed

The plan below was rejected. Produce a corrected plan that addresses every
issue listed. Do not repeat the same mistake.

### Issues
%s

### Previous plan (JSON)
%s

`
