package types

import "fmt"

// NodeKind is the closed set of execution DAG node kinds.
type NodeKind string

const (
	NodeScan       NodeKind = "scan"
	NodeCombine    NodeKind = "combine"
	NodePostFilter NodeKind = "post_filter"
	NodeProject    NodeKind = "project"
	NodeGroupAgg   NodeKind = "group_agg"
	NodeOrderLimit NodeKind = "order_limit"
)

// CombineOp is the operator applied by a combine node.
type CombineOp string

const (
	OpUnion      CombineOp = "union"
	OpJoin       CombineOp = "join"
	OpFilter     CombineOp = "filter"
	OpProject    CombineOp = "project"
	OpGroupAgg   CombineOp = "group_agg"
	OpOrderLimit CombineOp = "order_limit"
)

// ScalarExpr is the small typed expression used by combine predicates and
// projections. No SQL strings ever appear in the DAG.
type ScalarExpr struct {
	Kind  string      `json:"kind"` // "col" | "lit" | "binary"
	Name  string      `json:"name,omitempty"`
	Value any         `json:"value,omitempty"`
	Op    string      `json:"op,omitempty"`
	Left  *ScalarExpr `json:"left,omitempty"`
	Right *ScalarExpr `json:"right,omitempty"`
}

// AggSpec declares one aggregate of a group_agg node.
type AggSpec struct {
	Func   string `json:"func"` // sum | count | avg | min | max
	Column string `json:"column,omitempty"`
	Alias  string `json:"alias"`
}

// OrderKey declares one sort key of an order_limit node.
type OrderKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

// ProjectItem declares one output column of a project node.
type ProjectItem struct {
	Expr  ScalarExpr `json:"expr"`
	Alias string     `json:"alias"`
}

// JoinOn names the equality pair a join matches on.
type JoinOn struct {
	LeftColumn  string `json:"left_column"`
	RightColumn string `json:"right_column"`
}

// DAGNode is one node of the execution DAG. Scan nodes reference a sub-query;
// every other kind consumes earlier node outputs and declares an operator.
type DAGNode struct {
	NodeID       string        `json:"node_id"`
	Kind         NodeKind      `json:"kind"`
	SubQueryID   string        `json:"sub_query_id,omitempty"`
	Op           CombineOp     `json:"op,omitempty"`
	Inputs       []InputRef    `json:"inputs,omitempty"`
	JoinType     string        `json:"join_type,omitempty"` // inner | left
	JoinOn       []JoinOn      `json:"join_on,omitempty"`
	Predicate    *ScalarExpr   `json:"predicate,omitempty"`
	Projections  []ProjectItem `json:"projections,omitempty"`
	GroupKeys    []string      `json:"group_keys,omitempty"`
	Aggregates   []AggSpec     `json:"aggregates,omitempty"`
	OrderBy      []OrderKey    `json:"order_by,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	OutputSchema OutputSchema  `json:"output_schema"`
}

// ExecutionDAG is the global planner's output: typed nodes, explicit edges
// implied by input refs, and a precomputed layered topological order.
type ExecutionDAG struct {
	Nodes  []DAGNode  `json:"nodes"`
	Layers [][]string `json:"layers,omitempty"`
}

// Node returns the node with the given id.
func (d ExecutionDAG) Node(id string) (DAGNode, bool) {
	for _, n := range d.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return DAGNode{}, false
}

// ScanNodes returns all scan nodes in declaration order.
func (d ExecutionDAG) ScanNodes() []DAGNode {
	var out []DAGNode
	for _, n := range d.Nodes {
		if n.Kind == NodeScan {
			out = append(out, n)
		}
	}
	return out
}

// TerminalNodes returns nodes no other node consumes.
func (d ExecutionDAG) TerminalNodes() []DAGNode {
	consumed := make(map[string]bool)
	for _, n := range d.Nodes {
		for _, in := range n.Inputs {
			consumed[in.ID] = true
		}
	}
	var out []DAGNode
	for _, n := range d.Nodes {
		key := n.NodeID
		if n.Kind == NodeScan && n.SubQueryID != "" {
			key = n.SubQueryID
		}
		if !consumed[key] && !consumed[n.NodeID] {
			out = append(out, n)
		}
	}
	return out
}

// Validate checks the structural invariants: node ids unique, inputs resolve,
// acyclic, output schemas declared on every node, scan nodes bound to a
// sub-query. It does not touch layering; call ComputeLayers after.
func (d ExecutionDAG) Validate() error {
	ids := make(map[string]NodeKind, len(d.Nodes))
	bySubQuery := make(map[string]string)
	for _, n := range d.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("dag node with empty node_id")
		}
		if _, dup := ids[n.NodeID]; dup {
			return fmt.Errorf("duplicate dag node id %q", n.NodeID)
		}
		ids[n.NodeID] = n.Kind
		if n.Kind == NodeScan {
			if n.SubQueryID == "" {
				return fmt.Errorf("scan node %q missing sub_query_id", n.NodeID)
			}
			bySubQuery[n.SubQueryID] = n.NodeID
		}
		if len(n.OutputSchema.Columns) == 0 {
			return fmt.Errorf("node %q missing output schema", n.NodeID)
		}
	}

	resolve := func(in InputRef) (string, error) {
		switch in.Source {
		case SourceScan:
			if nid, ok := bySubQuery[in.ID]; ok {
				return nid, nil
			}
			if k, ok := ids[in.ID]; ok && k == NodeScan {
				return in.ID, nil
			}
			return "", fmt.Errorf("scan input %q not found", in.ID)
		case SourceStep:
			if _, ok := ids[in.ID]; !ok {
				return "", fmt.Errorf("step input %q not found", in.ID)
			}
			return in.ID, nil
		default:
			return "", fmt.Errorf("unknown input source %q", in.Source)
		}
	}

	adj := make(map[string][]string, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.Kind == NodeScan && len(n.Inputs) > 0 {
			return fmt.Errorf("scan node %q must not declare inputs", n.NodeID)
		}
		if n.Kind != NodeScan && len(n.Inputs) == 0 {
			return fmt.Errorf("node %q declares no inputs", n.NodeID)
		}
		for _, in := range n.Inputs {
			src, err := resolve(in)
			if err != nil {
				return fmt.Errorf("node %q: %w", n.NodeID, err)
			}
			adj[src] = append(adj[src], n.NodeID)
		}
	}

	// Cycle check via DFS coloring.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var visit func(string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("cycle through node %q", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComputeLayers derives the layered topological order: all scans first, then
// combine layers in dependency order. The result is stored on the DAG and
// returned. Validate must have passed.
func (d *ExecutionDAG) ComputeLayers() [][]string {
	bySubQuery := make(map[string]string)
	for _, n := range d.Nodes {
		if n.Kind == NodeScan {
			bySubQuery[n.SubQueryID] = n.NodeID
		}
	}
	resolve := func(in InputRef) string {
		if in.Source == SourceScan {
			if nid, ok := bySubQuery[in.ID]; ok {
				return nid
			}
		}
		return in.ID
	}

	index := make(map[string]DAGNode, len(d.Nodes))
	for _, n := range d.Nodes {
		index[n.NodeID] = n
	}
	depth := make(map[string]int, len(d.Nodes))
	var nodeDepth func(n DAGNode) int
	nodeDepth = func(n DAGNode) int {
		if dep, ok := depth[n.NodeID]; ok {
			return dep
		}
		max := 0
		for _, in := range n.Inputs {
			if src, ok := index[resolve(in)]; ok {
				if dd := nodeDepth(src) + 1; dd > max {
					max = dd
				}
			}
		}
		depth[n.NodeID] = max
		return max
	}

	maxDepth := 0
	for _, n := range d.Nodes {
		if dd := nodeDepth(n); dd > maxDepth {
			maxDepth = dd
		}
	}
	layers := make([][]string, maxDepth+1)
	for _, n := range d.Nodes {
		dd := depth[n.NodeID]
		layers[dd] = append(layers[dd], n.NodeID)
	}
	d.Layers = layers
	return layers
}
