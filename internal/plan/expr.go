// Package plan defines the typed expression tree the AST planner emits and
// the deterministic SQL generator that serializes it. No SQL strings exist
// upstream of the generator.
package plan

import "fmt"

// ExprKind tags the expression union.
type ExprKind string

const (
	KindColumn  ExprKind = "column"
	KindLiteral ExprKind = "literal"
	KindFunc    ExprKind = "func"
	KindBinary  ExprKind = "binary"
	KindUnary   ExprKind = "unary"
	KindCase    ExprKind = "case"
)

// CaseWhen is one branch of a CASE expression.
type CaseWhen struct {
	Cond Expr `json:"cond"`
	Then Expr `json:"then"`
}

// Expr is the tagged expression union. Exactly the fields for its Kind are
// meaningful; Validate rejects malformed nodes.
type Expr struct {
	Kind ExprKind `json:"kind"`

	// Column
	Alias string `json:"alias,omitempty"` // table alias, e.g. "t1"
	Name  string `json:"name,omitempty"`  // column name

	// Literal
	Value  any  `json:"value,omitempty"`
	IsNull bool `json:"is_null,omitempty"`

	// Func
	FuncName string `json:"func_name,omitempty"`
	Args     []Expr `json:"args,omitempty"`

	// Binary / Unary
	Op    string `json:"op,omitempty"`
	Left  *Expr  `json:"left,omitempty"`
	Right *Expr  `json:"right,omitempty"`
	Expr  *Expr  `json:"expr,omitempty"` // unary operand

	// Case
	Whens []CaseWhen `json:"whens,omitempty"`
	Else  *Expr      `json:"else,omitempty"`
}

// Col builds an alias-qualified column reference.
func Col(alias, name string) Expr {
	return Expr{Kind: KindColumn, Alias: alias, Name: name}
}

// Lit builds a literal.
func Lit(value any) Expr {
	if value == nil {
		return Expr{Kind: KindLiteral, IsNull: true}
	}
	return Expr{Kind: KindLiteral, Value: value}
}

// Func builds a function call.
func Func(name string, args ...Expr) Expr {
	return Expr{Kind: KindFunc, FuncName: name, Args: args}
}

// Binary builds a binary operation.
func Binary(op string, left, right Expr) Expr {
	return Expr{Kind: KindBinary, Op: op, Left: &left, Right: &right}
}

// Unary builds a unary operation.
func Unary(op string, operand Expr) Expr {
	return Expr{Kind: KindUnary, Op: op, Expr: &operand}
}

// Validate checks structural well-formedness recursively.
func (e Expr) Validate() error {
	switch e.Kind {
	case KindColumn:
		if e.Name == "" {
			return fmt.Errorf("column expression missing name")
		}
	case KindLiteral:
		// any value, including null
	case KindFunc:
		if e.FuncName == "" {
			return fmt.Errorf("func expression missing name")
		}
		for i, arg := range e.Args {
			if err := arg.Validate(); err != nil {
				return fmt.Errorf("func %s arg %d: %w", e.FuncName, i, err)
			}
		}
	case KindBinary:
		if e.Op == "" || e.Left == nil || e.Right == nil {
			return fmt.Errorf("binary expression requires op, left and right")
		}
		if err := e.Left.Validate(); err != nil {
			return err
		}
		if err := e.Right.Validate(); err != nil {
			return err
		}
	case KindUnary:
		if e.Op == "" || e.Expr == nil {
			return fmt.Errorf("unary expression requires op and operand")
		}
		return e.Expr.Validate()
	case KindCase:
		if len(e.Whens) == 0 {
			return fmt.Errorf("case expression requires at least one when")
		}
		for i, w := range e.Whens {
			if err := w.Cond.Validate(); err != nil {
				return fmt.Errorf("case when %d cond: %w", i, err)
			}
			if err := w.Then.Validate(); err != nil {
				return fmt.Errorf("case when %d then: %w", i, err)
			}
		}
		if e.Else != nil {
			return e.Else.Validate()
		}
	default:
		return fmt.Errorf("unknown expression kind %q", e.Kind)
	}
	return nil
}

// Walk visits the expression and all descendants depth-first.
func (e Expr) Walk(visit func(Expr)) {
	visit(e)
	for _, arg := range e.Args {
		arg.Walk(visit)
	}
	if e.Left != nil {
		e.Left.Walk(visit)
	}
	if e.Right != nil {
		e.Right.Walk(visit)
	}
	if e.Expr != nil {
		e.Expr.Walk(visit)
	}
	for _, w := range e.Whens {
		w.Cond.Walk(visit)
		w.Then.Walk(visit)
	}
	if e.Else != nil {
		e.Else.Walk(visit)
	}
}
