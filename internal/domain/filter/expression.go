// Package filter turns caller-supplied structured filter expressions into an
// immutable predicate tree and merges it with the scope constraints a caller
// can never override.
//
// Raw expressions are the decoded-JSON form:
//
//	{"field": "activo", "op": "eq", "value": true}
//	{"or": [{"field": "ciudad", "op": "eq", "value": "Lima"}, {...}]}
//	[{...}, {...}] // implicit AND
//
// Usage:
//
//	expr, err := filter.Parse(raw)
//	pred, err := filter.MergeWithScope(expr, filter.Scope{TenantID: "acme"})
//	pred.Matches(doc)
package filter

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operator is a comparison operator in a filter clause
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpExists     Operator = "exists"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNe: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpExists: true,
}

// IsRange reports whether the operator needs an orderable value
func (o Operator) IsRange() bool {
	return o == OpGt || o == OpGte || o == OpLt || o == OpLte
}

// IsText reports whether the operator is a substring/text match
func (o Operator) IsText() bool {
	return o == OpContains || o == OpStartsWith || o == OpEndsWith
}

// IsSet reports whether the operator takes a set of values
func (o Operator) IsSet() bool {
	return o == OpIn || o == OpNin
}

// Logic is the boolean combinator of a group
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

// Node is either a Clause or a Group
type Node interface {
	nodeDepth() int
	nodeClauses() int
	equal(Node) bool
}

// Clause is a single (field, operator, value) triple
type Clause struct {
	field           string
	op              Operator
	value           any
	caseInsensitive bool
}

// Field returns the dotted field path
func (c Clause) Field() string { return c.field }

// Op returns the operator
func (c Clause) Op() Operator { return c.op }

// CaseInsensitive reports whether text matching folds case
func (c Clause) CaseInsensitive() bool { return c.caseInsensitive }

// Value returns the normalized value. Numbers are decimal.Decimal, sets are
// []any; the returned slice is a copy.
func (c Clause) Value() any {
	if vs, ok := c.value.([]any); ok {
		out := make([]any, len(vs))
		copy(out, vs)
		return out
	}
	return c.value
}

func (c Clause) nodeDepth() int   { return 0 }
func (c Clause) nodeClauses() int { return 1 }

func (c Clause) equal(n Node) bool {
	o, ok := n.(Clause)
	if !ok {
		return false
	}
	return c.field == o.field &&
		c.op == o.op &&
		c.caseInsensitive == o.caseInsensitive &&
		valuesEqual(c.value, o.value)
}

// Group combines child nodes with AND or OR
type Group struct {
	logic    Logic
	children []Node
}

// Logic returns the combinator
func (g Group) Logic() Logic { return g.logic }

// Children returns a copy of the child list
func (g Group) Children() []Node {
	out := make([]Node, len(g.children))
	copy(out, g.children)
	return out
}

func (g Group) nodeDepth() int {
	max := 0
	for _, c := range g.children {
		if d := c.nodeDepth(); d > max {
			max = d
		}
	}
	return max + 1
}

func (g Group) nodeClauses() int {
	n := 0
	for _, c := range g.children {
		n += c.nodeClauses()
	}
	return n
}

func (g Group) equal(n Node) bool {
	o, ok := n.(Group)
	if !ok || g.logic != o.logic || len(g.children) != len(o.children) {
		return false
	}
	for i := range g.children {
		if !g.children[i].equal(o.children[i]) {
			return false
		}
	}
	return true
}

// Expression is a parsed, immutable filter expression
type Expression struct {
	root Node
}

// Root returns the top node of the expression
func (e *Expression) Root() Node {
	return e.root
}

// Depth returns the group nesting depth (a bare clause is 0)
func (e *Expression) Depth() int {
	return e.root.nodeDepth()
}

// ClauseCount returns the number of leaf clauses
func (e *Expression) ClauseCount() int {
	return e.root.nodeClauses()
}

// Equal reports whether two expressions are structurally equal. Numbers
// compare by value, so 5 and 5.0 are equal.
func (e *Expression) Equal(o *Expression) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.root.equal(o.root)
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
