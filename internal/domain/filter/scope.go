package filter

import (
	"github.com/erp/datacore/internal/domain/shared"
)

// Default column names used by Scope
const (
	DefaultTenantField  = "tenant_id"
	DefaultDeletedField = "deleted_at"
)

// Scope is the set of constraints the caller cannot override: the active
// tenant and, optionally, record ownership, soft-delete exclusion and any
// additional constraints the request handler derived (data-scope rules etc.).
type Scope struct {
	TenantID       string
	TenantField    string
	OwnerField     string
	OwnerID        string
	ExcludeDeleted bool
	DeletedField   string
	// Constraints are ANDed with the rest of the scope. Build them with
	// NewClause and NewGroup.
	Constraints []Node
}

// NewClause builds a validated clause for use in Scope.Constraints
func NewClause(field string, op Operator, value any) (Clause, error) {
	c, err := newClause(field, op, value, false)
	if err != nil {
		return Clause{}, err
	}
	return c, nil
}

// NewGroup builds a group for use in Scope.Constraints
func NewGroup(logic Logic, children ...Node) (Group, error) {
	if logic != And && logic != Or {
		return Group{}, shared.ErrInvalidInput.WithMessage("unknown group logic").WithDetail("logic", string(logic))
	}
	g := Group{logic: logic, children: append([]Node(nil), children...)}
	if err := validateNode(g); err != nil {
		return Group{}, err
	}
	return g, nil
}

// CombinedPredicate is a caller expression bound to its scope. The scope is
// always the outermost conjunct, so no caller OR can reach past it.
type CombinedPredicate struct {
	tenantID    string
	tenantField string
	scope       []Node
	expr        Node
}

// MergeWithScope combines expr (which may be nil) with scope. The tenant
// equality is always present.
func MergeWithScope(expr *Expression, scope Scope) (*CombinedPredicate, error) {
	if scope.TenantID == "" {
		return nil, shared.ErrInvalidInput.WithMessage("scope requires a tenant id")
	}
	tenantField := scope.TenantField
	if tenantField == "" {
		tenantField = DefaultTenantField
	}

	nodes := make([]Node, 0, 3+len(scope.Constraints))
	tc, err := NewClause(tenantField, OpEq, scope.TenantID)
	if err != nil {
		return nil, err
	}
	nodes = append(nodes, tc)

	if scope.OwnerField != "" {
		if scope.OwnerID == "" {
			return nil, shared.ErrInvalidInput.WithMessage("owner scope requires an owner id").
				WithDetail("field", scope.OwnerField)
		}
		oc, err := NewClause(scope.OwnerField, OpEq, scope.OwnerID)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, oc)
	}

	if scope.ExcludeDeleted {
		field := scope.DeletedField
		if field == "" {
			field = DefaultDeletedField
		}
		dc, err := NewClause(field, OpExists, false)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, dc)
	}

	for _, c := range scope.Constraints {
		if err := validateNode(c); err != nil {
			return nil, err
		}
		nodes = append(nodes, c)
	}

	p := &CombinedPredicate{
		tenantID:    scope.TenantID,
		tenantField: tenantField,
		scope:       nodes,
	}
	if expr != nil {
		p.expr = expr.root
	}
	return p, nil
}

func validateNode(n Node) error {
	switch v := n.(type) {
	case Clause:
		if _, err := newClause(v.field, v.op, v.value, v.caseInsensitive); err != nil {
			return err
		}
		return nil
	case Group:
		if len(v.children) == 0 {
			return shared.ErrInvalidInput.WithMessage("scope group has no operands")
		}
		for _, c := range v.children {
			if err := validateNode(c); err != nil {
				return err
			}
		}
		return nil
	default:
		return shared.ErrInvalidInput.WithMessage("scope constraint must be a clause or group")
	}
}

// TenantID returns the tenant the predicate is bound to
func (p *CombinedPredicate) TenantID() string { return p.tenantID }

// TenantField returns the column holding the tenant identifier
func (p *CombinedPredicate) TenantField() string { return p.tenantField }

// Scope returns the scope conjuncts, tenant equality first
func (p *CombinedPredicate) Scope() []Node {
	return append([]Node(nil), p.scope...)
}

// Expression returns the caller's node, or nil when the caller gave none
func (p *CombinedPredicate) Expression() Node { return p.expr }

// Root returns the whole predicate as one AND group
func (p *CombinedPredicate) Root() Node {
	children := p.Scope()
	if p.expr != nil {
		children = append(children, p.expr)
	}
	return Group{logic: And, children: children}
}

// Pinned returns the fields the scope fixes to a single value (top-level
// equality conjuncts), e.g. the tenant column. Writes must carry these values.
func (p *CombinedPredicate) Pinned() map[string]any {
	out := make(map[string]any)
	for _, n := range p.scope {
		c, ok := n.(Clause)
		if !ok || c.op != OpEq || c.value == nil || c.caseInsensitive {
			continue
		}
		out[c.field] = c.value
	}
	return out
}
