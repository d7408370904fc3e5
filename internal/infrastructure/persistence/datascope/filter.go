// Package datascope turns per-collection data-scope rules (who may see which
// rows of a collection) into scope constraints for the filter engine.
//
// Four scope types are supported:
//   - all: every row of the tenant
//   - self: only rows created by the current user
//   - custom: rows whose scope field is one of the rule's values
//   - none: no rows at all
//
// Usage:
//
//	ctx = datascope.WithRules(ctx, rules)
//	scope := filter.Scope{TenantID: tenantID}
//	err := datascope.FromContext(ctx).Apply(&scope, "clientes", userID)
package datascope

import (
	"context"
	"strings"

	"github.com/erp/datacore/internal/domain/filter"
	"github.com/erp/datacore/internal/domain/shared"
)

// ScopeType is the breadth of a data-scope rule
type ScopeType string

const (
	ScopeAll    ScopeType = "all"
	ScopeCustom ScopeType = "custom"
	ScopeSelf   ScopeType = "self"
	ScopeNone   ScopeType = "none"
)

// OwnerField is the column recording who created a row
const OwnerField = "created_by"

// Rule restricts one collection
type Rule struct {
	Collection string
	Type       ScopeType
	Field      string   // custom only
	Values     []string // custom only
}

// Rules maps a collection name to its effective rule
type Rules map[string]Rule

type contextKey struct{}

// WithRules merges rules and stores them in ctx
func WithRules(ctx context.Context, rules ...Rule) context.Context {
	return context.WithValue(ctx, contextKey{}, Merge(rules))
}

// FromContext returns the rules stored in ctx; none means unrestricted
func FromContext(ctx context.Context) Rules {
	if r, ok := ctx.Value(contextKey{}).(Rules); ok {
		return r
	}
	return Rules{}
}

// Merge combines rules from several roles. For each collection the broadest
// rule wins (all > custom > self > none).
func Merge(rules []Rule) Rules {
	merged := make(Rules, len(rules))
	for _, r := range rules {
		key := strings.ToLower(r.Collection)
		existing, ok := merged[key]
		if !ok || level(r.Type) > level(existing.Type) {
			merged[key] = r
		}
	}
	return merged
}

func level(t ScopeType) int {
	switch t {
	case ScopeAll:
		return 100
	case ScopeCustom:
		return 40
	case ScopeSelf:
		return 10
	default:
		return 0
	}
}

// allowedScopeFields are the columns a custom rule may restrict on
var allowedScopeFields = map[string]bool{
	"warehouse_id":  true,
	"region_id":     true,
	"department_id": true,
	"branch_id":     true,
	"created_by":    true,
	"owner_id":      true,
	"assigned_to":   true,
}

// Type returns the effective scope type for a collection
func (r Rules) Type(collection string) ScopeType {
	if rule, ok := r[strings.ToLower(collection)]; ok {
		return rule.Type
	}
	return ScopeAll
}

// Apply adds the collection's rule to scope. userID is the authenticated user.
// Rules that cannot be satisfied (self without a user, custom without values)
// restrict to nothing rather than fall open.
func (r Rules) Apply(scope *filter.Scope, collection, userID string) error {
	rule, ok := r[strings.ToLower(collection)]
	if !ok {
		return nil
	}

	switch rule.Type {
	case ScopeAll:
		return nil

	case ScopeSelf:
		if userID == "" {
			return deny(scope, OwnerField)
		}
		scope.OwnerField = OwnerField
		scope.OwnerID = userID
		return nil

	case ScopeCustom:
		field := rule.Field
		if field == "" {
			field = OwnerField
		}
		if !allowedScopeFields[field] {
			return shared.ErrInvalidInput.WithMessage("data scope field not allowed").
				WithDetail("collection", collection).
				WithDetail("field", field)
		}
		if len(rule.Values) == 0 {
			return deny(scope, field)
		}
		values := make([]any, len(rule.Values))
		for i, v := range rule.Values {
			values[i] = v
		}
		c, err := filter.NewClause(field, filter.OpIn, values)
		if err != nil {
			return err
		}
		scope.Constraints = append(scope.Constraints, c)
		return nil

	default:
		return deny(scope, OwnerField)
	}
}

// deny adds a constraint no row satisfies
func deny(scope *filter.Scope, field string) error {
	c, err := filter.NewClause(field, filter.OpIn, []any{})
	if err != nil {
		return err
	}
	scope.Constraints = append(scope.Constraints, c)
	return nil
}
