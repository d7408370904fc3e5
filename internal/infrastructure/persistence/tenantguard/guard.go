// Package tenantguard registers GORM callbacks on a tenant handle that refuse
// any statement not pinned to that handle's tenant. It backs up the scope the
// collection layer already applies.
package tenantguard

import (
	"fmt"
	"reflect"

	"github.com/erp/datacore/internal/domain/filter"
	"github.com/erp/datacore/internal/domain/shared"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const skipKey = "tenantguard:skip"

// ErrUnscoped is added to statements that do not pin the tenant
var ErrUnscoped = shared.ErrInvalidInput.WithMessage("statement is not scoped to the tenant")

// Scoped is implemented by WHERE expressions that pin a tenant column
type Scoped interface {
	TenantScope() (column string, value any)
}

// Guard enforces tenant scoping on one handle
type Guard struct {
	column string
	logger *zap.Logger
}

// New creates a guard checking column. An empty column means tenant_id.
func New(column string, logger *zap.Logger) *Guard {
	if column == "" {
		column = filter.DefaultTenantField
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{column: column, logger: logger}
}

// Skip marks a single statement as exempt, for schema introspection and
// other statements that are not about tenant rows
func Skip(db *gorm.DB) *gorm.DB {
	return db.InstanceSet(skipKey, true)
}

// Instrument registers the guard callbacks on db, a handle for tenantID
func (g *Guard) Instrument(db *gorm.DB, tenantID string) error {
	check := func(tx *gorm.DB) { g.checkFilter(tx, tenantID) }

	if err := db.Callback().Query().Before("gorm:query").Register("tenantguard:query", check); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("tenantguard:row", check); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenantguard:update", check); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("tenantguard:delete", check); err != nil {
		return err
	}
	return db.Callback().Create().Before("gorm:create").Register("tenantguard:create", func(tx *gorm.DB) {
		g.checkCreate(tx, tenantID)
	})
}

func (g *Guard) skipped(tx *gorm.DB) bool {
	if tx.Error != nil {
		return true
	}
	if v, ok := tx.InstanceGet(skipKey); ok && v == true {
		return true
	}
	// raw SQL is built by the caller
	return tx.Statement.SQL.Len() > 0
}

func (g *Guard) checkFilter(tx *gorm.DB, tenantID string) {
	if g.skipped(tx) {
		return
	}
	if c, ok := tx.Statement.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok && g.pins(where.Exprs, tenantID) {
			return
		}
	}
	g.reject(tx, tenantID)
}

func (g *Guard) checkCreate(tx *gorm.DB, tenantID string) {
	if g.skipped(tx) {
		return
	}
	var rows []map[string]any
	switch dest := tx.Statement.Dest.(type) {
	case map[string]any:
		rows = []map[string]any{dest}
	case *map[string]any:
		rows = []map[string]any{*dest}
	case []map[string]any:
		rows = dest
	default:
		// typed models carry the column through their own fields
		return
	}
	for _, row := range rows {
		if fmt.Sprint(row[g.column]) != tenantID {
			g.reject(tx, tenantID)
			return
		}
	}
}

// pins reports whether exprs, joined the way clause.Where joins them, require
// the tenant column to equal tenantID. OR branches never count.
func (g *Guard) pins(exprs []clause.Expression, tenantID string) bool {
	for i, e := range exprs {
		// a single-branch OrConditions after the first expression turns the
		// whole list into a disjunction
		if or, ok := e.(clause.OrConditions); ok && i > 0 && len(or.Exprs) == 1 {
			return false
		}
	}
	for _, e := range exprs {
		switch v := e.(type) {
		case Scoped:
			col, val := v.TenantScope()
			if col == g.column && reflect.DeepEqual(val, tenantID) {
				return true
			}
		case clause.Eq:
			if g.isColumn(v.Column) && reflect.DeepEqual(v.Value, tenantID) {
				return true
			}
		case clause.AndConditions:
			if g.pins(v.Exprs, tenantID) {
				return true
			}
		}
	}
	return false
}

func (g *Guard) isColumn(col any) bool {
	switch c := col.(type) {
	case clause.Column:
		return c.Name == g.column
	case string:
		return c == g.column
	}
	return false
}

func (g *Guard) reject(tx *gorm.DB, tenantID string) {
	g.logger.Warn("rejected unscoped statement",
		zap.String("tenant_id", tenantID),
		zap.String("table", tx.Statement.Table),
	)
	_ = tx.AddError(ErrUnscoped.WithDetail("tenant_id", tenantID).WithDetail("table", tx.Statement.Table))
}
