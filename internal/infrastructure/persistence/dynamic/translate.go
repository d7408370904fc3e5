package dynamic

import (
	"strings"

	"github.com/erp/datacore/internal/domain/filter"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const likeEscape = `\`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// globEscaper makes a literal safe for sqlite GLOB, whose LIKE ignores case
var globEscaper = strings.NewReplacer(`[`, `[[]`, `*`, `[*]`, `?`, `[?]`)

// Translate turns a combined predicate into a gorm WHERE expression of the
// same shape. Scope conjuncts come first and every group is parenthesized,
// so nothing in the caller's part can loosen the scope.
//
// known reports whether a column exists; clauses on unknown columns become
// the constant the clause has for an absent field. A nil known treats every
// column as present.
func Translate(pred *filter.CombinedPredicate, known func(field string) bool) (clause.Expression, error) {
	if pred == nil {
		return nil, shared.ErrInvalidInput.WithMessage("predicate is required")
	}

	scope := pred.Scope()
	exprs := make([]clause.Expression, 0, len(scope)+1)
	for _, n := range scope {
		e, err := translateNode(n, nil)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	if caller := pred.Expression(); caller != nil {
		e, err := translateNode(caller, known)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}

	return scopedExpr{
		column:   pred.TenantField(),
		tenantID: pred.TenantID(),
		group:    group{exprs: exprs},
	}, nil
}

func translateNode(n filter.Node, known func(string) bool) (clause.Expression, error) {
	switch v := n.(type) {
	case filter.Group:
		children := v.Children()
		exprs := make([]clause.Expression, 0, len(children))
		for _, c := range children {
			e, err := translateNode(c, known)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		return group{or: v.Logic() == filter.Or, exprs: exprs}, nil
	case filter.Clause:
		return translateClause(v, known)
	default:
		return nil, shared.ErrInvalidInput.WithMessage("unsupported filter node")
	}
}

func translateClause(c filter.Clause, known func(string) bool) (clause.Expression, error) {
	field := c.Field()
	if !validColumn(field) {
		return nil, shared.ErrInvalidInput.
			WithMessage("nested field paths are not supported on table collections").
			WithDetail("field", field).
			WithDetail("op", string(c.Op()))
	}
	if known != nil && !known(field) {
		return constant(c.MatchesAbsent()), nil
	}

	col := clause.Column{Name: field}
	value := c.Value()

	switch op := c.Op(); op {
	case filter.OpExists:
		return nullCheck{column: col, not: value.(bool)}, nil
	case filter.OpEq, filter.OpNe:
		if value == nil {
			return nullCheck{column: col, not: op == filter.OpNe}, nil
		}
		sqlOp := "="
		if op == filter.OpNe {
			sqlOp = "<>"
		}
		return compare{column: col, op: sqlOp, value: sqlValue(value), fold: c.CaseInsensitive()}, nil
	case filter.OpGt:
		return compare{column: col, op: ">", value: sqlValue(value)}, nil
	case filter.OpGte:
		return compare{column: col, op: ">=", value: sqlValue(value)}, nil
	case filter.OpLt:
		return compare{column: col, op: "<", value: sqlValue(value)}, nil
	case filter.OpLte:
		return compare{column: col, op: "<=", value: sqlValue(value)}, nil
	case filter.OpIn, filter.OpNin:
		set := value.([]any)
		if len(set) == 0 {
			return constant(op == filter.OpNin), nil
		}
		values := make([]any, len(set))
		for i, v := range set {
			values[i] = sqlValue(v)
		}
		return membership{column: col, values: values, not: op == filter.OpNin}, nil
	case filter.OpContains, filter.OpStartsWith, filter.OpEndsWith:
		raw := value.(string)
		s, g := likeEscaper.Replace(raw), globEscaper.Replace(raw)
		switch op {
		case filter.OpContains:
			s, g = "%"+s+"%", "*"+g+"*"
		case filter.OpStartsWith:
			s, g = s+"%", g+"*"
		default:
			s, g = "%"+s, "*"+g
		}
		return like{column: col, pattern: s, glob: g, fold: c.CaseInsensitive()}, nil
	default:
		return nil, shared.ErrParse.WithMessage("unknown operator").
			WithDetail("field", field).
			WithDetail("op", string(op))
	}
}

// sqlValue binds integral decimals as integers so integer columns compare
// without casts on every driver
func sqlValue(v any) any {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return v
	}
	if d.IsInteger() {
		if i := d.IntPart(); decimal.NewFromInt(i).Equal(d) {
			return i
		}
	}
	return d
}

// scopedExpr is the root of a translated predicate. It remembers the tenant
// it pins so statement guards can verify it.
type scopedExpr struct {
	column   string
	tenantID string
	group    group
}

func (s scopedExpr) Build(b clause.Builder) {
	s.group.Build(b)
}

// TenantScope returns the tenant column and value the expression requires
func (s scopedExpr) TenantScope() (string, any) {
	return s.column, s.tenantID
}

type group struct {
	or    bool
	exprs []clause.Expression
}

func (g group) Build(b clause.Builder) {
	join := " AND "
	if g.or {
		join = " OR "
	}
	b.WriteByte('(')
	for i, e := range g.exprs {
		if i > 0 {
			b.WriteString(join)
		}
		e.Build(b)
	}
	b.WriteByte(')')
}

type constant bool

func (c constant) Build(b clause.Builder) {
	if c {
		b.WriteString("1 = 1")
		return
	}
	b.WriteString("1 = 0")
}

type nullCheck struct {
	column clause.Column
	not    bool
}

func (n nullCheck) Build(b clause.Builder) {
	b.WriteQuoted(n.column)
	if n.not {
		b.WriteString(" IS NOT NULL")
		return
	}
	b.WriteString(" IS NULL")
}

type compare struct {
	column clause.Column
	op     string
	value  any
	fold   bool
}

func (c compare) Build(b clause.Builder) {
	if c.fold {
		b.WriteString("LOWER(")
		b.WriteQuoted(c.column)
		b.WriteString(") " + c.op + " LOWER(")
		b.AddVar(b, c.value)
		b.WriteByte(')')
		return
	}
	b.WriteQuoted(c.column)
	b.WriteString(" " + c.op + " ")
	b.AddVar(b, c.value)
}

type membership struct {
	column clause.Column
	values []any
	not    bool
}

func (m membership) Build(b clause.Builder) {
	b.WriteQuoted(m.column)
	if m.not {
		b.WriteString(" NOT IN (")
	} else {
		b.WriteString(" IN (")
	}
	b.AddVar(b, m.values...)
	b.WriteByte(')')
}

type like struct {
	column  clause.Column
	pattern string
	glob    string
	fold    bool
}

func (l like) Build(b clause.Builder) {
	if !l.fold && dialect(b) == "sqlite" {
		b.WriteQuoted(l.column)
		b.WriteString(" GLOB ")
		b.AddVar(b, l.glob)
		return
	}
	if l.fold {
		b.WriteString("LOWER(")
		b.WriteQuoted(l.column)
		b.WriteString(") LIKE LOWER(")
		b.AddVar(b, l.pattern)
		b.WriteString(")")
	} else {
		b.WriteQuoted(l.column)
		b.WriteString(" LIKE ")
		b.AddVar(b, l.pattern)
	}
	b.WriteString(" ESCAPE '" + likeEscape + "'")
}

func dialect(b clause.Builder) string {
	stmt, ok := b.(*gorm.Statement)
	if !ok || stmt.DB == nil || stmt.DB.Config == nil || stmt.DB.Dialector == nil {
		return ""
	}
	return stmt.DB.Dialector.Name()
}
