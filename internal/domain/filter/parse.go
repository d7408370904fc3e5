package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Default resource limits applied by Parse
const (
	DefaultMaxDepth   = 10
	DefaultMaxClauses = 200
)

// Raw clause keys
const (
	keyField           = "field"
	keyOp              = "op"
	keyValue           = "value"
	keyCaseInsensitive = "caseInsensitive"
)

type parseOptions struct {
	maxDepth        int
	maxClauses      int
	caseInsensitive bool
}

// Option configures Parse
type Option func(*parseOptions)

// WithMaxDepth overrides the maximum group nesting depth
func WithMaxDepth(n int) Option {
	return func(o *parseOptions) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// WithMaxClauses overrides the maximum number of leaf clauses
func WithMaxClauses(n int) Option {
	return func(o *parseOptions) {
		if n > 0 {
			o.maxClauses = n
		}
	}
}

// WithCaseInsensitiveText makes every contains/startsWith/endsWith clause fold case
func WithCaseInsensitiveText() Option {
	return func(o *parseOptions) {
		o.caseInsensitive = true
	}
}

type parser struct {
	opts    parseOptions
	clauses int
}

// Parse validates a raw, decoded-JSON filter expression and builds its
// predicate tree. Depth is counted in groups: a bare clause is depth 0 and
// every and/or level (including an implicit top-level array) adds one.
func Parse(raw any, opts ...Option) (*Expression, error) {
	p := &parser{opts: parseOptions{
		maxDepth:   DefaultMaxDepth,
		maxClauses: DefaultMaxClauses,
	}}
	for _, opt := range opts {
		opt(&p.opts)
	}

	if raw == nil {
		return nil, parseError("$", "filter expression is empty")
	}
	root, err := p.node(raw, "$", 0)
	if err != nil {
		return nil, err
	}
	return &Expression{root: root}, nil
}

// ParseJSON decodes data and parses it. Numbers keep their exact decimal text.
func ParseJSON(data []byte, opts ...Option) (*Expression, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, shared.ErrParse.WithMessage("filter is not valid JSON").Wrap(err)
	}
	if dec.More() {
		return nil, parseError("$", "trailing data after filter expression")
	}
	return Parse(raw, opts...)
}

func (p *parser) node(raw any, path string, depth int) (Node, error) {
	switch v := raw.(type) {
	case []any:
		return p.group(And, v, path, depth)
	case map[string]any:
		if children, ok, err := groupKey(v, path); err != nil {
			return nil, err
		} else if ok {
			logic, list := children.logic, children.list
			return p.group(logic, list, path+"."+string(logic), depth)
		}
		return p.clause(v, path)
	default:
		return nil, parseError(path, fmt.Sprintf("expected object or array, got %s", describe(raw)))
	}
}

type rawGroup struct {
	logic Logic
	list  []any
}

// groupKey recognises {"and": [...]} / {"or": [...]}
func groupKey(m map[string]any, path string) (rawGroup, bool, error) {
	for _, logic := range []Logic{And, Or} {
		raw, ok := m[string(logic)]
		if !ok {
			continue
		}
		if len(m) != 1 {
			return rawGroup{}, false, parseError(path, fmt.Sprintf("%q group must not have sibling keys", logic))
		}
		list, ok := raw.([]any)
		if !ok {
			return rawGroup{}, false, parseError(path+"."+string(logic), "group operands must be an array")
		}
		return rawGroup{logic: logic, list: list}, true, nil
	}
	return rawGroup{}, false, nil
}

func (p *parser) group(logic Logic, list []any, path string, depth int) (Node, error) {
	depth++
	if depth > p.opts.maxDepth {
		return nil, shared.ErrDepthExceeded.
			WithDetail("path", path).
			WithDetail("max_depth", strconv.Itoa(p.opts.maxDepth))
	}
	if len(list) == 0 {
		return nil, parseError(path, "group must have at least one operand")
	}

	children := make([]Node, 0, len(list))
	for i, item := range list {
		child, err := p.node(item, fmt.Sprintf("%s[%d]", path, i), depth)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return Group{logic: logic, children: children}, nil
}

func (p *parser) clause(m map[string]any, path string) (Node, error) {
	for k := range m {
		switch k {
		case keyField, keyOp, keyValue, keyCaseInsensitive:
		default:
			return nil, parseError(path, "unknown key in clause").WithDetail("key", k)
		}
	}

	p.clauses++
	if p.clauses > p.opts.maxClauses {
		return nil, shared.ErrTooManyClauses.
			WithDetail("path", path).
			WithDetail("max_clauses", strconv.Itoa(p.opts.maxClauses))
	}

	field, ok := m[keyField].(string)
	if !ok {
		return nil, parseError(path, "clause field must be a string")
	}
	opName, ok := m[keyOp].(string)
	if !ok {
		return nil, parseError(path, "clause op must be a string").WithDetail("field", field)
	}

	ci := false
	if raw, present := m[keyCaseInsensitive]; present {
		b, ok := raw.(bool)
		if !ok {
			return nil, parseError(path, "caseInsensitive must be a boolean").WithDetail("field", field)
		}
		ci = b
	}

	value, present := m[keyValue]
	if !present {
		if Operator(opName) != OpExists {
			return nil, parseError(path, "clause value is missing").
				WithDetail("field", field).
				WithDetail("op", opName)
		}
		value = true
	}

	c, err := newClause(field, Operator(opName), value, ci || p.opts.caseInsensitive && Operator(opName).IsText())
	if err != nil {
		return nil, err.WithDetail("path", path)
	}
	return c, nil
}

// newClause validates and normalizes a clause. It is shared by the parser and
// the scope constructors so both produce identical nodes.
func newClause(field string, op Operator, value any, caseInsensitive bool) (Clause, *shared.DomainError) {
	if err := validateFieldPath(field); err != nil {
		return Clause{}, err
	}
	if !knownOperators[op] {
		return Clause{}, shared.ErrParse.WithMessage("unknown operator").
			WithDetail("field", field).
			WithDetail("op", string(op))
	}
	if caseInsensitive && !op.IsText() && op != OpEq && op != OpNe {
		return Clause{}, shared.ErrParse.WithMessage("caseInsensitive only applies to text comparisons").
			WithDetail("field", field).
			WithDetail("op", string(op))
	}

	bad := func(msg string) *shared.DomainError {
		return shared.ErrParse.WithMessage(msg).
			WithDetail("field", field).
			WithDetail("op", string(op))
	}

	var normalized any
	switch {
	case op == OpExists:
		b, ok := value.(bool)
		if !ok {
			return Clause{}, bad("exists expects a boolean")
		}
		normalized = b

	case op.IsSet():
		list, ok := value.([]any)
		if !ok {
			return Clause{}, bad("operator expects an array of values")
		}
		vals := make([]any, 0, len(list))
		for _, item := range list {
			v, err := normalizeScalar(item)
			if err != nil || v == nil {
				return Clause{}, bad("set members must be non-null scalars")
			}
			vals = append(vals, v)
		}
		normalized = vals

	case op.IsText():
		s, ok := value.(string)
		if !ok {
			return Clause{}, bad("text operator expects a string")
		}
		normalized = s

	case op.IsRange():
		v, err := normalizeScalar(value)
		if err != nil || !orderable(v) {
			return Clause{}, bad("range operator expects a number, string or timestamp")
		}
		normalized = v

	default: // eq, ne
		v, err := normalizeScalar(value)
		if err != nil {
			return Clause{}, bad("value must be a scalar")
		}
		if caseInsensitive {
			if _, ok := v.(string); !ok {
				return Clause{}, bad("caseInsensitive needs a string value")
			}
		}
		normalized = v
	}

	return Clause{field: field, op: op, value: normalized, caseInsensitive: caseInsensitive}, nil
}

// validateFieldPath accepts dotted identifiers: letters, digits and underscore,
// not starting with a digit, no empty segments.
func validateFieldPath(field string) *shared.DomainError {
	invalid := shared.ErrParse.WithMessage("invalid field path").WithDetail("field", field)
	if field == "" || len(field) > 128 {
		return invalid
	}
	for _, seg := range strings.Split(field, ".") {
		if seg == "" {
			return invalid
		}
		for i, r := range seg {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return invalid
			}
		}
	}
	return nil
}

// normalizeScalar maps JSON and Go values onto the value domain of the tree:
// nil, bool, string, decimal.Decimal and time.Time.
func normalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case decimal.Decimal:
		return x, nil
	case time.Time:
		return x, nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int8:
		return decimal.NewFromInt(int64(x)), nil
	case int16:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint:
		return decimal.NewFromString(strconv.FormatUint(uint64(x), 10))
	case uint8:
		return decimal.NewFromInt(int64(x)), nil
	case uint16:
		return decimal.NewFromInt(int64(x)), nil
	case uint32:
		return decimal.NewFromInt(int64(x)), nil
	case uint64:
		return decimal.NewFromString(strconv.FormatUint(x, 10))
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func orderable(v any) bool {
	switch v.(type) {
	case decimal.Decimal, string, time.Time:
		return true
	}
	return false
}

func parseError(path, msg string) *shared.DomainError {
	return shared.ErrParse.WithMessage(msg).WithDetail("path", path)
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
