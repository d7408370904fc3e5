package filter

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical returns the expression in raw form with explicit groups, explicit
// exists values and numbers as json.Number. Parse(e.Canonical()) is Equal to e.
func (e *Expression) Canonical() any {
	return canonicalNode(e.root)
}

// MarshalJSON encodes the canonical form
func (e *Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Canonical())
}

// UnmarshalJSON parses data with the default limits
func (e *Expression) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

func canonicalNode(n Node) any {
	switch v := n.(type) {
	case Clause:
		out := map[string]any{
			keyField: v.field,
			keyOp:    string(v.op),
			keyValue: canonicalValue(v.value),
		}
		if v.caseInsensitive {
			out[keyCaseInsensitive] = true
		}
		return out
	case Group:
		list := make([]any, 0, len(v.children))
		for _, c := range v.children {
			list = append(list, canonicalNode(c))
		}
		return map[string]any{string(v.logic): list}
	default:
		return nil
	}
}

func canonicalValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return json.Number(x.String())
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = canonicalValue(x[i])
		}
		return out
	default:
		return v
	}
}
