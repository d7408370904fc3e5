package filter

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Matches evaluates the combined predicate against an in-memory document.
// Missing and null fields behave like SQL NULL: only exists:false and
// eq null match them.
func (p *CombinedPredicate) Matches(doc map[string]any) bool {
	return matchNode(p.Root(), doc)
}

// Matches evaluates the expression alone, without any scope
func (e *Expression) Matches(doc map[string]any) bool {
	return matchNode(e.root, doc)
}

func matchNode(n Node, doc map[string]any) bool {
	switch v := n.(type) {
	case Group:
		if v.logic == Or {
			for _, c := range v.children {
				if matchNode(c, doc) {
					return true
				}
			}
			return false
		}
		for _, c := range v.children {
			if !matchNode(c, doc) {
				return false
			}
		}
		return true
	case Clause:
		return matchClause(v, doc)
	default:
		return false
	}
}

// MatchesAbsent reports whether the clause holds for a document that lacks
// the field entirely
func (c Clause) MatchesAbsent() bool {
	return matchClause(c, map[string]any{})
}

func matchClause(c Clause, doc map[string]any) bool {
	actual, present := lookup(doc, c.field)

	switch c.op {
	case OpExists:
		return present == c.value.(bool)
	case OpEq:
		if c.value == nil {
			return !present
		}
		return present && equalValues(actual, c.value, c.caseInsensitive)
	case OpNe:
		if c.value == nil {
			return present
		}
		return present && !equalValues(actual, c.value, c.caseInsensitive)
	case OpIn:
		if !present {
			return false
		}
		for _, want := range c.value.([]any) {
			if equalValues(actual, want, false) {
				return true
			}
		}
		return false
	case OpNin:
		set := c.value.([]any)
		if len(set) == 0 {
			return true
		}
		if !present {
			return false
		}
		for _, want := range set {
			if equalValues(actual, want, false) {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := compareValues(actual, c.value)
		if !ok {
			return false
		}
		switch c.op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := actual.(string)
		if !present || !ok {
			return false
		}
		want := c.value.(string)
		if c.caseInsensitive {
			s, want = fold(s), fold(want)
		}
		switch c.op {
		case OpContains:
			return strings.Contains(s, want)
		case OpStartsWith:
			return strings.HasPrefix(s, want)
		default:
			return strings.HasSuffix(s, want)
		}
	}
	return false
}

// lookup resolves a dotted path through nested maps. A nil value counts as absent.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// fold lowercases rune by rune, the way SQL LOWER does, so in-memory
// matching agrees with translated predicates. Full case folding (ß to ss)
// and the contextual final sigma are not applied.
func fold(s string) string {
	return cases.Lower(language.Und, cases.HandleFinalSigma(false)).String(s)
}

func equalValues(actual, want any, caseInsensitive bool) bool {
	if ws, ok := want.(string); ok {
		as, ok := actual.(string)
		if !ok {
			return false
		}
		if caseInsensitive {
			return fold(as) == fold(ws)
		}
		return as == ws
	}
	if wb, ok := want.(bool); ok {
		ab, ok := actual.(bool)
		return ok && ab == wb
	}
	cmp, ok := compareValues(actual, want)
	return ok && cmp == 0
}

// compareValues orders actual against a normalized clause value. ok is false
// when the two are not of the same kind.
func compareValues(actual, want any) (int, bool) {
	switch w := want.(type) {
	case decimal.Decimal:
		a, ok := toDecimal(actual)
		if !ok {
			return 0, false
		}
		return a.Cmp(w), true
	case string:
		a, ok := actual.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(a, w), true
	case time.Time:
		a, ok := actual.(time.Time)
		if !ok {
			return 0, false
		}
		return a.Compare(w), true
	}
	return 0, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	n, err := normalizeScalar(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	d, ok := n.(decimal.Decimal)
	return d, ok
}
