package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpression_Matches(t *testing.T) {
	doc := map[string]any{
		"nombre":  "Ñandú Comercial",
		"saldo":   int64(150),
		"limite":  json.Number("99.5"),
		"activo":  true,
		"ciudad":  "Lima",
		"borrado": nil,
		"contacto": map[string]any{
			"email": "ventas@nandu.pe",
		},
	}

	tests := []struct {
		name string
		raw  any
		want bool
	}{
		{"eq string", clause("ciudad", "eq", "Lima"), true},
		{"eq is case sensitive", clause("ciudad", "eq", "lima"), false},
		{"eq case insensitive", map[string]any{"field": "ciudad", "op": "eq", "value": "LIMA", "caseInsensitive": true}, true},
		{"eq number across types", clause("saldo", "eq", 150.0), true},
		{"gt int field", clause("saldo", "gt", 100), true},
		{"lte json number field", clause("limite", "lte", 99.5), true},
		{"lt false", clause("limite", "lt", 99.5), false},
		{"range on string field vs number", clause("ciudad", "gt", 1), false},
		{"ne present", clause("ciudad", "ne", "Cusco"), true},
		{"ne on absent field", clause("pais", "ne", "PE"), false},
		{"eq null on null field", clause("borrado", "eq", nil), true},
		{"ne null on present", clause("ciudad", "ne", nil), true},
		{"in", clause("ciudad", "in", []any{"Cusco", "Lima"}), true},
		{"in empty", clause("ciudad", "in", []any{}), false},
		{"nin", clause("ciudad", "nin", []any{"Cusco"}), true},
		{"nin empty", clause("pais", "nin", []any{}), true},
		{"nin on absent", clause("pais", "nin", []any{"PE"}), false},
		{"contains", clause("nombre", "contains", "Comer"), true},
		{"contains case sensitive", clause("nombre", "contains", "comer"), false},
		{"startsWith folded", map[string]any{"field": "nombre", "op": "startsWith", "value": "ñANDÚ", "caseInsensitive": true}, true},
		{"endsWith", clause("nombre", "endsWith", "cial"), true},
		{"exists", map[string]any{"field": "activo", "op": "exists"}, true},
		{"exists false on null", clause("borrado", "exists", false), true},
		{"nested path", clause("contacto.email", "endsWith", ".pe"), true},
		{"nested path missing", clause("contacto.telefono", "exists", true), false},
		{"or", map[string]any{"or": []any{clause("ciudad", "eq", "Cusco"), clause("activo", "eq", true)}}, true},
		{"and", []any{clause("ciudad", "eq", "Cusco"), clause("activo", "eq", true)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Matches(doc))
		})
	}
}

func TestExpression_MatchesTime(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := NewClause("creado", OpGte, cutoff)
	require.NoError(t, err)

	pred, err := MergeWithScope(nil, Scope{TenantID: "acme", Constraints: []Node{c}})
	require.NoError(t, err)

	assert.True(t, pred.Matches(map[string]any{"tenant_id": "acme", "creado": cutoff.Add(time.Hour)}))
	assert.False(t, pred.Matches(map[string]any{"tenant_id": "acme", "creado": cutoff.Add(-time.Hour)}))
}

func TestFold_LowercasesLikeSQL(t *testing.T) {
	assert.Equal(t, "ñandú", fold("ÑANDÚ"))
	assert.Equal(t, "straße", fold("STRAßE"))
	assert.Equal(t, "οδοσ", fold("ΟΔΟΣ"))

	// LOWER('Straße') never equals LOWER('STRASSE') in SQL
	expr, err := Parse(map[string]any{"field": "calle", "op": "contains", "value": "STRASSE", "caseInsensitive": true})
	require.NoError(t, err)
	assert.False(t, expr.Matches(map[string]any{"calle": "Hauptstraße"}))
}
