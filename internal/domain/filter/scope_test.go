package filter

import (
	"errors"
	"testing"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeWithScope_RequiresTenant(t *testing.T) {
	_, err := MergeWithScope(nil, Scope{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestMergeWithScope_ScopeIsOutermost(t *testing.T) {
	expr, err := Parse(clause("activo", "eq", true))
	require.NoError(t, err)

	pred, err := MergeWithScope(expr, Scope{TenantID: "acme"})
	require.NoError(t, err)

	root := pred.Root().(Group)
	require.Equal(t, And, root.Logic())
	children := root.Children()
	require.Len(t, children, 2)

	tc := children[0].(Clause)
	assert.Equal(t, "tenant_id", tc.Field())
	assert.Equal(t, OpEq, tc.Op())
	assert.Equal(t, "acme", tc.Value())
	assert.Equal(t, expr.Root(), children[1])

	assert.Equal(t, map[string]any{"tenant_id": "acme"}, pred.Pinned())
}

func TestMergeWithScope_ActiveCustomersOfTenant(t *testing.T) {
	expr, err := ParseJSON([]byte(`{"field":"activo","op":"eq","value":true}`))
	require.NoError(t, err)
	pred, err := MergeWithScope(expr, Scope{TenantID: "acme"})
	require.NoError(t, err)

	docs := []map[string]any{
		{"tenant_id": "acme", "activo": true, "nombre": "A"},
		{"tenant_id": "acme", "activo": false, "nombre": "B"},
		{"tenant_id": "globex", "activo": true, "nombre": "C"},
		{"activo": true, "nombre": "D"},
	}

	var got []string
	for _, d := range docs {
		if pred.Matches(d) {
			got = append(got, d["nombre"].(string))
		}
	}
	assert.Equal(t, []string{"A"}, got)
}

func TestMergeWithScope_CallerOrCannotEscape(t *testing.T) {
	// every shape a caller might try to widen the tenant with
	attempts := []string{
		`{"or":[{"field":"tenant_id","op":"eq","value":"globex"},{"field":"activo","op":"eq","value":true}]}`,
		`{"field":"tenant_id","op":"ne","value":"acme"}`,
		`{"or":[{"field":"tenant_id","op":"exists"}]}`,
		`[{"or":[{"field":"tenant_id","op":"in","value":["acme","globex"]}]}]`,
		`{"or":[{"or":[{"field":"activo","op":"exists","value":false}]},{"field":"tenant_id","op":"startsWith","value":""}]}`,
	}
	foreign := []map[string]any{
		{"tenant_id": "globex", "activo": true},
		{"tenant_id": "globex"},
		{"activo": true},
		{},
	}

	for _, raw := range attempts {
		expr, err := ParseJSON([]byte(raw))
		require.NoError(t, err, raw)
		pred, err := MergeWithScope(expr, Scope{TenantID: "acme"})
		require.NoError(t, err)

		for _, doc := range foreign {
			assert.False(t, pred.Matches(doc), "%s matched %v", raw, doc)
		}
	}
}

func TestMergeWithScope_OwnerDeletedAndConstraints(t *testing.T) {
	region, err := NewClause("region", OpIn, []any{"norte", "sur"})
	require.NoError(t, err)

	pred, err := MergeWithScope(nil, Scope{
		TenantID:       "acme",
		OwnerField:     "created_by",
		OwnerID:        "u-1",
		ExcludeDeleted: true,
		Constraints:    []Node{region},
	})
	require.NoError(t, err)

	assert.Nil(t, pred.Expression())
	assert.Len(t, pred.Scope(), 4)
	assert.Equal(t, map[string]any{"tenant_id": "acme", "created_by": "u-1"}, pred.Pinned())

	assert.True(t, pred.Matches(map[string]any{"tenant_id": "acme", "created_by": "u-1", "region": "sur"}))
	assert.False(t, pred.Matches(map[string]any{"tenant_id": "acme", "created_by": "u-2", "region": "sur"}))
	assert.False(t, pred.Matches(map[string]any{"tenant_id": "acme", "created_by": "u-1", "region": "este"}))
	assert.False(t, pred.Matches(map[string]any{
		"tenant_id": "acme", "created_by": "u-1", "region": "sur", "deleted_at": "2026-01-01T00:00:00Z",
	}))
}

func TestMergeWithScope_OwnerFieldNeedsID(t *testing.T) {
	_, err := MergeWithScope(nil, Scope{TenantID: "acme", OwnerField: "created_by"})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestMergeWithScope_CustomTenantField(t *testing.T) {
	pred, err := MergeWithScope(nil, Scope{TenantID: "acme", TenantField: "empresa_id"})
	require.NoError(t, err)
	assert.Equal(t, "empresa_id", pred.TenantField())
	assert.True(t, pred.Matches(map[string]any{"empresa_id": "acme"}))
}

func TestNewGroup(t *testing.T) {
	a, err := NewClause("region", OpEq, "norte")
	require.NoError(t, err)

	g, err := NewGroup(Or, a)
	require.NoError(t, err)
	assert.Equal(t, Or, g.Logic())

	_, err = NewGroup(Or)
	assert.Error(t, err)

	_, err = NewGroup("xor", a)
	assert.Error(t, err)

	_, err = MergeWithScope(nil, Scope{TenantID: "acme", Constraints: []Node{Group{}}})
	assert.Error(t, err)
}
