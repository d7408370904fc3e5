package dynamic

import (
	"errors"
	"testing"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supplierShape() *Shape {
	return &Shape{Fields: map[string]FieldSpec{
		"nombre":     {Type: TypeString, Required: true},
		"activo":     {Type: TypeBool},
		"saldo":      {Type: TypeNumber},
		"creado":     {Type: TypeTime},
		"direccion":  {Type: TypeObject},
		"etiquetas":  {Type: TypeArray},
		"referencia": {},
	}}
}

func shapeField(t *testing.T, err error) string {
	t.Helper()
	var de *shared.DomainError
	require.True(t, errors.As(err, &de), "expected domain error, got %v", err)
	assert.Equal(t, shared.CodeShapeViolation, de.Code)
	return de.Details["field"]
}

func TestShape_ValidateAcceptsWellTypedDocument(t *testing.T) {
	doc := map[string]any{
		"nombre":     "Andina SAC",
		"activo":     true,
		"saldo":      decimal.RequireFromString("120.50"),
		"creado":     "2024-03-01T10:00:00Z",
		"direccion":  map[string]any{"ciudad": "Lima"},
		"etiquetas":  []any{"a", "b"},
		"referencia": 42,
	}
	assert.NoError(t, supplierShape().Validate(doc, false))

	doc["creado"] = time.Now()
	doc["saldo"] = 12
	assert.NoError(t, supplierShape().Validate(doc, false))
}

func TestShape_ValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		doc   map[string]any
		field string
	}{
		{"missing required", map[string]any{"activo": true}, "nombre"},
		{"null required", map[string]any{"nombre": nil}, "nombre"},
		{"wrong type", map[string]any{"nombre": "x", "activo": "yes"}, "activo"},
		{"bad timestamp", map[string]any{"nombre": "x", "creado": "ayer"}, "creado"},
		{"undeclared field", map[string]any{"nombre": "x", "color": "rojo"}, "color"},
		{"invalid field name", map[string]any{"nombre": "x", "a.b": 1}, "a.b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := supplierShape().Validate(tt.doc, false)
			assert.Equal(t, tt.field, shapeField(t, err))
		})
	}
}

func TestShape_PartialSkipsMissingRequired(t *testing.T) {
	s := supplierShape()

	assert.NoError(t, s.Validate(map[string]any{"activo": false}, true))
	assert.Equal(t, "nombre", shapeField(t, s.Validate(map[string]any{"nombre": nil}, true)))
}

func TestShape_NilAndOpen(t *testing.T) {
	var s *Shape
	assert.True(t, s.Has("anything"))
	assert.NoError(t, s.Validate(map[string]any{"anything": 1}, false))
	assert.Equal(t, "bad-name", shapeField(t, s.Validate(map[string]any{"bad-name": 1}, false)))

	open := &Shape{AllowUnknown: true, Fields: map[string]FieldSpec{"nombre": {Type: TypeString}}}
	assert.True(t, open.Has("color"))
	assert.NoError(t, open.Validate(map[string]any{"color": "rojo"}, false))
	assert.Equal(t, "nombre", shapeField(t, open.Validate(map[string]any{"nombre": 1}, false)))

	closed := supplierShape()
	assert.True(t, closed.Has("nombre"))
	assert.False(t, closed.Has("color"))
}

func TestParseSort(t *testing.T) {
	fields, err := ParseSort("nombre, -creado,,")
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Field: "nombre"}, {Field: "creado", Desc: true}}, fields)

	_, err = ParseSort("nombre;drop")
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestFindOptions_Normalize(t *testing.T) {
	o, err := FindOptions{}.normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, o.Limit)

	o, err = FindOptions{Limit: MaxLimit + 1, Offset: -3}.normalize()
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, o.Limit)
	assert.Equal(t, 0, o.Offset)

	_, err = FindOptions{Sort: []SortField{{Field: "x y"}}}.normalize()
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}
