package dynamic

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// FieldType is the declared type of a document field
type FieldType string

const (
	TypeAny    FieldType = ""
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// FieldSpec declares one field of a collection
type FieldSpec struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Shape is an optional declaration of a collection's documents. It is only
// used to reject bad writes before they reach the store.
type Shape struct {
	Fields       map[string]FieldSpec `json:"fields"`
	AllowUnknown bool                 `json:"allow_unknown"`
}

// Has reports whether the shape knows field. A nil shape, or one allowing
// unknown fields, knows every field.
func (s *Shape) Has(field string) bool {
	if s == nil || s.AllowUnknown {
		return true
	}
	_, ok := s.Fields[field]
	return ok
}

// Validate checks doc against the shape. With partial set, as for update
// patches, missing required fields are allowed but nulling them is not.
func (s *Shape) Validate(doc map[string]any, partial bool) error {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !validColumn(k) {
			return violation(k, "invalid field name")
		}
		if s == nil {
			continue
		}
		spec, ok := s.Fields[k]
		if !ok {
			if !s.AllowUnknown {
				return violation(k, "field is not declared")
			}
			continue
		}
		v := doc[k]
		if v == nil {
			if spec.Required {
				return violation(k, "required field is null")
			}
			continue
		}
		if !spec.Type.accepts(v) {
			return violation(k, "field must be of type "+string(spec.Type)).WithDetail("type", string(spec.Type))
		}
	}

	if s == nil || partial {
		return nil
	}
	required := make([]string, 0)
	for k, spec := range s.Fields {
		if spec.Required {
			required = append(required, k)
		}
	}
	sort.Strings(required)
	for _, k := range required {
		if _, ok := doc[k]; !ok {
			return violation(k, "required field is missing")
		}
	}
	return nil
}

func (t FieldType) accepts(v any) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64, decimal.Decimal, json.Number:
			return true
		}
		return false
	case TypeTime:
		switch x := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339Nano, x)
			return err == nil
		}
		return false
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return false
}

func violation(field, reason string) *shared.DomainError {
	return shared.ErrShapeViolation.WithMessage(reason).WithDetail("field", field)
}
