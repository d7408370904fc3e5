package dynamic

import (
	"strings"

	"github.com/erp/datacore/internal/domain/shared"
)

const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// SortField orders results by one column
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions controls ordering and paging of Find
type FindOptions struct {
	Sort   []SortField
	Limit  int
	Offset int
}

// ParseSort reads a comma separated sort list such as "name,-created_at",
// where a leading '-' sorts descending
func ParseSort(spec string) ([]SortField, error) {
	var out []SortField
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sf := SortField{Field: part}
		if strings.HasPrefix(part, "-") {
			sf = SortField{Field: part[1:], Desc: true}
		}
		if !validColumn(sf.Field) {
			return nil, shared.ErrInvalidInput.WithMessage("invalid sort field").WithDetail("field", sf.Field)
		}
		out = append(out, sf)
	}
	return out, nil
}

// normalize validates sort fields and clamps paging
func (o FindOptions) normalize() (FindOptions, error) {
	for _, s := range o.Sort {
		if !validColumn(s.Field) {
			return o, shared.ErrInvalidInput.WithMessage("invalid sort field").WithDetail("field", s.Field)
		}
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o, nil
}
