package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/erp/datacore/internal/domain/filter"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Connection is the part of a borrowed tenant connection a collection needs
type Connection interface {
	DB(ctx context.Context) (*gorm.DB, error)
	TenantID() string
	Released() bool
}

// Collection is a name-bound view over a tenant connection. It holds no
// transport state of its own: every operation goes back to the connection,
// so a released connection invalidates all collections bound to it.
type Collection struct {
	conn  Connection
	name  string
	shape *Shape
}

// Bind returns an accessor for the named collection on conn. shape may be nil.
func Bind(conn Connection, name string, shape *Shape) (*Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, shared.ErrInvalidInput.WithMessage("connection is required")
	}
	if conn.Released() {
		return nil, shared.ErrConnectionReleased.
			WithDetail("tenant_id", conn.TenantID()).
			WithDetail("collection", name)
	}
	return &Collection{conn: conn, name: name, shape: shape}, nil
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Shape returns the declared shape, or nil
func (c *Collection) Shape() *Shape {
	return c.shape
}

// Find returns the documents matching pred
func (c *Collection) Find(ctx context.Context, pred *filter.CombinedPredicate, opts FindOptions) ([]map[string]any, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	tx, err := c.scoped(ctx, pred)
	if err != nil {
		return nil, err
	}

	for _, s := range opts.Sort {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: s.Field}, Desc: s.Desc})
	}
	tx = tx.Limit(opts.Limit)
	if opts.Offset > 0 {
		tx = tx.Offset(opts.Offset)
	}

	rows := make([]map[string]any, 0)
	if err := tx.Find(&rows).Error; err != nil {
		return nil, c.wrap("find", err)
	}
	return rows, nil
}

// First returns the first matching document, or NOT_FOUND
func (c *Collection) First(ctx context.Context, pred *filter.CombinedPredicate, order ...SortField) (map[string]any, error) {
	rows, err := c.Find(ctx, pred, FindOptions{Sort: order, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, shared.ErrNotFound.WithMessage("no matching document").WithDetail("collection", c.name)
	}
	return rows[0], nil
}

// Count returns how many documents match pred
func (c *Collection) Count(ctx context.Context, pred *filter.CombinedPredicate) (int64, error) {
	tx, err := c.scoped(ctx, pred)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, c.wrap("count", err)
	}
	return n, nil
}

// Insert writes doc after checking it against the shape. Fields the scope
// pins, such as the tenant column, are stamped onto the document and may not
// be given other values.
func (c *Collection) Insert(ctx context.Context, pred *filter.CombinedPredicate, doc map[string]any) error {
	if err := c.checkTenant(pred); err != nil {
		return err
	}
	pinned := pred.Pinned()
	body, err := withoutPinned(doc, pinned)
	if err != nil {
		return err
	}
	if err := c.shape.Validate(body, false); err != nil {
		return err
	}

	row := storable(body)
	for k, v := range pinned {
		row[k] = sqlValue(v)
	}

	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.Table(c.name).Create(row).Error; err != nil {
		return c.wrap("insert", err)
	}
	return nil
}

// Update applies patch to every document matching pred and returns the
// number of documents changed
func (c *Collection) Update(ctx context.Context, pred *filter.CombinedPredicate, patch map[string]any) (int64, error) {
	if len(patch) == 0 {
		return 0, shared.ErrInvalidInput.WithMessage("update patch is empty").WithDetail("collection", c.name)
	}
	if err := c.checkTenant(pred); err != nil {
		return 0, err
	}
	body, err := withoutPinned(patch, pred.Pinned())
	if err != nil {
		return 0, err
	}
	if len(body) == 0 {
		return 0, nil
	}
	if err := c.shape.Validate(body, true); err != nil {
		return 0, err
	}

	tx, err := c.scoped(ctx, pred)
	if err != nil {
		return 0, err
	}
	res := tx.Updates(storable(body))
	if res.Error != nil {
		return 0, c.wrap("update", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes every document matching pred and returns how many went
func (c *Collection) Delete(ctx context.Context, pred *filter.CombinedPredicate) (int64, error) {
	tx, err := c.scoped(ctx, pred)
	if err != nil {
		return 0, err
	}
	res := tx.Delete(map[string]any{})
	if res.Error != nil {
		return 0, c.wrap("delete", res.Error)
	}
	return res.RowsAffected, nil
}

// scoped starts a statement on the collection restricted to pred
func (c *Collection) scoped(ctx context.Context, pred *filter.CombinedPredicate) (*gorm.DB, error) {
	if err := c.checkTenant(pred); err != nil {
		return nil, err
	}
	where, err := Translate(pred, c.shape.Has)
	if err != nil {
		return nil, err
	}
	db, err := c.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return db.Table(c.name).Where(where), nil
}

func (c *Collection) checkTenant(pred *filter.CombinedPredicate) error {
	if pred == nil {
		return shared.ErrInvalidInput.WithMessage("predicate is required").WithDetail("collection", c.name)
	}
	if pred.TenantID() != c.conn.TenantID() {
		return shared.ErrInvalidInput.
			WithMessage("predicate is scoped to another tenant").
			WithDetail("collection", c.name).
			WithDetail("tenant_id", c.conn.TenantID())
	}
	return nil
}

func (c *Collection) wrap(op string, err error) error {
	if shared.CodeOf(err) != "" {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, c.name, err)
}

// withoutPinned returns a copy of doc without the pinned fields, failing if
// doc tries to give one of them a different value
func withoutPinned(doc map[string]any, pinned map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := doc[k]
		want, ok := pinned[k]
		if !ok {
			out[k] = v
			continue
		}
		if !samePinned(v, want) {
			return nil, shared.ErrInvalidInput.
				WithMessage("document conflicts with scope").
				WithDetail("field", k)
		}
	}
	return out, nil
}

func samePinned(v, want any) bool {
	if wd, ok := want.(decimal.Decimal); ok {
		switch x := v.(type) {
		case decimal.Decimal:
			return x.Equal(wd)
		case int:
			return decimal.NewFromInt(int64(x)).Equal(wd)
		case int64:
			return decimal.NewFromInt(x).Equal(wd)
		case float64:
			return decimal.NewFromFloat(x).Equal(wd)
		}
		return false
	}
	return reflect.DeepEqual(v, want)
}

// storable converts nested objects and arrays to JSON text so they can be
// bound as plain parameters
func storable(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = storableValue(v)
	}
	return out
}

func storableValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case decimal.Decimal:
		return sqlValue(x)
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return sqlValue(d)
		}
		return x.String()
	}
	if k := reflect.TypeOf(v).Kind(); k == reflect.Slice && reflect.TypeOf(v).Elem().Kind() != reflect.Uint8 {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return v
}
