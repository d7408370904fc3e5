package tenancy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handle is a live transport handle to one tenant database
type Handle interface {
	DB() *gorm.DB
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a handle to the database described by coordinates
type Dialer interface {
	Dial(ctx context.Context, coords tenant.Coordinates) (Handle, error)
}

// entry is the pool's record of one tenant handle. refs is only incremented
// under the manager's read lock, so a writer that sees refs == 0 may remove
// the entry safely.
type entry struct {
	id       string
	tenant   tenant.Tenant
	handle   Handle
	refs     atomic.Int64
	lastUsed atomic.Int64
	removed  atomic.Bool
	closed   atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func newEntry(t tenant.Tenant, h Handle, now time.Time) *entry {
	e := &entry{
		id:     uuid.NewString(),
		tenant: t,
		handle: h,
	}
	e.touch(now)
	return e
}

func (e *entry) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
}

func (e *entry) idleSince() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

// close tears the handle down once and reports whether this call did it
func (e *entry) close() (bool, error) {
	did := false
	e.closeOnce.Do(func() {
		did = true
		e.closed.Store(true)
		e.closeErr = e.handle.Close()
	})
	return did, e.closeErr
}

// ScopedConnection is a borrowed tenant handle. It must be released exactly
// once; further releases are no-ops and any use after release fails.
type ScopedConnection struct {
	mgr      *Manager
	entry    *entry
	once     sync.Once
	released atomic.Bool
}

// DB returns the tenant's gorm handle bound to ctx
func (c *ScopedConnection) DB(ctx context.Context) (*gorm.DB, error) {
	if c.released.Load() {
		return nil, shared.ErrConnectionReleased.WithDetail("tenant_id", c.entry.tenant.ID)
	}
	if c.entry.closed.Load() {
		return nil, shared.ErrPoolClosed.WithDetail("tenant_id", c.entry.tenant.ID)
	}
	return c.entry.handle.DB().WithContext(ctx), nil
}

// TenantID returns the id of the tenant the connection belongs to
func (c *ScopedConnection) TenantID() string {
	return c.entry.tenant.ID
}

// Tenant returns a copy of the tenant record the connection was opened for
func (c *ScopedConnection) Tenant() tenant.Tenant {
	return c.entry.tenant
}

// HandleID identifies the underlying transport handle. Two connections with
// the same HandleID share one dial.
func (c *ScopedConnection) HandleID() string {
	return c.entry.id
}

// Release returns the connection to the pool
func (c *ScopedConnection) Release() {
	c.once.Do(func() {
		c.released.Store(true)
		c.mgr.release(c.entry)
	})
}

// Released reports whether Release has been called
func (c *ScopedConnection) Released() bool {
	return c.released.Load()
}
