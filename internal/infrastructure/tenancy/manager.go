package tenancy

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/config"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/infrastructure/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Eviction reasons reported to observers
const (
	ReasonIdle        = "idle"
	ReasonCapacity    = "capacity"
	ReasonInvalidated = "invalidated"
	ReasonShutdown    = "shutdown"
)

const (
	drainPollInterval = 10 * time.Millisecond
	maxAcquireRounds  = 3
)

// errStale is returned to waiters of a dial that was overtaken by Invalidate
var errStale = errors.New("tenant handle invalidated while dialing")

// Config holds pool manager settings
type Config struct {
	MaxSize       int
	MaxIdle       time.Duration
	SweepInterval time.Duration
	DialTimeout   time.Duration
	DialRetries   int
	DialBackoff   time.Duration
	ShutdownGrace time.Duration
}

// DefaultConfig returns the pool defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:       100,
		MaxIdle:       10 * time.Minute,
		SweepInterval: time.Minute,
		DialTimeout:   5 * time.Second,
		DialRetries:   1,
		DialBackoff:   200 * time.Millisecond,
		ShutdownGrace: 10 * time.Second,
	}
}

// ConfigFromPool converts the pool section of the application config
func ConfigFromPool(p config.PoolConfig) Config {
	return Config{
		MaxSize:       p.MaxSize,
		MaxIdle:       p.MaxIdle,
		SweepInterval: p.SweepInterval,
		DialTimeout:   p.DialTimeout,
		DialRetries:   p.DialRetries,
		DialBackoff:   p.DialBackoff,
		ShutdownGrace: p.ShutdownGrace,
	}
}

// PoolObserver receives pool events, typically to feed metrics
type PoolObserver interface {
	DialCompleted(ctx context.Context, tenantID string, elapsed time.Duration, err error)
	Evicted(ctx context.Context, tenantID string, reason string)
	Acquired(ctx context.Context, tenantID string, wait time.Duration, reused bool)
}

type nopObserver struct{}

func (nopObserver) DialCompleted(context.Context, string, time.Duration, error) {}
func (nopObserver) Evicted(context.Context, string, string)                     {}
func (nopObserver) Acquired(context.Context, string, time.Duration, bool)       {}

// Stats is a point-in-time view of the pool
type Stats struct {
	Size         int
	InUse        int
	Idle         int
	Dialing      int
	MaxSize      int
	Dials        int64
	DialFailures int64
	Evictions    int64
	Hits         int64
	Misses       int64
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the manager logger
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithObserver registers an observer for pool events
func WithObserver(o PoolObserver) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

type invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Manager owns at most one live handle per tenant. Handles are dialed lazily
// on first Acquire, shared by every concurrent borrower and torn down only
// once nobody holds them.
type Manager struct {
	resolver Resolver
	dialer   Dialer
	cfg      Config
	logger   *zap.Logger
	observer PoolObserver
	now      func() time.Time

	mu       sync.RWMutex
	entries  map[string]*entry
	epochs   map[string]uint64
	// detached holds handles dropped from entries but not yet closed,
	// typically still borrowed after an Invalidate.
	detached map[*entry]struct{}
	reserved int
	closed   bool

	flights   singleflight.Group
	stop      chan struct{}
	sweepOnce sync.Once
	sweepers  sync.WaitGroup

	dials        atomic.Int64
	dialFailures atomic.Int64
	evictions    atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
}

// NewManager creates a pool manager. Nothing is dialed until the first Acquire.
func NewManager(resolver Resolver, dialer Dialer, cfg Config, opts ...ManagerOption) *Manager {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.DialRetries < 0 {
		cfg.DialRetries = 0
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}

	m := &Manager{
		resolver: resolver,
		dialer:   dialer,
		cfg:      cfg,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
		entries:  make(map[string]*entry),
		epochs:   make(map[string]uint64),
		detached: make(map[*entry]struct{}),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("tenant_pool")
	return m
}

// Acquire borrows the tenant's handle, dialing it if needed. Concurrent
// callers for a tenant share one dial; a caller whose ctx ends while waiting
// leaves without affecting the dial. The returned connection must be released.
func (m *Manager) Acquire(ctx context.Context, id string) (*ScopedConnection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, shared.ErrInvalidInput.WithMessage("tenant id is required")
	}

	start := m.now()
	for round := 0; round < maxAcquireRounds; round++ {
		e, err := m.lookup(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			reused := round == 0
			if reused {
				m.hits.Add(1)
			}
			m.observer.Acquired(ctx, id, m.now().Sub(start), reused)
			return &ScopedConnection{mgr: m, entry: e}, nil
		}
		if round == 0 {
			m.misses.Add(1)
		}

		if err := m.awaitDial(ctx, id); err != nil {
			if errors.Is(err, errStale) {
				continue
			}
			return nil, err
		}
	}
	return nil, shared.ErrConnectionFailed.
		WithMessage("tenant handle was evicted before it could be borrowed").
		WithDetail("tenant_id", id)
}

// WithTenantConnection runs fn with a borrowed connection and releases it on
// every exit path, including a panic in fn.
func (m *Manager) WithTenantConnection(ctx context.Context, id string, fn func(ctx context.Context, conn *ScopedConnection) error) error {
	_, err := WithTenantConnectionResult(ctx, m, id, func(ctx context.Context, conn *ScopedConnection) (struct{}, error) {
		return struct{}{}, fn(ctx, conn)
	})
	return err
}

// WithTenantConnectionResult is WithTenantConnection for functions returning a value
func WithTenantConnectionResult[T any](ctx context.Context, m *Manager, id string, fn func(ctx context.Context, conn *ScopedConnection) (T, error)) (T, error) {
	var zero T
	conn, err := m.Acquire(ctx, id)
	if err != nil {
		return zero, err
	}
	defer conn.Release()

	ctx = logger.WithTenantID(ctx, id)
	return fn(ctx, conn)
}

// EvictIdle closes handles nobody has borrowed for longer than maxIdle and
// returns how many were closed. Handles are closed outside the pool lock.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var victims []*entry
	for _, e := range m.entries {
		if e.refs.Load() == 0 && !e.idleSince().After(cutoff) {
			m.removeLocked(e)
			victims = append(victims, e)
		}
	}
	m.mu.Unlock()

	for _, e := range victims {
		m.closeEntry(e, ReasonIdle)
	}
	m.evictions.Add(int64(len(victims)))
	return len(victims)
}

// Invalidate drops the tenant's handle so the next Acquire dials afresh.
// Borrowers of the old handle keep it until they release it.
func (m *Manager) Invalidate(ctx context.Context, id string) bool {
	if inv, ok := m.resolver.(invalidator); ok {
		if err := inv.Invalidate(ctx, id); err != nil {
			m.logger.Warn("failed to invalidate cached tenant record", zap.String("tenant_id", id), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.epochs[id]++
	e := m.entries[id]
	if e != nil {
		m.removeLocked(e)
	}
	m.mu.Unlock()
	m.flights.Forget(id)

	if e == nil {
		return false
	}
	if e.refs.Load() == 0 {
		m.closeEntry(e, ReasonInvalidated)
	}
	return true
}

// StartSweeper evicts idle handles every SweepInterval until ctx ends or the
// manager shuts down. Only the first call starts a sweeper.
func (m *Manager) StartSweeper(ctx context.Context) {
	if m.cfg.SweepInterval <= 0 {
		return
	}
	m.sweepOnce.Do(func() {
		m.sweepers.Add(1)
		go m.sweep(ctx)
	})
}

func (m *Manager) sweep(ctx context.Context) {
	defer m.sweepers.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.EvictIdle(m.cfg.MaxIdle); n > 0 {
				m.logger.Info("evicted idle tenant handles", zap.Int("count", n))
			}
		}
	}
}

// Shutdown stops accepting acquires, waits up to ShutdownGrace (or ctx) for
// borrowed handles to come back, then closes every handle.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	m.sweepers.Wait()

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
	defer cancel()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
drain:
	for m.borrowed() > 0 {
		select {
		case <-waitCtx.Done():
			break drain
		case <-ticker.C:
		}
	}

	m.mu.Lock()
	victims := make([]*entry, 0, len(m.entries)+len(m.detached))
	for _, e := range m.entries {
		e.removed.Store(true)
		victims = append(victims, e)
	}
	for e := range m.detached {
		victims = append(victims, e)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	forced := 0
	var errs []error
	for _, e := range victims {
		if e.refs.Load() > 0 {
			forced++
		}
		if err := m.closeEntry(e, ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}

	if forced > 0 {
		m.logger.Warn("force closed borrowed tenant handles", zap.Int("count", forced))
	}
	m.logger.Info("tenant pool shut down", zap.Int("closed", len(victims)))
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pool
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Size:    len(m.entries),
		Dialing: m.reserved,
		MaxSize: m.cfg.MaxSize,
	}
	for _, e := range m.entries {
		if e.refs.Load() > 0 {
			s.InUse++
		} else {
			s.Idle++
		}
	}
	m.mu.RUnlock()

	s.Dials = m.dials.Load()
	s.DialFailures = m.dialFailures.Load()
	s.Evictions = m.evictions.Load()
	s.Hits = m.hits.Load()
	s.Misses = m.misses.Load()
	return s
}

// RefCount returns how many borrowers hold the tenant's current handle
func (m *Manager) RefCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e := m.entries[id]; e != nil {
		return int(e.refs.Load())
	}
	return 0
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, shared.ErrPoolClosed
	}
	e := m.entries[id]
	if e == nil {
		return nil, nil
	}
	e.refs.Add(1)
	e.touch(m.now())
	return e, nil
}

func (m *Manager) awaitDial(ctx context.Context, id string) error {
	detached := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(id, func() (any, error) {
		return nil, m.create(detached, id)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// create runs once per tenant at a time, inside the tenant's flight
func (m *Manager) create(ctx context.Context, id string) error {
	m.mu.RLock()
	_, exists := m.entries[id]
	epoch := m.epochs[id]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	t, err := m.resolver.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := m.reserve(id); err != nil {
		return err
	}

	start := m.now()
	handle, err := retry.Do[Handle](ctx, m.retryConfig(), m.logger, "tenant dial", func(ctx context.Context) (Handle, error) {
		return m.dial(ctx, t)
	})
	m.observer.DialCompleted(ctx, id, m.now().Sub(start), err)
	if err != nil {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
		m.dialFailures.Add(1)
		m.logger.Warn("tenant dial failed", zap.String("tenant_id", id), zap.Error(err))
		return err
	}

	e := newEntry(*t, handle, m.now())
	m.mu.Lock()
	m.reserved--
	switch {
	case m.closed:
		m.mu.Unlock()
		_ = handle.Close()
		return shared.ErrPoolClosed
	case m.epochs[id] != epoch:
		m.mu.Unlock()
		_ = handle.Close()
		return errStale
	}
	m.entries[id] = e
	m.mu.Unlock()

	m.logger.Info("tenant handle opened",
		zap.String("tenant_id", id),
		zap.String("driver", string(t.Driver)),
		zap.String("database", t.DatabaseName),
		zap.String("handle_id", e.id),
	)
	return nil
}

// reserve claims a pool slot for a dial, evicting the least recently used
// idle handle when the pool is full. Borrowed handles are never evicted.
func (m *Manager) reserve(id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return shared.ErrPoolClosed
	}

	var victim *entry
	if len(m.entries)+m.reserved >= m.cfg.MaxSize {
		victim = m.oldestIdleLocked()
		if victim == nil {
			m.mu.Unlock()
			return shared.ErrConnectionFailed.
				WithMessage("connection pool exhausted").
				WithDetail("tenant_id", id).
				WithDetail("max_size", strconv.Itoa(m.cfg.MaxSize))
		}
		m.removeLocked(victim)
	}
	m.reserved++
	m.mu.Unlock()

	if victim != nil {
		m.closeEntry(victim, ReasonCapacity)
		m.evictions.Add(1)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, t *tenant.Tenant) (Handle, error) {
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}

	m.dials.Add(1)
	h, err := m.dialer.Dial(ctx, t.Coordinates())
	if err != nil {
		if shared.CodeOf(err) != "" {
			return nil, err
		}
		return nil, shared.ErrConnectionFailed.WithDetail("tenant_id", t.ID).Wrap(err)
	}
	return h, nil
}

func (m *Manager) retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = m.cfg.DialRetries + 1
	if m.cfg.DialBackoff > 0 {
		cfg.InitialBackoff = m.cfg.DialBackoff
	}
	cfg.ShouldRetry = shared.IsRetryable
	return cfg
}

func (m *Manager) release(e *entry) {
	n := e.refs.Add(-1)
	e.touch(m.now())
	if n == 0 && e.removed.Load() {
		m.closeEntry(e, ReasonInvalidated)
	}
}

func (m *Manager) borrowed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, e := range m.entries {
		n += e.refs.Load()
	}
	for e := range m.detached {
		n += e.refs.Load()
	}
	return n
}

func (m *Manager) oldestIdleLocked() *entry {
	var oldest *entry
	for _, e := range m.entries {
		if e.refs.Load() != 0 {
			continue
		}
		if oldest == nil || e.lastUsed.Load() < oldest.lastUsed.Load() {
			oldest = e
		}
	}
	return oldest
}

func (m *Manager) removeLocked(e *entry) {
	if m.entries[e.tenant.ID] == e {
		delete(m.entries, e.tenant.ID)
	}
	e.removed.Store(true)
	m.detached[e] = struct{}{}
}

// closeEntry must be called without m.mu held.
func (m *Manager) closeEntry(e *entry, reason string) error {
	m.mu.Lock()
	delete(m.detached, e)
	m.mu.Unlock()

	did, err := e.close()
	if !did {
		return nil
	}
	m.observer.Evicted(context.Background(), e.tenant.ID, reason)
	fields := []zap.Field{
		zap.String("tenant_id", e.tenant.ID),
		zap.String("handle_id", e.id),
		zap.String("reason", reason),
	}
	if err != nil {
		m.logger.Warn("failed to close tenant handle", append(fields, zap.Error(err))...)
		return err
	}
	m.logger.Info("tenant handle closed", fields...)
	return nil
}
