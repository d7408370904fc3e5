package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const poolMeterName = "github.com/erp/datacore/tenancy"

// PoolMetrics turns connection pool events into OpenTelemetry instruments.
// It satisfies the pool manager's observer contract.
type PoolMetrics struct {
	dials        *Counter
	dialFailures *Counter
	evictions    *Counter
	acquires     *Counter
	dialDuration *Histogram
	acquireWait  *Histogram
}

// NewPoolMetrics creates the pool instruments on the given meter.
func NewPoolMetrics(meter metric.Meter) (*PoolMetrics, error) {
	var (
		pm  PoolMetrics
		err error
	)

	if pm.dials, err = NewCounter(meter, "tenant_pool_dials_total", "Tenant database dials attempted", "{dial}"); err != nil {
		return nil, err
	}
	if pm.dialFailures, err = NewCounter(meter, "tenant_pool_dial_failures_total", "Tenant database dials that failed", "{dial}"); err != nil {
		return nil, err
	}
	if pm.evictions, err = NewCounter(meter, "tenant_pool_evictions_total", "Tenant handles removed from the pool", "{handle}"); err != nil {
		return nil, err
	}
	if pm.acquires, err = NewCounter(meter, "tenant_pool_acquires_total", "Tenant handles borrowed from the pool", "{acquire}"); err != nil {
		return nil, err
	}
	if pm.dialDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "tenant_pool_dial_duration_seconds",
		Description: "Time to open and ping a tenant database",
		Unit:        "s",
		Boundaries:  DialDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if pm.acquireWait, err = NewHistogram(meter, HistogramOpts{
		Name:        "tenant_pool_acquire_wait_seconds",
		Description: "Time spent waiting for a tenant handle",
		Unit:        "s",
		Boundaries:  AcquireWaitBuckets,
	}); err != nil {
		return nil, err
	}
	return &pm, nil
}

// NewPoolMetricsFromProvider is a convenience over NewPoolMetrics.
func NewPoolMetricsFromProvider(mp *MeterProvider) (*PoolMetrics, error) {
	return NewPoolMetrics(mp.Meter(poolMeterName))
}

// DialCompleted records one dial attempt sequence for a tenant.
func (pm *PoolMetrics) DialCompleted(ctx context.Context, tenantID string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		pm.dialFailures.Inc(ctx, AttrTenantID.String(tenantID))
	}
	pm.dials.Inc(ctx, AttrTenantID.String(tenantID), AttrOutcome.String(outcome))
	pm.dialDuration.RecordDuration(ctx, elapsed, AttrOutcome.String(outcome))
}

// Evicted records a handle leaving the pool.
func (pm *PoolMetrics) Evicted(ctx context.Context, tenantID string, reason string) {
	pm.evictions.Inc(ctx, AttrTenantID.String(tenantID), AttrReason.String(reason))
}

// Acquired records a borrow and how long the caller waited for it.
func (pm *PoolMetrics) Acquired(ctx context.Context, tenantID string, wait time.Duration, reused bool) {
	attrs := []attribute.KeyValue{AttrReused.Bool(reused)}
	pm.acquires.Inc(ctx, append(attrs, AttrTenantID.String(tenantID))...)
	pm.acquireWait.RecordDuration(ctx, wait, attrs...)
}
