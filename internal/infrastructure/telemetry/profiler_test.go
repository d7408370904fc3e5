package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewProfiler(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("disabled is a no-op", func(t *testing.T) {
		p, err := NewProfiler(ProfilerConfig{Enabled: false}, log)
		require.NoError(t, err)
		assert.False(t, p.IsEnabled())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
	})

	t.Run("missing server address", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "datacore"}, log)
		assert.ErrorContains(t, err, "server address is required")
	})

	t.Run("missing application name", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, log)
		assert.ErrorContains(t, err, "application name is required")
	})
}

func TestSanitizeLabels(t *testing.T) {
	long := strings.Repeat("x", MaxLabelValueLength+10)
	pairs := sanitizeLabels(map[string]string{
		ProfilingLabelTenantID:   "acme",
		ProfilingLabelCollection: long,
		"user_id":                "u-1",
		ProfilingLabelOperation:  "",
	})

	require.Len(t, pairs, 4)
	assert.Equal(t, ProfilingLabelCollection, pairs[0])
	assert.Len(t, pairs[1], MaxLabelValueLength)
	assert.Equal(t, []string{ProfilingLabelTenantID, "acme"}, pairs[2:])
}

func TestWithProfilingLabels(t *testing.T) {
	var got string
	WithProfilingLabels(context.Background(), map[string]string{
		ProfilingLabelTenantID: "acme",
		"request_id":           "r-1",
	}, func(ctx context.Context) {
		got, _ = pprof.Label(ctx, ProfilingLabelTenantID)
		_, ok := pprof.Label(ctx, "request_id")
		assert.False(t, ok)
	})
	assert.Equal(t, "acme", got)

	called := false
	WithProfilingLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}

func TestTracerProvider_EnableSpanProfilesWhenDisabled(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)

	tp.EnableSpanProfiles()
	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Provider())
}
