package profiler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestObserveFrame_LogsAtInterval(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	now := time.Unix(100, 0)
	p := NewProfiler(prometheus.NewRegistry(),
		WithLogger(zap.New(core)),
		WithClock(func() time.Time { return now }),
	)

	for range 59 {
		now = now.Add(16 * time.Millisecond)
		assert.False(t, p.ObserveFrame(16*time.Millisecond))
	}
	now = now.Add(56 * time.Millisecond)
	assert.True(t, p.ObserveFrame(16*time.Millisecond))

	stats := logs.FilterMessage("frame stats")
	require.Equal(t, 1, stats.Len())
	fps, ok := stats.All()[0].ContextMap()["fps"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 60, fps, 0.5)
	assert.Equal(t, float64(60), testutil.ToFloat64(p.frames))
}

func TestRecordReload_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProfiler(reg)

	p.RecordReload("ok")
	p.RecordReload("failed")
	p.RecordReload("failed")

	assert.Equal(t, float64(1), testutil.ToFloat64(p.reloads.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.reloads.WithLabelValues("failed")))

	n, err := testutil.GatherAndCount(reg, "oxyfluid_program_reloads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewProfiler_NilRegistry(t *testing.T) {
	p := NewProfiler(nil)
	assert.NotPanics(t, func() { p.ObserveFrame(time.Millisecond) })
}
