// Package profiler reports frame timing and program reload results to the log and to prometheus.
package profiler

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Profiler tracks frame rate, frame time and memory statistics, and counts program reloads.
// Stats are logged at a configurable interval. It must be used from a single goroutine.
type Profiler struct {
	logger *zap.Logger
	now    func() time.Time

	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	frames       prometheus.Counter
	frameSeconds prometheus.Histogram
	reloads      *prometheus.CounterVec
}

// ProfilerBuilderOption configures a Profiler at construction.
type ProfilerBuilderOption func(*Profiler)

// WithLogger sets the logger periodic stats are written to.
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the logger option
func WithLogger(logger *zap.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithInterval sets how often stats are logged.
//
// Parameters:
//   - d: the logging interval
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the interval option
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// WithClock sets the time source, for tests.
//
// Parameters:
//   - now: the clock
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the clock option
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProfiler creates a Profiler and registers its collectors with reg.
//
// Parameters:
//   - reg: the registry collectors are added to, or nil to keep them unregistered
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(reg prometheus.Registerer, options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		logger:         zap.NewNop(),
		now:            time.Now,
		updateInterval: time.Second,
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oxyfluid_frames_total",
			Help: "Frames executed by the sequencer.",
		}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oxyfluid_frame_seconds",
			Help:    "Wall time of one frame, from input drain to present.",
			Buckets: []float64{0.001, 0.002, 0.004, 0.008, 0.0167, 0.033, 0.066, 0.125, 0.25},
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oxyfluid_program_reloads_total",
			Help: "Program recompile attempts by result.",
		}, []string{"result"}),
	}

	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()

	if reg != nil {
		reg.MustRegister(p.frames, p.frameSeconds, p.reloads)
	}
	return p
}

// ObserveFrame records one completed frame and logs stats when the interval has elapsed.
//
// Parameters:
//   - d: the wall time the frame took
//
// Returns:
//   - bool: true if stats were logged this frame, false otherwise
func (p *Profiler) ObserveFrame(d time.Duration) bool {
	p.frames.Inc()
	p.frameSeconds.Observe(d.Seconds())
	p.frameCount++

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocRateMB := float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.logger.Info("frame stats",
		zap.Float64("fps", fps),
		zap.Float64("heap_mb", allocMB),
		zap.Float64("alloc_rate_mb_s", allocRateMB),
		zap.Uint32("gc", gcCount),
		zap.Uint64("gc_last_pause_us", lastPauseUs),
		zap.Uint64("gc_max_pause_us", maxPauseUs),
		zap.Float64("sys_mb", sysMB),
	)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// RecordReload counts one program recompile attempt.
//
// Parameters:
//   - result: the attempt's result label (ok, failed or unchanged)
func (p *Profiler) RecordReload(result string) {
	p.reloads.WithLabelValues(result).Inc()
}
