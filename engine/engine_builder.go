package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/input"
	"github.com/Carmen-Shannon/oxy-fluid/engine/profiler"
	"github.com/Carmen-Shannon/oxy-fluid/engine/sequencer"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithWindow sets the window whose message loop drives the engine and whose events feed input.
//
// Parameters:
//   - w: the window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithPresenter sets the renderer frames are presented through.
//
// Parameters:
//   - p: the presenter, usually the renderer.Renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPresenter(p Presenter) EngineBuilderOption {
	return func(e *engine) {
		e.presenter = p
	}
}

// WithSequencer sets the sequencer run every frame.
//
// Parameters:
//   - s: the sequencer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSequencer(s sequencer.Sequencer) EngineBuilderOption {
	return func(e *engine) {
		e.sequencer = s
	}
}

// WithHotReload makes the engine drain d into programs at the start of every frame.
//
// Parameters:
//   - d: the debouncer the watcher feeds
//   - programs: the program cache
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithHotReload(d hotload.Debouncer, programs hotload.Notifier) EngineBuilderOption {
	return func(e *engine) {
		e.debouncer = d
		e.programs = programs
	}
}

// WithInput replaces the input translator attached to the window.
//
// Parameters:
//   - t: the translator
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithInput(t input.Translator) EngineBuilderOption {
	return func(e *engine) {
		e.input = t
	}
}

// WithProfiler sets the profiler every frame is reported to.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithLogger sets the logger for skipped frames.
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(logger *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithState sets the frame state of the first frame.
//
// Parameters:
//   - s: the initial state
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithState(s frame.State) EngineBuilderOption {
	return func(e *engine) {
		e.state = s
		e.hasState = true
	}
}

// WithRenderFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithClock sets the time source for elapsed time and frame durations.
//
// Parameters:
//   - now: the clock
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithClock(now func() time.Time) EngineBuilderOption {
	return func(e *engine) {
		if now != nil {
			e.now = now
		}
	}
}
