package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/input"
	"github.com/Carmen-Shannon/oxy-fluid/engine/profiler"
	"github.com/Carmen-Shannon/oxy-fluid/engine/sequencer"
	"go.uber.org/zap"
)

// ErrNoWindow is returned by Run when the engine was built without a window.
var ErrNoWindow = errors.New("engine has no window")

// Window is the part of window.Window the engine drives.
type Window interface {
	input.EventSource
	SetUpdateCallback(callback func())
	ProcessMessages()
	RequestClose()
}

// Presenter is the part of the renderer the engine presents and resizes through.
type Presenter interface {
	Present()
	Resize(width, height int)
}

// engine implements the Engine interface.
// Everything it touches runs on the thread that calls Run or Step.
type engine struct {
	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window    Window
	presenter Presenter
	input     input.Translator
	debouncer hotload.Debouncer
	programs  hotload.Notifier
	sequencer sequencer.Sequencer
	profiler  *profiler.Profiler
	logger    *zap.Logger

	state    frame.State
	hasState bool

	// width and height are the surface size last handed to the presenter.
	width, height int

	now       func() time.Time
	start     time.Time
	lastFrame time.Time

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine owns the frame loop: each frame it drains window input into the frame state, applies
// pending program reloads, runs the sequencer and presents.
type Engine interface {
	// Step runs exactly one frame.
	//
	// Returns:
	//   - error: the sequencer error if the frame was aborted, in which case nothing is presented
	Step() error

	// State returns the frame state the next frame starts from.
	//
	// Returns:
	//   - frame.State: the current state
	State() frame.State

	// Run drives Step from the window's message loop until the window closes, Quit is called or
	// ctx is done.
	//
	// Parameters:
	//   - ctx: cancels the loop
	//
	// Returns:
	//   - error: ErrNoWindow if the engine has no window
	Run(ctx context.Context) error

	// Quit stops the loop and asks the window to close.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

var _ Engine = &engine{}

// NewEngine creates an Engine. A sequencer and a presenter are required. When a window is set the
// engine attaches an input translator to it.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: an error if a required part is missing
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		quitChannel: make(chan struct{}),
		logger:      zap.NewNop(),
		now:         time.Now,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.sequencer == nil {
		return nil, errors.New("engine: a sequencer is required")
	}
	if e.presenter == nil {
		return nil, errors.New("engine: a presenter is required")
	}
	if !e.hasState {
		e.state = frame.NewState(0, 0, 0, true)
	}
	e.width, e.height = e.state.Width, e.state.Height

	if e.window != nil {
		if e.input == nil {
			e.input = input.NewTranslator(input.WithClock(e.now))
		}
		e.input.Attach(e.window)
	}
	return e, nil
}

func (e *engine) State() frame.State {
	return e.state
}

func (e *engine) Step() error {
	now := e.now()
	if e.start.IsZero() {
		e.start, e.lastFrame = now, now
	}
	frameTime := now.Sub(e.lastFrame)
	e.lastFrame = now

	if e.input != nil {
		e.state = e.state.Apply(e.input.Drain()...)
	}
	if e.state.Width != e.width || e.state.Height != e.height {
		e.width, e.height = e.state.Width, e.state.Height
		e.presenter.Resize(e.width, e.height)
	}

	// Reloads land before the sequencer resolves this frame's programs.
	if e.debouncer != nil && e.programs != nil {
		e.debouncer.Tick(e.programs)
	}

	st := e.state.Begin(float32(now.Sub(e.start).Seconds()))
	err := e.sequencer.Execute(st)
	if err != nil {
		e.logger.Warn("frame skipped", zap.Uint64("frame", st.Frame), zap.Error(err))
	} else {
		e.presenter.Present()
	}
	e.state = st.End()

	if e.profiler != nil {
		e.profiler.ObserveFrame(frameTime)
	}
	return err
}

func (e *engine) Run(ctx context.Context) error {
	if e.window == nil {
		return ErrNoWindow
	}

	e.window.SetUpdateCallback(func() {
		select {
		case <-ctx.Done():
			e.Quit()
			return
		case <-e.quitChannel:
			return
		default:
		}

		started := e.now()
		_ = e.Step()

		// Frame rate limiting
		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - e.now().Sub(started); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	})
	e.window.ProcessMessages()
	e.Quit()
	return nil
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
		if e.window != nil {
			e.window.RequestClose()
		}
	})
}
