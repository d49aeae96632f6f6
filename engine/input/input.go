// Package input turns window callbacks into frame.Delta values. Deltas are queued as events arrive
// and drained once per frame by the engine, so the frame state only changes between frames.
package input

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-fluid/common"
	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/window"
)

// PointerPen is the pen id the mouse pointer drives.
const PointerPen = 0

const (
	speedUp   float32 = 1.25
	slowDown  float32 = 0.8
	maxQueued         = 1024
)

// EventSource is the part of a window the translator listens to. window.Window implements it.
type EventSource interface {
	SetKeyDownCallback(callback func(keyCode uint32))
	SetMouseDownCallback(callback func(button window.MouseButton, x, y float64))
	SetMouseUpCallback(callback func(button window.MouseButton, x, y float64))
	SetMouseMoveCallback(callback func(x, y float64))
	SetResizeCallback(callback func(width, height int))
	CursorSize() (int, int)
}

// translator is the implementation of the Translator interface.
type translator struct {
	mu *sync.Mutex

	now    func() time.Time
	source EventSource

	pressed  bool
	lastPos  [2]float32
	lastTime time.Time

	pending []frame.Delta
}

// Translator queues frame deltas produced from window events.
type Translator interface {
	// Attach registers the translator's callbacks on src, replacing any set before.
	//
	// Parameters:
	//   - src: the event source, usually the window
	Attach(src EventSource)

	// Drain returns the deltas queued since the last call, oldest first.
	//
	// Returns:
	//   - []frame.Delta: the queued deltas, nil if nothing happened
	Drain() []frame.Delta
}

var _ Translator = &translator{}

// TranslatorBuilderOption configures a Translator at construction.
type TranslatorBuilderOption func(*translator)

// WithClock sets the time source used to derive pointer velocity.
//
// Parameters:
//   - now: the clock
//
// Returns:
//   - TranslatorBuilderOption: a function that applies the clock option
func WithClock(now func() time.Time) TranslatorBuilderOption {
	return func(t *translator) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTranslator creates a Translator with nothing attached.
//
// Parameters:
//   - options: variadic list of TranslatorBuilderOption functions
//
// Returns:
//   - Translator: the new translator
func NewTranslator(options ...TranslatorBuilderOption) Translator {
	t := &translator{
		mu:  &sync.Mutex{},
		now: time.Now,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

func (t *translator) Attach(src EventSource) {
	t.mu.Lock()
	t.source = src
	t.mu.Unlock()

	src.SetKeyDownCallback(t.keyDown)
	src.SetMouseDownCallback(t.mouseDown)
	src.SetMouseUpCallback(t.mouseUp)
	src.SetMouseMoveCallback(t.mouseMove)
	src.SetResizeCallback(t.resize)
}

func (t *translator) Drain() []frame.Delta {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

// push queues d. Once maxQueued deltas are waiting, a pen move replaces a move of the same pen
// queued directly before it, or is dropped. Releases, keys and resizes are always queued.
func (t *translator) push(d frame.Delta) {
	if moved, ok := d.(frame.PenMoved); ok && len(t.pending) >= maxQueued {
		if last, ok := t.pending[len(t.pending)-1].(frame.PenMoved); ok && last.ID == moved.ID {
			t.pending[len(t.pending)-1] = moved
		}
		return
	}
	t.pending = append(t.pending, d)
}

func (t *translator) keyDown(keyCode uint32) {
	var d frame.Delta
	switch keyCode {
	case common.KeyR:
		d = frame.TimeStepReset{}
	case common.KeyUp:
		d = frame.TimeStepScaled{Factor: speedUp}
	case common.KeyDown:
		d = frame.TimeStepScaled{Factor: slowDown}
	case common.KeySpace:
		d = frame.PauseToggled{}
	case common.KeyC:
		d = frame.ClearToggled{}
	case common.KeyX:
		d = frame.ClearRequested{}
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(d)
}

func (t *translator) mouseDown(button window.MouseButton, x, y float64) {
	if button != window.MouseButtonLeft {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pressed = true
	t.lastPos = t.normalize(x, y)
	t.lastTime = t.now()
	t.push(frame.PenMoved{ID: PointerPen, Pen: frame.Pen{X: t.lastPos[0], Y: t.lastPos[1]}})
}

func (t *translator) mouseUp(button window.MouseButton, _, _ float64) {
	if button != window.MouseButtonLeft {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pressed {
		return
	}
	t.pressed = false
	t.push(frame.PenReleased{ID: PointerPen})
}

func (t *translator) mouseMove(x, y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pressed {
		return
	}

	pos := t.normalize(x, y)
	now := t.now()
	var vel [2]float32
	if dt := float32(now.Sub(t.lastTime).Seconds()); dt > 0 {
		vel = [2]float32{(pos[0] - t.lastPos[0]) / dt, (pos[1] - t.lastPos[1]) / dt}
	}
	t.lastPos, t.lastTime = pos, now

	t.push(frame.PenMoved{ID: PointerPen, Pen: frame.Pen{X: pos[0], Y: pos[1], VX: vel[0], VY: vel[1]}})
}

func (t *translator) resize(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(frame.Resized{Width: width, Height: height})
}

// normalize maps a cursor position to [0,1] with y pointing up.
func (t *translator) normalize(x, y float64) [2]float32 {
	w, h := t.source.CursorSize()
	if w <= 0 || h <= 0 {
		return [2]float32{}
	}
	nx := common.Clamp(float32(x/float64(w)), 0, 1)
	ny := common.Clamp(1-float32(y/float64(h)), 0, 1)
	return [2]float32{nx, ny}
}
