package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-fluid/common"
	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/sequencer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWindow struct {
	keyDown   func(uint32)
	mouseDown func(window.MouseButton, float64, float64)
	mouseUp   func(window.MouseButton, float64, float64)
	mouseMove func(float64, float64)
	resize    func(int, int)
	update    func()

	closed   bool
	maxLoops int
}

func (w *fakeWindow) SetKeyDownCallback(cb func(uint32)) { w.keyDown = cb }
func (w *fakeWindow) SetMouseDownCallback(cb func(window.MouseButton, float64, float64)) { w.mouseDown = cb }
func (w *fakeWindow) SetMouseUpCallback(cb func(window.MouseButton, float64, float64)) { w.mouseUp = cb }
func (w *fakeWindow) SetMouseMoveCallback(cb func(float64, float64)) { w.mouseMove = cb }
func (w *fakeWindow) SetResizeCallback(cb func(int, int)) { w.resize = cb }
func (w *fakeWindow) SetUpdateCallback(cb func()) { w.update = cb }
func (w *fakeWindow) CursorSize() (int, int) { return 100, 100 }
func (w *fakeWindow) RequestClose() { w.closed = true }

func (w *fakeWindow) ProcessMessages() {
	for i := 0; !w.closed && i < w.maxLoops; i++ {
		if w.update != nil {
			w.update()
		}
	}
}

type fakePresenter struct {
	presents int
	resizes  [][2]int
}

func (p *fakePresenter) Present() { p.presents++ }
func (p *fakePresenter) Resize(width, height int) { p.resizes = append(p.resizes, [2]int{width, height}) }

type fakeSequencer struct {
	states []frame.State
	err    error
	events *[]string
	onRun  func(n int)
}

func (s *fakeSequencer) Execute(st frame.State) error {
	s.states = append(s.states, st)
	if s.events != nil {
		*s.events = append(*s.events, "execute")
	}
	if s.onRun != nil {
		s.onRun(len(s.states))
	}
	return s.err
}

func (s *fakeSequencer) Stages() []sequencer.Stage { return nil }

type fakeNotifier struct {
	paths  [][]string
	events *[]string
}

func (n *fakeNotifier) NotifyChanged(paths []string) []*hotload.ReloadError {
	n.paths = append(n.paths, paths)
	*n.events = append(*n.events, "reload")
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(16 * time.Millisecond)
	return c.t
}

func newTestEngine(t *testing.T, opts ...EngineBuilderOption) (Engine, *fakeWindow, *fakePresenter, *fakeSequencer) {
	t.Helper()
	w := &fakeWindow{maxLoops: 100}
	p := &fakePresenter{}
	s := &fakeSequencer{}
	clock := &fakeClock{t: time.Unix(0, 0)}

	base := []EngineBuilderOption{
		WithWindow(w),
		WithPresenter(p),
		WithSequencer(s),
		WithClock(clock.now),
		WithState(frame.NewState(100, 100, 0.1, false)),
	}
	e, err := NewEngine(append(base, opts...)...)
	require.NoError(t, err)
	return e, w, p, s
}

func TestNewEngine_RequiresSequencerAndPresenter(t *testing.T) {
	_, err := NewEngine(WithPresenter(&fakePresenter{}))
	assert.Error(t, err)
	_, err = NewEngine(WithSequencer(&fakeSequencer{}))
	assert.Error(t, err)
}

func TestStep_AppliesInputBeforeExecute(t *testing.T) {
	e, w, p, s := newTestEngine(t)

	w.keyDown(common.KeySpace)
	w.keyDown(common.KeyX)
	require.NoError(t, e.Step())

	require.Len(t, s.states, 1)
	assert.True(t, s.states[0].Paused)
	assert.True(t, s.states[0].ClearOnce)
	assert.Equal(t, 1, p.presents)

	require.NoError(t, e.Step())
	assert.True(t, s.states[1].Paused)
	assert.False(t, s.states[1].ClearOnce)
	assert.Equal(t, uint64(2), e.State().Frame)
}

func TestStep_PenFromPointerDrag(t *testing.T) {
	e, w, _, s := newTestEngine(t)

	w.mouseDown(window.MouseButtonLeft, 50, 50)
	require.NoError(t, e.Step())
	assert.Equal(t, 1, s.states[0].PenCount())

	w.mouseUp(window.MouseButtonLeft, 50, 50)
	require.NoError(t, e.Step())
	assert.Equal(t, 0, s.states[1].PenCount())
}

func TestStep_ResizesOnlyOnChange(t *testing.T) {
	e, w, p, _ := newTestEngine(t)

	require.NoError(t, e.Step())
	assert.Empty(t, p.resizes)

	w.resize(640, 480)
	require.NoError(t, e.Step())
	require.NoError(t, e.Step())
	assert.Equal(t, [][2]int{{640, 480}}, p.resizes)
}

func TestStep_AbortedFrameIsNotPresented(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e, _, p, s := newTestEngine(t, WithLogger(zap.New(core)))
	s.err = &sequencer.StageError{Stage: "jacobi", Err: sequencer.ErrProgramUnavailable}

	err := e.Step()
	assert.ErrorIs(t, err, sequencer.ErrProgramUnavailable)
	assert.Zero(t, p.presents)

	entries := logs.FilterMessage("frame skipped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(0), entries[0].ContextMap()["frame"])

	// the next frame still runs
	s.err = nil
	require.NoError(t, e.Step())
	assert.Equal(t, 1, p.presents)
}

func TestStep_ReloadsBeforeExecute(t *testing.T) {
	var events []string
	n := &fakeNotifier{events: &events}
	d := hotload.NewDebouncer(8)

	e, _, _, s := newTestEngine(t, WithHotReload(d, n))
	s.events = &events

	d.Notify("/shaders/jacobi.wgsl")
	d.Notify("/shaders/jacobi.wgsl")
	require.NoError(t, e.Step())

	assert.Equal(t, []string{"reload", "execute"}, events)
	assert.Equal(t, [][]string{{"/shaders/jacobi.wgsl"}}, n.paths)
}

func TestStep_ElapsedTime(t *testing.T) {
	e, _, _, s := newTestEngine(t)

	require.NoError(t, e.Step())
	require.NoError(t, e.Step())
	assert.Zero(t, s.states[0].Elapsed)
	assert.InDelta(t, 0.016, s.states[1].Elapsed, 1e-6)
}

func TestRun_StopsWhenContextIsCancelled(t *testing.T) {
	e, w, _, s := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.onRun = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	require.NoError(t, e.Run(ctx))
	assert.Len(t, s.states, 3)
	assert.True(t, w.closed)

	// Quit after Run is a no-op
	e.Quit()
}

func TestRun_QuitStopsLoop(t *testing.T) {
	e, w, _, s := newTestEngine(t)
	s.onRun = func(n int) {
		if n == 2 {
			e.Quit()
		}
	}

	require.NoError(t, e.Run(context.Background()))
	assert.Len(t, s.states, 2)
	assert.True(t, w.closed)
}

func TestRun_WithoutWindow(t *testing.T) {
	e, err := NewEngine(WithPresenter(&fakePresenter{}), WithSequencer(&fakeSequencer{}))
	require.NoError(t, err)
	assert.True(t, errors.Is(e.Run(context.Background()), ErrNoWindow))
}
