// Package frame holds the per-frame simulation state threaded into the sequencer each frame.
// State is a plain value: input translation produces Delta values which are applied between
// frames, so nothing inside a frame observes a half-updated state.
package frame

const (
	// MaxPens is the fixed number of pen slots uploaded to the GPU every frame.
	MaxPens = 8

	// PausedTimeStep is substituted for the time step while paused. It is large enough that
	// advection shaders treat it as a freeze while the pipeline keeps running.
	PausedTimeStep float32 = 1e9

	// MinTimeStep and MaxTimeStep bound user adjustments of the time step.
	MinTimeStep float32 = 1e-4
	MaxTimeStep float32 = 10
)

// Pen is a pointer or touch contact in normalized [0,1] coordinates with its velocity.
type Pen struct {
	X, Y   float32
	VX, VY float32
}

// PenSlot is one entry of the bounded pen table.
type PenSlot struct {
	ID     int
	Active bool
	Pen    Pen
}

// State is the immutable per-frame input to the sequencer.
type State struct {
	// Elapsed is the wall time in seconds since the engine started.
	Elapsed float32

	// TimeStep is the simulation step used when not paused.
	TimeStep float32

	// DefaultTimeStep is the value TimeStep returns to on reset.
	DefaultTimeStep float32

	// Paused substitutes PausedTimeStep for TimeStep while set.
	Paused bool

	// Width and Height are the framebuffer size in pixels.
	Width, Height int

	// Pens is the bounded pen table. Inactive slots are ignored.
	Pens [MaxPens]PenSlot

	// ClearMode clears the render target every frame when set, otherwise frames accumulate.
	ClearMode bool

	// ClearOnce requests a single clear on the next frame.
	ClearOnce bool

	// Frame counts completed frames.
	Frame uint64
}

// NewState creates the initial frame state.
//
// Parameters:
//   - width: framebuffer width in pixels
//   - height: framebuffer height in pixels
//   - timeStep: the default simulation time step
//   - clearMode: true to clear every frame, false to accumulate
//
// Returns:
//   - State: the initial state
func NewState(width, height int, timeStep float32, clearMode bool) State {
	return State{
		TimeStep:        timeStep,
		DefaultTimeStep: timeStep,
		Width:           width,
		Height:          height,
		ClearMode:       clearMode,
	}
}

// EffectiveTimeStep returns the step the shaders see this frame. The very first frame runs with a
// zero step so the fields start from rest, and a paused state yields PausedTimeStep.
//
// Returns:
//   - float32: the time step to upload
func (s State) EffectiveTimeStep() float32 {
	switch {
	case s.Paused:
		return PausedTimeStep
	case s.Frame == 0:
		return 0
	default:
		return s.TimeStep
	}
}

// ShouldClear reports whether the render target is cleared this frame.
func (s State) ShouldClear() bool {
	return s.ClearMode || s.ClearOnce
}

// PenCount returns the number of active pens.
func (s State) PenCount() int {
	n := 0
	for _, slot := range s.Pens {
		if slot.Active {
			n++
		}
	}
	return n
}

// PenArray returns the active pens packed to the front of a fixed-size array in slot order.
// Entries past PenCount are zero.
//
// Returns:
//   - [MaxPens]Pen: the padded pen array
func (s State) PenArray() [MaxPens]Pen {
	var out [MaxPens]Pen
	i := 0
	for _, slot := range s.Pens {
		if !slot.Active {
			continue
		}
		out[i] = slot.Pen
		i++
	}
	return out
}

// WithPen returns a copy of the state with the pen for id set to p. An existing slot for id is
// updated in place, otherwise the first free slot is taken. When every slot is in use the state
// is returned unchanged.
//
// Parameters:
//   - id: the pen identifier
//   - p: the pen position and velocity
//
// Returns:
//   - State: the updated state
func (s State) WithPen(id int, p Pen) State {
	free := -1
	for i, slot := range s.Pens {
		if slot.Active && slot.ID == id {
			s.Pens[i].Pen = p
			return s
		}
		if !slot.Active && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return s
	}
	s.Pens[free] = PenSlot{ID: id, Active: true, Pen: p}
	return s
}

// WithoutPen returns a copy of the state with the pen for id removed.
func (s State) WithoutPen(id int) State {
	for i, slot := range s.Pens {
		if slot.Active && slot.ID == id {
			s.Pens[i] = PenSlot{}
		}
	}
	return s
}

// Apply returns the state produced by applying each delta in order.
//
// Parameters:
//   - deltas: the deltas to apply
//
// Returns:
//   - State: the resulting state
func (s State) Apply(deltas ...Delta) State {
	for _, d := range deltas {
		if d == nil {
			continue
		}
		s = d.ApplyTo(s)
	}
	return s
}

// Begin stamps the elapsed wall time for the frame about to run.
func (s State) Begin(elapsed float32) State {
	s.Elapsed = elapsed
	return s
}

// End returns the state carried into the next frame: the one-shot clear is consumed and the
// frame counter advances.
func (s State) End() State {
	s.ClearOnce = false
	s.Frame++
	return s
}
