package frame

import "github.com/Carmen-Shannon/oxy-fluid/common"

// Delta is an immutable change to State produced between frames.
type Delta interface {
	// ApplyTo returns s with the change applied.
	//
	// Parameters:
	//   - s: the state to change
	//
	// Returns:
	//   - State: the changed copy
	ApplyTo(s State) State
}

// PenMoved sets the position and velocity of a pen, adding it if it is new.
type PenMoved struct {
	ID  int
	Pen Pen
}

func (d PenMoved) ApplyTo(s State) State {
	return s.WithPen(d.ID, d.Pen)
}

// PenReleased removes a pen.
type PenReleased struct {
	ID int
}

func (d PenReleased) ApplyTo(s State) State {
	return s.WithoutPen(d.ID)
}

// TimeStepReset restores the default time step and unpauses.
type TimeStepReset struct{}

func (TimeStepReset) ApplyTo(s State) State {
	s.TimeStep = s.DefaultTimeStep
	s.Paused = false
	return s
}

// TimeStepScaled multiplies the time step by Factor, bounded by MinTimeStep and MaxTimeStep.
type TimeStepScaled struct {
	Factor float32
}

func (d TimeStepScaled) ApplyTo(s State) State {
	if d.Factor <= 0 {
		return s
	}
	s.TimeStep = common.Clamp(s.TimeStep*d.Factor, MinTimeStep, MaxTimeStep)
	return s
}

// PauseToggled flips the paused flag.
type PauseToggled struct{}

func (PauseToggled) ApplyTo(s State) State {
	s.Paused = !s.Paused
	return s
}

// ClearToggled flips between clearing every frame and accumulating.
type ClearToggled struct{}

func (ClearToggled) ApplyTo(s State) State {
	s.ClearMode = !s.ClearMode
	return s
}

// ClearRequested clears the render target once on the next frame.
type ClearRequested struct{}

func (ClearRequested) ApplyTo(s State) State {
	s.ClearOnce = true
	return s
}

// Resized records a new framebuffer size. Non-positive sizes (minimized windows) are ignored.
type Resized struct {
	Width, Height int
}

func (d Resized) ApplyTo(s State) State {
	if d.Width <= 0 || d.Height <= 0 {
		return s
	}
	s.Width = d.Width
	s.Height = d.Height
	return s
}
