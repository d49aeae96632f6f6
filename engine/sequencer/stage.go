package sequencer

import (
	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/swap"
)

// FieldBinding binds a field to a slot of bind group 0.
type FieldBinding struct {
	Binding uint32
	Field   swap.FieldBuffer
}

// ParticleBinding binds the particle storage buffer to a slot of bind group 0.
type ParticleBinding struct {
	Binding uint32
	Buffer  swap.ParticleBuffer
}

// Stage is one compute step of the frame. Inputs are bound to the current half of their field and
// outputs to the next half; every output is swapped after each pass.
type Stage struct {
	Name    string
	Program hotload.ProgramHandle

	Inputs  []FieldBinding
	Outputs []FieldBinding

	// Particles is bound read-write when set.
	Particles *ParticleBinding

	// Sampler is the slot of the shared field sampler, if the program samples its inputs.
	Sampler *uint32

	Uniforms   frame.UniformSet
	Workgroups [3]uint32

	// Iterations repeats the stage with alternating parity. Zero runs a single pass with parity 0,
	// otherwise it must be even.
	Iterations int
}

// passes returns how many times the stage dispatches per frame.
func (s Stage) passes() int {
	if s.Iterations > 0 {
		return s.Iterations
	}
	return 1
}

// FadeStage draws a translucent fullscreen triangle before the particles in accumulate mode.
type FadeStage struct {
	Program  hotload.ProgramHandle
	Uniforms frame.UniformSet
}

// RenderStage is the terminal draw of the frame.
type RenderStage struct {
	Name    string
	Program hotload.ProgramHandle

	Particles ParticleBinding
	Inputs    []FieldBinding
	Sampler   *uint32

	Uniforms frame.UniformSet

	// Vertices is the vertex count of the draw. Zero draws one vertex per particle.
	Vertices uint32

	// Fade is optional.
	Fade *FadeStage
}

// Slot returns a pointer to binding, for the optional binding fields of Stage and RenderStage.
func Slot(binding uint32) *uint32 {
	return &binding
}
