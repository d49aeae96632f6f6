// Package fluid wires the stable-fluids simulation together: it registers the solver, advection,
// injection, particle and render programs with the program cache, allocates the velocity field and
// particle buffer, and declares the stage order the sequencer runs every frame.
package fluid

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Carmen-Shannon/oxy-fluid/config"
	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/particle"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-fluid/engine/sequencer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/swap"
	"github.com/cogentcore/webgpu/wgpu"
)

// Program keys.
const (
	ProgramJacobi    = "jacobi"
	ProgramAdvect    = "advect"
	ProgramInject    = "inject"
	ProgramParticles = "particles"
	ProgramRender    = "render"
	ProgramFade      = "fade"
)

// Binding slots shared by the simulation shaders. Slot 0 is always the frame uniforms.
const (
	bindingUniforms  uint32 = 0
	bindingFieldIn   uint32 = 1
	bindingFieldOut  uint32 = 2
	bindingParticles uint32 = 2
	bindingSampler   uint32 = 3
	bindingDrawPts   uint32 = 1
)

// additiveBlend makes overlapping particles brighten each other.
var additiveBlend = &wgpu.BlendState{
	Color: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorSrcAlpha, DstFactor: wgpu.BlendFactorOne},
	Alpha: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOne},
}

var (
	// ErrWorkgroupMismatch is returned when a program's @workgroup_size does not match the
	// dispatch shape its stage was built with.
	ErrWorkgroupMismatch = errors.New("workgroup size does not match the stage dispatch")

	// ErrUndeclaredBinding is returned when a program declares a binding its stage never supplies.
	ErrUndeclaredBinding = errors.New("binding is not supplied by the stage")
)

// stageBindings lists the group 0 slots each stage binds, frame uniforms included.
var stageBindings = map[string][]uint32{
	ProgramJacobi:    {bindingUniforms, bindingFieldIn, bindingFieldOut},
	ProgramAdvect:    {bindingUniforms, bindingFieldIn, bindingFieldOut},
	ProgramInject:    {bindingUniforms, bindingFieldIn, bindingFieldOut},
	ProgramParticles: {bindingUniforms, bindingFieldIn, bindingParticles, bindingSampler},
	ProgramRender:    {bindingUniforms, bindingDrawPts},
	ProgramFade:      {bindingUniforms},
}

// Program describes one program of the simulation.
type Program struct {
	Key     string
	Units   []shader.SourceUnit
	Options []pipeline.PipelineBuilderOption
}

// Programs lists every program the configuration needs, in registration order.
//
// Parameters:
//   - cfg: the validated configuration
//
// Returns:
//   - []Program: the program descriptions
func Programs(cfg config.Config) []Program {
	sh := cfg.Shaders
	compute := func(key, file string) Program {
		return Program{Key: key, Units: []shader.SourceUnit{{Kind: shader.ShaderTypeCompute, Path: sh.Path(file)}}}
	}
	render := func(key, vert, frag string, opts ...pipeline.PipelineBuilderOption) Program {
		return Program{
			Key: key,
			Units: []shader.SourceUnit{
				{Kind: shader.ShaderTypeVertex, Path: sh.Path(vert)},
				{Kind: shader.ShaderTypeFragment, Path: sh.Path(frag)},
			},
			Options: opts,
		}
	}

	programs := []Program{
		compute(ProgramJacobi, sh.Jacobi),
		compute(ProgramAdvect, sh.Advect),
		compute(ProgramInject, sh.Inject),
		compute(ProgramParticles, sh.Particles),
		render(ProgramRender, sh.RenderVertex, sh.RenderFragment,
			pipeline.WithTopology(wgpu.PrimitiveTopologyPointList),
			pipeline.WithBlendEnabled(true),
			pipeline.WithBlendState(additiveBlend)),
	}
	if cfg.Render.Fade {
		programs = append(programs, render(ProgramFade, sh.FadeVertex, sh.FadeFragment,
			pipeline.WithTopology(wgpu.PrimitiveTopologyTriangleList),
			pipeline.WithBlendEnabled(true)))
	}
	return programs
}

// Validator returns the contract check for every version of a simulation program. Build applies it
// to the registered programs, and the program cache applies it to every reload through
// hotload.WithValidator so a version that compiles but no longer fits its stage is rejected.
//
// Parameters:
//   - cfg: the validated configuration
//
// Returns:
//   - hotload.Validator: the check
func Validator(cfg config.Config) hotload.Validator {
	local := uint32(cfg.Simulation.LocalSize)
	return func(key string, current, next pipeline.Pipeline) error {
		return checkProgram(local, key, current, next)
	}
}

// checkProgram verifies that next keeps the workgroup shape its stage dispatches with and only
// declares bindings the stage supplies. current is nil for the first version of a program.
func checkProgram(local uint32, key string, current, next pipeline.Pipeline) error {
	got := next.WorkgroupSize()
	switch key {
	case ProgramJacobi, ProgramAdvect, ProgramInject:
		if want := [3]uint32{local, local, 1}; got != want {
			return fmt.Errorf("program %q: %w: got %v, want %v", key, ErrWorkgroupMismatch, got, want)
		}
	case ProgramParticles:
		if got[0] == 0 || got[1] != 1 || got[2] != 1 {
			return fmt.Errorf("program %q: %w: got %v, want [n 1 1]", key, ErrWorkgroupMismatch, got)
		}
		// the particle dispatch count was derived from the first version
		if current != nil && got != current.WorkgroupSize() {
			return fmt.Errorf("program %q: %w: got %v, want %v", key, ErrWorkgroupMismatch, got, current.WorkgroupSize())
		}
	}

	allowed, ok := stageBindings[key]
	if !ok {
		return nil
	}
	layouts := next.BindGroupLayouts()
	for _, group := range slices.Sorted(maps.Keys(layouts)) {
		for _, e := range layouts[group].Entries {
			if group != 0 || !slices.Contains(allowed, e.Binding) {
				return fmt.Errorf("program %q: %w: group %d binding %d", key, ErrUndeclaredBinding, group, e.Binding)
			}
		}
	}
	return nil
}

// Registrar is the part of the program cache the simulation registers with.
type Registrar interface {
	sequencer.Resolver

	// Register compiles and links a program and returns its stable handle.
	//
	// Parameters:
	//   - key: the program name
	//   - units: the program's source units
	//   - opts: render state options
	//
	// Returns:
	//   - hotload.ProgramHandle: the handle
	//   - error: a *hotload.RegistrationError on failure
	Register(key string, units []shader.SourceUnit, opts ...pipeline.PipelineBuilderOption) (hotload.ProgramHandle, error)
}

// Simulation is the result of Build.
type Simulation struct {
	Sequencer sequencer.Sequencer
	Velocity  swap.FieldBuffer
	Particles swap.ParticleBuffer

	// Handles maps program keys to their registered handles.
	Handles map[string]hotload.ProgramHandle
}

// Build registers every program, allocates the simulation resources and assembles the sequencer.
//
// Parameters:
//   - cfg: the validated configuration
//   - programs: the program cache
//   - pool: the swap pool the fields live in
//   - recorder: the renderer the frames are recorded into
//   - opts: sequencer options
//
// Returns:
//   - *Simulation: the assembled simulation
//   - error: a *hotload.RegistrationError, *renderer.ResourceAllocationError or setup error
func Build(cfg config.Config, programs Registrar, pool swap.Pool, recorder sequencer.Recorder, opts ...sequencer.SequencerBuilderOption) (*Simulation, error) {
	local := uint32(cfg.Simulation.LocalSize)
	handles := make(map[string]hotload.ProgramHandle)
	for _, p := range Programs(cfg) {
		h, err := programs.Register(p.Key, p.Units, p.Options...)
		if err != nil {
			return nil, err
		}
		if err := checkProgram(local, p.Key, nil, programs.Resolve(h)); err != nil {
			return nil, err
		}
		handles[p.Key] = h
	}
	particleGroup := programs.Resolve(handles[ProgramParticles]).WorkgroupSize()[0]

	grid := uint32(cfg.Simulation.Grid)
	velocity, err := pool.Allocate("velocity", renderer.FieldShape{
		Width:  grid,
		Height: grid,
		Format: wgpu.TextureFormatRG32Float,
	})
	if err != nil {
		return nil, err
	}

	seeded := particle.Seed(cfg.Simulation.Particles, cfg.Simulation.Seed)
	particles, err := pool.AllocateParticles("particles", uint32(len(seeded)), particle.Stride, particle.Marshal(seeded))
	if err != nil {
		return nil, err
	}

	field := func(name string, uniforms frame.UniformSet, iterations int) sequencer.Stage {
		return sequencer.Stage{
			Name:       name,
			Program:    handles[name],
			Inputs:     []sequencer.FieldBinding{{Binding: bindingFieldIn, Field: velocity}},
			Outputs:    []sequencer.FieldBinding{{Binding: bindingFieldOut, Field: velocity}},
			Uniforms:   uniforms,
			Workgroups: cfg.Simulation.Workgroups(),
			Iterations: iterations,
		}
	}
	stages := []sequencer.Stage{
		field(ProgramJacobi, frame.UniformParity, cfg.Simulation.Iterations),
		field(ProgramAdvect, frame.UniformTimeStep, 0),
		field(ProgramInject, frame.UniformPens|frame.UniformScreen, 0),
		{
			Name:       ProgramParticles,
			Program:    handles[ProgramParticles],
			Inputs:     []sequencer.FieldBinding{{Binding: bindingFieldIn, Field: velocity}},
			Particles:  &sequencer.ParticleBinding{Binding: bindingParticles, Buffer: particles},
			Sampler:    sequencer.Slot(bindingSampler),
			Uniforms:   frame.UniformTimeStep,
			Workgroups: cfg.Simulation.ParticleWorkgroups(int(particleGroup)),
		},
	}

	render := &sequencer.RenderStage{
		Name:      ProgramRender,
		Program:   handles[ProgramRender],
		Particles: sequencer.ParticleBinding{Binding: bindingDrawPts, Buffer: particles},
		Uniforms:  frame.UniformTime | frame.UniformScreen,
	}
	if h, ok := handles[ProgramFade]; ok {
		render.Fade = &sequencer.FadeStage{Program: h}
	}

	seq, err := sequencer.New(programs, recorder, pool, stages, render, opts...)
	if err != nil {
		return nil, err
	}
	return &Simulation{
		Sequencer: seq,
		Velocity:  velocity,
		Particles: particles,
		Handles:   handles,
	}, nil
}
