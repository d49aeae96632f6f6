// Package sequencer runs the declared compute stages and the terminal render stage once per
// frame, in declaration order, binding each field's current and next halves from the swap pool.
package sequencer

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-fluid/engine/swap"
	"go.uber.org/zap"
)

// fadeVertices is a single triangle covering the viewport.
const fadeVertices = 3

var (
	// ErrProgramUnavailable is returned when a stage's handle resolves to no program.
	ErrProgramUnavailable = errors.New("program unavailable")

	// ErrAliasedBinding is returned when a pass would read and write the same resource.
	ErrAliasedBinding = errors.New("input and output alias the same resource")
)

// Resolver returns the current program for a handle. hotload.Cache implements it.
type Resolver interface {
	Resolve(h hotload.ProgramHandle) pipeline.Pipeline
}

// Recorder is the part of the renderer the sequencer records work into.
type Recorder interface {
	BeginComputeFrame() error
	DispatchCompute(p pipeline.Pipeline, bindings []renderer.Binding, uniforms []byte, workGroupCount [3]uint32) error
	Barrier() error
	EndComputeFrame()
	BeginFrame(clear bool) error
	DrawCall(p pipeline.Pipeline, bindings []renderer.Binding, uniforms []byte, vertexCount uint32) error
	EndFrame()
}

// sequencer is the implementation of the Sequencer interface.
type sequencer struct {
	programs Resolver
	recorder Recorder
	pool     swap.Pool
	logger   *zap.Logger

	stages []Stage
	render *RenderStage
}

// Sequencer executes the frame's stages.
type Sequencer interface {
	// Execute runs every compute stage then the render stage. A stage whose program cannot be
	// resolved aborts the frame.
	//
	// Parameters:
	//   - st: the frame state supplying the uniforms
	//
	// Returns:
	//   - error: a *StageError describing the first failure
	Execute(st frame.State) error

	// Stages returns the compute stages in execution order.
	//
	// Returns:
	//   - []Stage: the stages
	Stages() []Stage
}

var _ Sequencer = &sequencer{}

// SequencerBuilderOption configures a Sequencer at construction.
type SequencerBuilderOption func(*sequencer)

// WithLogger sets the logger aborted frames are reported to.
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - SequencerBuilderOption: a function that applies the logger option
func WithLogger(logger *zap.Logger) SequencerBuilderOption {
	return func(s *sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates the stage declarations and creates a Sequencer.
//
// Parameters:
//   - programs: resolves program handles each frame
//   - recorder: records the GPU work, usually the renderer
//   - pool: the swap pool owning every bound field and particle buffer
//   - stages: the compute stages in execution order
//   - render: the terminal render stage, or nil for compute only
//   - options: variadic list of SequencerBuilderOption functions
//
// Returns:
//   - Sequencer: the new sequencer
//   - error: a *StageError for the first invalid stage
func New(programs Resolver, recorder Recorder, pool swap.Pool, stages []Stage, render *RenderStage, options ...SequencerBuilderOption) (Sequencer, error) {
	for _, st := range stages {
		if err := validateStage(st); err != nil {
			return nil, &StageError{Stage: st.Name, Err: err}
		}
	}

	s := &sequencer{
		programs: programs,
		recorder: recorder,
		pool:     pool,
		logger:   zap.NewNop(),
		stages:   append([]Stage(nil), stages...),
		render:   render,
	}

	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func validateStage(st Stage) error {
	if st.Iterations < 0 || st.Iterations%2 != 0 {
		return fmt.Errorf("iterations must be zero or a positive even count, got %d", st.Iterations)
	}
	for i, n := range st.Workgroups {
		if n == 0 {
			return fmt.Errorf("workgroup count %d is zero", i)
		}
	}

	slots := make(map[uint32]struct{})
	claim := func(b uint32) error {
		if _, ok := slots[b]; ok {
			return fmt.Errorf("binding %d is used twice", b)
		}
		slots[b] = struct{}{}
		return nil
	}

	for _, in := range st.Inputs {
		if err := claim(in.Binding); err != nil {
			return err
		}
	}
	written := make(map[swap.FieldBuffer]struct{}, len(st.Outputs))
	for _, out := range st.Outputs {
		if _, ok := written[out.Field]; ok {
			return fmt.Errorf("field %d is written twice", out.Field)
		}
		written[out.Field] = struct{}{}
		if err := claim(out.Binding); err != nil {
			return err
		}
	}
	if st.Particles != nil {
		if err := claim(st.Particles.Binding); err != nil {
			return err
		}
	}
	if st.Sampler != nil {
		if err := claim(*st.Sampler); err != nil {
			return err
		}
	}
	return nil
}

func (s *sequencer) Execute(st frame.State) error {
	if err := s.recorder.BeginComputeFrame(); err != nil {
		return &StageError{Stage: "compute", Err: err}
	}

	for _, stage := range s.stages {
		if err := s.runStage(st, stage); err != nil {
			s.recorder.EndComputeFrame()
			s.logger.Warn("frame aborted", zap.String("stage", stage.Name), zap.Error(err))
			return &StageError{Stage: stage.Name, Err: err}
		}
	}
	s.recorder.EndComputeFrame()

	if s.render == nil {
		return nil
	}
	if err := s.runRender(st, *s.render); err != nil {
		s.logger.Warn("render aborted", zap.String("stage", s.render.Name), zap.Error(err))
		return &StageError{Stage: s.render.Name, Err: err}
	}
	return nil
}

func (s *sequencer) runStage(st frame.State, stage Stage) (err error) {
	p := s.programs.Resolve(stage.Program)
	if p == nil {
		return fmt.Errorf("%w: handle %d", ErrProgramUnavailable, stage.Program)
	}

	swaps := 0
	defer func() {
		// an aborted stage hands its outputs back at the parity it found them in
		if err != nil && swaps%2 == 1 {
			for _, out := range stage.Outputs {
				s.pool.Swap(out.Field)
			}
		}
	}()

	for i := range stage.passes() {
		bindings, err := s.bindPass(stage)
		if err != nil {
			return err
		}

		var parity uint32
		if stage.Iterations > 0 {
			parity = uint32(i % 2)
		}
		u := frame.NewGPUFrameUniforms(st, stage.Uniforms, parity)

		if err := s.recorder.DispatchCompute(p, bindings, u.Marshal(), stage.Workgroups); err != nil {
			return err
		}
		if err := s.recorder.Barrier(); err != nil {
			return err
		}
		for _, out := range stage.Outputs {
			s.pool.Swap(out.Field)
		}
		swaps++
	}
	return nil
}

// bindPass resolves the stage's bindings for one pass and rejects any pass whose reads and writes
// would touch the same resource.
func (s *sequencer) bindPass(stage Stage) ([]renderer.Binding, error) {
	bindings := make([]renderer.Binding, 0, len(stage.Inputs)+len(stage.Outputs)+2)
	reads := make(map[renderer.ResourceID]struct{}, len(stage.Inputs))

	for _, in := range stage.Inputs {
		id := s.pool.Current(in.Field)
		reads[id] = struct{}{}
		bindings = append(bindings, renderer.Binding{Binding: in.Binding, Resource: id, Access: renderer.AccessRead})
	}
	for _, out := range stage.Outputs {
		id := s.pool.Next(out.Field)
		if _, ok := reads[id]; ok {
			return nil, fmt.Errorf("%w: field %q", ErrAliasedBinding, s.pool.Label(out.Field))
		}
		bindings = append(bindings, renderer.Binding{Binding: out.Binding, Resource: id, Access: renderer.AccessWrite})
	}
	if stage.Particles != nil {
		bindings = append(bindings, renderer.Binding{
			Binding:  stage.Particles.Binding,
			Resource: s.pool.Particles(stage.Particles.Buffer),
			Access:   renderer.AccessStorage,
		})
	}
	if stage.Sampler != nil {
		bindings = append(bindings, renderer.Binding{Binding: *stage.Sampler, Resource: s.pool.Sampler(), Access: renderer.AccessSampler})
	}
	return bindings, nil
}

func (s *sequencer) runRender(st frame.State, rs RenderStage) error {
	p := s.programs.Resolve(rs.Program)
	if p == nil {
		return fmt.Errorf("%w: handle %d", ErrProgramUnavailable, rs.Program)
	}

	var fade pipeline.Pipeline
	if rs.Fade != nil && !st.ClearMode {
		if fade = s.programs.Resolve(rs.Fade.Program); fade == nil {
			return fmt.Errorf("%w: fade handle %d", ErrProgramUnavailable, rs.Fade.Program)
		}
	}

	if err := s.recorder.BeginFrame(st.ShouldClear()); err != nil {
		return err
	}
	defer s.recorder.EndFrame()

	if fade != nil {
		u := frame.NewGPUFrameUniforms(st, rs.Fade.Uniforms, 0)
		if err := s.recorder.DrawCall(fade, nil, u.Marshal(), fadeVertices); err != nil {
			return err
		}
	}

	bindings := make([]renderer.Binding, 0, len(rs.Inputs)+2)
	bindings = append(bindings, renderer.Binding{
		Binding:  rs.Particles.Binding,
		Resource: s.pool.Particles(rs.Particles.Buffer),
		Access:   renderer.AccessStorage,
	})
	for _, in := range rs.Inputs {
		bindings = append(bindings, renderer.Binding{Binding: in.Binding, Resource: s.pool.Current(in.Field), Access: renderer.AccessRead})
	}
	if rs.Sampler != nil {
		bindings = append(bindings, renderer.Binding{Binding: *rs.Sampler, Resource: s.pool.Sampler(), Access: renderer.AccessSampler})
	}

	vertices := rs.Vertices
	if vertices == 0 {
		vertices = s.pool.ParticleCount(rs.Particles.Buffer)
	}
	u := frame.NewGPUFrameUniforms(st, rs.Uniforms, 0)
	return s.recorder.DrawCall(p, bindings, u.Marshal(), vertices)
}

func (s *sequencer) Stages() []Stage {
	return s.stages
}
