package sequencer

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-fluid/engine/swap"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	computeSrc  = "@compute @workgroup_size(32, 32, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	vertexSrc   = "@vertex\nfn vs(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {\n    return vec4<f32>(0.0, 0.0, 0.0, 1.0);\n}\n"
	fragmentSrc = "@fragment\nfn fs() -> @location(0) vec4<f32> {\n    return vec4<f32>(1.0, 1.0, 1.0, 1.0);\n}\n"
)

var fieldShape = renderer.FieldShape{Width: 512, Height: 512, Format: wgpu.TextureFormatRG32Float}

// programTable resolves handles to pipelines linked directly through the recording renderer.
type programTable map[hotload.ProgramHandle]pipeline.Pipeline

func (t programTable) Resolve(h hotload.ProgramHandle) pipeline.Pipeline {
	return t[h]
}

func linkCompute(t *testing.T, r *renderertest.Renderer, key string) pipeline.Pipeline {
	t.Helper()
	s, err := shader.CompileSource(shader.SourceUnit{Kind: shader.ShaderTypeCompute, Path: key + ".wgsl"}, []byte(computeSrc))
	require.NoError(t, err)
	p, err := pipeline.Link(key, []shader.Shader{s}, r)
	require.NoError(t, err)
	return p
}

func linkRender(t *testing.T, r *renderertest.Renderer, key string) pipeline.Pipeline {
	t.Helper()
	vs, err := shader.CompileSource(shader.SourceUnit{Kind: shader.ShaderTypeVertex, Path: key + ".vert.wgsl"}, []byte(vertexSrc))
	require.NoError(t, err)
	fs, err := shader.CompileSource(shader.SourceUnit{Kind: shader.ShaderTypeFragment, Path: key + ".frag.wgsl"}, []byte(fragmentSrc))
	require.NoError(t, err)
	p, err := pipeline.Link(key, []shader.Shader{vs, fs}, r)
	require.NoError(t, err)
	return p
}

type fixture struct {
	r         *renderertest.Renderer
	pool      swap.Pool
	programs  programTable
	velocity  swap.FieldBuffer
	pressure  swap.FieldBuffer
	particles swap.ParticleBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := renderertest.New()
	pool := swap.NewPool(r)

	velocity, err := pool.Allocate("velocity", fieldShape)
	require.NoError(t, err)
	pressure, err := pool.Allocate("pressure", fieldShape)
	require.NoError(t, err)
	particles, err := pool.AllocateParticles("particles", 100, 16, nil)
	require.NoError(t, err)

	return &fixture{
		r:         r,
		pool:      pool,
		programs:  programTable{},
		velocity:  velocity,
		pressure:  pressure,
		particles: particles,
	}
}

func parityOf(c renderertest.Call) uint32 {
	return binary.LittleEndian.Uint32(c.Uniforms[16:])
}

func ops(calls []renderertest.Call) []renderertest.Op {
	out := make([]renderertest.Op, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

func TestExecute_EvenIterationsPreserveParity(t *testing.T) {
	f := newFixture(t)
	f.programs[0] = linkCompute(t, f.r, "jacobi")

	seq, err := New(f.programs, f.r, f.pool, []Stage{{
		Name:       "jacobi",
		Program:    0,
		Inputs:     []FieldBinding{{Binding: 1, Field: f.velocity}},
		Outputs:    []FieldBinding{{Binding: 2, Field: f.pressure}},
		Uniforms:   frame.UniformAll,
		Workgroups: [3]uint32{16, 16, 1},
		Iterations: 40,
	}}, nil)
	require.NoError(t, err)

	before := f.pool.Current(f.pressure)
	require.NoError(t, seq.Execute(frame.NewState(800, 600, 0.1, true)))

	assert.Equal(t, before, f.pool.Current(f.pressure))
	assert.Equal(t, 0, f.pool.Parity(f.pressure))

	dispatches := f.r.CallsOf(renderertest.OpDispatch)
	require.Len(t, dispatches, 40)
	for i, d := range dispatches {
		assert.Equal(t, uint32(i%2), parityOf(d), "pass %d", i)
		assert.Equal(t, [3]uint32{16, 16, 1}, d.Workgroups)
	}
	assert.Len(t, f.r.CallsOf(renderertest.OpBarrier), 40)
}

func TestExecute_InPlaceStageReadsCurrentWritesNext(t *testing.T) {
	f := newFixture(t)
	f.programs[0] = linkCompute(t, f.r, "jacobi")

	seq, err := New(f.programs, f.r, f.pool, []Stage{{
		Name:       "jacobi",
		Program:    0,
		Inputs:     []FieldBinding{{Binding: 1, Field: f.velocity}},
		Outputs:    []FieldBinding{{Binding: 2, Field: f.velocity}},
		Workgroups: [3]uint32{16, 16, 1},
		Iterations: 2,
	}}, nil)
	require.NoError(t, err)

	a, b := f.pool.Current(f.velocity), f.pool.Next(f.velocity)
	require.NoError(t, seq.Execute(frame.NewState(800, 600, 0.1, true)))

	dispatches := f.r.CallsOf(renderertest.OpDispatch)
	require.Len(t, dispatches, 2)
	assert.Equal(t, a, dispatches[0].Bindings[0].Resource)
	assert.Equal(t, b, dispatches[0].Bindings[1].Resource)
	assert.Equal(t, b, dispatches[1].Bindings[0].Resource)
	assert.Equal(t, a, dispatches[1].Bindings[1].Resource)
	assert.Equal(t, a, f.pool.Current(f.velocity))
}

func TestExecute_ParityFollowsWriteCount(t *testing.T) {
	tests := []struct {
		name   string
		writes int
	}{
		{name: "one write flips", writes: 1},
		{name: "two writes restore", writes: 2},
		{name: "three writes flip", writes: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.programs[0] = linkCompute(t, f.r, "advect")

			stages := make([]Stage, tt.writes)
			for i := range stages {
				stages[i] = Stage{
					Name:       "advect",
					Program:    0,
					Inputs:     []FieldBinding{{Binding: 1, Field: f.pressure}},
					Outputs:    []FieldBinding{{Binding: 2, Field: f.velocity}},
					Workgroups: [3]uint32{16, 16, 1},
				}
			}
			seq, err := New(f.programs, f.r, f.pool, stages, nil)
			require.NoError(t, err)

			current, next := f.pool.Current(f.velocity), f.pool.Next(f.velocity)
			require.NoError(t, seq.Execute(frame.NewState(800, 600, 0.1, true)))

			if tt.writes%2 == 1 {
				assert.Equal(t, next, f.pool.Current(f.velocity))
			} else {
				assert.Equal(t, current, f.pool.Current(f.velocity))
			}
		})
	}
}

func TestExecute_BindsCurrentAndNextWithoutAliasing(t *testing.T) {
	f := newFixture(t)
	f.programs[0] = linkCompute(t, f.r, "advect")

	seq, err := New(f.programs, f.r, f.pool, []Stage{{
		Name:       "advect",
		Program:    0,
		Inputs:     []FieldBinding{{Binding: 1, Field: f.velocity}},
		Outputs:    []FieldBinding{{Binding: 2, Field: f.pressure}},
		Particles:  &ParticleBinding{Binding: 3, Buffer: f.particles},
		Sampler:    Slot(4),
		Workgroups: [3]uint32{16, 16, 1},
	}}, nil)
	require.NoError(t, err)

	readVel, writePressure := f.pool.Current(f.velocity), f.pool.Next(f.pressure)
	require.NoError(t, seq.Execute(frame.NewState(800, 600, 0.1, true)))

	d := f.r.CallsOf(renderertest.OpDispatch)
	require.Len(t, d, 1)
	assert.Equal(t, []renderer.Binding{
		{Binding: 1, Resource: readVel, Access: renderer.AccessRead},
		{Binding: 2, Resource: writePressure, Access: renderer.AccessWrite},
		{Binding: 3, Resource: f.pool.Particles(f.particles), Access: renderer.AccessStorage},
		{Binding: 4, Resource: f.pool.Sampler(), Access: renderer.AccessSampler},
	}, d[0].Bindings)
	assert.Equal(t, writePressure, f.pool.Current(f.pressure))
	assert.Len(t, d[0].Uniforms, 160)
}

func TestExecute_DeclarationOrder(t *testing.T) {
	f := newFixture(t)
	for i, key := range []string{"jacobi", "advect", "inject", "particles"} {
		f.programs[hotload.ProgramHandle(i)] = linkCompute(t, f.r, key)
	}
	f.programs[4] = linkRender(t, f.r, "render")

	stage := func(name string, h hotload.ProgramHandle, iterations int) Stage {
		return Stage{Name: name, Program: h, Workgroups: [3]uint32{1, 1, 1}, Iterations: iterations}
	}
	seq, err := New(f.programs, f.r, f.pool, []Stage{
		stage("jacobi", 0, 2),
		stage("advect", 1, 0),
		stage("inject", 2, 0),
		stage("particles", 3, 0),
	}, &RenderStage{Name: "render", Program: 4, Particles: ParticleBinding{Binding: 1, Buffer: f.particles}})
	require.NoError(t, err)

	require.NoError(t, seq.Execute(frame.NewState(800, 600, 0.1, true)))

	var order []string
	for _, c := range f.r.Calls() {
		if c.Op == renderertest.OpDispatch || c.Op == renderertest.OpDraw {
			order = append(order, c.Program)
		}
	}
	assert.Equal(t, []string{"jacobi", "jacobi", "advect", "inject", "particles", "render"}, order)

	calls := f.r.Calls()
	assert.Equal(t, renderertest.OpBeginCompute, calls[0].Op)
	assert.Equal(t, []renderertest.Op{
		renderertest.OpEndCompute, renderertest.OpBeginFrame, renderertest.OpDraw, renderertest.OpEndFrame,
	}, ops(calls[len(calls)-4:]))

	draw := f.r.CallsOf(renderertest.OpDraw)[0]
	assert.Equal(t, uint32(100), draw.Vertices)
}

func TestExecute_NilProgramAbortsFrame(t *testing.T) {
	f := newFixture(t)
	f.programs[0] = linkCompute(t, f.r, "jacobi")
	f.programs[2] = linkRender(t, f.r, "render")

	seq, err := New(f.programs, f.r, f.pool, []Stage{
		{Name: "jacobi", Program: 0, Workgroups: [3]uint32{1, 1, 1}},
		{Name: "missing", Program: 1, Workgroups: [3]uint32{1, 1, 1}},
	}, &RenderStage{Name: "render", Program: 2, Particles: ParticleBinding{Buffer: f.particles}})
	require.NoError(t, err)

	err = seq.Execute(frame.NewState(800, 600, 0.1, true))
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "missing", se.Stage)
	assert.ErrorIs(t, err, ErrProgramUnavailable)
	assert.Empty(t, f.r.CallsOf(renderertest.OpDraw))
	assert.Len(t, f.r.CallsOf(renderertest.OpEndCompute), 1)
}

func TestExecute_AbortedIterativeStageRestoresParity(t *testing.T) {
	for _, failAt := range []int{0, 1, 3, 38} {
		f := newFixture(t)
		f.programs[0] = linkCompute(t, f.r, "jacobi")
		seq, err := New(f.programs, f.r, f.pool, []Stage{{
			Name:       "jacobi",
			Program:    0,
			Inputs:     []FieldBinding{{Binding: 1, Field: f.velocity}},
			Outputs:    []FieldBinding{{Binding: 2, Field: f.pressure}},
			Workgroups: [3]uint32{16, 16, 1},
			Iterations: 40,
		}}, nil)
		require.NoError(t, err)

		before := f.pool.Current(f.pressure)
		f.r.DispatchErr = func(_ string, n int) error {
			if n == failAt {
				return errors.New("device lost")
			}
			return nil
		}

		err = seq.Execute(frame.NewState(800, 600, 0.1, true))
		var se *StageError
		require.ErrorAs(t, err, &se, "fail at %d", failAt)
		assert.Equal(t, "jacobi", se.Stage)
		assert.Len(t, f.r.CallsOf(renderertest.OpDispatch), failAt)
		assert.Equal(t, 0, f.pool.Parity(f.pressure), "fail at %d", failAt)
		assert.Equal(t, before, f.pool.Current(f.pressure), "fail at %d", failAt)

		f.r.DispatchErr = nil
		require.NoError(t, seq.Execute(frame.NewState(800, 600, 0.1, true)))
		assert.Equal(t, 0, f.pool.Parity(f.pressure))
	}
}

func TestExecute_ClearAndFade(t *testing.T) {
	tests := []struct {
		name      string
		clearMode bool
		clearOnce bool
		wantClear bool
		wantFade  bool
	}{
		{name: "clear mode", clearMode: true, wantClear: true},
		{name: "accumulate", wantFade: true},
		{name: "accumulate with one-shot clear", clearOnce: true, wantClear: true, wantFade: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.programs[0] = linkRender(t, f.r, "render")
			f.programs[1] = linkRender(t, f.r, "fade")

			seq, err := New(f.programs, f.r, f.pool, nil, &RenderStage{
				Name:      "render",
				Program:   0,
				Particles: ParticleBinding{Binding: 1, Buffer: f.particles},
				Inputs:    []FieldBinding{{Binding: 2, Field: f.velocity}},
				Vertices:  10,
				Fade:      &FadeStage{Program: 1},
			})
			require.NoError(t, err)

			st := frame.NewState(800, 600, 0.1, tt.clearMode)
			if tt.clearOnce {
				st = st.Apply(frame.ClearRequested{})
			}
			require.NoError(t, seq.Execute(st))

			begin := f.r.CallsOf(renderertest.OpBeginFrame)
			require.Len(t, begin, 1)
			assert.Equal(t, tt.wantClear, begin[0].Clear)

			draws := f.r.CallsOf(renderertest.OpDraw)
			if tt.wantFade {
				require.Len(t, draws, 2)
				assert.Equal(t, "fade", draws[0].Program)
				assert.Equal(t, uint32(3), draws[0].Vertices)
			} else {
				require.Len(t, draws, 1)
			}
			last := draws[len(draws)-1]
			assert.Equal(t, "render", last.Program)
			assert.Equal(t, uint32(10), last.Vertices)
			assert.Equal(t, f.pool.Current(f.velocity), last.Bindings[1].Resource)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	valid := Stage{Name: "s", Workgroups: [3]uint32{1, 1, 1}}

	tests := []struct {
		name   string
		mutate func(*Stage)
	}{
		{name: "odd iterations", mutate: func(s *Stage) { s.Iterations = 3 }},
		{name: "negative iterations", mutate: func(s *Stage) { s.Iterations = -2 }},
		{name: "zero workgroups", mutate: func(s *Stage) { s.Workgroups = [3]uint32{16, 0, 1} }},
		{name: "output written twice", mutate: func(s *Stage) {
			s.Outputs = []FieldBinding{{Binding: 2, Field: f.velocity}, {Binding: 3, Field: f.velocity}}
		}},
		{name: "binding reused", mutate: func(s *Stage) {
			s.Inputs = []FieldBinding{{Binding: 1, Field: f.velocity}}
			s.Outputs = []FieldBinding{{Binding: 1, Field: f.pressure}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := valid
			tt.mutate(&st)
			_, err := New(f.programs, f.r, f.pool, []Stage{st}, nil)
			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "s", se.Stage)
		})
	}

	_, err := New(f.programs, f.r, f.pool, []Stage{valid}, nil)
	assert.NoError(t, err)
}
