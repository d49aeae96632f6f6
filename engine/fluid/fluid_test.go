package fluid

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-fluid/config"
	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-fluid/engine/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gridSrc     = "@compute @workgroup_size(32, 32, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	particleSrc = "@compute @workgroup_size(64, 1, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	vertexSrc   = "@vertex\nfn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {\n    return vec4<f32>(0.0, 0.0, 0.0, 1.0);\n}\n"
	fragmentSrc = "@fragment\nfn fs_main() -> @location(0) vec4<f32> {\n    return vec4<f32>(1.0, 1.0, 1.0, 1.0);\n}\n"

	// extraBindingSrc declares a sampler at a slot no stage binds.
	extraBindingSrc = "@group(0) @binding(5) var extra: sampler;\n\n" + gridSrc
)

// testConfig writes placeholder shaders into a temp dir and returns a small configuration that
// points at them.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Shaders.Dir = dir
	cfg.Simulation.Grid = 64
	cfg.Simulation.Particles = 100
	cfg.Simulation.Iterations = 4

	files := map[string]string{
		cfg.Shaders.Jacobi:         gridSrc,
		cfg.Shaders.Advect:         gridSrc,
		cfg.Shaders.Inject:         gridSrc,
		cfg.Shaders.Particles:      particleSrc,
		cfg.Shaders.RenderVertex:   vertexSrc,
		cfg.Shaders.RenderFragment: fragmentSrc,
		cfg.Shaders.FadeVertex:     vertexSrc,
		cfg.Shaders.FadeFragment:   fragmentSrc,
	}
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

type harness struct {
	r     *renderertest.Renderer
	cache hotload.Cache
	pool  swap.Pool
}

func newHarness(t *testing.T, opts ...hotload.CacheBuilderOption) *harness {
	t.Helper()
	r := renderertest.New()
	cache := hotload.NewCache(r, opts...)
	t.Cleanup(cache.Close)
	return &harness{r: r, cache: cache, pool: swap.NewPool(r)}
}

func programsOf(calls []renderertest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Program
	}
	return out
}

func TestPrograms(t *testing.T) {
	cfg := testConfig(t)

	progs := Programs(cfg)
	require.Len(t, progs, 6)
	assert.Equal(t, ProgramJacobi, progs[0].Key)
	assert.Equal(t, filepath.Join(cfg.Shaders.Dir, cfg.Shaders.Jacobi), progs[0].Units[0].Path)
	assert.Len(t, progs[4].Units, 2)
	assert.Equal(t, ProgramFade, progs[5].Key)

	cfg.Render.Fade = false
	assert.Len(t, Programs(cfg), 5)
}

func TestBuild_FrameOrder(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t)

	sim, err := Build(cfg, h.cache, h.pool, h.r)
	require.NoError(t, err)
	assert.Len(t, sim.Handles, 6)
	assert.Equal(t, uint32(100), h.pool.ParticleCount(sim.Particles))

	st := frame.NewState(800, 600, cfg.Simulation.TimeStep, false)
	require.NoError(t, sim.Sequencer.Execute(st))

	dispatches := h.r.CallsOf(renderertest.OpDispatch)
	assert.Equal(t, []string{
		ProgramJacobi, ProgramJacobi, ProgramJacobi, ProgramJacobi,
		ProgramAdvect, ProgramInject, ProgramParticles,
	}, programsOf(dispatches))
	assert.Equal(t, [3]uint32{2, 2, 1}, dispatches[0].Workgroups)
	assert.Equal(t, [3]uint32{2, 1, 1}, dispatches[6].Workgroups)

	draws := h.r.CallsOf(renderertest.OpDraw)
	assert.Equal(t, []string{ProgramFade, ProgramRender}, programsOf(draws))
	assert.Equal(t, uint32(100), draws[1].Vertices)
	assert.Equal(t, h.pool.Particles(sim.Particles), draws[1].Bindings[0].Resource)

	// jacobi writes an even number of times, advect and inject once each
	assert.Equal(t, 0, h.pool.Parity(sim.Velocity))
}

func TestBuild_ClearModeSkipsFade(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t)

	sim, err := Build(cfg, h.cache, h.pool, h.r)
	require.NoError(t, err)

	require.NoError(t, sim.Sequencer.Execute(frame.NewState(800, 600, cfg.Simulation.TimeStep, true)))
	assert.Equal(t, []string{ProgramRender}, programsOf(h.r.CallsOf(renderertest.OpDraw)))
	assert.True(t, h.r.CallsOf(renderertest.OpBeginFrame)[0].Clear)
}

func TestBuild_WorkgroupMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.LocalSize = 16
	h := newHarness(t)

	_, err := Build(cfg, h.cache, h.pool, h.r)
	assert.ErrorIs(t, err, ErrWorkgroupMismatch)
}

func TestBuild_RegistrationFailure(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Shaders.Path(cfg.Shaders.Advect), []byte("fn main( {"), 0o644))
	h := newHarness(t)

	_, err := Build(cfg, h.cache, h.pool, h.r)
	var re *hotload.RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ProgramAdvect, re.Program)
}

func TestBuild_AllocationFailure(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t)
	h.r.AllocErr = func(label string) error {
		if label == "particles" {
			return errors.New("out of memory")
		}
		return nil
	}

	_, err := Build(cfg, h.cache, h.pool, h.r)
	var ae *renderer.ResourceAllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "particles", ae.Label)
}

func TestBuild_UndeclaredBinding(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Shaders.Path(cfg.Shaders.Jacobi), []byte(extraBindingSrc), 0o644))
	h := newHarness(t)

	_, err := Build(cfg, h.cache, h.pool, h.r)
	assert.ErrorIs(t, err, ErrUndeclaredBinding)
	assert.Contains(t, err.Error(), "binding 5")
}

// reload rewrites one shader of a built simulation and runs the cache's reload path over it.
func reload(t *testing.T, h *harness, path, src string) []*hotload.ReloadError {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return h.cache.NotifyChanged([]string{path})
}

func TestReload_WorkgroupChangeIsRejected(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, hotload.WithValidator(Validator(cfg)))
	sim, err := Build(cfg, h.cache, h.pool, h.r)
	require.NoError(t, err)
	before := h.cache.Resolve(sim.Handles[ProgramJacobi])

	shrunk := "@compute @workgroup_size(8, 8, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	errs := reload(t, h, cfg.Shaders.Path(cfg.Shaders.Jacobi), shrunk)

	require.Len(t, errs, 1)
	assert.Equal(t, ProgramJacobi, errs[0].Program)
	assert.ErrorIs(t, errs[0], ErrWorkgroupMismatch)

	live := h.cache.Resolve(sim.Handles[ProgramJacobi])
	assert.Same(t, before, live)
	assert.Equal(t, [3]uint32{32, 32, 1}, live.WorkgroupSize())

	require.NoError(t, sim.Sequencer.Execute(frame.NewState(800, 600, cfg.Simulation.TimeStep, true)))
	jacobi := h.r.CallsOf(renderertest.OpDispatch)[0]
	assert.Equal(t, ProgramJacobi, jacobi.Program)
	assert.Equal(t, [3]uint32{2, 2, 1}, jacobi.Workgroups)
}

func TestReload_ParticleWorkgroupIsPinned(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, hotload.WithValidator(Validator(cfg)))
	sim, err := Build(cfg, h.cache, h.pool, h.r)
	require.NoError(t, err)

	wider := "@compute @workgroup_size(128, 1, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	errs := reload(t, h, cfg.Shaders.Path(cfg.Shaders.Particles), wider)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrWorkgroupMismatch)
	assert.Equal(t, [3]uint32{64, 1, 1}, h.cache.Resolve(sim.Handles[ProgramParticles]).WorkgroupSize())
}

func TestReload_UndeclaredBindingIsRejected(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, hotload.WithValidator(Validator(cfg)))
	sim, err := Build(cfg, h.cache, h.pool, h.r)
	require.NoError(t, err)
	before := h.cache.Resolve(sim.Handles[ProgramInject])

	errs := reload(t, h, cfg.Shaders.Path(cfg.Shaders.Inject), extraBindingSrc)

	require.Len(t, errs, 1)
	assert.Equal(t, ProgramInject, errs[0].Program)
	assert.ErrorIs(t, errs[0], ErrUndeclaredBinding)
	assert.Same(t, before, h.cache.Resolve(sim.Handles[ProgramInject]))
	assert.NoError(t, sim.Sequencer.Execute(frame.NewState(800, 600, cfg.Simulation.TimeStep, true)))
}

func TestReload_CompatibleEditIsAccepted(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, hotload.WithValidator(Validator(cfg)))
	sim, err := Build(cfg, h.cache, h.pool, h.r)
	require.NoError(t, err)
	before := h.cache.Resolve(sim.Handles[ProgramJacobi])

	edited := "@compute @workgroup_size(32, 32, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n    let x = id.x;\n}\n"
	require.Empty(t, reload(t, h, cfg.Shaders.Path(cfg.Shaders.Jacobi), edited))
	assert.NotSame(t, before, h.cache.Resolve(sim.Handles[ProgramJacobi]))
}
