package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	computeSrc  = "@compute @workgroup_size(32, 32, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	vertexSrc   = "@vertex\nfn vs(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {\n    return vec4<f32>(0.0, 0.0, 0.0, 1.0);\n}\n"
	fragmentSrc = "@fragment\nfn fs() -> @location(0) vec4<f32> {\n    return vec4<f32>(1.0, 1.0, 1.0, 1.0);\n}\n"
)

type fakeLinker struct {
	err    error
	linked []Pipeline
}

func (l *fakeLinker) Link(p Pipeline) error {
	if l.err != nil {
		return l.err
	}
	p.SetHandle(len(l.linked))
	l.linked = append(l.linked, p)
	return nil
}

func (l *fakeLinker) Unlink(p Pipeline) {
	p.SetHandle(nil)
}

func unit(t *testing.T, kind shader.ShaderType, src string) shader.SourceUnit {
	t.Helper()
	path := filepath.Join(t.TempDir(), kind.String()+".wgsl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return shader.SourceUnit{Kind: kind, Path: path}
}

func TestCompile_Compute(t *testing.T) {
	l := &fakeLinker{}
	u := unit(t, shader.ShaderTypeCompute, computeSrc)

	p, err := Compile("jacobi", []shader.SourceUnit{u}, l)
	require.NoError(t, err)
	assert.Equal(t, PipelineTypeCompute, p.Type())
	assert.Equal(t, "jacobi", p.PipelineKey())
	assert.Equal(t, []shader.SourceUnit{u}, p.Units())
	assert.Equal(t, [3]uint32{32, 32, 1}, p.WorkgroupSize())
	assert.Equal(t, 0, p.Handle())
	assert.NotZero(t, p.Hash())
}

func TestCompile_RenderWithOptions(t *testing.T) {
	l := &fakeLinker{}
	units := []shader.SourceUnit{
		unit(t, shader.ShaderTypeVertex, vertexSrc),
		unit(t, shader.ShaderTypeFragment, fragmentSrc),
	}

	p, err := Compile("points", units, l, WithTopology(wgpu.PrimitiveTopologyPointList), WithBlendEnabled(true))
	require.NoError(t, err)
	assert.Equal(t, PipelineTypeRender, p.Type())
	assert.Equal(t, wgpu.PrimitiveTopologyPointList, p.Topology())
	assert.True(t, p.BlendEnabled())
	assert.Equal(t, "vs", p.Shader(shader.ShaderTypeVertex).EntryPoint())
	assert.Equal(t, "fs", p.Shader(shader.ShaderTypeFragment).EntryPoint())
	assert.Nil(t, p.Shader(shader.ShaderTypeCompute))
	assert.Equal(t, [3]uint32{}, p.WorkgroupSize())
}

func TestCompile_CompileErrorSkipsLinker(t *testing.T) {
	l := &fakeLinker{}
	u := unit(t, shader.ShaderTypeCompute, "fn main( {")

	p, err := Compile("broken", []shader.SourceUnit{u}, l)
	assert.Nil(t, p)
	var ce *shader.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, l.linked)
}

func TestCompile_BadCompositionIsLinkError(t *testing.T) {
	tests := []struct {
		name  string
		kinds []shader.ShaderType
	}{
		{"vertex only", []shader.ShaderType{shader.ShaderTypeVertex}},
		{"two compute", []shader.ShaderType{shader.ShaderTypeCompute, shader.ShaderTypeCompute}},
		{"compute and fragment", []shader.ShaderType{shader.ShaderTypeCompute, shader.ShaderTypeFragment}},
		{"empty", nil},
	}
	srcs := map[shader.ShaderType]string{
		shader.ShaderTypeCompute:  computeSrc,
		shader.ShaderTypeVertex:   vertexSrc,
		shader.ShaderTypeFragment: fragmentSrc,
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var units []shader.SourceUnit
			for _, k := range tt.kinds {
				units = append(units, unit(t, k, srcs[k]))
			}
			l := &fakeLinker{}
			_, err := Compile("bad", units, l)
			var le *LinkError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, "bad", le.Program)
			assert.Empty(t, l.linked)
		})
	}
}

func TestCompile_LinkerFailureIsLinkError(t *testing.T) {
	cause := errors.New("device lost")
	l := &fakeLinker{err: cause}

	p, err := Compile("jacobi", []shader.SourceUnit{unit(t, shader.ShaderTypeCompute, computeSrc)}, l)
	assert.Nil(t, p)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, cause)
}

func TestHash_StableAcrossFrontendRuns(t *testing.T) {
	units := []shader.SourceUnit{unit(t, shader.ShaderTypeCompute, computeSrc)}
	a, err := Frontend(units)
	require.NoError(t, err)
	b, err := Frontend(units)
	require.NoError(t, err)
	assert.Equal(t, Hash(a), Hash(b))

	require.NoError(t, os.WriteFile(units[0].Path, []byte(computeSrc+"// edit\n"), 0o644))
	c, err := Frontend(units)
	require.NoError(t, err)
	assert.NotEqual(t, Hash(a), Hash(c))
}

func TestMergeBindGroupLayouts(t *testing.T) {
	vs := map[int]wgpu.BindGroupLayoutDescriptor{0: {Entries: []wgpu.BindGroupLayoutEntry{
		{Binding: 0, Visibility: wgpu.ShaderStageVertex, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},
		{Binding: 2, Visibility: wgpu.ShaderStageVertex, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
	}}}
	fs := map[int]wgpu.BindGroupLayoutDescriptor{0: {Entries: []wgpu.BindGroupLayoutEntry{
		{Binding: 0, Visibility: wgpu.ShaderStageFragment, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},
		{Binding: 1, Visibility: wgpu.ShaderStageFragment, Sampler: wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeNonFiltering}},
	}}}

	merged, err := mergeBindGroupLayouts(vs, fs)
	require.NoError(t, err)
	entries := merged[0].Entries
	require.Len(t, entries, 3)
	assert.Equal(t, wgpu.ShaderStageVertex|wgpu.ShaderStageFragment, entries[0].Visibility)
	assert.Equal(t, uint32(1), entries[1].Binding)
	assert.Equal(t, uint32(2), entries[2].Binding)

	conflict := map[int]wgpu.BindGroupLayoutDescriptor{0: {Entries: []wgpu.BindGroupLayoutEntry{
		{Binding: 0, Visibility: wgpu.ShaderStageFragment, Sampler: wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeNonFiltering}},
	}}}
	_, err = mergeBindGroupLayouts(vs, conflict)
	assert.Error(t, err)
}
