package pipeline

import (
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute shader entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with vertex and fragment shader entry points.
	PipelineTypeRender
)

func (t PipelineType) String() string {
	if t == PipelineTypeRender {
		return "render"
	}
	return "compute"
}

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineType PipelineType
	pipelineKey  string
	units        []shader.SourceUnit
	hash         uint64

	vertexShader, fragmentShader, computeShader shader.Shader

	// bindGroupLayouts is the merged reflection of every stage, keyed by group index.
	bindGroupLayouts map[int]wgpu.BindGroupLayoutDescriptor

	// handle is the backend's linked object, set by a Linker.
	handle any

	// Render state. Compute pipelines carry the defaults but never read them.

	blendEnabled bool
	cullMode     wgpu.CullMode
	topology     wgpu.PrimitiveTopology
	frontFace    wgpu.FrontFace
	writeMask    wgpu.ColorWriteMask
	blendState   *wgpu.BlendState
}

// Pipeline is a Program: the compiled front-end output of its source units plus the GPU object
// a Linker attached to it. A Pipeline is immutable once linked; a reload builds a new one.
type Pipeline interface {
	// Type returns the type of the pipeline.
	//
	// Returns:
	//   - PipelineType: the type of the pipeline (render or compute)
	Type() PipelineType

	// PipelineKey returns the name the pipeline was registered under.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// Units returns the source units the pipeline was compiled from, in registration order.
	//
	// Returns:
	//   - []shader.SourceUnit: the source units
	Units() []shader.SourceUnit

	// Hash returns the combined content hash of every unit's pre-processed source.
	//
	// Returns:
	//   - uint64: the content hash
	Hash() uint64

	// Shader retrieves the shader of the given type, nil if the pipeline has none.
	//
	// Parameters:
	//   - shaderType: the type of shader to retrieve (vertex, fragment, or compute)
	//
	// Returns:
	//   - shader.Shader: the shader of that type, or nil
	Shader(shaderType shader.ShaderType) shader.Shader

	// BindGroupLayouts returns the bind group layouts merged across every stage.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: the layouts keyed by group index
	BindGroupLayouts() map[int]wgpu.BindGroupLayoutDescriptor

	// WorkgroupSize returns the compute shader's workgroup size, or [0, 0, 0] for render pipelines.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// Handle returns the object the Linker attached, or nil while unlinked.
	// The caller is responsible for type asserting it to the backend's type.
	//
	// Returns:
	//   - any: the linked backend object
	Handle() any

	// SetHandle attaches or clears the linked backend object.
	//
	// Parameters:
	//   - h: the backend object, or nil once released
	SetHandle(h any)

	// BlendEnabled returns whether blending is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if blending is enabled
	BlendEnabled() bool

	// BlendState returns the blend state applied when blending is enabled.
	//
	// Returns:
	//   - *wgpu.BlendState: the blend state
	BlendState() *wgpu.BlendState

	// CullMode returns the cull mode configured for this pipeline.
	//
	// Returns:
	//   - wgpu.CullMode: the cull mode
	CullMode() wgpu.CullMode

	// Topology returns the primitive topology configured for this pipeline.
	//
	// Returns:
	//   - wgpu.PrimitiveTopology: the primitive topology (e.g., wgpu.PrimitiveTopologyPointList)
	Topology() wgpu.PrimitiveTopology

	// FrontFace returns the front face winding order configured for this pipeline.
	//
	// Returns:
	//   - wgpu.FrontFace: the front face winding order
	FrontFace() wgpu.FrontFace

	// WriteMask returns the color write mask configured for this pipeline.
	//
	// Returns:
	//   - wgpu.ColorWriteMask: the color write mask
	WriteMask() wgpu.ColorWriteMask
}

var _ Pipeline = &pipeline{}

// newPipeline creates an unlinked pipeline with the default render state and all options applied.
func newPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) *pipeline {
	p := &pipeline{
		pipelineKey:  pipelineKey,
		pipelineType: pipelineType,
		cullMode:     wgpu.CullModeNone,
		topology:     wgpu.PrimitiveTopologyTriangleList,
		frontFace:    wgpu.FrontFaceCCW,
		writeMask:    wgpu.ColorWriteMaskAll,
		blendState: &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Type() PipelineType {
	return p.pipelineType
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Units() []shader.SourceUnit {
	return p.units
}

func (p *pipeline) Hash() uint64 {
	return p.hash
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	case shader.ShaderTypeCompute:
		return p.computeShader
	default:
		return nil
	}
}

func (p *pipeline) BindGroupLayouts() map[int]wgpu.BindGroupLayoutDescriptor {
	return p.bindGroupLayouts
}

func (p *pipeline) WorkgroupSize() [3]uint32 {
	if p.computeShader == nil {
		return [3]uint32{}
	}
	return p.computeShader.WorkgroupSize()
}

func (p *pipeline) Handle() any {
	return p.handle
}

func (p *pipeline) SetHandle(h any) {
	p.handle = h
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	return p.blendState
}

func (p *pipeline) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipeline) Topology() wgpu.PrimitiveTopology {
	return p.topology
}

func (p *pipeline) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipeline) WriteMask() wgpu.ColorWriteMask {
	return p.writeMask
}
