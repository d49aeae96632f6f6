package renderer

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-fluid/common"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-fluid/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	// linked tracks every pipeline currently linked so Release can free them.
	linked map[pipeline.Pipeline]struct{}

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingClearColor    *wgpu.Color
}

// Renderer is the GPU facade used by the frame loop. It links programs, allocates field textures,
// storage buffers and samplers, records compute dispatches with barriers between them, and draws
// into a canvas that persists across frames until it is cleared.
//
// A Renderer must only be used from the thread that created it.
type Renderer interface {
	pipeline.Linker

	// CreateFieldTexture creates a zero-filled 2D field texture.
	//
	// Parameters:
	//   - label: the debug label
	//   - shape: the texture size and format
	//
	// Returns:
	//   - ResourceID: the new resource
	//   - error: a *ResourceAllocationError on failure
	CreateFieldTexture(label string, shape FieldShape) (ResourceID, error)

	// CreateStorageBuffer creates a storage buffer initialised with data.
	//
	// Parameters:
	//   - label: the debug label
	//   - data: the initial contents
	//
	// Returns:
	//   - ResourceID: the new resource
	//   - error: a *ResourceAllocationError on failure
	CreateStorageBuffer(label string, data []byte) (ResourceID, error)

	// CreateSampler creates a sampler from staging data.
	//
	// Parameters:
	//   - label: the debug label
	//   - data: the sampler configuration
	//
	// Returns:
	//   - ResourceID: the new resource
	//   - error: a *ResourceAllocationError on failure
	CreateSampler(label string, data common.SamplerStagingData) (ResourceID, error)

	// BeginComputeFrame opens the compute work of a frame.
	//
	// Returns:
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() error

	// DispatchCompute records one compute pass of p over the given bindings.
	//
	// Parameters:
	//   - p: the linked compute pipeline
	//   - bindings: the resources bound to group 0, excluding the uniform buffer
	//   - uniforms: the packed uniform bytes for this pass
	//   - workGroupCount: the number of workgroups in x, y and z
	//
	// Returns:
	//   - error: an error if the pipeline is unlinked or a binding cannot be resolved
	DispatchCompute(p pipeline.Pipeline, bindings []Binding, uniforms []byte, workGroupCount [3]uint32) error

	// Barrier makes every write recorded so far visible to later passes.
	//
	// Returns:
	//   - error: an error if the recorded work could not be submitted
	Barrier() error

	// EndComputeFrame submits the remaining compute work of the frame.
	EndComputeFrame()

	// BeginFrame opens the render pass of a frame.
	//
	// Parameters:
	//   - clear: true to clear the canvas first, false to draw over the previous frame
	//
	// Returns:
	//   - error: an error if the surface texture could not be acquired
	BeginFrame(clear bool) error

	// DrawCall records a non-indexed draw of vertexCount vertices.
	//
	// Parameters:
	//   - p: the linked render pipeline
	//   - bindings: the resources bound to group 0, excluding the uniform buffer
	//   - uniforms: the packed uniform bytes
	//   - vertexCount: the number of vertices
	//
	// Returns:
	//   - error: an error if the pipeline is unlinked or a binding cannot be resolved
	DrawCall(p pipeline.Pipeline, bindings []Binding, uniforms []byte, vertexCount uint32) error

	// EndFrame ends the render pass and submits it.
	EndFrame()

	// Present presents the frame.
	Present()

	// Resize configures the surface for a new size.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode, applied on the next Resize.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// Release unlinks every linked pipeline and releases all GPU resources.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer on the window's surface.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - window: the window whose surface the renderer presents to
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
func NewRenderer(backendType RendererBackendType, window window.Window, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:          &sync.Mutex{},
		linked:      make(map[pipeline.Pipeline]struct{}),
		backendType: backendType,
	}

	for _, opt := range options {
		opt(r)
	}

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		r.backend = newWGPURendererBackend(window.SurfaceDescriptor(), r.forceFallbackAdapter)
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}
	if r.pendingClearColor != nil {
		r.backend.SetClearColor(*r.pendingClearColor)
	}

	r.backend.ConfigureSurface(window.Width(), window.Height())
	return r
}

func (r *renderer) Link(p pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch p.Type() {
	case pipeline.PipelineTypeCompute:
		err = r.backend.RegisterComputePipeline(p)
	case pipeline.PipelineTypeRender:
		err = r.backend.RegisterRenderPipeline(p)
	}
	if err != nil {
		return err
	}
	r.linked[p] = struct{}{}
	return nil
}

func (r *renderer) Unlink(p pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.linked[p]; !ok {
		return
	}
	delete(r.linked, p)
	r.backend.ReleasePipeline(p)
}

func (r *renderer) CreateFieldTexture(label string, shape FieldShape) (ResourceID, error) {
	id, err := r.backend.CreateFieldTexture(label, shape)
	if err != nil {
		return 0, &ResourceAllocationError{Label: label, Err: err}
	}
	return id, nil
}

func (r *renderer) CreateStorageBuffer(label string, data []byte) (ResourceID, error) {
	id, err := r.backend.CreateStorageBuffer(label, data)
	if err != nil {
		return 0, &ResourceAllocationError{Label: label, Err: err}
	}
	return id, nil
}

func (r *renderer) CreateSampler(label string, data common.SamplerStagingData) (ResourceID, error) {
	id, err := r.backend.CreateSampler(label, data)
	if err != nil {
		return 0, &ResourceAllocationError{Label: label, Err: err}
	}
	return id, nil
}

func (r *renderer) BeginComputeFrame() error {
	return r.backend.BeginComputeFrame()
}

func (r *renderer) DispatchCompute(p pipeline.Pipeline, bindings []Binding, uniforms []byte, workGroupCount [3]uint32) error {
	return r.backend.DispatchCompute(p, bindings, uniforms, workGroupCount)
}

func (r *renderer) Barrier() error {
	return r.backend.Barrier()
}

func (r *renderer) EndComputeFrame() {
	r.backend.EndComputeFrame()
}

func (r *renderer) BeginFrame(clear bool) error {
	return r.backend.BeginFrame(clear)
}

func (r *renderer) DrawCall(p pipeline.Pipeline, bindings []Binding, uniforms []byte, vertexCount uint32) error {
	return r.backend.DrawCall(p, bindings, uniforms, vertexCount)
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p := range r.linked {
		r.backend.ReleasePipeline(p)
		delete(r.linked, p)
	}
	r.backend.Release()
}
