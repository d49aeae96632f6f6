package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-fluid/common"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuResource is a field texture, storage buffer or sampler created by the backend.
type wgpuResource struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	buffer  *wgpu.Buffer
	sampler *wgpu.Sampler
}

func (r *wgpuResource) release() {
	if r.view != nil {
		r.view.Release()
	}
	if r.texture != nil {
		r.texture.Release()
	}
	if r.buffer != nil {
		r.buffer.Release()
	}
	if r.sampler != nil {
		r.sampler.Release()
	}
}

// wgpuProgram holds every GPU object linked for one pipeline. It is the pipeline's Handle.
type wgpuProgram struct {
	modules         []*wgpu.ShaderModule
	bindGroupLayout *wgpu.BindGroupLayout
	pipelineLayout  *wgpu.PipelineLayout
	computePipeline *wgpu.ComputePipeline
	renderPipeline  *wgpu.RenderPipeline

	// layoutEntries are the group 0 entries the bind groups are built against.
	layoutEntries []wgpu.BindGroupLayoutEntry

	uniformBuffer  *wgpu.Buffer
	uniformBinding uint32
	hasUniform     bool

	// bindGroups caches bind groups by binding signature.
	bindGroups map[string]*wgpu.BindGroup
}

func (p *wgpuProgram) release() {
	for _, bg := range p.bindGroups {
		bg.Release()
	}
	p.bindGroups = nil
	if p.uniformBuffer != nil {
		p.uniformBuffer.Release()
	}
	if p.computePipeline != nil {
		p.computePipeline.Release()
	}
	if p.renderPipeline != nil {
		p.renderPipeline.Release()
	}
	if p.pipelineLayout != nil {
		p.pipelineLayout.Release()
	}
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
	}
	for _, m := range p.modules {
		m.Release()
	}
	p.modules = nil
}

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat wgpu.TextureFormat
	presentMode   wgpu.PresentMode
	clearColor    wgpu.Color
	width, height uint32

	// canvas persists between frames so accumulate mode can draw over the previous image.
	canvas     *wgpu.Texture
	canvasView *wgpu.TextureView

	resources map[ResourceID]*wgpuResource
	nextID    ResourceID

	// Frame state for the render pass of the current frame
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture

	// Compute frame state. computeRecorded is true once a pass has been encoded since the last submit.
	computeFrameEncoder *wgpu.CommandEncoder
	computeRecorded     bool
}

// RendererBackend is the backend the Renderer facade forwards to.
type RendererBackend interface {
	wgpuRendererBackend
}

type wgpuRendererBackend interface {
	// ConfigureSurface configures the swapchain and recreates the canvas for a new surface size.
	// A zero width or height leaves the surface unconfigured and frames are skipped.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	ConfigureSurface(width, height int)

	// SetPresentMode sets the surface present mode. It takes effect on the next ConfigureSurface.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// SetClearColor sets the color the canvas is cleared to.
	//
	// Parameters:
	//   - c: the clear color
	SetClearColor(c wgpu.Color)

	// RegisterComputePipeline creates the shader module, layouts, compute pipeline and uniform
	// buffer for p and attaches them as p's handle. Everything created is released on failure.
	//
	// Parameters:
	//   - p: the assembled compute pipeline
	//
	// Returns:
	//   - error: an error if any GPU object could not be created
	RegisterComputePipeline(p pipeline.Pipeline) error

	// RegisterRenderPipeline creates the shader modules, layouts, render pipeline and uniform
	// buffer for p and attaches them as p's handle. Everything created is released on failure.
	//
	// Parameters:
	//   - p: the assembled render pipeline
	//
	// Returns:
	//   - error: an error if any GPU object could not be created
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// ReleasePipeline releases the GPU objects attached to p and clears its handle.
	//
	// Parameters:
	//   - p: the linked pipeline
	ReleasePipeline(p pipeline.Pipeline)

	// CreateFieldTexture creates a zero-filled 2D texture usable as a sampled and a storage texture.
	//
	// Parameters:
	//   - label: the debug label
	//   - shape: the texture size and format
	//
	// Returns:
	//   - ResourceID: the new resource
	//   - error: an error if the texture could not be created
	CreateFieldTexture(label string, shape FieldShape) (ResourceID, error)

	// CreateStorageBuffer creates a storage buffer initialised with data.
	//
	// Parameters:
	//   - label: the debug label
	//   - data: the initial contents, which also fix the buffer size
	//
	// Returns:
	//   - ResourceID: the new resource
	//   - error: an error if the buffer could not be created
	CreateStorageBuffer(label string, data []byte) (ResourceID, error)

	// CreateSampler creates a sampler. Unset staging fields default to clamp-to-edge, nearest filtering.
	//
	// Parameters:
	//   - label: the debug label
	//   - data: the sampler staging data
	//
	// Returns:
	//   - ResourceID: the new resource
	//   - error: an error if the sampler could not be created
	CreateSampler(label string, data common.SamplerStagingData) (ResourceID, error)

	// BeginComputeFrame creates the command encoder compute passes are recorded into.
	//
	// Returns:
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() error

	// DispatchCompute uploads uniforms and records one compute pass.
	//
	// Parameters:
	//   - p: the linked compute pipeline
	//   - bindings: the resources for every non-uniform binding of group 0
	//   - uniforms: the packed uniform bytes, ignored when the pipeline declares no uniform binding
	//   - workGroupCount: the number of workgroups in x, y and z
	//
	// Returns:
	//   - error: an error if the pipeline is not linked or a binding cannot be resolved
	DispatchCompute(p pipeline.Pipeline, bindings []Binding, uniforms []byte, workGroupCount [3]uint32) error

	// Barrier submits the recorded compute work so later passes observe its writes.
	//
	// Returns:
	//   - error: an error if the encoder could not be finished or recreated
	Barrier() error

	// EndComputeFrame submits any remaining compute work and drops the encoder.
	EndComputeFrame()

	// BeginFrame acquires the swapchain texture and opens the render pass on the canvas.
	//
	// Parameters:
	//   - clear: true to clear the canvas, false to draw over the previous frame
	//
	// Returns:
	//   - error: an error if the surface texture or encoder could not be acquired
	BeginFrame(clear bool) error

	// DrawCall uploads uniforms and records a non-indexed draw in the current render pass.
	//
	// Parameters:
	//   - p: the linked render pipeline
	//   - bindings: the resources for every non-uniform binding of group 0
	//   - uniforms: the packed uniform bytes
	//   - vertexCount: the number of vertices to draw
	//
	// Returns:
	//   - error: an error if the pipeline is not linked or a binding cannot be resolved
	DrawCall(p pipeline.Pipeline, bindings []Binding, uniforms []byte, vertexCount uint32) error

	// EndFrame ends the render pass, copies the canvas to the swapchain texture and submits.
	EndFrame()

	// Present presents the acquired swapchain texture.
	Present()

	// Release releases every resource, the canvas and the device.
	Release()
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool) wgpuRendererBackend {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeFifo,
		clearColor:  wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		resources:   make(map[ResourceID]*wgpuResource),
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	return w
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if width <= 0 || height <= 0 {
		b.width, b.height = 0, 0
		return
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = capabilities.Formats[0]
	b.width, b.height = uint32(width), uint32(height)

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopyDst,
		Format:      b.surfaceFormat,
		Width:       b.width,
		Height:      b.height,
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	if b.canvasView != nil {
		b.canvasView.Release()
	}
	if b.canvas != nil {
		b.canvas.Release()
	}

	canvas, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Canvas",
		Size: wgpu.Extent3D{
			Width:              b.width,
			Height:             b.height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        b.surfaceFormat,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		panic(err)
	}
	b.canvas = canvas
	b.canvasView, err = canvas.CreateView(nil)
	if err != nil {
		panic(err)
	}
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeUncapped:
		b.presentMode = wgpu.PresentModeImmediate
	case PresentModeVSync:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeFifo
	}
}

func (b *wgpuRendererBackendImpl) SetClearColor(c wgpu.Color) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearColor = c
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) (err error) {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	if computeShader == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prog := &wgpuProgram{bindGroups: make(map[string]*wgpu.BindGroup)}
	defer func() {
		if err != nil {
			prog.release()
		}
	}()

	module, err := b.device.CreateShaderModule(computeShader.Module())
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	prog.modules = append(prog.modules, module)

	if err = b.createLayouts(p, prog); err != nil {
		return err
	}

	prog.computePipeline, err = b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: prog.pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}

	p.SetHandle(prog)
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) (err error) {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)
	if vertexShader == nil || fragmentShader == nil {
		return errors.New("both vertex and fragment shaders must be set to create a render pipeline")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prog := &wgpuProgram{bindGroups: make(map[string]*wgpu.BindGroup)}
	defer func() {
		if err != nil {
			prog.release()
		}
	}()

	vs, err := b.device.CreateShaderModule(vertexShader.Module())
	if err != nil {
		return fmt.Errorf("create vertex shader module: %w", err)
	}
	prog.modules = append(prog.modules, vs)
	fs, err := b.device.CreateShaderModule(fragmentShader.Module())
	if err != nil {
		return fmt.Errorf("create fragment shader module: %w", err)
	}
	prog.modules = append(prog.modules, fs)

	if err = b.createLayouts(p, prog); err != nil {
		return err
	}

	target := wgpu.ColorTargetState{
		Format:    b.surfaceFormat,
		WriteMask: p.WriteMask(),
	}
	if p.BlendEnabled() {
		target.Blend = p.BlendState()
	}

	prog.renderPipeline, err = b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: prog.pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}

	p.SetHandle(prog)
	return nil
}

// createLayouts creates the group 0 bind group layout, the pipeline layout and the uniform buffer.
// Pipelines may only declare bind group 0.
func (b *wgpuRendererBackendImpl) createLayouts(p pipeline.Pipeline, prog *wgpuProgram) error {
	layouts := p.BindGroupLayouts()
	for g := range layouts {
		if g != 0 {
			return fmt.Errorf("bind group %d declared, only group 0 is supported", g)
		}
	}

	var groups []*wgpu.BindGroupLayout
	if desc, ok := layouts[0]; ok && len(desc.Entries) > 0 {
		desc.Label = p.PipelineKey()
		bgl, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return fmt.Errorf("create bind group layout: %w", err)
		}
		prog.bindGroupLayout = bgl
		prog.layoutEntries = desc.Entries
		groups = append(groups, bgl)
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: groups,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	prog.pipelineLayout = layout

	for _, e := range prog.layoutEntries {
		if e.Buffer.Type != wgpu.BufferBindingTypeUniform {
			continue
		}
		size := roundUp4(max(e.Buffer.MinBindingSize, 16))
		buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: p.PipelineKey() + " Uniform Buffer",
			Size:  size,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create uniform buffer: %w", err)
		}
		prog.uniformBuffer = buf
		prog.uniformBinding = e.Binding
		prog.hasUniform = true
		break
	}
	return nil
}

func (b *wgpuRendererBackendImpl) ReleasePipeline(p pipeline.Pipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prog, ok := p.Handle().(*wgpuProgram); ok {
		prog.release()
	}
	p.SetHandle(nil)
}

func (b *wgpuRendererBackendImpl) CreateFieldTexture(label string, shape FieldShape) (ResourceID, error) {
	texelSize := shape.BytesPerTexel()
	if texelSize == 0 || shape.Width == 0 || shape.Height == 0 {
		return 0, fmt.Errorf("unsupported field shape %dx%d format %v", shape.Width, shape.Height, shape.Format)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	size := wgpu.Extent3D{
		Width:              shape.Width,
		Height:             shape.Height,
		DepthOrArrayLayers: 1,
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		Size:          size,
		Format:        shape.Format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return 0, err
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		make([]byte, shape.Width*shape.Height*texelSize),
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  shape.Width * texelSize,
			RowsPerImage: shape.Height,
		},
		&size,
	)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, err
	}
	return b.store(&wgpuResource{texture: tex, view: view}), nil
}

func (b *wgpuRendererBackendImpl) CreateStorageBuffer(label string, data []byte) (ResourceID, error) {
	if len(data) == 0 {
		return 0, errors.New("storage buffer must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  roundUp4(uint64(len(data))),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, err
	}
	b.queue.WriteBuffer(buf, 0, data)
	return b.store(&wgpuResource{buffer: buf}), nil
}

func (b *wgpuRendererBackendImpl) CreateSampler(label string, data common.SamplerStagingData) (ResourceID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	samp, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         label,
		AddressModeU:  common.Coalesce(data.AddressModeU, wgpu.AddressModeClampToEdge),
		AddressModeV:  common.Coalesce(data.AddressModeV, wgpu.AddressModeClampToEdge),
		AddressModeW:  common.Coalesce(data.AddressModeW, wgpu.AddressModeClampToEdge),
		MagFilter:     common.Coalesce(data.MagFilter, wgpu.FilterModeNearest),
		MinFilter:     common.Coalesce(data.MinFilter, wgpu.FilterModeNearest),
		MipmapFilter:  common.Coalesce(data.MipmapFilter, wgpu.MipmapFilterModeNearest),
		LodMinClamp:   common.Coalesce(data.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(data.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(data.MaxAnisotropy, 1),
	})
	if err != nil {
		return 0, err
	}
	return b.store(&wgpuResource{sampler: samp}), nil
}

// store registers res under the next resource ID. Callers hold b.mu.
func (b *wgpuRendererBackendImpl) store(res *wgpuResource) ResourceID {
	b.nextID++
	b.resources[b.nextID] = res
	return b.nextID
}

func (b *wgpuRendererBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.computeFrameEncoder = encoder
	b.computeRecorded = false
	return nil
}

func (b *wgpuRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, bindings []Binding, uniforms []byte, workGroupCount [3]uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return errors.New("dispatch outside of a compute frame")
	}
	prog, ok := p.Handle().(*wgpuProgram)
	if !ok || prog.computePipeline == nil {
		return fmt.Errorf("pipeline %q is not linked as a compute pipeline", p.PipelineKey())
	}

	bindGroup, err := b.bindGroup(p, prog, bindings)
	if err != nil {
		return err
	}

	if prog.hasUniform && len(uniforms) > 0 {
		// a queued write lands before the next submit, so pending passes must go first
		if b.computeRecorded {
			if err := b.flushCompute(); err != nil {
				return err
			}
		}
		b.queue.WriteBuffer(prog.uniformBuffer, 0, uniforms)
	}

	pass := b.computeFrameEncoder.BeginComputePass(nil)
	pass.SetPipeline(prog.computePipeline)
	if bindGroup != nil {
		pass.SetBindGroup(0, bindGroup, nil)
	}
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
	b.computeRecorded = true
	return nil
}

func (b *wgpuRendererBackendImpl) Barrier() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil || !b.computeRecorded {
		return nil
	}
	return b.flushCompute()
}

// flushCompute submits the compute encoder and opens a fresh one. Callers hold b.mu.
func (b *wgpuRendererBackendImpl) flushCompute() error {
	commandBuffer, err := b.computeFrameEncoder.Finish(nil)
	b.computeFrameEncoder.Release()
	b.computeFrameEncoder = nil
	b.computeRecorded = false
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.computeFrameEncoder = encoder
	return nil
}

func (b *wgpuRendererBackendImpl) EndComputeFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return
	}

	commandBuffer, err := b.computeFrameEncoder.Finish(nil)
	b.computeFrameEncoder.Release()
	b.computeFrameEncoder = nil
	b.computeRecorded = false
	if err != nil {
		return
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
}

func (b *wgpuRendererBackendImpl) BeginFrame(clear bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface != nil {
		return errors.New("previous frame surface not yet presented")
	}
	if b.width == 0 || b.height == 0 {
		// minimised: skip the frame without an error
		return nil
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}

	loadOp := wgpu.LoadOpLoad
	if clear {
		loadOp = wgpu.LoadOpClear
	}
	b.framePass = encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       b.canvasView,
				LoadOp:     loadOp,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: b.clearColor,
			},
		},
	})
	b.frameEncoder = encoder
	b.frameSurface = surfaceTexture
	return nil
}

func (b *wgpuRendererBackendImpl) DrawCall(p pipeline.Pipeline, bindings []Binding, uniforms []byte, vertexCount uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return nil
	}
	prog, ok := p.Handle().(*wgpuProgram)
	if !ok || prog.renderPipeline == nil {
		return fmt.Errorf("pipeline %q is not linked as a render pipeline", p.PipelineKey())
	}

	bindGroup, err := b.bindGroup(p, prog, bindings)
	if err != nil {
		return err
	}
	if prog.hasUniform && len(uniforms) > 0 {
		b.queue.WriteBuffer(prog.uniformBuffer, 0, uniforms)
	}

	b.framePass.SetPipeline(prog.renderPipeline)
	if bindGroup != nil {
		b.framePass.SetBindGroup(0, bindGroup, nil)
	}
	b.framePass.Draw(vertexCount, 1, 0, 0)
	return nil
}

func (b *wgpuRendererBackendImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()
	b.framePass = nil

	size := wgpu.Extent3D{Width: b.width, Height: b.height, DepthOrArrayLayers: 1}
	b.frameEncoder.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: b.canvas, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: b.frameSurface, Aspect: wgpu.TextureAspectAll},
		&size,
	)

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
		return
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()
	b.frameSurface.Release()
	b.frameSurface = nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, res := range b.resources {
		res.release()
		delete(b.resources, id)
	}
	if b.canvasView != nil {
		b.canvasView.Release()
		b.canvasView = nil
	}
	if b.canvas != nil {
		b.canvas.Release()
		b.canvas = nil
	}
	if b.queue != nil {
		b.queue.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.surface != nil {
		b.surface.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

// bindGroup returns the cached bind group for a binding signature, creating it on first use.
// The pipeline's own uniform buffer fills its uniform binding. Callers hold b.mu.
func (b *wgpuRendererBackendImpl) bindGroup(p pipeline.Pipeline, prog *wgpuProgram, bindings []Binding) (*wgpu.BindGroup, error) {
	if prog.bindGroupLayout == nil {
		return nil, nil
	}

	key := bindingSignature(bindings)
	if bg, ok := prog.bindGroups[key]; ok {
		return bg, nil
	}

	byBinding := make(map[uint32]ResourceID, len(bindings))
	for _, bd := range bindings {
		byBinding[bd.Binding] = bd.Resource
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(prog.layoutEntries))
	for _, e := range prog.layoutEntries {
		if prog.hasUniform && e.Binding == prog.uniformBinding {
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: e.Binding,
				Buffer:  prog.uniformBuffer,
				Offset:  0,
				Size:    wgpu.WholeSize,
			})
			continue
		}

		id, ok := byBinding[e.Binding]
		if !ok {
			return nil, fmt.Errorf("pipeline %q: binding %d has no resource", p.PipelineKey(), e.Binding)
		}
		res, ok := b.resources[id]
		if !ok {
			return nil, fmt.Errorf("pipeline %q: binding %d references unknown resource %d", p.PipelineKey(), e.Binding, id)
		}

		entry := wgpu.BindGroupEntry{Binding: e.Binding}
		switch {
		case e.Buffer.Type != wgpu.BufferBindingTypeUndefined && res.buffer != nil:
			entry.Buffer = res.buffer
			entry.Size = wgpu.WholeSize
		case e.Sampler.Type != wgpu.SamplerBindingTypeUndefined && res.sampler != nil:
			entry.Sampler = res.sampler
		case (e.Texture.SampleType != wgpu.TextureSampleTypeUndefined || e.StorageTexture.Format != wgpu.TextureFormatUndefined) && res.view != nil:
			entry.TextureView = res.view
		default:
			return nil, fmt.Errorf("pipeline %q: resource %d does not match binding %d", p.PipelineKey(), id, e.Binding)
		}
		entries = append(entries, entry)
	}

	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   p.PipelineKey() + " Bind Group",
		Layout:  prog.bindGroupLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	prog.bindGroups[key] = bg
	return bg, nil
}

// bindingSignature renders bindings as a stable cache key, e.g. "1=3,2=4".
func bindingSignature(bindings []Binding) string {
	sorted := make([]Binding, len(bindings))
	copy(sorted, bindings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Binding < sorted[j].Binding })

	var sb strings.Builder
	for i, bd := range sorted {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(bd.Binding), 10))
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatUint(uint64(bd.Resource), 10))
	}
	return sb.String()
}

func roundUp4(n uint64) uint64 {
	return (n + 3) &^ 3
}
