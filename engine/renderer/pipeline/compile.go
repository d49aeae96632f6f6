package pipeline

import (
	"encoding/binary"

	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"github.com/cespare/xxhash/v2"
	"github.com/cogentcore/webgpu/wgpu"
)

// Linker creates and destroys the GPU objects behind a Pipeline. The renderer implements it.
type Linker interface {
	// Link creates the GPU pipeline for p and attaches it with SetHandle. On failure every
	// object created during the attempt is released before returning.
	//
	// Parameters:
	//   - p: the assembled, unlinked pipeline
	//
	// Returns:
	//   - error: an error if any GPU object could not be created
	Link(p Pipeline) error

	// Unlink releases the GPU objects attached to p and clears its handle.
	//
	// Parameters:
	//   - p: the linked pipeline to release
	Unlink(p Pipeline)
}

// Frontend runs the shader front-end for every unit in order and stops at the first failure.
// It creates no GPU objects and is safe to call off the main thread.
//
// Parameters:
//   - units: the source units to compile
//
// Returns:
//   - []shader.Shader: one compiled shader per unit
//   - error: the first *shader.CompileError
func Frontend(units []shader.SourceUnit) ([]shader.Shader, error) {
	shaders := make([]shader.Shader, 0, len(units))
	for _, u := range units {
		s, err := shader.Compile(u)
		if err != nil {
			return nil, err
		}
		shaders = append(shaders, s)
	}
	return shaders, nil
}

// Hash combines the content hashes of compiled shaders in order.
//
// Parameters:
//   - shaders: the compiled shaders
//
// Returns:
//   - uint64: the combined hash
func Hash(shaders []shader.Shader) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, s := range shaders {
		binary.LittleEndian.PutUint64(buf[:], s.Hash())
		_, _ = d.Write(buf[:])
		_, _ = d.WriteString(s.Unit().Path)
	}
	return d.Sum64()
}

// Assemble checks the composition of compiled shaders and builds an unlinked Pipeline. A program
// is either exactly one compute unit, or exactly one vertex unit plus one fragment unit.
//
// Parameters:
//   - key: the pipeline key
//   - shaders: the compiled shaders, in unit order
//   - opts: pipeline builder options
//
// Returns:
//   - Pipeline: the unlinked pipeline
//   - error: a *LinkError for a bad composition or conflicting bindings
func Assemble(key string, shaders []shader.Shader, opts ...PipelineBuilderOption) (Pipeline, error) {
	var compute, vertex, fragment []shader.Shader
	units := make([]shader.SourceUnit, 0, len(shaders))
	for _, s := range shaders {
		units = append(units, s.Unit())
		switch s.ShaderType() {
		case shader.ShaderTypeCompute:
			compute = append(compute, s)
		case shader.ShaderTypeVertex:
			vertex = append(vertex, s)
		case shader.ShaderTypeFragment:
			fragment = append(fragment, s)
		}
	}

	var p *pipeline
	switch {
	case len(compute) == 1 && len(vertex) == 0 && len(fragment) == 0:
		p = newPipeline(key, PipelineTypeCompute, opts...)
		p.computeShader = compute[0]
	case len(compute) == 0 && len(vertex) == 1 && len(fragment) == 1:
		p = newPipeline(key, PipelineTypeRender, opts...)
		p.vertexShader, p.fragmentShader = vertex[0], fragment[0]
	default:
		return nil, &LinkError{
			Program: key,
			Message: "a program needs one compute unit, or one vertex unit and one fragment unit",
		}
	}

	stageLayouts := make([]map[int]wgpu.BindGroupLayoutDescriptor, 0, len(shaders))
	for _, s := range shaders {
		stageLayouts = append(stageLayouts, s.BindGroupLayoutDescriptors())
	}
	merged, err := mergeBindGroupLayouts(stageLayouts...)
	if err != nil {
		return nil, &LinkError{Program: key, Message: err.Error()}
	}

	p.units = units
	p.hash = Hash(shaders)
	p.bindGroupLayouts = merged
	return p, nil
}

// Compile builds a linked Pipeline from source units: front-end, composition check, then link.
// On failure no Pipeline is returned and the linker has released anything it created.
//
// Parameters:
//   - key: the pipeline key
//   - units: the source units
//   - linker: the linker that creates the GPU objects
//   - opts: pipeline builder options
//
// Returns:
//   - Pipeline: the linked pipeline
//   - error: a *shader.CompileError or *LinkError
func Compile(key string, units []shader.SourceUnit, linker Linker, opts ...PipelineBuilderOption) (Pipeline, error) {
	shaders, err := Frontend(units)
	if err != nil {
		return nil, err
	}
	return Link(key, shaders, linker, opts...)
}

// Link assembles compiled shaders and links the result. It must run on the thread that owns the GPU.
//
// Parameters:
//   - key: the pipeline key
//   - shaders: the compiled shaders
//   - linker: the linker that creates the GPU objects
//   - opts: pipeline builder options
//
// Returns:
//   - Pipeline: the linked pipeline
//   - error: a *LinkError
func Link(key string, shaders []shader.Shader, linker Linker, opts ...PipelineBuilderOption) (Pipeline, error) {
	p, err := Assemble(key, shaders, opts...)
	if err != nil {
		return nil, err
	}
	if err := linker.Link(p); err != nil {
		return nil, &LinkError{Program: key, Message: "create GPU pipeline", Err: err}
	}
	return p, nil
}
