package shader

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType identifies the pipeline stage a source unit compiles for.
type ShaderType int

const (
	// ShaderTypeCompute indicates a unit containing a @compute entry point.
	ShaderTypeCompute ShaderType = iota

	// ShaderTypeVertex indicates a unit containing a @vertex entry point.
	ShaderTypeVertex

	// ShaderTypeFragment indicates a unit containing a @fragment entry point, paired with a vertex unit.
	ShaderTypeFragment
)

func (t ShaderType) String() string {
	switch t {
	case ShaderTypeCompute:
		return "compute"
	case ShaderTypeVertex:
		return "vertex"
	case ShaderTypeFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Visibility returns the wgpu shader stage flag for the type.
func (t ShaderType) Visibility() wgpu.ShaderStage {
	switch t {
	case ShaderTypeCompute:
		return wgpu.ShaderStageCompute
	case ShaderTypeVertex:
		return wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		return wgpu.ShaderStageFragment
	default:
		return wgpu.ShaderStageNone
	}
}

// SourceUnit is one stage's program text identified by its canonical path.
type SourceUnit struct {
	Kind ShaderType
	Path string
}

// shader is the implementation of the Shader interface.
type shader struct {
	unit                       SourceUnit
	source                     string
	hash                       uint64
	entryPoint                 string
	workGroupSize              [3]uint32
	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	bindingVarNames            map[int]map[int]string
	declarations               []Annotation
	module                     *wgpu.ShaderModuleDescriptor
}

// Shader is the front-end result for one source unit: pre-processed and validated WGSL with its
// reflected entry point, workgroup size and bind group layouts. It holds no GPU objects.
type Shader interface {
	// Unit returns the source unit this shader was compiled from.
	//
	// Returns:
	//   - SourceUnit: the stage kind and canonical path
	Unit() SourceUnit

	// Source returns the pre-processed WGSL source.
	//
	// Returns:
	//   - string: the WGSL source handed to the GPU driver
	Source() string

	// Hash returns the xxhash of the pre-processed source.
	//
	// Returns:
	//   - uint64: the content hash
	Hash() uint64

	// ShaderType returns the stage kind of the shader.
	//
	// Returns:
	//   - ShaderType: ShaderTypeCompute, ShaderTypeVertex or ShaderTypeFragment
	ShaderType() ShaderType

	// EntryPoint returns the entry point function name for the shader's stage kind.
	//
	// Returns:
	//   - string: the entry point name
	EntryPoint() string

	// WorkgroupSize returns the @workgroup_size of a compute entry point, or [0, 0, 0] for render stages.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// BindGroupLayoutDescriptors returns the reflected bind group layout descriptors keyed by group index.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: the layout descriptors
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupVarName returns the WGSL variable name declared at group and binding.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or an empty string if nothing is declared there
	BindGroupVarName(group, binding int) string

	// Declarations returns the @oxy:group annotations found in the unit's raw source.
	//
	// Returns:
	//   - []Annotation: the declarations in source order
	Declarations() []Annotation

	// Module returns the shader module descriptor for GPU module creation.
	//
	// Returns:
	//   - *wgpu.ShaderModuleDescriptor: the descriptor labelled with the unit path
	Module() *wgpu.ShaderModuleDescriptor
}

var _ Shader = &shader{}

func (s *shader) Unit() SourceUnit {
	return s.unit
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) Hash() uint64 {
	return s.hash
}

func (s *shader) ShaderType() ShaderType {
	return s.unit.Kind
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) BindGroupVarName(group, binding int) string {
	if s.bindingVarNames[group] == nil {
		return ""
	}
	return s.bindingVarNames[group][binding]
}

func (s *shader) Declarations() []Annotation {
	return s.declarations
}

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

// hashSource returns the content hash used to detect unchanged recompiles.
func hashSource(source string) uint64 {
	return xxhash.Sum64String(source)
}
