package renderer

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// ResourceID identifies a GPU resource owned by the renderer. Zero is never a valid ID.
type ResourceID uint32

// FieldShape describes a 2D field texture. It is fixed for the texture's lifetime.
type FieldShape struct {
	Width  uint32
	Height uint32
	Format wgpu.TextureFormat
}

// BytesPerTexel returns the texel size of the shape's format, or 0 for formats fields do not use.
func (s FieldShape) BytesPerTexel() uint32 {
	switch s.Format {
	case wgpu.TextureFormatR32Float, wgpu.TextureFormatR32Uint, wgpu.TextureFormatRGBA8Unorm:
		return 4
	case wgpu.TextureFormatRG32Float, wgpu.TextureFormatRG32Uint, wgpu.TextureFormatRGBA16Float:
		return 8
	case wgpu.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// Access states how a binding uses its resource within a pass.
type Access int

const (
	// AccessRead binds a field texture for sampling or loads.
	AccessRead Access = iota

	// AccessWrite binds a field texture as a write-only storage texture.
	AccessWrite

	// AccessStorage binds a storage buffer, mutated in place.
	AccessStorage

	// AccessSampler binds a sampler.
	AccessSampler
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessStorage:
		return "storage"
	case AccessSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

// Binding attaches a resource to a @binding slot of bind group 0. The uniform buffer binding is
// owned by the pipeline and is never listed.
type Binding struct {
	Binding  uint32
	Resource ResourceID
	Access   Access
}

// ResourceAllocationError reports that a GPU resource could not be created.
type ResourceAllocationError struct {
	Label string
	Err   error
}

func (e *ResourceAllocationError) Error() string {
	return fmt.Sprintf("allocate %s: %v", e.Label, e.Err)
}

func (e *ResourceAllocationError) Unwrap() error {
	return e.Err
}
