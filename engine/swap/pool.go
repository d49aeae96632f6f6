// Package swap owns the ping-pong field textures and the particle buffer the compute stages
// read and write. A field is a pair of equally shaped textures plus a parity bit: passes read
// Current and write Next, then Swap flips which half is which.
package swap

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fluid/common"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
)

// Allocator creates the GPU resources the pool hands out. renderer.Renderer satisfies it.
type Allocator interface {
	CreateFieldTexture(label string, shape renderer.FieldShape) (renderer.ResourceID, error)
	CreateStorageBuffer(label string, data []byte) (renderer.ResourceID, error)
	CreateSampler(label string, data common.SamplerStagingData) (renderer.ResourceID, error)
}

// FieldBuffer identifies a ping-pong field within its Pool.
type FieldBuffer int

// ParticleBuffer identifies a particle storage buffer within its Pool. It is never swapped.
type ParticleBuffer int

type field struct {
	label  string
	shape  renderer.FieldShape
	slots  [2]renderer.ResourceID
	parity uint8
}

type particles struct {
	label    string
	count    uint32
	stride   uint64
	resource renderer.ResourceID
}

// pool is the implementation of the Pool interface.
type pool struct {
	alloc     Allocator
	sampler   renderer.ResourceID
	fields    []field
	particles []particles
}

// Pool is the Resource Swap Pool. It is owned by the main thread and is not safe for concurrent use.
type Pool interface {
	// Allocate creates both halves of a field, zero-filled and with identical shape.
	//
	// Parameters:
	//   - label: the field name, used for resource labels
	//   - shape: the size and format of both halves
	//
	// Returns:
	//   - FieldBuffer: the new field
	//   - error: a *renderer.ResourceAllocationError if either half could not be created
	Allocate(label string, shape renderer.FieldShape) (FieldBuffer, error)

	// AllocateParticles creates a storage buffer of count elements of stride bytes.
	//
	// Parameters:
	//   - label: the buffer name
	//   - count: the number of particles
	//   - stride: the size of one particle in bytes
	//   - init: the initial contents, or nil for zeroes; must be count*stride bytes when set
	//
	// Returns:
	//   - ParticleBuffer: the new buffer
	//   - error: a *renderer.ResourceAllocationError on failure
	AllocateParticles(label string, count uint32, stride uint64, init []byte) (ParticleBuffer, error)

	// Current returns the half of f that holds the latest completed values.
	//
	// Parameters:
	//   - f: the field
	//
	// Returns:
	//   - renderer.ResourceID: the readable half
	Current(f FieldBuffer) renderer.ResourceID

	// Next returns the half of f the next pass writes. It never equals Current(f).
	//
	// Parameters:
	//   - f: the field
	//
	// Returns:
	//   - renderer.ResourceID: the writable half
	Next(f FieldBuffer) renderer.ResourceID

	// Swap flips the parity of f so the freshly written half becomes Current.
	//
	// Parameters:
	//   - f: the field
	Swap(f FieldBuffer)

	// Parity returns the parity bit of f, 0 right after allocation.
	//
	// Parameters:
	//   - f: the field
	//
	// Returns:
	//   - int: 0 or 1
	Parity(f FieldBuffer) int

	// Shape returns the shape f was allocated with.
	//
	// Parameters:
	//   - f: the field
	//
	// Returns:
	//   - renderer.FieldShape: the field shape
	Shape(f FieldBuffer) renderer.FieldShape

	// Label returns the label f was allocated with.
	//
	// Parameters:
	//   - f: the field
	//
	// Returns:
	//   - string: the field label
	Label(f FieldBuffer) string

	// Particles returns the storage buffer resource of b.
	//
	// Parameters:
	//   - b: the particle buffer
	//
	// Returns:
	//   - renderer.ResourceID: the storage buffer
	Particles(b ParticleBuffer) renderer.ResourceID

	// ParticleCount returns the element count of b.
	//
	// Parameters:
	//   - b: the particle buffer
	//
	// Returns:
	//   - uint32: the number of particles
	ParticleCount(b ParticleBuffer) uint32

	// Sampler returns the clamp-to-edge, nearest-filter sampler shared by every field.
	//
	// Returns:
	//   - renderer.ResourceID: the sampler, created with the first field
	Sampler() renderer.ResourceID
}

var _ Pool = &pool{}

// NewPool creates an empty Pool allocating through alloc.
//
// Parameters:
//   - alloc: the allocator, usually the renderer
//
// Returns:
//   - Pool: the empty pool
func NewPool(alloc Allocator) Pool {
	return &pool{alloc: alloc}
}

func (p *pool) Allocate(label string, shape renderer.FieldShape) (FieldBuffer, error) {
	if p.sampler == 0 {
		s, err := p.alloc.CreateSampler("field sampler", common.ClampToEdgeNearest())
		if err != nil {
			return -1, err
		}
		p.sampler = s
	}

	var f field
	f.label = label
	f.shape = shape
	for i := range f.slots {
		id, err := p.alloc.CreateFieldTexture(fmt.Sprintf("%s[%d]", label, i), shape)
		if err != nil {
			return -1, err
		}
		f.slots[i] = id
	}
	p.fields = append(p.fields, f)
	return FieldBuffer(len(p.fields) - 1), nil
}

func (p *pool) AllocateParticles(label string, count uint32, stride uint64, init []byte) (ParticleBuffer, error) {
	size := uint64(count) * stride
	if init == nil {
		init = make([]byte, size)
	}
	if uint64(len(init)) != size {
		return -1, &renderer.ResourceAllocationError{
			Label: label,
			Err:   fmt.Errorf("initial data is %d bytes, want %d", len(init), size),
		}
	}

	id, err := p.alloc.CreateStorageBuffer(label, init)
	if err != nil {
		return -1, err
	}
	p.particles = append(p.particles, particles{label: label, count: count, stride: stride, resource: id})
	return ParticleBuffer(len(p.particles) - 1), nil
}

func (p *pool) Current(f FieldBuffer) renderer.ResourceID {
	fb := &p.fields[f]
	return fb.slots[fb.parity]
}

func (p *pool) Next(f FieldBuffer) renderer.ResourceID {
	fb := &p.fields[f]
	return fb.slots[1-fb.parity]
}

func (p *pool) Swap(f FieldBuffer) {
	p.fields[f].parity ^= 1
}

func (p *pool) Parity(f FieldBuffer) int {
	return int(p.fields[f].parity)
}

func (p *pool) Shape(f FieldBuffer) renderer.FieldShape {
	return p.fields[f].shape
}

func (p *pool) Label(f FieldBuffer) string {
	return p.fields[f].label
}

func (p *pool) Particles(b ParticleBuffer) renderer.ResourceID {
	return p.particles[b].resource
}

func (p *pool) ParticleCount(b ParticleBuffer) uint32 {
	return p.particles[b].count
}

func (p *pool) Sampler() renderer.ResourceID {
	return p.sampler
}
