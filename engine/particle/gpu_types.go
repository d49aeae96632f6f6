// Package particle defines the GPU particle layout shared by the particle update stage and the
// point render pass, and seeds the initial particle cloud.
package particle

import (
	_ "embed"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"unsafe"
)

// GPUParticleSource is the canonical WGSL definition of the Particle struct.
// Matches GPUParticle layout exactly (16 bytes).
//
//go:embed assets/particle.wgsl
var GPUParticleSource string

// GPUParticle is the GPU-aligned representation of one particle.
type GPUParticle struct {
	Pos [2]float32 // offset 0: normalized position (vec2<f32>)
	Vel [2]float32 // offset 8: velocity (vec2<f32>)
}

// Stride is the size of one GPUParticle in bytes.
const Stride = uint64(unsafe.Sizeof(GPUParticle{}))

// Seed returns count particles spread uniformly over the unit square at rest.
//
// Parameters:
//   - count: the number of particles
//   - seed: the random seed, so runs are reproducible
//
// Returns:
//   - []GPUParticle: the seeded particles
func Seed(count int, seed uint64) []GPUParticle {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]GPUParticle, count)
	for i := range out {
		out[i].Pos = [2]float32{rng.Float32(), rng.Float32()}
	}
	return out
}

// Marshal serializes particles into a byte buffer suitable for GPU upload.
//
// Parameters:
//   - particles: the particles to serialize
//
// Returns:
//   - []byte: the serialized byte buffer
func Marshal(particles []GPUParticle) []byte {
	buf := make([]byte, len(particles)*int(Stride))
	for i, p := range particles {
		off := i * int(Stride)
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(p.Pos[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p.Pos[1]))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p.Vel[0]))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(p.Vel[1]))
	}
	return buf
}
