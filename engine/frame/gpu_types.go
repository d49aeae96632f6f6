package frame

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUFrameUniformsSource is the canonical WGSL definition of the Pen and FrameUniforms structs.
// Matches GPUFrameUniforms layout exactly (160 bytes, uniform address space aligned).
//
//go:embed assets/frame_uniforms.wgsl
var GPUFrameUniformsSource string

// UniformSet selects which per-frame values a stage receives. Values outside the set are
// uploaded as zero.
type UniformSet uint8

const (
	UniformTime UniformSet = 1 << iota
	UniformTimeStep
	UniformScreen
	UniformPens
	UniformParity

	UniformAll = UniformTime | UniformTimeStep | UniformScreen | UniformPens | UniformParity
)

// Has reports whether every flag in f is part of the set.
func (u UniformSet) Has(f UniformSet) bool {
	return u&f == f
}

// GPUPen is the GPU-aligned representation of a single pen (16 bytes).
type GPUPen struct {
	Pos [2]float32 // offset 0: normalized position (vec2<f32>)
	Vel [2]float32 // offset 8: velocity (vec2<f32>)
}

// GPUFrameUniforms is the GPU-aligned representation of the frame uniform buffer.
// Matches the WGSL FrameUniforms struct layout exactly (see GPUFrameUniformsSource).
// Size: 160 bytes.
type GPUFrameUniforms struct {
	Time     float32         // offset  0: elapsed seconds (f32)
	TimeStep float32         // offset  4: simulation step (f32)
	Screen   [2]float32      // offset  8: framebuffer size in pixels (vec2<f32>)
	Parity   uint32          // offset 16: iteration parity (u32)
	PenCount uint32          // offset 20: active pen count (u32)
	_pad     [2]uint32       // offset 24: padding so pens start on a 16 byte boundary
	Pens     [MaxPens]GPUPen // offset 32: padded pen array (array<Pen, 8>)
}

// NewGPUFrameUniforms packs the values of s selected by set.
//
// Parameters:
//   - s: the frame state to pack
//   - set: the uniform values the stage consumes
//   - parity: the iteration parity (0 or 1)
//
// Returns:
//   - GPUFrameUniforms: the packed uniform block
func NewGPUFrameUniforms(s State, set UniformSet, parity uint32) GPUFrameUniforms {
	var u GPUFrameUniforms
	if set.Has(UniformTime) {
		u.Time = s.Elapsed
	}
	if set.Has(UniformTimeStep) {
		u.TimeStep = s.EffectiveTimeStep()
	}
	if set.Has(UniformScreen) {
		u.Screen = [2]float32{float32(s.Width), float32(s.Height)}
	}
	if set.Has(UniformParity) {
		u.Parity = parity & 1
	}
	if set.Has(UniformPens) {
		pens := s.PenArray()
		u.PenCount = uint32(s.PenCount())
		for i, p := range pens {
			u.Pens[i] = GPUPen{Pos: [2]float32{p.X, p.Y}, Vel: [2]float32{p.VX, p.VY}}
		}
	}
	return u
}

// Size returns the size of the GPUFrameUniforms struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (160)
func (g *GPUFrameUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUFrameUniforms struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUFrameUniforms) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(g.Time))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(g.TimeStep))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(g.Screen[0]))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(g.Screen[1]))
	binary.LittleEndian.PutUint32(buf[16:], g.Parity)
	binary.LittleEndian.PutUint32(buf[20:], g.PenCount)
	// bytes 24..31 stay zero (_pad)
	for i, p := range g.Pens {
		off := 32 + i*16
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(p.Pos[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p.Pos[1]))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p.Vel[0]))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(p.Vel[1]))
	}
	return buf
}
