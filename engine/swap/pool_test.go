package swap

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/renderertest"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gridShape = renderer.FieldShape{Width: 512, Height: 512, Format: wgpu.TextureFormatRG32Float}

func TestAllocate_HalvesAreDistinct(t *testing.T) {
	r := renderertest.New()
	p := NewPool(r)

	f, err := p.Allocate("velocity", gridShape)
	require.NoError(t, err)

	assert.NotEqual(t, p.Current(f), p.Next(f))
	assert.Equal(t, 0, p.Parity(f))
	assert.Equal(t, gridShape, p.Shape(f))
	assert.Equal(t, "velocity", p.Label(f))
	assert.Equal(t, "velocity[0]", r.Label(p.Current(f)))
	assert.Equal(t, "velocity[1]", r.Label(p.Next(f)))
	assert.NotZero(t, p.Sampler())
}

func TestSwap_FlipsAndNeverAliases(t *testing.T) {
	p := NewPool(renderertest.New())
	f, err := p.Allocate("pressure", gridShape)
	require.NoError(t, err)

	first, second := p.Current(f), p.Next(f)
	for i := range 7 {
		p.Swap(f)
		assert.NotEqual(t, p.Current(f), p.Next(f))
		if i%2 == 0 {
			assert.Equal(t, second, p.Current(f))
			assert.Equal(t, 1, p.Parity(f))
		} else {
			assert.Equal(t, first, p.Current(f))
			assert.Equal(t, 0, p.Parity(f))
		}
	}
}

func TestSwap_EvenCountRestoresParity(t *testing.T) {
	p := NewPool(renderertest.New())
	f, err := p.Allocate("pressure", gridShape)
	require.NoError(t, err)
	start := p.Current(f)

	for range 30 {
		p.Swap(f)
	}
	assert.Equal(t, start, p.Current(f))
}

func TestFields_AreIndependentAndShareSampler(t *testing.T) {
	p := NewPool(renderertest.New())
	a, err := p.Allocate("a", gridShape)
	require.NoError(t, err)
	sampler := p.Sampler()
	b, err := p.Allocate("b", gridShape)
	require.NoError(t, err)

	p.Swap(a)
	assert.Equal(t, 1, p.Parity(a))
	assert.Equal(t, 0, p.Parity(b))
	assert.Equal(t, sampler, p.Sampler())
	assert.NotEqual(t, p.Current(a), p.Current(b))
}

func TestAllocate_FailureIsResourceAllocationError(t *testing.T) {
	r := renderertest.New()
	r.AllocErr = func(label string) error {
		if label == "velocity[1]" {
			return errors.New("out of memory")
		}
		return nil
	}
	p := NewPool(r)

	_, err := p.Allocate("velocity", gridShape)
	var rae *renderer.ResourceAllocationError
	require.ErrorAs(t, err, &rae)
	assert.Equal(t, "velocity[1]", rae.Label)
}

func TestAllocateParticles(t *testing.T) {
	p := NewPool(renderertest.New())

	b, err := p.AllocateParticles("particles", 10, 16, nil)
	require.NoError(t, err)
	assert.NotZero(t, p.Particles(b))
	assert.Equal(t, uint32(10), p.ParticleCount(b))

	_, err = p.AllocateParticles("bad", 10, 16, make([]byte, 8))
	var rae *renderer.ResourceAllocationError
	assert.ErrorAs(t, err, &rae)
}
