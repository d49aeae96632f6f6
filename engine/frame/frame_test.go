package frame

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPenArray_NoActivePensIsAllZero(t *testing.T) {
	s := NewState(800, 600, 0.1, true)

	pens := s.PenArray()
	assert.Len(t, pens, MaxPens)
	for i, p := range pens {
		assert.Equal(t, Pen{}, p, "pen slot %d", i)
	}

	u := NewGPUFrameUniforms(s, UniformAll, 0)
	assert.Zero(t, u.PenCount)
	buf := u.Marshal()
	require.Len(t, buf, 160)
	for i, b := range buf[32:] {
		assert.Zero(t, b, "pen byte %d", i)
	}
}

func TestPenArray_PacksActivePensAndPadsRest(t *testing.T) {
	s := NewState(800, 600, 0.1, true).
		Apply(
			PenMoved{ID: 3, Pen: Pen{X: 0.25, Y: 0.5, VX: 1, VY: -1}},
			PenMoved{ID: 7, Pen: Pen{X: 0.75, Y: 0.1}},
			PenReleased{ID: 3},
			PenMoved{ID: 9, Pen: Pen{X: 0.9, Y: 0.9}},
		)

	assert.Equal(t, 2, s.PenCount())
	pens := s.PenArray()
	// pen 9 reuses the slot freed by pen 3, which comes first in slot order
	assert.Equal(t, Pen{X: 0.9, Y: 0.9}, pens[0])
	assert.Equal(t, Pen{X: 0.75, Y: 0.1}, pens[1])
	for i := 2; i < MaxPens; i++ {
		assert.Equal(t, Pen{}, pens[i])
	}
}

func TestWithPen_BoundedTableDropsOverflow(t *testing.T) {
	s := NewState(100, 100, 0.1, true)
	for id := range MaxPens + 3 {
		s = s.WithPen(id, Pen{X: float32(id)})
	}
	assert.Equal(t, MaxPens, s.PenCount())

	// updating an existing pen still works when the table is full
	s = s.WithPen(0, Pen{X: 42})
	assert.Equal(t, float32(42), s.PenArray()[0].X)
}

func TestApply_LeavesOriginalUntouched(t *testing.T) {
	before := NewState(100, 100, 0.1, true)
	after := before.Apply(PenMoved{ID: 1, Pen: Pen{X: 1}}, ClearToggled{}, Resized{Width: 10, Height: 20})

	assert.Zero(t, before.PenCount())
	assert.True(t, before.ClearMode)
	assert.Equal(t, 100, before.Width)

	assert.Equal(t, 1, after.PenCount())
	assert.False(t, after.ClearMode)
	assert.Equal(t, 10, after.Width)
	assert.Equal(t, 20, after.Height)
}

func TestTimeStepDeltas(t *testing.T) {
	tests := []struct {
		name   string
		deltas []Delta
		want   float32
		paused bool
	}{
		{name: "scale up", deltas: []Delta{TimeStepScaled{Factor: 2}}, want: 0.2},
		{name: "scale clamps high", deltas: []Delta{TimeStepScaled{Factor: 1000}}, want: MaxTimeStep},
		{name: "scale clamps low", deltas: []Delta{TimeStepScaled{Factor: 1e-9}}, want: MinTimeStep},
		{name: "non-positive factor ignored", deltas: []Delta{TimeStepScaled{Factor: -1}}, want: 0.1},
		{name: "reset restores default", deltas: []Delta{TimeStepScaled{Factor: 3}, PauseToggled{}, TimeStepReset{}}, want: 0.1},
		{name: "pause", deltas: []Delta{PauseToggled{}}, want: 0.1, paused: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(1, 1, 0.1, true).Apply(tt.deltas...)
			assert.InDelta(t, tt.want, s.TimeStep, 1e-6)
			assert.Equal(t, tt.paused, s.Paused)
		})
	}
}

func TestEffectiveTimeStep(t *testing.T) {
	s := NewState(1, 1, 0.1, true)
	assert.Zero(t, s.EffectiveTimeStep(), "first frame starts from rest")

	s = s.End()
	assert.InDelta(t, 0.1, s.EffectiveTimeStep(), 1e-6)

	s = s.Apply(PauseToggled{})
	assert.Equal(t, PausedTimeStep, s.EffectiveTimeStep())
}

func TestClearOnceIsConsumedAtEndOfFrame(t *testing.T) {
	s := NewState(1, 1, 0.1, false)
	assert.False(t, s.ShouldClear())

	s = s.Apply(ClearRequested{})
	assert.True(t, s.ShouldClear())

	s = s.End()
	assert.False(t, s.ShouldClear())
	assert.Equal(t, uint64(1), s.Frame)
}

func TestResized_IgnoresMinimizedWindow(t *testing.T) {
	s := NewState(640, 480, 0.1, true).Apply(Resized{Width: 0, Height: 0})
	assert.Equal(t, 640, s.Width)
	assert.Equal(t, 480, s.Height)
}

func TestGPUFrameUniforms_Layout(t *testing.T) {
	s := NewState(1024, 768, 0.1, true).End().
		Begin(2.5).
		Apply(PenMoved{ID: 0, Pen: Pen{X: 0.5, Y: 0.25, VX: 3, VY: 4}})

	u := NewGPUFrameUniforms(s, UniformAll, 3)
	assert.Equal(t, 160, u.Size())
	assert.Equal(t, uint32(1), u.Parity, "parity is a single bit")

	buf := u.Marshal()
	f32 := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])) }
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }

	assert.Equal(t, float32(2.5), f32(0))
	assert.InDelta(t, 0.1, f32(4), 1e-6)
	assert.Equal(t, float32(1024), f32(8))
	assert.Equal(t, float32(768), f32(12))
	assert.Equal(t, uint32(1), u32(16))
	assert.Equal(t, uint32(1), u32(20))
	assert.Equal(t, float32(0.5), f32(32))
	assert.Equal(t, float32(0.25), f32(36))
	assert.Equal(t, float32(3), f32(40))
	assert.Equal(t, float32(4), f32(44))
}

func TestGPUFrameUniforms_RespectsUniformSet(t *testing.T) {
	s := NewState(1024, 768, 0.1, true).End().Begin(9).
		Apply(PenMoved{ID: 0, Pen: Pen{X: 1, Y: 1}})

	u := NewGPUFrameUniforms(s, UniformTimeStep|UniformParity, 1)
	assert.Zero(t, u.Time)
	assert.Equal(t, [2]float32{}, u.Screen)
	assert.Zero(t, u.PenCount)
	assert.Equal(t, GPUPen{}, u.Pens[0])
	assert.InDelta(t, 0.1, u.TimeStep, 1e-6)
	assert.Equal(t, uint32(1), u.Parity)
}
