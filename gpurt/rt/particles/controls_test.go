package particles

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func controlByName(t *testing.T, cs []Control, name string) Control {
	t.Helper()
	for _, c := range cs {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "missing control", "%q", name)
	return Control{}
}

func TestControls_Clamp(t *testing.T) {
	cfg := DefaultEmitterConfig()
	cs := emitterControls(&cfg, 64)
	assert.Len(t, cs, 5+6*3+8)

	cases := []struct {
		name string
		in   float32
		want float32
	}{
		{"Duration", -1, 0},
		{"Duration Offset", -0.5, 0},
		{"Frequency", 0, minEmitFrequency},
		{"Emit Count", 1000, 64},
		{"Emit Count Offset", -4, 0},
		{"Emit Count", 7.6, 8},
		{"Spawn Position X", -50, -50},
		{"Velocity Offset Y", -2, 0},
		{"Scale", 0, minScale},
		{"Growth", -3, -3},
		{"Billboard Rotation Velocity", 12, 12},
	}
	for _, c := range cases {
		got := controlByName(t, cs, c.name).Set(c.in)
		assert.Equal(t, c.want, got, c.name)
	}

	assert.Equal(t, uint32(8), cfg.EmitCount)
	assert.Equal(t, float32(-50), cfg.SpawnPos.X())
	assert.Equal(t, float32(minScale), cfg.Scale)

	growth := controlByName(t, cs, "Growth")
	assert.False(t, growth.Bounded())
	assert.Equal(t, float32(-3), growth.Set(float32(math.NaN())))
	assert.True(t, controlByName(t, cs, "Scale Offset").Bounded())
}

func TestClampEmitter(t *testing.T) {
	cfg := DefaultEmitterConfig()
	cfg.EmitCount = 10_000
	cfg.EmitCountOffset = 10_000
	cfg.EmitFrequency = -1
	cfg.VelOffset = mgl32.Vec3{-1, 2, -3}

	got := ClampEmitter(cfg, 128)
	assert.Equal(t, uint32(128), got.EmitCount)
	assert.Equal(t, uint32(128), got.EmitCountOffset)
	assert.Equal(t, float32(minEmitFrequency), got.EmitFrequency)
	assert.Equal(t, mgl32.Vec3{0, 2, 0}, got.VelOffset)
	// the argument is a copy
	assert.Equal(t, uint32(10_000), cfg.EmitCount)
}

func TestEngineControls_ReachLiveEmitter(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 16
	desc.MaxEmitPerFrame = 8
	e := newSoftEngine(t, desc)

	assert.Equal(t, uint32(8), e.Emitter().EmitCount, "default count clamped to the batch size")

	controlByName(t, e.Controls(), "Duration").Set(4.5)
	assert.Equal(t, float32(4.5), e.Emitter().Duration)

	e.SetScale(-1, 0)
	assert.Equal(t, float32(minScale), e.Emitter().Scale)
	e.SetEmitData(100, 2, 0.5)
	assert.Equal(t, uint32(8), e.Emitter().EmitCount)
	assert.Equal(t, float32(0.5), e.Emitter().EmitFrequency)
}

func TestSampler(t *testing.T) {
	cfg := DefaultEmitterConfig()
	cfg.Duration, cfg.DurationOffset = 2, 0.5
	cfg.Scale, cfg.ScaleOffset = 1, 0.1
	cfg.EmitCount, cfg.EmitCountOffset = 10, 3

	a, b := newSampler(42), newSampler(42)
	for i := 0; i < 200; i++ {
		p := a.particle(&cfg)
		assert.Equal(t, p, b.particle(&cfg), "same seed, same stream")

		assert.InDelta(t, 2, p.Life, 0.5)
		assert.InDelta(t, 0.5, p.Scale, 0.1+1e-6)
		assert.InDelta(t, cfg.Vel.Y(), p.Vel.Y(), float64(cfg.VelOffset.Y())+1e-6)
		assert.Equal(t, cfg.SpawnPos.X(), p.Pos.X(), "zero offset returns the mean")

		n := a.emitCount(&cfg)
		b.emitCount(&cfg)
		assert.GreaterOrEqual(t, n, 7)
		assert.LessOrEqual(t, n, 13)
	}

	cfg.Duration, cfg.DurationOffset = 0, 0
	assert.Equal(t, float32(minEmitLife), a.particle(&cfg).Life)
	cfg.EmitCount, cfg.EmitCountOffset = 0, 5
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, a.emitCount(&cfg), 0)
	}
}

func TestParticleLayout(t *testing.T) {
	p := Particle{Pos: mgl32.Vec3{1, 2, 3}, Scale: 4, Vel: mgl32.Vec3{5, 6, 7}, Growth: 8,
		Accel: mgl32.Vec3{9, 10, 11}, Life: 12, Rot: 13, RotVel: 14}
	data := EncodeParticles([]Particle{p, p})
	require.Len(t, data, 2*ParticleStride)

	words := make([]float32, ParticleWords)
	for i := range words {
		words[i] = math.Float32frombits(uint32(data[4*i]) | uint32(data[4*i+1])<<8 | uint32(data[4*i+2])<<16 | uint32(data[4*i+3])<<24)
	}
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 0, 0}, words)
	assert.Equal(t, []Particle{p, p}, DecodeParticles(data))

	entries := decodeSortEntries(sentinelEntries(3))
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, SortEntry{Index: InvalidIndex, Depth: SentinelDepth}, e)
	}
}
