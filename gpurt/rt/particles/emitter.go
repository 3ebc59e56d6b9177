package particles

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// EmitterConfig describes what an emission spawns. Every quantity is a mean
// plus a symmetric offset; samples are uniform in [mean-offset, mean+offset].
type EmitterConfig struct {
	Duration       float32 `toml:"duration"`
	DurationOffset float32 `toml:"duration_offset"`

	// EmitFrequency is the time in seconds between emissions.
	EmitFrequency   float32 `toml:"emit_frequency"`
	EmitCount       uint32  `toml:"emit_count"`
	EmitCountOffset uint32  `toml:"emit_count_offset"`

	SpawnPos       mgl32.Vec3 `toml:"spawn_pos"`
	SpawnPosOffset mgl32.Vec3 `toml:"spawn_pos_offset"`
	Vel            mgl32.Vec3 `toml:"vel"`
	VelOffset      mgl32.Vec3 `toml:"vel_offset"`
	Accel          mgl32.Vec3 `toml:"accel"`
	AccelOffset    mgl32.Vec3 `toml:"accel_offset"`

	Scale        float32 `toml:"scale"`
	ScaleOffset  float32 `toml:"scale_offset"`
	Growth       float32 `toml:"growth"`
	GrowthOffset float32 `toml:"growth_offset"`

	BillboardRotation               float32 `toml:"billboard_rotation"`
	BillboardRotationOffset         float32 `toml:"billboard_rotation_offset"`
	BillboardRotationVelocity       float32 `toml:"billboard_rotation_velocity"`
	BillboardRotationVelocityOffset float32 `toml:"billboard_rotation_velocity_offset"`
}

func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		Duration:                3,
		EmitFrequency:           0.1,
		EmitCount:               32,
		SpawnPosOffset:          mgl32.Vec3{0, 0.5, 0},
		Vel:                     mgl32.Vec3{0, 5, 0},
		VelOffset:               mgl32.Vec3{2, 1, 2},
		Accel:                   mgl32.Vec3{0, -3, 0},
		Scale:                   0.2,
		Growth:                  -0.05,
		BillboardRotationOffset: 0.25,
	}
}

// minEmitLife keeps a freshly emitted particle alive until the next simulate
// pass, which is the only place slots return to the dead list.
const minEmitLife = 1e-4

type sampler struct {
	rng *rand.Rand
}

func newSampler(seed int64) *sampler {
	return &sampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *sampler) offset(mean, off float32) float32 {
	if off == 0 {
		return mean
	}
	return mean + (s.rng.Float32()*2-1)*off
}

func (s *sampler) offsetVec3(mean, off mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		s.offset(mean[0], off[0]),
		s.offset(mean[1], off[1]),
		s.offset(mean[2], off[2]),
	}
}

// particle samples one emit batch entry. Scale and growth are stored as
// billboard half-extents.
func (s *sampler) particle(cfg *EmitterConfig) Particle {
	return Particle{
		Pos:    s.offsetVec3(cfg.SpawnPos, cfg.SpawnPosOffset),
		Vel:    s.offsetVec3(cfg.Vel, cfg.VelOffset),
		Accel:  s.offsetVec3(cfg.Accel, cfg.AccelOffset),
		Scale:  s.offset(0.5*cfg.Scale, cfg.ScaleOffset),
		Growth: s.offset(0.5*cfg.Growth, cfg.GrowthOffset),
		Life:   max(s.offset(cfg.Duration, cfg.DurationOffset), minEmitLife),
		Rot:    s.offset(cfg.BillboardRotation, cfg.BillboardRotationOffset),
		RotVel: s.offset(cfg.BillboardRotationVelocity, cfg.BillboardRotationVelocityOffset),
	}
}

// emitCount is EmitCount plus a uniform integer in [-EmitCountOffset, EmitCountOffset], floored at 0.
func (s *sampler) emitCount(cfg *EmitterConfig) int {
	n := int(cfg.EmitCount)
	if off := int(cfg.EmitCountOffset); off > 0 {
		n += s.rng.Intn(2*off+1) - off
	}
	return max(n, 0)
}
