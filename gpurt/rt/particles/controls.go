package particles

import (
	"math"
)

var (
	unboundedMin = float32(math.Inf(-1))
	unboundedMax = float32(math.Inf(1))
)

const (
	minEmitFrequency = 0.01
	minScale         = 0.001
)

// Control is one editable emitter field with its valid range. Magnitudes and
// offsets are non-negative; directions and rotations are unbounded.
type Control struct {
	Name     string
	Min, Max float32

	get func() float32
	set func(float32)
}

func (c Control) Value() float32 { return c.get() }

// Set clamps v to the control's range, stores it and returns the stored value.
// NaN leaves the field unchanged.
func (c Control) Set(v float32) float32 {
	if v != v {
		return c.get()
	}
	v = min(max(v, c.Min), c.Max)
	c.set(v)
	return c.get()
}

func (c Control) Bounded() bool {
	return !math.IsInf(float64(c.Min), -1) || !math.IsInf(float64(c.Max), 1)
}

func floatControl(name string, lo, hi float32, f *float32) Control {
	return Control{
		Name: name, Min: lo, Max: hi,
		get: func() float32 { return *f },
		set: func(v float32) { *f = v },
	}
}

func countControl(name string, hi uint32, f *uint32) Control {
	return Control{
		Name: name, Min: 0, Max: float32(hi),
		get: func() float32 { return float32(*f) },
		set: func(v float32) { *f = uint32(math.Round(float64(v))) },
	}
}

func vec3Controls(name string, lo, hi float32, v *[3]float32) []Control {
	return []Control{
		floatControl(name+" X", lo, hi, &v[0]),
		floatControl(name+" Y", lo, hi, &v[1]),
		floatControl(name+" Z", lo, hi, &v[2]),
	}
}

// emitterControls binds controls to the fields of cfg. Emit counts are capped
// at maxEmit, the size of the emit batch buffer.
func emitterControls(cfg *EmitterConfig, maxEmit uint32) []Control {
	cs := []Control{
		floatControl("Duration", 0, unboundedMax, &cfg.Duration),
		floatControl("Duration Offset", 0, unboundedMax, &cfg.DurationOffset),
		floatControl("Frequency", minEmitFrequency, unboundedMax, &cfg.EmitFrequency),
		countControl("Emit Count", maxEmit, &cfg.EmitCount),
		countControl("Emit Count Offset", maxEmit, &cfg.EmitCountOffset),
	}
	cs = append(cs, vec3Controls("Spawn Position", unboundedMin, unboundedMax, (*[3]float32)(&cfg.SpawnPos))...)
	cs = append(cs, vec3Controls("Spawn Position Offset", 0, unboundedMax, (*[3]float32)(&cfg.SpawnPosOffset))...)
	cs = append(cs, vec3Controls("Velocity", unboundedMin, unboundedMax, (*[3]float32)(&cfg.Vel))...)
	cs = append(cs, vec3Controls("Velocity Offset", 0, unboundedMax, (*[3]float32)(&cfg.VelOffset))...)
	cs = append(cs, vec3Controls("Acceleration", unboundedMin, unboundedMax, (*[3]float32)(&cfg.Accel))...)
	cs = append(cs, vec3Controls("Acceleration Offset", 0, unboundedMax, (*[3]float32)(&cfg.AccelOffset))...)
	return append(cs,
		floatControl("Scale", minScale, unboundedMax, &cfg.Scale),
		floatControl("Scale Offset", 0, unboundedMax, &cfg.ScaleOffset),
		floatControl("Growth", unboundedMin, unboundedMax, &cfg.Growth),
		floatControl("Growth Offset", 0, unboundedMax, &cfg.GrowthOffset),
		floatControl("Billboard Rotation", unboundedMin, unboundedMax, &cfg.BillboardRotation),
		floatControl("Billboard Rotation Offset", 0, unboundedMax, &cfg.BillboardRotationOffset),
		floatControl("Billboard Rotation Velocity", unboundedMin, unboundedMax, &cfg.BillboardRotationVelocity),
		floatControl("Billboard Rotation Velocity Offset", 0, unboundedMax, &cfg.BillboardRotationVelocityOffset),
	)
}

// ClampEmitter returns cfg with every field forced into its control range.
func ClampEmitter(cfg EmitterConfig, maxEmit uint32) EmitterConfig {
	for _, c := range emitterControls(&cfg, maxEmit) {
		c.Set(c.Value())
	}
	return cfg
}
