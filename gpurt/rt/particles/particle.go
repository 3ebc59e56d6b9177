package particles

import (
	"math"

	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// Pool slot layout, in words: pos.xyz, scale, vel.xyz, growth, accel.xyz, life, rot, rotVel, pad, pad.
const (
	ParticleWords  = 16
	ParticleStride = ParticleWords * 4

	offPos    = 0
	offScale  = 3
	offVel    = 4
	offGrowth = 7
	offAccel  = 8
	offLife   = 11
	offRot    = 12
	offRotVel = 13
)

// Alive list entries in sorted mode are {index, depth}.
const (
	SortEntryWords  = 2
	SortEntryStride = SortEntryWords * 4

	// InvalidIndex and SentinelDepth fill alive list entries past the live count.
	InvalidIndex  uint32 = 0xFFFFFFFF
	SentinelDepth        = float32(math.MaxFloat32)
)

// MaxDepthKey is the largest depth a live particle sorts with, so live
// entries always land ahead of the sentinels.
var MaxDepthKey = math.Nextafter32(SentinelDepth, 0)

// depthKey clamps a view-space depth to MaxDepthKey; +Inf and NaN included.
func depthKey(z float32) float32 {
	if !(z < MaxDepthKey) {
		return MaxDepthKey
	}
	return z
}

type Particle struct {
	Pos    mgl32.Vec3
	Vel    mgl32.Vec3
	Accel  mgl32.Vec3
	Scale  float32
	Growth float32
	Life   float32
	Rot    float32
	RotVel float32
}

// SortEntry is one alive list element of a sorted engine.
type SortEntry struct {
	Index uint32
	Depth float32
}

func (p *Particle) putWords(w []uint32) {
	putVec3(w[offPos:], p.Pos)
	w[offScale] = math.Float32bits(p.Scale)
	putVec3(w[offVel:], p.Vel)
	w[offGrowth] = math.Float32bits(p.Growth)
	putVec3(w[offAccel:], p.Accel)
	w[offLife] = math.Float32bits(p.Life)
	w[offRot] = math.Float32bits(p.Rot)
	w[offRotVel] = math.Float32bits(p.RotVel)
	w[14], w[15] = 0, 0
}

func putVec3(w []uint32, v mgl32.Vec3) {
	w[0] = math.Float32bits(v[0])
	w[1] = math.Float32bits(v[1])
	w[2] = math.Float32bits(v[2])
}

func vec3At(w []uint32) mgl32.Vec3 {
	return mgl32.Vec3{math.Float32frombits(w[0]), math.Float32frombits(w[1]), math.Float32frombits(w[2])}
}

func particleFromWords(w []uint32) Particle {
	return Particle{
		Pos:    vec3At(w[offPos:]),
		Scale:  math.Float32frombits(w[offScale]),
		Vel:    vec3At(w[offVel:]),
		Growth: math.Float32frombits(w[offGrowth]),
		Accel:  vec3At(w[offAccel:]),
		Life:   math.Float32frombits(w[offLife]),
		Rot:    math.Float32frombits(w[offRot]),
		RotVel: math.Float32frombits(w[offRotVel]),
	}
}

func EncodeParticles(ps []Particle) []byte {
	words := make([]uint32, len(ps)*ParticleWords)
	for i := range ps {
		ps[i].putWords(words[i*ParticleWords:])
	}
	return gpu.Uint32sToBytes(words)
}

func DecodeParticles(data []byte) []Particle {
	words := gpu.BytesToUint32s(data)
	out := make([]Particle, len(words)/ParticleWords)
	for i := range out {
		out[i] = particleFromWords(words[i*ParticleWords:])
	}
	return out
}

func decodeSortEntries(data []byte) []SortEntry {
	words := gpu.BytesToUint32s(data)
	out := make([]SortEntry, len(words)/SortEntryWords)
	for i := range out {
		out[i] = SortEntry{Index: words[2*i], Depth: math.Float32frombits(words[2*i+1])}
	}
	return out
}

// sentinelEntries builds a full alive list of {InvalidIndex, SentinelDepth}.
func sentinelEntries(n uint32) []byte {
	words := make([]uint32, n*SortEntryWords)
	depth := math.Float32bits(SentinelDepth)
	for i := uint32(0); i < n; i++ {
		words[2*i] = InvalidIndex
		words[2*i+1] = depth
	}
	return gpu.Uint32sToBytes(words)
}
