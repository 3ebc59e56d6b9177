package particles

import (
	"errors"
	"image/color"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSoftEngine(t *testing.T, desc Desc, opts ...Option) Engine {
	t.Helper()
	dev := gpu.NewSoftDevice(nil)
	InstallSoftShaders(dev)
	e, err := New(dev, desc, append([]Option{WithSeed(1)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e
}

func snapshot(t *testing.T, e Engine) *Snapshot {
	t.Helper()
	s, err := e.Snapshot()
	require.NoError(t, err)
	return s
}

// quietEmitter never emits on its own during the test horizon.
func quietEmitter(duration float32) EmitterConfig {
	cfg := DefaultEmitterConfig()
	cfg.EmitFrequency = 1e6
	cfg.Duration = duration
	return cfg
}

func TestNew_Capacity(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 1000

	assert.Equal(t, uint32(1000), newSoftEngine(t, desc).Capacity())

	desc.Sorted = true
	e := newSoftEngine(t, desc)
	assert.True(t, e.Sorted())
	assert.Equal(t, uint32(1024), e.Capacity())
}

func TestNew_DeadListStartsFull(t *testing.T) {
	for _, sorted := range []bool{false, true} {
		desc := DefaultDesc()
		desc.MaxParticles = 32
		desc.Sorted = sorted
		s := snapshot(t, newSoftEngine(t, desc))

		assert.Equal(t, uint32(32), s.DeadCount)
		for i, slot := range s.FreeSlots() {
			assert.Equal(t, uint32(i), slot)
		}
		assert.Equal(t, gpu.IndirectArgs{VertexCountPerInstance: 4}, s.DrawArgs)
		assert.Empty(t, s.LiveSlots())
	}
}

func TestNew_Failures(t *testing.T) {
	dev := gpu.NewSoftDevice(nil)
	InstallSoftShaders(dev)

	desc := DefaultDesc()
	desc.DrawShader = "missing"
	_, err := New(dev, desc)
	assert.True(t, errors.Is(err, gpu.ErrShaderNotFound), "%v", err)

	desc = DefaultDesc()
	desc.MaxParticles = 0
	_, err = New(dev, desc)
	assert.True(t, errors.Is(err, ErrInvalidDesc))

	// Without the soft kernels nothing compiles.
	_, err = New(gpu.NewSoftDevice(nil), DefaultDesc())
	assert.Error(t, err)
}

func TestEndToEnd_FourParticles(t *testing.T) {
	e := newSoftEngine(t, Desc{
		MaxParticles:    4,
		MaxEmitPerFrame: 4,
		DrawShader:      shaders.ParticleSoft,
		SimulateShader:  shaders.ParticleSimulate,
	})
	e.SetParticleDuration(10, 0)
	e.SetVelocity(mgl32.Vec3{0, 1, 0}, mgl32.Vec3{})
	e.SetAcceleration(mgl32.Vec3{}, mgl32.Vec3{})

	e.Emit(4)
	s := snapshot(t, e)
	assert.Zero(t, s.DeadCount)
	assert.Len(t, s.LiveSlots(), 4)

	e.Update(1, mgl32.Ident4())
	s = snapshot(t, e)
	assert.Equal(t, uint32(4), s.AliveCount)
	assert.Equal(t, uint32(4), s.DrawArgs.InstanceCount)
	for _, p := range s.Particles {
		assert.Equal(t, float32(9), p.Life)
	}
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3}, s.Alive)

	e.Update(11, mgl32.Ident4())
	s = snapshot(t, e)
	assert.Equal(t, uint32(4), s.DeadCount)
	assert.Zero(t, s.AliveCount)
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3}, s.FreeSlots())
	assert.Empty(t, s.LiveSlots())
}

func TestUpdate_BelowThresholdKeepsDeadCount(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 64
	e := newSoftEngine(t, desc)
	e.SetEmitData(8, 0, 1)
	e.SetParticleDuration(100, 0)

	e.Emit(10)
	before := snapshot(t, e).DeadCount
	require.Equal(t, uint32(54), before)

	for i := 0; i < 5; i++ {
		e.Update(0.1, mgl32.Ident4())
		assert.Equal(t, before, snapshot(t, e).DeadCount)
	}

	// Crossing the threshold emits once and keeps the remainder.
	e.Update(0.6, mgl32.Ident4())
	assert.Equal(t, before-8, snapshot(t, e).DeadCount)
}

func TestUpdate_ClosedPool(t *testing.T) {
	for _, sorted := range []bool{false, true} {
		desc := DefaultDesc()
		desc.MaxParticles = 200
		desc.MaxEmitPerFrame = 40
		desc.Sorted = sorted
		e := newSoftEngine(t, desc)
		e.SetEmitData(30, 10, 0.05)
		e.SetParticleDuration(0.4, 0.3)

		rng := rand.New(rand.NewSource(7))
		cam := core.NewCameraState()
		for frame := 0; frame < 60; frame++ {
			e.Update(0.01+rng.Float32()*0.1, cam.GetViewMatrix())
			e.Render(gpu.NewImageTarget(8, 8), cam.GetViewMatrix(), cam.GetProjMatrix())

			s := snapshot(t, e)
			require.Equal(t, s.Capacity, s.DeadCount+s.AliveCount, "sorted=%v frame %d", sorted, frame)

			seen := make(map[uint32]bool, s.Capacity)
			for _, slot := range s.FreeSlots() {
				require.False(t, seen[slot], "slot %d free twice", slot)
				seen[slot] = true
			}
			for _, slot := range s.Alive {
				require.False(t, seen[slot], "slot %d both free and alive", slot)
				seen[slot] = true
			}
			require.Len(t, seen, int(s.Capacity))
			assert.ElementsMatch(t, s.LiveSlots(), s.Alive)
		}
	}
}

func TestUpdate_LifetimeDecreasesUntilRecycled(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 32
	e := newSoftEngine(t, desc, WithEmitter(quietEmitter(1)))
	e.SetParticleDuration(1, 0.5)

	e.Emit(32)
	prev := snapshot(t, e)
	recycled := make(map[uint32]bool)
	for frame := 0; frame < 20; frame++ {
		e.Update(0.1, mgl32.Ident4())
		s := snapshot(t, e)
		alive := make(map[uint32]bool)
		for _, slot := range s.Alive {
			alive[slot] = true
			assert.False(t, recycled[slot], "recycled slot %d drawn again", slot)
			assert.Less(t, s.Particles[slot].Life, prev.Particles[slot].Life)
		}
		for _, slot := range s.FreeSlots() {
			recycled[slot] = true
			assert.False(t, alive[slot])
		}
		prev = s
	}
	assert.Len(t, recycled, 32)
}

func TestEmit_BestEffort(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 8
	desc.MaxEmitPerFrame = 16
	e := newSoftEngine(t, desc, WithEmitter(quietEmitter(5)))

	e.Emit(5)
	assert.Equal(t, uint32(3), snapshot(t, e).DeadCount)

	e.Emit(10)
	s := snapshot(t, e)
	assert.Zero(t, s.DeadCount)
	assert.Len(t, s.LiveSlots(), 8)

	e.Emit(16)
	s = snapshot(t, e)
	assert.Zero(t, s.DeadCount)
	assert.Len(t, s.LiveSlots(), 8)
}

func TestEmit_ClampsRequest(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 64
	desc.MaxEmitPerFrame = 4
	e := newSoftEngine(t, desc, WithEmitter(quietEmitter(5)))

	e.Emit(0)
	e.Emit(-3)
	assert.Equal(t, uint32(64), snapshot(t, e).DeadCount)

	e.Emit(10)
	assert.Equal(t, uint32(60), snapshot(t, e).DeadCount)
}

func TestSorted_BackToFrontWithSentinels(t *testing.T) {
	for _, maxParticles := range []uint32{100, 2000} {
		desc := DefaultDesc()
		desc.MaxParticles = maxParticles
		desc.MaxEmitPerFrame = 1024
		desc.Sorted = true
		cfg := quietEmitter(10)
		cfg.SpawnPosOffset = mgl32.Vec3{5, 5, 5}
		e := newSoftEngine(t, desc, WithEmitter(cfg))

		cam := core.NewCameraState()
		e.Emit(int(maxParticles / 2))
		e.Update(0.01, cam.GetViewMatrix())
		e.Render(gpu.NewImageTarget(16, 16), cam.GetViewMatrix(), cam.GetProjMatrix())

		s := snapshot(t, e)
		n := int(s.AliveCount)
		require.Equal(t, int(maxParticles/2), n)
		require.Len(t, s.SortEntries, int(e.Capacity()))
		assert.Equal(t, uint32(BitonicPasses(e.Capacity())), s.SortStage)
		assert.Zero(t, s.SortFinishedGroups)

		live := s.SortEntries[:n]
		assert.True(t, sort.SliceIsSorted(live, func(i, j int) bool { return live[i].Depth < live[j].Depth }))
		// Right-handed view: the most negative z is the farthest.
		first := s.Particles[live[0].Index].Pos.Sub(cam.Position).Len()
		last := s.Particles[live[n-1].Index].Pos.Sub(cam.Position).Len()
		assert.Greater(t, first, last)

		assert.ElementsMatch(t, s.LiveSlots(), s.Alive)
		for _, entry := range s.SortEntries[n:] {
			assert.Equal(t, InvalidIndex, entry.Index)
			assert.Equal(t, SentinelDepth, entry.Depth)
		}

		// A second Render in the same frame leaves the network alone.
		e.Render(gpu.NewImageTarget(16, 16), cam.GetViewMatrix(), cam.GetProjMatrix())
		assert.Equal(t, s.SortStage, snapshot(t, e).SortStage)
	}
}

func TestBitonicStage(t *testing.T) {
	want := [][2]uint32{{2, 1}, {4, 2}, {4, 1}, {8, 4}, {8, 2}, {8, 1}}
	for stage, kj := range want {
		k, j := bitonicStage(uint32(stage))
		assert.Equal(t, kj, [2]uint32{k, j}, "stage %d", stage)
	}
	assert.Equal(t, 0, BitonicPasses(1))
	assert.Equal(t, 1, BitonicPasses(2))
	assert.Equal(t, 6, BitonicPasses(8))
	assert.Equal(t, 55, BitonicPasses(1024))
}

func TestRender_DrawsAliveParticles(t *testing.T) {
	desc := DefaultDesc()
	desc.MaxParticles = 16
	desc.DrawShader = shaders.ParticleConstant
	cfg := quietEmitter(10)
	cfg.SpawnPosOffset = mgl32.Vec3{}
	cfg.Vel, cfg.VelOffset = mgl32.Vec3{}, mgl32.Vec3{}
	cfg.Accel = mgl32.Vec3{}
	cfg.Scale, cfg.Growth = 2, 0
	e := newSoftEngine(t, desc, WithEmitter(cfg))

	cam := core.NewCameraState()
	cam.Position = mgl32.Vec3{0, 0, 5}
	cam.Aspect = 1
	view, proj := cam.GetViewMatrix(), cam.GetProjMatrix()
	black := color.RGBA{0, 0, 0, 255}

	target := gpu.NewImageTarget(32, 32)
	target.Clear(black)
	e.Update(0.01, view)
	e.Render(target, view, proj)
	assert.Equal(t, black, target.Image.RGBAAt(16, 16), "nothing alive, nothing drawn")

	e.Emit(1)
	e.Update(0.01, view)
	e.Render(target, view, proj)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, target.Image.RGBAAt(16, 16))
	assert.Equal(t, black, target.Image.RGBAAt(0, 0))
}

// attractorSimulate is the stock simulate kernel with one extra constant
// block, the way an application-provided simulate program would declare it.
func attractorSimulate(defines gpu.Defines) (*gpu.SoftKernel, error) {
	k, err := simulateKernel(defines)
	if err != nil {
		return nil, err
	}
	bind := k.Bind
	k.Constants = append(k.Constants, "attractor")
	k.Bind = func(res *gpu.Resources) (*gpu.SoftPass, error) {
		if _, err := constantWords(res, "attractor", 4); err != nil {
			return nil, err
		}
		return bind(res)
	}
	return k, nil
}

func TestSimulateVars_CustomProgramParameters(t *testing.T) {
	dev := gpu.NewSoftDevice(nil)
	InstallSoftShaders(dev)
	dev.RegisterKernel("attractor_simulate", [3]uint32{simulateThreads, 1, 1}, attractorSimulate)

	desc := DefaultDesc()
	desc.MaxParticles = 4
	desc.SimulateShader = "attractor_simulate"
	e, err := New(dev, desc, WithSeed(1), WithEmitter(quietEmitter(10)))
	require.NoError(t, err)
	t.Cleanup(e.Release)

	e.Emit(4)
	before := snapshot(t, e)
	require.Len(t, before.LiveSlots(), 4)

	// Without its constants the program cannot run.
	e.Update(1, mgl32.Ident4())
	s := snapshot(t, e)
	assert.Zero(t, s.AliveCount)
	for _, slot := range before.LiveSlots() {
		assert.Equal(t, before.Particles[slot].Life, s.Particles[slot].Life)
	}

	e.SimulateVars().SetConstants("attractor", gpu.Vec4ToBytes(mgl32.Vec4{0, 1, 0, 5}))
	e.Update(1, mgl32.Ident4())
	s = snapshot(t, e)
	assert.Equal(t, uint32(4), s.AliveCount)
	for _, slot := range before.LiveSlots() {
		assert.InDelta(t, before.Particles[slot].Life-1, s.Particles[slot].Life, 1e-5)
	}
}

func TestSorted_NonFiniteDepthStaysAheadOfSentinels(t *testing.T) {
	assert.Less(t, MaxDepthKey, SentinelDepth)
	assert.Equal(t, MaxDepthKey, depthKey(float32(math.Inf(1))))
	assert.Equal(t, MaxDepthKey, depthKey(float32(math.NaN())))
	assert.Equal(t, float32(-3), depthKey(-3))

	desc := DefaultDesc()
	desc.MaxParticles = 64
	desc.Sorted = true
	cfg := quietEmitter(10)
	cfg.SpawnPos = mgl32.Vec3{0, 0, 0}
	cfg.SpawnPosOffset = mgl32.Vec3{1, 1, 1}
	e := newSoftEngine(t, desc, WithEmitter(cfg))
	e.Emit(40)

	// Overflowing and undefined depths, as after a velocity blow-up.
	for _, scale := range []float32{float32(math.Inf(1)), float32(math.NaN())} {
		view := mgl32.Ident4()
		view[10] = scale
		e.Update(0.01, view)
		e.Render(gpu.NewImageTarget(8, 8), view, mgl32.Ident4())

		s := snapshot(t, e)
		n := int(s.AliveCount)
		require.Equal(t, 40, n)
		for _, entry := range s.SortEntries[:n] {
			assert.Less(t, entry.Index, e.Capacity())
			assert.False(t, math.IsNaN(float64(entry.Depth)))
			assert.LessOrEqual(t, entry.Depth, MaxDepthKey)
		}
		for _, entry := range s.SortEntries[n:] {
			assert.Equal(t, InvalidIndex, entry.Index)
		}
	}
}
