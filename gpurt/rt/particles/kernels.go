package particles

import (
	"fmt"
	"math"

	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// Workgroup widths of the soft kernels; they match the WGSL programs.
const (
	simulateThreads = 256
	sortThreads     = 256
)

// InstallSoftShaders registers the particle programs on a soft device under
// the same names the WGSL library uses.
func InstallSoftShaders(dev *gpu.SoftDevice) {
	dev.RegisterKernel(shaders.ParticleEmit, [3]uint32{EmitThreads, 1, 1}, emitKernel)
	dev.RegisterKernel(shaders.ParticleSimulate, [3]uint32{simulateThreads, 1, 1}, simulateKernel)
	dev.RegisterKernel(shaders.ParticleSort, [3]uint32{sortThreads, 1, 1}, sortKernel)
	dev.RegisterVertex(shaders.ParticleDraw, drawVertex)
	dev.RegisterFragment(shaders.ParticleSoft, softFragment)
	dev.RegisterFragment(shaders.ParticleConstant, constantFragment)
}

func loadParticle(b *gpu.SoftBuffer, slot uint32) Particle {
	var w [ParticleWords]uint32
	base := slot * ParticleWords
	for i := range w {
		w[i] = b.Load(base + uint32(i))
	}
	return particleFromWords(w[:])
}

func storeParticle(b *gpu.SoftBuffer, slot uint32, p *Particle) {
	var w [ParticleWords]uint32
	p.putWords(w[:])
	base := slot * ParticleWords
	for i := range w {
		b.Store(base+uint32(i), w[i])
	}
}

func mat4At(w []uint32) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = math.Float32frombits(w[i])
	}
	return m
}

func constantWords(res *gpu.Resources, name string, n int) ([]uint32, error) {
	w := gpu.BytesToUint32s(res.Constants(name))
	if len(w) < n {
		return nil, fmt.Errorf("%s: %d words, want %d: %w", name, len(w), n, gpu.ErrBufferTooSmall)
	}
	return w, nil
}

func emitKernel(gpu.Defines) (*gpu.SoftKernel, error) {
	return &gpu.SoftKernel{
		Buffers:   []string{"emitList", "particlePool", "deadList", "deadListCounter"},
		Constants: []string{"emitParams"},
		Bind: func(res *gpu.Resources) (*gpu.SoftPass, error) {
			hdr, err := constantWords(res, "emitParams", 2)
			if err != nil {
				return nil, err
			}
			numEmit, maxParticles := hdr[0], hdr[1]
			emitList := res.Buffer("emitList")
			pool := res.Buffer("particlePool")
			deadList := res.Buffer("deadList")
			counter := res.Buffer("deadListCounter")

			return &gpu.SoftPass{Invoke: func(id gpu.InvocationID) {
				i := id.Global[0]
				if i >= numEmit {
					return
				}
				count := counter.Load(0)
				for {
					if count == 0 {
						return
					}
					if counter.AtomicCompareAndSwap(0, count, count-1) {
						break
					}
					count = counter.Load(0)
				}
				slot := deadList.Load(count - 1)
				if slot >= maxParticles {
					return
				}
				for w := uint32(0); w < ParticleWords; w++ {
					pool.Store(slot*ParticleWords+w, emitList.Load(i*ParticleWords+w))
				}
			}}, nil
		},
	}, nil
}

func simulateKernel(defines gpu.Defines) (*gpu.SoftKernel, error) {
	sorted := defines.Has("_SORT")
	buffers := []string{"particlePool", "deadList", "deadListCounter", "drawArgs", "aliveList"}
	if sorted {
		buffers = append(buffers, "sortIterationCounter")
	}
	return &gpu.SoftKernel{
		Buffers:   buffers,
		Constants: []string{"simulateParams"},
		Bind: func(res *gpu.Resources) (*gpu.SoftPass, error) {
			params, err := constantWords(res, "simulateParams", 18)
			if err != nil {
				return nil, err
			}
			view := mat4At(params)
			dt := math.Float32frombits(params[16])
			maxParticles := params[17]

			pool := res.Buffer("particlePool")
			deadList := res.Buffer("deadList")
			deadCounter := res.Buffer("deadListCounter")
			drawArgs := res.Buffer("drawArgs")
			aliveList := res.Buffer("aliveList")
			iteration := res.Buffer("sortIterationCounter")

			return &gpu.SoftPass{Invoke: func(id gpu.InvocationID) {
				slot := id.Global[0]
				if sorted && slot == 0 {
					iteration.Store(0, 0)
					iteration.Store(1, 0)
				}
				if slot >= maxParticles {
					return
				}
				p := loadParticle(pool, slot)
				if p.Life <= 0 {
					return
				}

				p.Life -= dt
				if p.Life <= 0 {
					pool.StoreF32(slot*ParticleWords+offLife, p.Life)
					free := deadCounter.AtomicAdd(0, 1)
					deadList.Store(free, slot)
					return
				}

				p.Vel = p.Vel.Add(p.Accel.Mul(dt))
				p.Pos = p.Pos.Add(p.Vel.Mul(dt))
				p.Scale = max(p.Scale+p.Growth*dt, 0)
				p.Rot += p.RotVel * dt
				storeParticle(pool, slot, &p)

				alive := drawArgs.AtomicAdd(1, 1)
				if sorted {
					z := view.Mul4x1(p.Pos.Vec4(1)).Z()
					aliveList.Store(alive*SortEntryWords, slot)
					aliveList.StoreF32(alive*SortEntryWords+1, depthKey(z))
				} else {
					aliveList.Store(alive, slot)
				}
			}}, nil
		},
	}, nil
}

func sortKernel(gpu.Defines) (*gpu.SoftKernel, error) {
	return &gpu.SoftKernel{
		Buffers:   []string{"aliveList", "sortIterationCounter"},
		Constants: []string{"sortParams"},
		Bind: func(res *gpu.Resources) (*gpu.SoftPass, error) {
			params, err := constantWords(res, "sortParams", 2)
			if err != nil {
				return nil, err
			}
			numGroups, count := params[0], params[1]
			list := res.Buffer("aliveList")
			iteration := res.Buffer("sortIterationCounter")

			return &gpu.SoftPass{
				Invoke: func(id gpu.InvocationID) {
					k, j := bitonicStage(iteration.Load(0))
					t := id.Global[0]
					if k > count || t >= count/2 {
						return
					}
					i := 2*j*(t/j) + t%j
					l := i + j
					ascending := i&k == 0
					ad := list.LoadF32(i*SortEntryWords + 1)
					bd := list.LoadF32(l*SortEntryWords + 1)
					if (ascending && ad > bd) || (!ascending && ad < bd) {
						ai := list.Load(i * SortEntryWords)
						bi := list.Load(l * SortEntryWords)
						list.Store(i*SortEntryWords, bi)
						list.StoreF32(i*SortEntryWords+1, bd)
						list.Store(l*SortEntryWords, ai)
						list.StoreF32(l*SortEntryWords+1, ad)
					}
				},
				// The last workgroup to finish advances the network by one stage.
				GroupDone: func([3]uint32) {
					if iteration.AtomicAdd(1, 1) == numGroups-1 {
						iteration.Store(1, 0)
						iteration.AtomicAdd(0, 1)
					}
				},
			}, nil
		},
	}, nil
}

func drawVertex(defines gpu.Defines) (*gpu.SoftVertexShader, error) {
	sorted := defines.Has("_SORT")
	return &gpu.SoftVertexShader{
		Buffers:   []string{"particlePool", "aliveList"},
		Constants: []string{"drawParams"},
		Bind: func(res *gpu.Resources) (func(vertexID, instanceID uint32) gpu.VertexOutput, error) {
			params, err := constantWords(res, "drawParams", 32)
			if err != nil {
				return nil, err
			}
			view, proj := mat4At(params), mat4At(params[16:])
			pool := res.Buffer("particlePool")
			aliveList := res.Buffer("aliveList")
			capacity := pool.Count()

			return func(vid, iid uint32) gpu.VertexOutput {
				var slot uint32
				if sorted {
					slot = aliveList.Load(iid * SortEntryWords)
				} else {
					slot = aliveList.Load(iid)
				}
				if slot >= capacity {
					// w = 0 is dropped by the rasterizer
					return gpu.VertexOutput{}
				}
				p := loadParticle(pool, slot)

				corner := mgl32.Vec2{float32(vid&1)*2 - 1, float32(vid>>1)*2 - 1}
				c := float32(math.Cos(float64(p.Rot)))
				s := float32(math.Sin(float64(p.Rot)))
				offset := mgl32.Vec2{corner[0]*c - corner[1]*s, corner[0]*s + corner[1]*c}.Mul(p.Scale)

				center := view.Mul4x1(p.Pos.Vec4(1))
				pos := proj.Mul4x1(mgl32.Vec4{center[0] + offset[0], center[1] + offset[1], center[2], center[3]})
				return gpu.VertexOutput{
					Position: pos,
					UV:       mgl32.Vec2{corner[0]*0.5 + 0.5, 0.5 - corner[1]*0.5},
					Color:    mgl32.Vec4{1, 1, 1, mgl32.Clamp(p.Life, 0, 1)},
				}
			}, nil
		},
	}, nil
}

func smoothstep(e0, e1, x float32) float32 {
	t := mgl32.Clamp((x-e0)/(e1-e0), 0, 1)
	return t * t * (3 - 2*t)
}

func softFragment(gpu.Defines) (gpu.FragmentFunc, error) {
	coreColor := mgl32.Vec3{1, 0.95, 0.8}
	rimColor := mgl32.Vec3{1, 0.55, 0.15}
	return func(in gpu.VertexOutput) mgl32.Vec4 {
		d := in.UV.Mul(2).Sub(mgl32.Vec2{1, 1}).Len()
		if d >= 1 {
			return mgl32.Vec4{}
		}
		rgb := coreColor.Mul(1 - d).Add(rimColor.Mul(d))
		rgb = mgl32.Vec3{rgb[0] * in.Color[0], rgb[1] * in.Color[1], rgb[2] * in.Color[2]}
		return rgb.Vec4((1 - smoothstep(0.4, 1, d)) * in.Color[3])
	}, nil
}

func constantFragment(gpu.Defines) (gpu.FragmentFunc, error) {
	return func(in gpu.VertexOutput) mgl32.Vec4 { return in.Color }, nil
}
