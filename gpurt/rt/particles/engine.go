package particles

import (
	"errors"
	"fmt"
	"time"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// EmitThreads is the workgroup width of the emit program.
const EmitThreads = 64

var ErrInvalidDesc = errors.New("invalid particle system description")

// Desc fixes the engine's resource layout at construction.
type Desc struct {
	MaxParticles    uint32 `toml:"max_particles"`
	MaxEmitPerFrame uint32 `toml:"max_emit_per_frame"`
	// DrawShader is the pixel program used for the billboards.
	DrawShader string `toml:"draw_shader"`
	// SimulateShader is the compute program run over the pool every update.
	SimulateShader string `toml:"simulate_shader"`
	// Sorted enables back-to-front sorting; capacity becomes a power of two.
	Sorted bool `toml:"sorted"`
}

func DefaultDesc() Desc {
	return Desc{
		MaxParticles:    4096,
		MaxEmitPerFrame: 512,
		DrawShader:      shaders.ParticleSoft,
		SimulateShader:  shaders.ParticleSimulate,
	}
}

func (d Desc) Validate() error {
	if d.MaxParticles == 0 {
		return fmt.Errorf("%w: max particles must be positive", ErrInvalidDesc)
	}
	if d.MaxEmitPerFrame == 0 {
		return fmt.Errorf("%w: max emit per frame must be positive", ErrInvalidDesc)
	}
	if d.DrawShader == "" || d.SimulateShader == "" {
		return fmt.Errorf("%w: draw and simulate shaders are required", ErrInvalidDesc)
	}
	return nil
}

// Capacity is the pool size New allocates for d.
func (d Desc) Capacity() uint32 {
	if d.Sorted {
		return gpu.NextPowerOfTwo(d.MaxParticles)
	}
	return d.MaxParticles
}

// Engine is a GPU particle system. The particle population lives on the
// device; the host only issues emit, simulate, sort and draw work.
type Engine interface {
	ID() string
	Capacity() uint32
	Sorted() bool

	// Emit spawns up to n particles sampled from the emitter. Requests beyond
	// the free slot count are dropped on the device.
	Emit(n int)
	Update(dt float32, view mgl32.Mat4)
	Render(target gpu.RenderTarget, view, proj mgl32.Mat4)

	Emitter() EmitterConfig
	SetEmitter(cfg EmitterConfig)
	SetParticleDuration(duration, offset float32)
	SetEmitData(count, countOffset uint32, frequency float32)
	SetSpawnPos(pos, offset mgl32.Vec3)
	SetVelocity(vel, offset mgl32.Vec3)
	SetAcceleration(accel, offset mgl32.Vec3)
	SetScale(scale, offset float32)
	SetGrowth(growth, offset float32)
	SetBillboardRotation(rot, offset float32)
	SetBillboardRotationVelocity(rotVel, offset float32)
	Controls() []Control

	// SimulateVars are the bindings of the simulate dispatch. A custom
	// SimulateShader binds its extra buffers and constants here; the engine's
	// own bindings are rewritten on every Update.
	SimulateVars() *gpu.Vars

	// Snapshot reads the device state back. Debug and test only.
	Snapshot() (*Snapshot, error)
	Release()
}

type Option func(*options)

type options struct {
	logger  core.Logger
	seed    int64
	emitter *EmitterConfig
}

func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSeed makes emitter sampling reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

func WithEmitter(cfg EmitterConfig) Option {
	return func(o *options) { o.emitter = &cfg }
}

type releaser interface{ Release() }

// engineBase holds everything the sorted and unsorted engines share.
type engineBase struct {
	id       string
	dev      gpu.Device
	logger   core.Logger
	desc     Desc
	capacity uint32

	emitter   EmitterConfig
	sampler   *sampler
	emitTimer float32

	emitProg       gpu.ComputeProgram
	simulateProg   gpu.ComputeProgram
	drawProg       gpu.GraphicsProgram
	simulateGroups uint32

	pool            gpu.Buffer
	deadList        gpu.Buffer
	deadListCounter gpu.Buffer
	aliveList       gpu.Buffer
	emitList        gpu.Buffer
	// drawArgs word 1 doubles as the alive counter.
	drawArgs gpu.Buffer

	emitVars     *gpu.Vars
	simulateVars *gpu.Vars
	drawVars     *gpu.Vars

	owned []releaser
}

// New builds a particle engine on dev. Any compile or allocation failure is
// returned and nothing created so far is kept.
func New(dev gpu.Device, desc Desc, opts ...Option) (Engine, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	o := options{seed: time.Now().UnixNano()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &engineBase{
		id:       core.NewLabel("particles"),
		dev:      dev,
		logger:   core.OrNop(o.logger),
		desc:     desc,
		capacity: desc.Capacity(),
		emitter:  ClampEmitter(DefaultEmitterConfig(), desc.MaxEmitPerFrame),
		sampler:  newSampler(o.seed),
	}
	if o.emitter != nil {
		e.emitter = ClampEmitter(*o.emitter, desc.MaxEmitPerFrame)
	}

	var defines gpu.Defines
	if desc.Sorted {
		defines = defines.With("_SORT", "")
	}
	if err := e.init(defines); err != nil {
		e.Release()
		return nil, fmt.Errorf("particle system %s: %w", e.id, err)
	}

	var eng Engine
	if desc.Sorted {
		s, err := newSortedEngine(e)
		if err != nil {
			e.Release()
			return nil, fmt.Errorf("particle system %s: %w", e.id, err)
		}
		eng = s
	} else {
		eng = &unsortedEngine{engineBase: e}
	}
	e.logger.Infof("particles: %s capacity=%d maxEmit=%d sorted=%v simulateGroups=%d",
		e.id, e.capacity, desc.MaxEmitPerFrame, desc.Sorted, e.simulateGroups)
	return eng, nil
}

func (e *engineBase) own(r releaser) { e.owned = append(e.owned, r) }

func (e *engineBase) buffer(name string, stride, count uint32, usage gpu.BufferUsage) (gpu.Buffer, error) {
	b, err := e.dev.CreateStructuredBuffer(e.id+"-"+name, stride, count, usage)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	e.own(b)
	return b, nil
}

func (e *engineBase) init(defines gpu.Defines) error {
	var err error
	if e.emitProg, err = e.dev.CreateComputeProgram(shaders.ParticleEmit, nil); err != nil {
		return err
	}
	e.own(e.emitProg)
	if e.simulateProg, err = e.dev.CreateComputeProgram(e.desc.SimulateShader, defines); err != nil {
		return err
	}
	e.own(e.simulateProg)
	if e.drawProg, err = e.dev.CreateGraphicsProgram(shaders.ParticleDraw, e.desc.DrawShader, defines); err != nil {
		return err
	}
	e.own(e.drawProg)

	wg := e.simulateProg.WorkgroupSize()
	threads := wg[0] * wg[1] * wg[2]
	// Every slot gets an invocation; the kernel bounds-checks the tail group.
	e.simulateGroups = max(gpu.DivRoundUp(e.capacity, threads), 1)

	aliveStride := uint32(4)
	if e.desc.Sorted {
		aliveStride = SortEntryStride
	}
	if e.pool, err = e.buffer("pool", ParticleStride, e.capacity, gpu.BufferUsageStorage); err != nil {
		return err
	}
	if e.deadList, err = e.buffer("deadList", 4, e.capacity, gpu.BufferUsageStorage); err != nil {
		return err
	}
	if e.deadListCounter, err = e.buffer("deadListCounter", 4, 1, gpu.BufferUsageCounter); err != nil {
		return err
	}
	if e.aliveList, err = e.buffer("aliveList", aliveStride, e.capacity, gpu.BufferUsageStorage); err != nil {
		return err
	}
	if e.emitList, err = e.buffer("emitList", ParticleStride, e.desc.MaxEmitPerFrame, gpu.BufferUsageStorage); err != nil {
		return err
	}
	if e.drawArgs, err = e.buffer("drawArgs", 4, gpu.IndirectArgsWords, gpu.BufferUsageIndirect|gpu.BufferUsageCounter); err != nil {
		return err
	}

	// Every slot starts free.
	slots := make([]uint32, e.capacity)
	for i := range slots {
		slots[i] = uint32(i)
	}
	e.dev.WriteBuffer(e.deadList, 0, gpu.Uint32sToBytes(slots))
	e.dev.WriteBuffer(e.deadListCounter, 0, gpu.Uint32ToBytes(e.capacity))
	e.dev.WriteBuffer(e.drawArgs, 0, gpu.Uint32sToBytes([]uint32{4, 0, 0, 0}))

	e.emitVars = gpu.NewVars().
		SetBuffer("emitList", e.emitList).
		SetBuffer("particlePool", e.pool).
		SetBuffer("deadList", e.deadList).
		SetBuffer("deadListCounter", e.deadListCounter)
	e.simulateVars = gpu.NewVars().
		SetBuffer("particlePool", e.pool).
		SetBuffer("deadList", e.deadList).
		SetBuffer("deadListCounter", e.deadListCounter).
		SetBuffer("drawArgs", e.drawArgs).
		SetBuffer("aliveList", e.aliveList)
	e.drawVars = gpu.NewVars().
		SetBuffer("particlePool", e.pool).
		SetBuffer("aliveList", e.aliveList)
	return nil
}

func (e *engineBase) ID() string       { return e.id }
func (e *engineBase) Capacity() uint32 { return e.capacity }
func (e *engineBase) Sorted() bool     { return e.desc.Sorted }

func (e *engineBase) Emit(n int) {
	if n <= 0 {
		return
	}
	if limit := int(e.desc.MaxEmitPerFrame); n > limit {
		e.logger.Debugf("particles: %s emit %d clamped to %d", e.id, n, limit)
		n = limit
	}
	batch := make([]Particle, n)
	for i := range batch {
		batch[i] = e.sampler.particle(&e.emitter)
	}
	e.dev.WriteBuffer(e.emitList, 0, EncodeParticles(batch))
	e.emitVars.SetConstants("emitParams", emitParams(uint32(n), e.capacity))
	e.dev.Dispatch(e.emitProg, e.emitVars, [3]uint32{gpu.DivRoundUp(uint32(n), EmitThreads), 1, 1})
}

// update runs the emission timer, resets the alive list and simulates the
// whole pool. resetAlive, if set, runs between the counter reset and simulate.
func (e *engineBase) update(dt float32, view mgl32.Mat4, resetAlive func()) {
	e.emitTimer += dt
	if freq := e.emitter.EmitFrequency; freq > 0 && e.emitTimer >= freq {
		e.emitTimer -= freq
		e.Emit(e.sampler.emitCount(&e.emitter))
	}

	e.dev.WriteBuffer(e.drawArgs, 4, gpu.Uint32ToBytes(0))
	if resetAlive != nil {
		resetAlive()
	}

	e.simulateVars.SetConstants("simulateParams", simulateParams(view, dt, e.capacity))
	e.dev.Dispatch(e.simulateProg, e.simulateVars, [3]uint32{e.simulateGroups, 1, 1})
}

func (e *engineBase) draw(target gpu.RenderTarget, view, proj mgl32.Mat4) {
	e.drawVars.SetConstants("drawParams", drawParams(view, proj))
	e.dev.DrawIndirect(e.drawProg, e.drawVars, target, e.drawArgs, 0)
}

// Constant blobs below follow the WGSL uniform structs EmitParams,
// SimulateParams, SortParams and DrawParams word for word.

func emitParams(numEmit, maxParticles uint32) []byte {
	return gpu.Uint32sToBytes([]uint32{numEmit, maxParticles, 0, 0})
}

func simulateParams(view mgl32.Mat4, dt float32, maxParticles uint32) []byte {
	params := gpu.Mat4ToBytes(view)
	params = append(params, gpu.Float32ToBytes(dt)...)
	return append(params, gpu.Uint32sToBytes([]uint32{maxParticles, 0, 0})...)
}

func sortParams(numGroups, count uint32) []byte {
	return gpu.Uint32sToBytes([]uint32{numGroups, count, 0, 0})
}

func drawParams(view, proj mgl32.Mat4) []byte {
	return append(gpu.Mat4ToBytes(view), gpu.Mat4ToBytes(proj)...)
}

func (e *engineBase) Emitter() EmitterConfig { return e.emitter }

func (e *engineBase) SetEmitter(cfg EmitterConfig) {
	e.emitter = ClampEmitter(cfg, e.desc.MaxEmitPerFrame)
}

func (e *engineBase) SetParticleDuration(duration, offset float32) {
	e.emitter.Duration = duration
	e.emitter.DurationOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetEmitData(count, countOffset uint32, frequency float32) {
	e.emitter.EmitCount = count
	e.emitter.EmitCountOffset = countOffset
	e.emitter.EmitFrequency = frequency
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetSpawnPos(pos, offset mgl32.Vec3) {
	e.emitter.SpawnPos = pos
	e.emitter.SpawnPosOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetVelocity(vel, offset mgl32.Vec3) {
	e.emitter.Vel = vel
	e.emitter.VelOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetAcceleration(accel, offset mgl32.Vec3) {
	e.emitter.Accel = accel
	e.emitter.AccelOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetScale(scale, offset float32) {
	e.emitter.Scale = scale
	e.emitter.ScaleOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetGrowth(growth, offset float32) {
	e.emitter.Growth = growth
	e.emitter.GrowthOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetBillboardRotation(rot, offset float32) {
	e.emitter.BillboardRotation = rot
	e.emitter.BillboardRotationOffset = offset
	e.SetEmitter(e.emitter)
}

func (e *engineBase) SetBillboardRotationVelocity(rotVel, offset float32) {
	e.emitter.BillboardRotationVelocity = rotVel
	e.emitter.BillboardRotationVelocityOffset = offset
	e.SetEmitter(e.emitter)
}

// Controls are bound to the live emitter: Set takes effect at the next emission.
func (e *engineBase) Controls() []Control {
	return emitterControls(&e.emitter, e.desc.MaxEmitPerFrame)
}

func (e *engineBase) SimulateVars() *gpu.Vars { return e.simulateVars }

func (e *engineBase) Release() {
	for i := len(e.owned) - 1; i >= 0; i-- {
		e.owned[i].Release()
	}
	e.owned = nil
}

type unsortedEngine struct {
	*engineBase
}

func (e *unsortedEngine) Update(dt float32, view mgl32.Mat4) {
	e.update(dt, view, nil)
}

func (e *unsortedEngine) Render(target gpu.RenderTarget, view, proj mgl32.Mat4) {
	e.draw(target, view, proj)
}

func (e *unsortedEngine) Snapshot() (*Snapshot, error) {
	return e.snapshot()
}
