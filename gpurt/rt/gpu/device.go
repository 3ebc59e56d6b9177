package gpu

import (
	"errors"
	"sort"
)

var (
	ErrShaderNotFound  = errors.New("shader not found")
	ErrUnknownBinding  = errors.New("unknown binding")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrInvalidArgument = errors.New("invalid argument")
)

type BufferUsage uint32

const (
	// BufferUsageStorage marks a structured (read/write storage) buffer.
	BufferUsageStorage BufferUsage = 1 << iota
	// BufferUsageIndirect allows the buffer to feed DrawIndirect arguments.
	BufferUsageIndirect
	// BufferUsageCounter marks a buffer whose words are touched with atomics.
	BufferUsageCounter
)

// Buffer is a device-resident array of fixed-stride elements.
type Buffer interface {
	Label() string
	Stride() uint32
	Count() uint32
	Size() uint64
	Release()
}

type ComputeProgram interface {
	Name() string
	// WorkgroupSize is the reflected @workgroup_size of the entry point.
	WorkgroupSize() [3]uint32
	Release()
}

type GraphicsProgram interface {
	Name() string
	Release()
}

// RenderTarget is what a draw writes into: an image for the soft device,
// a swap-chain view for webgpu.
type RenderTarget interface {
	Size() (width, height int)
}

// Device is the dispatch/draw submission facility. Calls are made from a single
// host goroutine and execute in submission order: a dispatch observes all memory
// effects of earlier dispatches, draws and writes.
type Device interface {
	CreateComputeProgram(name string, defines Defines) (ComputeProgram, error)
	CreateGraphicsProgram(vertex, pixel string, defines Defines) (GraphicsProgram, error)
	CreateStructuredBuffer(label string, stride, count uint32, usage BufferUsage) (Buffer, error)

	WriteBuffer(buf Buffer, offset uint64, data []byte)
	// ReadBuffer copies the whole buffer back to the host, waiting for pending work.
	// Debug and test use only; the frame loop never reads back.
	ReadBuffer(buf Buffer) ([]byte, error)

	Dispatch(p ComputeProgram, vars *Vars, groups [3]uint32)
	DrawIndirect(p GraphicsProgram, vars *Vars, target RenderTarget, args Buffer, argsOffset uint64)

	Release()
}

// Vars binds named resources to a program, resolved against the program's
// declared variable names at dispatch time.
type Vars struct {
	buffers   map[string]Buffer
	constants map[string][]byte
}

func NewVars() *Vars {
	return &Vars{
		buffers:   make(map[string]Buffer),
		constants: make(map[string][]byte),
	}
}

func (v *Vars) SetBuffer(name string, b Buffer) *Vars {
	v.buffers[name] = b
	return v
}

// SetConstants stores the blob for a uniform block. The slice is copied.
func (v *Vars) SetConstants(name string, data []byte) *Vars {
	c := make([]byte, len(data))
	copy(c, data)
	v.constants[name] = c
	return v
}

func (v *Vars) Buffer(name string) (Buffer, bool) {
	b, ok := v.buffers[name]
	return b, ok
}

func (v *Vars) Constants(name string) ([]byte, bool) {
	c, ok := v.constants[name]
	return c, ok
}

// BufferNames returns the bound buffer names in sorted order.
func (v *Vars) BufferNames() []string {
	names := make([]string, 0, len(v.buffers))
	for n := range v.buffers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func DivRoundUp(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n == 0).
func NextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// IndirectArgs mirrors the draw-indirect argument block.
type IndirectArgs struct {
	VertexCountPerInstance uint32
	InstanceCount          uint32
	StartVertex            uint32
	StartInstance          uint32
}

const IndirectArgsWords = 4
