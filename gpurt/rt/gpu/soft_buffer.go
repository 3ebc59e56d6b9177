package gpu

import (
	"math"
	"sync/atomic"
)

// SoftBuffer is a structured buffer living in host memory as 32-bit words.
// Every access goes through sync/atomic so kernels running in concurrent
// workgroups can share counters the same way GPU invocations do.
type SoftBuffer struct {
	label  string
	stride uint32
	count  uint32
	usage  BufferUsage
	words  []uint32
}

func newSoftBuffer(label string, stride, count uint32, usage BufferUsage) *SoftBuffer {
	return &SoftBuffer{
		label:  label,
		stride: stride,
		count:  count,
		usage:  usage,
		words:  make([]uint32, (uint64(stride)*uint64(count)+3)/4),
	}
}

func (b *SoftBuffer) Label() string      { return b.label }
func (b *SoftBuffer) Stride() uint32     { return b.stride }
func (b *SoftBuffer) Count() uint32      { return b.count }
func (b *SoftBuffer) Size() uint64       { return uint64(b.stride) * uint64(b.count) }
func (b *SoftBuffer) Usage() BufferUsage { return b.usage }
func (b *SoftBuffer) Release()           { b.words = nil }

// Len is the buffer length in words.
func (b *SoftBuffer) Len() uint32 { return uint32(len(b.words)) }

func (b *SoftBuffer) Load(i uint32) uint32 {
	return atomic.LoadUint32(&b.words[i])
}

func (b *SoftBuffer) Store(i, v uint32) {
	atomic.StoreUint32(&b.words[i], v)
}

func (b *SoftBuffer) LoadF32(i uint32) float32 {
	return math.Float32frombits(b.Load(i))
}

func (b *SoftBuffer) StoreF32(i uint32, v float32) {
	b.Store(i, math.Float32bits(v))
}

// AtomicAdd returns the value before the add, like WGSL atomicAdd.
func (b *SoftBuffer) AtomicAdd(i, delta uint32) uint32 {
	return atomic.AddUint32(&b.words[i], delta) - delta
}

// AtomicSub returns the value before the subtraction.
func (b *SoftBuffer) AtomicSub(i, delta uint32) uint32 {
	return atomic.AddUint32(&b.words[i], ^(delta - 1)) + delta
}

func (b *SoftBuffer) AtomicCompareAndSwap(i, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&b.words[i], old, new)
}

func (b *SoftBuffer) bytes() []byte {
	out := make([]uint32, len(b.words))
	for i := range b.words {
		out[i] = atomic.LoadUint32(&b.words[i])
	}
	return Uint32sToBytes(out)[:b.Size()]
}

func (b *SoftBuffer) write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.Size() {
		return ErrBufferTooSmall
	}
	if offset%4 != 0 {
		return ErrInvalidArgument
	}
	// Pad a trailing partial word with the bytes already in place.
	n := len(data)
	if n%4 != 0 {
		tail := Uint32ToBytes(b.Load(uint32((offset + uint64(n)) / 4)))
		data = append(append([]byte{}, data...), tail[n%4:]...)
	}
	base := uint32(offset / 4)
	for i, w := range BytesToUint32s(data) {
		b.Store(base+uint32(i), w)
	}
	return nil
}
