package gpu

import (
	"errors"
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendKernel appends every global id below limit to out via an atomic cursor,
// and counts finished workgroups in groups.
func appendKernel(Defines) (*SoftKernel, error) {
	return &SoftKernel{
		Buffers:   []string{"out", "cursor"},
		Constants: []string{"params"},
		Bind: func(res *Resources) (*SoftPass, error) {
			out, cursor := res.Buffer("out"), res.Buffer("cursor")
			limit := BytesToUint32s(res.Constants("params"))[0]
			return &SoftPass{
				Invoke: func(id InvocationID) {
					if id.Global[0] >= limit {
						return
					}
					i := cursor.AtomicAdd(0, 1)
					out.Store(i, id.Global[0])
				},
				GroupDone: func([3]uint32) {
					cursor.AtomicAdd(1, 1)
				},
			}, nil
		},
	}, nil
}

func TestSoftDevice_DispatchAtomicAppend(t *testing.T) {
	dev := NewSoftDevice(nil)
	dev.RegisterKernel("append", [3]uint32{16, 1, 1}, appendKernel)

	prog, err := dev.CreateComputeProgram("append", nil)
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{16, 1, 1}, prog.WorkgroupSize())

	out, err := dev.CreateStructuredBuffer("out", 4, 100, BufferUsageStorage)
	require.NoError(t, err)
	cursor, err := dev.CreateStructuredBuffer("cursor", 4, 2, BufferUsageCounter)
	require.NoError(t, err)

	vars := NewVars().
		SetBuffer("out", out).
		SetBuffer("cursor", cursor).
		SetConstants("params", Uint32ToBytes(100))
	dev.Dispatch(prog, vars, [3]uint32{DivRoundUp(100, 16), 1, 1})

	c, err := dev.ReadBuffer(cursor)
	require.NoError(t, err)
	words := BytesToUint32s(c)
	assert.Equal(t, uint32(100), words[0])
	assert.Equal(t, uint32(7), words[1], "one GroupDone per workgroup")

	data, err := dev.ReadBuffer(out)
	require.NoError(t, err)
	seen := make(map[uint32]bool)
	for _, v := range BytesToUint32s(data) {
		assert.False(t, seen[v], "duplicate id %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, 100)

	dispatches, _ := dev.Stats()
	assert.Equal(t, uint64(1), dispatches)
}

func TestSoftDevice_MissingBindingSkipsDispatch(t *testing.T) {
	dev := NewSoftDevice(nil)
	dev.RegisterKernel("append", [3]uint32{16, 1, 1}, appendKernel)
	prog, err := dev.CreateComputeProgram("append", nil)
	require.NoError(t, err)

	_, err = dev.resolve("append", NewVars(), []string{"out"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownBinding))

	dev.Dispatch(prog, NewVars(), [3]uint32{1, 1, 1})
	dispatches, _ := dev.Stats()
	assert.Zero(t, dispatches)
}

func TestSoftDevice_Errors(t *testing.T) {
	dev := NewSoftDevice(nil)
	_, err := dev.CreateComputeProgram("nope", nil)
	assert.True(t, errors.Is(err, ErrShaderNotFound))

	_, err = dev.CreateGraphicsProgram("vs", "ps", nil)
	assert.True(t, errors.Is(err, ErrShaderNotFound))

	_, err = dev.CreateStructuredBuffer("empty", 4, 0, BufferUsageStorage)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	dev.RegisterKernel("broken", [3]uint32{1, 1, 1}, func(Defines) (*SoftKernel, error) {
		return nil, errors.New("syntax error")
	})
	_, err = dev.CreateComputeProgram("broken", nil)
	assert.Error(t, err)
}

func TestSoftBuffer_WriteAndAtomics(t *testing.T) {
	b := newSoftBuffer("b", 4, 4, BufferUsageStorage)
	require.NoError(t, b.write(4, Uint32sToBytes([]uint32{7, 8})))
	assert.Equal(t, []uint32{0, 7, 8, 0}, BytesToUint32s(b.bytes()))
	assert.ErrorIs(t, b.write(12, Uint32sToBytes([]uint32{1, 2})), ErrBufferTooSmall)

	assert.Equal(t, uint32(7), b.AtomicAdd(1, 3))
	assert.Equal(t, uint32(10), b.AtomicSub(1, 4))
	assert.Equal(t, uint32(6), b.Load(1))
	assert.False(t, b.AtomicCompareAndSwap(1, 5, 0))
	assert.True(t, b.AtomicCompareAndSwap(1, 6, 0))

	b.StoreF32(3, -1.5)
	assert.Equal(t, float32(-1.5), b.LoadF32(3))
}

func TestSoftDevice_DrawIndirectQuad(t *testing.T) {
	dev := NewSoftDevice(nil)
	// Full-screen strip, one instance per args.instanceCount.
	dev.RegisterVertex("quad", func(Defines) (*SoftVertexShader, error) {
		return &SoftVertexShader{
			Bind: func(*Resources) (func(v, i uint32) VertexOutput, error) {
				return func(v, _ uint32) VertexOutput {
					x := float32(v&1)*2 - 1
					y := float32(v>>1)*2 - 1
					return VertexOutput{Position: mgl32.Vec4{x, y, 0, 1}, Color: mgl32.Vec4{1, 0, 0, 0.5}}
				}, nil
			},
		}, nil
	})
	dev.RegisterFragment("color", func(Defines) (FragmentFunc, error) {
		return func(in VertexOutput) mgl32.Vec4 { return in.Color }, nil
	})
	prog, err := dev.CreateGraphicsProgram("quad", "color", nil)
	require.NoError(t, err)

	args, err := dev.CreateStructuredBuffer("args", 4, IndirectArgsWords, BufferUsageIndirect)
	require.NoError(t, err)

	target := NewImageTarget(8, 8)
	target.Clear(color.RGBA{0, 0, 0, 255})

	// args without indirect usage are rejected
	plain, err := dev.CreateStructuredBuffer("plain", 4, IndirectArgsWords, BufferUsageStorage)
	require.NoError(t, err)
	dev.WriteBuffer(plain, 0, Uint32sToBytes([]uint32{4, 1, 0, 0}))
	dev.DrawIndirect(prog, NewVars(), target, plain, 0)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, target.Image.RGBAAt(4, 4))
	_, draws := dev.Stats()
	assert.Zero(t, draws)

	// instanceCount == 0 draws nothing
	dev.WriteBuffer(args, 0, Uint32sToBytes([]uint32{4, 0, 0, 0}))
	dev.DrawIndirect(prog, NewVars(), target, args, 0)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, target.Image.RGBAAt(4, 4))

	dev.WriteBuffer(args, 0, Uint32sToBytes([]uint32{4, 1, 0, 0}))
	dev.DrawIndirect(prog, NewVars(), target, args, 0)
	for _, p := range [][2]int{{0, 0}, {7, 7}, {3, 5}} {
		c := target.Image.RGBAAt(p[0], p[1])
		assert.InDelta(t, 128, int(c.R), 1, "pixel %v", p)
		assert.Equal(t, uint8(0), c.G)
		assert.Equal(t, uint8(255), c.A)
	}

	// a second instance blends over the first
	dev.WriteBuffer(args, 0, Uint32sToBytes([]uint32{4, 2, 0, 0}))
	dev.DrawIndirect(prog, NewVars(), target, args, 0)
	assert.InDelta(t, 223, int(target.Image.RGBAAt(4, 4).R), 2)
}
