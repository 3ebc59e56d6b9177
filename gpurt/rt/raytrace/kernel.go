package raytrace

import (
	"math"

	"github.com/gekko3d/gekkofx/gpurt/rt/bvh"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// KernelName is the program the sample dispatches, one invocation per pixel.
const KernelName = "RayDifferential.rt"

const groupSize = 8

// PerFrameCB layout in words: invView mat4, viewportDims vec2, tanHalfFovY,
// debug view, cone reference distance, pad x3.
const perFrameWords = 24

type DebugView uint32

const (
	ViewShaded DebugView = iota
	// ViewRayCone shows the width of the primary ray cone at the hit, green
	// near the camera, red at the far plane.
	ViewRayCone
)

func (v DebugView) String() string {
	switch v {
	case ViewShaded:
		return "shaded"
	case ViewRayCone:
		return "raycone"
	default:
		return "unknown"
	}
}

type perFrame struct {
	invView      mgl32.Mat4
	viewportDims mgl32.Vec2
	tanHalfFovY  float32
	view         DebugView
	coneFar      float32
}

func (f *perFrame) bytes() []byte {
	out := gpu.Mat4ToBytes(f.invView)
	out = append(out, gpu.Float32ToBytes(f.viewportDims[0])...)
	out = append(out, gpu.Float32ToBytes(f.viewportDims[1])...)
	out = append(out, gpu.Float32ToBytes(f.tanHalfFovY)...)
	out = append(out, gpu.Uint32ToBytes(uint32(f.view))...)
	out = append(out, gpu.Float32ToBytes(f.coneFar)...)
	return gpu.PadTo16(out)
}

func perFrameFromWords(w []uint32) perFrame {
	f := math.Float32frombits
	var m mgl32.Mat4
	for i := range m {
		m[i] = f(w[i])
	}
	return perFrame{
		invView:      m,
		viewportDims: mgl32.Vec2{f(w[16]), f(w[17])},
		tanHalfFovY:  f(w[18]),
		view:         DebugView(w[19]),
		coneFar:      f(w[20]),
	}
}

// SpreadAngle is the angle between rays through neighbouring pixel centers,
// the ray cone's initial spread for a viewport height of h pixels.
func SpreadAngle(tanHalfFovY float32, h float32) float32 {
	return float32(math.Atan(float64(2 * tanHalfFovY / h)))
}

// ConeWidth is the cone footprint after travelling dist from a point apex.
func ConeWidth(spread, dist float32) float32 {
	return 2 * dist * float32(math.Tan(float64(spread)*0.5))
}

// primaryRay builds the camera ray through the center of pixel (x, y).
func (f *perFrame) primaryRay(x, y uint32) bvh.Ray {
	w, h := f.viewportDims[0], f.viewportDims[1]
	ndcX := (float32(x)+0.5)/w*2 - 1
	ndcY := 1 - (float32(y)+0.5)/h*2
	aspect := w / h
	dirView := mgl32.Vec4{ndcX * f.tanHalfFovY * aspect, ndcY * f.tanHalfFovY, -1, 0}
	return bvh.Ray{
		Origin: f.invView.Col(3).Vec3(),
		Dir:    f.invView.Mul4x1(dirView).Vec3().Normalize(),
		TMin:   0,
		TMax:   float32(math.Inf(1)),
	}
}

func packColor(c mgl32.Vec4) uint32 {
	u := func(v float32) uint32 { return uint32(mgl32.Clamp(v, 0, 1)*255 + 0.5) }
	return u(c[0]) | u(c[1])<<8 | u(c[2])<<16 | u(c[3])<<24
}

// rayKernel traces g. Misses leave the cleared output untouched.
func rayKernel(g *geometry) gpu.KernelFactory {
	return func(gpu.Defines) (*gpu.SoftKernel, error) {
		return &gpu.SoftKernel{
			Buffers:   []string{"gOutput"},
			Constants: []string{"PerFrameCB"},
			Bind: func(res *gpu.Resources) (*gpu.SoftPass, error) {
				words := gpu.BytesToUint32s(res.Constants("PerFrameCB"))
				if len(words) < perFrameWords {
					return nil, gpu.ErrBufferTooSmall
				}
				frame := perFrameFromWords(words)
				out := res.Buffer("gOutput")
				width, height := uint32(frame.viewportDims[0]), uint32(frame.viewportDims[1])
				spread := SpreadAngle(frame.tanHalfFovY, frame.viewportDims[1])
				coneRef := ConeWidth(spread, frame.coneFar)

				return &gpu.SoftPass{Invoke: func(id gpu.InvocationID) {
					x, y := id.Global[0], id.Global[1]
					if x >= width || y >= height {
						return
					}
					rgb, dist, hit := g.shade(frame.primaryRay(x, y))
					if !hit {
						return
					}
					if frame.view == ViewRayCone {
						v := mgl32.Clamp(ConeWidth(spread, dist)/coneRef, 0, 1)
						rgb = mgl32.Vec3{v, 1 - v, 0}
					}
					out.Store(y*width+x, packColor(rgb.Vec4(1)))
				}}, nil
			},
		}, nil
	}
}
