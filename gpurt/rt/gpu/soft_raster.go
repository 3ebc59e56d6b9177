package gpu

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexOutput is what a soft vertex shader hands to the rasterizer.
// Position is in clip space; UV and Color are interpolated perspective-correctly.
type VertexOutput struct {
	Position mgl32.Vec4
	UV       mgl32.Vec2
	Color    mgl32.Vec4
}

type SoftVertexShader struct {
	Buffers   []string
	Constants []string
	Bind      func(res *Resources) (func(vertexID, instanceID uint32) VertexOutput, error)
}

type VertexFactory func(defines Defines) (*SoftVertexShader, error)

// FragmentFunc returns a straight-alpha color; alpha <= 0 discards the fragment.
type FragmentFunc func(in VertexOutput) mgl32.Vec4

type FragmentFactory func(defines Defines) (FragmentFunc, error)

type softGraphicsProgram struct {
	name     string
	vertex   *SoftVertexShader
	fragment FragmentFunc
}

func (p *softGraphicsProgram) Name() string { return p.name }
func (p *softGraphicsProgram) Release()     {}

func (d *SoftDevice) CreateGraphicsProgram(vertex, pixel string, defines Defines) (GraphicsProgram, error) {
	d.mu.RLock()
	vf, vok := d.vertices[vertex]
	ff, fok := d.fragments[pixel]
	d.mu.RUnlock()
	if !vok {
		return nil, fmt.Errorf("vertex program %q: %w", vertex, ErrShaderNotFound)
	}
	if !fok {
		return nil, fmt.Errorf("pixel program %q: %w", pixel, ErrShaderNotFound)
	}
	vs, err := vf(defines)
	if err != nil {
		return nil, fmt.Errorf("compile vertex program %q: %w", vertex, err)
	}
	fs, err := ff(defines)
	if err != nil {
		return nil, fmt.Errorf("compile pixel program %q: %w", pixel, err)
	}
	return &softGraphicsProgram{name: vertex + "+" + pixel, vertex: vs, fragment: fs}, nil
}

// DrawIndirect draws triangle strips, one per instance, taking
// {vertexCountPerInstance, instanceCount, startVertex, startInstance} from args.
func (d *SoftDevice) DrawIndirect(p GraphicsProgram, vars *Vars, target RenderTarget, args Buffer, argsOffset uint64) {
	prog, ok := p.(*softGraphicsProgram)
	if !ok {
		d.logger.Errorf("soft: draw with foreign program %s", p.Name())
		return
	}
	img, ok := target.(*ImageTarget)
	if !ok {
		d.logger.Errorf("soft: unsupported render target %T", target)
		return
	}
	ab, ok := args.(*SoftBuffer)
	if !ok || ab.Usage()&BufferUsageIndirect == 0 || argsOffset%4 != 0 || argsOffset+IndirectArgsWords*4 > ab.Size() {
		d.logger.Errorf("soft: bad indirect args buffer at offset %d", argsOffset)
		return
	}
	base := uint32(argsOffset / 4)
	ia := IndirectArgs{
		VertexCountPerInstance: ab.Load(base),
		InstanceCount:          ab.Load(base + 1),
		StartVertex:            ab.Load(base + 2),
		StartInstance:          ab.Load(base + 3),
	}

	res, err := d.resolve(prog.name, vars, prog.vertex.Buffers, prog.vertex.Constants)
	if err != nil {
		d.logger.Errorf("soft: draw %v", err)
		return
	}
	vs, err := prog.vertex.Bind(res)
	if err != nil {
		d.logger.Errorf("soft: bind %s: %v", prog.name, err)
		return
	}
	d.draws++
	d.logger.Debugf("soft: draw %s vertices=%d instances=%d", prog.name, ia.VertexCountPerInstance, ia.InstanceCount)

	r := rasterizer{img: img, fs: prog.fragment}
	r.w, r.h = img.Size()
	verts := make([]VertexOutput, ia.VertexCountPerInstance)
	for inst := ia.StartInstance; inst < ia.StartInstance+ia.InstanceCount; inst++ {
		for v := range verts {
			verts[v] = vs(ia.StartVertex+uint32(v), inst)
		}
		for t := 0; t+2 < len(verts); t++ {
			r.triangle(verts[t], verts[t+1], verts[t+2])
		}
	}
}

type rasterizer struct {
	img  *ImageTarget
	fs   FragmentFunc
	w, h int
}

type screenVertex struct {
	x, y  float32
	invW  float32
	attrs VertexOutput
}

const minClipW = 1e-5

func (r *rasterizer) toScreen(v VertexOutput) (screenVertex, bool) {
	w := v.Position.W()
	// NaN w is dropped too
	if !(w > minClipW) {
		return screenVertex{}, false
	}
	ndcX := v.Position.X() / w
	ndcY := v.Position.Y() / w
	return screenVertex{
		x:     (ndcX + 1) * 0.5 * float32(r.w),
		y:     (1 - ndcY) * 0.5 * float32(r.h),
		invW:  1 / w,
		attrs: v,
	}, true
}

func edge(a, b screenVertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

// covers applies a tie rule for pixel centers exactly on an edge: an edge shared
// by two triangles is walked in opposite directions, so only one of them owns it.
func covers(e float32, a, b screenVertex) bool {
	if e != 0 {
		return e > 0
	}
	dx, dy := b.x-a.x, b.y-a.y
	return dy > 0 || (dy == 0 && dx < 0)
}

// triangle rasterizes without culling or depth, blending each covered pixel
// center in draw order. Triangles with a vertex behind the eye are dropped.
func (r *rasterizer) triangle(a, b, c VertexOutput) {
	v0, ok0 := r.toScreen(a)
	v1, ok1 := r.toScreen(b)
	v2, ok2 := r.toScreen(c)
	if !ok0 || !ok1 || !ok2 {
		return
	}
	area := edge(v0, v1, v2.x, v2.y)
	if area == 0 {
		return
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}

	minX := int(math.Floor(float64(min(v0.x, v1.x, v2.x))))
	maxX := int(math.Ceil(float64(max(v0.x, v1.x, v2.x))))
	minY := int(math.Floor(float64(min(v0.y, v1.y, v2.y))))
	maxY := int(math.Ceil(float64(max(v0.y, v1.y, v2.y))))
	minX, minY = max(minX, 0), max(minY, 0)
	maxX, maxY = min(maxX, r.w-1), min(maxY, r.h-1)

	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			cx, cy := float32(px)+0.5, float32(py)+0.5
			e0 := edge(v1, v2, cx, cy)
			e1 := edge(v2, v0, cx, cy)
			e2 := edge(v0, v1, cx, cy)
			if !covers(e0, v1, v2) || !covers(e1, v2, v0) || !covers(e2, v0, v1) {
				continue
			}
			w0, w1, w2 := e0/area, e1/area, e2/area
			// perspective-correct weights
			p0, p1, p2 := w0*v0.invW, w1*v1.invW, w2*v2.invW
			sum := p0 + p1 + p2
			p0, p1, p2 = p0/sum, p1/sum, p2/sum

			in := VertexOutput{
				Position: mgl32.Vec4{cx, cy, 0, 1},
				UV:       v0.attrs.UV.Mul(p0).Add(v1.attrs.UV.Mul(p1)).Add(v2.attrs.UV.Mul(p2)),
				Color:    v0.attrs.Color.Mul(p0).Add(v1.attrs.Color.Mul(p1)).Add(v2.attrs.Color.Mul(p2)),
			}
			col := r.fs(in)
			if col.W() <= 0 {
				continue
			}
			r.blend(px, py, col)
		}
	}
}

// blend composites a straight-alpha color over the premultiplied RGBA pixel.
func (r *rasterizer) blend(x, y int, src mgl32.Vec4) {
	a := mgl32.Clamp(src.W(), 0, 1)
	i := r.img.Image.PixOffset(x, y)
	pix := r.img.Image.Pix[i : i+4 : i+4]
	for ch := 0; ch < 3; ch++ {
		s := mgl32.Clamp(src[ch], 0, 1) * a
		dst := float32(pix[ch]) / 255
		pix[ch] = uint8(mgl32.Clamp(s+dst*(1-a), 0, 1)*255 + 0.5)
	}
	dstA := float32(pix[3]) / 255
	pix[3] = uint8(mgl32.Clamp(a+dstA*(1-a), 0, 1)*255 + 0.5)
}
