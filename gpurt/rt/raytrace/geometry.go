package raytrace

import (
	"math"

	"github.com/gekko3d/gekkofx/gpurt/rt/bvh"
	"github.com/go-gl/mathgl/mgl32"
)

// rayEpsilon offsets secondary ray origins off the surface they start on.
const rayEpsilon = 1e-3

// geometry flattens a scene into one primitive index space: spheres first,
// then boxes.
type geometry struct {
	scene *Scene
	tree  *bvh.Tree
}

func newGeometry(s *Scene) *geometry {
	bounds := make([][2]mgl32.Vec3, 0, len(s.Spheres)+len(s.Boxes))
	for _, sp := range s.Spheres {
		r := mgl32.Vec3{sp.Radius, sp.Radius, sp.Radius}
		bounds = append(bounds, [2]mgl32.Vec3{sp.Center.Sub(r), sp.Center.Add(r)})
	}
	for _, b := range s.Boxes {
		bounds = append(bounds, [2]mgl32.Vec3{b.Min, b.Max})
	}
	return &geometry{scene: s, tree: (&bvh.Builder{}).Build(bounds)}
}

func (g *geometry) intersect(prim int32, r bvh.Ray) (float32, bool) {
	n := int32(len(g.scene.Spheres))
	if prim < n {
		sp := &g.scene.Spheres[prim]
		return intersectSphere(sp.Center, sp.Radius, r)
	}
	b := &g.scene.Boxes[prim-n]
	return intersectBox(b.Min, b.Max, r)
}

func (g *geometry) surface(prim int32, p mgl32.Vec3) (normal, albedo mgl32.Vec3) {
	n := int32(len(g.scene.Spheres))
	if prim < n {
		sp := &g.scene.Spheres[prim]
		return p.Sub(sp.Center).Normalize(), sp.Albedo
	}
	b := &g.scene.Boxes[prim-n]
	return boxNormal(b.Min, b.Max, p), b.Albedo
}

func intersectSphere(center mgl32.Vec3, radius float32, r bvh.Ray) (float32, bool) {
	oc := r.Origin.Sub(center)
	a := r.Dir.Dot(r.Dir)
	halfB := oc.Dot(r.Dir)
	c := oc.Dot(oc) - radius*radius
	disc := halfB*halfB - a*c
	if disc < 0 {
		return 0, false
	}
	sq := float32(math.Sqrt(float64(disc)))
	t := (-halfB - sq) / a
	if t < r.TMin {
		t = (-halfB + sq) / a
	}
	if t < r.TMin || t > r.TMax {
		return 0, false
	}
	return t, true
}

// intersectBox returns the entry distance, or the exit distance when the ray
// starts inside.
func intersectBox(minB, maxB mgl32.Vec3, r bvh.Ray) (float32, bool) {
	tNear := float32(math.Inf(-1))
	tFar := float32(math.Inf(1))
	for a := 0; a < 3; a++ {
		if r.Dir[a] == 0 {
			if r.Origin[a] < minB[a] || r.Origin[a] > maxB[a] {
				return 0, false
			}
			continue
		}
		inv := 1 / r.Dir[a]
		t0 := (minB[a] - r.Origin[a]) * inv
		t1 := (maxB[a] - r.Origin[a]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tNear = max(tNear, t0)
		tFar = min(tFar, t1)
		if tNear > tFar {
			return 0, false
		}
	}
	t := tNear
	if t < r.TMin {
		t = tFar
	}
	if t < r.TMin || t > r.TMax {
		return 0, false
	}
	return t, true
}

// boxNormal picks the face p lies closest to.
func boxNormal(minB, maxB, p mgl32.Vec3) mgl32.Vec3 {
	best := float32(math.Inf(1))
	var n mgl32.Vec3
	for a := 0; a < 3; a++ {
		if d := float32(math.Abs(float64(p[a] - minB[a]))); d < best {
			best = d
			n = mgl32.Vec3{}
			n[a] = -1
		}
		if d := float32(math.Abs(float64(p[a] - maxB[a]))); d < best {
			best = d
			n = mgl32.Vec3{}
			n[a] = 1
		}
	}
	return n
}

// shade traces a primary ray: closest hit, then one shadow ray per light.
// It returns the hit distance, or ok=false on a miss.
func (g *geometry) shade(r bvh.Ray) (rgb mgl32.Vec3, dist float32, ok bool) {
	prim, t, hit := g.tree.Closest(r, g.intersect)
	if !hit {
		return mgl32.Vec3{}, 0, false
	}
	p := r.Origin.Add(r.Dir.Mul(t))
	n, albedo := g.surface(prim, p)
	if n.Dot(r.Dir) > 0 {
		n = n.Mul(-1)
	}
	origin := p.Add(n.Mul(rayEpsilon))

	light := mgl32.Vec3{g.scene.Ambient, g.scene.Ambient, g.scene.Ambient}
	for _, l := range g.scene.Lights {
		toLight := l.Position.Sub(origin)
		d := toLight.Len()
		if d == 0 {
			continue
		}
		dir := toLight.Mul(1 / d)
		ndotl := n.Dot(dir)
		if ndotl <= 0 {
			continue
		}
		shadow := bvh.Ray{Origin: origin, Dir: dir, TMin: rayEpsilon, TMax: d - rayEpsilon}
		if g.tree.Any(shadow, g.intersect) {
			continue
		}
		light = light.Add(l.Color.Mul(l.Intensity * ndotl / (d * d)))
	}
	rgb = mgl32.Vec3{albedo[0] * light[0], albedo[1] * light[1], albedo[2] * light[2]}
	return rgb, t, true
}
