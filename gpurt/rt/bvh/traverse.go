package bvh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
	TMin   float32
	TMax   float32
}

// IntersectFunc tests primitive prim against r and returns the hit distance.
// Hits outside [r.TMin, r.TMax] must be reported as misses.
type IntersectFunc func(prim int32, r Ray) (float32, bool)

// maxStack bounds the traversal stack; median splits keep the depth near log2(n).
const maxStack = 64

func invDir(d mgl32.Vec3) mgl32.Vec3 {
	inv := func(v float32) float32 {
		if v == 0 {
			return float32(math.Inf(1))
		}
		return 1 / v
	}
	return mgl32.Vec3{inv(d.X()), inv(d.Y()), inv(d.Z())}
}

// slab returns the entry distance of r into the box, or false on a miss.
func slab(minB, maxB, origin, inv mgl32.Vec3, tMin, tMax float32) (float32, bool) {
	for a := 0; a < 3; a++ {
		t0 := (minB[a] - origin[a]) * inv[a]
		t1 := (maxB[a] - origin[a]) * inv[a]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		// 0*Inf is NaN when the origin lies on a slab plane; the comparisons below
		// then keep the previous bounds.
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// Closest returns the nearest primitive hit along r.
func (t *Tree) Closest(r Ray, hit IntersectFunc) (prim int32, dist float32, ok bool) {
	prim = -1
	if t.Empty() {
		return prim, 0, false
	}
	inv := invDir(r.Dir)
	var stack [maxStack]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &t.Nodes[stack[sp]]
		if _, in := slab(n.Min, n.Max, r.Origin, inv, r.TMin, r.TMax); !in {
			continue
		}
		if n.IsLeaf() {
			for _, p := range t.Prims[n.LeafFirst : n.LeafFirst+n.LeafCount] {
				if d, h := hit(p, r); h && d < r.TMax {
					r.TMax = d
					prim, dist, ok = p, d, true
				}
			}
			continue
		}
		// Visit the nearer child first so TMax shrinks early.
		near, far := n.Left, n.Right
		ln, rn := &t.Nodes[near], &t.Nodes[far]
		dl, okL := slab(ln.Min, ln.Max, r.Origin, inv, r.TMin, r.TMax)
		dr, okR := slab(rn.Min, rn.Max, r.Origin, inv, r.TMin, r.TMax)
		if okL && okR && dr < dl {
			near, far = far, near
		}
		if sp+2 > maxStack {
			continue
		}
		if okL || okR {
			stack[sp] = far
			sp++
			stack[sp] = near
			sp++
		}
	}
	return prim, dist, ok
}

// Any reports whether anything along r is hit. It stops at the first hit.
func (t *Tree) Any(r Ray, hit IntersectFunc) bool {
	if t.Empty() {
		return false
	}
	inv := invDir(r.Dir)
	var stack [maxStack]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &t.Nodes[stack[sp]]
		if _, in := slab(n.Min, n.Max, r.Origin, inv, r.TMin, r.TMax); !in {
			continue
		}
		if n.IsLeaf() {
			for _, p := range t.Prims[n.LeafFirst : n.LeafFirst+n.LeafCount] {
				if _, h := hit(p, r); h {
					return true
				}
			}
			continue
		}
		if sp+2 > maxStack {
			continue
		}
		stack[sp] = n.Left
		sp++
		stack[sp] = n.Right
		sp++
	}
	return false
}
