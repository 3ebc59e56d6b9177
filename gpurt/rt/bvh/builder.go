package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// NodeSize matches the WGSL layout:
//
//	struct BVHNode {
//	   aabb_min : vec4<f32>, (16)
//	   aabb_max : vec4<f32>, (16)
//	   left : i32, right : i32, leaf_first : i32, leaf_count : i32, (16)
//	   padding : vec4<i32>, (16)
//	}
const NodeSize = 64

// DefaultMaxLeafSize is the leaf size Build uses when Builder.MaxLeafSize is 0.
const DefaultMaxLeafSize = 2

type Node struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
	// Left and Right are node indices, -1 for leaves.
	Left  int32
	Right int32
	// LeafFirst indexes Tree.Prims.
	LeafFirst int32
	LeafCount int32
}

func (n *Node) IsLeaf() bool { return n.Left < 0 }

func (n *Node) ToBytes() []byte {
	buf := make([]byte, NodeSize)

	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))

	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))

	binary.LittleEndian.PutUint32(buf[32:36], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n.LeafFirst))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(n.LeafCount))
	return buf
}

// Tree is a flattened BVH. Nodes[0] is the root; an empty tree has no nodes.
type Tree struct {
	Nodes []Node
	// Prims holds primitive indices in leaf order.
	Prims []int32
}

func (t *Tree) Empty() bool { return len(t.Nodes) == 0 }

// Bytes serialises the nodes for upload. An empty tree yields a single
// zeroed node so the buffer binding is never empty.
func (t *Tree) Bytes() []byte {
	if t.Empty() {
		return make([]byte, NodeSize)
	}
	out := make([]byte, 0, len(t.Nodes)*NodeSize)
	for i := range t.Nodes {
		out = append(out, t.Nodes[i].ToBytes()...)
	}
	return out
}

type item struct {
	min      mgl32.Vec3
	max      mgl32.Vec3
	centroid mgl32.Vec3
	index    int32
}

// Builder splits at the median centroid along the longest axis.
type Builder struct {
	MaxLeafSize int
}

func (b *Builder) Build(bounds [][2]mgl32.Vec3) *Tree {
	t := &Tree{}
	if len(bounds) == 0 {
		return t
	}
	items := make([]item, len(bounds))
	for i, bb := range bounds {
		items[i] = item{
			min:      bb[0],
			max:      bb[1],
			centroid: bb[0].Add(bb[1]).Mul(0.5),
			index:    int32(i),
		}
	}
	leafSize := b.MaxLeafSize
	if leafSize <= 0 {
		leafSize = DefaultMaxLeafSize
	}
	t.Nodes = make([]Node, 0, 2*len(items))
	t.Prims = make([]int32, 0, len(items))
	t.build(items, leafSize)
	return t
}

func (t *Tree) build(items []item, leafSize int) int32 {
	idx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{Left: -1, Right: -1, LeafFirst: -1})

	minB := mgl32.Vec3{float32(math.Inf(1)), float32(math.Inf(1)), float32(math.Inf(1))}
	maxB := mgl32.Vec3{float32(math.Inf(-1)), float32(math.Inf(-1)), float32(math.Inf(-1))}
	for _, it := range items {
		minB = mgl32.Vec3{min(minB.X(), it.min.X()), min(minB.Y(), it.min.Y()), min(minB.Z(), it.min.Z())}
		maxB = mgl32.Vec3{max(maxB.X(), it.max.X()), max(maxB.Y(), it.max.Y()), max(maxB.Z(), it.max.Z())}
	}
	t.Nodes[idx].Min = minB
	t.Nodes[idx].Max = maxB

	if len(items) <= leafSize {
		t.Nodes[idx].LeafFirst = int32(len(t.Prims))
		t.Nodes[idx].LeafCount = int32(len(items))
		for _, it := range items {
			t.Prims = append(t.Prims, it.index)
		}
		return idx
	}

	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].centroid[axis] < items[j].centroid[axis]
	})

	mid := len(items) / 2
	left := t.build(items[:mid], leafSize)
	right := t.build(items[mid:], leafSize)
	t.Nodes[idx].Left = left
	t.Nodes[idx].Right = right
	return idx
}
