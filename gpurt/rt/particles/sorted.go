package particles

import (
	"math/bits"

	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// sortedEngine keeps the alive list as {index, depth} pairs over the full
// power-of-two capacity and orders it with a bitonic network before drawing.
type sortedEngine struct {
	*engineBase

	sortProg             gpu.ComputeProgram
	sortIterationCounter gpu.Buffer
	sortVars             *gpu.Vars
	sortGroups           uint32
	sortPasses           int

	sentinels []byte
	// pendingSort is set by Update and cleared once Render has sorted, so a
	// second Render of the same frame does not run the network past its last stage.
	pendingSort bool
}

func newSortedEngine(e *engineBase) (*sortedEngine, error) {
	s := &sortedEngine{engineBase: e}

	var err error
	if s.sortProg, err = e.dev.CreateComputeProgram(shaders.ParticleSort, nil); err != nil {
		return nil, err
	}
	e.own(s.sortProg)
	if s.sortIterationCounter, err = e.buffer("sortIterationCounter", 4, 2, gpu.BufferUsageCounter); err != nil {
		return nil, err
	}

	wg := s.sortProg.WorkgroupSize()
	threads := wg[0] * wg[1] * wg[2]
	s.sortGroups = max(gpu.DivRoundUp(e.capacity/2, threads), 1)
	s.sortPasses = BitonicPasses(e.capacity)
	s.sentinels = sentinelEntries(e.capacity)

	e.simulateVars.SetBuffer("sortIterationCounter", s.sortIterationCounter)
	s.sortVars = gpu.NewVars().
		SetBuffer("aliveList", e.aliveList).
		SetBuffer("sortIterationCounter", s.sortIterationCounter).
		SetConstants("sortParams", sortParams(s.sortGroups, e.capacity))

	e.dev.WriteBuffer(e.aliveList, 0, s.sentinels)
	e.logger.Debugf("particles: %s bitonic passes=%d groups=%d", e.id, s.sortPasses, s.sortGroups)
	return s, nil
}

// BitonicPasses is the number of compare-exchange stages for n elements,
// log2(n)*(log2(n)+1)/2. n must be a power of two.
func BitonicPasses(n uint32) int {
	if n < 2 {
		return 0
	}
	l := bits.TrailingZeros32(n)
	return l * (l + 1) / 2
}

// bitonicStage decodes a stage number into the block size k and the
// compare distance j of the bitonic network.
func bitonicStage(stage uint32) (k, j uint32) {
	steps := uint32(1)
	rem := stage
	for rem >= steps {
		rem -= steps
		steps++
	}
	k = 1 << steps
	return k, k >> (rem + 1)
}

func (s *sortedEngine) Update(dt float32, view mgl32.Mat4) {
	s.update(dt, view, func() {
		s.dev.WriteBuffer(s.aliveList, 0, s.sentinels)
	})
	s.pendingSort = true
}

func (s *sortedEngine) Render(target gpu.RenderTarget, view, proj mgl32.Mat4) {
	if s.pendingSort {
		for i := 0; i < s.sortPasses; i++ {
			s.dev.Dispatch(s.sortProg, s.sortVars, [3]uint32{s.sortGroups, 1, 1})
		}
		s.pendingSort = false
	}
	s.draw(target, view, proj)
}

func (s *sortedEngine) Snapshot() (*Snapshot, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	data, err := s.dev.ReadBuffer(s.aliveList)
	if err != nil {
		return nil, err
	}
	snap.SortEntries = decodeSortEntries(data)
	snap.Alive = snap.Alive[:0]
	for _, e := range snap.SortEntries[:min(int(snap.AliveCount), len(snap.SortEntries))] {
		snap.Alive = append(snap.Alive, e.Index)
	}
	data, err = s.dev.ReadBuffer(s.sortIterationCounter)
	if err != nil {
		return nil, err
	}
	w := gpu.BytesToUint32s(data)
	snap.SortStage, snap.SortFinishedGroups = w[0], w[1]
	return snap, nil
}
