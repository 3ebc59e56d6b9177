package particles

import (
	"fmt"

	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
)

// Snapshot is a host copy of an engine's device state.
type Snapshot struct {
	Capacity  uint32
	Particles []Particle

	// DeadList holds the free slots, DeadList[:DeadCount] being the valid part.
	DeadList  []uint32
	DeadCount uint32

	// Alive is the alive list up to AliveCount, in draw order.
	Alive      []uint32
	AliveCount uint32
	DrawArgs   gpu.IndirectArgs

	// Sorted engines only: the full alive list including sentinels, and the
	// bitonic iteration counter.
	SortEntries        []SortEntry
	SortStage          uint32
	SortFinishedGroups uint32
}

// LiveSlots returns the slots whose particle still has life left.
func (s *Snapshot) LiveSlots() []uint32 {
	var out []uint32
	for i, p := range s.Particles {
		if p.Life > 0 {
			out = append(out, uint32(i))
		}
	}
	return out
}

// FreeSlots returns the valid part of the dead list.
func (s *Snapshot) FreeSlots() []uint32 {
	return s.DeadList[:min(int(s.DeadCount), len(s.DeadList))]
}

func (e *engineBase) readWords(b gpu.Buffer) ([]uint32, error) {
	data, err := e.dev.ReadBuffer(b)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.Label(), err)
	}
	return gpu.BytesToUint32s(data), nil
}

func (e *engineBase) snapshot() (*Snapshot, error) {
	data, err := e.dev.ReadBuffer(e.pool)
	if err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	snap := &Snapshot{Capacity: e.capacity, Particles: DecodeParticles(data)}

	if snap.DeadList, err = e.readWords(e.deadList); err != nil {
		return nil, err
	}
	counter, err := e.readWords(e.deadListCounter)
	if err != nil {
		return nil, err
	}
	snap.DeadCount = counter[0]

	args, err := e.readWords(e.drawArgs)
	if err != nil {
		return nil, err
	}
	snap.DrawArgs = gpu.IndirectArgs{
		VertexCountPerInstance: args[0],
		InstanceCount:          args[1],
		StartVertex:            args[2],
		StartInstance:          args[3],
	}
	snap.AliveCount = args[1]

	if !e.desc.Sorted {
		alive, err := e.readWords(e.aliveList)
		if err != nil {
			return nil, err
		}
		snap.Alive = alive[:min(int(snap.AliveCount), len(alive))]
	}
	return snap, nil
}
