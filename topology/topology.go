// Package topology builds the per-rank neighbour tables fsgrid's halo
// exchange and stencil accessor are built from: which rank sits at each of
// the 27 canonical neighbour slots, the inverse rank-to-slot lookup, and
// the two bit masks (which slots wrap periodically onto self, which slots
// have no neighbour at all) stencil.Constants needs.
package topology

import (
	"github.com/notargets/fsgrid/bitmask"
	"github.com/notargets/fsgrid/comm"
)

// center is the canonical neighbour slot for (0,0,0).
const center = 13

// absentRank marks a neighbour slot with no process behind it: an
// out-of-range position on a non-periodic axis.
const absentRank = -1

// BuildIndexToRank computes, for each of the 27 canonical neighbour slots
// (center at index 13, slot = 13 + 9*dx + 3*dy + dz), the rank of the
// process at that offset from taskPos. A slot whose offset position would
// fall outside numTasksPerDim on a non-periodic axis gets absentRank.
func BuildIndexToRank(taskPos, numTasksPerDim [3]int, periodic [3]bool, c comm.Communicator) ([27]int, error) {
	var indexToRank [27]int
	n := 0
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				pos, ok := neighbourPosition(taskPos, numTasksPerDim, periodic, [3]int{dx, dy, dz})
				if !ok {
					indexToRank[n] = absentRank
					n++
					continue
				}
				rank, err := c.CartRank(pos)
				if err != nil {
					return indexToRank, err
				}
				indexToRank[n] = rank
				n++
			}
		}
	}
	return indexToRank, nil
}

// neighbourPosition applies delta to taskPos on each axis, wrapping modulo
// numTasksPerDim on periodic axes. ok is false if the resulting position is
// out of range on a non-periodic axis.
func neighbourPosition(taskPos, numTasksPerDim [3]int, periodic [3]bool, delta [3]int) ([3]int, bool) {
	var pos [3]int
	for i := 0; i < 3; i++ {
		p := taskPos[i] + delta[i]
		if periodic[i] {
			p = ((p % numTasksPerDim[i]) + numTasksPerDim[i]) % numTasksPerDim[i]
		} else if p < 0 || p >= numTasksPerDim[i] {
			return pos, false
		}
		pos[i] = p
	}
	return pos, true
}

// BuildRankToIndex inverts indexToRank: for each rank in [0,numRanks), the
// neighbour slot it occupies, or absentRank if it is not a neighbour of
// this process at all. The historic off-by-one here was writing a
// separately tracked counter instead of the loop's own slot index; this
// writes the slot index directly as it is produced, so the two tables can
// never drift apart.
func BuildRankToIndex(indexToRank [27]int, numRanks int) []int {
	rankToIndex := make([]int, numRanks)
	for i := range rankToIndex {
		rankToIndex[i] = absentRank
	}
	for slot, rank := range indexToRank {
		if rank >= 0 && rank < numRanks {
			rankToIndex[rank] = slot
		}
	}
	return rankToIndex
}

// BuildNeighbourBitMask sets bit i for every neighbour slot i whose
// neighbour rank equals this process' own rank: a periodic domain wrapping
// back onto itself. Slot 13 (self) is always left clear. Stencil accesses
// through one of these slots must apply a periodic shift.
func BuildNeighbourBitMask(rank int, indexToRank [27]int) bitmask.Mask32 {
	var m bitmask.Mask32
	for slot, r := range indexToRank {
		if slot == center {
			continue
		}
		if r == rank {
			m = m.Set(slot)
		}
	}
	return m
}

// BuildNullNeighbourBitMask sets bit i for every neighbour slot with no
// process behind it at all (absentRank). Slot 13 (self) is always left
// clear. Stencil accesses through one of these slots fall back to the
// stencil's center cell.
func BuildNullNeighbourBitMask(indexToRank [27]int) bitmask.Mask32 {
	var m bitmask.Mask32
	for slot, r := range indexToRank {
		if slot == center {
			continue
		}
		if r == absentRank {
			m = m.Set(slot)
		}
	}
	return m
}

// TaskPosToTask enumerates the rank at every position of a numTasksPerDim
// process grid, ordered x-major then y then z, for diagnostics and for
// building the grid-wide rank table a passive (non field-solving) process
// needs to address an active one.
func TaskPosToTask(numTasksPerDim [3]int, c comm.Communicator) ([]int, error) {
	tasks := make([]int, numTasksPerDim[0]*numTasksPerDim[1]*numTasksPerDim[2])
	i := 0
	for x := 0; x < numTasksPerDim[0]; x++ {
		for y := 0; y < numTasksPerDim[1]; y++ {
			for z := 0; z < numTasksPerDim[2]; z++ {
				r, err := c.CartRank([3]int{x, y, z})
				if err != nil {
					return nil, err
				}
				tasks[i] = r
				i++
			}
		}
	}
	return tasks, nil
}
