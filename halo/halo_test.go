package halo

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"

	"github.com/notargets/fsgrid/comm"
	"github.com/notargets/fsgrid/coordinates"
	"github.com/notargets/fsgrid/topology"
)

func putFloat(buf []byte, i int, v float64) {
	binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
}

func getFloat(buf []byte, i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
}

// TestExchangePeriodicChainFillsGhostsWithNeighbourInterior builds a
// 2-rank periodic chain along x, each owning 4 cells of an 8-cell global
// domain with a halo of 1, and checks that one Exchange round fills each
// rank's ghost cells with its neighbour's adjacent interior values.
func TestExchangePeriodicChainFillsGhostsWithNeighbourInterior(t *testing.T) {
	global := [3]int{8, 1, 1}
	procGrid := [3]int{2, 1, 1}
	periodic := [3]bool{true, false, false}
	halo := 1

	comms := comm.NewWorld(2)
	dims := procGrid
	if _, err := comms[0].CartCreate(dims, periodic); err != nil {
		t.Fatalf("CartCreate: %v", err)
	}
	if _, err := comms[1].CartCreate(dims, periodic); err != nil {
		t.Fatalf("CartCreate: %v", err)
	}

	taskPos := [][3]int{{0, 0, 0}, {1, 0, 0}}
	coordsByRank := make([]*coordinates.Coordinates, 2)
	indexToRank := make([][27]int, 2)
	for r := 0; r < 2; r++ {
		coordsByRank[r] = coordinates.New(global, procGrid, taskPos[r], halo, periodic, [3]float64{1, 1, 1}, [3]float64{})
		idx, err := topology.BuildIndexToRank(taskPos[r], procGrid, periodic, comms[r])
		if err != nil {
			t.Fatalf("BuildIndexToRank(rank %d): %v", r, err)
		}
		indexToRank[r] = idx
	}

	data := make([][]byte, 2)
	for r := 0; r < 2; r++ {
		c := coordsByRank[r]
		storageLen := c.StorageSize[0] * c.StorageSize[1] * c.StorageSize[2]
		buf := make([]byte, storageLen*8)
		for x := 0; x < c.LocalSize[0]; x++ {
			storageIdx := c.Halo + x
			putFloat(buf, storageIdx, float64(c.LocalStart[0]+x))
		}
		// Ghost cells start as sentinels so we can tell they were filled.
		putFloat(buf, 0, -999)
		putFloat(buf, c.StorageSize[0]-1, -999)
		data[r] = buf
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for r := 0; r < 2; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			send := BuildSendDescriptors(coordsByRank[r])
			recv := BuildRecvDescriptors(coordsByRank[r])
			errs[r] = Exchange(data[r], 8, coordsByRank[r].StorageSize, comms[r], indexToRank[r], send, recv)
		}()
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			t.Fatalf("Exchange(rank %d): %v", r, err)
		}
	}

	// Rank 0's left ghost (storage index 0) wraps periodically to rank 1's
	// rightmost interior cell (global x=7); its right ghost (storage index
	// 5) is rank 1's leftmost interior cell (global x=4).
	c0 := coordsByRank[0]
	if got := getFloat(data[0], 0); got != 7 {
		t.Fatalf("rank 0 left ghost = %v, want 7", got)
	}
	if got := getFloat(data[0], c0.StorageSize[0]-1); got != 4 {
		t.Fatalf("rank 0 right ghost = %v, want 4", got)
	}

	// Rank 1's left ghost is rank 0's rightmost interior cell (global
	// x=3); its right ghost wraps to rank 0's leftmost interior cell
	// (global x=0).
	c1 := coordsByRank[1]
	if got := getFloat(data[1], 0); got != 3 {
		t.Fatalf("rank 1 left ghost = %v, want 3", got)
	}
	if got := getFloat(data[1], c1.StorageSize[0]-1); got != 0 {
		t.Fatalf("rank 1 right ghost = %v, want 0", got)
	}
}

func TestBuildDescriptorsSkipCollapsedAxes(t *testing.T) {
	c := coordinates.New([3]int{8, 1, 8}, [3]int{2, 1, 2}, [3]int{0, 0, 0}, 1, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})
	send := BuildSendDescriptors(c)
	recv := BuildRecvDescriptors(c)

	for n := 0; n < 27; n++ {
		d := direction(n)
		if d[1] != 0 {
			if send[n] != nil || recv[n] != nil {
				t.Fatalf("slot %d crosses the collapsed y axis and should have no descriptor", n)
			}
		}
	}
	if send[center] != nil || recv[center] != nil {
		t.Fatalf("center slot should never have a descriptor")
	}
}
