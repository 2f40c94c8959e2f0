// Package grid assembles bitmask, decomposition, coordinates, stencil,
// topology, halo and comm into the single façade applications use: Grid,
// a distributed, non-load-balancing 3D Cartesian cell grid.
package grid

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/notargets/fsgrid/comm"
	"github.com/notargets/fsgrid/coordinates"
	"github.com/notargets/fsgrid/decomposition"
	"github.com/notargets/fsgrid/halo"
	"github.com/notargets/fsgrid/stencil"
	"github.com/notargets/fsgrid/topology"
)

// Config bundles a Grid's construction parameters, mirroring the teacher's
// preference (builder.Config, runner.Config) for one named-field struct
// over a long positional constructor.
type Config struct {
	Global   [3]int // global cell extent (Gx, Gy, Gz)
	NumProcs int    // number of active field-solving ranks
	Halo     int    // ghost layer width
	Periodic [3]bool
	Override [3]int // explicit (Px,Py,Pz); zero value means "auto-decompose"

	PhysicalGridSpacing [3]float64
	PhysicalGlobalStart [3]float64

	Communicator comm.Communicator // the parent communicator; may have more ranks than NumProcs
}

// CommunicatorFailure wraps an error returned by the underlying
// communicator during Grid construction or ghost exchange.
type CommunicatorFailure struct {
	Op  string
	Err error
}

func (e *CommunicatorFailure) Error() string {
	return fmt.Sprintf("grid: communicator operation %q failed: %v", e.Op, e.Err)
}
func (e *CommunicatorFailure) Unwrap() error { return e.Err }

// GhostExchangeFailure wraps an error from one round of UpdateGhostCells.
type GhostExchangeFailure struct {
	Err error
}

func (e *GhostExchangeFailure) Error() string {
	return fmt.Sprintf("grid: ghost cell exchange failed: %v", e.Err)
}
func (e *GhostExchangeFailure) Unwrap() error { return e.Err }

// ErrPassive is the distinguished non-success status AllReduceFloat64
// returns on a passive Grid: send is copied straight to the result, but the
// caller can tell this rank did not actually participate in the reduction.
var ErrPassive = fmt.Errorf("grid: rank did not participate (passive)")

// OutOfBoundsAccess reports a local cell coordinate outside the addressable
// range (including the halo), for callers of GetChecked that want an error
// rather than Get's fail-soft nil.
type OutOfBoundsAccess struct {
	X, Y, Z int
}

func (e *OutOfBoundsAccess) Error() string {
	return fmt.Sprintf("grid: cell (%d,%d,%d) is out of bounds", e.X, e.Y, e.Z)
}

// Grid is a distributed, non-load-balancing 3D Cartesian cell grid holding
// one T per cell, plus a halo of ghost cells mirroring neighbouring
// processes' boundary data. A Grid built for a rank >= cfg.NumProcs is
// "passive": it holds no data and every operation on it is a no-op,
// mirroring the contract that extra ranks beyond the field-solving set may
// still call a Grid's methods without special-casing themselves.
type Grid[T any] struct {
	passive bool

	comm        comm.Communicator
	rank        int
	coordinates *coordinates.Coordinates
	stencil     stencil.Constants

	indexToRank [27]int
	rankToIndex []int

	sendDescriptors [27]*halo.Descriptor
	recvDescriptors [27]*halo.Descriptor

	data []T
}

// New constructs a Grid from cfg. Ranks at or beyond cfg.NumProcs are
// given a passive Grid and excluded from the active communicator group via
// Split, the same "color by participation" idiom
// original_source/src/grid.hpp uses to build its Cartesian sub-communicator
// out of a larger parent one.
func New[T any](cfg Config) (*Grid[T], error) {
	procGrid, err := decomposition.Decompose(decomposition.Options{
		Global:   cfg.Global,
		NumProcs: cfg.NumProcs,
		Halo:     cfg.Halo,
		Override: cfg.Override,
	})
	if err != nil {
		return nil, err
	}

	parentRank := cfg.Communicator.Rank()
	color := 0
	if parentRank >= cfg.NumProcs {
		color = -1
	}
	sub, err := cfg.Communicator.Split(color, parentRank)
	if err != nil {
		return nil, &CommunicatorFailure{Op: "Split", Err: err}
	}
	if sub == nil {
		return &Grid[T]{passive: true, rank: -1}, nil
	}

	cart, err := sub.CartCreate(procGrid, cfg.Periodic)
	if err != nil {
		return nil, &CommunicatorFailure{Op: "CartCreate", Err: err}
	}
	rank := cart.Rank()

	taskPos, err := cart.CartCoords(rank)
	if err != nil {
		return nil, &CommunicatorFailure{Op: "CartCoords", Err: err}
	}

	coords := coordinates.New(cfg.Global, procGrid, taskPos, cfg.Halo, cfg.Periodic, cfg.PhysicalGridSpacing, cfg.PhysicalGlobalStart)

	indexToRank, err := topology.BuildIndexToRank(taskPos, procGrid, cfg.Periodic, cart)
	if err != nil {
		return nil, &CommunicatorFailure{Op: "BuildIndexToRank", Err: err}
	}
	rankToIndex := topology.BuildRankToIndex(indexToRank, cfg.NumProcs)
	shiftMask := topology.BuildNeighbourBitMask(rank, indexToRank)
	fallbackMask := topology.BuildNullNeighbourBitMask(indexToRank)

	constants := stencil.NewConstants(coords.LocalSize, coords.Multipliers, cfg.Halo, shiftMask, fallbackMask)

	storageLen := coords.StorageSize[0] * coords.StorageSize[1] * coords.StorageSize[2]

	return &Grid[T]{
		comm:            cart,
		rank:            rank,
		coordinates:     coords,
		stencil:         constants,
		indexToRank:     indexToRank,
		rankToIndex:     rankToIndex,
		sendDescriptors: halo.BuildSendDescriptors(coords),
		recvDescriptors: halo.BuildRecvDescriptors(coords),
		data:            make([]T, storageLen),
	}, nil
}

// Passive reports whether this Grid was built for a rank beyond the active
// field-solving set: it holds no data and every other method is a no-op.
func (g *Grid[T]) Passive() bool { return g.passive }

// Get returns a pointer to the cell at local coordinate (x,y,z), which may
// reach into the halo. It returns nil for a coordinate outside the
// addressable range (including on a passive Grid), matching the
// fail-soft contract of a steady-state accessor rather than erroring. On a
// periodic axis where this process owns the only slab (Pi=1), a coordinate
// landing on that self-wrapped neighbour resolves to the real interior
// cell rather than its halo copy, so a write through the returned pointer
// is the authoritative update.
func (g *Grid[T]) Get(x, y, z int) *T {
	if g.passive || !g.coordinates.CellIndicesAreWithinBounds(x, y, z) {
		return nil
	}
	x, y, z = g.resolveSelfWrap(x, y, z)
	id := g.coordinates.LocalIDFromLocalCoordinates(x, y, z)
	if int(id) < 0 || int(id) >= len(g.data) {
		return nil
	}
	return &g.data[id]
}

// resolveSelfWrap redirects (x,y,z) to the in-range coordinate it actually
// names whenever it lands on a neighbour slot that periodic self-wrap maps
// back to this same process (stencil.Constants.Shift), leaving every other
// coordinate, including a genuine halo cell at an open boundary, untouched.
func (g *Grid[T]) resolveSelfWrap(x, y, z int) (int, int, int) {
	s := stencil.New([3]int{x, y, z}, g.stencil)
	locality := s.LocalityMultipliers([3]int{x, y, z})
	ni := s.NeighbourIndex(locality)
	if g.stencil.Shift.Bit(int(ni)) == 0 {
		return x, y, z
	}
	shift := s.ShiftOffsets(locality)
	return x + shift[0], y + shift[1], z + shift[2]
}

// GetChecked is Get's error-returning counterpart: the same fail-soft
// contract, but an out-of-range coordinate yields an *OutOfBoundsAccess
// instead of a silent nil, for callers that want to distinguish "no such
// cell" from "cell holds the zero value".
func (g *Grid[T]) GetChecked(x, y, z int) (*T, error) {
	p := g.Get(x, y, z)
	if p == nil {
		return nil, &OutOfBoundsAccess{X: x, Y: y, Z: z}
	}
	return p, nil
}

// GetByLocalID returns a pointer to the cell at raw storage index id, or
// nil if id falls outside the storage buffer. Intended for callers already
// holding a coordinates.LocalID, e.g. one produced by
// stencil.FsStencil.CalculateIndex.
func (g *Grid[T]) GetByLocalID(id coordinates.LocalID) *T {
	if g.passive || id < 0 || int(id) >= len(g.data) {
		return nil
	}
	return &g.data[id]
}

// GetByGlobalID returns a pointer to the cell owning globalID if this
// process owns it, or nil otherwise.
func (g *Grid[T]) GetByGlobalID(id coordinates.GlobalID) *T {
	if g.passive {
		return nil
	}
	coord := g.coordinates.GlobalIDToGlobalCoord(id)
	local := g.coordinates.GlobalToLocal(coord[0], coord[1], coord[2])
	if local[0] < 0 {
		return nil
	}
	return g.Get(local[0], local[1], local[2])
}

// MakeStencil returns an FsStencil anchored at local coordinate (x,y,z),
// ready to resolve neighbour offsets through Grid.Data.
func (g *Grid[T]) MakeStencil(x, y, z int) stencil.FsStencil {
	if g.passive {
		return stencil.FsStencil{}
	}
	return stencil.New([3]int{x, y, z}, g.stencil)
}

// Data returns the Grid's backing storage buffer, indexed by
// coordinates.LocalID (as produced by MakeStencil's FsStencil.CalculateIndex
// or by Coordinates.LocalIDFromLocalCoordinates).
func (g *Grid[T]) Data() []T { return g.data }

// UpdateGhostCells performs one round of the 27-way non-blocking ghost
// cell exchange, filling every neighbour's worth of this Grid's halo from
// the corresponding region of its neighbours' interiors.
func (g *Grid[T]) UpdateGhostCells() error {
	if g.passive {
		return nil
	}
	elemSize := int(unsafe.Sizeof(*new(T)))
	view := unsafe.Slice((*byte)(unsafe.Pointer(&g.data[0])), len(g.data)*elemSize)
	if err := halo.Exchange(view, elemSize, g.coordinates.StorageSize, g.comm, g.indexToRank, g.sendDescriptors, g.recvDescriptors); err != nil {
		return &GhostExchangeFailure{Err: err}
	}
	return nil
}

// AllReduceFloat64 combines send across every active rank with op and
// returns the combined result. Intended for global scalar/vector
// diagnostics (e.g. summing a field quantity across the domain), not for
// per-cell data, which stays local to each process by design.
func (g *Grid[T]) AllReduceFloat64(send []float64, op comm.ReduceOp) ([]float64, error) {
	if g.passive {
		return append([]float64(nil), send...), ErrPassive
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&send[0])), len(send)*8)
	recvRaw := make([]byte, len(raw))
	if err := g.comm.Allreduce(raw, recvRaw, len(send), op); err != nil {
		return nil, &CommunicatorFailure{Op: "Allreduce", Err: err}
	}
	recv := unsafe.Slice((*float64)(unsafe.Pointer(&recvRaw[0])), len(send))
	return append([]float64(nil), recv...), nil
}

// CellBody is the per-cell callback ParallelFor invokes: x,y,z are local
// coordinates and s is a stencil anchored there, ready for neighbour
// lookups against Data().
type CellBody func(x, y, z int, s stencil.FsStencil)

// ParallelFor iterates every interior cell of this Grid, distributing
// whole Z-planes across a bounded worker pool sized to runtime.NumCPU(),
// mirroring the chunked sharding idiom the teacher's parallelism helpers
// use for partition-local element ranges.
func (g *Grid[T]) ParallelFor(body CellBody) {
	if g.passive {
		return
	}
	workers := runtime.NumCPU()
	lz := g.coordinates.LocalSize[2]
	if workers > lz {
		workers = lz
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	planes := make(chan int, lz)
	for z := 0; z < lz; z++ {
		planes <- z
	}
	close(planes)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range planes {
				for y := 0; y < g.coordinates.LocalSize[1]; y++ {
					for x := 0; x < g.coordinates.LocalSize[0]; x++ {
						body(x, y, z, g.MakeStencil(x, y, z))
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Rank returns this Grid's rank within its active communicator, or -1 for
// a passive Grid.
func (g *Grid[T]) Rank() int { return g.rank }

// LocalSize returns the cell extent this Grid owns on this process, the
// zero extent (0,0,0) for a passive Grid per the passive-rank contract.
func (g *Grid[T]) LocalSize() [3]int {
	if g.passive {
		return [3]int{}
	}
	return g.coordinates.LocalSize
}

// GlobalSize returns the global cell extent of the whole domain.
func (g *Grid[T]) GlobalSize() [3]int {
	if g.passive {
		return [3]int{}
	}
	return g.coordinates.Global
}

// LocalStart returns the global coordinate of this process' first owned
// cell.
func (g *Grid[T]) LocalStart() [3]int {
	if g.passive {
		return [3]int{}
	}
	return g.coordinates.LocalStart
}

// ProcessGrid returns the (Px,Py,Pz) process grid shape.
func (g *Grid[T]) ProcessGrid() [3]int {
	if g.passive {
		return [3]int{}
	}
	return g.coordinates.ProcessGrid
}

// TaskPosition returns this process' position within the process grid.
func (g *Grid[T]) TaskPosition() [3]int {
	if g.passive {
		return [3]int{}
	}
	return g.coordinates.TaskPos
}

// Periodic returns which axes are treated as periodic.
func (g *Grid[T]) Periodic() [3]bool {
	if g.passive {
		return [3]bool{}
	}
	return g.coordinates.Periodic
}

// NeighbourSlot returns the canonical 27-entry neighbour slot (center 13)
// that rank occupies relative to this process, or -1 if rank is not one of
// this process' neighbours.
func (g *Grid[T]) NeighbourSlot(rank int) int {
	if g.passive || rank < 0 || rank >= len(g.rankToIndex) {
		return -1
	}
	return g.rankToIndex[rank]
}

// Coordinates exposes the underlying coordinates.Coordinates value for
// callers needing the full global/local/physical coordinate algebra. Returns
// nil for a passive Grid.
func (g *Grid[T]) Coordinates() *coordinates.Coordinates { return g.coordinates }
