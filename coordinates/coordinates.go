// Package coordinates implements the pure, allocation-free coordinate
// algebra fsgrid needs to move between global cell coordinates, local cell
// coordinates, linear storage indices and owning-process positions. Every
// function here is total and side-effect free: all state is the small set
// of per-process constants established once at Grid construction (mirrors
// the teacher's preference, in partitions.PartitionLayout, for plain value
// structs carrying pre-derived sizing rather than recomputing from scratch
// on every access).
package coordinates

import "gonum.org/v1/gonum/mat"

// GlobalID is a cell's position in the global domain flattened to a single
// 64-bit integer: gx + Gx*gy + Gx*Gy*gz.
type GlobalID int64

// LocalID is a linear index into a process' storage buffer.
type LocalID int64

// Coordinates bundles the per-process constants derived at Grid
// construction time. A zero Halo is legal (no ghost layer); every
// dimension with Global[i] == 1 is "collapsed" and degenerates to a single
// storage slot regardless of Halo.
type Coordinates struct {
	Global      [3]int // global cell extent (Gx, Gy, Gz)
	ProcessGrid [3]int // process grid shape (Px, Py, Pz)
	TaskPos     [3]int // this process' position in the process grid
	Halo        int

	Periodic [3]bool

	LocalSize   [3]int // inner extent owned by this process (Lx, Ly, Lz)
	StorageSize [3]int // inner + 2*halo per non-collapsed axis (Sx, Sy, Sz)
	LocalStart  [3]int // global offset of this process' inner region

	Multipliers [3]int // storage strides: x fastest, z slowest; 0 on collapsed axes

	Spacing             [3]float64
	PhysicalGlobalStart [3]float64
}

// New derives a Coordinates value from the process grid shape and this
// process' position in it. It performs no I/O and never fails: callers
// (grid.Grid's constructor) are responsible for having already validated
// the decomposition via the decomposition package.
func New(global, processGrid, taskPos [3]int, halo int, periodic [3]bool, spacing, physicalGlobalStart [3]float64) *Coordinates {
	c := &Coordinates{
		Global:              global,
		ProcessGrid:         processGrid,
		TaskPos:             taskPos,
		Halo:                halo,
		Periodic:            periodic,
		Spacing:             spacing,
		PhysicalGlobalStart: physicalGlobalStart,
	}

	for i := 0; i < 3; i++ {
		c.LocalSize[i] = localSize(global[i], processGrid[i], taskPos[i])
		c.LocalStart[i] = localStart(global[i], processGrid[i], taskPos[i])
		if global[i] <= 1 {
			c.StorageSize[i] = 1
		} else {
			c.StorageSize[i] = c.LocalSize[i] + 2*halo
		}
	}

	c.Multipliers[0] = boolToInt(global[0] > 1) * 1
	c.Multipliers[1] = boolToInt(global[1] > 1) * c.StorageSize[0]
	c.Multipliers[2] = boolToInt(global[2] > 1) * c.StorageSize[0] * c.StorageSize[1]

	return c
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// localSize implements invariant 3: Li = floor(Gi/Pi) + (ti < Gi mod Pi ? 1 : 0).
func localSize(g, p, t int) int {
	q, r := g/p, g%p
	if t < r {
		return q + 1
	}
	return q
}

// localStart is the prefix sum of localSize over tasks 0..t-1 on this axis,
// computed directly rather than by summation.
func localStart(g, p, t int) int {
	q, r := g/p, g%p
	if t < r {
		return t * (q + 1)
	}
	return r*(q+1) + (t-r)*q
}

// LocalToGlobal maps a local cell coordinate to its global coordinate.
func (c *Coordinates) LocalToGlobal(x, y, z int) [3]int {
	return [3]int{c.LocalStart[0] + x, c.LocalStart[1] + y, c.LocalStart[2] + z}
}

// sentinel is the "does not exist on this process" triple returned by
// GlobalToLocal.
var sentinel = [3]int{-1, -1, -1}

// GlobalToLocal maps a global cell coordinate to this process' local
// coordinate space, or the sentinel (-1,-1,-1) if the cell is not owned by
// this process.
func (c *Coordinates) GlobalToLocal(gx, gy, gz int) [3]int {
	l := [3]int{gx - c.LocalStart[0], gy - c.LocalStart[1], gz - c.LocalStart[2]}
	for i := 0; i < 3; i++ {
		if l[i] < 0 || l[i] >= c.LocalSize[i] {
			return sentinel
		}
	}
	return l
}

// GlobalIDFromLocalCoordinates converts a local cell coordinate to its
// flattened global ID.
func (c *Coordinates) GlobalIDFromLocalCoordinates(x, y, z int) GlobalID {
	g := c.LocalToGlobal(x, y, z)
	return GlobalID(int64(g[0]) + int64(c.Global[0])*int64(g[1]) + int64(c.Global[0])*int64(c.Global[1])*int64(g[2]))
}

// LocalIDFromLocalCoordinates converts a local cell coordinate (which may
// reach into the halo) to a linear storage index.
func (c *Coordinates) LocalIDFromLocalCoordinates(x, y, z int) LocalID {
	coord := [3]int{x, y, z}
	var id int64
	for i := 0; i < 3; i++ {
		h := 0
		if c.Global[i] > 1 {
			h = c.Halo
		}
		offset := h + coord[i]
		if offset < 0 {
			offset = 0
		}
		id += int64(offset) * int64(c.Multipliers[i])
	}
	return LocalID(id)
}

// GlobalIDToGlobalCoord inverts the GlobalID flattening, x fastest.
func (c *Coordinates) GlobalIDToGlobalCoord(id GlobalID) [3]int {
	var cell [3]int
	stride := int64(1)
	for i := 0; i < 3; i++ {
		cell[i] = int((int64(id) / stride) % int64(c.Global[i]))
		stride *= int64(c.Global[i])
	}
	return cell
}

// GlobalIDToTaskPos inverts a GlobalID to the (tx,ty,tz) position of the
// process that owns it, applying the same unbalanced-remainder rule used to
// compute LocalSize/LocalStart so the two stay consistent.
func (c *Coordinates) GlobalIDToTaskPos(id GlobalID) [3]int {
	cell := c.GlobalIDToGlobalCoord(id)
	var pos [3]int
	for i := 0; i < 3; i++ {
		q, r := c.Global[i]/c.ProcessGrid[i], c.Global[i]%c.ProcessGrid[i]
		gi := cell[i]
		if gi < r*(q+1) {
			pos[i] = gi / (q + 1)
		} else {
			pos[i] = r + (gi-r*(q+1))/q
		}
	}
	return pos
}

// GetPhysicalCoords returns the physical-space position of a local cell,
// expressed as the affine map physicalGlobalStart + (localStart+local)*spacing.
// The map is a diagonal-matrix/vector transform, carried through
// gonum.org/v1/gonum/mat the way the teacher expresses its element metrics,
// rather than three ad hoc scalar multiplies.
func (c *Coordinates) GetPhysicalCoords(x, y, z int) [3]float64 {
	g := c.LocalToGlobal(x, y, z)
	coord := mat.NewVecDense(3, []float64{float64(g[0]), float64(g[1]), float64(g[2])})
	spacing := mat.NewDiagDense(3, []float64{c.Spacing[0], c.Spacing[1], c.Spacing[2]})

	var physical mat.VecDense
	physical.MulVec(spacing, coord)

	return [3]float64{
		c.PhysicalGlobalStart[0] + physical.AtVec(0),
		c.PhysicalGlobalStart[1] + physical.AtVec(1),
		c.PhysicalGlobalStart[2] + physical.AtVec(2),
	}
}

// PhysicalToFractionalGlobal inverts GetPhysicalCoords' affine map, without
// rounding to an integer cell.
func (c *Coordinates) PhysicalToFractionalGlobal(px, py, pz float64) [3]float64 {
	return [3]float64{
		(px - c.PhysicalGlobalStart[0]) / c.Spacing[0],
		(py - c.PhysicalGlobalStart[1]) / c.Spacing[1],
		(pz - c.PhysicalGlobalStart[2]) / c.Spacing[2],
	}
}

// PhysicalToGlobal inverts GetPhysicalCoords' affine map and truncates to
// the containing global cell coordinate.
func (c *Coordinates) PhysicalToGlobal(px, py, pz float64) [3]int {
	f := c.PhysicalToFractionalGlobal(px, py, pz)
	return [3]int{int(f[0]), int(f[1]), int(f[2])}
}

// CellIndicesAreWithinBounds reports whether a local cell coordinate
// (possibly reaching into the halo) is addressable at all: each component
// must lie in [-Halo, Li+Halo), except that a collapsed (single-cell)
// dimension only accepts coordinate 0.
func (c *Coordinates) CellIndicesAreWithinBounds(x, y, z int) bool {
	coord := [3]int{x, y, z}
	for i := 0; i < 3; i++ {
		if c.Global[i] <= 1 {
			if coord[i] != 0 {
				return false
			}
			continue
		}
		if coord[i] < -c.Halo || coord[i] >= c.LocalSize[i]+c.Halo {
			return false
		}
	}
	return true
}
