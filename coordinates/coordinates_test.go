package coordinates

import "testing"

func uniform(g [3]int, p [3]int) []*Coordinates {
	var all []*Coordinates
	for tz := 0; tz < p[2]; tz++ {
		for ty := 0; ty < p[1]; ty++ {
			for tx := 0; tx < p[0]; tx++ {
				all = append(all, New(g, p, [3]int{tx, ty, tz}, 1, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{}))
			}
		}
	}
	return all
}

// TestLocalSizesCoverGlobalDomainExactly covers invariant 3: summing
// LocalSize across all tasks on an axis reproduces the global extent, with
// no overlap and no gap.
func TestLocalSizesCoverGlobalDomainExactly(t *testing.T) {
	g := [3]int{10, 7, 13}
	p := [3]int{2, 1, 3}
	all := uniform(g, p)

	for axis := 0; axis < 3; axis++ {
		seen := make([]bool, g[axis])
		for _, c := range all {
			// Only the tasks on one line along this axis partition it; the
			// others repeat the same slabs at other positions.
			if c.TaskPos[(axis+1)%3] != 0 || c.TaskPos[(axis+2)%3] != 0 {
				continue
			}
			for i := c.LocalStart[axis]; i < c.LocalStart[axis]+c.LocalSize[axis]; i++ {
				if seen[i] {
					t.Fatalf("axis %d: cell %d covered twice", axis, i)
				}
				seen[i] = true
			}
		}
		for i, ok := range seen {
			if !ok {
				t.Fatalf("axis %d: cell %d never covered", axis, i)
			}
		}
	}
}

func TestLocalGlobalRoundtrip(t *testing.T) {
	c := New([3]int{20, 20, 20}, [3]int{2, 2, 1}, [3]int{1, 0, 0}, 2, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})

	for lz := 0; lz < c.LocalSize[2]; lz++ {
		for ly := 0; ly < c.LocalSize[1]; ly++ {
			for lx := 0; lx < c.LocalSize[0]; lx++ {
				g := c.LocalToGlobal(lx, ly, lz)
				back := c.GlobalToLocal(g[0], g[1], g[2])
				if back != (([3]int{lx, ly, lz})) {
					t.Fatalf("roundtrip mismatch: local (%d,%d,%d) -> global %v -> local %v", lx, ly, lz, g, back)
				}
			}
		}
	}
}

func TestGlobalToLocalSentinelOutsideOwnedRegion(t *testing.T) {
	c := New([3]int{20, 20, 20}, [3]int{2, 2, 1}, [3]int{0, 0, 0}, 2, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})
	got := c.GlobalToLocal(15, 0, 0)
	if got != sentinel {
		t.Fatalf("expected sentinel for out-of-range cell, got %v", got)
	}
}

func TestGlobalIDFromLocalCoordinatesMatchesFlattening(t *testing.T) {
	c := New([3]int{8, 4, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 1, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})
	for z := 0; z < 2; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 8; x++ {
				want := GlobalID(x + 8*y + 8*4*z)
				if got := c.GlobalIDFromLocalCoordinates(x, y, z); got != want {
					t.Fatalf("GlobalIDFromLocalCoordinates(%d,%d,%d) = %d, want %d", x, y, z, got, want)
				}
			}
		}
	}
}

func TestGlobalIDToTaskPosConsistentWithLocalStart(t *testing.T) {
	g := [3]int{11, 9, 5}
	p := [3]int{3, 2, 1}
	all := uniform(g, p)

	for _, c := range all {
		for lz := 0; lz < c.LocalSize[2]; lz++ {
			for ly := 0; ly < c.LocalSize[1]; ly++ {
				for lx := 0; lx < c.LocalSize[0]; lx++ {
					id := c.GlobalIDFromLocalCoordinates(lx, ly, lz)
					pos := c.GlobalIDToTaskPos(id)
					if pos != c.TaskPos {
						t.Fatalf("cell owned by task %v resolved to task %v (id=%d)", c.TaskPos, pos, id)
					}
				}
			}
		}
	}
}

func TestLocalIDFromLocalCoordinatesHandlesHaloOffsets(t *testing.T) {
	c := New([3]int{10, 10, 10}, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 2, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})
	// Storage is 14^3 with halo 2. The first addressable ghost cell on x is
	// local x=-2, which maps to storage offset 0 on that axis; y=0 and z=0
	// sit at storage offset 2 on theirs, so the ID is 2*14 + 2*14*14 = 420.
	id := c.LocalIDFromLocalCoordinates(-2, 0, 0)
	if id != 420 {
		t.Fatalf("expected local ID 420 for the outermost ghost cell on x, got %d", id)
	}
	// Negative overshoot clamps to offset 0 on x rather than going negative.
	clamped := c.LocalIDFromLocalCoordinates(-5, 0, 0)
	if clamped != 420 {
		t.Fatalf("expected clamped local ID 420, got %d", clamped)
	}
}

func TestCollapsedAxisLocalIDIgnoresCoordinate(t *testing.T) {
	c := New([3]int{10, 1, 10}, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 2, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})
	if c.Multipliers[1] != 0 {
		t.Fatalf("collapsed axis should have a zero stride, got %d", c.Multipliers[1])
	}
	a := c.LocalIDFromLocalCoordinates(3, 0, 4)
	b := c.LocalIDFromLocalCoordinates(3, 1, 4)
	if a != b {
		t.Fatalf("expected the collapsed-axis coordinate to be ignored: %d != %d", a, b)
	}
}

func TestGetPhysicalCoordsAffineMapAndInverse(t *testing.T) {
	c := New([3]int{10, 10, 10}, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 1, [3]bool{}, [3]float64{0.5, 0.5, 0.5}, [3]float64{-1, -1, -1})

	p := c.GetPhysicalCoords(4, 4, 4)
	want := [3]float64{-1 + 4*0.5, -1 + 4*0.5, -1 + 4*0.5}
	if p != want {
		t.Fatalf("GetPhysicalCoords(4,4,4) = %v, want %v", p, want)
	}

	g := c.PhysicalToGlobal(p[0], p[1], p[2])
	if g != [3]int{4, 4, 4} {
		t.Fatalf("PhysicalToGlobal inverse mismatch: got %v", g)
	}
}

func TestCellIndicesAreWithinBoundsRespectsHaloAndCollapsedAxes(t *testing.T) {
	c := New([3]int{10, 1, 10}, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 2, [3]bool{}, [3]float64{1, 1, 1}, [3]float64{})

	if !c.CellIndicesAreWithinBounds(-2, 0, 9) {
		t.Fatalf("expected outermost ghost cell to be in bounds")
	}
	if c.CellIndicesAreWithinBounds(-3, 0, 9) {
		t.Fatalf("expected one cell beyond the halo to be out of bounds")
	}
	if c.CellIndicesAreWithinBounds(0, 1, 0) {
		t.Fatalf("expected nonzero coordinate on a collapsed axis to be out of bounds")
	}
}
