// Package decomposition chooses how a global 3D cell domain is sliced into
// a 3D grid of worker processes. It mirrors the teacher's
// partitions.PartitionManager in spirit (target sizes and a tunable knob
// set driving an automatic layout choice) but solves a different problem:
// instead of packing a mesh's elements into OCCA-sized partitions, it
// factorizes a worker count into a Cartesian process grid that minimizes
// communication surface area.
package decomposition

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Extent is a 3D integer extent (cells, ranks, whatever the caller uses it
// for — this package uses it both for the global cell count and for a
// process-grid shape).
type Extent [3]int

// Options bundles the inputs to Decompose, following the teacher's
// preference (builder.Config, runner.Config) for a single named-field
// struct over a long positional parameter list.
type Options struct {
	Global   Extent // global cell extent (Gx, Gy, Gz)
	NumProcs int    // number of worker processes, N
	Halo     int    // halo width, H
	Override Extent // user-supplied (Dx,Dy,Dz); (0,0,0) means "auto"
}

// BadDecomposition reports that a requested or candidate process grid does
// not divide the worker count, or that no valid factorization exists.
type BadDecomposition struct {
	NumProcs int
	Override Extent
	Reason   string
}

func (e *BadDecomposition) Error() string {
	if e.Override != (Extent{}) {
		return fmt.Sprintf("decomposition: override %v invalid for %d procs: %s", e.Override, e.NumProcs, e.Reason)
	}
	return fmt.Sprintf("decomposition: no valid factorization of %d procs: %s", e.NumProcs, e.Reason)
}

// DomainTooSmall reports that a candidate or override decomposition would
// leave some process with zero inner cells, or with fewer cells than the
// halo width in a dimension larger than the halo.
type DomainTooSmall struct {
	Global Extent
	P      Extent
	Dim    int
	Local  int
	Halo   int
}

func (e *DomainTooSmall) Error() string {
	return fmt.Sprintf("decomposition: global %v over process grid %v gives local size %d on axis %d (halo %d)",
		e.Global, e.P, e.Local, e.Dim, e.Halo)
}

// Candidate is one scored factorization, returned by Candidates for
// diagnostics. Only admissible factorizations become Candidates; rejected
// ones are not listed.
type Candidate struct {
	P     Extent
	Score float64
}

// Decompose picks a process grid P with Px*Py*Pz = opts.NumProcs.
//
// If opts.Override is non-zero it is validated and returned as-is.
// Otherwise every factorization of NumProcs is scored by a surface-area
// proxy and the lowest-scoring valid one wins, with ties broken by how
// closely the process grid's axis ordering follows the global extent's
// axis ordering, and finally by lexicographic order.
func Decompose(opts Options) (Extent, error) {
	if opts.Override != (Extent{}) {
		return validateOverride(opts)
	}

	candidates, err := Candidates(opts)
	if err != nil {
		return Extent{}, err
	}
	if len(candidates) == 0 {
		return Extent{}, &BadDecomposition{NumProcs: opts.NumProcs, Reason: "no factorization satisfies per-axis minimum size"}
	}
	return candidates[0].P, nil
}

// Candidates enumerates every admissible factorization of opts.NumProcs,
// scored and sorted best-first. It never returns an override: that path
// short-circuits in Decompose. Exposed for testability and diagnostics,
// mirroring PartitionManager's exposed tuning knobs in the teacher.
func Candidates(opts Options) ([]Candidate, error) {
	if opts.NumProcs <= 0 {
		return nil, &BadDecomposition{NumProcs: opts.NumProcs, Reason: "process count must be positive"}
	}

	var out []Candidate
	n := opts.NumProcs
	for px := 1; px <= n; px++ {
		if n%px != 0 {
			continue
		}
		rem := n / px
		for py := 1; py <= rem; py++ {
			if rem%py != 0 {
				continue
			}
			pz := rem / py
			p := Extent{px, py, pz}
			if !admissible(opts, p) {
				continue
			}
			out = append(out, Candidate{P: p, Score: surfaceScore(opts.Global, p)})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		oi, oj := orderingDistance(opts.Global, out[i].P), orderingDistance(opts.Global, out[j].P)
		if oi != oj {
			return oi < oj
		}
		return lexLess(out[i].P, out[j].P)
	})
	return out, nil
}

func validateOverride(opts Options) (Extent, error) {
	d := opts.Override
	if d[0]*d[1]*d[2] != opts.NumProcs {
		return Extent{}, &BadDecomposition{NumProcs: opts.NumProcs, Override: d, Reason: "product does not equal process count"}
	}
	for i := 0; i < 3; i++ {
		if opts.Global[i] == 1 && d[i] != 1 {
			return Extent{}, &BadDecomposition{NumProcs: opts.NumProcs, Override: d, Reason: fmt.Sprintf("axis %d has global size 1 and must have P=1", i)}
		}
	}
	if err := checkMinimumSizes(opts, d); err != nil {
		return Extent{}, err
	}
	return d, nil
}

// admissible applies invariant 2 (Li >= 1, and Li >= H whenever Gi > H) and
// the collapsed-dimension rule (Gi=1 forces Pi=1).
func admissible(opts Options, p Extent) bool {
	for i := 0; i < 3; i++ {
		if opts.Global[i] == 1 && p[i] != 1 {
			return false
		}
		minLocal := opts.Global[i] / p[i]
		if minLocal < 1 {
			return false
		}
		if opts.Global[i] > opts.Halo && minLocal < opts.Halo {
			return false
		}
	}
	return true
}

func checkMinimumSizes(opts Options, p Extent) error {
	for i := 0; i < 3; i++ {
		minLocal := opts.Global[i] / p[i]
		if minLocal < 1 || (opts.Global[i] > opts.Halo && minLocal < opts.Halo) {
			return &DomainTooSmall{Global: opts.Global, P: p, Dim: i, Local: minLocal, Halo: opts.Halo}
		}
	}
	return nil
}

// surfaceScore computes Ly*Lz*Px + Lx*Lz*Py + Lx*Ly*Pz using the
// representative (floating point) local extent L = G/P, expressed as a
// small vector reduction over gonum rather than hand-rolled scalar algebra
// — the same "few 3-vectors, real math library" idiom the teacher uses for
// its element metrics, just scaled down to three components.
func surfaceScore(g, p Extent) float64 {
	l := mat.NewVecDense(3, []float64{
		float64(g[0]) / float64(p[0]),
		float64(g[1]) / float64(p[1]),
		float64(g[2]) / float64(p[2]),
	})
	px := mat.NewVecDense(3, []float64{float64(p[0]), float64(p[1]), float64(p[2])})

	return l.AtVec(1)*l.AtVec(2)*px.AtVec(0) +
		l.AtVec(0)*l.AtVec(2)*px.AtVec(1) +
		l.AtVec(0)*l.AtVec(1)*px.AtVec(2)
}

// orderingDistance penalizes process grids whose axis ordering disagrees
// with the global extent's axis ordering: the spec's tie-break prefers
// decompositions "closer to Gx >= Gy >= Gz ordering of strides", i.e. the
// largest global axis should get the largest (or equal) process count.
func orderingDistance(g, p Extent) int {
	gRank := rankDesc(g)
	pRank := rankDesc(Extent{p[0], p[1], p[2]})
	dist := 0
	for i := 0; i < 3; i++ {
		d := gRank[i] - pRank[i]
		if d < 0 {
			d = -d
		}
		dist += d
	}
	return dist
}

// rankDesc returns, for each axis, its 0-based rank when the three values
// are sorted descending (ties broken by axis index), e.g. {4,2,2} -> {0,1,2}.
func rankDesc(e Extent) [3]int {
	idx := [3]int{0, 1, 2}
	sort.SliceStable(idx[:], func(i, j int) bool {
		if e[idx[i]] != e[idx[j]] {
			return e[idx[i]] > e[idx[j]]
		}
		return idx[i] < idx[j]
	})
	var rank [3]int
	for r, axis := range idx {
		rank[axis] = r
	}
	return rank
}

func lexLess(a, b Extent) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
