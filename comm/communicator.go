// Package comm defines the communicator abstraction fsgrid's topology and
// halo-exchange layers are built against, and ships one goroutine/channel
// backed implementation of it. The interface itself is modeled on the
// subset of MPI semantics fsgrid actually needs (rank/size queries,
// Cartesian topology, non-blocking point-to-point transfer, all-reduce),
// grounded on the request/response shape of a classic Go MPI-like binding.
// No implementation here talks to a real MPI library: doing so needs cgo
// and a system MPI install, which no repo in the corpus links against
// without one already present on the build host.
package comm

import "fmt"

// ReduceOp selects the reduction applied by Allreduce.
type ReduceOp int

const (
	OpSum ReduceOp = iota
	OpMax
	OpMin
	OpProd
)

// Handle identifies a pending non-blocking Send or Recv. A Handle is valid
// for exactly one call to Wait.
type Handle struct {
	done chan error
}

// Wait blocks until the operation h refers to has completed, returning any
// error the operation produced.
func (h Handle) Wait() error {
	return <-h.done
}

// Communicator is the subset of MPI-like functionality fsgrid needs: rank
// and size queries, Cartesian topology construction, non-blocking
// point-to-point transfer of raw bytes, and a blocking all-reduce.
// Implementations may be swapped without changing any caller in
// topology, halo or grid.
type Communicator interface {
	// Rank returns this process' rank within the communicator.
	Rank() int
	// Size returns the number of ranks in the communicator.
	Size() int

	// CartCreate reshapes the communicator into a 3D Cartesian topology of
	// the given dimensions, returning a communicator whose CartCoords and
	// CartRank are valid. dims must multiply to Size().
	CartCreate(dims [3]int, periodic [3]bool) (Communicator, error)
	// CartCoords returns the Cartesian coordinates of the given rank.
	CartCoords(rank int) ([3]int, error)
	// CartRank returns the rank at the given Cartesian coordinates.
	CartRank(coords [3]int) (int, error)

	// Split partitions the communicator by color, ordering the resulting
	// group by key. A negative color excludes the calling rank, which gets
	// back a nil Communicator.
	Split(color, key int) (Communicator, error)

	// ISend starts a non-blocking send of data to dest tagged with tag. The
	// returned Handle's Wait blocks until the message has been handed to the
	// transport (for LocalCommunicator: queued on its channel); it does not
	// wait for the peer to receive it.
	ISend(dest, tag int, data []byte) (Handle, error)
	// IRecv starts a non-blocking receive from source tagged with tag into
	// buf. The returned Handle's Wait blocks until buf has been filled.
	IRecv(source, tag int, buf []byte) (Handle, error)

	// Allreduce combines send across every rank with op and writes the
	// result to recv on every rank. send and recv are treated as count
	// little-endian float64 elements, matching the scalar/vector field data
	// fsgrid reduces over.
	Allreduce(send, recv []byte, count int, op ReduceOp) error

	// Free releases any resources held by the communicator.
	Free()
}

// errRankOutOfRange is returned by CartCoords for an unknown rank.
func errRankOutOfRange(rank int) error {
	return fmt.Errorf("comm: rank %d out of range", rank)
}
