// Package halo builds the 27 send and 27 receive region descriptors
// fsgrid's ghost-cell exchange moves between neighbours, and drives the
// non-blocking exchange itself over a comm.Communicator.
package halo

import (
	"fmt"

	"github.com/notargets/fsgrid/comm"
	"github.com/notargets/fsgrid/coordinates"
)

// Descriptor is a rectangular sub-region of a process' storage buffer,
// expressed the way a strided subarray transfer needs it: a shape and a
// start offset, both in cell units along each axis.
type Descriptor struct {
	Shape [3]int
	Start [3]int
}

// center is the canonical neighbour slot for (0,0,0); it never gets a
// descriptor (a process never exchanges with itself).
const center = 13

// direction decodes canonical slot n (0-26) to its (-1,0,1) delta per axis,
// the same convention stencil.FsStencil.NeighbourIndex uses in reverse.
func direction(n int) [3]int {
	return [3]int{n/9 - 1, (n % 9) / 3 - 1, n%3 - 1}
}

// opposite returns the slot on the diametrically opposed side of n.
func opposite(n int) int { return 26 - n }

// BuildSendDescriptors returns, for each of the 27 canonical neighbour
// slots, the region of this process' own interior to send toward the
// neighbour at that slot's direction — nil where that slot is the center
// or where the slot's direction crosses a collapsed (single-cell) axis.
func BuildSendDescriptors(c *coordinates.Coordinates) [27]*Descriptor {
	var out [27]*Descriptor
	for n := 0; n < 27; n++ {
		if n == center {
			continue
		}
		d := direction(n)
		if skip(c, d) {
			continue
		}
		var desc Descriptor
		for axis := 0; axis < 3; axis++ {
			desc.Shape[axis] = regionWidth(c, axis, d[axis])
			switch {
			case c.StorageSize[axis] == 1:
				desc.Start[axis] = 0
			case d[axis] == 1:
				desc.Start[axis] = c.StorageSize[axis] - 2*c.Halo
			default:
				desc.Start[axis] = c.Halo
			}
		}
		out[n] = &desc
	}
	return out
}

// BuildRecvDescriptors returns, for each of the 27 canonical neighbour
// slots, the region of this process' own ghost layer located at that
// slot's direction — the region a neighbour at that direction fills in.
func BuildRecvDescriptors(c *coordinates.Coordinates) [27]*Descriptor {
	var out [27]*Descriptor
	for n := 0; n < 27; n++ {
		if n == center {
			continue
		}
		d := direction(n)
		if skip(c, d) {
			continue
		}
		var desc Descriptor
		for axis := 0; axis < 3; axis++ {
			desc.Shape[axis] = regionWidth(c, axis, d[axis])
			switch {
			case c.StorageSize[axis] == 1:
				desc.Start[axis] = 0
			case d[axis] == 1:
				desc.Start[axis] = c.StorageSize[axis] - c.Halo
			case d[axis] == 0:
				desc.Start[axis] = c.Halo
			default:
				desc.Start[axis] = 0
			}
		}
		out[n] = &desc
	}
	return out
}

func regionWidth(c *coordinates.Coordinates, axis int, delta int) int {
	if delta == 0 {
		return c.LocalSize[axis]
	}
	return c.Halo
}

// skip reports whether direction d has no meaning for this process: any
// axis where d reaches past a collapsed (single global cell) dimension.
func skip(c *coordinates.Coordinates, d [3]int) bool {
	for axis := 0; axis < 3; axis++ {
		if c.StorageSize[axis] == 1 && d[axis] != 0 {
			return true
		}
	}
	return false
}

// Exchange performs one full ghost-cell exchange round: for every
// neighbour slot with both a real neighbour rank and a valid descriptor
// pair, it posts a non-blocking receive gated on the receive descriptor
// and the neighbour's presence, then posts the matching send, then waits
// on everything. This is the corrected pairing: receive-posting is gated
// on the receive side's own descriptor and source rank, never on the send
// side's, so a direction that is sendable-but-not-receivable (or vice
// versa) can never silently post the wrong wait.
func Exchange(data []byte, elemSize int, storageSize [3]int, c comm.Communicator, indexToRank [27]int, send, recv [27]*Descriptor) error {
	var recvHandles, sendHandles [27]*comm.Handle
	var recvBufs [27][]byte

	for n := 0; n < 27; n++ {
		if n == center || recv[n] == nil {
			continue
		}
		source := indexToRank[n]
		if source < 0 {
			continue
		}
		buf := make([]byte, recv[n].Shape[0]*recv[n].Shape[1]*recv[n].Shape[2]*elemSize)
		h, err := c.IRecv(source, opposite(n), buf)
		if err != nil {
			return fmt.Errorf("halo: posting receive from slot %d (rank %d): %w", n, source, err)
		}
		recvHandles[n] = &h
		recvBufs[n] = buf
	}

	for n := 0; n < 27; n++ {
		if n == center || send[n] == nil {
			continue
		}
		dest := indexToRank[n]
		if dest < 0 {
			continue
		}
		buf := view(data, elemSize, storageSize, *send[n])
		h, err := c.ISend(dest, n, buf)
		if err != nil {
			return fmt.Errorf("halo: posting send to slot %d (rank %d): %w", n, dest, err)
		}
		sendHandles[n] = &h
	}

	for n := 0; n < 27; n++ {
		if recvHandles[n] == nil {
			continue
		}
		if err := recvHandles[n].Wait(); err != nil {
			return fmt.Errorf("halo: receive from slot %d failed: %w", n, err)
		}
		scatter(data, elemSize, storageSize, *recv[n], recvBufs[n])
	}
	for n := 0; n < 27; n++ {
		if sendHandles[n] == nil {
			continue
		}
		if err := sendHandles[n].Wait(); err != nil {
			return fmt.Errorf("halo: send to slot %d failed: %w", n, err)
		}
	}
	return nil
}

// view extracts the flat byte slice for one strided Descriptor's bounding
// region out of a contiguous storage buffer laid out x-fastest, copying
// row by row since the region is rectangular but not contiguous once y or
// z shape is less than the full storage extent.
func view(data []byte, elemSize int, storageSize [3]int, d Descriptor) []byte {
	out := make([]byte, d.Shape[0]*d.Shape[1]*d.Shape[2]*elemSize)
	strideY := storageSize[0]
	strideZ := storageSize[0] * storageSize[1]
	o := 0
	for z := 0; z < d.Shape[2]; z++ {
		for y := 0; y < d.Shape[1]; y++ {
			rowStart := (d.Start[0] + (d.Start[1]+y)*strideY + (d.Start[2]+z)*strideZ) * elemSize
			n := copy(out[o:], data[rowStart:rowStart+d.Shape[0]*elemSize])
			o += n
		}
	}
	return out
}

// scatter is view's inverse: it writes src's rows back into data at the
// positions Descriptor d describes. Used after an IRecv fills a temporary
// receive buffer to install the ghost data into the storage buffer proper.
func scatter(data []byte, elemSize int, storageSize [3]int, d Descriptor, src []byte) {
	strideY := storageSize[0]
	strideZ := storageSize[0] * storageSize[1]
	o := 0
	for z := 0; z < d.Shape[2]; z++ {
		for y := 0; y < d.Shape[1]; y++ {
			rowStart := (d.Start[0] + (d.Start[1]+y)*strideY + (d.Start[2]+z)*strideZ) * elemSize
			n := copy(data[rowStart:rowStart+d.Shape[0]*elemSize], src[o:])
			o += n
		}
	}
}
