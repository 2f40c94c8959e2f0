package comm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
)

// key identifies one point-to-point channel between two ranks under one
// message tag.
type key struct {
	src, dst, tag int
}

// world is the shared state behind a group of LocalCommunicator values: a
// fixed-size set of ranks wired together with buffered channels, playing
// the role MPI's runtime plays for a real cluster.
type world struct {
	mu      sync.Mutex
	size    int
	pending map[key]chan []byte

	dims     [3]int
	periodic [3]bool
	coords   [][3]int
	rankOf   map[[3]int]int

	reduce *reduceRound
	split  *splitRound
}

// reduceRound accumulates one in-flight Allreduce call from every rank
// before computing and releasing the shared result.
type reduceRound struct {
	buffers [][]byte
	count   int
	op      ReduceOp
	arrived int
	result  []byte
	done    chan struct{}
}

// NewWorld creates a group of size independent ranks communicating over
// in-process channels, and returns one LocalCommunicator per rank.
func NewWorld(size int) []*LocalCommunicator {
	w := &world{
		size:    size,
		pending: make(map[key]chan []byte),
	}
	comms := make([]*LocalCommunicator, size)
	for r := 0; r < size; r++ {
		comms[r] = &LocalCommunicator{world: w, rank: r}
	}
	return comms
}

// LocalCommunicator is a Communicator backed by goroutines and channels
// within a single process. It is the only Communicator implementation this
// module ships.
type LocalCommunicator struct {
	world *world
	rank  int
}

func (c *LocalCommunicator) Rank() int { return c.rank }
func (c *LocalCommunicator) Size() int { return c.world.size }

// CartCreate installs (or validates, if already installed) a Cartesian
// layout over this world. Every rank in the world must call CartCreate
// with the same dims and periodic before relying on CartCoords/CartRank.
func (c *LocalCommunicator) CartCreate(dims [3]int, periodic [3]bool) (Communicator, error) {
	n := dims[0] * dims[1] * dims[2]
	if n != c.world.size {
		return nil, fmt.Errorf("comm: cartesian dims %v do not multiply to communicator size %d", dims, c.world.size)
	}

	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	if c.world.coords == nil {
		coords := make([][3]int, n)
		rankOf := make(map[[3]int]int, n)
		i := 0
		for x := 0; x < dims[0]; x++ {
			for y := 0; y < dims[1]; y++ {
				for z := 0; z < dims[2]; z++ {
					pos := [3]int{x, y, z}
					coords[i] = pos
					rankOf[pos] = i
					i++
				}
			}
		}
		c.world.dims = dims
		c.world.periodic = periodic
		c.world.coords = coords
		c.world.rankOf = rankOf
	} else if c.world.dims != dims || c.world.periodic != periodic {
		return nil, fmt.Errorf("comm: cartesian layout %v periodic %v already installed, got %v periodic %v", c.world.dims, c.world.periodic, dims, periodic)
	}
	return c, nil
}

func (c *LocalCommunicator) CartCoords(rank int) ([3]int, error) {
	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	if c.world.coords == nil || rank < 0 || rank >= len(c.world.coords) {
		return [3]int{}, errRankOutOfRange(rank)
	}
	return c.world.coords[rank], nil
}

func (c *LocalCommunicator) CartRank(coords [3]int) (int, error) {
	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	r, ok := c.world.rankOf[coords]
	if !ok {
		return -1, fmt.Errorf("comm: no rank at cartesian coordinates %v", coords)
	}
	return r, nil
}

// splitRound accumulates one in-flight Split call from every rank before
// the groups are computed.
type splitRound struct {
	colors  []int
	keys    []int
	arrived int
	groups  map[int][]int  // color -> ranks, ordered by key
	subs    map[int]*world // color -> the world shared by that group
	done    chan struct{}
}

// Split partitions the world by color, grouping and ordering ranks the way
// MPI_Comm_split does. Every rank of the original world must call Split
// exactly once per round; a negative color excludes the caller, which gets
// back a nil Communicator.
func (c *LocalCommunicator) Split(color, splitKey int) (Communicator, error) {
	w := c.world
	w.mu.Lock()
	if w.split == nil {
		w.split = &splitRound{
			colors: make([]int, w.size),
			keys:   make([]int, w.size),
			subs:   make(map[int]*world),
			done:   make(chan struct{}),
		}
	}
	round := w.split
	round.colors[c.rank] = color
	round.keys[c.rank] = splitKey
	round.arrived++
	if round.arrived == w.size {
		round.groups = groupByColor(round.colors, round.keys)
		w.split = nil
		close(round.done)
	}
	w.mu.Unlock()

	<-round.done
	if color < 0 {
		return nil, nil
	}

	members := round.groups[color]
	newSize := len(members)
	newRank := indexOf(members, c.rank)

	w.mu.Lock()
	sub := round.subs[color]
	if sub == nil {
		sub = &world{
			size:    newSize,
			pending: make(map[key]chan []byte),
		}
		round.subs[color] = sub
	}
	w.mu.Unlock()
	return &LocalCommunicator{world: sub, rank: newRank}, nil
}

func groupByColor(colors, keys []int) map[int][]int {
	groups := make(map[int][]int)
	for rank, color := range colors {
		if color < 0 {
			continue
		}
		groups[color] = append(groups[color], rank)
	}
	for color, ranks := range groups {
		sort.SliceStable(ranks, func(i, j int) bool { return keys[ranks[i]] < keys[ranks[j]] })
		groups[color] = ranks
	}
	return groups
}

func indexOf(ranks []int, rank int) int {
	for i, r := range ranks {
		if r == rank {
			return i
		}
	}
	return -1
}

// channel returns the buffered channel backing one (src,dst,tag) transfer,
// creating it on first use.
func (w *world) channel(k key) chan []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.pending[k]
	if !ok {
		ch = make(chan []byte, 1)
		w.pending[k] = ch
	}
	return ch
}

// ISend starts a non-blocking send. The underlying channel has capacity 1,
// matching the contract that a given (dest,tag) pair is not reused until
// the matching Wait completes.
func (c *LocalCommunicator) ISend(dest, tag int, data []byte) (Handle, error) {
	ch := c.world.channel(key{src: c.rank, dst: dest, tag: tag})
	buf := append([]byte(nil), data...)
	done := make(chan error, 1)
	go func() {
		ch <- buf
		done <- nil
	}()
	return Handle{done: done}, nil
}

// IRecv starts a non-blocking receive into buf.
func (c *LocalCommunicator) IRecv(source, tag int, buf []byte) (Handle, error) {
	ch := c.world.channel(key{src: source, dst: c.rank, tag: tag})
	done := make(chan error, 1)
	go func() {
		data := <-ch
		if n := copy(buf, data); n != len(buf) {
			done <- fmt.Errorf("comm: recv from rank %d tag %d: got %d bytes, buffer is %d", source, tag, n, len(buf))
			return
		}
		done <- nil
	}()
	return Handle{done: done}, nil
}

// Allreduce combines send across every rank in the world with op. Every
// rank must call Allreduce exactly once per round with the same count and
// op; the call blocks until all ranks have arrived.
func (c *LocalCommunicator) Allreduce(send, recv []byte, count int, op ReduceOp) error {
	w := c.world
	w.mu.Lock()
	if w.reduce == nil {
		w.reduce = &reduceRound{
			buffers: make([][]byte, w.size),
			count:   count,
			op:      op,
			done:    make(chan struct{}),
		}
	}
	round := w.reduce
	round.buffers[c.rank] = append([]byte(nil), send...)
	round.arrived++
	if round.arrived == w.size {
		round.result = reduceFloat64Buffers(round.buffers, round.count, round.op)
		w.reduce = nil
		close(round.done)
	}
	w.mu.Unlock()

	<-round.done
	copy(recv, round.result)
	return nil
}

// reduceFloat64Buffers combines buffers, each holding count little-endian
// float64 elements, element-wise with op.
func reduceFloat64Buffers(buffers [][]byte, count int, op ReduceOp) []byte {
	out := make([]byte, count*8)
	for i := 0; i < count; i++ {
		var acc float64
		for r, buf := range buffers {
			v := math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
			switch {
			case r == 0:
				acc = v
			case op == OpSum:
				acc += v
			case op == OpMax:
				if v > acc {
					acc = v
				}
			case op == OpMin:
				if v < acc {
					acc = v
				}
			case op == OpProd:
				acc *= v
			}
		}
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(acc))
	}
	return out
}

// Free releases this communicator's resources. LocalCommunicator holds
// nothing beyond Go-GC-managed channels, so Free is a no-op kept to satisfy
// the Communicator contract a real MPI binding would need to honor.
func (c *LocalCommunicator) Free() {}
