package alloc

import (
	"fmt"

	"github.com/giantswarm/shmstack/internal/sentinel"
	"github.com/giantswarm/shmstack/internal/shm"
)

// BlockHeaderSize is the per-block overhead in bytes.
const BlockHeaderSize = 16

const (
	offBlockSize = 0
	offBlockNext = 8
)

// ErrOutOfSpace is returned by Allocate when no free block is large enough and
// the region's tail cannot fit the request.
const ErrOutOfSpace = sentinel.Error("arena out of space")

// ErrInvalidBlock is returned by Free for an offset that Allocate never
// returned.
const ErrInvalidBlock = sentinel.Error("invalid block offset")

// ErrCorrupt is returned when the free list contains a link that points
// outside the region or loops.
const ErrCorrupt = sentinel.Error("free list corrupt")

// Allocator hands out blocks of a shared region. It is a thin, stateless view:
// all allocator state (tail and free-list head) lives in the region header, so
// any number of processes may each hold their own Allocator over the same
// region.
type Allocator struct {
	r *shm.Region
}

// New returns an Allocator over r.
func New(r *shm.Region) *Allocator {
	return &Allocator{r: r}
}

// BlockSize returns the whole block size needed for a payload of size bytes.
func BlockSize(size uint64) uint64 {
	return shm.AlignUp(size + BlockHeaderSize)
}

// Allocate returns the payload offset of a block able to hold size bytes.
// The payload contents are undefined; see ZeroAllocate.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	need := BlockSize(size)
	if need < size {
		return 0, fmt.Errorf("allocate %d bytes: %w", size, ErrOutOfSpace)
	}

	block, err := a.takeFree(need)
	if err != nil {
		return 0, err
	}
	if block != 0 {
		return block + BlockHeaderSize, nil
	}

	tail := a.r.Tail()
	if !a.r.Contains(tail, need) {
		return 0, fmt.Errorf("allocate %d bytes (%d remaining): %w",
			size, a.r.Size()-min(tail, a.r.Size()), ErrOutOfSpace)
	}
	// The block is unreachable until the tail moves past it, so a crash
	// between these two writes loses nothing.
	a.r.PutUint64(tail+offBlockSize, need)
	a.r.SetTail(tail + need)
	return tail + BlockHeaderSize, nil
}

// ZeroAllocate is Allocate followed by zeroing the block's whole payload.
func (a *Allocator) ZeroAllocate(size uint64) (uint64, error) {
	off, err := a.Allocate(size)
	if err != nil {
		return 0, err
	}
	clear(a.r.Slice(off, a.PayloadCap(off)))
	return off, nil
}

// Free prepends the block whose payload starts at off to the free list.
func (a *Allocator) Free(off uint64) error {
	block, err := a.blockOf(off)
	if err != nil {
		return err
	}
	a.r.PutUint64(block+offBlockNext, a.r.FreeHead())
	a.r.SetFreeHead(block)
	return nil
}

// PayloadCap returns the usable payload bytes of the block at payload offset
// off. off must have been returned by Allocate.
func (a *Allocator) PayloadCap(off uint64) uint64 {
	return a.r.Uint64(off-BlockHeaderSize+offBlockSize) - BlockHeaderSize
}

// takeFree detaches and returns the first free block of at least need bytes,
// or 0 when none fits.
func (a *Allocator) takeFree(need uint64) (uint64, error) {
	prevLink := uint64(shm.OffFreeHead)
	limit := a.maxBlocks()
	for block, n := a.r.FreeHead(), uint64(0); block != 0; n++ {
		if n >= limit {
			return 0, fmt.Errorf("walk free list: loop after %d blocks: %w", n, ErrCorrupt)
		}
		size, err := a.checkBlock(block)
		if err != nil {
			return 0, err
		}
		next := a.r.Uint64(block + offBlockNext)
		if size >= need {
			a.r.PutUint64(prevLink, next)
			return block, nil
		}
		prevLink = block + offBlockNext
		block = next
	}
	return 0, nil
}

// blockOf validates a payload offset and returns its block offset.
func (a *Allocator) blockOf(off uint64) (uint64, error) {
	if off < shm.HeaderSize+BlockHeaderSize || off%shm.Align != 0 || off >= a.r.Tail() {
		return 0, fmt.Errorf("free offset %d: %w", off, ErrInvalidBlock)
	}
	block := off - BlockHeaderSize
	size := a.r.Uint64(block + offBlockSize)
	if size < BlockHeaderSize || size%shm.Align != 0 || block+size > a.r.Tail() {
		return 0, fmt.Errorf("free offset %d (block size %d): %w", off, size, ErrInvalidBlock)
	}
	return block, nil
}

// checkBlock validates a free-list entry and returns its size.
func (a *Allocator) checkBlock(block uint64) (uint64, error) {
	if block%shm.Align != 0 || !a.r.Contains(block, BlockHeaderSize) || block >= a.r.Tail() {
		return 0, fmt.Errorf("free block at %d: %w", block, ErrCorrupt)
	}
	size := a.r.Uint64(block + offBlockSize)
	if size < BlockHeaderSize || size%shm.Align != 0 || block+size > a.r.Tail() {
		return 0, fmt.Errorf("free block at %d has size %d: %w", block, size, ErrCorrupt)
	}
	return size, nil
}

// maxBlocks bounds any walk over the region's blocks.
func (a *Allocator) maxBlocks() uint64 {
	return a.r.Size()/BlockHeaderSize + 1
}
