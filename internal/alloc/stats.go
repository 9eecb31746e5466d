package alloc

import (
	"fmt"

	"github.com/giantswarm/shmstack/internal/shm"
)

// Stats describes how a region's bytes are currently split.
type Stats struct {
	// Size is the whole region, header included.
	Size uint64
	// Carved is the number of bytes handed out from the tail so far.
	Carved uint64
	// Remaining is the number of bytes left in the tail.
	Remaining uint64
	// FreeBlocks and FreeBytes describe the free list.
	FreeBlocks int
	FreeBytes  uint64
}

// Stats walks the free list and reports the region's occupancy.
func (a *Allocator) Stats() (Stats, error) {
	tail := min(a.r.Tail(), a.r.Size())
	s := Stats{
		Size:      a.r.Size(),
		Carved:    tail - min(tail, shm.HeaderSize),
		Remaining: a.r.Size() - tail,
	}
	limit := a.maxBlocks()
	for block := a.r.FreeHead(); block != 0; block = a.r.Uint64(block + offBlockNext) {
		if uint64(s.FreeBlocks) >= limit {
			return Stats{}, fmt.Errorf("walk free list: loop after %d blocks: %w", s.FreeBlocks, ErrCorrupt)
		}
		size, err := a.checkBlock(block)
		if err != nil {
			return Stats{}, err
		}
		s.FreeBlocks++
		s.FreeBytes += size
	}
	return s, nil
}
