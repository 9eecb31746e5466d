package shm

import (
	"encoding/binary"

	"github.com/giantswarm/shmstack/internal/sentinel"
)

// Header layout. All integers are little-endian.
const (
	OffMagic     = 0x00 // [8]byte "SHMSTAK\x00"
	OffVersion   = 0x08 // uint32 layout version
	OffFlags     = 0x0C // uint32 flag bits
	OffSize      = 0x10 // uint64 total region size in bytes
	OffTail      = 0x18 // uint64 first byte never handed out by the allocator
	OffFreeHead  = 0x20 // uint64 first free block, 0 when the free list is empty
	OffTop       = 0x28 // uint64 top stack node, 0 when the stack is empty
	OffCount     = 0x30 // uint64 number of nodes reachable from top
	OffMutations = 0x38 // uint64 completed mutations since creation
	OffNodeCap   = 0x40 // uint64 payload capacity of every stack node
	// 0x48-0x7F reserved

	// HeaderSize is the size of the header. It is a multiple of Align so the
	// first block starts aligned.
	HeaderSize = 0x80

	// Align is the alignment of every block boundary inside the region.
	Align = 16
)

// Version is the current header layout version.
const Version uint32 = 1

// FlagUpdating is set in the header flags while a mutation is in progress.
// A lock holder that observes it on acquisition knows the previous holder
// died mid-update.
const FlagUpdating uint32 = 1 << 0

const magic = "SHMSTAK\x00"

// ErrBadMagic is returned when a region does not start with the shmstack magic.
const ErrBadMagic = sentinel.Error("shared region has no shmstack header")

// ErrVersionMismatch is returned when a region was formatted with a different
// layout version.
const ErrVersionMismatch = sentinel.Error("shared region layout version mismatch")

// ErrSizeMismatch is returned when the size recorded in the header does not
// match the mapped length.
const ErrSizeMismatch = sentinel.Error("shared region size mismatch")

// ErrTooSmall is returned when a region cannot hold the header.
const ErrTooSmall = sentinel.Error("shared region smaller than header")

var le = binary.LittleEndian

// AlignUp rounds n up to the next multiple of Align.
func AlignUp(n uint64) uint64 {
	return (n + Align - 1) &^ (Align - 1)
}

// Uint64 reads the little-endian uint64 at off.
func (r *Region) Uint64(off uint64) uint64 {
	return le.Uint64(r.mem[off : off+8])
}

// PutUint64 writes v at off.
func (r *Region) PutUint64(off, v uint64) {
	le.PutUint64(r.mem[off:off+8], v)
}

// Uint32 reads the little-endian uint32 at off.
func (r *Region) Uint32(off uint64) uint32 {
	return le.Uint32(r.mem[off : off+4])
}

// PutUint32 writes v at off.
func (r *Region) PutUint32(off uint64, v uint32) {
	le.PutUint32(r.mem[off:off+4], v)
}

// Slice returns the n bytes starting at off. The slice aliases shared memory.
func (r *Region) Slice(off, n uint64) []byte {
	return r.mem[off : off+n : off+n]
}

// Contains reports whether [off, off+n) lies inside the block area, i.e.
// past the header and within the region.
func (r *Region) Contains(off, n uint64) bool {
	size := uint64(len(r.mem))
	return off >= HeaderSize && off <= size && n <= size-off
}

// Tail returns the allocator's tail offset.
func (r *Region) Tail() uint64 { return r.Uint64(OffTail) }

// SetTail stores the allocator's tail offset.
func (r *Region) SetTail(v uint64) { r.PutUint64(OffTail, v) }

// FreeHead returns the offset of the first free block.
func (r *Region) FreeHead() uint64 { return r.Uint64(OffFreeHead) }

// SetFreeHead stores the offset of the first free block.
func (r *Region) SetFreeHead(v uint64) { r.PutUint64(OffFreeHead, v) }

// Top returns the stack handle's top link.
func (r *Region) Top() uint64 { return r.Uint64(OffTop) }

// SetTop stores the stack handle's top link.
func (r *Region) SetTop(v uint64) { r.PutUint64(OffTop, v) }

// Count returns the stack handle's element count.
func (r *Region) Count() uint64 { return r.Uint64(OffCount) }

// SetCount stores the stack handle's element count.
func (r *Region) SetCount(v uint64) { r.PutUint64(OffCount, v) }

// Mutations returns the number of completed mutations.
func (r *Region) Mutations() uint64 { return r.Uint64(OffMutations) }

// NodeCap returns the stack's per-node payload capacity.
func (r *Region) NodeCap() uint64 { return r.Uint64(OffNodeCap) }

// SetNodeCap stores the stack's per-node payload capacity.
func (r *Region) SetNodeCap(v uint64) { r.PutUint64(OffNodeCap, v) }

// Updating reports whether FlagUpdating is set.
func (r *Region) Updating() bool {
	return r.Uint32(OffFlags)&FlagUpdating != 0
}

// BeginUpdate sets FlagUpdating. It must be called before the first write of
// a mutation.
func (r *Region) BeginUpdate() {
	r.PutUint32(OffFlags, r.Uint32(OffFlags)|FlagUpdating)
}

// EndUpdate bumps the mutation counter and clears FlagUpdating.
func (r *Region) EndUpdate() {
	r.PutUint64(OffMutations, r.Mutations()+1)
	r.PutUint32(OffFlags, r.Uint32(OffFlags)&^FlagUpdating)
}

// CancelUpdate clears FlagUpdating without counting a mutation. It is used
// when a mutation fails before writing anything.
func (r *Region) CancelUpdate() {
	r.PutUint32(OffFlags, r.Uint32(OffFlags)&^FlagUpdating)
}

// format writes a fresh header into mem.
func format(mem []byte) {
	clear(mem[:HeaderSize])
	copy(mem[OffMagic:OffMagic+8], magic)
	le.PutUint32(mem[OffVersion:], Version)
	le.PutUint64(mem[OffSize:], uint64(len(mem)))
	le.PutUint64(mem[OffTail:], HeaderSize)
}

// validate checks the header of an existing region against its mapped length.
func validate(mem []byte) error {
	if len(mem) < HeaderSize {
		return ErrTooSmall
	}
	if string(mem[OffMagic:OffMagic+8]) != magic {
		return ErrBadMagic
	}
	if v := le.Uint32(mem[OffVersion:]); v != Version {
		return ErrVersionMismatch
	}
	if s := le.Uint64(mem[OffSize:]); s != uint64(len(mem)) {
		return ErrSizeMismatch
	}
	return nil
}
