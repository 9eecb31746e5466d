// Package alloc implements a first-fit free-list allocator that lives
// entirely inside a shared region. Blocks are carved from the region's
// unused tail and returned to a singly linked free list on Free; later
// allocations scan the free list first. Adjacent free blocks are never
// coalesced, so a region that churns through differently sized allocations
// fragments over time. The region never grows: when neither the free list
// nor the tail can satisfy a request, Allocate fails with ErrOutOfSpace.
//
// Every block starts with a BlockHeaderSize header:
//
//	+0  size  uint64  whole block size, header included, multiple of shm.Align
//	+8  next  uint64  next free block while on the free list, undefined otherwise
//
// Allocate returns the offset of the payload that follows the header. The
// Allocator holds no lock of its own; callers serialize all use through the
// cross-process lock.
package alloc
