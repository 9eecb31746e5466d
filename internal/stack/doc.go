// Package stack implements a LIFO stack of bounded text payloads whose nodes
// live in a shared region and are allocated with package alloc.
//
// The stack handle (top link and element count) sits in the region header,
// so every process attached to the region sees the same stack. Nodes link to
// the node below them by region offset:
//
//	+0   next     uint64  payload offset of the node below, 0 for the bottom node
//	+8   len      uint32  payload length in bytes
//	+12  reserved uint32
//	+16  data     [cap]byte
//
// Stack performs no locking; callers hold the cross-process lock around every
// call. Mutations are bracketed by the region's update flag and ordered so that
// a writer dying at any point leaves a well-formed chain. At worst a block is
// leaked or the count disagrees with the chain; Recover repairs the count.
package stack
