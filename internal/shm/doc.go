// Package shm provides the shared arena: a fixed-size, file-backed memory
// region mapped MAP_SHARED into every shmstack process. The server creates
// the region once, before any worker exists; workers open it by path. The
// first HeaderSize bytes hold a fixed header (magic, version, size, the
// allocator's tail and free-list head, and the stack handle) so that every
// process finds the shared state at the same offsets regardless of where the
// kernel placed its own mapping.
//
// All links stored inside the region are byte offsets from the start of the
// region. Offset 0 is the header and therefore doubles as the null link.
//
// Region performs no locking. Callers must hold the cross-process lock for
// every read or write of the header or of any block.
package shm
