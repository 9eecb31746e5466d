package stack

import (
	"fmt"

	"github.com/giantswarm/shmstack/internal/alloc"
	"github.com/giantswarm/shmstack/internal/sentinel"
	"github.com/giantswarm/shmstack/internal/shm"
)

const (
	offNodeNext = 0
	offNodeLen  = 8

	// NodeHeaderSize is the per-node overhead preceding the payload bytes.
	NodeHeaderSize = 16
)

// ErrPayloadTooLarge is returned by Push when the payload exceeds the node
// capacity. The stack is left unchanged.
const ErrPayloadTooLarge = sentinel.Error("payload too large")

// ErrEmpty is returned by Peek when the stack has no elements.
const ErrEmpty = sentinel.Error("stack is empty")

// ErrCorrupt is returned when the stack handle or a node link does not
// describe a valid chain.
const ErrCorrupt = sentinel.Error("stack chain corrupt")

// ErrBadNodeCap is returned when a node capacity is zero or too large to lay
// out in a region.
const ErrBadNodeCap = sentinel.Error("invalid node capacity")

// maxNodeCap keeps node sizes well inside the uint32 length field.
const maxNodeCap = 1 << 24

// Stack is a view of the stack stored in a region.
type Stack struct {
	r       *shm.Region
	a       *alloc.Allocator
	nodeCap uint64
}

// Init records nodeCap in a freshly created region and returns a Stack over
// it. The region must be empty.
func Init(r *shm.Region, nodeCap int) (*Stack, error) {
	if nodeCap <= 0 || nodeCap > maxNodeCap {
		return nil, fmt.Errorf("init stack with node capacity %d: %w", nodeCap, ErrBadNodeCap)
	}
	if r.Top() != 0 || r.Count() != 0 {
		return nil, fmt.Errorf("init stack over a non-empty region: %w", ErrCorrupt)
	}
	r.SetNodeCap(uint64(nodeCap))
	return &Stack{r: r, a: alloc.New(r), nodeCap: uint64(nodeCap)}, nil
}

// Attach returns a Stack over a region previously set up with Init.
func Attach(r *shm.Region) (*Stack, error) {
	nodeCap := r.NodeCap()
	if nodeCap == 0 || nodeCap > maxNodeCap {
		return nil, fmt.Errorf("attach stack with node capacity %d: %w", nodeCap, ErrBadNodeCap)
	}
	return &Stack{r: r, a: alloc.New(r), nodeCap: nodeCap}, nil
}

// NodeSize returns the allocation size of a node holding up to nodeCap bytes.
func NodeSize(nodeCap int) uint64 {
	return NodeHeaderSize + uint64(nodeCap)
}

// RegionSize returns the region size that holds exactly capacity nodes of
// nodeCap bytes each, header included.
func RegionSize(capacity, nodeCap int) uint64 {
	return shm.HeaderSize + uint64(capacity)*alloc.BlockSize(NodeSize(nodeCap))
}

// NodeCap returns the maximum payload length of a single element.
func (s *Stack) NodeCap() int {
	return int(s.nodeCap)
}

// Len returns the element count recorded in the stack handle.
func (s *Stack) Len() int {
	return int(s.r.Count())
}

// Allocator returns the allocator the stack draws nodes from.
func (s *Stack) Allocator() *alloc.Allocator {
	return s.a
}

// Push copies payload into a new node and links it as the new top.
// On error the stack is unchanged.
func (s *Stack) Push(payload []byte) error {
	if uint64(len(payload)) > s.nodeCap {
		return fmt.Errorf("push %d bytes (limit %d): %w", len(payload), s.nodeCap, ErrPayloadTooLarge)
	}

	s.r.BeginUpdate()
	node, err := s.a.Allocate(NodeHeaderSize + s.nodeCap)
	if err != nil {
		s.r.CancelUpdate()
		return fmt.Errorf("push: %w", err)
	}

	// Fill the node completely before publishing it through the top link.
	s.r.PutUint64(node+offNodeNext, s.r.Top())
	s.r.PutUint32(node+offNodeLen, uint32(len(payload)))
	copy(s.r.Slice(node+NodeHeaderSize, s.nodeCap), payload)

	s.r.SetTop(node)
	s.r.SetCount(s.r.Count() + 1)
	s.r.EndUpdate()
	return nil
}

// Pop removes the top element and returns its node to the allocator. Popping
// an empty stack is a no-op and reports false.
func (s *Stack) Pop() (bool, error) {
	top := s.r.Top()
	if top == 0 {
		if s.r.Count() != 0 {
			return false, fmt.Errorf("pop: count %d with empty top: %w", s.r.Count(), ErrCorrupt)
		}
		return false, nil
	}
	if err := s.checkNode(top); err != nil {
		return false, fmt.Errorf("pop: %w", err)
	}

	s.r.BeginUpdate()
	// Unlink first: a crash after this point leaks the node but never leaves
	// a node that is both on the chain and on the free list.
	s.r.SetTop(s.r.Uint64(top + offNodeNext))
	s.r.SetCount(s.r.Count() - 1)
	clear(s.r.Slice(top, NodeHeaderSize+s.nodeCap))
	if err := s.a.Free(top); err != nil {
		s.r.EndUpdate()
		return true, fmt.Errorf("pop: release node: %w", err)
	}
	s.r.EndUpdate()
	return true, nil
}

// Peek returns a copy of the top payload, or ErrEmpty.
func (s *Stack) Peek() ([]byte, error) {
	top := s.r.Top()
	if top == 0 {
		return nil, ErrEmpty
	}
	if err := s.checkNode(top); err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}
	return s.payload(top), nil
}

// Walk calls fn with each payload from top to bottom until fn returns false.
// The slices passed to fn alias shared memory and are only valid during the
// call.
func (s *Stack) Walk(fn func(payload []byte) bool) error {
	_, err := s.walk(func(node uint64) bool {
		n := uint64(s.r.Uint32(node + offNodeLen))
		return fn(s.r.Slice(node+NodeHeaderSize, n))
	})
	return err
}

// Verify checks that the count in the stack handle equals the number of
// nodes reachable from top.
func (s *Stack) Verify() error {
	n, err := s.walk(nil)
	if err != nil {
		return err
	}
	if count := s.r.Count(); n != count {
		return fmt.Errorf("count %d but %d nodes reachable: %w", count, n, ErrCorrupt)
	}
	return nil
}

// payload copies the payload of node out of shared memory.
func (s *Stack) payload(node uint64) []byte {
	n := uint64(s.r.Uint32(node + offNodeLen))
	out := make([]byte, n)
	copy(out, s.r.Slice(node+NodeHeaderSize, n))
	return out
}

// walk visits nodes from top to bottom and returns how many it visited. The
// walk is bounded by the number of nodes the region could possibly hold, so a
// looping chain is reported as ErrCorrupt instead of spinning forever.
func (s *Stack) walk(visit func(node uint64) bool) (uint64, error) {
	limit := s.r.Size()/alloc.BlockSize(NodeHeaderSize+s.nodeCap) + 1
	var n uint64
	for node := s.r.Top(); node != 0; node = s.r.Uint64(node + offNodeNext) {
		if n >= limit {
			return n, fmt.Errorf("chain longer than %d nodes: %w", limit, ErrCorrupt)
		}
		if err := s.checkNode(node); err != nil {
			return n, err
		}
		n++
		if visit != nil && !visit(node) {
			break
		}
	}
	return n, nil
}

// checkNode validates that node is a plausible node payload offset.
func (s *Stack) checkNode(node uint64) error {
	if node%shm.Align != 0 || node < shm.HeaderSize+alloc.BlockHeaderSize ||
		node >= s.r.Tail() || !s.r.Contains(node, NodeHeaderSize+s.nodeCap) {
		return fmt.Errorf("node at %d: %w", node, ErrCorrupt)
	}
	if n := uint64(s.r.Uint32(node + offNodeLen)); n > s.nodeCap {
		return fmt.Errorf("node at %d has length %d > %d: %w", node, n, s.nodeCap, ErrCorrupt)
	}
	return nil
}
