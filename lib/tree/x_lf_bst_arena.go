package tree

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/benz9527/xavl/lib/id"
	"github.com/benz9527/xavl/lib/infra"
	"github.com/benz9527/xavl/xlog"
)

// References:
// https://github.com/dgraph-io/badger/blob/master/skl/arena.go
// https://github.com/bitmark-inc/bitmarkd/blob/master/avl/allocator.go
//
// The lock-free nodes live in segments of an arena. The child slots
// store nodeRef words instead of pointers:
//
//	 63            33 32            1     0
//	+----------------+---------------+-----+
//	|   generation   |    handle     | nil |
//	+----------------+---------------+-----+
//
// Handle 0 is the nil node. The generation is increased every time
// a handle is recycled, so a stale snapshot of a child slot never
// equals the current value after the slot is reused. The nil bit
// tags a null child with the removed node's identity, which keeps
// the CAS of helpMarked unique.

const (
	lfArenaSegmentBits  = 10
	lfArenaSegmentSize  = 1 << lfArenaSegmentBits
	lfArenaSegmentMask  = lfArenaSegmentSize - 1
	lfArenaMaxSegments  = 1 << 14
	lfArenaMaxHandles   = lfArenaMaxSegments * lfArenaSegmentSize
	nodeRefNullBit      = 1
	nodeRefHandleShift  = 1
	nodeRefGenShift     = 33
	nodeRefGenMask      = 1<<31 - 1
	nodeRefHandleMask   = 1<<32 - 1
	lfFreeListTagShift  = 32
	lfFreeListHandleBit = 1<<32 - 1
)

type nodeRef uint64

func (ref nodeRef) isNull() bool {
	return ref == 0 || ref&nodeRefNullBit != 0
}

func (ref nodeRef) handle() uint32 {
	return uint32((ref >> nodeRefHandleShift) & nodeRefHandleMask)
}

// nulled keeps the identity and tags the ref as a null child.
func (ref nodeRef) nulled() nodeRef {
	return ref | nodeRefNullBit
}

type lfNode[K infra.OrderedKey] struct {
	key   atomic.Pointer[K]
	left  atomic.Uint64
	right atomic.Uint64
	op    atomic.Pointer[opRef[K]]
	// Free list and limbo list link.
	next   atomic.Uint32
	handle uint32
	gen    uint32
}

func (node *lfNode[K]) ref() nodeRef {
	return nodeRef(uint64(node.gen)<<nodeRefGenShift | uint64(node.handle)<<nodeRefHandleShift)
}

func (node *lfNode[K]) child(isLeft bool) *atomic.Uint64 {
	if isLeft {
		return &node.left
	}
	return &node.right
}

func (node *lfNode[K]) loadLeft() nodeRef  { return nodeRef(node.left.Load()) }
func (node *lfNode[K]) loadRight() nodeRef { return nodeRef(node.right.Load()) }

type lfSegment[K infra.OrderedKey] [lfArenaSegmentSize]lfNode[K]

type lfArena[K infra.OrderedKey] struct {
	segments [lfArenaMaxSegments]atomic.Pointer[lfSegment[K]]
	cursor   id.UUIDGen
	// ABA tag (high 32 bits) and handle (low 32 bits) of the free list.
	freeHead atomic.Uint64
	live     atomic.Int64
	segCount atomic.Int32
	idle     *opRef[K]
	logger   xlog.XLogger
}

func newLFArena[K infra.OrderedKey](idle *opRef[K], logger xlog.XLogger) *lfArena[K] {
	cursor, err := id.MonotonicNonZeroID()
	if err != nil {
		panic(err)
	}
	return &lfArena[K]{
		cursor: cursor,
		idle:   idle,
		logger: logger,
	}
}

func (arena *lfArena[K]) node(handle uint32) *lfNode[K] {
	seg := arena.segments[handle>>lfArenaSegmentBits].Load()
	return &seg[handle&lfArenaSegmentMask]
}

// nodeOf returns nil for the null refs.
func (arena *lfArena[K]) nodeOf(ref nodeRef) *lfNode[K] {
	if ref.isNull() {
		return nil
	}
	return arena.node(ref.handle())
}

func (arena *lfArena[K]) segment(idx uint32) *lfSegment[K] {
	if seg := arena.segments[idx].Load(); seg != nil {
		return seg
	}
	seg := new(lfSegment[K])
	if arena.segments[idx].CompareAndSwap(nil, seg) {
		count := arena.segCount.Add(1)
		if arena.logger != nil {
			arena.logger.Info("lock-free arena grows",
				zap.Uint32("segment", idx),
				zap.Int32("segments", count),
				zap.Int("capacity", int(count)*lfArenaSegmentSize),
			)
		}
		return seg
	}
	return arena.segments[idx].Load()
}

// alloc returns an unpublished node. Its slots are initialized by
// plain atomic stores, no other goroutine can reach it yet.
func (arena *lfArena[K]) alloc(key *K) *lfNode[K] {
	var node *lfNode[K]
	for {
		head := arena.freeHead.Load()
		handle := uint32(head & lfFreeListHandleBit)
		if handle == 0 {
			break
		}
		aux := arena.node(handle)
		next := uint64(aux.next.Load())
		tag := (head >> lfFreeListTagShift) + 1
		if arena.freeHead.CompareAndSwap(head, tag<<lfFreeListTagShift|next) {
			node = aux
			node.gen = (node.gen + 1) & nodeRefGenMask
			break
		}
	}
	if node == nil {
		n := arena.cursor.Number()
		if n >= lfArenaMaxHandles {
			panic(infra.WrapErrorStack(ErrXAVLArenaExhausted))
		}
		handle := uint32(n)
		node = &arena.segment(handle >> lfArenaSegmentBits)[handle&lfArenaSegmentMask]
		node.handle = handle
	}
	node.key.Store(key)
	node.left.Store(0)
	node.right.Store(0)
	node.next.Store(0)
	node.op.Store(arena.idle)
	arena.live.Add(1)
	return node
}

// free pushes the node back to the free list. The caller guarantees
// that no goroutine holds a reference to it, i.e. it was never
// published or it passed the grace period of the epochs.
func (arena *lfArena[K]) free(node *lfNode[K]) {
	node.key.Store(nil)
	node.op.Store(nil)
	for {
		head := arena.freeHead.Load()
		node.next.Store(uint32(head & lfFreeListHandleBit))
		tag := (head >> lfFreeListTagShift) + 1
		if arena.freeHead.CompareAndSwap(head, tag<<lfFreeListTagShift|uint64(node.handle)) {
			break
		}
	}
	arena.live.Add(-1)
}

func (arena *lfArena[K]) release(handle uint32) {
	arena.free(arena.node(handle))
}

func (arena *lfArena[K]) link(handle uint32) *atomic.Uint32 {
	return &arena.node(handle).next
}
