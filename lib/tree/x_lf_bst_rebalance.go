package tree

import (
	"go.uber.org/zap"

	"github.com/benz9527/xavl/lib/infra"
)

// Rebalance rebuilds the keys into a height balanced shape of fresh
// nodes and publishes it by a single child CAS on the root sentinel.
// The old nodes are retired as a whole, including the marked ones
// that were never spliced.
// ErrXAVLNotQuiescent is returned if another operation is pinned or
// an update succeeded while the keys were collected. A writer that
// pins after the last check may still lose its update, the callers
// must stop the writers first.
func (tree *xLockFreeBST[K]) Rebalance() error {
	p := tree.epochs.pin()
	defer tree.epochs.unpin(p)

	if tree.epochs.pinnedExcept(p) {
		return infra.WrapErrorStack(ErrXAVLNotQuiescent)
	}
	seq := tree.mutations.Load()
	rootOp := tree.root.op.Load()
	if !rootOp.is(opNone) {
		return infra.WrapErrorStack(ErrXAVLNotQuiescent)
	}
	oldRef := tree.root.loadRight()
	if oldRef.isNull() {
		return nil
	}

	olds := make([]*lfNode[K], 0, tree.count.Load())
	keys := make([]*K, 0, tree.count.Load())
	stack := make([]*lfNode[K], 0, 64)
	for node := tree.arena.nodeOf(oldRef); node != nil || len(stack) > 0; {
		for ; node != nil; node = tree.arena.nodeOf(node.loadLeft()) {
			stack = append(stack, node)
		}
		node = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch op := node.op.Load(); {
		case op.is(opNone):
			keys = append(keys, node.key.Load())
		case op.is(opMark):
		default:
			return infra.WrapErrorStack(ErrXAVLNotQuiescent)
		}
		olds = append(olds, node)
		node = tree.arena.nodeOf(node.loadRight())
	}

	news := make([]*lfNode[K], 0, len(keys))
	var build func(lo, hi int) nodeRef
	build = func(lo, hi int) nodeRef {
		if lo > hi {
			return 0
		}
		mid := lo + (hi-lo)/2
		node := tree.arena.alloc(keys[mid])
		news = append(news, node)
		node.left.Store(uint64(build(lo, mid-1)))
		node.right.Store(uint64(build(mid+1, hi)))
		return node.ref()
	}
	newRef := build(0, len(keys)-1)

	op := newInsertOp[K](false, oldRef, newRef)
	if tree.epochs.pinnedExcept(p) || tree.mutations.Load() != seq ||
		!tree.root.op.CompareAndSwap(rootOp, op.flagged(opInsert)) {
		for _, node := range news {
			tree.arena.free(node)
		}
		return infra.WrapErrorStack(ErrXAVLNotQuiescent)
	}
	tree.helpInsert(op, tree.root)
	for _, node := range olds {
		tree.epochs.retire(node.handle)
	}
	if tree.logger != nil {
		tree.logger.Info("lock-free tree rebalanced",
			zap.Int("keys", len(keys)),
			zap.Int("retired", len(olds)),
			zap.Int("height", lfTreeHeight(tree.arena, newRef)),
		)
	}
	return nil
}

// Quiesce releases all the retired nodes at quiescence.
func (tree *xLockFreeBST[K]) Quiesce() (int, error) {
	n, err := tree.epochs.quiesce()
	if err != nil {
		return 0, infra.WrapErrorStack(err)
	}
	return n, nil
}

func lfTreeHeight[K infra.OrderedKey](arena *lfArena[K], ref nodeRef) int {
	if ref.isNull() {
		return 0
	}
	node := arena.nodeOf(ref)
	return 1 + max(lfTreeHeight(arena, node.loadLeft()), lfTreeHeight(arena, node.loadRight()))
}
