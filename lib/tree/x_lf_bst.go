package tree

import (
	"io"
	"sync/atomic"

	"github.com/benz9527/xavl/lib/infra"
	"github.com/benz9527/xavl/xlog"
)

// References:
// https://dl.acm.org/doi/10.1145/2312005.2312036 (Howley, Jones. A non-blocking internal binary search tree)
// https://github.com/Quuxplusone/lock-free-bst

const defaultReclaimThreshold = 256

var (
	_ OrderedSet[int] = (*xLockFreeBST[int])(nil)
	_ Rebalancer      = (*xLockFreeBST[int])(nil)
	_ StatsReporter   = (*xLockFreeBST[int])(nil)
	_ Quiescer        = (*xLockFreeBST[int])(nil)
	_ AVLNode[int]    = lfNodeView[int]{}
)

type seekOutcome uint8

const (
	seekFound seekOutcome = iota
	seekLeftOfLeaf
	seekRightOfLeaf
	seekAbort
)

type seekRecord[K infra.OrderedKey] struct {
	pred    *lfNode[K]
	predOp  *opRef[K]
	curr    *lfNode[K]
	currOp  *opRef[K]
	currKey *K
}

// xLockFreeBST is the internal BST of the descriptor based
// non-blocking algorithm. Every key lives in the right subtree of
// the root sentinel. Update paths flag the op slot of the node that
// owns the changing child slot, any thread that meets a flagged
// node completes the pending operation before retrying its own.
type xLockFreeBST[K infra.OrderedKey] struct {
	root   *lfNode[K]
	arena  *lfArena[K]
	epochs *epochReclaimer
	count  atomic.Int64
	// Successful updates, Rebalance compares it across its rebuild.
	mutations atomic.Uint64
	stats     *lfStats
	logger    xlog.XLogger
	// The canonical refs of the nil descriptor. A fresh node starts
	// with idle[opNone], no descriptor ever returns to it.
	idle [opFlagMax]opRef[K]
}

func newXLockFreeBST[K infra.OrderedKey](o *setOptions) *xLockFreeBST[K] {
	tree := &xLockFreeBST[K]{
		logger: o.logger,
	}
	for f := opNone; f < opFlagMax; f++ {
		tree.idle[f] = opRef[K]{flag: f}
	}
	if o.statsEnabled {
		tree.stats = &lfStats{}
	}
	tree.arena = newLFArena[K](&tree.idle[opNone], o.logger)
	tree.epochs = newEpochReclaimer(o.reclaimThreshold, tree.arena.link, tree.arena.release, o.logger)
	var sentinel K
	tree.root = tree.arena.alloc(&sentinel)
	return tree
}

// flag returns the canonical reference of op tagged by flag, op
// might be the nil descriptor.
func (tree *xLockFreeBST[K]) flag(op *operation[K], flag opFlag) *opRef[K] {
	if op == nil {
		return &tree.idle[flag]
	}
	return op.flagged(flag)
}

func (tree *xLockFreeBST[K]) Kind() SetKind {
	return LockFreeBST
}

func (tree *xLockFreeBST[K]) Len() int64 {
	return tree.count.Load()
}

// seek descends from aux for the key and records the last two
// visited nodes with their op snapshots. A flagged node on the path
// makes the seek help it and restart. The outcome is validated by
// re-reading the op slots of the last node the path turned right at
// and of the last node, so a key relocated away during the descent
// cannot produce a false negative.
func (tree *xLockFreeBST[K]) seek(key K, aux *lfNode[K], rec *seekRecord[K]) seekOutcome {
	var (
		outcome     seekOutcome
		lastRight   *lfNode[K]
		lastRightOp *opRef[K]
		next        nodeRef
	)
retry:
	for {
		// The aux node is treated as smaller than the key.
		outcome = seekRightOfLeaf
		rec.pred, rec.predOp = nil, nil
		rec.curr = aux
		rec.currOp = aux.op.Load()
		rec.currKey = nil
		if !rec.currOp.is(opNone) {
			if aux == tree.root {
				tree.helpSeek(nil, nil, aux, rec.currOp)
				continue retry
			}
			return seekAbort
		}
		next = aux.loadRight()
		lastRight, lastRightOp = rec.curr, rec.currOp
		for !next.isNull() {
			rec.pred, rec.predOp = rec.curr, rec.currOp
			rec.curr = tree.arena.nodeOf(next)
			rec.currOp = rec.curr.op.Load()
			if !rec.currOp.is(opNone) {
				tree.helpSeek(rec.pred, rec.predOp, rec.curr, rec.currOp)
				tree.stats.inc(statContentionRetries)
				continue retry
			}
			rec.currKey = rec.curr.key.Load()
			if key < *rec.currKey {
				outcome = seekLeftOfLeaf
				next = rec.curr.loadLeft()
			} else if key > *rec.currKey {
				outcome = seekRightOfLeaf
				next = rec.curr.loadRight()
				lastRight, lastRightOp = rec.curr, rec.currOp
			} else {
				outcome = seekFound
				break
			}
		}
		if outcome != seekFound && lastRightOp != lastRight.op.Load() {
			continue retry
		}
		if rec.curr.op.Load() != rec.currOp {
			continue retry
		}
		return outcome
	}
}

func (tree *xLockFreeBST[K]) Insert(key K) bool {
	if infra.IsNaNKey(key) {
		return false
	}
	p := tree.epochs.pin()
	defer tree.epochs.unpin(p)

	var (
		rec  seekRecord[K]
		node *lfNode[K]
	)
	for {
		outcome := tree.seek(key, tree.root, &rec)
		if outcome == seekFound {
			if node != nil {
				// Never published.
				tree.arena.free(node)
			}
			return false
		}
		if node == nil {
			k := key
			node = tree.arena.alloc(&k)
		}
		isLeft := outcome == seekLeftOfLeaf
		expected := nodeRef(rec.curr.child(isLeft).Load())
		op := newInsertOp[K](isLeft, expected, node.ref())
		if rec.curr.op.CompareAndSwap(rec.currOp, op.flagged(opInsert)) {
			tree.helpInsert(op, rec.curr)
			tree.count.Add(1)
			tree.mutations.Add(1)
			tree.stats.inc(statInserts)
			return true
		}
		tree.stats.inc(statContentionRetries)
	}
}

func (tree *xLockFreeBST[K]) Delete(key K) bool {
	if infra.IsNaNKey(key) {
		return false
	}
	p := tree.epochs.pin()
	defer tree.epochs.unpin(p)

	var rec, succ seekRecord[K]
	for {
		if tree.seek(key, tree.root, &rec) != seekFound {
			return false
		}
		curr, currOp := rec.curr, rec.currOp
		if curr.loadLeft().isNull() || curr.loadRight().isNull() {
			// At most one child, mark and splice it out.
			if curr.op.CompareAndSwap(currOp, tree.flag(currOp.op, opMark)) {
				tree.helpMarked(rec.pred, rec.predOp, curr)
				tree.count.Add(-1)
				tree.mutations.Add(1)
				tree.stats.inc(statDeletes)
				return true
			}
			tree.stats.inc(statContentionRetries)
			continue
		}
		// Two children, the in-order successor's key is relocated
		// into curr and the successor is removed instead.
		if beforeSuccessorSeekHook != nil {
			beforeSuccessorSeekHook(curr)
		}
		if tree.seek(key, curr, &succ) != seekLeftOfLeaf || curr.op.Load() != currOp {
			tree.stats.inc(statNestedSeekAborts)
			continue
		}
		op := newRelocateOp[K](curr, currOp, rec.currKey, succ.currKey)
		if succ.curr.op.CompareAndSwap(succ.currOp, op.flagged(opRelocate)) {
			if tree.helpRelocate(op, succ.pred, succ.predOp, succ.curr) {
				tree.count.Add(-1)
				tree.mutations.Add(1)
				tree.stats.inc(statDeletes)
				return true
			}
			tree.stats.inc(statRelocateFailures)
			continue
		}
		tree.stats.inc(statContentionRetries)
	}
}

// Search runs the helping seek instead of a descriptor-free walk, so
// it never trusts a node without validation. A plain walk may report
// a marked node, whose delete has already returned, or miss a key
// moved upward by a relocation.
func (tree *xLockFreeBST[K]) Search(key K) bool {
	if infra.IsNaNKey(key) {
		return false
	}
	p := tree.epochs.pin()
	defer tree.epochs.unpin(p)

	tree.stats.inc(statSearches)
	var rec seekRecord[K]
	return tree.seek(key, tree.root, &rec) == seekFound
}

// liveNode skips the marked nodes that are still linked. A marked
// node is frozen with at most one child, the logical shape has the
// child in its place. Such a node is spliced by the next seek
// passing it.
func (tree *xLockFreeBST[K]) liveNode(ref nodeRef) *lfNode[K] {
	for !ref.isNull() {
		node := tree.arena.nodeOf(ref)
		if !node.op.Load().is(opMark) {
			return node
		}
		if ref = node.loadLeft(); ref.isNull() {
			ref = node.loadRight()
		}
	}
	return nil
}

func (tree *xLockFreeBST[K]) Root() AVLNode[K] {
	return lfNodeView[K]{tree: tree}.child(tree.root.loadRight())
}

func (tree *xLockFreeBST[K]) Foreach(action func(idx int64, key K) bool) {
	p := tree.epochs.pin()
	defer tree.epochs.unpin(p)
	foreachInOrder[K](tree.Root(), action)
}

func (tree *xLockFreeBST[K]) PreorderDump(w io.Writer) error {
	p := tree.epochs.pin()
	defer tree.epochs.unpin(p)
	return writePreorder[K](w, tree.Root())
}

func (tree *xLockFreeBST[K]) Stats() SetStats {
	return SetStats{
		Inserts:           tree.stats.load(statInserts),
		Deletes:           tree.stats.load(statDeletes),
		Searches:          tree.stats.load(statSearches),
		ContentionRetries: tree.stats.load(statContentionRetries),
		NestedSeekAborts:  tree.stats.load(statNestedSeekAborts),
		HelpInserts:       tree.stats.load(statHelpInserts),
		HelpMarks:         tree.stats.load(statHelpMarks),
		HelpRelocates:     tree.stats.load(statHelpRelocates),
		RelocateFailures:  tree.stats.load(statRelocateFailures),
		Retired:           tree.epochs.retired.Load(),
		Reclaimed:         tree.epochs.reclaimed.Load(),
		Epoch:             tree.epochs.epoch(),
	}
}

// lfNodeView is a comparable read-only view of a published and
// unmarked node.
type lfNodeView[K infra.OrderedKey] struct {
	tree *xLockFreeBST[K]
	node *lfNode[K]
}

func (v lfNodeView[K]) Key() K {
	return *v.node.key.Load()
}

func (v lfNodeView[K]) Height() int32 {
	return -1
}

func (v lfNodeView[K]) Left() AVLNode[K] {
	return v.child(v.node.loadLeft())
}

func (v lfNodeView[K]) Right() AVLNode[K] {
	return v.child(v.node.loadRight())
}

func (v lfNodeView[K]) child(ref nodeRef) AVLNode[K] {
	node := v.tree.liveNode(ref)
	if node == nil {
		return nil
	}
	return lfNodeView[K]{tree: v.tree, node: node}
}
