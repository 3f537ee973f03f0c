package tree

import (
	"github.com/benz9527/xavl/lib/infra"
)

// helpSeek completes the operation published on curr, which was met
// by a seek on its path.
func (tree *xLockFreeBST[K]) helpSeek(pred *lfNode[K], predOp *opRef[K], curr *lfNode[K], currOp *opRef[K]) {
	switch currOp.flag {
	case opInsert:
		tree.stats.inc(statHelpInserts)
		tree.helpInsert(currOp.op, curr)
	case opRelocate:
		tree.stats.inc(statHelpRelocates)
		tree.helpRelocate(currOp.op, pred, predOp, curr)
	case opMark:
		tree.stats.inc(statHelpMarks)
		tree.helpMarked(pred, predOp, curr)
	default:
		panic(infra.WrapErrorStackWithMessage(errXAVLUnknownOpFlag, currOp.flag.String()))
	}
}

// helpInsert is idempotent, every step is a CAS from the state the
// descriptor was built on.
func (tree *xLockFreeBST[K]) helpInsert(op *operation[K], dest *lfNode[K]) {
	if dest.child(op.isLeft).CompareAndSwap(uint64(op.expected), uint64(op.update)) && op.retireExpected {
		// Only the winner of the child CAS unlinks the node.
		tree.epochs.retire(op.expected.handle())
	}
	dest.op.CompareAndSwap(op.flagged(opInsert), op.flagged(opNone))
}

// helpMarked splices the marked curr out of pred. curr has at most
// one child and it is frozen, so every helper builds the same
// replacement. A failed CAS on pred's op means another helper has
// done it or pred changed, and the seek of the next attempt will
// meet curr again if it is still linked.
func (tree *xLockFreeBST[K]) helpMarked(pred *lfNode[K], predOp *opRef[K], curr *lfNode[K]) {
	currRef := curr.ref()
	survivor := curr.loadLeft()
	if survivor.isNull() {
		survivor = curr.loadRight()
		if survivor.isNull() {
			survivor = currRef.nulled()
		}
	}
	op := newSpliceOp[K](pred.loadLeft() == currRef, currRef, survivor)
	if pred.op.CompareAndSwap(predOp, op.flagged(opInsert)) {
		tree.helpInsert(op, pred)
	}
}

// helpRelocate drives the relocation descriptor published on the
// successor curr. It returns whether the relocation has succeeded.
func (tree *xLockFreeBST[K]) helpRelocate(op *operation[K], pred *lfNode[K], predOp *opRef[K], curr *lfNode[K]) bool {
	seenState := op.state.Load()
	if seenState == relocateOngoing {
		// The destination is claimed once, any helper observing the
		// claim settles the state the same way.
		if op.dest.op.CompareAndSwap(op.destOp, op.flagged(opRelocate)) ||
			op.dest.op.Load() == op.flagged(opRelocate) {
			op.state.CompareAndSwap(relocateOngoing, relocateSuccessful)
		} else {
			op.state.CompareAndSwap(relocateOngoing, relocateFailed)
		}
		seenState = op.state.Load()
	}
	if seenState == relocateSuccessful {
		op.dest.key.CompareAndSwap(op.removeKey, op.replaceKey)
		op.dest.op.CompareAndSwap(op.flagged(opRelocate), op.flagged(opNone))
	}

	result := seenState == relocateSuccessful
	if op.dest == curr {
		return result
	}
	next := opNone
	if result {
		next = opMark
	}
	curr.op.CompareAndSwap(op.flagged(opRelocate), op.flagged(next))
	if result {
		if op.dest == pred {
			predOp = op.flagged(opNone)
		}
		tree.helpMarked(pred, predOp, curr)
	}
	return result
}
