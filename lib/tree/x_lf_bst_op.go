package tree

import (
	"sync/atomic"

	"github.com/benz9527/xavl/lib/infra"
)

// opFlag is the status tag of a node's op slot.
type opFlag uint8

const (
	opNone opFlag = iota
	opMark
	opRotate // Reserved. The relaxed-balance tree publishes no rotation.
	opInsert
	opRelocate
	opFlagMax
)

func (f opFlag) String() string {
	switch f {
	case opNone:
		return "none"
	case opMark:
		return "mark"
	case opRotate:
		return "rotate"
	case opInsert:
		return "insert"
	case opRelocate:
		return "relocate"
	default:
	}
	return "unknown"
}

const (
	relocateOngoing int32 = iota
	relocateSuccessful
	relocateFailed
)

// opRef is the tagged op reference stored in a node's op slot.
// It is immutable. Each descriptor owns one canonical opRef per
// flag, so comparing two *opRef compares the descriptor identity
// and the flag by a single word. That is what the CAS of the op
// slot needs.
type opRef[K infra.OrderedKey] struct {
	flag opFlag
	op   *operation[K]
}

func (ref *opRef[K]) is(flag opFlag) bool { return ref.flag == flag }

// operation is the descriptor of an in-flight structural change.
// It is a tagged union, the flag of the published opRef tells
// which part is meaningful.
//
// Insert (child CAS): replaces the child slot of the destination,
// from expected to update. A splice of helpMarked is an insert
// whose expected node is unlinked and retired by the winner of
// the child CAS.
//
// Relocate: moves the replaceKey (successor's) into dest, which
// holds removeKey, then the successor is marked and spliced.
type operation[K infra.OrderedKey] struct {
	refs [opFlagMax]opRef[K]

	isLeft         bool
	retireExpected bool
	expected       nodeRef
	update         nodeRef

	state      atomic.Int32
	dest       *lfNode[K]
	destOp     *opRef[K]
	removeKey  *K
	replaceKey *K
}

func newOperation[K infra.OrderedKey]() *operation[K] {
	op := &operation[K]{}
	for f := opNone; f < opFlagMax; f++ {
		op.refs[f] = opRef[K]{flag: f, op: op}
	}
	return op
}

func newInsertOp[K infra.OrderedKey](isLeft bool, expected, update nodeRef) *operation[K] {
	op := newOperation[K]()
	op.isLeft = isLeft
	op.expected = expected
	op.update = update
	return op
}

func newSpliceOp[K infra.OrderedKey](isLeft bool, removed, survivor nodeRef) *operation[K] {
	op := newInsertOp[K](isLeft, removed, survivor)
	op.retireExpected = true
	return op
}

func newRelocateOp[K infra.OrderedKey](dest *lfNode[K], destOp *opRef[K], removeKey, replaceKey *K) *operation[K] {
	op := newOperation[K]()
	op.state.Store(relocateOngoing)
	op.dest = dest
	op.destOp = destOp
	op.removeKey = removeKey
	op.replaceKey = replaceKey
	return op
}

// flagged returns the canonical reference of op tagged by flag.
func (op *operation[K]) flagged(flag opFlag) *opRef[K] {
	return &op.refs[flag]
}
