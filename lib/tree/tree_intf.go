package tree

import (
	"io"
	"strings"

	"github.com/benz9527/xavl/lib/infra"
)

type SetKind uint8

const (
	// CoarseAVL gates a recursive AVL with a reader-group lock.
	CoarseAVL SetKind = 1 + iota
	// SerialAVL is a recursive AVL without internal locking.
	SerialAVL
	// LockFreeBST is the descriptor based non-blocking internal BST.
	LockFreeBST
)

func (k SetKind) String() string {
	switch k {
	case CoarseAVL:
		return "coarse"
	case SerialAVL:
		return "serial"
	case LockFreeBST:
		return "lockfree"
	default:
	}
	return "unknown"
}

func ParseSetKind(kind string) (SetKind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "coarse":
		return CoarseAVL, nil
	case "serial":
		return SerialAVL, nil
	case "lockfree", "lock-free":
		return LockFreeBST, nil
	default:
	}
	return 0, infra.WrapErrorStackWithMessage(ErrXAVLUnknownKind, kind)
}

// MaintainsHeight reports whether the nodes store the AVL height
// and the balance factor is kept under every mutation.
func (k SetKind) MaintainsHeight() bool {
	return k == CoarseAVL || k == SerialAVL
}

// AVLNode is a read-only view of a tree vertex.
// Nil child is returned as a nil interface.
type AVLNode[K infra.OrderedKey] interface {
	Key() K
	// Height returns the stored height, or -1 if the node
	// does not maintain it.
	Height() int32
	Left() AVLNode[K]
	Right() AVLNode[K]
}

// OrderedSet is the capability shared by the three strategies.
// Insert, Delete and Search are safe for concurrent use except
// for the serial variant without the external lock.
// PreorderDump, Foreach and Root observe a consistent shape
// only at quiescence for the lock-free variant.
type OrderedSet[K infra.OrderedKey] interface {
	Kind() SetKind
	Len() int64
	Insert(key K) bool
	Delete(key K) bool
	Search(key K) bool
	Foreach(action func(idx int64, key K) bool)
	PreorderDump(w io.Writer) error
	Root() AVLNode[K]
}

// Rebalancer is implemented by the sets whose shape is only
// relaxed-balanced under concurrency.
// Rebalance must run at quiescence, ErrXAVLNotQuiescent is
// returned if a concurrent mutation is detected.
type Rebalancer interface {
	Rebalance() error
}

// Quiescer releases the retired nodes at quiescence and returns
// how many of them are recycled.
type Quiescer interface {
	Quiesce() (int, error)
}

// SetStats is a snapshot of the set counters.
type SetStats struct {
	Inserts           uint64
	Deletes           uint64
	Searches          uint64
	ContentionRetries uint64
	NestedSeekAborts  uint64
	HelpInserts       uint64
	HelpMarks         uint64
	HelpRelocates     uint64
	RelocateFailures  uint64
	Retired           uint64
	Reclaimed         uint64
	Epoch             uint64
}

type StatsReporter interface {
	Stats() SetStats
}
