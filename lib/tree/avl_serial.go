package tree

import (
	"io"

	"github.com/benz9527/xavl/lib/infra"
)

var (
	_ OrderedSet[uint8] = (*xSerialAVL[uint8])(nil)
)

// xSerialAVL offers no internal synchronization. It is driven
// serially, or wrapped by the setDelegator (WithSerialExternalLock).
type xSerialAVL[K infra.OrderedKey] struct {
	tree avlTree[K]
}

func (set *xSerialAVL[K]) Kind() SetKind     { return SerialAVL }
func (set *xSerialAVL[K]) Len() int64        { return set.tree.len() }
func (set *xSerialAVL[K]) Insert(key K) bool { return set.tree.insert(key) }
func (set *xSerialAVL[K]) Delete(key K) bool { return set.tree.delete(key) }
func (set *xSerialAVL[K]) Search(key K) bool { return set.tree.search(key) }
func (set *xSerialAVL[K]) Root() AVLNode[K]  { return set.tree.rootView() }

func (set *xSerialAVL[K]) Foreach(action func(idx int64, key K) bool) {
	foreachInOrder[K](set.tree.rootView(), action)
}

func (set *xSerialAVL[K]) PreorderDump(w io.Writer) error {
	return writePreorder[K](w, set.tree.rootView())
}
