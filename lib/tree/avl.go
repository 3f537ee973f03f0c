package tree

import (
	"github.com/benz9527/xavl/lib/infra"
)

// References:
// https://en.wikipedia.org/wiki/AVL_tree
// https://github.com/bitmark-inc/bitmarkd/blob/master/avl/avl.go
//
// The recursive AVL is shared by the coarse-grained and the
// serial sets. It is not safe for concurrent use by itself.

var (
	_ AVLNode[int] = (*avlNode[int])(nil)
)

type avlNode[K infra.OrderedKey] struct {
	key    K
	height int32
	left   *avlNode[K]
	right  *avlNode[K]
}

func (node *avlNode[K]) Key() K        { return node.key }
func (node *avlNode[K]) Height() int32 { return node.height }

func (node *avlNode[K]) Left() AVLNode[K] {
	if node.left == nil {
		return nil
	}
	return node.left
}

func (node *avlNode[K]) Right() AVLNode[K] {
	if node.right == nil {
		return nil
	}
	return node.right
}

func (node *avlNode[K]) fixHeight() {
	node.height = 1 + max(avlHeight(node.left), avlHeight(node.right))
}

func avlHeight[K infra.OrderedKey](node *avlNode[K]) int32 {
	if node == nil {
		return 0
	}
	return node.height
}

func avlBalance[K infra.OrderedKey](node *avlNode[K]) int32 {
	if node == nil {
		return 0
	}
	return avlHeight(node.left) - avlHeight(node.right)
}

// Right rotation:
//
//	    y          x
//	   / \        / \
//	  x   T3 => T1   y
//	 / \            / \
//	T1  T2         T2  T3
func avlRotateRight[K infra.OrderedKey](y *avlNode[K]) *avlNode[K] {
	x := y.left
	y.left = x.right
	x.right = y
	y.fixHeight()
	x.fixHeight()
	return x
}

func avlRotateLeft[K infra.OrderedKey](x *avlNode[K]) *avlNode[K] {
	y := x.right
	x.right = y.left
	y.left = x
	x.fixHeight()
	y.fixHeight()
	return y
}

// avlRebalance restores the balance factor of node after one of its
// subtrees changed height by one, returning the new subtree root.
func avlRebalance[K infra.OrderedKey](node *avlNode[K]) *avlNode[K] {
	node.fixHeight()
	switch b := avlBalance(node); {
	case b > 1:
		if /* left right */ avlBalance(node.left) < 0 {
			node.left = avlRotateLeft(node.left)
		}
		return avlRotateRight(node)
	case b < -1:
		if /* right left */ avlBalance(node.right) > 0 {
			node.right = avlRotateRight(node.right)
		}
		return avlRotateLeft(node)
	default:
	}
	return node
}

type avlTree[K infra.OrderedKey] struct {
	root  *avlNode[K]
	count int64
}

func (tree *avlTree[K]) len() int64 {
	return tree.count
}

func (tree *avlTree[K]) rootView() AVLNode[K] {
	if tree.root == nil {
		return nil
	}
	return tree.root
}

func (tree *avlTree[K]) insert(key K) bool {
	if infra.IsNaNKey(key) {
		return false
	}
	var inserted bool
	tree.root, inserted = avlInsert(tree.root, key)
	if inserted {
		tree.count++
	}
	return inserted
}

func avlInsert[K infra.OrderedKey](node *avlNode[K], key K) (*avlNode[K], bool) {
	if node == nil {
		return &avlNode[K]{key: key, height: 1}, true
	}
	var inserted bool
	switch {
	case key < node.key:
		node.left, inserted = avlInsert(node.left, key)
	case key > node.key:
		node.right, inserted = avlInsert(node.right, key)
	default:
		return node, false
	}
	if !inserted {
		return node, false
	}
	return avlRebalance(node), true
}

func (tree *avlTree[K]) delete(key K) bool {
	var deleted bool
	tree.root, deleted = avlDelete(tree.root, key)
	if deleted {
		tree.count--
	}
	return deleted
}

func avlDelete[K infra.OrderedKey](node *avlNode[K], key K) (*avlNode[K], bool) {
	if node == nil {
		return nil, false
	}
	var deleted bool
	switch {
	case key < node.key:
		node.left, deleted = avlDelete(node.left, key)
	case key > node.key:
		node.right, deleted = avlDelete(node.right, key)
	default:
		if node.left == nil {
			return node.right, true
		} else if node.right == nil {
			return node.left, true
		}
		// Two children, borrow the key of the in-order successor.
		succ := node.right
		for succ.left != nil {
			succ = succ.left
		}
		node.key = succ.key
		node.right, _ = avlDelete(node.right, succ.key)
		deleted = true
	}
	if !deleted {
		return node, false
	}
	return avlRebalance(node), true
}

func (tree *avlTree[K]) search(key K) bool {
	for aux := tree.root; aux != nil; {
		switch {
		case key < aux.key:
			aux = aux.left
		case key > aux.key:
			aux = aux.right
		default:
			return true
		}
	}
	return false
}
