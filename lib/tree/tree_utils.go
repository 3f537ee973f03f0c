package tree

import (
	"bufio"
	"fmt"
	"io"

	"github.com/benz9527/xavl/lib/infra"
)

// Inorder traversal of the node views. The action returns false
// to stop the iteration.
func foreachInOrder[K infra.OrderedKey](root AVLNode[K], action func(idx int64, key K) bool) {
	if root == nil || action == nil {
		return
	}
	stack := make([]AVLNode[K], 0, 32)
	defer func() {
		clear(stack)
	}()

	idx := int64(0)
	for aux := root; aux != nil || len(stack) > 0; {
		for ; aux != nil; aux = aux.Left() {
			stack = append(stack, aux)
		}
		aux = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !action(idx, aux.Key()) {
			return
		}
		idx++
		aux = aux.Right()
	}
}

// Root-left-right keys, prefixed by the "preorder" line.
func writePreorder[K infra.OrderedKey](w io.Writer, root AVLNode[K]) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("preorder\n"); err != nil {
		return err
	}
	if root != nil {
		stack := make([]AVLNode[K], 0, 32)
		stack = append(stack, root)
		first := true
		for len(stack) > 0 {
			aux := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !first {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			first = false
			if _, err := fmt.Fprint(bw, aux.Key()); err != nil {
				return err
			}
			if r := aux.Right(); r != nil {
				stack = append(stack, r)
			}
			if l := aux.Left(); l != nil {
				stack = append(stack, l)
			}
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}
