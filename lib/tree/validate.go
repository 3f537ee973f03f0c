package tree

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/benz9527/xavl/lib/infra"
)

// The validators walk the read-only views, they must run at
// quiescence. Every violation is reported, not only the first one.

// HeightViolationValidate checks the stored height of every node
// equals 1 + max(left height, right height).
func HeightViolationValidate[K infra.OrderedKey](root AVLNode[K]) error {
	var merr error
	var walk func(node AVLNode[K]) int32
	walk = func(node AVLNode[K]) int32 {
		if node == nil {
			return 0
		}
		h := 1 + max(walk(node.Left()), walk(node.Right()))
		if stored := node.Height(); stored != h {
			merr = multierr.Append(merr, infra.WrapErrorStackWithMessage(ErrXAVLHeightViolation,
				fmt.Sprintf("key %v stored height %d, computed %d", node.Key(), stored, h),
			))
		}
		return h
	}
	walk(root)
	return merr
}

// BalanceViolationValidate checks the balance factor of every node
// by the computed heights, so it applies to the nodes without the
// stored height too.
func BalanceViolationValidate[K infra.OrderedKey](root AVLNode[K]) error {
	var merr error
	var walk func(node AVLNode[K]) int32
	walk = func(node AVLNode[K]) int32 {
		if node == nil {
			return 0
		}
		lh, rh := walk(node.Left()), walk(node.Right())
		if bf := lh - rh; bf < -1 || bf > 1 {
			merr = multierr.Append(merr, infra.WrapErrorStackWithMessage(ErrXAVLBalanceViolation,
				fmt.Sprintf("key %v balance factor %d", node.Key(), bf),
			))
		}
		return 1 + max(lh, rh)
	}
	walk(root)
	return merr
}

// OrderViolationValidate checks every key is inside the open
// interval inherited from its ancestors.
func OrderViolationValidate[K infra.OrderedKey](root AVLNode[K]) error {
	var merr error
	var walk func(node AVLNode[K], lo, hi *K)
	walk = func(node AVLNode[K], lo, hi *K) {
		if node == nil {
			return
		}
		key := node.Key()
		if (lo != nil && !(*lo < key)) || (hi != nil && !(key < *hi)) {
			merr = multierr.Append(merr, infra.WrapErrorStackWithMessage(ErrXAVLOrderViolation,
				fmt.Sprintf("key %v out of (%s, %s)", key, boundString(lo), boundString(hi)),
			))
		}
		walk(node.Left(), lo, &key)
		walk(node.Right(), &key, hi)
	}
	walk(root, nil, nil)
	return merr
}

func boundString[K infra.OrderedKey](bound *K) string {
	if bound == nil {
		return "inf"
	}
	return fmt.Sprint(*bound)
}

// CycleViolationValidate checks no node is reachable twice, which
// covers a node being its own child.
func CycleViolationValidate[K infra.OrderedKey](root AVLNode[K]) error {
	if root == nil {
		return nil
	}
	var merr error
	visited := make(map[AVLNode[K]]struct{}, 64)
	stack := []AVLNode[K]{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[node]; ok {
			merr = multierr.Append(merr, infra.WrapErrorStackWithMessage(ErrXAVLCycleViolation,
				fmt.Sprintf("key %v is reachable twice", node.Key()),
			))
			continue
		}
		visited[node] = struct{}{}
		if r := node.Right(); r != nil {
			stack = append(stack, r)
		}
		if l := node.Left(); l != nil {
			stack = append(stack, l)
		}
	}
	return merr
}

// LenViolationValidate checks the counter of the set equals the
// number of reachable nodes.
func LenViolationValidate[K infra.OrderedKey](set OrderedSet[K]) error {
	n := int64(0)
	foreachInOrder[K](set.Root(), func(int64, K) bool {
		n++
		return true
	})
	if l := set.Len(); l != n {
		return infra.WrapErrorStackWithMessage(ErrXAVLLenViolation,
			fmt.Sprintf("len %d, reachable nodes %d", l, n),
		)
	}
	return nil
}

// Validate runs the checks applicable to the kind of the set.
// The cycle check goes first, the other walks would not terminate
// on a cyclic shape.
func Validate[K infra.OrderedKey](set OrderedSet[K]) error {
	root := set.Root()
	if err := CycleViolationValidate[K](root); err != nil {
		return err
	}
	var merr error
	if set.Kind().MaintainsHeight() {
		merr = multierr.Combine(
			HeightViolationValidate[K](root),
			BalanceViolationValidate[K](root),
		)
	}
	return multierr.Combine(
		merr,
		OrderViolationValidate[K](root),
		LenViolationValidate[K](set),
	)
}
