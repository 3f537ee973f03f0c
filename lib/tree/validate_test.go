package tree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/benz9527/xavl/lib/infra"
)

// corruptibleSet exposes a hand built shape through OrderedSet.
type corruptibleSet struct {
	xSerialAVL[int]
}

func newCorruptibleSet(t *testing.T, keys ...int) *corruptibleSet {
	set := &corruptibleSet{}
	for _, key := range keys {
		require.True(t, set.Insert(key))
	}
	require.NoError(t, Validate[int](set))
	return set
}

func TestValidate_HeightViolation(t *testing.T) {
	set := newCorruptibleSet(t, 2, 1, 3)
	set.tree.root.left.height = 5

	err := Validate[int](set)
	require.True(t, errors.Is(err, ErrXAVLHeightViolation))
	require.False(t, errors.Is(err, ErrXAVLOrderViolation))
	// The root stored height is still 2, computed from the real shape.
	require.Len(t, multierr.Errors(err), 1)

	var es infra.ErrorStack
	require.True(t, errors.As(err, &es))
	require.NotEmpty(t, es.Frames())
}

func TestValidate_BalanceViolation(t *testing.T) {
	set := newCorruptibleSet(t, 1)
	// A right chain of three nodes with consistent heights.
	set.tree.root.right = &avlNode[int]{key: 2, height: 2, right: &avlNode[int]{key: 3, height: 1}}
	set.tree.root.height = 3
	set.tree.count = 3

	err := Validate[int](set)
	require.True(t, errors.Is(err, ErrXAVLBalanceViolation))
	require.False(t, errors.Is(err, ErrXAVLHeightViolation))
	require.NoError(t, OrderViolationValidate[int](set.Root()))
}

func TestValidate_OrderViolation(t *testing.T) {
	set := newCorruptibleSet(t, 20, 10, 30, 5, 15)
	// 25 is greater than its parent 10, but escapes the bound of
	// the ancestor 20.
	set.tree.root.left.right.key = 25

	err := Validate[int](set)
	require.True(t, errors.Is(err, ErrXAVLOrderViolation))
	require.ErrorContains(t, err, "key 25 out of (10, 20)")
}

func TestValidate_CycleViolation(t *testing.T) {
	set := newCorruptibleSet(t, 2, 1, 3)
	set.tree.root.left.right = set.tree.root

	err := Validate[int](set)
	require.True(t, errors.Is(err, ErrXAVLCycleViolation))
	// The other walks are skipped on a cyclic shape.
	require.False(t, errors.Is(err, ErrXAVLOrderViolation))

	set = newCorruptibleSet(t, 2, 1, 3)
	set.tree.root.right = set.tree.root.left
	require.True(t, errors.Is(CycleViolationValidate[int](set.Root()), ErrXAVLCycleViolation))
}

func TestValidate_LenViolation(t *testing.T) {
	set := newCorruptibleSet(t, 2, 1, 3)
	set.tree.count = 4
	err := Validate[int](set)
	require.True(t, errors.Is(err, ErrXAVLLenViolation))
	require.ErrorContains(t, err, "len 4, reachable nodes 3")
}

func TestValidate_LockFreeSkipsHeight(t *testing.T) {
	set, err := NewOrderedSet[int](LockFreeBST)
	require.NoError(t, err)
	for key := 0; key < 16; key++ {
		require.True(t, set.Insert(key))
	}
	// A relaxed-balance shape is not a violation for the lock-free tree.
	require.NoError(t, Validate[int](set))
	require.Error(t, HeightViolationValidate[int](set.Root()))
	require.Error(t, BalanceViolationValidate[int](set.Root()))

	require.NoError(t, set.(Rebalancer).Rebalance())
	require.NoError(t, BalanceViolationValidate[int](set.Root()))
}

func TestValidate_EmptySet(t *testing.T) {
	for _, tc := range allSetTestcases() {
		t.Run(tc.name, func(tt *testing.T) {
			set := newTestSet[int](tt, tc)
			require.NoError(tt, Validate[int](set))
			require.NoError(tt, BalanceViolationValidate[int](set.Root()))
		})
	}
}
