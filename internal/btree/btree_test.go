package btree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func newIntTree(t *testing.T, order int) *Tree[int64] {
	t.Helper()
	mgr := NewMemNodeManager[int64]()
	tree, err := New(mgr, cmpInt, order)
	require.NoError(t, err)
	return tree
}

func TestInsertAndRangeScanOrdered(t *testing.T) {
	tree := newIntTree(t, 4)

	const n = 2000
	for i := int64(0); i < n; i++ {
		// insert in a scrambled order so splits exercise both directions
		v := (i * 7919) % n
		require.NoError(t, tree.Insert(Entry[int64]{Value: v, RowID: uint64(v)}))
	}

	cur, err := tree.First()
	require.NoError(t, err)

	var prev int64 = -1
	count := 0
	for {
		e, ok := cur.Entry()
		if !ok {
			break
		}
		require.GreaterOrEqual(t, e.Value, prev)
		prev = e.Value
		count++
		require.NoError(t, cur.Next())
	}
	require.Equal(t, n, count)
}

func TestFindFirstGE(t *testing.T) {
	tree := newIntTree(t, 4)
	for _, v := range []int64{10, 20, 30, 40, 50} {
		require.NoError(t, tree.Insert(Entry[int64]{Value: v, RowID: uint64(v)}))
	}

	cur, err := tree.FindFirstGE(Entry[int64]{Value: 25})
	require.NoError(t, err)
	e, ok := cur.Entry()
	require.True(t, ok)
	require.Equal(t, int64(30), e.Value)

	cur, err = tree.FindFirstGE(Entry[int64]{Value: 100})
	require.NoError(t, err)
	_, ok = cur.Entry()
	require.False(t, ok, "no entry should satisfy >= 100")
}

func TestNullKeysSortBeforeNonNull(t *testing.T) {
	tree := newIntTree(t, 4)
	require.NoError(t, tree.Insert(Entry[int64]{Value: 5, RowID: 1}))
	require.NoError(t, tree.Insert(Entry[int64]{Null: true, RowID: 2}))
	require.NoError(t, tree.Insert(Entry[int64]{Value: 1, RowID: 3}))
	require.NoError(t, tree.Insert(Entry[int64]{Null: true, RowID: 4}))

	cur, err := tree.First()
	require.NoError(t, err)

	var gotRowIDs []uint64
	for {
		e, ok := cur.Entry()
		if !ok {
			break
		}
		gotRowIDs = append(gotRowIDs, e.RowID)
		require.NoError(t, cur.Next())
	}

	require.Equal(t, []uint64{2, 4, 3, 1}, gotRowIDs)
}

func TestRemoveShrinksTreeAndPreservesOrder(t *testing.T) {
	tree := newIntTree(t, 4)

	const n = 500
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(Entry[int64]{Value: i, RowID: uint64(i)}))
	}

	for i := int64(0); i < n; i += 2 {
		require.NoError(t, tree.Remove(Entry[int64]{Value: i, RowID: uint64(i)}))
	}

	count, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, n/2, count)

	cur, err := tree.First()
	require.NoError(t, err)
	var prev int64 = -1
	for {
		e, ok := cur.Entry()
		if !ok {
			break
		}
		require.Equal(t, int64(1), e.Value%2, "only odd keys should remain")
		require.Greater(t, e.Value, prev)
		prev = e.Value
		require.NoError(t, cur.Next())
	}
}

func TestRemoveAllEntriesEmptiesTree(t *testing.T) {
	tree := newIntTree(t, 4)

	const n = 200
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(Entry[int64]{Value: i, RowID: uint64(i)}))
	}
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Remove(Entry[int64]{Value: i, RowID: uint64(i)}))
	}

	count, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestIndexRebuildEquivalence(t *testing.T) {
	// Two trees built from the same keys in different insertion orders
	// must converge on the same logical sequence (spec §8.2 rebuild
	// equivalence scenario, scaled down).
	values := []int64{42, 7, 19, 3, 88, 23, 1, 56, 34, 9, 77, 12}

	treeA := newIntTree(t, 4)
	for _, v := range values {
		require.NoError(t, treeA.Insert(Entry[int64]{Value: v, RowID: uint64(v)}))
	}

	reversed := make([]int64, len(values))
	for i, v := range values {
		reversed[len(values)-1-i] = v
	}
	treeB := newIntTree(t, 4)
	for _, v := range reversed {
		require.NoError(t, treeB.Insert(Entry[int64]{Value: v, RowID: uint64(v)}))
	}

	curA, err := treeA.First()
	require.NoError(t, err)
	curB, err := treeB.First()
	require.NoError(t, err)

	for {
		eA, okA := curA.Entry()
		eB, okB := curB.Entry()
		require.Equal(t, okA, okB)
		if !okA {
			break
		}
		require.Equal(t, eA.Value, eB.Value)
		require.NoError(t, curA.Next())
		require.NoError(t, curB.Next())
	}
}
