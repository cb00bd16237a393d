package sumtree

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/schuko/tracing"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T, capacity, cols int) Tree {
	a, err := packed.New(capacity, 1)
	require.NoError(t, err)
	tree, err := Init(a, 0, cols)
	require.NoError(t, err)
	return tree
}

func contents(tree Tree) [][]int64 {
	rows := make([][]int64, tree.Size())
	for i := range rows {
		rows[i] = tree.Row(i)
	}
	return rows
}

func checkSums(t *testing.T, tree Tree) {
	t.Helper()
	require.NoError(t, tree.Check())
	n := tree.Size()
	for c := 0; c < tree.Columns(); c++ {
		for from := 0; from <= n; from++ {
			var sum int64
			for to := from; to <= n; to++ {
				if s := tree.Sum(c, from, to); s != sum {
					t.Fatalf("expected sum(%d,%d,%d) = %d, is %d", c, from, to, sum, s)
				}
				if to < n {
					sum += tree.Access(c, to)
				}
			}
		}
	}
}

func TestSumTreeInsertAccess(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 4096, 2)
	require.NoError(t, tree.Insert(0, []int64{1, 10}, []int64{3, 30}))
	require.NoError(t, tree.Insert(1, []int64{2, 20}))
	require.Equal(t, 3, tree.Size())
	require.Equal(t, [][]int64{{1, 10}, {2, 20}, {3, 30}}, contents(tree))
	require.Equal(t, int64(60), tree.Total(1))
	require.Equal(t, int64(5), tree.Sum(0, 1, 3))
	checkSums(t, tree)
}

func TestSumTreeIndexConsistency(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	tracer().SetTraceLevel(tracing.LevelError)
	//
	rnd := rand.New(rand.NewSource(1))
	tree := newTree(t, 64*1024, 3)
	var model [][]int64
	for k := 0; k < 150; k++ {
		row := []int64{int64(rnd.Intn(10)), int64(rnd.Intn(100) - 50), int64(k)}
		idx := rnd.Intn(len(model) + 1)
		require.NoError(t, tree.Insert(idx, row))
		model = append(model[:idx], append([][]int64{row}, model[idx:]...)...)
		if k%7 == 0 && len(model) > 3 {
			from := rnd.Intn(len(model) - 2)
			require.NoError(t, tree.Remove(from, from+2))
			model = append(model[:from], model[from+2:]...)
		}
		if k%25 == 0 {
			checkSums(t, tree)
		}
	}
	if diff := cmp.Diff(model, contents(tree)); diff != "" {
		t.Fatalf("tree differs from model (-want +got):\n%s", diff)
	}
	checkSums(t, tree)
}

func TestSumTreeNegativeTotals(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 1024, 1)
	require.NoError(t, tree.Insert(0, []int64{1}, []int64{1}, []int64{-1}, []int64{-1}, []int64{-1}))
	require.Equal(t, int64(-1), tree.Total(0))
	require.Equal(t, int64(-2), tree.Sum(0, 2, 4))
	tree.Add(0, []int64{5})
	require.Equal(t, int64(4), tree.Total(0))
}

func TestSumTreeFind(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 4096, 1)
	for i := 1; i <= 10; i++ {
		require.NoError(t, tree.Insert(i-1, []int64{int64(i)}))
	}
	r := tree.FindFw(0, 0, 15, packed.GE)
	require.Equal(t, packed.FindResult{Idx: 4, Prefix: 10}, r)
	r = tree.FindFw(0, 0, 15, packed.GT)
	require.Equal(t, packed.FindResult{Idx: 5, Prefix: 15}, r)
	r = tree.FindFw(0, 3, 100, packed.GE)
	require.Equal(t, packed.FindResult{Idx: 10, Prefix: 49}, r)
	r = tree.FindBw(0, 9, 10, packed.GE)
	require.Equal(t, packed.FindResult{Idx: 9, Prefix: 0}, r)
	r = tree.FindBw(0, 9, 11, packed.GE)
	require.Equal(t, packed.FindResult{Idx: 8, Prefix: 10}, r)
	r = tree.FindBw(0, 2, 7, packed.GE)
	require.Equal(t, packed.FindResult{Idx: -1, Prefix: 6}, r)
}

func TestSumTreeRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 8192, 2)
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert(i, []int64{int64(i), int64(-i)}))
	}
	var buf bytes.Buffer
	require.NoError(t, tree.Serialize(&buf))
	//
	other := newTree(t, 8192, 2)
	require.NoError(t, other.Deserialize(&buf))
	require.Equal(t, tree.Size(), other.Size())
	if diff := cmp.Diff(contents(tree), contents(other)); diff != "" {
		t.Fatalf("round trip differs (-want +got):\n%s", diff)
	}
	for c := 0; c < 2; c++ {
		for from := 0; from < 100; from += 7 {
			require.Equal(t, tree.Sum(c, from, 100), other.Sum(c, from, 100))
		}
	}
}

func TestSumTreeSplitMergeInverse(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	const n = 30
	for k := 0; k <= n; k++ {
		tree := newTree(t, 4096, 2)
		for i := 0; i < n; i++ {
			require.NoError(t, tree.Insert(i, []int64{int64(i), int64(i * i)}))
		}
		before := contents(tree)
		other := newTree(t, 4096, 2)
		require.NoError(t, tree.SplitTo(other, k))
		require.Equal(t, k, tree.Size())
		require.Equal(t, n-k, other.Size())
		checkSums(t, tree)
		checkSums(t, other)
		require.NoError(t, tree.CommitMergeWith(other))
		if diff := cmp.Diff(before, contents(tree)); diff != "" {
			t.Fatalf("split at %d and merge differs (-want +got):\n%s", k, diff)
		}
		checkSums(t, tree)
	}
}

func TestSumTreeCapacityBoundary(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 1024, 2)
	a := tree.alloc
	inserted := 0
	for {
		need := packed.AlignUp(Bytes(tree.Size()+1, 2)) - a.ElementSize(0)
		fits := need <= a.FreeSpace()
		before := append([]byte(nil), a.Bytes()...)
		upd, err := tree.PrepareInsert(a.NewUpdateState(), tree.Size(), []int64{1, 2})
		if err != nil {
			require.ErrorIs(t, err, packed.ErrCapacityExceeded)
			require.False(t, fits, "prepare failed although %d bytes would fit into %d", need, a.FreeSpace())
			require.Equal(t, before, a.Bytes(), "failed prepare modified block")
			break
		}
		require.True(t, fits)
		require.Equal(t, before, a.Bytes(), "prepare modified block")
		tree.Commit(upd)
		inserted++
	}
	require.Greater(t, inserted, 10)
	require.Equal(t, inserted, tree.Size())
	checkSums(t, tree)
}

func TestSumTreeSplitFailureLeavesTreesUnchanged(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 4096, 1)
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert(i, []int64{int64(i)}))
	}
	small := newTree(t, 128, 1)
	before := append([]byte(nil), tree.alloc.Bytes()...)
	err := tree.SplitTo(small, 10)
	require.ErrorIs(t, err, packed.ErrCapacityExceeded)
	require.Equal(t, before, tree.alloc.Bytes())
	require.Equal(t, 0, small.Size())
}

func TestSumTreeEvents(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 1024, 2)
	require.NoError(t, tree.Insert(0, []int64{1, 2}, []int64{3, 4}))
	d := packed.NewTreeDumper("sumtree")
	tree.GenerateDataEvents(d)
	t.Logf("\n%s", d.String())
	require.Contains(t, d.String(), "SUM_TREE")
	require.Contains(t, d.String(), "[1 3]")
}
