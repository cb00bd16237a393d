package vletree

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T, capacity int) Tree {
	a, err := packed.New(capacity, 1)
	require.NoError(t, err)
	tree, err := Init(a, 0)
	require.NoError(t, err)
	return tree
}

func randomValue(rnd *rand.Rand) uint64 {
	switch rnd.Intn(3) {
	case 0:
		return uint64(rnd.Intn(100))
	case 1:
		return uint64(rnd.Intn(100000))
	}
	return uint64(rnd.Int63n(1 << 40))
}

func TestVLEAccessAndSums(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	rnd := rand.New(rand.NewSource(5))
	tree := newTree(t, 32*1024)
	var model []uint64
	for k := 0; k < 300; k++ {
		v := randomValue(rnd)
		idx := rnd.Intn(len(model) + 1)
		require.NoError(t, tree.Insert(idx, v))
		model = append(model[:idx], append([]uint64{v}, model[idx:]...)...)
		if k%10 == 9 {
			at := rnd.Intn(len(model))
			require.NoError(t, tree.Remove(at, at+1))
			model = append(model[:at], model[at+1:]...)
		}
	}
	require.NoError(t, tree.Check())
	if diff := cmp.Diff(model, tree.Values()); diff != "" {
		t.Fatalf("values differ (-want +got):\n%s", diff)
	}
	for i := range model {
		require.Equal(t, model[i], tree.Access(i))
	}
	var sum int64
	for to := 0; to <= len(model); to++ {
		require.Equal(t, sum, tree.Sum(0, to))
		if to < len(model) {
			sum += int64(model[to])
		}
	}
}

func TestVLESmallValuesAreCompact(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 4096)
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert(i, uint64(i)))
	}
	require.Equal(t, 100, tree.DataSize())
	require.NoError(t, tree.Update(50, 1<<20))
	require.Equal(t, 99+CodeSize(1<<20), tree.DataSize())
	require.Equal(t, uint64(1<<20), tree.Access(50))
	require.NoError(t, tree.Check())
}

func TestVLEFind(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 4096)
	require.NoError(t, tree.Insert(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	require.Equal(t, packed.FindResult{Idx: 4, Prefix: 10}, tree.FindFw(0, 15, packed.GE))
	require.Equal(t, packed.FindResult{Idx: 6, Prefix: 0}, tree.FindBw(6, 7, packed.GE))
	require.Equal(t, packed.FindResult{Idx: -1, Prefix: 3}, tree.FindBw(1, 4, packed.GE))
}

func TestVLECapacityOnUpdate(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 256)
	a := tree.alloc
	for tree.Insert(tree.Size(), 1) == nil {
	}
	n := tree.Size()
	require.Greater(t, n, 50)
	before := append([]byte(nil), a.Bytes()...)
	// growing one value from 1 to 9 bytes needs more room than is left
	_, err := tree.PrepareUpdate(a.NewUpdateState(), 0, 1<<62)
	if a.FreeSpace() < 8 {
		require.ErrorIs(t, err, packed.ErrCapacityExceeded)
	}
	require.Equal(t, before, a.Bytes())
	require.Equal(t, n, tree.Size())
}

func TestVLESplitMergeRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	rnd := rand.New(rand.NewSource(8))
	values := make([]uint64, 60)
	for i := range values {
		values[i] = randomValue(rnd)
	}
	for _, k := range []int{0, 1, 8, 33, 59, 60} {
		tree := newTree(t, 4096)
		require.NoError(t, tree.Insert(0, values...))
		other := newTree(t, 4096)
		require.NoError(t, tree.SplitTo(other, k))
		require.Equal(t, k, tree.Size())
		require.NoError(t, tree.Check())
		require.NoError(t, other.Check())
		require.NoError(t, tree.CommitMergeWith(other))
		require.Equal(t, values, tree.Values())
	}
	tree := newTree(t, 4096)
	require.NoError(t, tree.Insert(0, values...))
	var buf bytes.Buffer
	require.NoError(t, tree.Serialize(&buf))
	copied := newTree(t, 4096)
	require.NoError(t, copied.Deserialize(&buf))
	require.Equal(t, values, copied.Values())
	require.Equal(t, tree.Total(), copied.Total())
}

func TestVLERejectsValuesOutOfSumRange(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	tree := newTree(t, 4096)
	err := tree.Insert(0, math.MaxUint64)
	require.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	require.Equal(t, 0, tree.Size())
	require.NoError(t, tree.Insert(0, math.MaxInt64))
	err = tree.Insert(1, 1)
	require.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	require.NoError(t, tree.Insert(1, 0))
	require.Equal(t, int64(math.MaxInt64), tree.Total())
	// replacing the large value frees its share of the total
	require.NoError(t, tree.Update(0, 10))
	require.NoError(t, tree.Insert(2, math.MaxInt64-10))
	err = tree.Update(1, 1)
	require.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	other := newTree(t, 4096)
	require.NoError(t, other.Insert(0, 1))
	err = tree.CommitMergeWith(other)
	require.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	require.Equal(t, []uint64{10, 0, math.MaxInt64 - 10}, tree.Values())
	require.Equal(t, int64(math.MaxInt64), tree.Total())
	require.NoError(t, tree.Check())
}
