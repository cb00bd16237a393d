package btree

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	gbtree "github.com/google/btree"
	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/pbtree/store"
	"github.com/npillmayer/schuko/schukonf/testconfig"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(v int64) node.Entry {
	return node.Entry{Values: []int64{v}}
}

func rootLevel(t *testing.T, tr *Tree) int {
	n, err := tr.store.Node(tr.Root())
	require.NoError(t, err)
	return n.Level()
}

func TestOptions(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	cfg := node.SumConfig("values", 1)
	tr, err := New(store.NewMemory(512), cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultLowWater, tr.lowWater)
	assert.False(t, tr.check)
	conf := testconfig.Conf{KeyLowWater: 40, KeyCheck: "true"}
	tr, err = New(store.NewMemory(512), cfg, LowWaterMark(10), Configure(conf))
	require.NoError(t, err)
	assert.Equal(t, 40, tr.lowWater)
	assert.True(t, tr.check)
	_, err = New(store.NewMemory(512), node.SumConfig("bad", 0))
	assert.True(t, errors.Is(err, node.ErrConfig))
}

func TestWalkOverBuiltTree(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	tr, err := New(store.NewMemory(512), node.SumConfig("values", 1), ConsistencyChecks(true))
	require.NoError(t, err)
	for v := int64(1); v <= 10; v++ {
		require.NoError(t, tr.Append(value(v)))
	}
	res, err := tr.Walk().FindFw(1, 15, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pos)
	res, err = tr.Walk().SkipFw(0, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Pos)
	e, err := tr.Get(6)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, e.Values)
	require.NoError(t, tr.Update(6, value(70)))
	total, err := tr.Walk().Count(1)
	require.NoError(t, err)
	assert.Equal(t, int64(55+63), total)
}

func TestSumTreeGrowsAndShrinks(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	pages, err := store.NewPaged(512, 3)
	require.NoError(t, err)
	tr, err := New(pages, node.SumConfig("values", 1), ConsistencyChecks(true))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	var model []int64
	for i := 0; i < 600; i++ {
		pos := rng.Intn(len(model) + 1)
		v := int64(rng.Intn(1000))
		require.NoError(t, tr.Insert(pos, value(v)), "insert #%d at %d", i, pos)
		model = append(model, 0)
		copy(model[pos+1:], model[pos:])
		model[pos] = v
	}
	assert.GreaterOrEqual(t, rootLevel(t, tr), 2)
	assertSums(t, tr, model)
	t.Logf("paged store: %s", pages.Stats())
	for len(model) > 0 {
		pos := rng.Intn(len(model))
		require.NoError(t, tr.Remove(pos), "remove at %d of %d", pos, len(model))
		model = append(model[:pos], model[pos+1:]...)
		if len(model)%100 == 0 {
			assertSums(t, tr, model)
		}
	}
	size, err := tr.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
	assert.Equal(t, 0, rootLevel(t, tr))
	assert.Equal(t, 1, pages.Len())
}

func assertSums(t *testing.T, tr *Tree, model []int64) {
	t.Helper()
	got := []int64{}
	require.NoError(t, tr.Each(func(pos int, e node.Entry) bool {
		got = append(got, e.Values[0])
		return true
	}))
	if diff := cmp.Diff(append([]int64{}, model...), got); diff != "" {
		t.Fatalf("entries differ (-want +got):\n%s", diff)
	}
	w := tr.Walk()
	var sum int64
	for pos := 0; pos <= len(model); pos++ {
		if pos%37 == 0 || pos == len(model) {
			prefix, err := w.PrefixSum(pos, 1)
			require.NoError(t, err)
			assert.Equal(t, sum, prefix, "prefix sum up to %d", pos)
		}
		if pos < len(model) {
			sum += model[pos]
		}
	}
}

type kv struct {
	key   int64
	value uint64
}

func TestMapAgainstReferenceModel(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	conf := testconfig.Conf{KeyCheck: true, KeyLowWater: 30}
	tr, err := New(store.NewMemory(512), node.MapConfig("map"), Configure(conf))
	require.NoError(t, err)
	model := gbtree.NewG[kv](4, func(a, b kv) bool { return a.key < b.key })
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2500; i++ {
		key := int64(rng.Intn(400))
		if rng.Intn(10) < 6 {
			v := rng.Uint64() >> uint(16+rng.Intn(48))
			require.NoError(t, tr.Put(key, v), "put #%d %d", i, key)
			model.ReplaceOrInsert(kv{key, v})
		} else {
			ok, err := tr.Delete(key)
			require.NoError(t, err, "delete #%d %d", i, key)
			_, had := model.Delete(kv{key: key})
			assert.Equal(t, had, ok, "delete #%d %d", i, key)
		}
		probe := int64(rng.Intn(400))
		v, ok, err := tr.Lookup(probe)
		require.NoError(t, err)
		want, had := model.Get(kv{key: probe})
		require.Equal(t, had, ok, "lookup #%d %d", i, probe)
		assert.Equal(t, want.value, v, "lookup #%d %d", i, probe)
	}
	size, err := tr.Size()
	require.NoError(t, err)
	assert.Equal(t, model.Len(), size)
	var want, got []kv
	model.Ascend(func(item kv) bool {
		want = append(want, item)
		return true
	})
	require.NoError(t, tr.Each(func(pos int, e node.Entry) bool {
		got = append(got, kv{e.Key, e.Value})
		return true
	}))
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(kv{})); diff != "" {
		t.Errorf("map differs from model (-want +got):\n%s", diff)
	}
	vsum, err := tr.Walk().Count(1)
	require.NoError(t, err)
	var wsum uint64
	for _, item := range want {
		wsum += item.value
	}
	assert.Equal(t, int64(wsum), vsum)
}

func TestSymbolTreeSelectAndRank(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	tr, err := New(store.NewMemory(512), node.SymbolConfig("dna", 4), ConsistencyChecks(true))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	var model []int
	sym := 0
	for i := 0; i < 1500; i++ {
		if rng.Intn(4) == 0 {
			sym = rng.Intn(4)
		}
		pos := rng.Intn(len(model) + 1)
		require.NoError(t, tr.Insert(pos, node.Entry{Symbol: sym}), "insert #%d at %d", i, pos)
		model = append(model, 0)
		copy(model[pos+1:], model[pos:])
		model[pos] = sym
	}
	assert.GreaterOrEqual(t, rootLevel(t, tr), 1)
	w := tr.Walk()
	counts := make([]int, 4)
	for pos, s := range model {
		if pos%41 == 0 {
			e, err := tr.Get(pos)
			require.NoError(t, err)
			assert.Equal(t, s, e.Symbol, "symbol at %d", pos)
			r, err := w.Rank(pos, s)
			require.NoError(t, err)
			assert.Equal(t, counts[s], r, "rank of %d at %d", s, pos)
			res, err := w.SelectFw(0, s, counts[s]+1)
			require.NoError(t, err)
			assert.Equal(t, pos, res.Pos, "select %d-th %d", counts[s]+1, s)
		}
		counts[s]++
	}
	for s := 0; s < 4; s++ {
		c, err := w.Count(1 + s)
		require.NoError(t, err)
		assert.Equal(t, int64(counts[s]), c, "count of %d", s)
	}
	for len(model) > 0 {
		pos := rng.Intn(len(model))
		require.NoError(t, tr.Remove(pos))
		model = append(model[:pos], model[pos+1:]...)
	}
	assert.Equal(t, 0, rootLevel(t, tr))
}

func TestEntryTooLargeForBlock(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	cfg := node.SumConfig("wide", 15)
	tr, err := New(store.NewMemory(256), cfg)
	require.NoError(t, err)
	e := node.Entry{Values: make([]int64, 15)}
	require.NoError(t, tr.Append(e))
	err = tr.Append(e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	require.NoError(t, tr.Check())
	size, err := tr.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestOpenAndDump(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	cfg := node.MapConfig("map")
	pages, err := store.OpenPaged(testconfig.Conf{store.KeyBlockSize: 512, store.KeyCacheSize: 4})
	require.NoError(t, err)
	tr, err := New(pages, cfg)
	require.NoError(t, err)
	for k := int64(0); k < 200; k++ {
		require.NoError(t, tr.Put(k*3, uint64(k)))
	}
	require.NoError(t, tr.Check())
	reopened, err := Open(pages, cfg, tr.Root())
	require.NoError(t, err)
	v, ok, err := reopened.Lookup(300)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), v)
	_, ok, err = reopened.Lookup(301)
	require.NoError(t, err)
	assert.False(t, ok)
	//
	res, err := reopened.Walk().FindKey(301, packed.LT)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Pos)
	dump, err := reopened.Dump(4)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dump, "map"))
	assert.Contains(t, dump, "root")
	t.Logf("\n%s", dump)
	//
	n, err := pages.Node(tr.Root())
	require.NoError(t, err)
	b, err := node.AsBranch(n, cfg)
	require.NoError(t, err)
	_, err = Open(pages, cfg, b.Child(0))
	assert.True(t, errors.Is(err, ErrInconsistent))
}

func TestMapValuesStayInSumRange(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.btree")
	defer teardown()
	//
	tr, err := New(store.NewMemory(512), node.MapConfig("map"), ConsistencyChecks(true))
	require.NoError(t, err)
	require.NoError(t, tr.Put(1, math.MaxInt64))
	err = tr.Put(2, math.MaxInt64)
	assert.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	err = tr.Put(3, math.MaxUint64)
	assert.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	require.NoError(t, tr.Put(1, 5))
	require.NoError(t, tr.Put(2, 7))
	total, err := tr.Walk().Count(1)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	//
	tr, err = New(store.NewMemory(512), node.MapConfig("spread"))
	require.NoError(t, err)
	share := uint64(math.MaxInt64 / 200)
	for k := int64(0); k < 200; k++ {
		require.NoError(t, tr.Put(k, share))
	}
	require.GreaterOrEqual(t, rootLevel(t, tr), 1)
	err = tr.Put(1000, 2*share)
	assert.True(t, errors.Is(err, packed.ErrValueRange), "got %v", err)
	require.NoError(t, tr.Put(0, 0))
	require.NoError(t, tr.Put(1000, share))
	total, err = tr.Walk().Count(1)
	require.NoError(t, err)
	assert.Equal(t, int64(200*share), total)
	require.NoError(t, tr.Check())
}
