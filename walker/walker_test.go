package walker

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSource map[uuid.UUID]node.Node

func (m memSource) Node(id uuid.UUID) (node.Node, error) {
	if n, ok := m[id]; ok {
		return n, nil
	}
	return node.Node{}, fmt.Errorf("no node %s", id)
}

func (m memSource) create(t *testing.T, tag node.Tag, level int, cfg node.Config) node.Node {
	a, err := packed.New(4096, node.Slots)
	require.NoError(t, err)
	n, err := node.New(a, uuid.New(), tag, level, cfg)
	require.NoError(t, err)
	m[n.ID()] = n
	return n
}

// build creates a two-level tree with one leaf per group of entries.
func build(t *testing.T, cfg node.Config, groups ...[]node.Entry) (memSource, uuid.UUID) {
	src := memSource{}
	root := src.create(t, node.TagBranch, 1, cfg)
	root.SetRoot(true)
	branch, err := node.AsBranch(root, cfg)
	require.NoError(t, err)
	for i, group := range groups {
		n := src.create(t, cfg.Leaf, 0, cfg)
		leaf, err := node.AsLeaf(n, cfg)
		require.NoError(t, err)
		for j, e := range group {
			upd, err := leaf.PrepareInsert(n.Allocator().NewUpdateState(), j, e).Get()
			require.NoError(t, err)
			leaf.Commit(upd)
		}
		require.NoError(t, branch.InsertChild(i, n.ID(), leaf.Summary()))
	}
	return src, root.ID()
}

func values(vs ...int64) []node.Entry {
	es := make([]node.Entry, len(vs))
	for i, v := range vs {
		es[i] = node.Entry{Values: []int64{v}}
	}
	return es
}

func symbols(ss ...int) []node.Entry {
	es := make([]node.Entry, len(ss))
	for i, s := range ss {
		es[i] = node.Entry{Symbol: s}
	}
	return es
}

func keys(ks ...int64) []node.Entry {
	es := make([]node.Entry, len(ks))
	for i, k := range ks {
		es[i] = node.Entry{Key: k, Value: uint64(k) / 10}
	}
	return es
}

func sumWalk(t *testing.T) Walk {
	cfg := node.SumConfig("values", 1)
	src, root := build(t, cfg, values(1, 2, 3), values(4, 5, 6), values(7, 8, 9, 10))
	return Over(src, cfg, root)
}

func TestFindOverThreeLeaves(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	w := sumWalk(t)
	res, err := w.FindFw(1, 15, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pos)
	assert.Equal(t, int64(10), res.Prefix)
	assert.True(t, res.Found)
	require.Len(t, res.Path, 2)
	assert.Equal(t, 1, res.Path[0].Index)
	assert.Equal(t, 1, res.Leaf().Index)
	//
	res, err = w.SkipFw(0, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Pos)
	assert.Equal(t, int64(6), res.Prefix)
	//
	res, err = w.FindFw(1, 56, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, Result{Pos: 10, Prefix: 55}, Result{Pos: res.Pos, Prefix: res.Prefix})
	assert.False(t, res.Found)
	//
	res, err = w.FindFw(1, 15, packed.GT)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Pos)
}

func TestFindBackward(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	w := sumWalk(t)
	res, err := w.FindBw(1, 10, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Pos)
	assert.Equal(t, int64(0), res.Prefix)
	res, err = w.FindBw(1, 20, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Pos)
	assert.Equal(t, int64(19), res.Prefix)
	res, err = w.FindBw(1, 100, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, -1, res.Pos)
	assert.Equal(t, int64(55), res.Prefix)
	assert.False(t, res.Found)
}

func TestFindFromStart(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	w := sumWalk(t)
	res, err := w.FindFwFrom(4, 1, 11, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Pos)
	assert.Equal(t, int64(5), res.Prefix)
	res, err = w.FindFwFrom(4, 1, 0, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pos)
	res, err = w.FindBwFrom(5, 1, 9, packed.GT)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pos)
	assert.Equal(t, int64(6), res.Prefix)
	res, err = w.FindBwFrom(2, 1, 7, packed.GE)
	require.NoError(t, err)
	assert.Equal(t, -1, res.Pos)
	assert.Equal(t, int64(6), res.Prefix)
	//
	res, err = w.SkipBw(9, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Pos)
	assert.Equal(t, int64(3), res.Prefix)
	res, err = w.SkipFw(8, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Pos)
	assert.Equal(t, int64(2), res.Prefix)
}

func TestPrefixSumsAndCounts(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	w := sumWalk(t)
	for pos, want := range []int64{0, 1, 3, 6, 10, 15, 21, 28, 36, 45, 55} {
		got, err := w.PrefixSum(pos, 1)
		require.NoError(t, err)
		assert.Equal(t, want, got, "prefix sum up to %d", pos)
	}
	size, err := w.Size()
	require.NoError(t, err)
	assert.Equal(t, 10, size)
	total, err := w.Count(1)
	require.NoError(t, err)
	assert.Equal(t, int64(55), total)
	res, err := w.Locate(10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Path[0].Index)
	assert.Equal(t, 4, res.Leaf().Index)
	assert.False(t, res.Found)
	res, err = w.Locate(3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Path[0].Index)
	assert.Equal(t, 0, res.Leaf().Index)
	_, err = w.FindKey(3, packed.GE)
	require.True(t, errors.Is(err, ErrUnsupported))
}

func TestSelectAndRank(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	cfg := node.SymbolConfig("bits", 2)
	src, root := build(t, cfg, symbols(0, 1, 1), symbols(0, 0, 1), symbols(1, 0, 1, 1))
	w := Over(src, cfg, root)
	r, err := w.Rank(6, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, r)
	res, err := w.SelectFw(0, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Pos)
	res, err = w.SelectFw(3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Pos)
	res, err = w.SelectFw(7, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Pos)
	assert.Equal(t, int64(2), res.Prefix)
	res, err = w.SelectBw(7, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pos)
	res, err = w.SelectBw(2, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, -1, res.Pos)
	assert.Equal(t, int64(1), res.Prefix)
	// select is the inverse of rank
	seq := []int{0, 1, 1, 0, 0, 1, 1, 0, 1, 1}
	for pos, s := range seq {
		rank, err := w.Rank(pos, s)
		require.NoError(t, err)
		res, err := w.SelectFw(0, s, rank+1)
		require.NoError(t, err)
		assert.Equal(t, pos, res.Pos)
	}
}

func TestFindKey(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	cfg := node.MapConfig("map")
	src, root := build(t, cfg, keys(10, 20, 30), keys(40, 50, 60), keys(70, 80, 90))
	w := Over(src, cfg, root)
	for _, c := range []struct {
		key  int64
		rel  packed.Relation
		pos  int
		find bool
	}{
		{45, packed.GE, 4, true},
		{50, packed.GE, 4, true},
		{50, packed.GT, 5, true},
		{50, packed.LE, 4, true},
		{50, packed.LT, 3, true},
		{10, packed.LT, -1, false},
		{100, packed.GE, 9, false},
		{100, packed.LE, 8, true},
	} {
		res, err := w.FindKey(c.key, c.rel)
		require.NoError(t, err)
		assert.Equal(t, c.pos, res.Pos, "key %s %d", c.rel, c.key)
		assert.Equal(t, c.find, res.Found, "key %s %d", c.rel, c.key)
	}
	vsum, err := w.Count(1)
	require.NoError(t, err)
	assert.Equal(t, int64(45), vsum)
}

func TestMissingNode(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.walker")
	defer teardown()
	//
	cfg := node.SumConfig("values", 1)
	src, root := build(t, cfg, values(1, 2))
	for id, n := range src {
		if n.IsLeaf() {
			delete(src, id)
		}
	}
	_, err := Over(src, cfg, root).FindFw(1, 1, packed.GE)
	require.Error(t, err)
}
