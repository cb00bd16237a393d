package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/schuko/schukonf/testconfig"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigured(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.store")
	defer teardown()
	//
	b, c := Configured(nil)
	assert.Equal(t, DefaultBlockSize, b)
	assert.Equal(t, DefaultCacheSize, c)
	conf := testconfig.Conf{KeyBlockSize: 1024}
	b, c = Configured(conf)
	assert.Equal(t, 1024, b)
	assert.Equal(t, DefaultCacheSize, c)
}

func TestMemoryStore(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.store")
	defer teardown()
	//
	m := NewMemory(512)
	id, a, err := m.Allocate()
	require.NoError(t, err)
	n, err := node.New(a, id, node.TagSumLeaf, 0, node.SumConfig("values", 1))
	require.NoError(t, err)
	require.NoError(t, m.Update(n))
	got, err := m.Node(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID())
	assert.Equal(t, 1, m.Len())
	require.NoError(t, m.Free(id))
	_, err = m.Node(id)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(m.Free(id), ErrNotFound))
}

func TestPagedStoreWritesThrough(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.store")
	defer teardown()
	//
	p, err := OpenPaged(testconfig.Conf{KeyBlockSize: 512, KeyCacheSize: 2})
	require.NoError(t, err)
	cfg := node.SumConfig("values", 1)
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		id, a, err := p.Allocate()
		require.NoError(t, err)
		n, err := node.New(a, id, node.TagSumLeaf, 0, cfg)
		require.NoError(t, err)
		leaf, err := node.AsLeaf(n, cfg)
		require.NoError(t, err)
		upd, err := leaf.PrepareInsert(a.NewUpdateState(), 0, node.Entry{Values: []int64{int64(i + 1)}}).Get()
		require.NoError(t, err)
		leaf.Commit(upd)
		require.NoError(t, p.Update(n))
		ids[i] = id
	}
	// the first two blocks have been evicted and are read from their pages
	for i, id := range ids {
		n, err := p.Node(id)
		require.NoError(t, err)
		assert.Equal(t, id, n.ID())
		s, err := node.SummaryOf(n, cfg)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, int64(i + 1)}, s.Sums)
	}
	stats := p.Stats()
	assert.Equal(t, 4, stats.Pages)
	assert.Equal(t, 8, stats.Writes)
	assert.Greater(t, stats.Misses, 0)
	assert.Greater(t, stats.Evictions, 0)
	assert.Greater(t, stats.PageBytes, 0)
	t.Logf("stats: %s", stats)
	//
	require.NoError(t, p.Free(ids[0]))
	_, err = p.Node(ids[0])
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 3, p.Len())
}
