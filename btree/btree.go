package btree

import (
	"math"

	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/pbtree/result"
	"github.com/npillmayer/pbtree/walker"
	"github.com/npillmayer/schuko"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned if an entry does not fit into a node even
// after the node has been split. Blocks are too small for the configured
// entries in this case.
var ErrConfiguration = errors.New("btree: entry does not fit into a node")

// ErrInconsistent is returned by Check and Open for trees violating a
// structural invariant.
var ErrInconsistent = errors.New("btree: inconsistent tree")

// Store hands out and takes back the blocks of nodes. After a node has been
// modified, the tree calls Update before touching any other node.
type Store interface {
	walker.Source
	Allocate() (uuid.UUID, *packed.Allocator, error)
	Update(n node.Node) error
	Free(id uuid.UUID) error
}

// Configuration keys read by Configure.
const (
	KeyLowWater = "pbtree.lowwater"
	KeyCheck    = "pbtree.check"
)

// DefaultLowWater is the default occupancy in percent below which a node is
// merged with a sibling.
const DefaultLowWater = 25

// Tree is a B+-tree of packed nodes.
type Tree struct {
	store    Store
	cfg      node.Config
	root     uuid.UUID
	lowWater int
	check    bool
}

// Option is a type to help initializing trees at creation time.
type Option func(*Tree)

// LowWaterMark sets the occupancy in percent below which nodes are merged
// with a sibling after removals.
func LowWaterMark(percent int) Option {
	return func(t *Tree) {
		assertThat(percent >= 0 && percent <= 100, "low water mark %d%% out of range", percent)
		t.lowWater = percent
	}
}

// ConsistencyChecks switches on running Check after every mutation. This is
// expensive and intended for debugging.
func ConsistencyChecks(on bool) Option {
	return func(t *Tree) {
		t.check = on
	}
}

// Configure reads options from conf. Keys which are not set leave the
// respective option unchanged.
//
//	pbtree.lowwater   int, see LowWaterMark
//	pbtree.check      bool, see ConsistencyChecks
func Configure(conf schuko.Configuration) Option {
	return func(t *Tree) {
		if conf.IsSet(KeyLowWater) {
			LowWaterMark(conf.GetInt(KeyLowWater))(t)
		}
		if conf.IsSet(KeyCheck) {
			t.check = conf.GetBool(KeyCheck)
		}
	}
}

// New creates an empty tree in store.
func New(store Store, cfg node.Config, opts ...Option) (*Tree, error) {
	t, err := newTree(store, cfg, opts)
	if err != nil {
		return nil, err
	}
	root, err := t.newNode(cfg.Leaf, 0, true)
	if err != nil {
		return nil, err
	}
	t.root = root.ID()
	return t, nil
}

// Open returns the tree rooted at node root of store.
func Open(store Store, cfg node.Config, root uuid.UUID, opts ...Option) (*Tree, error) {
	t, err := newTree(store, cfg, opts)
	if err != nil {
		return nil, err
	}
	n, err := store.Node(root)
	if err != nil {
		return nil, err
	}
	if !n.IsRoot() {
		return nil, errors.Wrapf(ErrInconsistent, "node %s is not a root", n)
	}
	t.root = root
	return t, nil
}

func newTree(store Store, cfg node.Config, opts []Option) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tree{store: store, cfg: cfg, lowWater: DefaultLowWater}
	for _, option := range opts {
		option(t)
	}
	return t, nil
}

// Root returns the identifier of the root node. It changes when the tree
// grows or shrinks in height.
func (t *Tree) Root() uuid.UUID {
	return t.root
}

// Config returns the node configuration of t.
func (t *Tree) Config() node.Config {
	return t.cfg
}

// Walk returns a walk over t, to run searches. Walks are invalidated by
// mutations of t.
func (t *Tree) Walk() walker.Walk {
	return walker.Over(t.store, t.cfg, t.root)
}

// --- API -------------------------------------------------------------------

// Size returns the number of entries.
func (t *Tree) Size() (int, error) {
	return t.Walk().Size()
}

// Get returns the entry at pos.
func (t *Tree) Get(pos int) (node.Entry, error) {
	if err := t.inRange(pos, false); err != nil {
		return node.Entry{}, err
	}
	path, err := t.locate(pos)
	if err != nil {
		return node.Entry{}, err
	}
	return t.entryAt(path.last())
}

// Insert inserts e to become the entry at pos, 0 ≤ pos ≤ Size().
func (t *Tree) Insert(pos int, e node.Entry) error {
	if err := t.inRange(pos, true); err != nil {
		return err
	}
	if err := t.checkValueSum(e.Value, 0); err != nil {
		return err
	}
	_, err := t.mutate(pos, "insert", func(l node.Leaf, u *packed.UpdateState, idx int) result.Result[node.Update] {
		return l.PrepareInsert(u, idx, e)
	})
	if err != nil {
		return err
	}
	return t.verify()
}

// Append adds e at the end.
func (t *Tree) Append(e node.Entry) error {
	size, err := t.Size()
	if err != nil {
		return err
	}
	return t.Insert(size, e)
}

// Update replaces the entry at pos.
func (t *Tree) Update(pos int, e node.Entry) error {
	if err := t.inRange(pos, false); err != nil {
		return err
	}
	if t.cfg.Leaf == node.TagMapLeaf {
		old, err := t.Get(pos)
		if err != nil {
			return err
		}
		if err = t.checkValueSum(e.Value, old.Value); err != nil {
			return err
		}
	}
	_, err := t.mutate(pos, "update", func(l node.Leaf, u *packed.UpdateState, idx int) result.Result[node.Update] {
		return l.PrepareUpdate(u, idx, e)
	})
	if err != nil {
		return err
	}
	return t.verify()
}

// Remove removes the entry at pos.
func (t *Tree) Remove(pos int) error {
	if err := t.inRange(pos, false); err != nil {
		return err
	}
	path, err := t.mutate(pos, "remove", func(l node.Leaf, u *packed.UpdateState, idx int) result.Result[node.Update] {
		return l.PrepareRemove(u, idx, idx+1)
	})
	if err != nil {
		return err
	}
	if err = t.rebalance(path); err != nil {
		return err
	}
	return t.verify()
}

// Each calls f for every entry in order, until f returns false. f must not
// modify t.
func (t *Tree) Each(f func(pos int, e node.Entry) bool) error {
	pos := 0
	_, err := t.each(t.root, &pos, f)
	return err
}

func (t *Tree) each(id uuid.UUID, pos *int, f func(int, node.Entry) bool) (bool, error) {
	n, err := t.store.Node(id)
	if err != nil {
		return false, err
	}
	if n.IsLeaf() {
		l, err := node.AsLeaf(n, t.cfg)
		if err != nil {
			return false, err
		}
		for i := 0; i < l.Size(); i++ {
			if !f(*pos, l.Entry(i)) {
				return false, nil
			}
			*pos++
		}
		return true, nil
	}
	b, err := node.AsBranch(n, t.cfg)
	if err != nil {
		return false, err
	}
	for _, child := range b.Children() {
		if cont, err := t.each(child, pos, f); err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// --- Maps ------------------------------------------------------------------

// Put associates value with key in a tree of map leaves, keeping keys
// sorted.
func (t *Tree) Put(key int64, value uint64) error {
	res, err := t.Walk().FindKey(key, packed.GE)
	if err != nil {
		return err
	}
	e := node.Entry{Key: key, Value: value}
	if res.Found {
		old, err := t.entryAt(pathOf(res).last())
		if err != nil {
			return err
		}
		if old.Key == key {
			return t.Update(res.Pos, e)
		}
	}
	return t.Insert(res.Pos, e)
}

// Lookup returns the value associated with key.
func (t *Tree) Lookup(key int64) (uint64, bool, error) {
	pos, e, err := t.findKey(key)
	if err != nil || pos < 0 {
		return 0, false, err
	}
	return e.Value, true, nil
}

// Delete removes key. It returns false if key is not present.
func (t *Tree) Delete(key int64) (bool, error) {
	pos, _, err := t.findKey(key)
	if err != nil || pos < 0 {
		return false, err
	}
	return true, t.Remove(pos)
}

// findKey returns the position and entry of key, or -1.
func (t *Tree) findKey(key int64) (int, node.Entry, error) {
	res, err := t.Walk().FindKey(key, packed.GE)
	if err != nil || !res.Found {
		return -1, node.Entry{}, err
	}
	e, err := t.entryAt(pathOf(res).last())
	if err != nil || e.Key != key {
		return -1, node.Entry{}, err
	}
	return res.Pos, e, nil
}

// --- Helpers ---------------------------------------------------------------

func (t *Tree) inRange(pos int, end bool) error {
	size, err := t.Size()
	if err != nil {
		return err
	}
	limit := size
	if end {
		limit++
	}
	assertThat(pos >= 0 && pos < limit, "position %d out of range [0,%d)", pos, limit)
	return nil
}

func (t *Tree) locate(pos int) (slotPath, error) {
	res, err := t.Walk().Locate(pos)
	if err != nil {
		return nil, err
	}
	return pathOf(res), nil
}

// entryAt returns the entry a leaf slot points to.
func (t *Tree) entryAt(s slot) (node.Entry, error) {
	n, err := t.store.Node(s.id)
	if err != nil {
		return node.Entry{}, err
	}
	l, err := node.AsLeaf(n, t.cfg)
	if err != nil {
		return node.Entry{}, err
	}
	return l.Entry(s.index), nil
}

// checkValueSum fails with packed.ErrValueRange if replacing old by value
// would carry the sum of all map values out of the range of int64.
func (t *Tree) checkValueSum(value, old uint64) error {
	if t.cfg.Leaf != node.TagMapLeaf {
		return nil
	}
	total, err := t.Walk().Count(1)
	if err != nil {
		return err
	}
	if rest := total - int64(old); value > math.MaxInt64 || int64(value) > math.MaxInt64-rest {
		return errors.Wrapf(packed.ErrValueRange, "value %d with total %d of %s", value, rest, t.cfg.Name)
	}
	return nil
}

func (t *Tree) verify() error {
	if !t.check {
		return nil
	}
	return t.Check()
}
