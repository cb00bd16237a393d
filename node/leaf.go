package node

import (
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/pbtree/packed/maxtree"
	"github.com/npillmayer/pbtree/packed/rleseq"
	"github.com/npillmayer/pbtree/packed/sumtree"
	"github.com/npillmayer/pbtree/packed/vletree"
	"github.com/npillmayer/pbtree/result"
)

// LeafView is the read-only interface shared by all leaf kinds.
//
// Column numbers refer to the sum columns of the configuration's summaries:
// column 0 counts entries, higher columns are leaf specific.
type LeafView interface {
	Node() Node
	Size() int
	Entry(i int) Entry
	Summary() Summary
	// FindFw locates the first entry at which the running sum of column col,
	// starting at entry 0, satisfies rel with respect to target.
	FindFw(col int, target int64, rel packed.Relation) packed.FindResult
	// FindBw locates the last entry at which the running sum of column col,
	// starting at the last entry, satisfies rel with respect to target.
	FindBw(col int, target int64, rel packed.Relation) packed.FindResult
	// Prefix returns the sum of column col over entries [0, pos).
	Prefix(col, pos int) int64
	Check() error
}

// Leaf is the mutable interface shared by all leaf kinds. Prepare operations
// do not modify the leaf; a successful prepare is performed by Commit.
type Leaf interface {
	LeafView
	PrepareInsert(u *packed.UpdateState, idx int, e Entry) result.Result[Update]
	PrepareUpdate(u *packed.UpdateState, idx int, e Entry) result.Result[Update]
	PrepareRemove(u *packed.UpdateState, from, to int) result.Result[Update]
	PrepareMerge(u *packed.UpdateState, other LeafView) result.Result[Update]
	Commit(upd Update)
	SplitTo(other Leaf, idx int) error
	CommitMergeWith(other LeafView) error
}

// Update is the update-state of a mutation of a leaf.
type Update struct {
	u       *packed.UpdateState
	sums    sumtree.Update
	keys    maxtree.Update
	values  vletree.Update
	symbols rleseq.Update
}

func prepared(upd Update, err error) result.Result[Update] {
	if err != nil {
		return result.Err[Update](err)
	}
	return result.Ok(upd)
}

// --- Sum leaves ------------------------------------------------------------

// SumLeafView is a read-only view of a leaf holding rows of int64 values.
type SumLeafView struct {
	node Node
	cfg  Config
}

// Node returns the node l is a view of.
func (l SumLeafView) Node() Node { return l.node }

// Values returns the value stream.
func (l SumLeafView) Values() sumtree.Tree {
	return sumtree.View(l.node.alloc, slotFirst)
}

// Size returns the number of rows.
func (l SumLeafView) Size() int { return l.Values().Size() }

// Entry returns row i.
func (l SumLeafView) Entry(i int) Entry {
	return Entry{Values: l.Values().Row(i)}
}

// Summary returns the number of rows followed by the column totals.
func (l SumLeafView) Summary() Summary {
	v := l.Values()
	return Summary{Sums: append([]int64{int64(v.Size())}, v.Totals()...), Maxes: []int64{}}
}

// FindFw is part of interface LeafView.
func (l SumLeafView) FindFw(col int, target int64, rel packed.Relation) packed.FindResult {
	if col == 0 {
		return positionalFw(l.Size(), target, rel)
	}
	return l.Values().FindFw(col-1, 0, target, rel)
}

// FindBw is part of interface LeafView.
func (l SumLeafView) FindBw(col int, target int64, rel packed.Relation) packed.FindResult {
	if col == 0 {
		return positionalBw(l.Size(), target, rel)
	}
	return l.Values().FindBw(col-1, l.Size()-1, target, rel)
}

// Prefix is part of interface LeafView.
func (l SumLeafView) Prefix(col, pos int) int64 {
	if col == 0 {
		return int64(pos)
	}
	return l.Values().Prefix(col-1, pos)
}

// Check validates the leaf's streams.
func (l SumLeafView) Check() error {
	return l.Values().Check()
}

// SumLeaf is a mutable view of a sum leaf.
type SumLeaf struct {
	SumLeafView
}

func (l SumLeaf) checkEntry(e Entry) {
	assertThat(len(e.Values) == l.cfg.Columns, "entry has %d values, leaves have %d columns",
		len(e.Values), l.cfg.Columns)
}

// PrepareInsert is part of interface Leaf.
func (l SumLeaf) PrepareInsert(u *packed.UpdateState, idx int, e Entry) result.Result[Update] {
	l.checkEntry(e)
	upd, err := l.Values().PrepareInsert(u, idx, e.Values)
	return prepared(Update{u: u, sums: upd}, err)
}

// PrepareUpdate is part of interface Leaf.
func (l SumLeaf) PrepareUpdate(u *packed.UpdateState, idx int, e Entry) result.Result[Update] {
	l.checkEntry(e)
	upd, err := l.Values().PrepareUpdate(u, idx, e.Values)
	return prepared(Update{u: u, sums: upd}, err)
}

// PrepareRemove is part of interface Leaf.
func (l SumLeaf) PrepareRemove(u *packed.UpdateState, from, to int) result.Result[Update] {
	upd, err := l.Values().PrepareRemove(u, from, to)
	return prepared(Update{u: u, sums: upd}, err)
}

// PrepareMerge is part of interface Leaf.
func (l SumLeaf) PrepareMerge(u *packed.UpdateState, other LeafView) result.Result[Update] {
	o := sameKind[SumLeafView](other)
	upd, err := l.Values().PrepareMerge(u, o.Values())
	return prepared(Update{u: u, sums: upd}, err)
}

// Commit is part of interface Leaf.
func (l SumLeaf) Commit(upd Update) {
	l.Values().Commit(upd.sums)
}

// SplitTo is part of interface Leaf.
func (l SumLeaf) SplitTo(other Leaf, idx int) error {
	return l.Values().SplitTo(sameKind[SumLeaf](other).Values(), idx)
}

// CommitMergeWith is part of interface Leaf.
func (l SumLeaf) CommitMergeWith(other LeafView) error {
	return commitMerge(l, other)
}

// --- Map leaves ------------------------------------------------------------

// MapLeafView is a read-only view of a leaf holding sorted int64 keys with
// uint64 values.
type MapLeafView struct {
	node Node
	cfg  Config
}

// Node returns the node l is a view of.
func (l MapLeafView) Node() Node { return l.node }

// Keys returns the key stream.
func (l MapLeafView) Keys() maxtree.Tree {
	return maxtree.View(l.node.alloc, slotFirst)
}

// Values returns the value stream.
func (l MapLeafView) Values() vletree.Tree {
	return vletree.View(l.node.alloc, slotSecond)
}

// Size returns the number of entries.
func (l MapLeafView) Size() int { return l.Keys().Size() }

// Entry returns the key and value of entry i.
func (l MapLeafView) Entry(i int) Entry {
	return Entry{Key: l.Keys().Access(0, i), Value: l.Values().Access(i)}
}

// Summary returns the number of entries and the sum of values, together with
// the maximum key.
func (l MapLeafView) Summary() Summary {
	return Summary{
		Sums:  []int64{int64(l.Size()), l.Values().Total()},
		Maxes: l.Keys().Maxima(),
	}
}

// FindKey returns the index of the first key ≥ key (> key if strict), or
// Size().
func (l MapLeafView) FindKey(key int64, strict bool) int {
	if strict {
		return l.Keys().FindGT(0, 0, key)
	}
	return l.Keys().FindGE(0, 0, key)
}

// FindFw is part of interface LeafView.
func (l MapLeafView) FindFw(col int, target int64, rel packed.Relation) packed.FindResult {
	if col == 0 {
		return positionalFw(l.Size(), target, rel)
	}
	l.checkColumn(col)
	return l.Values().FindFw(0, target, rel)
}

// FindBw is part of interface LeafView.
func (l MapLeafView) FindBw(col int, target int64, rel packed.Relation) packed.FindResult {
	if col == 0 {
		return positionalBw(l.Size(), target, rel)
	}
	l.checkColumn(col)
	return l.Values().FindBw(l.Size()-1, target, rel)
}

// Prefix is part of interface LeafView.
func (l MapLeafView) Prefix(col, pos int) int64 {
	if col == 0 {
		return int64(pos)
	}
	l.checkColumn(col)
	return l.Values().Sum(0, pos)
}

// Check validates the leaf's streams.
func (l MapLeafView) Check() error {
	if err := l.Keys().Check(); err != nil {
		return err
	}
	return l.Values().Check()
}

func (l MapLeafView) checkColumn(col int) {
	assertThat(col == 1, "map leaves have no sum column %d", col)
}

// MapLeaf is a mutable view of a map leaf.
type MapLeaf struct {
	MapLeafView
}

// PrepareInsert is part of interface Leaf.
func (l MapLeaf) PrepareInsert(u *packed.UpdateState, idx int, e Entry) result.Result[Update] {
	var err error
	upd := Update{u: u}
	if upd.keys, err = l.Keys().PrepareInsert(u, idx, []int64{e.Key}); err != nil {
		return result.Err[Update](err)
	}
	upd.values, err = l.Values().PrepareInsert(u, idx, e.Value)
	return prepared(upd, err)
}

// PrepareUpdate is part of interface Leaf.
func (l MapLeaf) PrepareUpdate(u *packed.UpdateState, idx int, e Entry) result.Result[Update] {
	var err error
	upd := Update{u: u}
	if upd.keys, err = l.Keys().PrepareUpdate(u, idx, []int64{e.Key}); err != nil {
		return result.Err[Update](err)
	}
	upd.values, err = l.Values().PrepareUpdate(u, idx, e.Value)
	return prepared(upd, err)
}

// PrepareRemove is part of interface Leaf.
func (l MapLeaf) PrepareRemove(u *packed.UpdateState, from, to int) result.Result[Update] {
	var err error
	upd := Update{u: u}
	if upd.keys, err = l.Keys().PrepareRemove(u, from, to); err != nil {
		return result.Err[Update](err)
	}
	upd.values, err = l.Values().PrepareRemove(u, from, to)
	return prepared(upd, err)
}

// PrepareMerge is part of interface Leaf.
func (l MapLeaf) PrepareMerge(u *packed.UpdateState, other LeafView) result.Result[Update] {
	o := sameKind[MapLeafView](other)
	var err error
	upd := Update{u: u}
	if upd.keys, err = l.Keys().PrepareMerge(u, o.Keys()); err != nil {
		return result.Err[Update](err)
	}
	upd.values, err = l.Values().PrepareMerge(u, o.Values())
	return prepared(upd, err)
}

// Commit is part of interface Leaf.
func (l MapLeaf) Commit(upd Update) {
	commitOrdered(upd.u, []int{slotFirst, slotSecond}, []func(){
		func() { l.Keys().Commit(upd.keys) },
		func() { l.Values().Commit(upd.values) },
	})
}

// SplitTo is part of interface Leaf.
func (l MapLeaf) SplitTo(other Leaf, idx int) error {
	o := sameKind[MapLeaf](other)
	if err := l.Keys().SplitTo(o.Keys(), idx); err != nil {
		return err
	}
	if err := l.Values().SplitTo(o.Values(), idx); err != nil {
		err2 := l.Keys().CommitMergeWith(o.Keys())
		assertThat(err2 == nil, "cannot restore leaf after failed split: %v", err2)
		err2 = o.Keys().Remove(0, o.Keys().Size())
		assertThat(err2 == nil, "cannot restore leaf after failed split: %v", err2)
		return err
	}
	return nil
}

// CommitMergeWith is part of interface Leaf.
func (l MapLeaf) CommitMergeWith(other LeafView) error {
	return commitMerge(l, other)
}

// --- Symbol leaves ---------------------------------------------------------

// SymbolLeafView is a read-only view of a leaf holding a symbol sequence.
type SymbolLeafView struct {
	node Node
	cfg  Config
}

// Node returns the node l is a view of.
func (l SymbolLeafView) Node() Node { return l.node }

// Symbols returns the symbol stream.
func (l SymbolLeafView) Symbols() rleseq.Sequence {
	return rleseq.View(l.node.alloc, slotFirst)
}

// Size returns the number of symbols.
func (l SymbolLeafView) Size() int { return l.Symbols().Size() }

// Entry returns the symbol at position i.
func (l SymbolLeafView) Entry(i int) Entry {
	return Entry{Symbol: l.Symbols().Access(i)}
}

// Summary returns the number of symbols followed by the number of
// occurrences of every symbol.
func (l SymbolLeafView) Summary() Summary {
	seq := l.Symbols()
	sums := make([]int64, 1, 1+l.cfg.Alphabet)
	sums[0] = int64(seq.Size())
	for _, c := range seq.Counts() {
		sums = append(sums, int64(c))
	}
	return Summary{Sums: sums, Maxes: []int64{}}
}

// FindFw is part of interface LeafView. For symbol columns it selects the
// target-th occurrence of the symbol.
func (l SymbolLeafView) FindFw(col int, target int64, rel packed.Relation) packed.FindResult {
	n := l.Size()
	if col == 0 {
		return positionalFw(n, target, rel)
	}
	rank := int(target)
	if rel == packed.GT {
		rank++
	}
	if rank <= 0 {
		return packed.FindResult{Idx: 0}
	}
	r := l.Symbols().SelectFw(0, col-1, rank)
	if r.Idx == n {
		return packed.FindResult{Idx: n, Prefix: int64(r.Rank)}
	}
	return packed.FindResult{Idx: r.Idx, Prefix: int64(rank - 1)}
}

// FindBw is part of interface LeafView.
func (l SymbolLeafView) FindBw(col int, target int64, rel packed.Relation) packed.FindResult {
	n := l.Size()
	if col == 0 {
		return positionalBw(n, target, rel)
	}
	rank := int(target)
	if rel == packed.GT {
		rank++
	}
	if rank <= 0 {
		return packed.FindResult{Idx: n - 1}
	}
	r := l.Symbols().SelectBw(n-1, col-1, rank)
	if r.Idx < 0 {
		return packed.FindResult{Idx: -1, Prefix: int64(r.Rank)}
	}
	return packed.FindResult{Idx: r.Idx, Prefix: int64(rank - 1)}
}

// Prefix is part of interface LeafView.
func (l SymbolLeafView) Prefix(col, pos int) int64 {
	if col == 0 {
		return int64(pos)
	}
	return int64(l.Symbols().Rank(pos, col-1))
}

// Check validates the leaf's streams.
func (l SymbolLeafView) Check() error {
	return l.Symbols().Check()
}

// SymbolLeaf is a mutable view of a symbol leaf.
type SymbolLeaf struct {
	SymbolLeafView
}

// PrepareInsert is part of interface Leaf.
func (l SymbolLeaf) PrepareInsert(u *packed.UpdateState, idx int, e Entry) result.Result[Update] {
	upd, err := l.Symbols().PrepareInsert(u, idx, e.Symbol, 1)
	return prepared(Update{u: u, symbols: upd}, err)
}

// PrepareUpdate is part of interface Leaf.
func (l SymbolLeaf) PrepareUpdate(u *packed.UpdateState, idx int, e Entry) result.Result[Update] {
	upd, err := l.Symbols().PrepareUpdate(u, idx, e.Symbol)
	return prepared(Update{u: u, symbols: upd}, err)
}

// PrepareRemove is part of interface Leaf.
func (l SymbolLeaf) PrepareRemove(u *packed.UpdateState, from, to int) result.Result[Update] {
	upd, err := l.Symbols().PrepareRemove(u, from, to)
	return prepared(Update{u: u, symbols: upd}, err)
}

// PrepareMerge is part of interface Leaf.
func (l SymbolLeaf) PrepareMerge(u *packed.UpdateState, other LeafView) result.Result[Update] {
	o := sameKind[SymbolLeafView](other)
	upd, err := l.Symbols().PrepareMerge(u, o.Symbols())
	return prepared(Update{u: u, symbols: upd}, err)
}

// Commit is part of interface Leaf.
func (l SymbolLeaf) Commit(upd Update) {
	l.Symbols().Commit(upd.symbols)
}

// SplitTo is part of interface Leaf.
func (l SymbolLeaf) SplitTo(other Leaf, idx int) error {
	return l.Symbols().SplitTo(sameKind[SymbolLeaf](other).Symbols(), idx)
}

// CommitMergeWith is part of interface Leaf.
func (l SymbolLeaf) CommitMergeWith(other LeafView) error {
	return commitMerge(l, other)
}

// --- Helpers ---------------------------------------------------------------

func commitMerge(l Leaf, other LeafView) error {
	upd, err := l.PrepareMerge(l.Node().alloc.NewUpdateState(), other).Get()
	if err != nil {
		return err
	}
	l.Commit(upd)
	return nil
}

// sameKind converts a leaf to the concrete view type T. Mixing leaf kinds is
// a programming error. Mutable leaves are accepted where read-only views are
// expected.
func sameKind[T any](l LeafView) T {
	if t, ok := l.(T); ok {
		return t
	}
	var v any
	switch x := l.(type) {
	case SumLeaf:
		v = x.SumLeafView
	case MapLeaf:
		v = x.MapLeafView
	case SymbolLeaf:
		v = x.SymbolLeafView
	}
	t, ok := v.(T)
	assertThat(ok, "cannot combine leaves of different kinds: %T", l)
	return t
}

// positionalFw searches column 0, where every entry counts 1.
func positionalFw(n int, target int64, rel packed.Relation) packed.FindResult {
	t := int(target)
	if rel == packed.GT {
		t++
	}
	idx := t - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		return packed.FindResult{Idx: n, Prefix: int64(n)}
	}
	return packed.FindResult{Idx: idx, Prefix: int64(idx)}
}

func positionalBw(n int, target int64, rel packed.Relation) packed.FindResult {
	t := int(target)
	if rel == packed.GT {
		t++
	}
	idx := n - t
	if idx > n-1 {
		idx = n - 1
	}
	if idx < 0 {
		return packed.FindResult{Idx: -1, Prefix: int64(n)}
	}
	return packed.FindResult{Idx: idx, Prefix: int64(n - 1 - idx)}
}
