package node

import (
	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/pbtree/packed/array"
	"github.com/npillmayer/pbtree/packed/maxtree"
	"github.com/npillmayer/pbtree/packed/sumtree"
	"github.com/npillmayer/pbtree/result"
)

// BranchView is a read-only view of a branch node. Row i of its streams
// describes child i: the child's identifier and its summary.
type BranchView struct {
	node Node
	cfg  Config
}

// Node returns the node b is a view of.
func (b BranchView) Node() Node {
	return b.node
}

// Size returns the number of children.
func (b BranchView) Size() int {
	return b.children().Size()
}

// Child returns the identifier of child i.
func (b BranchView) Child(i int) uuid.UUID {
	var id uuid.UUID
	copy(id[:], b.children().Access(i))
	return id
}

// Children returns the identifiers of all children.
func (b BranchView) Children() []uuid.UUID {
	ids := make([]uuid.UUID, b.Size())
	for i := range ids {
		ids[i] = b.Child(i)
	}
	return ids
}

// IndexOf returns the index of the child with identifier id, or -1.
func (b BranchView) IndexOf(id uuid.UUID) int {
	return b.children().IndexOf(id[:])
}

// ChildSummary returns the summary stored for child i.
func (b BranchView) ChildSummary(i int) Summary {
	return Summary{Sums: b.Sums().Row(i), Maxes: b.Maxes().Row(i)}
}

// Summary returns the aggregate over all children.
func (b BranchView) Summary() Summary {
	return Summary{Sums: b.Sums().Totals(), Maxes: b.Maxes().Maxima()}
}

// Sums returns the sum stream, one row per child.
func (b BranchView) Sums() sumtree.Tree {
	return sumtree.View(b.node.alloc, slotFirst)
}

// Maxes returns the max stream, one row per child.
func (b BranchView) Maxes() maxtree.Tree {
	return maxtree.View(b.node.alloc, slotSecond)
}

func (b BranchView) children() array.Array {
	return array.View(b.node.alloc, slotThird)
}

func (b BranchView) checkSummary(s Summary) {
	assertThat(len(s.Sums) == b.cfg.SumWidth() && len(s.Maxes) == b.cfg.MaxWidth(),
		"summary %v does not match configuration %q", s, b.cfg.Name)
}

// --- Mutable branch --------------------------------------------------------

// Branch is a mutable view of a branch node.
type Branch struct {
	BranchView
}

// BranchUpdate is the update-state of a mutation of a branch.
type BranchUpdate struct {
	u        *packed.UpdateState
	sums     sumtree.Update
	maxes    maxtree.Update
	children array.Update
}

// PrepareInsertChild checks if a child with summary s may be inserted at idx.
func (b Branch) PrepareInsertChild(u *packed.UpdateState, idx int, id uuid.UUID, s Summary) result.Result[BranchUpdate] {
	b.checkSummary(s)
	var err error
	upd := BranchUpdate{u: u}
	if upd.sums, err = b.Sums().PrepareInsert(u, idx, s.Sums); err != nil {
		return result.Err[BranchUpdate](err)
	}
	if upd.maxes, err = b.Maxes().PrepareInsert(u, idx, s.Maxes); err != nil {
		return result.Err[BranchUpdate](err)
	}
	if upd.children, err = b.children().PrepareInsert(u, idx, id[:]); err != nil {
		return result.Err[BranchUpdate](err)
	}
	return result.Ok(upd)
}

// PrepareRemoveChildren prepares removal of children [from, to).
func (b Branch) PrepareRemoveChildren(u *packed.UpdateState, from, to int) result.Result[BranchUpdate] {
	var err error
	upd := BranchUpdate{u: u}
	if upd.sums, err = b.Sums().PrepareRemove(u, from, to); err != nil {
		return result.Err[BranchUpdate](err)
	}
	if upd.maxes, err = b.Maxes().PrepareRemove(u, from, to); err != nil {
		return result.Err[BranchUpdate](err)
	}
	if upd.children, err = b.children().PrepareRemove(u, from, to); err != nil {
		return result.Err[BranchUpdate](err)
	}
	return result.Ok(upd)
}

// PrepareMerge checks if all children of other may be appended.
func (b Branch) PrepareMerge(u *packed.UpdateState, other BranchView) result.Result[BranchUpdate] {
	var err error
	upd := BranchUpdate{u: u}
	if upd.sums, err = b.Sums().PrepareMerge(u, other.Sums()); err != nil {
		return result.Err[BranchUpdate](err)
	}
	if upd.maxes, err = b.Maxes().PrepareMerge(u, other.Maxes()); err != nil {
		return result.Err[BranchUpdate](err)
	}
	if upd.children, err = b.children().PrepareMerge(u, other.children()); err != nil {
		return result.Err[BranchUpdate](err)
	}
	return result.Ok(upd)
}

// Commit performs a prepared mutation. It cannot fail.
func (b Branch) Commit(upd BranchUpdate) {
	commitOrdered(upd.u, []int{slotFirst, slotSecond, slotThird}, []func(){
		func() { b.Sums().Commit(upd.sums) },
		func() { b.Maxes().Commit(upd.maxes) },
		func() { b.children().Commit(upd.children) },
	})
}

// InsertChild inserts a child with summary s at idx.
func (b Branch) InsertChild(idx int, id uuid.UUID, s Summary) error {
	upd, err := b.PrepareInsertChild(b.node.alloc.NewUpdateState(), idx, id, s).Get()
	if err != nil {
		return err
	}
	b.Commit(upd)
	return nil
}

// RemoveChild removes child i.
func (b Branch) RemoveChild(i int) {
	upd, err := b.PrepareRemoveChildren(b.node.alloc.NewUpdateState(), i, i+1).Get()
	assertThat(err == nil, "removing a child failed: %v", err)
	b.Commit(upd)
}

// SetChildSummary replaces the summary of child i. Summaries are of fixed
// width, so this cannot fail.
func (b Branch) SetChildSummary(i int, s Summary) {
	b.checkSummary(s)
	err := b.Sums().Update(i, s.Sums)
	assertThat(err == nil, "updating child sums failed: %v", err)
	err = b.Maxes().Update(i, s.Maxes)
	assertThat(err == nil, "updating child maxes failed: %v", err)
}

// SplitTo moves children [idx, Size()) to the empty branch other.
func (b Branch) SplitTo(other Branch, idx int) error {
	if err := b.Sums().SplitTo(other.Sums(), idx); err != nil {
		return err
	}
	if err := b.Maxes().SplitTo(other.Maxes(), idx); err != nil {
		b.unsplit(other, 1)
		return err
	}
	if err := b.children().SplitTo(other.children(), idx); err != nil {
		b.unsplit(other, 2)
		return err
	}
	tracer().Debugf("split branch %s at %d", b.node, idx)
	return nil
}

// unsplit moves the first k streams of other back to b.
func (b Branch) unsplit(other Branch, k int) {
	if k > 0 {
		err := b.Sums().CommitMergeWith(other.Sums())
		assertThat(err == nil, "cannot restore branch after failed split: %v", err)
		other.Sums().Clear()
	}
	if k > 1 {
		err := b.Maxes().CommitMergeWith(other.Maxes())
		assertThat(err == nil, "cannot restore branch after failed split: %v", err)
		err = other.Maxes().Remove(0, other.Maxes().Size())
		assertThat(err == nil, "cannot restore branch after failed split: %v", err)
	}
}

// CommitMergeWith appends all children of other.
func (b Branch) CommitMergeWith(other BranchView) error {
	upd, err := b.PrepareMerge(b.node.alloc.NewUpdateState(), other).Get()
	if err != nil {
		return err
	}
	b.Commit(upd)
	return nil
}
