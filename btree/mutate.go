package btree

import (
	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/pbtree/result"
	"github.com/pkg/errors"
)

// preparer prepares a change of the entry at idx of leaf l.
type preparer func(l node.Leaf, u *packed.UpdateState, idx int) result.Result[node.Update]

// mutate runs the two-phase protocol for a change at position pos and
// returns the path to the leaf which has been changed.
func (t *Tree) mutate(pos int, what string, prepare preparer) (slotPath, error) {
	for retry := false; ; retry = true {
		path, err := t.locate(pos)
		if err != nil {
			return nil, err
		}
		at := path.last()
		n, err := t.store.Node(at.id)
		if err != nil {
			return nil, err
		}
		l, err := node.AsLeaf(n, t.cfg)
		if err != nil {
			return nil, err
		}
		upd, err := prepare(l, n.Allocator().NewUpdateState(), at.index).Get()
		switch {
		case err == nil:
			l.Commit(upd)
			if err = t.store.Update(n); err != nil {
				return nil, err
			}
			return path, t.propagate(path)
		case !errors.Is(err, packed.ErrCapacityExceeded):
			return nil, err
		case retry:
			tracer().Errorf("%s at %d does not fit into %s after split", what, pos, n)
			return nil, errors.Wrapf(ErrConfiguration, "%s at %d into %s", what, pos, n)
		}
		tracer().Debugf("%s at %d: leaf %s is full", what, pos, n)
		if err = t.splitLeaf(path); err != nil {
			return nil, err
		}
	}
}

// propagate writes the summary of every node on path into its parent,
// bottom-up.
func (t *Tree) propagate(path slotPath) error {
	return path.foldR(func(parent, child slot) error {
		cn, err := t.store.Node(child.id)
		if err != nil {
			return err
		}
		s, err := node.SummaryOf(cn, t.cfg)
		if err != nil {
			return err
		}
		pn, err := t.store.Node(parent.id)
		if err != nil {
			return err
		}
		b, err := node.AsBranch(pn, t.cfg)
		if err != nil {
			return err
		}
		assertThat(b.Child(parent.index) == child.id, "path %s broken at %s", path, parent)
		b.SetChildSummary(parent.index, s)
		return t.store.Update(pn)
	})
}

func (t *Tree) newNode(tag node.Tag, level int, root bool) (node.Node, error) {
	id, a, err := t.store.Allocate()
	if err != nil {
		return node.Node{}, err
	}
	n, err := node.New(a, id, tag, level, t.cfg)
	if err != nil {
		_ = t.store.Free(id)
		return node.Node{}, err
	}
	n.SetRoot(root)
	return n, t.store.Update(n)
}

// --- Split -----------------------------------------------------------------

// splitLeaf splits the leaf at the end of path and repairs the summaries of
// all ancestors.
func (t *Tree) splitLeaf(path slotPath) error {
	left, right, err := t.split(path)
	if err != nil {
		return err
	}
	if err = t.propagate(left); err != nil {
		return err
	}
	return t.propagate(right)
}

// split moves the upper half of the node at the end of path to a new
// sibling and inserts the sibling into the parent, splitting ancestors as
// needed. It returns the paths to the node and to its new sibling.
//
// Summaries of nodes which received a child after they have been split
// themselves are left stale. All of them lie on the returned paths.
func (t *Tree) split(path slotPath) (slotPath, slotPath, error) {
	n, err := t.store.Node(path.last().id)
	if err != nil {
		return nil, nil, err
	}
	size, err := node.SizeOf(n, t.cfg)
	if err != nil {
		return nil, nil, err
	}
	if size < 2 {
		tracer().Errorf("cannot split %s holding %d entries", n, size)
		return nil, nil, errors.Wrapf(ErrConfiguration, "cannot split %s holding %d entries", n, size)
	}
	k := size / 2
	sib, err := t.newNode(n.Tag(), n.Level(), false)
	if err != nil {
		return nil, nil, err
	}
	if err = t.moveUpper(n, sib, k); err != nil {
		_ = t.store.Free(sib.ID())
		return nil, nil, err
	}
	if err = t.store.Update(n); err != nil {
		return nil, nil, err
	}
	if err = t.store.Update(sib); err != nil {
		return nil, nil, err
	}
	tracer().Debugf("split %s at %d/%d into %s", n, k, size, sib)
	ls, err := node.SummaryOf(n, t.cfg)
	if err != nil {
		return nil, nil, err
	}
	rs, err := node.SummaryOf(sib, t.cfg)
	if err != nil {
		return nil, nil, err
	}
	if len(path) == 1 {
		return t.growRoot(n, sib, ls, rs)
	}
	return t.insertSibling(path.dropLast(), n.ID(), sib.ID(), ls, rs)
}

func (t *Tree) moveUpper(n, sib node.Node, k int) error {
	if n.IsLeaf() {
		l, err := node.AsLeaf(n, t.cfg)
		if err != nil {
			return err
		}
		o, err := node.AsLeaf(sib, t.cfg)
		if err != nil {
			return err
		}
		return l.SplitTo(o, k)
	}
	b, err := node.AsBranch(n, t.cfg)
	if err != nil {
		return err
	}
	o, err := node.AsBranch(sib, t.cfg)
	if err != nil {
		return err
	}
	return b.SplitTo(o, k)
}

// growRoot puts a new root above the former root n and its new sibling.
func (t *Tree) growRoot(n, sib node.Node, ls, rs node.Summary) (slotPath, slotPath, error) {
	n.SetRoot(false)
	if err := t.store.Update(n); err != nil {
		return nil, nil, err
	}
	root, err := t.newNode(node.TagBranch, n.Level()+1, true)
	if err != nil {
		return nil, nil, err
	}
	b, err := node.AsBranch(root, t.cfg)
	if err != nil {
		return nil, nil, err
	}
	if err = b.InsertChild(0, n.ID(), ls); err == nil {
		err = b.InsertChild(1, sib.ID(), rs)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(ErrConfiguration, "new root: %v", err)
	}
	if err = t.store.Update(root); err != nil {
		return nil, nil, err
	}
	t.root = root.ID()
	tracer().Debugf("tree grows to height %d, root is %s", root.Level()+1, root)
	top := slotPath{{id: root.ID()}}
	return top.extend(0, slot{id: n.ID()}), top.extend(1, slot{id: sib.ID()}), nil
}

// insertSibling inserts right after its left sibling left into the branch
// at the end of parents.
func (t *Tree) insertSibling(parents slotPath, left, right uuid.UUID, ls, rs node.Summary) (slotPath, slotPath, error) {
	p := parents.last()
	pn, err := t.store.Node(p.id)
	if err != nil {
		return nil, nil, err
	}
	b, err := node.AsBranch(pn, t.cfg)
	if err != nil {
		return nil, nil, err
	}
	assertThat(b.Child(p.index) == left, "path %s does not lead to %s", parents, left)
	b.SetChildSummary(p.index, ls)
	err = b.InsertChild(p.index+1, right, rs)
	if uerr := t.store.Update(pn); uerr != nil {
		return nil, nil, uerr
	}
	if err == nil {
		return parents.extend(p.index, slot{id: left}), parents.extend(p.index+1, slot{id: right}), nil
	}
	if !errors.Is(err, packed.ErrCapacityExceeded) {
		return nil, nil, err
	}
	tracer().Debugf("branch %s is full", pn)
	pl, pr, err := t.split(parents)
	if err != nil {
		return nil, nil, err
	}
	// left now lives in one of the halves
	target := pl
	tn, err := t.store.Node(pl.last().id)
	if err != nil {
		return nil, nil, err
	}
	tb, err := node.AsBranch(tn, t.cfg)
	if err != nil {
		return nil, nil, err
	}
	j := tb.IndexOf(left)
	if j < 0 {
		target = pr
		if tn, err = t.store.Node(pr.last().id); err != nil {
			return nil, nil, err
		}
		if tb, err = node.AsBranch(tn, t.cfg); err != nil {
			return nil, nil, err
		}
		j = tb.IndexOf(left)
	}
	assertThat(j >= 0, "child %s lost in split of %s", left, pn)
	if err = tb.InsertChild(j+1, right, rs); err != nil {
		if errors.Is(err, packed.ErrCapacityExceeded) {
			return nil, nil, errors.Wrapf(ErrConfiguration, "branch %s full after split", tn)
		}
		return nil, nil, err
	}
	if err = t.store.Update(tn); err != nil {
		return nil, nil, err
	}
	return target.extend(j, slot{id: left}), target.extend(j+1, slot{id: right}), nil
}
