package btree

import (
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
)

// rebalance walks up path after a removal, merging underfull nodes with a
// sibling, and finally collapses the root.
func (t *Tree) rebalance(path slotPath) error {
	for len(path) > 1 {
		child := path.last()
		parent := path.dropLast().last()
		cn, err := t.store.Node(child.id)
		if err != nil {
			return err
		}
		size, err := node.SizeOf(cn, t.cfg)
		if err != nil {
			return err
		}
		if size > 0 && cn.Occupancy() >= t.lowWater {
			break
		}
		pn, err := t.store.Node(parent.id)
		if err != nil {
			return err
		}
		b, err := node.AsBranch(pn, t.cfg)
		if err != nil {
			return err
		}
		if b.Size() < 2 {
			if size > 0 {
				break
			}
			// an empty only child
			b.RemoveChild(parent.index)
			if err = t.store.Update(pn); err != nil {
				return err
			}
			if err = t.store.Free(child.id); err != nil {
				return err
			}
			tracer().Debugf("released empty node %s", cn)
		} else {
			left := max(parent.index-1, 0)
			merged, err := t.merge(b, left)
			if err != nil {
				return err
			}
			if !merged {
				break
			}
		}
		path = path.dropLast()
	}
	return t.collapseRoot()
}

// merge appends child left+1 of b to child left, if it fits, and releases
// the emptied node.
func (t *Tree) merge(b node.Branch, left int) (bool, error) {
	ln, err := t.store.Node(b.Child(left))
	if err != nil {
		return false, err
	}
	rn, err := t.store.Node(b.Child(left + 1))
	if err != nil {
		return false, err
	}
	if err = t.mergeNodes(ln, rn); errors.Is(err, packed.ErrCapacityExceeded) {
		tracer().Debugf("%s does not fit into %s", rn, ln)
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err = t.store.Update(ln); err != nil {
		return false, err
	}
	s, err := node.SummaryOf(ln, t.cfg)
	if err != nil {
		return false, err
	}
	b.SetChildSummary(left, s)
	b.RemoveChild(left + 1)
	if err = t.store.Update(b.Node()); err != nil {
		return false, err
	}
	tracer().Debugf("merged %s into %s", rn, ln)
	return true, t.store.Free(rn.ID())
}

func (t *Tree) mergeNodes(ln, rn node.Node) error {
	if ln.IsLeaf() {
		l, err := node.AsLeaf(ln, t.cfg)
		if err != nil {
			return err
		}
		r, err := node.AsLeaf(rn, t.cfg)
		if err != nil {
			return err
		}
		return l.CommitMergeWith(r)
	}
	l, err := node.AsBranch(ln, t.cfg)
	if err != nil {
		return err
	}
	r, err := node.AsBranch(rn, t.cfg)
	if err != nil {
		return err
	}
	return l.CommitMergeWith(r.BranchView)
}

// collapseRoot removes roots with a single child. A root without children
// is replaced by an empty leaf.
func (t *Tree) collapseRoot() error {
	for {
		rn, err := t.store.Node(t.root)
		if err != nil {
			return err
		}
		if rn.IsLeaf() {
			return nil
		}
		b, err := node.AsBranch(rn, t.cfg)
		if err != nil {
			return err
		}
		var top node.Node
		switch b.Size() {
		case 0:
			if top, err = t.newNode(t.cfg.Leaf, 0, true); err != nil {
				return err
			}
		case 1:
			if top, err = t.store.Node(b.Child(0)); err != nil {
				return err
			}
			top.SetRoot(true)
			if err = t.store.Update(top); err != nil {
				return err
			}
		default:
			return nil
		}
		if err = t.store.Free(rn.ID()); err != nil {
			return err
		}
		t.root = top.ID()
		tracer().Debugf("root collapses to %s", top)
	}
}
