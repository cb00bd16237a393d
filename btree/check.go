package btree

import (
	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/node"
	"github.com/pkg/errors"
	"github.com/xlab/treeprint"
)

// Check verifies the structure of t: every node passes node.Check, flags
// and levels are consistent, nodes other than the root are not empty, the
// summaries stored in branches equal the summaries of their children, and
// keys of map trees are strictly ascending.
func (t *Tree) Check() error {
	c := consistency{tree: t}
	_, err := c.check(t.root, -1, true)
	if err != nil {
		tracer().Errorf("tree %s is inconsistent: %v", t.cfg.Name, err)
	}
	return err
}

type consistency struct {
	tree    *Tree
	lastKey int64
	keys    int
}

func (c *consistency) check(id uuid.UUID, level int, root bool) (node.Summary, error) {
	t := c.tree
	n, err := t.store.Node(id)
	if err != nil {
		return node.Summary{}, err
	}
	if n.ID() != id {
		return node.Summary{}, errors.Wrapf(ErrInconsistent, "node %s stored as %s", n, id)
	}
	if err = node.Check(n, t.cfg); err != nil {
		return node.Summary{}, errors.Wrapf(ErrInconsistent, "%v", err)
	}
	if n.IsRoot() != root {
		return node.Summary{}, errors.Wrapf(ErrInconsistent, "node %s has root flag %v", n, n.IsRoot())
	}
	if level >= 0 && n.Level() != level {
		return node.Summary{}, errors.Wrapf(ErrInconsistent, "node %s on level %d, expected %d", n, n.Level(), level)
	}
	size, err := node.SizeOf(n, t.cfg)
	if err != nil {
		return node.Summary{}, err
	}
	if size == 0 && !root {
		return node.Summary{}, errors.Wrapf(ErrInconsistent, "node %s is empty", n)
	}
	if n.IsLeaf() {
		if n.Tag() == node.TagMapLeaf {
			if err = c.checkKeys(n); err != nil {
				return node.Summary{}, err
			}
		}
		return node.SummaryOf(n, t.cfg)
	}
	b, err := node.AsBranch(n, t.cfg)
	if err != nil {
		return node.Summary{}, err
	}
	for i, child := range b.Children() {
		s, err := c.check(child, n.Level()-1, false)
		if err != nil {
			return node.Summary{}, err
		}
		if stored := b.ChildSummary(i); !s.Equal(stored) {
			return node.Summary{}, errors.Wrapf(ErrInconsistent, "child %d of %s has summary %s, parent stores %s",
				i, n, s, stored)
		}
	}
	return b.Summary(), nil
}

func (c *consistency) checkKeys(n node.Node) error {
	l, err := node.AsLeaf(n, c.tree.cfg)
	if err != nil {
		return err
	}
	for i := 0; i < l.Size(); i++ {
		key := l.Entry(i).Key
		if c.keys > 0 && key <= c.lastKey {
			return errors.Wrapf(ErrInconsistent, "key %d at %d of %s follows key %d", key, i, n, c.lastKey)
		}
		c.lastKey = key
		c.keys++
	}
	return nil
}

// --- Dump ------------------------------------------------------------------

// Dump renders t as a tree, listing up to maxEntries entries per leaf.
func (t *Tree) Dump(maxEntries int) (string, error) {
	tree := treeprint.NewWithRoot(t.cfg.Name)
	if err := t.dump(t.root, tree, maxEntries); err != nil {
		return "", err
	}
	return tree.String(), nil
}

func (t *Tree) dump(id uuid.UUID, tree treeprint.Tree, maxEntries int) error {
	n, err := t.store.Node(id)
	if err != nil {
		return err
	}
	br := node.Dump(n, t.cfg, tree, maxEntries)
	if n.IsLeaf() {
		return nil
	}
	b, err := node.AsBranch(n, t.cfg)
	if err != nil {
		return err
	}
	for _, child := range b.Children() {
		if err = t.dump(child, br, maxEntries); err != nil {
			return err
		}
	}
	return nil
}
