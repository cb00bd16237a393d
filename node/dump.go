package node

import (
	"fmt"
	"strings"

	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
	"github.com/xlab/treeprint"
)

// Check validates the header and the streams of n.
func Check(n Node, cfg Config) error {
	if n.Tag().IsLeaf() != n.IsLeaf() {
		return errors.Errorf("node: %s has leaf flag %v", n, n.IsLeaf())
	}
	if n.IsLeaf() != (n.Level() == 0) {
		return errors.Errorf("node: %s lives on level %d", n, n.Level())
	}
	_, err := Dispatch[struct{}](n, cfg, checker{})
	return err
}

type checker struct{}

func (checker) Branch(b BranchView) (struct{}, error) {
	for _, err := range []error{b.Sums().Check(), b.Maxes().Check(), b.children().Check()} {
		if err != nil {
			return struct{}{}, errors.Wrapf(err, "branch %s", b.node)
		}
	}
	n := b.Size()
	if b.Sums().Size() != n || b.Maxes().Size() != n {
		return struct{}{}, errors.Errorf("node: branch %s has %d children, but %d/%d summary rows",
			b.node, n, b.Sums().Size(), b.Maxes().Size())
	}
	return struct{}{}, nil
}

func (checker) SumLeaf(l SumLeafView) (struct{}, error) {
	return struct{}{}, l.Check()
}

func (checker) MapLeaf(l MapLeafView) (struct{}, error) {
	if err := l.Check(); err != nil {
		return struct{}{}, err
	}
	if l.Keys().Size() != l.Values().Size() {
		return struct{}{}, errors.Errorf("node: map leaf %s has %d keys and %d values",
			l.node, l.Keys().Size(), l.Values().Size())
	}
	for i := 1; i < l.Size(); i++ {
		if l.Keys().Access(0, i-1) > l.Keys().Access(0, i) {
			return struct{}{}, errors.Errorf("node: keys of map leaf %s out of order at %d", l.node, i)
		}
	}
	return struct{}{}, nil
}

func (checker) SymbolLeaf(l SymbolLeafView) (struct{}, error) {
	return struct{}{}, l.Check()
}

// --- Dump ------------------------------------------------------------------

// Dump renders n into a new branch of tree. Leaf entries are listed up to a
// limit of maxEntries. The new branch is returned to allow clients to append
// child nodes.
func Dump(n Node, cfg Config, tree treeprint.Tree, maxEntries int) treeprint.Tree {
	br, err := Dispatch[treeprint.Tree](n, cfg, dumper{tree: tree, max: maxEntries})
	if err != nil {
		return tree.AddBranch(fmt.Sprintf("%s: %v", n, err))
	}
	return br
}

type dumper struct {
	tree treeprint.Tree
	max  int
}

func (d dumper) title(n Node, s Summary) string {
	var flags []string
	if n.IsRoot() {
		flags = append(flags, "root")
	}
	flags = append(flags, fmt.Sprintf("L%d", n.Level()), fmt.Sprintf("%d%%", n.Occupancy()))
	return fmt.Sprintf("%s %s %s", n, strings.Join(flags, ","), s)
}

func (d dumper) Branch(b BranchView) (treeprint.Tree, error) {
	return d.tree.AddBranch(d.title(b.node, b.Summary())), nil
}

func (d dumper) leaf(l LeafView) (treeprint.Tree, error) {
	n := l.Node()
	br := d.tree.AddBranch(d.title(n, l.Summary()))
	entries := make([]string, 0, d.max)
	for i := 0; i < l.Size() && i < d.max; i++ {
		entries = append(entries, l.Entry(i).Format(n.Tag()))
	}
	if l.Size() > d.max {
		entries = append(entries, "…")
	}
	br.AddNode(strings.Join(entries, " "))
	return br, nil
}

func (d dumper) SumLeaf(l SumLeafView) (treeprint.Tree, error)       { return d.leaf(l) }
func (d dumper) MapLeaf(l MapLeafView) (treeprint.Tree, error)       { return d.leaf(l) }
func (d dumper) SymbolLeaf(l SymbolLeafView) (treeprint.Tree, error) { return d.leaf(l) }

// GenerateDataEvents emits the allocator and the streams of n.
func GenerateDataEvents(n Node, h packed.EventHandler) {
	h.StartGroup("NODE", n.alloc.Slots())
	h.Value("TAG", n.Tag().String())
	h.Value("ID", n.ID().String())
	h.Value("LEVEL", n.Level())
	h.Value("ROOT", n.IsRoot())
	n.alloc.GenerateDataEvents(h)
	switch n.Tag() {
	case TagBranch:
		b := BranchView{node: n}
		b.Sums().GenerateDataEvents(h)
		b.Maxes().GenerateDataEvents(h)
		b.children().GenerateDataEvents(h)
	case TagSumLeaf:
		SumLeafView{node: n}.Values().GenerateDataEvents(h)
	case TagMapLeaf:
		l := MapLeafView{node: n}
		l.Keys().GenerateDataEvents(h)
		l.Values().GenerateDataEvents(h)
	case TagSymbolLeaf:
		SymbolLeafView{node: n}.Symbols().GenerateDataEvents(h)
	}
	h.EndGroup()
}
