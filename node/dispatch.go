package node

import (
	"github.com/pkg/errors"
)

// Visitor is implemented by read-only operations over nodes. It has one
// method for every node kind, so adding a node kind breaks every visitor
// which does not handle it.
type Visitor[R any] interface {
	Branch(BranchView) (R, error)
	SumLeaf(SumLeafView) (R, error)
	MapLeaf(MapLeafView) (R, error)
	SymbolLeaf(SymbolLeafView) (R, error)
}

// MutableVisitor is implemented by mutating operations over nodes.
type MutableVisitor[R any] interface {
	Branch(Branch) (R, error)
	SumLeaf(SumLeaf) (R, error)
	MapLeaf(MapLeaf) (R, error)
	SymbolLeaf(SymbolLeaf) (R, error)
}

// Dispatch selects the read-only view matching the tag of n and calls the
// corresponding method of v. If the tag is unknown or not part of cfg,
// ErrDispatch is returned.
func Dispatch[R any](n Node, cfg Config, v Visitor[R]) (R, error) {
	var zero R
	if err := checkTag(n, cfg); err != nil {
		return zero, err
	}
	switch n.Tag() {
	case TagBranch:
		return v.Branch(BranchView{node: n, cfg: cfg})
	case TagSumLeaf:
		return v.SumLeaf(SumLeafView{node: n, cfg: cfg})
	case TagMapLeaf:
		return v.MapLeaf(MapLeafView{node: n, cfg: cfg})
	case TagSymbolLeaf:
		return v.SymbolLeaf(SymbolLeafView{node: n, cfg: cfg})
	}
	return zero, errors.Wrapf(ErrDispatch, "node %s has unknown tag %d", short(n.ID()), n.Tag())
}

// DispatchMutable selects the mutable view matching the tag of n and calls
// the corresponding method of v.
func DispatchMutable[R any](n Node, cfg Config, v MutableVisitor[R]) (R, error) {
	var zero R
	if err := checkTag(n, cfg); err != nil {
		return zero, err
	}
	switch n.Tag() {
	case TagBranch:
		return v.Branch(Branch{BranchView{node: n, cfg: cfg}})
	case TagSumLeaf:
		return v.SumLeaf(SumLeaf{SumLeafView{node: n, cfg: cfg}})
	case TagMapLeaf:
		return v.MapLeaf(MapLeaf{MapLeafView{node: n, cfg: cfg}})
	case TagSymbolLeaf:
		return v.SymbolLeaf(SymbolLeaf{SymbolLeafView{node: n, cfg: cfg}})
	}
	return zero, errors.Wrapf(ErrDispatch, "node %s has unknown tag %d", short(n.ID()), n.Tag())
}

func checkTag(n Node, cfg Config) error {
	if tag := n.Tag(); !cfg.Accepts(tag) {
		tracer().Errorf("configuration %q cannot dispatch %s node %s", cfg.Name, tag, short(n.ID()))
		return errors.Wrapf(ErrDispatch, "configuration %q does not accept %s nodes", cfg.Name, tag)
	}
	return nil
}

// --- Typed access ----------------------------------------------------------

// asLeaf and asBranch are visitors converting nodes to the interfaces used by
// the mutation protocol.
type asLeaf struct{}

func (asLeaf) Branch(b Branch) (Leaf, error) {
	return nil, errors.Errorf("node: %s is not a leaf", b.node)
}
func (asLeaf) SumLeaf(l SumLeaf) (Leaf, error)       { return l, nil }
func (asLeaf) MapLeaf(l MapLeaf) (Leaf, error)       { return l, nil }
func (asLeaf) SymbolLeaf(l SymbolLeaf) (Leaf, error) { return l, nil }

type asBranch struct{}

func (asBranch) Branch(b Branch) (Branch, error) { return b, nil }
func (asBranch) SumLeaf(l SumLeaf) (Branch, error) {
	return Branch{}, errors.Errorf("node: %s is not a branch", l.node)
}
func (asBranch) MapLeaf(l MapLeaf) (Branch, error) {
	return Branch{}, errors.Errorf("node: %s is not a branch", l.node)
}
func (asBranch) SymbolLeaf(l SymbolLeaf) (Branch, error) {
	return Branch{}, errors.Errorf("node: %s is not a branch", l.node)
}

// AsLeaf returns the mutable leaf view of n.
func AsLeaf(n Node, cfg Config) (Leaf, error) {
	return DispatchMutable[Leaf](n, cfg, asLeaf{})
}

// AsBranch returns the mutable branch view of n.
func AsBranch(n Node, cfg Config) (Branch, error) {
	return DispatchMutable[Branch](n, cfg, asBranch{})
}

type summarizer struct{}

func (summarizer) Branch(b BranchView) (Summary, error)         { return b.Summary(), nil }
func (summarizer) SumLeaf(l SumLeafView) (Summary, error)       { return l.Summary(), nil }
func (summarizer) MapLeaf(l MapLeafView) (Summary, error)       { return l.Summary(), nil }
func (summarizer) SymbolLeaf(l SymbolLeafView) (Summary, error) { return l.Summary(), nil }

// SummaryOf returns the summary of n.
func SummaryOf(n Node, cfg Config) (Summary, error) {
	return Dispatch[Summary](n, cfg, summarizer{})
}

type sizer struct{}

func (sizer) Branch(b BranchView) (int, error)         { return b.Size(), nil }
func (sizer) SumLeaf(l SumLeafView) (int, error)       { return l.Size(), nil }
func (sizer) MapLeaf(l MapLeafView) (int, error)       { return l.Size(), nil }
func (sizer) SymbolLeaf(l SymbolLeafView) (int, error) { return l.Size(), nil }

// SizeOf returns the number of children of a branch, or the number of
// entries of a leaf.
func SizeOf(n Node, cfg Config) (int, error) {
	return Dispatch[int](n, cfg, sizer{})
}
