package walker

import (
	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
)

// Source provides access to the nodes of a tree.
type Source interface {
	Node(id uuid.UUID) (node.Node, error)
}

// ErrUnsupported is returned if a walker is used on a tree whose leaves
// cannot answer the walker's query.
var ErrUnsupported = errors.New("walker: query not supported by leaf type")

// Frame is a step of the path of a walk: the node visited and the index
// chosen there. For branches the index is the child descended into, for
// leaves the position within the leaf.
type Frame struct {
	ID    uuid.UUID
	Index int
}

// Result is the outcome of a walk.
type Result struct {
	Pos    int     // position found, or Size() / -1 if not found
	Prefix int64   // sum passed over before reaching Pos
	Found  bool    // Pos points to an entry
	Path   []Frame // nodes visited, from the root
}

// Leaf returns the last frame of the path, which is a leaf frame for walks
// which reached a leaf.
func (r Result) Leaf() Frame {
	if len(r.Path) == 0 {
		return Frame{}
	}
	return r.Path[len(r.Path)-1]
}

// Walk is the entry point for searches over a tree.
type Walk struct {
	src  Source
	cfg  node.Config
	root uuid.UUID
}

// Over creates a walk over the tree rooted at root.
func Over(src Source, cfg node.Config, root uuid.UUID) Walk {
	return Walk{src: src, cfg: cfg, root: root}
}

// --- State machine ---------------------------------------------------------

// step is the transition chosen by a walker after visiting a node.
type step struct {
	next uuid.UUID
	done bool
}

func finish() (step, error) {
	return step{done: true}, nil
}

func descend(id uuid.UUID) (step, error) {
	return step{next: id}, nil
}

// maxDepth limits descents into corrupted, cyclic trees.
const maxDepth = 64

// run drives a walker from the root down to the node where it finishes.
// Walkers are fresh values for every call and keep their state in their own
// fields.
func (w Walk) run(v node.Visitor[step]) error {
	id := w.root
	for depth := 0; depth < maxDepth; depth++ {
		n, err := w.src.Node(id)
		if err != nil {
			return errors.Wrapf(err, "walker: cannot load node %s", id)
		}
		st, err := node.Dispatch[step](n, w.cfg, v)
		if err != nil {
			return err
		}
		if st.done {
			return nil
		}
		id = st.next
	}
	tracer().Errorf("walk exceeds depth %d", maxDepth)
	return errors.Errorf("walker: tree deeper than %d levels", maxDepth)
}

// --- Sum searches ----------------------------------------------------------

type findFw struct {
	col    int
	target int64
	rel    packed.Relation
	res    Result
}

func (f *findFw) Branch(b node.BranchView) (step, error) {
	sums := b.Sums()
	r := sums.FindFw(f.col, 0, f.target, f.rel)
	f.res.Prefix += r.Prefix
	if r.Idx >= b.Size() {
		f.res.Pos += int(sums.Total(0))
		f.res.Path = append(f.res.Path, Frame{ID: b.Node().ID(), Index: r.Idx})
		return finish()
	}
	f.res.Pos += int(sums.Prefix(0, r.Idx))
	f.target -= r.Prefix
	f.res.Path = append(f.res.Path, Frame{ID: b.Node().ID(), Index: r.Idx})
	return descend(b.Child(r.Idx))
}

func (f *findFw) leaf(l node.LeafView) (step, error) {
	r := l.FindFw(f.col, f.target, f.rel)
	f.res.Pos += r.Idx
	f.res.Prefix += r.Prefix
	f.res.Found = r.Found(l.Size())
	f.res.Path = append(f.res.Path, Frame{ID: l.Node().ID(), Index: r.Idx})
	return finish()
}

func (f *findFw) SumLeaf(l node.SumLeafView) (step, error)       { return f.leaf(l) }
func (f *findFw) MapLeaf(l node.MapLeafView) (step, error)       { return f.leaf(l) }
func (f *findFw) SymbolLeaf(l node.SymbolLeafView) (step, error) { return f.leaf(l) }

type findBw struct {
	col    int
	target int64
	rel    packed.Relation
	base   int
	res    Result
}

func (f *findBw) Branch(b node.BranchView) (step, error) {
	sums := b.Sums()
	r := sums.FindBw(f.col, b.Size()-1, f.target, f.rel)
	f.res.Prefix += r.Prefix
	f.res.Path = append(f.res.Path, Frame{ID: b.Node().ID(), Index: r.Idx})
	if r.Idx < 0 {
		f.res.Pos = -1
		return finish()
	}
	f.base += int(sums.Prefix(0, r.Idx))
	f.target -= r.Prefix
	return descend(b.Child(r.Idx))
}

func (f *findBw) leaf(l node.LeafView) (step, error) {
	r := l.FindBw(f.col, f.target, f.rel)
	f.res.Prefix += r.Prefix
	f.res.Path = append(f.res.Path, Frame{ID: l.Node().ID(), Index: r.Idx})
	if r.Idx < 0 {
		f.res.Pos = -1
		return finish()
	}
	f.res.Pos = f.base + r.Idx
	f.res.Found = true
	return finish()
}

func (f *findBw) SumLeaf(l node.SumLeafView) (step, error)       { return f.leaf(l) }
func (f *findBw) MapLeaf(l node.MapLeafView) (step, error)       { return f.leaf(l) }
func (f *findBw) SymbolLeaf(l node.SymbolLeafView) (step, error) { return f.leaf(l) }

// FindFw locates the smallest position pos for which the sum of column col
// over [0, pos] satisfies rel (GE or GT) with respect to target. Searching
// column 0 locates positions, as every entry counts 1.
func (w Walk) FindFw(col int, target int64, rel packed.Relation) (Result, error) {
	f := &findFw{col: col, target: target, rel: rel}
	err := w.run(f)
	tracer().Debugf("find-fw %d %s %d → %d", col, rel, target, f.res.Pos)
	return f.res, err
}

// FindBw locates the largest position pos for which the sum of column col
// over [pos, Size()) satisfies rel (GE or GT) with respect to target.
func (w Walk) FindBw(col int, target int64, rel packed.Relation) (Result, error) {
	f := &findBw{col: col, target: target, rel: rel}
	err := w.run(f)
	tracer().Debugf("find-bw %d %s %d → %d", col, rel, target, f.res.Pos)
	return f.res, err
}

// FindFwFrom locates the smallest position pos ≥ start for which the sum of
// column col over [start, pos] satisfies rel with respect to target.
// Prefix is the sum over [start, pos).
func (w Walk) FindFwFrom(start, col int, target int64, rel packed.Relation) (Result, error) {
	size, err := w.Size()
	if err != nil {
		return Result{}, err
	}
	assertThat(start >= 0 && start <= size, "start %d out of range [0,%d]", start, size)
	if start == size {
		return Result{Pos: size}, nil
	}
	if clamped(target, rel) {
		return w.Position(start)
	}
	base, err := w.PrefixSum(start, col)
	if err != nil {
		return Result{}, err
	}
	res, err := w.FindFw(col, base+target, rel)
	res.Prefix -= base
	return res, err
}

// FindBwFrom locates the largest position pos ≤ start for which the sum of
// column col over [pos, start] satisfies rel with respect to target.
// Prefix is the sum over (pos, start].
func (w Walk) FindBwFrom(start, col int, target int64, rel packed.Relation) (Result, error) {
	size, err := w.Size()
	if err != nil {
		return Result{}, err
	}
	assertThat(start >= -1 && start < size, "start %d out of range [-1,%d)", start, size)
	if start < 0 {
		return Result{Pos: -1}, nil
	}
	if clamped(target, rel) {
		return w.Position(start)
	}
	total, err := w.Count(col)
	if err != nil {
		return Result{}, err
	}
	upto, err := w.PrefixSum(start+1, col)
	if err != nil {
		return Result{}, err
	}
	after := total - upto
	res, err := w.FindBw(col, target+after, rel)
	res.Prefix -= after
	return res, err
}

// clamped is true for targets reached by the start element itself, whatever
// its value.
func clamped(target int64, rel packed.Relation) bool {
	return target < 0 || (target == 0 && rel == packed.GE)
}

// --- Positions -------------------------------------------------------------

// Position returns the walk to the entry at pos.
func (w Walk) Position(pos int) (Result, error) {
	res, err := w.FindFw(0, int64(pos), packed.GT)
	res.Prefix = 0
	return res, err
}

// SkipFw moves n entries forward from start.
func (w Walk) SkipFw(start, n int) (Result, error) {
	return w.FindFwFrom(start, 0, int64(n), packed.GT)
}

// SkipBw moves n entries backward from start.
func (w Walk) SkipBw(start, n int) (Result, error) {
	return w.FindBwFrom(start, 0, int64(n), packed.GT)
}

// SelectFw locates the rank-th occurrence (rank ≥ 1) of sym at a position
// ≥ start. If there are fewer occurrences, Pos is Size() and Prefix is the
// number of occurrences found.
func (w Walk) SelectFw(start, sym, rank int) (Result, error) {
	assertThat(rank >= 1, "rank must be positive, is %d", rank)
	return w.FindFwFrom(start, w.cfg.SymbolColumn(sym), int64(rank), packed.GE)
}

// SelectBw locates the rank-th occurrence (rank ≥ 1) of sym at a position
// ≤ start, counting backwards.
func (w Walk) SelectBw(start, sym, rank int) (Result, error) {
	assertThat(rank >= 1, "rank must be positive, is %d", rank)
	return w.FindBwFrom(start, w.cfg.SymbolColumn(sym), int64(rank), packed.GE)
}

type locator struct {
	pos int
	res Result
}

func (lc *locator) Branch(b node.BranchView) (step, error) {
	n := b.Size()
	if n == 0 {
		return step{}, errors.Errorf("walker: branch %s has no children", b.Node())
	}
	sums := b.Sums()
	var i int
	if int64(lc.pos) >= sums.Total(0) {
		i = n - 1
	} else {
		i = sums.FindFw(0, 0, int64(lc.pos), packed.GT).Idx
	}
	lc.pos -= int(sums.Prefix(0, i))
	lc.res.Path = append(lc.res.Path, Frame{ID: b.Node().ID(), Index: i})
	return descend(b.Child(i))
}

func (lc *locator) leaf(l node.LeafView) (step, error) {
	lc.res.Found = lc.pos < l.Size()
	lc.res.Path = append(lc.res.Path, Frame{ID: l.Node().ID(), Index: lc.pos})
	return finish()
}

func (lc *locator) SumLeaf(l node.SumLeafView) (step, error)       { return lc.leaf(l) }
func (lc *locator) MapLeaf(l node.MapLeafView) (step, error)       { return lc.leaf(l) }
func (lc *locator) SymbolLeaf(l node.SymbolLeafView) (step, error) { return lc.leaf(l) }

// Locate returns the path to the leaf position at which an entry would be
// inserted to become entry pos, 0 ≤ pos ≤ Size(). Position Size() resolves
// to the end of the last leaf.
func (w Walk) Locate(pos int) (Result, error) {
	lc := &locator{pos: pos}
	lc.res.Pos = pos
	err := w.run(lc)
	return lc.res, err
}

// --- Aggregates ------------------------------------------------------------

type prefixSum struct {
	col int
	pos int
	sum int64
}

func (p *prefixSum) Branch(b node.BranchView) (step, error) {
	sums := b.Sums()
	if int64(p.pos) >= sums.Total(0) {
		p.sum += sums.Total(p.col)
		return finish()
	}
	r := sums.FindFw(0, 0, int64(p.pos), packed.GT)
	p.sum += sums.Prefix(p.col, r.Idx)
	p.pos -= int(r.Prefix)
	return descend(b.Child(r.Idx))
}

func (p *prefixSum) leaf(l node.LeafView) (step, error) {
	p.sum += l.Prefix(p.col, p.pos)
	return finish()
}

func (p *prefixSum) SumLeaf(l node.SumLeafView) (step, error)       { return p.leaf(l) }
func (p *prefixSum) MapLeaf(l node.MapLeafView) (step, error)       { return p.leaf(l) }
func (p *prefixSum) SymbolLeaf(l node.SymbolLeafView) (step, error) { return p.leaf(l) }

// PrefixSum returns the sum of column col over [0, pos).
func (w Walk) PrefixSum(pos, col int) (int64, error) {
	p := &prefixSum{col: col, pos: pos}
	err := w.run(p)
	return p.sum, err
}

// Rank returns the number of occurrences of sym in [0, pos).
func (w Walk) Rank(pos, sym int) (int, error) {
	r, err := w.PrefixSum(pos, w.cfg.SymbolColumn(sym))
	return int(r), err
}

// Summary returns the summary of the whole tree.
func (w Walk) Summary() (node.Summary, error) {
	root, err := w.src.Node(w.root)
	if err != nil {
		return node.Summary{}, errors.Wrapf(err, "walker: cannot load root %s", w.root)
	}
	return node.SummaryOf(root, w.cfg)
}

// Count returns the total of column col.
func (w Walk) Count(col int) (int64, error) {
	s, err := w.Summary()
	if err != nil {
		return 0, err
	}
	assertThat(col >= 0 && col < len(s.Sums), "column %d out of range [0,%d)", col, len(s.Sums))
	return s.Sums[col], nil
}

// Size returns the number of entries.
func (w Walk) Size() (int, error) {
	n, err := w.Count(0)
	return int(n), err
}

// --- Keys ------------------------------------------------------------------

type findKey struct {
	key    int64
	strict bool
	res    Result
}

func (f *findKey) Branch(b node.BranchView) (step, error) {
	maxes := b.Maxes()
	if maxes.Columns() == 0 {
		return step{}, errors.Wrapf(ErrUnsupported, "branch %s has no key column", b.Node())
	}
	var i int
	if f.strict {
		i = maxes.FindGT(0, 0, f.key)
	} else {
		i = maxes.FindGE(0, 0, f.key)
	}
	f.res.Path = append(f.res.Path, Frame{ID: b.Node().ID(), Index: i})
	if i >= b.Size() {
		f.res.Pos += int(b.Sums().Total(0))
		return finish()
	}
	f.res.Pos += int(b.Sums().Prefix(0, i))
	return descend(b.Child(i))
}

func (f *findKey) MapLeaf(l node.MapLeafView) (step, error) {
	i := l.FindKey(f.key, f.strict)
	f.res.Pos += i
	f.res.Found = i < l.Size()
	f.res.Path = append(f.res.Path, Frame{ID: l.Node().ID(), Index: i})
	return finish()
}

func (f *findKey) SumLeaf(l node.SumLeafView) (step, error) {
	return step{}, errors.Wrapf(ErrUnsupported, "%s has no keys", l.Node())
}

func (f *findKey) SymbolLeaf(l node.SymbolLeafView) (step, error) {
	return step{}, errors.Wrapf(ErrUnsupported, "%s has no keys", l.Node())
}

// FindKey searches a tree with sorted keys. For GE and GT it locates the
// first entry with a key ≥ (>) key, for LE and LT the last entry with a key
// ≤ (<) key.
func (w Walk) FindKey(key int64, rel packed.Relation) (Result, error) {
	f := &findKey{key: key, strict: rel == packed.GT || rel == packed.LE}
	if err := w.run(f); err != nil {
		return Result{}, err
	}
	if rel == packed.GE || rel == packed.GT {
		return f.res, nil
	}
	if f.res.Pos == 0 {
		return Result{Pos: -1}, nil
	}
	return w.Position(f.res.Pos - 1)
}
