package maxtree

import (
	"io"
	"math"

	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
)

// Version is the format version of max tree regions.
const Version = 1

// The region layout is identical to that of a sum tree, with index entries
// holding maxima instead of sums.
const headerSize = packed.Preamble + 8

// None is the maximum of an empty range.
const None int64 = math.MinInt64

// Bytes returns the size of the region a tree with n rows and cols columns
// occupies.
func Bytes(n, cols int) int {
	return headerSize + 8*cols*(packed.IndexEntries(n)+n)
}

// Tree is an ephemeral view of a max tree stored in a slot of an allocator.
type Tree struct {
	alloc *packed.Allocator
	slot  int
}

// Init creates an empty tree with a given number of columns in slot.
func Init(a *packed.Allocator, slot, columns int) (Tree, error) {
	assertThat(columns >= 0 && columns <= math.MaxUint16, "illegal number of columns: %d", columns)
	region, err := a.Allocate(slot, Bytes(0, columns))
	if err != nil {
		return Tree{}, err
	}
	packed.WritePreamble(region, packed.KindMaxTree, Version, 0)
	packed.PutU16(region[packed.Preamble:], uint16(columns))
	return Tree{alloc: a, slot: slot}, nil
}

// View returns a view of the max tree in slot.
func View(a *packed.Allocator, slot int) Tree {
	assertThat(packed.RegionKind(a.Get(slot)) == packed.KindMaxTree, "slot %d does not hold a max tree", slot)
	return Tree{alloc: a, slot: slot}
}

// Size returns the number of rows.
func (t Tree) Size() int {
	return int(packed.GetU32(t.region()[4:]))
}

// Columns returns the number of columns.
func (t Tree) Columns() int {
	return int(packed.GetU16(t.region()[packed.Preamble:]))
}

// Access returns the value at (col, row).
func (t Tree) Access(col, row int) int64 {
	c := t.column(col)
	assertThat(row >= 0 && row < c.n, "row %d out of range [0,%d)", row, c.n)
	return c.Value(row)
}

// Row returns a copy of all column values of a row.
func (t Tree) Row(row int) []int64 {
	r := make([]int64, t.Columns())
	for c := range r {
		r[c] = t.Access(c, row)
	}
	return r
}

// Max returns the maximum of column col over rows [from, to), or None for an
// empty range.
func (t Tree) Max(col, from, to int) int64 {
	return packed.RangeMax(t.column(col), from, to)
}

// Maxima returns the maximum of every column over all rows.
func (t Tree) Maxima() []int64 {
	m := make([]int64, t.Columns())
	for c := range m {
		col := t.column(c)
		m[c] = packed.RangeMax(col, 0, col.n)
	}
	return m
}

// FindGE returns the first row ≥ start with a value ≥ key in column col, or
// Size() if there is none.
func (t Tree) FindGE(col, start int, key int64) int {
	return packed.FindMax(t.column(col), start, key, false)
}

// FindGT returns the first row ≥ start with a value > key in column col, or
// Size() if there is none.
func (t Tree) FindGT(col, start int, key int64) int {
	return packed.FindMax(t.column(col), start, key, true)
}

// --- Two-phase mutation ----------------------------------------------------

type op int8

const (
	opInsert op = iota
	opUpdate
	opRemove
	opMerge
)

// Update is the update-state of a single mutation.
type Update struct {
	op       op
	from, to int
	rows     [][]int64
	other    Tree
}

// PrepareInsert checks if rows may be inserted at idx and reserves the space
// needed.
func (t Tree) PrepareInsert(u *packed.UpdateState, idx int, rows ...[]int64) (Update, error) {
	n, cols := t.Size(), t.Columns()
	assertThat(idx >= 0 && idx <= n, "insert index %d out of range [0,%d]", idx, n)
	if err := u.Reserve(t.slot, Bytes(n+len(rows), cols)); err != nil {
		return Update{}, err
	}
	return Update{op: opInsert, from: idx, rows: copyRows(rows, cols)}, nil
}

// PrepareUpdate checks if row idx may be replaced.
func (t Tree) PrepareUpdate(u *packed.UpdateState, idx int, row []int64) (Update, error) {
	n, cols := t.Size(), t.Columns()
	assertThat(idx >= 0 && idx < n, "update index %d out of range [0,%d)", idx, n)
	if err := u.Reserve(t.slot, Bytes(n, cols)); err != nil {
		return Update{}, err
	}
	return Update{op: opUpdate, from: idx, rows: copyRows([][]int64{row}, cols)}, nil
}

// PrepareRemove prepares removal of rows [from, to).
func (t Tree) PrepareRemove(u *packed.UpdateState, from, to int) (Update, error) {
	n, cols := t.Size(), t.Columns()
	assertThat(from >= 0 && from <= to && to <= n, "remove range [%d,%d) out of bounds [0,%d]", from, to, n)
	if err := u.Reserve(t.slot, Bytes(n-(to-from), cols)); err != nil {
		return Update{}, err
	}
	return Update{op: opRemove, from: from, to: to}, nil
}

// PrepareMerge checks if all rows of other can be appended to t.
func (t Tree) PrepareMerge(u *packed.UpdateState, other Tree) (Update, error) {
	cols := t.Columns()
	assertThat(other.Columns() == cols, "cannot merge trees with %d and %d columns", cols, other.Columns())
	if err := u.Reserve(t.slot, Bytes(t.Size()+other.Size(), cols)); err != nil {
		return Update{}, err
	}
	return Update{op: opMerge, other: other}, nil
}

// Commit performs a prepared mutation. It cannot fail.
func (t Tree) Commit(upd Update) {
	n, cols := t.Size(), t.decode()
	switch upd.op {
	case opInsert:
		for c := range cols {
			head := append([]int64(nil), cols[c][:upd.from]...)
			for _, r := range upd.rows {
				head = append(head, r[c])
			}
			cols[c] = append(head, cols[c][upd.from:]...)
		}
		n += len(upd.rows)
	case opUpdate:
		for c := range cols {
			cols[c][upd.from] = upd.rows[0][c]
		}
	case opRemove:
		for c := range cols {
			cols[c] = append(cols[c][:upd.from], cols[c][upd.to:]...)
		}
		n -= upd.to - upd.from
	case opMerge:
		ocols := upd.other.decode()
		for c := range cols {
			cols[c] = append(cols[c], ocols[c]...)
		}
		n += upd.other.Size()
	}
	err := t.encode(n, cols)
	assertThat(err == nil, "commit without successful prepare: %v", err)
}

// Insert inserts rows at idx.
func (t Tree) Insert(idx int, rows ...[]int64) error {
	upd, err := t.PrepareInsert(t.alloc.NewUpdateState(), idx, rows...)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// Update replaces row idx.
func (t Tree) Update(idx int, row []int64) error {
	upd, err := t.PrepareUpdate(t.alloc.NewUpdateState(), idx, row)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// Remove removes rows [from, to).
func (t Tree) Remove(from, to int) error {
	upd, err := t.PrepareRemove(t.alloc.NewUpdateState(), from, to)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// CommitMergeWith appends all rows of other to t.
func (t Tree) CommitMergeWith(other Tree) error {
	upd, err := t.PrepareMerge(t.alloc.NewUpdateState(), other)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// SplitTo moves rows [idx, Size()) to the empty tree other. On failure both
// trees are unchanged.
func (t Tree) SplitTo(other Tree, idx int) error {
	n, ncols := t.Size(), t.Columns()
	assertThat(idx >= 0 && idx <= n, "split index %d out of range [0,%d]", idx, n)
	assertThat(other.Size() == 0 && other.Columns() == ncols, "split target must be an empty tree with %d columns", ncols)
	cols := t.decode()
	head, tail := make([][]int64, ncols), make([][]int64, ncols)
	for c := range cols {
		head[c], tail[c] = cols[c][:idx], cols[c][idx:]
	}
	if other.alloc == t.alloc {
		err := t.encode(idx, head)
		assertThat(err == nil, "shrinking failed: %v", err)
		if err = other.encode(n-idx, tail); err != nil {
			err2 := t.encode(n, cols)
			assertThat(err2 == nil, "cannot restore tree after failed split: %v", err2)
			return err
		}
		return nil
	}
	if err := other.encode(n-idx, tail); err != nil {
		return err
	}
	err := t.encode(idx, head)
	assertThat(err == nil, "shrinking failed: %v", err)
	return nil
}

// Check validates the region and the consistency of the index.
func (t Tree) Check() error {
	region := t.region()
	if err := packed.CheckRegion(region, packed.KindMaxTree, Version); err != nil {
		return err
	}
	n, cols := t.Size(), t.Columns()
	if len(region) < Bytes(n, cols) {
		return errors.Wrapf(packed.ErrBadLayout, "max tree of %d×%d needs %d bytes, region has %d",
			n, cols, Bytes(n, cols), len(region))
	}
	for c, values := range t.decode() {
		expected := packed.NewSliceColumn(packed.MaxAggregate, values)
		col := t.column(c)
		for l, cnt := range packed.IndexLevels(n) {
			for i := 0; i < cnt; i++ {
				if col.Entry(l, i) != expected.Entry(l, i) {
					return errors.Errorf("maxtree: index of column %d inconsistent at level %d, entry %d", c, l, i)
				}
			}
		}
	}
	return nil
}

// Serialize writes the tree's region to w.
func (t Tree) Serialize(w io.Writer) error {
	return packed.SerializeRegion(w, t.alloc, t.slot)
}

// Deserialize replaces the contents of t with a tree written by Serialize.
func (t Tree) Deserialize(r io.Reader) error {
	if err := packed.DeserializeRegion(r, t.alloc, t.slot, packed.KindMaxTree, Version); err != nil {
		return err
	}
	return t.Check()
}

// GenerateDataEvents emits the contents of t.
func (t Tree) GenerateDataEvents(h packed.EventHandler) {
	n := t.Size()
	h.StartGroup("MAX_TREE", n)
	h.Value("SIZE", n)
	h.Value("COLUMNS", t.Columns())
	for _, values := range t.decode() {
		h.StartStruct()
		h.Array("VALUES", values)
		h.Array("INDEX", packed.BuildIndex(packed.MaxAggregate, values))
		h.EndStruct()
	}
	h.EndGroup()
}

// --- Helpers ---------------------------------------------------------------

func (t Tree) region() []byte {
	return t.alloc.Get(t.slot)
}

type column struct {
	region  []byte
	n, cols int
	c       int
	entries int
	starts  []int
}

func (t Tree) column(c int) column {
	region := t.region()
	n := int(packed.GetU32(region[4:]))
	cols := int(packed.GetU16(region[packed.Preamble:]))
	assertThat(c >= 0 && c < cols, "column %d out of range [0,%d)", c, cols)
	levels := packed.IndexLevels(n)
	starts := make([]int, len(levels))
	entries := 0
	for l, cnt := range levels {
		starts[l] = entries
		entries += cnt
	}
	return column{region: region, n: n, cols: cols, c: c, entries: entries, starts: starts}
}

func (c column) Len() int { return c.n }

func (c column) Value(i int) int64 {
	return packed.GetI64(c.region[headerSize+8*(c.cols*c.entries+c.c*c.n+i):])
}

func (c column) Entry(l, i int) int64 {
	return packed.GetI64(c.region[headerSize+8*(c.c*c.entries+c.starts[l]+i):])
}

func (t Tree) decode() [][]int64 {
	cols := make([][]int64, t.Columns())
	for c := range cols {
		col := t.column(c)
		values := make([]int64, col.n)
		for i := range values {
			values[i] = col.Value(i)
		}
		cols[c] = values
	}
	return cols
}

func (t Tree) encode(n int, cols [][]int64) error {
	size := Bytes(n, len(cols))
	if err := t.alloc.Resize(t.slot, size); err != nil {
		return err
	}
	region := t.region()
	packed.WritePreamble(region, packed.KindMaxTree, Version, n)
	packed.PutU16(region[packed.Preamble:], uint16(len(cols)))
	entries := packed.IndexEntries(n)
	for c, values := range cols {
		assertThat(len(values) == n, "column %d has %d values, expected %d", c, len(values), n)
		off := headerSize + 8*c*entries
		for i, v := range packed.BuildIndex(packed.MaxAggregate, values) {
			packed.PutI64(region[off+8*i:], v)
		}
		off = headerSize + 8*(len(cols)*entries+c*n)
		for i, v := range values {
			packed.PutI64(region[off+8*i:], v)
		}
	}
	for i := size; i < len(region); i++ {
		region[i] = 0
	}
	tracer().Debugf("maxtree: encoded %d rows × %d columns", n, len(cols))
	return nil
}

func copyRows(rows [][]int64, cols int) [][]int64 {
	cp := make([][]int64, len(rows))
	for i, r := range rows {
		assertThat(len(r) == cols, "row has %d values, tree has %d columns", len(r), cols)
		cp[i] = append([]int64(nil), r...)
	}
	return cp
}
