package sumtree

import (
	"io"
	"math"

	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
)

// Version is the format version of sum tree regions.
const Version = 1

// Region layout:
//
//	0   preamble (kind, version, size)
//	8   columns  uint16
//	10  reserved
//	16  index    columns × IndexEntries(size) int64, column-major
//	    values   columns × size int64, column-major
const headerSize = packed.Preamble + 8

// Bytes returns the size of the region a tree with n rows and cols columns
// occupies.
func Bytes(n, cols int) int {
	return headerSize + 8*cols*(packed.IndexEntries(n)+n)
}

// Tree is an ephemeral view of a sum tree stored in a slot of an allocator.
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
	packed.WritePreamble(region, packed.KindSumTree, Version, 0)
	packed.PutU16(region[packed.Preamble:], uint16(columns))
	return Tree{alloc: a, slot: slot}, nil
}

// View returns a view of the sum tree in slot.
func View(a *packed.Allocator, slot int) Tree {
	assertThat(packed.RegionKind(a.Get(slot)) == packed.KindSumTree, "slot %d does not hold a sum tree", slot)
	return Tree{alloc: a, slot: slot}
}

// Slot returns the slot t lives in.
func (t Tree) Slot() int {
	return t.slot
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

// Sum returns the sum of column col over rows [from, to).
func (t Tree) Sum(col, from, to int) int64 {
	c := t.column(col)
	assertThat(from >= 0 && from <= to && to <= c.n, "range [%d,%d) out of bounds [0,%d]", from, to, c.n)
	if from == to {
		return 0
	}
	return packed.PrefixSum(c, to) - packed.PrefixSum(c, from)
}

// Prefix returns the sum of column col over rows [0, k).
func (t Tree) Prefix(col, k int) int64 {
	return packed.PrefixSum(t.column(col), k)
}

// Total returns the sum of column col over all rows.
func (t Tree) Total(col int) int64 {
	c := t.column(col)
	return packed.PrefixSum(c, c.n)
}

// Totals returns the totals of all columns.
func (t Tree) Totals() []int64 {
	totals := make([]int64, t.Columns())
	for c := range totals {
		totals[c] = t.Total(c)
	}
	return totals
}

// FindFw searches forward from row start for the first row at which the
// running sum of column col satisfies rel (GE or GT) with respect to target.
// If the target is not reached, the result's index is Size() and its prefix
// is the sum from start to the end.
func (t Tree) FindFw(col, start int, target int64, rel packed.Relation) packed.FindResult {
	return packed.FindForward(t.column(col), start, target, rel)
}

// FindBw searches backward from row start (inclusive) for the first row at
// which the running sum of column col satisfies rel with respect to target.
// If the target is not reached, the result's index is -1 and its prefix is
// the sum from row 0 up to and including start.
func (t Tree) FindBw(col, start int, target int64, rel packed.Relation) packed.FindResult {
	return packed.FindBackward(t.column(col), start, target, rel)
}

// --- Two-phase mutation ----------------------------------------------------

type op int8

const (
	opInsert op = iota
	opUpdate
	opRemove
	opMerge
)

// Update is the update-state of a single mutation. It is created by one of
// the Prepare operations and consumed by Commit.
type Update struct {
	op       op
	from, to int
	rows     [][]int64
	other    Tree
}

// PrepareInsert checks if rows may be inserted at idx and reserves the space
// needed. It does not modify the tree.
func (t Tree) PrepareInsert(u *packed.UpdateState, idx int, rows ...[]int64) (Update, error) {
	n, cols := t.Size(), t.Columns()
	assertThat(idx >= 0 && idx <= n, "insert index %d out of range [0,%d]", idx, n)
	if err := u.Reserve(t.slot, Bytes(n+len(rows), cols)); err != nil {
		return Update{}, err
	}
	return Update{op: opInsert, from: idx, rows: copyRows(rows, cols)}, nil
}

// PrepareUpdate checks if row idx may be replaced. As rows have fixed width
// this will never fail for lack of space.
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

// Commit performs a prepared mutation. It must be called with the update-state
// returned by a successful prepare of this tree and cannot fail.
func (t Tree) Commit(upd Update) {
	n, cols := t.Size(), t.decode()
	switch upd.op {
	case opInsert:
		for c := range cols {
			ins := make([]int64, len(upd.rows))
			for j, r := range upd.rows {
				ins[j] = r[c]
			}
			cols[c] = insertAt(cols[c], upd.from, ins)
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

// Add adds delta to the values of row idx. It is used to propagate
// accumulated deltas into summaries.
func (t Tree) Add(idx int, delta []int64) {
	row := t.Row(idx)
	assertThat(len(delta) == len(row), "delta has %d columns, tree has %d", len(delta), len(row))
	for c := range row {
		row[c] += delta[c]
	}
	err := t.Update(idx, row)
	assertThat(err == nil, "fixed-width update failed: %v", err)
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

// CommitMergeWith appends all rows of other to t. other is left unchanged.
func (t Tree) CommitMergeWith(other Tree) error {
	upd, err := t.PrepareMerge(t.alloc.NewUpdateState(), other)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// SplitTo moves rows [idx, Size()) to other, which has to be an empty tree
// with the same number of columns. If other cannot take the rows, an error is
// returned and both trees are unchanged.
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

// Clear removes all rows.
func (t Tree) Clear() {
	err := t.encode(0, make([][]int64, t.Columns()))
	assertThat(err == nil, "clearing failed: %v", err)
}

// Check validates the region layout and verifies that the index is consistent
// with the values.
func (t Tree) Check() error {
	region := t.region()
	if err := packed.CheckRegion(region, packed.KindSumTree, Version); err != nil {
		return err
	}
	n, cols := t.Size(), t.Columns()
	if len(region) < Bytes(n, cols) {
		return errors.Wrapf(packed.ErrBadLayout, "sum tree of %d×%d needs %d bytes, region has %d",
			n, cols, Bytes(n, cols), len(region))
	}
	for c, values := range t.decode() {
		expected := packed.NewSliceColumn(packed.SumAggregate, values)
		col := t.column(c)
		for l, cnt := range packed.IndexLevels(n) {
			for i := 0; i < cnt; i++ {
				if col.Entry(l, i) != expected.Entry(l, i) {
					return errors.Errorf("sumtree: index of column %d inconsistent at level %d, entry %d", c, l, i)
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
	if err := packed.DeserializeRegion(r, t.alloc, t.slot, packed.KindSumTree, Version); err != nil {
		return err
	}
	return t.Check()
}

// GenerateDataEvents emits the contents of t.
func (t Tree) GenerateDataEvents(h packed.EventHandler) {
	n := t.Size()
	h.StartGroup("SUM_TREE", n)
	h.Value("SIZE", n)
	h.Value("COLUMNS", t.Columns())
	for _, values := range t.decode() {
		h.StartStruct()
		h.Array("VALUES", values)
		h.Array("INDEX", packed.BuildIndex(packed.SumAggregate, values))
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

func (c column) Len() int {
	return c.n
}

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
	packed.WritePreamble(region, packed.KindSumTree, Version, n)
	packed.PutU16(region[packed.Preamble:], uint16(len(cols)))
	entries := packed.IndexEntries(n)
	for c, values := range cols {
		assertThat(len(values) == n, "column %d has %d values, expected %d", c, len(values), n)
		off := headerSize + 8*c*entries
		for i, v := range packed.BuildIndex(packed.SumAggregate, values) {
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
	tracer().Debugf("sumtree: encoded %d rows × %d columns into %d bytes", n, len(cols), size)
	return nil
}

func insertAt(values []int64, idx int, ins []int64) []int64 {
	out := make([]int64, 0, len(values)+len(ins))
	out = append(out, values[:idx]...)
	out = append(out, ins...)
	return append(out, values[idx:]...)
}

func copyRows(rows [][]int64, cols int) [][]int64 {
	cp := make([][]int64, len(rows))
	for i, r := range rows {
		assertThat(len(r) == cols, "row has %d values, tree has %d columns", len(r), cols)
		cp[i] = append([]int64(nil), r...)
	}
	return cp
}
