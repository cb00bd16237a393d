package vletree

import (
	"io"
	"math"

	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the format version of VLE tree regions.
const Version = 1

// Region layout:
//
//	0   preamble (kind, version, size)
//	8   data size  uint32
//	12  reserved
//	16  offsets    groups(size) uint32, byte offsets into data
//	    index      IndexEntries(size) int64, group sums
//	    data       varint codes
const headerSize = packed.Preamble + 8

func groups(n int) int {
	return (n + packed.IndexSpan - 1) / packed.IndexSpan
}

// Bytes returns the size of the region for n values taking dataSize bytes of
// codes.
func Bytes(n, dataSize int) int {
	return headerSize + 4*groups(n) + 8*packed.IndexEntries(n) + dataSize
}

// CodeSize returns the number of bytes value v takes in a VLE tree.
func CodeSize(v uint64) int {
	return protowire.SizeVarint(v)
}

// Tree is an ephemeral view of a VLE tree stored in a slot of an allocator.
type Tree struct {
	alloc *packed.Allocator
	slot  int
}

// Init creates an empty tree in slot.
func Init(a *packed.Allocator, slot int) (Tree, error) {
	region, err := a.Allocate(slot, Bytes(0, 0))
	if err != nil {
		return Tree{}, err
	}
	packed.WritePreamble(region, packed.KindVLETree, Version, 0)
	return Tree{alloc: a, slot: slot}, nil
}

// View returns a view of the VLE tree in slot.
func View(a *packed.Allocator, slot int) Tree {
	assertThat(packed.RegionKind(a.Get(slot)) == packed.KindVLETree, "slot %d does not hold a VLE tree", slot)
	return Tree{alloc: a, slot: slot}
}

// Size returns the number of values.
func (t Tree) Size() int {
	return int(packed.GetU32(t.region()[4:]))
}

// DataSize returns the number of bytes taken by value codes.
func (t Tree) DataSize() int {
	return int(packed.GetU32(t.region()[packed.Preamble:]))
}

// Access returns value i. It resolves the offset of i's group first and
// decodes codes from there.
func (t Tree) Access(i int) uint64 {
	l := t.layout()
	assertThat(i >= 0 && i < l.n, "index %d out of range [0,%d)", i, l.n)
	return l.access(i)
}

// Values returns a copy of all values.
func (t Tree) Values() []uint64 {
	return t.layout().decode()
}

// Sum returns the sum of values [from, to).
func (t Tree) Sum(from, to int) int64 {
	l := t.layout()
	assertThat(from >= 0 && from <= to && to <= l.n, "range [%d,%d) out of bounds [0,%d]", from, to, l.n)
	if from == to {
		return 0
	}
	return packed.PrefixSum(l, to) - packed.PrefixSum(l, from)
}

// Total returns the sum of all values.
func (t Tree) Total() int64 {
	l := t.layout()
	return packed.PrefixSum(l, l.n)
}

// FindFw searches forward from start for the first index at which the running
// sum satisfies rel with respect to target.
func (t Tree) FindFw(start int, target int64, rel packed.Relation) packed.FindResult {
	return packed.FindForward(t.layout(), start, target, rel)
}

// FindBw searches backward from start for the first index at which the
// running sum satisfies rel with respect to target.
func (t Tree) FindBw(start int, target int64, rel packed.Relation) packed.FindResult {
	return packed.FindBackward(t.layout(), start, target, rel)
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
	values   []uint64
	other    Tree
}

// PrepareInsert checks if values may be inserted at idx and reserves the
// space needed.
func (t Tree) PrepareInsert(u *packed.UpdateState, idx int, values ...uint64) (Update, error) {
	n := t.Size()
	assertThat(idx >= 0 && idx <= n, "insert index %d out of range [0,%d]", idx, n)
	size, total := t.DataSize(), t.Total()
	for _, v := range values {
		var err error
		if total, err = addValue(total, v); err != nil {
			return Update{}, err
		}
		size += CodeSize(v)
	}
	if err := u.Reserve(t.slot, Bytes(n+len(values), size)); err != nil {
		return Update{}, err
	}
	return Update{op: opInsert, from: idx, values: append([]uint64(nil), values...)}, nil
}

// PrepareUpdate checks if value idx may be replaced by v. As codes have
// variable length, this may fail for lack of space.
func (t Tree) PrepareUpdate(u *packed.UpdateState, idx int, v uint64) (Update, error) {
	n := t.Size()
	assertThat(idx >= 0 && idx < n, "update index %d out of range [0,%d)", idx, n)
	old := t.Access(idx)
	if _, err := addValue(t.Total()-int64(old), v); err != nil {
		return Update{}, err
	}
	size := t.DataSize() - CodeSize(old) + CodeSize(v)
	if err := u.Reserve(t.slot, Bytes(n, size)); err != nil {
		return Update{}, err
	}
	return Update{op: opUpdate, from: idx, values: []uint64{v}}, nil
}

// PrepareRemove prepares removal of values [from, to).
func (t Tree) PrepareRemove(u *packed.UpdateState, from, to int) (Update, error) {
	l := t.layout()
	assertThat(from >= 0 && from <= to && to <= l.n, "remove range [%d,%d) out of bounds [0,%d]", from, to, l.n)
	size := l.dataSize
	for i := from; i < to; i++ {
		size -= CodeSize(l.access(i))
	}
	if err := u.Reserve(t.slot, Bytes(l.n-(to-from), size)); err != nil {
		return Update{}, err
	}
	return Update{op: opRemove, from: from, to: to}, nil
}

// PrepareMerge checks if all values of other can be appended to t.
func (t Tree) PrepareMerge(u *packed.UpdateState, other Tree) (Update, error) {
	if _, err := addValue(t.Total(), uint64(other.Total())); err != nil {
		return Update{}, err
	}
	if err := u.Reserve(t.slot, Bytes(t.Size()+other.Size(), t.DataSize()+other.DataSize())); err != nil {
		return Update{}, err
	}
	return Update{op: opMerge, other: other}, nil
}

// Commit performs a prepared mutation. It cannot fail.
func (t Tree) Commit(upd Update) {
	values := t.Values()
	switch upd.op {
	case opInsert:
		out := make([]uint64, 0, len(values)+len(upd.values))
		out = append(out, values[:upd.from]...)
		out = append(out, upd.values...)
		values = append(out, values[upd.from:]...)
	case opUpdate:
		values[upd.from] = upd.values[0]
	case opRemove:
		values = append(values[:upd.from], values[upd.to:]...)
	case opMerge:
		values = append(values, upd.other.Values()...)
	}
	err := t.encode(values)
	assertThat(err == nil, "commit without successful prepare: %v", err)
}

// Insert inserts values at idx.
func (t Tree) Insert(idx int, values ...uint64) error {
	upd, err := t.PrepareInsert(t.alloc.NewUpdateState(), idx, values...)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// Update replaces value idx.
func (t Tree) Update(idx int, v uint64) error {
	upd, err := t.PrepareUpdate(t.alloc.NewUpdateState(), idx, v)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// Remove removes values [from, to).
func (t Tree) Remove(from, to int) error {
	upd, err := t.PrepareRemove(t.alloc.NewUpdateState(), from, to)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// CommitMergeWith appends all values of other to t.
func (t Tree) CommitMergeWith(other Tree) error {
	upd, err := t.PrepareMerge(t.alloc.NewUpdateState(), other)
	if err != nil {
		return err
	}
	t.Commit(upd)
	return nil
}

// SplitTo moves values [idx, Size()) to the empty tree other. On failure both
// trees are unchanged.
func (t Tree) SplitTo(other Tree, idx int) error {
	values := t.Values()
	assertThat(idx >= 0 && idx <= len(values), "split index %d out of range [0,%d]", idx, len(values))
	assertThat(other.Size() == 0, "split target must be empty")
	head, tail := values[:idx:idx], values[idx:]
	if other.alloc == t.alloc {
		err := t.encode(head)
		assertThat(err == nil, "shrinking failed: %v", err)
		if err = other.encode(tail); err != nil {
			err2 := t.encode(values)
			assertThat(err2 == nil, "cannot restore tree after failed split: %v", err2)
			return err
		}
		return nil
	}
	if err := other.encode(tail); err != nil {
		return err
	}
	err := t.encode(head)
	assertThat(err == nil, "shrinking failed: %v", err)
	return nil
}

// Check validates the region, the offset index and the sum index.
func (t Tree) Check() error {
	region := t.region()
	if err := packed.CheckRegion(region, packed.KindVLETree, Version); err != nil {
		return err
	}
	l := t.layout()
	if len(region) < Bytes(l.n, l.dataSize) {
		return errors.Wrapf(packed.ErrBadLayout, "VLE tree of %d values needs %d bytes, region has %d",
			l.n, Bytes(l.n, l.dataSize), len(region))
	}
	data := l.data()
	pos := 0
	values := make([]int64, l.n)
	for i := range values {
		if i%packed.IndexSpan == 0 && l.groupOffset(i/packed.IndexSpan) != pos {
			return errors.Errorf("vletree: offset of group %d is %d, expected %d",
				i/packed.IndexSpan, l.groupOffset(i/packed.IndexSpan), pos)
		}
		v, k := protowire.ConsumeVarint(data[pos:])
		if k < 0 {
			return errors.Wrapf(packed.ErrBadLayout, "vletree: malformed code for value %d", i)
		}
		values[i] = int64(v)
		pos += k
	}
	if pos != l.dataSize {
		return errors.Errorf("vletree: codes take %d bytes, header says %d", pos, l.dataSize)
	}
	expected := packed.NewSliceColumn(packed.SumAggregate, values)
	for lv, cnt := range packed.IndexLevels(l.n) {
		for i := 0; i < cnt; i++ {
			if l.Entry(lv, i) != expected.Entry(lv, i) {
				return errors.Errorf("vletree: sum index inconsistent at level %d, entry %d", lv, i)
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
	if err := packed.DeserializeRegion(r, t.alloc, t.slot, packed.KindVLETree, Version); err != nil {
		return err
	}
	return t.Check()
}

// GenerateDataEvents emits the contents of t.
func (t Tree) GenerateDataEvents(h packed.EventHandler) {
	l := t.layout()
	h.StartGroup("VLE_TREE", l.n)
	h.Value("SIZE", l.n)
	h.Value("DATA_SIZE", l.dataSize)
	offsets := make([]int64, groups(l.n))
	for g := range offsets {
		offsets[g] = int64(l.groupOffset(g))
	}
	h.Array("OFFSETS", offsets)
	values := make([]int64, l.n)
	for i, v := range l.decode() {
		values[i] = int64(v)
	}
	h.Array("VALUES", values)
	h.EndGroup()
}

// --- Helpers ---------------------------------------------------------------

func (t Tree) region() []byte {
	return t.alloc.Get(t.slot)
}

// addValue adds v to the running total, failing if either v or the new
// total leaves the range of int64.
func addValue(total int64, v uint64) (int64, error) {
	if v > math.MaxInt64 || int64(v) > math.MaxInt64-total {
		return total, errors.Wrapf(packed.ErrValueRange, "vletree: adding %d to total %d", v, total)
	}
	return total + int64(v), nil
}

// layout is a decoded view of a region's header. It implements
// packed.Column.
type layout struct {
	region   []byte
	n        int
	dataSize int
	offOff   int // start of offsets
	idxOff   int // start of sum index
	datOff   int // start of codes
	starts   []int
}

func (t Tree) layout() layout {
	region := t.region()
	l := layout{region: region}
	l.n = int(packed.GetU32(region[4:]))
	l.dataSize = int(packed.GetU32(region[packed.Preamble:]))
	l.offOff = headerSize
	l.idxOff = l.offOff + 4*groups(l.n)
	levels := packed.IndexLevels(l.n)
	l.starts = make([]int, len(levels))
	entries := 0
	for i, cnt := range levels {
		l.starts[i] = entries
		entries += cnt
	}
	l.datOff = l.idxOff + 8*entries
	return l
}

func (l layout) data() []byte {
	return l.region[l.datOff : l.datOff+l.dataSize]
}

func (l layout) groupOffset(g int) int {
	return int(packed.GetU32(l.region[l.offOff+4*g:]))
}

func (l layout) access(i int) uint64 {
	g := i / packed.IndexSpan
	data := l.data()
	pos := l.groupOffset(g)
	for j := g * packed.IndexSpan; j < i; j++ {
		_, k := protowire.ConsumeVarint(data[pos:])
		assertThat(k > 0, "malformed code at %d", pos)
		pos += k
	}
	v, k := protowire.ConsumeVarint(data[pos:])
	assertThat(k > 0, "malformed code at %d", pos)
	return v
}

func (l layout) decode() []uint64 {
	values := make([]uint64, l.n)
	data := l.data()
	pos := 0
	for i := range values {
		v, k := protowire.ConsumeVarint(data[pos:])
		assertThat(k > 0, "malformed code at %d", pos)
		values[i] = v
		pos += k
	}
	return values
}

func (l layout) Len() int { return l.n }

func (l layout) Value(i int) int64 { return int64(l.access(i)) }

func (l layout) Entry(level, i int) int64 {
	return packed.GetI64(l.region[l.idxOff+8*(l.starts[level]+i):])
}

func (t Tree) encode(values []uint64) error {
	n := len(values)
	var data []byte
	offsets := make([]uint32, groups(n))
	sums := make([]int64, n)
	for i, v := range values {
		if i%packed.IndexSpan == 0 {
			offsets[i/packed.IndexSpan] = uint32(len(data))
		}
		data = protowire.AppendVarint(data, v)
		sums[i] = int64(v)
	}
	size := Bytes(n, len(data))
	if err := t.alloc.Resize(t.slot, size); err != nil {
		return err
	}
	region := t.region()
	packed.WritePreamble(region, packed.KindVLETree, Version, n)
	packed.PutU32(region[packed.Preamble:], uint32(len(data)))
	packed.PutU32(region[packed.Preamble+4:], 0)
	off := headerSize
	for _, o := range offsets {
		packed.PutU32(region[off:], o)
		off += 4
	}
	for _, e := range packed.BuildIndex(packed.SumAggregate, sums) {
		packed.PutI64(region[off:], e)
		off += 8
	}
	off += copy(region[off:], data)
	for i := off; i < len(region); i++ {
		region[i] = 0
	}
	tracer().Debugf("vletree: encoded %d values into %d bytes of codes", n, len(data))
	return nil
}
