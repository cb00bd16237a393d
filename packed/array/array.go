package array

import (
	"io"

	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
)

// Version is the format version of array regions.
const Version = 1

// Region layout:
//
//	0   preamble (kind, version, size)
//	8   width     uint16
//	10  reserved
//	16  records   size × width bytes
const headerSize = packed.Preamble + 8

// Bytes returns the size of the region of an array of n records of a given
// width.
func Bytes(n, width int) int {
	return headerSize + n*width
}

// Array is an ephemeral view of a dense array stored in a slot.
type Array struct {
	alloc *packed.Allocator
	slot  int
}

// Init creates an empty array of records of a given width in slot.
func Init(a *packed.Allocator, slot, width int) (Array, error) {
	assertThat(width > 0 && width <= 1<<15, "illegal record width %d", width)
	region, err := a.Allocate(slot, Bytes(0, width))
	if err != nil {
		return Array{}, err
	}
	packed.WritePreamble(region, packed.KindArray, Version, 0)
	packed.PutU16(region[packed.Preamble:], uint16(width))
	return Array{alloc: a, slot: slot}, nil
}

// View returns a view of the array in slot.
func View(a *packed.Allocator, slot int) Array {
	assertThat(packed.RegionKind(a.Get(slot)) == packed.KindArray, "slot %d does not hold an array", slot)
	return Array{alloc: a, slot: slot}
}

// Size returns the number of records.
func (arr Array) Size() int {
	return int(packed.GetU32(arr.region()[4:]))
}

// Width returns the width of records in bytes.
func (arr Array) Width() int {
	return int(packed.GetU16(arr.region()[packed.Preamble:]))
}

// Access returns a copy of record i.
func (arr Array) Access(i int) []byte {
	return append([]byte(nil), arr.record(i)...)
}

// Set overwrites record i.
func (arr Array) Set(i int, rec []byte) {
	r := arr.record(i)
	assertThat(len(rec) == len(r), "record of %d bytes does not match width %d", len(rec), len(r))
	copy(r, rec)
}

// IndexOf returns the position of the first record equal to rec, or -1.
func (arr Array) IndexOf(rec []byte) int {
	n, w := arr.Size(), arr.Width()
	data := arr.region()[headerSize:]
	for i := 0; i < n; i++ {
		if string(data[i*w:(i+1)*w]) == string(rec) {
			return i
		}
	}
	return -1
}

// --- Two-phase mutation ----------------------------------------------------

// Update is the update-state of a single mutation.
type Update struct {
	insert   bool
	from, to int
	recs     [][]byte
}

// PrepareInsert checks if records may be inserted at idx.
func (arr Array) PrepareInsert(u *packed.UpdateState, idx int, recs ...[]byte) (Update, error) {
	n, w := arr.Size(), arr.Width()
	assertThat(idx >= 0 && idx <= n, "insert index %d out of range [0,%d]", idx, n)
	cp := make([][]byte, len(recs))
	for i, r := range recs {
		assertThat(len(r) == w, "record of %d bytes does not match width %d", len(r), w)
		cp[i] = append([]byte(nil), r...)
	}
	if err := u.Reserve(arr.slot, Bytes(n+len(recs), w)); err != nil {
		return Update{}, err
	}
	return Update{insert: true, from: idx, recs: cp}, nil
}

// PrepareRemove prepares removal of records [from, to).
func (arr Array) PrepareRemove(u *packed.UpdateState, from, to int) (Update, error) {
	n, w := arr.Size(), arr.Width()
	assertThat(from >= 0 && from <= to && to <= n, "remove range [%d,%d) out of bounds [0,%d]", from, to, n)
	if err := u.Reserve(arr.slot, Bytes(n-(to-from), w)); err != nil {
		return Update{}, err
	}
	return Update{from: from, to: to}, nil
}

// PrepareMerge checks if all records of other can be appended.
func (arr Array) PrepareMerge(u *packed.UpdateState, other Array) (Update, error) {
	n, w := arr.Size(), arr.Width()
	assertThat(other.Width() == w, "cannot merge arrays of width %d and %d", w, other.Width())
	recs := make([][]byte, other.Size())
	for i := range recs {
		recs[i] = other.Access(i)
	}
	if err := u.Reserve(arr.slot, Bytes(n+len(recs), w)); err != nil {
		return Update{}, err
	}
	return Update{insert: true, from: n, recs: recs}, nil
}

// Commit performs a prepared mutation in place. It cannot fail.
func (arr Array) Commit(upd Update) {
	n, w := arr.Size(), arr.Width()
	if upd.insert {
		k := len(upd.recs)
		err := arr.alloc.Resize(arr.slot, Bytes(n+k, w))
		assertThat(err == nil, "commit without successful prepare: %v", err)
		data := arr.region()[headerSize:]
		copy(data[(upd.from+k)*w:(n+k)*w], data[upd.from*w:n*w])
		for i, r := range upd.recs {
			copy(data[(upd.from+i)*w:], r)
		}
		packed.PutU32(arr.region()[4:], uint32(n+k))
		return
	}
	k := upd.to - upd.from
	data := arr.region()[headerSize:]
	copy(data[upd.from*w:], data[upd.to*w:n*w])
	for i := (n - k) * w; i < n*w; i++ {
		data[i] = 0
	}
	err := arr.alloc.Resize(arr.slot, Bytes(n-k, w))
	assertThat(err == nil, "shrinking failed: %v", err)
	packed.PutU32(arr.region()[4:], uint32(n-k))
}

// Insert inserts records at idx.
func (arr Array) Insert(idx int, recs ...[]byte) error {
	upd, err := arr.PrepareInsert(arr.alloc.NewUpdateState(), idx, recs...)
	if err != nil {
		return err
	}
	arr.Commit(upd)
	return nil
}

// Remove removes records [from, to).
func (arr Array) Remove(from, to int) error {
	upd, err := arr.PrepareRemove(arr.alloc.NewUpdateState(), from, to)
	if err != nil {
		return err
	}
	arr.Commit(upd)
	return nil
}

// CommitMergeWith appends all records of other.
func (arr Array) CommitMergeWith(other Array) error {
	upd, err := arr.PrepareMerge(arr.alloc.NewUpdateState(), other)
	if err != nil {
		return err
	}
	arr.Commit(upd)
	return nil
}

// SplitTo moves records [idx, Size()) to the empty array other. On failure
// both arrays are unchanged.
func (arr Array) SplitTo(other Array, idx int) error {
	n := arr.Size()
	assertThat(idx >= 0 && idx <= n, "split index %d out of range [0,%d]", idx, n)
	assertThat(other.Size() == 0 && other.Width() == arr.Width(), "split target must be an empty array of equal width")
	tail := make([][]byte, n-idx)
	for i := range tail {
		tail[i] = arr.Access(idx + i)
	}
	if err := other.Insert(0, tail...); err != nil {
		return err
	}
	return arr.Remove(idx, n)
}

// Check validates the region.
func (arr Array) Check() error {
	region := arr.region()
	if err := packed.CheckRegion(region, packed.KindArray, Version); err != nil {
		return err
	}
	if need := Bytes(arr.Size(), arr.Width()); len(region) < need {
		return errors.Wrapf(packed.ErrBadLayout, "array needs %d bytes, region has %d", need, len(region))
	}
	return nil
}

// Serialize writes the array's region to w.
func (arr Array) Serialize(w io.Writer) error {
	return packed.SerializeRegion(w, arr.alloc, arr.slot)
}

// Deserialize replaces the contents of arr with an array written by
// Serialize.
func (arr Array) Deserialize(r io.Reader) error {
	if err := packed.DeserializeRegion(r, arr.alloc, arr.slot, packed.KindArray, Version); err != nil {
		return err
	}
	return arr.Check()
}

// GenerateDataEvents emits the contents of arr.
func (arr Array) GenerateDataEvents(h packed.EventHandler) {
	n := arr.Size()
	h.StartGroup("ARRAY", n)
	h.Value("SIZE", n)
	h.Value("WIDTH", arr.Width())
	for i := 0; i < n; i++ {
		h.Value("RECORD", arr.record(i))
	}
	h.EndGroup()
}

func (arr Array) region() []byte {
	return arr.alloc.Get(arr.slot)
}

func (arr Array) record(i int) []byte {
	n, w := arr.Size(), arr.Width()
	assertThat(i >= 0 && i < n, "index %d out of range [0,%d)", i, n)
	off := headerSize + i*w
	return arr.region()[off : off+w : off+w]
}
