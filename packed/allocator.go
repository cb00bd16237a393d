package packed

import (
	"math"

	"github.com/pkg/errors"
)

// Version is the format version of blocks written by this package.
const Version = 1

const headerFixed = 16 // magic, version, slots, capacity, reserved

var magic = [4]byte{'P', 'K', 'A', 'L'}

// Allocator partitions a fixed-capacity block into slots. It does not own
// the block; storage layers hand blocks in and take them out again, and the
// allocator will never relocate or grow it.
//
// Byte slices returned from Get or Allocate alias the block. Any call to
// Resize (or to an operation which resizes) may move the contents of slots,
// making previously obtained slices stale. Clients should re-fetch a slot's
// region after each resize.
type Allocator struct {
	block []byte
}

// HeaderSize returns the number of bytes an allocator header for a given
// number of slots occupies.
func HeaderSize(slots int) int {
	return AlignUp(headerFixed + 4*(slots+1))
}

// New creates a block with a given capacity and initializes it for slots
// sub-regions.
func New(capacity, slots int) (*Allocator, error) {
	if capacity < 0 || capacity > math.MaxUint32 {
		return nil, errors.Wrapf(ErrBadLayout, "capacity %d out of range", capacity)
	}
	return Init(make([]byte, capacity), slots)
}

// Init zeroes block and writes an empty header for slots sub-regions.
func Init(block []byte, slots int) (*Allocator, error) {
	if slots <= 0 || slots > math.MaxUint16 {
		return nil, errors.Wrapf(ErrBadLayout, "cannot manage %d slots", slots)
	}
	if len(block) > math.MaxUint32 {
		return nil, errors.Wrapf(ErrBadLayout, "block of %d bytes too large", len(block))
	}
	if HeaderSize(slots) > len(block) {
		return nil, errors.Wrapf(ErrCapacityExceeded, "block of %d bytes cannot hold a header for %d slots",
			len(block), slots)
	}
	zero(block)
	copy(block[0:4], magic[:])
	PutU16(block[4:], Version)
	PutU16(block[6:], uint16(slots))
	PutU32(block[8:], uint32(len(block)))
	return &Allocator{block: block}, nil
}

// Attach wraps an already initialized block. The header is checked for
// consistency.
func Attach(block []byte) (*Allocator, error) {
	if len(block) < headerFixed {
		return nil, errors.Wrapf(ErrBadLayout, "block of %d bytes too small", len(block))
	}
	if block[0] != magic[0] || block[1] != magic[1] || block[2] != magic[2] || block[3] != magic[3] {
		return nil, errors.Wrap(ErrBadLayout, "missing allocator magic")
	}
	if v := GetU16(block[4:]); v != Version {
		return nil, errors.Wrapf(ErrVersion, "block has version %d", v)
	}
	if c := int(GetU32(block[8:])); c != len(block) {
		return nil, errors.Wrapf(ErrBadLayout, "header claims capacity %d, block has %d bytes", c, len(block))
	}
	a := &Allocator{block: block}
	if err := a.checkLayout(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocator) checkLayout() error {
	slots := a.Slots()
	if slots == 0 || HeaderSize(slots) > len(a.block) {
		return errors.Wrapf(ErrBadLayout, "invalid slot count %d", slots)
	}
	if a.layoutAt(0) != 0 {
		return errors.Wrap(ErrBadLayout, "layout does not start at 0")
	}
	for i := 0; i < slots; i++ {
		lo, hi := a.layoutAt(i), a.layoutAt(i+1)
		if hi < lo || hi%Alignment != 0 {
			return errors.Wrapf(ErrBadLayout, "slot %d has invalid extent [%d,%d)", i, lo, hi)
		}
	}
	if a.Allocated() > a.ClientArea() {
		return errors.Wrapf(ErrBadLayout, "allocated %d bytes exceed client area of %d", a.Allocated(), a.ClientArea())
	}
	return nil
}

// --- API -------------------------------------------------------------------

// Bytes returns the underlying block.
func (a *Allocator) Bytes() []byte {
	return a.block
}

// Slots returns the number of slots managed by a.
func (a *Allocator) Slots() int {
	return int(GetU16(a.block[6:]))
}

// Capacity is the size of the block in bytes.
func (a *Allocator) Capacity() int {
	return len(a.block)
}

// ClientArea is the number of bytes available for slots.
func (a *Allocator) ClientArea() int {
	return len(a.block) - a.clientStart()
}

// Allocated is the number of bytes of the client area occupied by slots.
func (a *Allocator) Allocated() int {
	return a.layoutAt(a.Slots())
}

// FreeSpace returns the number of bytes still available for slot growth.
func (a *Allocator) FreeSpace() int {
	return a.ClientArea() - a.Allocated()
}

// BlockSize is the number of bytes of the block in use, including the header.
func (a *Allocator) BlockSize() int {
	return a.clientStart() + a.Allocated()
}

// ElementSize returns the size of a slot's region.
func (a *Allocator) ElementSize(slot int) int {
	a.checkSlot(slot)
	return a.layoutAt(slot+1) - a.layoutAt(slot)
}

// Get returns the region of a slot. The returned slice aliases the block and
// is capped, i.e. appending to it will never overwrite a neighbour slot.
func (a *Allocator) Get(slot int) []byte {
	a.checkSlot(slot)
	cs := a.clientStart()
	lo, hi := cs+a.layoutAt(slot), cs+a.layoutAt(slot+1)
	return a.block[lo:hi:hi]
}

// Allocate resizes a slot to hold size bytes and zeroes its region.
// If there is not enough free space, ErrCapacityExceeded is returned and the
// block is left untouched.
func (a *Allocator) Allocate(slot, size int) ([]byte, error) {
	if err := a.Resize(slot, size); err != nil {
		return nil, err
	}
	region := a.Get(slot)
	zero(region)
	return region, nil
}

// AllocateEmpty resets a slot to an empty region.
func (a *Allocator) AllocateEmpty(slot int) []byte {
	region, err := a.Allocate(slot, 0)
	assertThat(err == nil, "shrinking slot %d failed", slot)
	return region
}

// Resize grows or shrinks a slot, moving all following slots. Growing keeps
// the existing contents of the slot and appends zero bytes; shrinking cuts
// off the end of the region.
// If there is not enough free space, ErrCapacityExceeded is returned and the
// block is left untouched.
func (a *Allocator) Resize(slot, size int) error {
	a.checkSlot(slot)
	assertThat(size >= 0, "negative size %d for slot %d", size, slot)
	delta := AlignUp(size) - a.ElementSize(slot)
	if delta == 0 {
		return nil
	}
	if delta > a.FreeSpace() {
		return ErrCapacityExceeded
	}
	cs := a.clientStart()
	end := cs + a.layoutAt(slot+1)
	tail := cs + a.Allocated()
	copy(a.block[end+delta:tail+delta], a.block[end:tail])
	if delta > 0 {
		zero(a.block[end : end+delta])
	} else {
		zero(a.block[tail+delta : tail])
	}
	for i := slot + 1; i <= a.Slots(); i++ {
		a.setLayout(i, a.layoutAt(i)+delta)
	}
	return nil
}

// Free releases the region of a slot.
func (a *Allocator) Free(slot int) {
	a.AllocateEmpty(slot)
}

// Clear releases all slots.
func (a *Allocator) Clear() {
	for i := 0; i <= a.Slots(); i++ {
		a.setLayout(i, 0)
	}
	zero(a.block[a.clientStart():])
}

// Import replaces the contents of slot with a copy of another allocator's
// slot. other may be a itself.
func (a *Allocator) Import(slot int, other *Allocator, otherSlot int) error {
	src := append([]byte(nil), other.Get(otherSlot)...)
	dst, err := a.Allocate(slot, len(src))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Fits is a predicate: could slot be resized to size bytes?
func (a *Allocator) Fits(slot, size int) bool {
	return AlignUp(size)-a.ElementSize(slot) <= a.FreeSpace()
}

// --- Helpers ---------------------------------------------------------------

func (a *Allocator) checkSlot(slot int) {
	assertThat(slot >= 0 && slot < a.Slots(), "slot index %d out of range [0,%d)", slot, a.Slots())
}

func (a *Allocator) clientStart() int {
	return HeaderSize(a.Slots())
}

func (a *Allocator) layoutAt(i int) int {
	return int(GetU32(a.block[headerFixed+4*i:]))
}

func (a *Allocator) setLayout(i, offset int) {
	PutU32(a.block[headerFixed+4*i:], uint32(offset))
}
