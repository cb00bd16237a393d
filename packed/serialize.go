package packed

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Serialize writes the allocator's header, layout and all allocated bytes of
// the client area to w. Fields are written in declaration order, fixed-width
// and little-endian. Unused free space is not written.
func (a *Allocator) Serialize(w io.Writer) error {
	le := binary.LittleEndian
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	hdr := []interface{}{
		uint16(Version),
		uint16(a.Slots()),
		uint32(a.Capacity()),
		uint32(0),
	}
	for _, field := range hdr {
		if err := binary.Write(w, le, field); err != nil {
			return err
		}
	}
	for i := 0; i <= a.Slots(); i++ {
		if err := binary.Write(w, le, uint32(a.layoutAt(i))); err != nil {
			return err
		}
	}
	cs := a.clientStart()
	_, err := w.Write(a.block[cs : cs+a.Allocated()])
	return err
}

// Deserialize reads a block written by Serialize into a, which has to have
// the same capacity and slot count as the serialized allocator. Afterwards a
// is bit-identical to the allocator which has been serialized.
func (a *Allocator) Deserialize(r io.Reader) error {
	slots, capacity, err := readHeader(r)
	if err != nil {
		return err
	}
	if capacity != a.Capacity() || slots != a.Slots() {
		return errors.Wrapf(ErrBadLayout, "cannot deserialize a block of %d bytes/%d slots into %d bytes/%d slots",
			capacity, slots, a.Capacity(), a.Slots())
	}
	return a.readBody(r)
}

// Read creates a new allocator from data written by Serialize.
func Read(r io.Reader) (*Allocator, error) {
	slots, capacity, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	a, err := New(capacity, slots)
	if err != nil {
		return nil, err
	}
	if err = a.readBody(r); err != nil {
		return nil, err
	}
	return a, nil
}

func readHeader(r io.Reader) (slots int, capacity int, err error) {
	var m [4]byte
	if _, err = io.ReadFull(r, m[:]); err != nil {
		return 0, 0, errors.Wrap(err, "reading block magic")
	}
	if m != magic {
		return 0, 0, errors.Wrap(ErrBadLayout, "missing allocator magic")
	}
	var hdr struct {
		Version  uint16
		Slots    uint16
		Capacity uint32
		Reserved uint32
	}
	if err = binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, 0, errors.Wrap(err, "reading block header")
	}
	if hdr.Version != Version {
		return 0, 0, errors.Wrapf(ErrVersion, "block has version %d", hdr.Version)
	}
	return int(hdr.Slots), int(hdr.Capacity), nil
}

func (a *Allocator) readBody(r io.Reader) error {
	layout := make([]uint32, a.Slots()+1)
	if err := binary.Read(r, binary.LittleEndian, layout); err != nil {
		return errors.Wrap(err, "reading block layout")
	}
	a.Clear()
	for i, off := range layout {
		a.setLayout(i, int(off))
	}
	if err := a.checkLayout(); err != nil {
		a.Clear()
		return err
	}
	cs := a.clientStart()
	if _, err := io.ReadFull(r, a.block[cs:cs+a.Allocated()]); err != nil {
		a.Clear()
		return errors.Wrap(err, "reading block contents")
	}
	return nil
}

// --- Regions ---------------------------------------------------------------

// Every packed structure starts its region with a common preamble:
//
//	0  kind     uint16
//	2  version  uint16
//	4  size     uint32   number of elements
//
// A structure's layout continues after the preamble.
const Preamble = 8

// Kind identifies the type of packed structure stored in a slot.
type Kind uint16

// Structure kinds.
const (
	KindNone Kind = iota
	KindSumTree
	KindMaxTree
	KindVLETree
	KindArray
	KindRLESeq
	KindHeader
)

var kindNames = [...]string{"none", "sumtree", "maxtree", "vletree", "array", "rleseq", "header"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// RegionKind returns the kind stored in a region's preamble.
func RegionKind(region []byte) Kind {
	if len(region) < Preamble {
		return KindNone
	}
	return Kind(GetU16(region))
}

// CheckRegion validates a region's preamble.
func CheckRegion(region []byte, kind Kind, version uint16) error {
	if len(region) < Preamble {
		return errors.Wrapf(ErrBadLayout, "region of %d bytes has no preamble", len(region))
	}
	if k := Kind(GetU16(region)); k != kind {
		return errors.Wrapf(ErrKind, "region holds %s, expected %s", k, kind)
	}
	if v := GetU16(region[2:]); v != version {
		return errors.Wrapf(ErrVersion, "%s region has version %d", kind, v)
	}
	return nil
}

// WritePreamble initializes a region's preamble.
func WritePreamble(region []byte, kind Kind, version uint16, size int) {
	PutU16(region, uint16(kind))
	PutU16(region[2:], version)
	PutU32(region[4:], uint32(size))
}

// SerializeRegion writes the region of slot as a length-prefixed byte
// sequence. As all structures store their fields in fixed-width little-endian
// encoding, the region bytes are the serialized form.
func SerializeRegion(w io.Writer, a *Allocator, slot int) error {
	region := a.Get(slot)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(region))); err != nil {
		return err
	}
	_, err := w.Write(region)
	return err
}

// DeserializeRegion reads a region written by SerializeRegion into slot,
// checking its preamble. On error the slot is left untouched.
func DeserializeRegion(r io.Reader, a *Allocator, slot int, kind Kind, version uint16) error {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return errors.Wrap(err, "reading region length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrap(err, "reading region")
	}
	if err := CheckRegion(buf, kind, version); err != nil {
		return err
	}
	region, err := a.Allocate(slot, len(buf))
	if err != nil {
		return err
	}
	copy(region, buf)
	return nil
}
