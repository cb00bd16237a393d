package packed

import (
	"bytes"
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/require"
)

func TestAllocatorInit(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, err := New(256, 3)
	require.NoError(t, err)
	require.Equal(t, 3, a.Slots())
	require.Equal(t, 256, a.Capacity())
	require.Equal(t, 0, a.Allocated())
	require.Equal(t, 256-HeaderSize(3), a.ClientArea())
	require.Equal(t, a.ClientArea(), a.FreeSpace())
	for i := 0; i < 3; i++ {
		require.Equal(t, 0, a.ElementSize(i))
	}
	_, err = New(16, 8)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	_, err = New(64, 0)
	require.ErrorIs(t, err, ErrBadLayout)
}

func TestAllocatorResizeShiftsFollowingSlots(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, err := New(512, 3)
	require.NoError(t, err)
	r0, err := a.Allocate(0, 8)
	require.NoError(t, err)
	copy(r0, "AAAAAAAA")
	r2, err := a.Allocate(2, 13) // rounded to 16
	require.NoError(t, err)
	copy(r2, "CCCCCCCCCCCCC")
	require.Equal(t, 16, a.ElementSize(2))
	require.Equal(t, 24, a.Allocated())
	//
	r1, err := a.Allocate(1, 24)
	require.NoError(t, err)
	copy(r1, "BBBBBBBBBBBBBBBBBBBBBBBB")
	require.Equal(t, "AAAAAAAA", string(a.Get(0)))
	require.Equal(t, "CCCCCCCCCCCCC", string(a.Get(2)[:13]))
	require.Equal(t, 48, a.Allocated())
	//
	require.NoError(t, a.Resize(0, 0))
	require.Equal(t, 0, a.ElementSize(0))
	require.Equal(t, "BBBBBBBBBBBBBBBBBBBBBBBB", string(a.Get(1)))
	require.Equal(t, "CCCCCCCCCCCCC", string(a.Get(2)[:13]))
	require.Equal(t, 40, a.Allocated())
	// freed tail must be zero
	tail := a.Bytes()[a.BlockSize():]
	require.Equal(t, make([]byte, len(tail)), tail)
}

func TestAllocatorCapacityExceeded(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, err := New(128, 2)
	require.NoError(t, err)
	free := a.FreeSpace()
	_, err = a.Allocate(0, free-8)
	require.NoError(t, err)
	before := append([]byte(nil), a.Bytes()...)
	_, err = a.Allocate(1, 16)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.True(t, bytes.Equal(before, a.Bytes()), "failed allocation modified block")
	_, err = a.Allocate(1, 8)
	require.NoError(t, err)
	require.Equal(t, 0, a.FreeSpace())
}

func TestAllocatorImportAndClear(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, _ := New(256, 2)
	b, _ := New(256, 2)
	r, err := a.Allocate(1, 16)
	require.NoError(t, err)
	copy(r, "0123456789abcdef")
	require.NoError(t, b.Import(0, a, 1))
	require.Equal(t, "0123456789abcdef", string(b.Get(0)))
	b.Clear()
	require.Equal(t, 0, b.Allocated())
	require.Equal(t, 0, b.ElementSize(0))
}

func TestAllocatorImportWithinBlock(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, _ := New(256, 3)
	r, err := a.Allocate(1, 16)
	require.NoError(t, err)
	copy(r, "0123456789abcdef")
	require.NoError(t, a.Import(0, a, 1))
	require.Equal(t, "0123456789abcdef", string(a.Get(0)))
	require.Equal(t, "0123456789abcdef", string(a.Get(1)))
	require.NoError(t, a.Import(2, a, 0))
	require.Equal(t, "0123456789abcdef", string(a.Get(2)))
	//
	big, err := a.Allocate(1, a.FreeSpace()+16)
	require.NoError(t, err)
	copy(big, "x")
	before := append([]byte(nil), a.Bytes()...)
	require.ErrorIs(t, a.Import(0, a, 1), ErrCapacityExceeded)
	require.Equal(t, before, a.Bytes())
}

func TestAllocatorAttach(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, _ := New(128, 2)
	_, err := a.Allocate(1, 24)
	require.NoError(t, err)
	b, err := Attach(a.Bytes())
	require.NoError(t, err)
	require.Equal(t, 24, b.ElementSize(1))
	//
	junk := make([]byte, 128)
	_, err = Attach(junk)
	require.ErrorIs(t, err, ErrBadLayout)
}

func TestAllocatorSerialization(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, _ := New(300, 3)
	r, _ := a.Allocate(0, 16)
	copy(r, "hello, world")
	r, _ = a.Allocate(2, 40)
	for i := range r {
		r[i] = byte(i)
	}
	var buf bytes.Buffer
	require.NoError(t, a.Serialize(&buf))
	require.Less(t, buf.Len(), a.Capacity())
	serialized := buf.Bytes()
	//
	b, _ := New(300, 3)
	require.NoError(t, b.Deserialize(bytes.NewReader(serialized)))
	require.Equal(t, a.Bytes(), b.Bytes())
	//
	c, err := Read(bytes.NewReader(serialized))
	require.NoError(t, err)
	require.Equal(t, a.Bytes(), c.Bytes())
	//
	d, _ := New(512, 3)
	require.ErrorIs(t, d.Deserialize(bytes.NewReader(serialized)), ErrBadLayout)
	broken := append([]byte(nil), serialized...)
	broken[4] = 99
	_, err = Read(bytes.NewReader(broken))
	require.ErrorIs(t, err, ErrVersion)
}

func TestUpdateStateSharesFreeSpace(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, _ := New(128, 3)
	free := a.FreeSpace()
	u := a.NewUpdateState()
	require.NoError(t, u.Reserve(0, free/2))
	require.NoError(t, u.Reserve(1, free/2))
	require.ErrorIs(t, u.Reserve(2, 8), ErrCapacityExceeded)
	// re-reserving a slot replaces its former reservation
	require.NoError(t, u.Reserve(1, 0))
	require.NoError(t, u.Reserve(2, 8))
	require.Equal(t, AlignUp(free/2)+8, u.Growth())
	require.Equal(t, 0, a.Allocated(), "reservations must not touch the block")
}

func TestAllocatorEvents(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	a, _ := New(4096, 2)
	_, _ = a.Allocate(1, 100)
	d := NewTreeDumper("block")
	a.GenerateDataEvents(d)
	out := d.String()
	t.Logf("\n%s", out)
	require.Contains(t, out, "ALLOCATOR")
	require.Contains(t, out, "FREE_SPACE")
	require.Contains(t, out, "4.0 KiB")
}
