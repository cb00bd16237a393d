package packed

// UpdateState is the scratch record of one mutation of a block. Packed
// structures consult it during their prepare phase, reserving the size their
// slot will have after the commit. As several streams of a node share the
// free space of one block, reservations of all streams are checked together.
//
// An UpdateState never modifies the block. It lives for the duration of a
// single mutation call and must not be re-used after the commit.
type UpdateState struct {
	alloc    *Allocator
	reserved map[int]int // slot → aligned size after commit
	growth   int
}

// NewUpdateState creates an empty update-state for a.
func (a *Allocator) NewUpdateState() *UpdateState {
	return &UpdateState{alloc: a, reserved: make(map[int]int)}
}

// Allocator returns the allocator u is tracking.
func (u *UpdateState) Allocator() *Allocator {
	return u.alloc
}

// Reserve records that slot will be resized to size bytes. If the sum of all
// reservations exceeds the free space of the block, ErrCapacityExceeded is
// returned and the reservation is not recorded.
func (u *UpdateState) Reserve(slot, size int) error {
	aligned := AlignUp(size)
	current := u.alloc.ElementSize(slot)
	prev, ok := u.reserved[slot]
	if !ok {
		prev = current
	}
	growth := u.growth + (aligned - prev)
	if growth > u.alloc.FreeSpace() {
		tracer().Debugf("reservation of %d bytes for slot %d exceeds free space %d",
			aligned, slot, u.alloc.FreeSpace())
		return ErrCapacityExceeded
	}
	u.reserved[slot] = aligned
	u.growth = growth
	return nil
}

// Reserved returns the reserved size for slot, or its current size if no
// reservation has been made.
func (u *UpdateState) Reserved(slot int) int {
	if size, ok := u.reserved[slot]; ok {
		return size
	}
	return u.alloc.ElementSize(slot)
}

// Growth is the net number of bytes all reservations will take from the
// block's free space.
func (u *UpdateState) Growth() int {
	return u.growth
}
