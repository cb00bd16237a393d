/*
Package packed implements a packed allocator for fixed-capacity blocks.

A block is a contiguous byte buffer of fixed capacity, representing one
persisted tree node. The allocator partitions a block into a number of
independently sized sub-regions (slots), each of which hosts one packed
structure. Sub-regions may grow and shrink, but the block itself never does:
running out of room is reported as ErrCapacityExceeded, which callers are
expected to handle by splitting a node.

Packed structures living in slots keep their summary indexes current on every
mutating call. Package packed provides the index geometry shared by all of
them (see IndexLevels), an update-state for two-phase mutations and an event
interface for diagnostic dumps.

Layout of a block:

	0   magic     "PKAL"
	4   version   uint16
	6   slots     uint16
	8   capacity  uint32
	12  reserved  uint32
	16  layout    [slots+1]uint32, offsets relative to the client area
	    padding to 8 bytes
	    client area

All numbers are stored little-endian. Slot sizes are multiples of 8.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.
*/
package packed

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'pbtree.packed'.
func tracer() tracing.Trace {
	return tracing.Select("pbtree.packed")
}

func assertThat(that bool, msg string, msgargs ...interface{}) {
	if !that {
		msg = fmt.Sprintf("packed: "+msg, msgargs...)
		panic(msg)
	}
}
