/*
Package vletree implements a packed tree of variable-length encoded values.

Values are unsigned integers, stored as varints (protobuf wire encoding). As
elements have no fixed width, random access first consults an offset index:
for every group of packed.IndexSpan values the byte offset of the group's
first code is stored. A second index holds group sums, giving prefix sums and
prefix searches in O(log N).

Small values take only a single byte, which makes a VLE tree the stream of
choice for payloads with a skewed distribution of magnitudes.
*/
package vletree

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
		msg = fmt.Sprintf("vletree: "+msg, msgargs...)
		panic(msg)
	}
}
