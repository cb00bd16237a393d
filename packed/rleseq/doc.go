/*
Package rleseq implements a packed run-length encoded symbol sequence.

A sequence holds symbols of a small alphabet (at most 256 symbols), stored as
runs of (symbol, length). Every packed.IndexSpan runs, the index records the
position and byte offset of the next run, together with the number of
occurrences of every symbol before it. Rank and select are answered from
these per-run prefix counts rather than from per-element index levels.

Select operations report a partial rank if they run off the end of the
sequence, so that a caller visiting sibling nodes may continue counting
instead of restarting.
*/
package rleseq

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
		msg = fmt.Sprintf("rleseq: "+msg, msgargs...)
		panic(msg)
	}
}
