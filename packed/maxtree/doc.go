/*
Package maxtree implements a packed multi-column tree of running maxima.

A max tree stores N rows of 64-bit values, one value per column, in a slot
of a packed.Allocator. For every column it keeps an index of group maxima,
answering range maxima and “first value ≥ key” searches in O(log N). Values
need not be sorted. For ascending values (keys), FindGE and FindGT behave
like lower and upper bound searches.
*/
package maxtree

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
		msg = fmt.Sprintf("maxtree: "+msg, msgargs...)
		panic(msg)
	}
}
