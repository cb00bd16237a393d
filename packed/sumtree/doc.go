/*
Package sumtree implements a packed multi-column tree of cumulative sums.

A sum tree stores N rows of signed 64-bit values, one value per column, in a
slot of a packed.Allocator. For every column it maintains a summary index of
group sums, answering prefix sums and prefix searches in O(log N). The index
is kept current by every mutating operation.

Trees are ephemeral views: a Tree value is nothing but a reference to an
allocator and a slot number, and may be created freshly for every access.

	alloc, _ := packed.New(4096, 1)
	tree, _ := sumtree.Init(alloc, 0, 2)   // 2 columns
	tree.Insert(0, []int64{1, 10}, []int64{2, 20})
	tree.Sum(1, 0, 2)                      // = 30

Searches require non-negative values in the column searched. Sums may be
computed over negative values as well.
*/
package sumtree

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
		msg = fmt.Sprintf("sumtree: "+msg, msgargs...)
		panic(msg)
	}
}
