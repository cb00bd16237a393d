/*
Package walker implements searches over packed B+-trees.

A walk descends from the root to a leaf. At every node the walker dispatches
on the node's type (see node.Dispatch) and either chooses a child to descend
into, or finishes at a leaf. Walkers only see the summaries stored in
branches and the query interface of leaves, so containers may use any leaf
kind with the same walkers.

Sum columns are numbered as in node summaries: column 0 counts entries, the
other columns are leaf specific. Searches follow running sums:

	FindFw(col, target, rel)   smallest pos with sum[0, pos] rel target
	FindBw(col, target, rel)   largest pos with sum[pos, end) rel target
	SkipFw(start, n)           position start+n
	SelectFw(start, sym, k)    position of the k-th occurrence of sym at or after start
	Rank(pos, sym)             occurrences of sym before pos

A search which runs off the end of the tree reports Size() (forward) or -1
(backward) as its position, together with the sum it has passed over.
*/
package walker

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'pbtree.walker'.
func tracer() tracing.Trace {
	return tracing.Select("pbtree.walker")
}

func assertThat(that bool, msg string, msgargs ...interface{}) {
	if !that {
		msg = fmt.Sprintf("walker: "+msg, msgargs...)
		panic(msg)
	}
}
