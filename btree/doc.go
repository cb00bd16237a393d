/*
Package btree implements B+-trees over packed nodes.

Nodes live in fixed-size blocks handed out by a Store. A tree keeps the
summary of every child in its parent branch, so positional searches, prefix
sums, select and rank are answered by the walkers of package walker without
touching more than one node per level.

Mutations follow a two-phase protocol: the leaf holding the target position is
located, all streams of the leaf are prepared against a single update-state,
and the prepared change is committed, which cannot fail. Afterwards the new
summary of the leaf is propagated to all its ancestors. If preparing fails for
lack of space, the leaf is split, the mutation is retargeted to the half now
holding the position, and it is retried once. After removals, underfull nodes
are merged with a sibling and a root with a single child is collapsed.

Trees are not safe for concurrent use.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.
*/
package btree

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'pbtree.btree'.
func tracer() tracing.Trace {
	return tracing.Select("pbtree.btree")
}

func assertThat(that bool, msg string, msgargs ...interface{}) {
	if !that {
		msg = fmt.Sprintf("btree: "+msg, msgargs...)
		panic(msg)
	}
}
