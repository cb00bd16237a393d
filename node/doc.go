/*
Package node implements the nodes of a packed B+-tree.

A node is a block managed by a packed.Allocator with four slots. Slot 0 holds
a small header (type tag, root and leaf flags, level and the node's
identifier); slots 1 to 3 hold the packed structures (streams) of the node
type:

	branch       sums (sumtree), maxes (maxtree), children (array of UUIDs)
	sum leaf     values (sumtree with one column per configured sum)
	map leaf     keys (maxtree, 1 column), values (vletree)
	symbol leaf  symbols (rleseq)

A Config names the node types a container may use. Clients never switch on
tags themselves: Dispatch and DispatchMutable select the typed view of a node
and hand it to a Visitor, which has one method per node kind.

Every node exposes a Summary, the aggregate of its contents. Column 0 of the
sums is the number of entries; the remaining sum columns and the max columns
depend on the leaf kind of the configuration. A branch stores one summary row
per child.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.
*/
package node

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'pbtree.node'.
func tracer() tracing.Trace {
	return tracing.Select("pbtree.node")
}

func assertThat(that bool, msg string, msgargs ...interface{}) {
	if !that {
		msg = fmt.Sprintf("node: "+msg, msgargs...)
		panic(msg)
	}
}
