/*
Package store implements block stores for packed B+-trees.

A store hands out blocks for new nodes, resolves node identifiers to nodes
and takes back released blocks. Memory keeps live blocks in a map. Paged
keeps every block as a serialized page, with a bounded cache of live blocks
in front of the pages; updates are written through to the pages.

Stores are not safe for concurrent mutation; callers serialize writers.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.
*/
package store

import (
	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'pbtree.store'.
func tracer() tracing.Trace {
	return tracing.Select("pbtree.store")
}
