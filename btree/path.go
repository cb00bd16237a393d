package btree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/walker"
)

// --- Slot ------------------------------------------------------------------

// slot holds a step of a path: a node and the index chosen there. For a
// branch the index is the child on the path, for a leaf an entry position.
type slot struct {
	id    uuid.UUID
	index int
}

func (s slot) String() string {
	return strconv.Itoa(s.index) + "@" + s.id.String()[:8]
}

// at returns s with a different index.
func (s slot) at(index int) slot {
	return slot{id: s.id, index: index}
}

// --- Path ------------------------------------------------------------------

// slotPath leads from the root to a node.
type slotPath []slot

func pathOf(res walker.Result) slotPath {
	path := make(slotPath, len(res.Path))
	for i, f := range res.Path {
		path[i] = slot{id: f.ID, index: f.Index}
	}
	return path
}

func (path slotPath) String() string {
	var sb = strings.Builder{}
	sb.WriteRune('[')
	for _, s := range path {
		sb.WriteString(fmt.Sprintf("⟨%s⟩", s))
	}
	sb.WriteRune(']')
	return sb.String()
}

func (path slotPath) last() slot {
	if len(path) == 0 {
		return slot{}
	}
	return path[len(path)-1]
}

// foldR calls f for every pair of parent and child on the path, starting with
// the lowest pair.
func (path slotPath) foldR(f func(parent, child slot) error) error {
	for i := len(path) - 1; i > 0; i-- {
		if err := f(path[i-1], path[i]); err != nil {
			return err
		}
	}
	return nil
}

func (path slotPath) dropLast() slotPath {
	if len(path) == 0 {
		return path
	}
	return path[:len(path)-1]
}

// extend returns a copy of path with its last index replaced by index,
// followed by s.
func (path slotPath) extend(index int, s slot) slotPath {
	p := make(slotPath, len(path), len(path)+1)
	copy(p, path)
	p[len(p)-1] = p[len(p)-1].at(index)
	return append(p, s)
}
