package node

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/pbtree/packed/array"
	"github.com/npillmayer/pbtree/packed/maxtree"
	"github.com/npillmayer/pbtree/packed/rleseq"
	"github.com/npillmayer/pbtree/packed/sumtree"
	"github.com/npillmayer/pbtree/packed/vletree"
	"github.com/pkg/errors"
)

// Slots is the number of allocator slots of a node block.
const Slots = 4

const (
	slotHeader = iota
	slotFirst  // sums | leaf values | keys | symbols
	slotSecond // maxes | map values
	slotThird  // children
)

// Version is the format version of node headers.
const Version = 1

// Header layout:
//
//	0   preamble
//	8   tag    uint16
//	10  flags  uint16
//	12  level  uint16
//	14  reserved
//	16  id     [16]byte
const headerBytes = packed.Preamble + 24

// Tag identifies the type of a node.
type Tag uint16

// Node types.
const (
	TagNone Tag = iota
	TagBranch
	TagSumLeaf
	TagMapLeaf
	TagSymbolLeaf
)

var tagNames = [...]string{"none", "branch", "sum-leaf", "map-leaf", "symbol-leaf"}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint16(t))
}

// IsLeaf returns true for leaf tags.
func (t Tag) IsLeaf() bool {
	return t == TagSumLeaf || t == TagMapLeaf || t == TagSymbolLeaf
}

const (
	flagRoot uint16 = 1 << iota
	flagLeaf
)

// ErrDispatch is returned if a node's tag does not match any node type of a
// configuration.
var ErrDispatch = errors.New("node: no node type matches")

// ErrConfig flags an invalid configuration.
var ErrConfig = errors.New("node: invalid configuration")

// Node is a view of a tree node living in a block. Nodes are cheap values and
// may be copied freely; all copies refer to the same block.
type Node struct {
	alloc *packed.Allocator
}

// New initializes a node of type tag in the allocator a, which must have
// been created with Slots slots. All previous contents of a are discarded.
func New(a *packed.Allocator, id uuid.UUID, tag Tag, level int, cfg Config) (Node, error) {
	assertThat(a.Slots() == Slots, "node blocks need %d slots, allocator has %d", Slots, a.Slots())
	if !cfg.Accepts(tag) {
		return Node{}, errors.Wrapf(ErrDispatch, "configuration %q does not accept %s nodes", cfg.Name, tag)
	}
	assertThat(tag.IsLeaf() == (level == 0), "%s node must not live on level %d", tag, level)
	a.Clear()
	header, err := a.Allocate(slotHeader, headerBytes)
	if err != nil {
		return Node{}, err
	}
	packed.WritePreamble(header, packed.KindHeader, Version, 0)
	packed.PutU16(header[packed.Preamble:], uint16(tag))
	var flags uint16
	if tag.IsLeaf() {
		flags |= flagLeaf
	}
	packed.PutU16(header[packed.Preamble+2:], flags)
	packed.PutU16(header[packed.Preamble+4:], uint16(level))
	copy(header[packed.Preamble+8:], id[:])
	switch tag {
	case TagBranch:
		if _, err = sumtree.Init(a, slotFirst, cfg.SumWidth()); err == nil {
			if _, err = maxtree.Init(a, slotSecond, cfg.MaxWidth()); err == nil {
				_, err = array.Init(a, slotThird, len(id))
			}
		}
	case TagSumLeaf:
		_, err = sumtree.Init(a, slotFirst, cfg.Columns)
	case TagMapLeaf:
		if _, err = maxtree.Init(a, slotFirst, 1); err == nil {
			_, err = vletree.Init(a, slotSecond)
		}
	case TagSymbolLeaf:
		_, err = rleseq.Init(a, slotFirst, cfg.Alphabet)
	}
	if err != nil {
		return Node{}, err
	}
	tracer().Debugf("created %s node %s on level %d", tag, short(id), level)
	return Node{alloc: a}, nil
}

// Attach returns the node living in the allocator a.
func Attach(a *packed.Allocator) (Node, error) {
	if a.Slots() != Slots {
		return Node{}, errors.Wrapf(packed.ErrBadLayout, "node blocks need %d slots, allocator has %d", Slots, a.Slots())
	}
	if err := packed.CheckRegion(a.Get(slotHeader), packed.KindHeader, Version); err != nil {
		return Node{}, err
	}
	return Node{alloc: a}, nil
}

// Allocator returns the allocator managing the node's block.
func (n Node) Allocator() *packed.Allocator {
	return n.alloc
}

// IsNil returns true for the zero node.
func (n Node) IsNil() bool {
	return n.alloc == nil
}

// ID returns the node's identifier.
func (n Node) ID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], n.header()[packed.Preamble+8:])
	return id
}

// Tag returns the node's type tag.
func (n Node) Tag() Tag {
	return Tag(packed.GetU16(n.header()[packed.Preamble:]))
}

// Level returns the height of the node above the leaves. Leaves have level 0.
func (n Node) Level() int {
	return int(packed.GetU16(n.header()[packed.Preamble+4:]))
}

// IsRoot returns true if the node is flagged as the root of its tree.
func (n Node) IsRoot() bool {
	return n.flags()&flagRoot != 0
}

// IsLeaf returns true if the node is flagged as a leaf.
func (n Node) IsLeaf() bool {
	return n.flags()&flagLeaf != 0
}

// SetRoot sets or clears the root flag.
func (n Node) SetRoot(root bool) {
	flags := n.flags() &^ flagRoot
	if root {
		flags |= flagRoot
	}
	packed.PutU16(n.header()[packed.Preamble+2:], flags)
}

// Occupancy returns the percentage of the block's client area in use.
func (n Node) Occupancy() int {
	return n.alloc.Allocated() * 100 / n.alloc.ClientArea()
}

func (n Node) String() string {
	return fmt.Sprintf("%s[%s]", n.Tag(), short(n.ID()))
}

func (n Node) header() []byte {
	return n.alloc.Get(slotHeader)
}

func (n Node) flags() uint16 {
	return packed.GetU16(n.header()[packed.Preamble+2:])
}

// commitOrdered runs the commits of the streams of a node. Streams which
// shrink are committed first, as only the net growth has been checked.
func commitOrdered(u *packed.UpdateState, slots []int, commits []func()) {
	a := u.Allocator()
	for pass := 0; pass < 2; pass++ {
		for i, slot := range slots {
			shrinking := u.Reserved(slot) <= a.ElementSize(slot)
			if (pass == 0) == shrinking {
				commits[i]()
			}
		}
	}
}

func short(id uuid.UUID) string {
	return id.String()[:8]
}
