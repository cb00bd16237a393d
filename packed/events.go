package packed

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/xlab/treeprint"
)

// EventHandler receives a structured stream of events describing the contents
// of a block. It is used for diagnostics; it is not a wire format.
//
// Groups and structs nest. Every StartGroup is matched by an EndGroup, every
// StartStruct by an EndStruct.
type EventHandler interface {
	StartGroup(name string, size int)
	EndGroup()
	StartStruct()
	EndStruct()
	Value(name string, v interface{})
	Array(name string, values []int64)
}

// GenerateDataEvents emits the allocator's header fields and layout.
func (a *Allocator) GenerateDataEvents(h EventHandler) {
	h.StartGroup("ALLOCATOR", a.Slots())
	h.Value("BLOCK_SIZE", a.BlockSize())
	h.Value("CAPACITY", a.Capacity())
	h.Value("CLIENT_AREA", a.ClientArea())
	h.Value("FREE_SPACE", a.FreeSpace())
	layout := make([]int64, a.Slots()+1)
	for i := range layout {
		layout[i] = int64(a.layoutAt(i))
	}
	h.Array("LAYOUT", layout)
	h.EndGroup()
}

// TreeDumper is an EventHandler which renders events as a tree, suitable for
// printing.
//
//     d := packed.NewTreeDumper("node")
//     alloc.GenerateDataEvents(d)
//     fmt.Println(d.String())
//
type TreeDumper struct {
	root  treeprint.Tree
	stack []treeprint.Tree
	count []int
}

// NewTreeDumper creates a dumper with a root labeled title.
func NewTreeDumper(title string) *TreeDumper {
	root := treeprint.New()
	root.SetValue(title)
	return &TreeDumper{root: root, stack: []treeprint.Tree{root}, count: []int{0}}
}

func (d *TreeDumper) top() treeprint.Tree {
	return d.stack[len(d.stack)-1]
}

func (d *TreeDumper) push(t treeprint.Tree) {
	d.stack = append(d.stack, t)
	d.count = append(d.count, 0)
}

func (d *TreeDumper) pop() {
	if len(d.stack) > 1 {
		d.stack = d.stack[:len(d.stack)-1]
		d.count = d.count[:len(d.count)-1]
	}
}

// StartGroup is part of interface EventHandler.
func (d *TreeDumper) StartGroup(name string, size int) {
	d.push(d.top().AddMetaBranch(size, name))
}

// EndGroup is part of interface EventHandler.
func (d *TreeDumper) EndGroup() { d.pop() }

// StartStruct is part of interface EventHandler.
func (d *TreeDumper) StartStruct() {
	n := d.count[len(d.count)-1]
	d.count[len(d.count)-1]++
	d.push(d.top().AddBranch(fmt.Sprintf("#%d", n)))
}

// EndStruct is part of interface EventHandler.
func (d *TreeDumper) EndStruct() { d.pop() }

// Value is part of interface EventHandler.
// Integer values of fields named like sizes are humanized.
func (d *TreeDumper) Value(name string, v interface{}) {
	if n, ok := v.(int); ok && isSizeField(name) {
		d.top().AddNode(fmt.Sprintf("%s = %d (%s)", name, n, humanize.IBytes(uint64(n))))
		return
	}
	d.top().AddNode(fmt.Sprintf("%s = %v", name, v))
}

// Array is part of interface EventHandler.
func (d *TreeDumper) Array(name string, values []int64) {
	d.top().AddNode(fmt.Sprintf("%s = %v", name, values))
}

// String renders the tree.
func (d *TreeDumper) String() string {
	return d.root.String()
}

func isSizeField(name string) bool {
	switch name {
	case "BLOCK_SIZE", "CAPACITY", "CLIENT_AREA", "FREE_SPACE", "DATA_SIZE":
		return true
	}
	return false
}
