package store

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/npillmayer/pbtree/node"
	"github.com/npillmayer/pbtree/packed"
	"github.com/npillmayer/schuko"
	"github.com/pkg/errors"
)

// ErrNotFound is returned for identifiers unknown to a store.
var ErrNotFound = errors.New("store: node not found")

// Configuration keys and defaults.
const (
	KeyBlockSize     = "pbtree.blocksize"
	KeyCacheSize     = "pbtree.cache"
	DefaultBlockSize = 4096
	DefaultCacheSize = 64
)

// Configured reads block size and cache size from conf, falling back to
// defaults for keys which are not set.
func Configured(conf schuko.Configuration) (blockSize, cacheSize int) {
	blockSize, cacheSize = DefaultBlockSize, DefaultCacheSize
	if conf == nil {
		return
	}
	if conf.IsSet(KeyBlockSize) {
		blockSize = conf.GetInt(KeyBlockSize)
	}
	if conf.IsSet(KeyCacheSize) {
		cacheSize = conf.GetInt(KeyCacheSize)
	}
	return
}

// --- Memory ----------------------------------------------------------------

// Memory is a store holding all blocks in memory.
type Memory struct {
	blockSize int
	blocks    map[uuid.UUID]*packed.Allocator
}

// NewMemory creates an empty in-memory store for blocks of a given size.
func NewMemory(blockSize int) *Memory {
	return &Memory{blockSize: blockSize, blocks: make(map[uuid.UUID]*packed.Allocator)}
}

// Node resolves id.
func (m *Memory) Node(id uuid.UUID) (node.Node, error) {
	a, ok := m.blocks[id]
	if !ok {
		return node.Node{}, errors.Wrapf(ErrNotFound, "memory store: %s", id)
	}
	return node.Attach(a)
}

// Allocate creates a block for a new node and returns its identifier.
func (m *Memory) Allocate() (uuid.UUID, *packed.Allocator, error) {
	a, err := packed.New(m.blockSize, node.Slots)
	if err != nil {
		return uuid.Nil, nil, err
	}
	id := uuid.New()
	m.blocks[id] = a
	return id, a, nil
}

// Update is a no-op, as nodes are modified in place.
func (m *Memory) Update(n node.Node) error {
	if _, ok := m.blocks[n.ID()]; !ok {
		return errors.Wrapf(ErrNotFound, "memory store: %s", n.ID())
	}
	return nil
}

// Free releases the block of id.
func (m *Memory) Free(id uuid.UUID) error {
	if _, ok := m.blocks[id]; !ok {
		return errors.Wrapf(ErrNotFound, "memory store: %s", id)
	}
	delete(m.blocks, id)
	return nil
}

// Len returns the number of blocks in use.
func (m *Memory) Len() int {
	return len(m.blocks)
}

// --- Paged -----------------------------------------------------------------

// Paged is a store keeping blocks as serialized pages. Live blocks are
// cached in an LRU cache. Clients must call Update after modifying a node;
// the page is rewritten immediately.
type Paged struct {
	blockSize int
	pages     map[uuid.UUID][]byte
	cache     *lru.Cache[uuid.UUID, *packed.Allocator]
	stats     Stats
}

// Stats collects counters of a paged store.
type Stats struct {
	Pages     int
	PageBytes int
	Hits      int
	Misses    int
	Writes    int
	Evictions int
}

func (s Stats) String() string {
	return fmt.Sprintf("%s pages, %s, %d hits, %d misses, %d writes, %d evictions",
		humanize.Comma(int64(s.Pages)), humanize.IBytes(uint64(s.PageBytes)),
		s.Hits, s.Misses, s.Writes, s.Evictions)
}

// NewPaged creates an empty paged store for blocks of a given size, caching
// up to cacheSize live blocks.
func NewPaged(blockSize, cacheSize int) (*Paged, error) {
	p := &Paged{blockSize: blockSize, pages: make(map[uuid.UUID][]byte)}
	cache, err := lru.NewWithEvict[uuid.UUID, *packed.Allocator](cacheSize, p.evicted)
	if err != nil {
		return nil, errors.Wrap(err, "paged store")
	}
	p.cache = cache
	return p, nil
}

// OpenPaged creates a paged store with block size and cache size taken from
// conf.
func OpenPaged(conf schuko.Configuration) (*Paged, error) {
	blockSize, cacheSize := Configured(conf)
	return NewPaged(blockSize, cacheSize)
}

func (p *Paged) evicted(id uuid.UUID, _ *packed.Allocator) {
	p.stats.Evictions++
	tracer().Debugf("paged store: evicted %s", id)
}

// Node resolves id, reading its page if the block is not cached.
func (p *Paged) Node(id uuid.UUID) (node.Node, error) {
	if a, ok := p.cache.Get(id); ok {
		p.stats.Hits++
		return node.Attach(a)
	}
	page, ok := p.pages[id]
	if !ok {
		return node.Node{}, errors.Wrapf(ErrNotFound, "paged store: %s", id)
	}
	p.stats.Misses++
	a, err := packed.Read(bytes.NewReader(page))
	if err != nil {
		return node.Node{}, errors.Wrapf(err, "paged store: reading page %s", id)
	}
	p.cache.Add(id, a)
	return node.Attach(a)
}

// Allocate creates a block for a new node.
func (p *Paged) Allocate() (uuid.UUID, *packed.Allocator, error) {
	a, err := packed.New(p.blockSize, node.Slots)
	if err != nil {
		return uuid.Nil, nil, err
	}
	id := uuid.New()
	if err := p.write(id, a); err != nil {
		return uuid.Nil, nil, err
	}
	p.cache.Add(id, a)
	return id, a, nil
}

// Update writes the block of n to its page.
func (p *Paged) Update(n node.Node) error {
	id := n.ID()
	if _, ok := p.pages[id]; !ok {
		return errors.Wrapf(ErrNotFound, "paged store: %s", id)
	}
	if err := p.write(id, n.Allocator()); err != nil {
		return err
	}
	p.cache.Add(id, n.Allocator())
	return nil
}

// Free releases the page of id.
func (p *Paged) Free(id uuid.UUID) error {
	page, ok := p.pages[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "paged store: %s", id)
	}
	p.stats.PageBytes -= len(page)
	delete(p.pages, id)
	p.cache.Remove(id)
	return nil
}

// Len returns the number of pages.
func (p *Paged) Len() int {
	return len(p.pages)
}

// Stats returns the current counters.
func (p *Paged) Stats() Stats {
	s := p.stats
	s.Pages = len(p.pages)
	return s
}

func (p *Paged) write(id uuid.UUID, a *packed.Allocator) error {
	var buf bytes.Buffer
	buf.Grow(a.Allocated() + 64)
	if err := a.Serialize(&buf); err != nil {
		return errors.Wrapf(err, "paged store: writing page %s", id)
	}
	p.stats.PageBytes += buf.Len() - len(p.pages[id])
	p.stats.Writes++
	p.pages[id] = buf.Bytes()
	return nil
}
