package rleseq

import (
	"io"
	"sort"

	"github.com/npillmayer/pbtree/packed"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the format version of sequence regions.
const Version = 1

// MaxAlphabet is the maximum number of distinct symbols.
const MaxAlphabet = 256

// Region layout:
//
//	0   preamble (kind, version, size)
//	8   alphabet  uint16
//	10  reserved  uint16
//	12  runs      uint32
//	16  data size uint32
//	20  reserved  uint32
//	24  index     groups+1 entries of
//	                pos    uint32  symbols before the group's first run
//	                off    uint32  byte offset of the group's first run
//	                counts [alphabet]uint32  occurrences before the group
//	    data      runs, each a symbol byte followed by a varint length
//
// The last index entry holds the totals.
const headerSize = packed.Preamble + 16

type run struct {
	sym    int
	length int
}

func groups(runs int) int {
	return (runs + packed.IndexSpan - 1) / packed.IndexSpan
}

func entrySize(alphabet int) int {
	return 8 + 4*alphabet
}

func bytesFor(runs []run, alphabet int) int {
	data := 0
	for _, r := range runs {
		data += 1 + protowire.SizeVarint(uint64(r.length))
	}
	return headerSize + (groups(len(runs))+1)*entrySize(alphabet) + data
}

// Sequence is an ephemeral view of a run-length encoded symbol sequence
// stored in a slot.
type Sequence struct {
	alloc *packed.Allocator
	slot  int
}

// SelectResult is the outcome of a select operation. If the requested
// occurrence has been found, Idx is its position and Rank equals the rank
// requested. Otherwise Idx is Size() (forward) or -1 (backward) and Rank is
// the number of occurrences counted up to the boundary.
type SelectResult struct {
	Idx  int
	Rank int
}

// Init creates an empty sequence over an alphabet of a given size in slot.
func Init(a *packed.Allocator, slot, alphabet int) (Sequence, error) {
	assertThat(alphabet > 0 && alphabet <= MaxAlphabet, "illegal alphabet size %d", alphabet)
	region, err := a.Allocate(slot, bytesFor(nil, alphabet))
	if err != nil {
		return Sequence{}, err
	}
	packed.WritePreamble(region, packed.KindRLESeq, Version, 0)
	packed.PutU16(region[packed.Preamble:], uint16(alphabet))
	return Sequence{alloc: a, slot: slot}, nil
}

// View returns a view of the sequence in slot.
func View(a *packed.Allocator, slot int) Sequence {
	assertThat(packed.RegionKind(a.Get(slot)) == packed.KindRLESeq, "slot %d does not hold a symbol sequence", slot)
	return Sequence{alloc: a, slot: slot}
}

// Size returns the number of symbols.
func (s Sequence) Size() int {
	return int(packed.GetU32(s.region()[4:]))
}

// Alphabet returns the number of distinct symbols the sequence may hold.
func (s Sequence) Alphabet() int {
	return int(packed.GetU16(s.region()[packed.Preamble:]))
}

// Runs returns the number of runs.
func (s Sequence) Runs() int {
	return s.layout().runs
}

// Access returns the symbol at position i.
func (s Sequence) Access(i int) int {
	l := s.layout()
	assertThat(i >= 0 && i < l.n, "index %d out of range [0,%d)", i, l.n)
	g := l.groupFor(i)
	p := l.pos(g)
	var sym int
	l.scan(g, func(r run) bool {
		if i < p+r.length {
			sym = r.sym
			return false
		}
		p += r.length
		return true
	})
	return sym
}

// Symbols returns all symbols in order.
func (s Sequence) Symbols() []int {
	syms := make([]int, 0, s.Size())
	for _, r := range s.layout().decode() {
		for k := 0; k < r.length; k++ {
			syms = append(syms, r.sym)
		}
	}
	return syms
}

// Count returns the number of occurrences of sym.
func (s Sequence) Count(sym int) int {
	l := s.layout()
	l.checkSymbol(sym)
	return l.count(l.groups, sym)
}

// Counts returns the number of occurrences of every symbol.
func (s Sequence) Counts() []int {
	l := s.layout()
	counts := make([]int, l.alphabet)
	for sym := range counts {
		counts[sym] = l.count(l.groups, sym)
	}
	return counts
}

// Rank returns the number of occurrences of sym in [0, pos).
func (s Sequence) Rank(pos, sym int) int {
	l := s.layout()
	l.checkSymbol(sym)
	assertThat(pos >= 0 && pos <= l.n, "position %d out of range [0,%d]", pos, l.n)
	if pos == l.n {
		return l.count(l.groups, sym)
	}
	g := l.groupFor(pos)
	cnt, p := l.count(g, sym), l.pos(g)
	l.scan(g, func(r run) bool {
		if p+r.length >= pos {
			if r.sym == sym {
				cnt += pos - p
			}
			return false
		}
		if r.sym == sym {
			cnt += r.length
		}
		p += r.length
		return true
	})
	return cnt
}

// CountRange returns the number of occurrences of sym in [from, to).
func (s Sequence) CountRange(sym, from, to int) int {
	assertThat(from <= to, "illegal range [%d,%d)", from, to)
	return s.Rank(to, sym) - s.Rank(from, sym)
}

// SelectFw locates the rank-th occurrence (rank ≥ 1) of sym at a position
// ≥ start.
func (s Sequence) SelectFw(start, sym, rank int) SelectResult {
	l := s.layout()
	l.checkSymbol(sym)
	assertThat(rank >= 1, "rank must be positive, is %d", rank)
	assertThat(start >= 0 && start <= l.n, "start %d out of range [0,%d]", start, l.n)
	before := s.Rank(start, sym)
	total := l.count(l.groups, sym)
	if before+rank > total {
		return SelectResult{Idx: l.n, Rank: total - before}
	}
	return SelectResult{Idx: l.selectNth(sym, before+rank), Rank: rank}
}

// SelectBw locates the rank-th occurrence (rank ≥ 1) of sym at a position
// ≤ start, counting from start downwards.
func (s Sequence) SelectBw(start, sym, rank int) SelectResult {
	l := s.layout()
	l.checkSymbol(sym)
	assertThat(rank >= 1, "rank must be positive, is %d", rank)
	assertThat(start >= -1 && start < l.n, "start %d out of range [-1,%d)", start, l.n)
	upto := s.Rank(start+1, sym)
	if upto < rank {
		return SelectResult{Idx: -1, Rank: upto}
	}
	return SelectResult{Idx: l.selectNth(sym, upto-rank+1), Rank: rank}
}

// --- Two-phase mutation ----------------------------------------------------

// Update is the update-state of a single mutation. It holds the run list
// resulting from the mutation.
type Update struct {
	runs []run
}

// PrepareInsert checks if length copies of sym may be inserted at idx.
func (s Sequence) PrepareInsert(u *packed.UpdateState, idx, sym, length int) (Update, error) {
	l := s.layout()
	l.checkSymbol(sym)
	assertThat(idx >= 0 && idx <= l.n, "insert index %d out of range [0,%d]", idx, l.n)
	assertThat(length > 0, "run length must be positive, is %d", length)
	head, tail := splitRuns(l.decode(), idx)
	runs := append(append(head, run{sym: sym, length: length}), tail...)
	return s.reserve(u, l, coalesce(runs))
}

// PrepareUpdate checks if the symbol at idx may be replaced by sym. Replacing
// a symbol may split a run and thus take additional space.
func (s Sequence) PrepareUpdate(u *packed.UpdateState, idx, sym int) (Update, error) {
	l := s.layout()
	l.checkSymbol(sym)
	assertThat(idx >= 0 && idx < l.n, "update index %d out of range [0,%d)", idx, l.n)
	runs := l.decode()
	head, rest := splitRuns(runs, idx)
	_, tail := splitRuns(rest, 1)
	runs = append(append(head, run{sym: sym, length: 1}), tail...)
	return s.reserve(u, l, coalesce(runs))
}

// PrepareRemove prepares removal of symbols [from, to).
func (s Sequence) PrepareRemove(u *packed.UpdateState, from, to int) (Update, error) {
	l := s.layout()
	assertThat(from >= 0 && from <= to && to <= l.n, "remove range [%d,%d) out of bounds [0,%d]", from, to, l.n)
	runs := l.decode()
	head, rest := splitRuns(runs, from)
	_, tail := splitRuns(rest, to-from)
	return s.reserve(u, l, coalesce(append(head, tail...)))
}

// PrepareMerge checks if all symbols of other can be appended.
func (s Sequence) PrepareMerge(u *packed.UpdateState, other Sequence) (Update, error) {
	l := s.layout()
	assertThat(other.Alphabet() == l.alphabet, "cannot merge sequences over alphabets of size %d and %d",
		l.alphabet, other.Alphabet())
	runs := append(l.decode(), other.layout().decode()...)
	return s.reserve(u, l, coalesce(runs))
}

func (s Sequence) reserve(u *packed.UpdateState, l layout, runs []run) (Update, error) {
	if err := u.Reserve(s.slot, bytesFor(runs, l.alphabet)); err != nil {
		return Update{}, err
	}
	return Update{runs: runs}, nil
}

// Commit performs a prepared mutation. It cannot fail.
func (s Sequence) Commit(upd Update) {
	err := s.encode(upd.runs, s.Alphabet())
	assertThat(err == nil, "commit without successful prepare: %v", err)
}

// Insert inserts length copies of sym at idx.
func (s Sequence) Insert(idx, sym, length int) error {
	upd, err := s.PrepareInsert(s.alloc.NewUpdateState(), idx, sym, length)
	if err != nil {
		return err
	}
	s.Commit(upd)
	return nil
}

// Update replaces the symbol at idx.
func (s Sequence) Update(idx, sym int) error {
	upd, err := s.PrepareUpdate(s.alloc.NewUpdateState(), idx, sym)
	if err != nil {
		return err
	}
	s.Commit(upd)
	return nil
}

// Remove removes symbols [from, to).
func (s Sequence) Remove(from, to int) error {
	upd, err := s.PrepareRemove(s.alloc.NewUpdateState(), from, to)
	if err != nil {
		return err
	}
	s.Commit(upd)
	return nil
}

// CommitMergeWith appends all symbols of other.
func (s Sequence) CommitMergeWith(other Sequence) error {
	upd, err := s.PrepareMerge(s.alloc.NewUpdateState(), other)
	if err != nil {
		return err
	}
	s.Commit(upd)
	return nil
}

// SplitTo moves symbols [idx, Size()) to the empty sequence other. On failure
// both sequences are unchanged.
func (s Sequence) SplitTo(other Sequence, idx int) error {
	l := s.layout()
	assertThat(idx >= 0 && idx <= l.n, "split index %d out of range [0,%d]", idx, l.n)
	assertThat(other.Size() == 0 && other.Alphabet() == l.alphabet, "split target must be an empty sequence of equal alphabet")
	runs := l.decode()
	head, tail := splitRuns(runs, idx)
	if other.alloc == s.alloc {
		err := s.encode(head, l.alphabet)
		assertThat(err == nil, "shrinking failed: %v", err)
		if err = other.encode(tail, l.alphabet); err != nil {
			err2 := s.encode(runs, l.alphabet)
			assertThat(err2 == nil, "cannot restore sequence after failed split: %v", err2)
			return err
		}
		return nil
	}
	if err := other.encode(tail, l.alphabet); err != nil {
		return err
	}
	err := s.encode(head, l.alphabet)
	assertThat(err == nil, "shrinking failed: %v", err)
	return nil
}

// Check validates the region and the consistency of the run index.
func (s Sequence) Check() error {
	region := s.region()
	if err := packed.CheckRegion(region, packed.KindRLESeq, Version); err != nil {
		return err
	}
	l := s.layout()
	if l.datOff+l.dataSize > len(region) {
		return errors.Wrapf(packed.ErrBadLayout, "sequence data exceeds region of %d bytes", len(region))
	}
	runs := l.decode()
	if len(runs) != l.runs {
		return errors.Errorf("rleseq: decoded %d runs, header says %d", len(runs), l.runs)
	}
	counts := make([]int, l.alphabet)
	p, off := 0, 0
	for i, r := range runs {
		if i%packed.IndexSpan == 0 {
			if err := l.checkEntry(i/packed.IndexSpan, p, off, counts); err != nil {
				return err
			}
		}
		counts[r.sym] += r.length
		p += r.length
		off += 1 + protowire.SizeVarint(uint64(r.length))
	}
	if p != l.n {
		return errors.Errorf("rleseq: runs hold %d symbols, header says %d", p, l.n)
	}
	return l.checkEntry(l.groups, p, off, counts)
}

// Serialize writes the sequence's region to w.
func (s Sequence) Serialize(w io.Writer) error {
	return packed.SerializeRegion(w, s.alloc, s.slot)
}

// Deserialize replaces the contents of s with a sequence written by
// Serialize.
func (s Sequence) Deserialize(r io.Reader) error {
	if err := packed.DeserializeRegion(r, s.alloc, s.slot, packed.KindRLESeq, Version); err != nil {
		return err
	}
	return s.Check()
}

// GenerateDataEvents emits the contents of s.
func (s Sequence) GenerateDataEvents(h packed.EventHandler) {
	l := s.layout()
	h.StartGroup("RLE_SEQUENCE", l.n)
	h.Value("SIZE", l.n)
	h.Value("ALPHABET", l.alphabet)
	h.Value("DATA_SIZE", l.dataSize)
	for _, r := range l.decode() {
		h.StartStruct()
		h.Value("SYMBOL", r.sym)
		h.Value("LENGTH", r.length)
		h.EndStruct()
	}
	h.EndGroup()
}

// --- Helpers ---------------------------------------------------------------

func (s Sequence) region() []byte {
	return s.alloc.Get(s.slot)
}

type layout struct {
	region    []byte
	n         int
	alphabet  int
	runs      int
	groups    int
	dataSize  int
	idxOff    int
	datOff    int
	entrySize int
}

func (s Sequence) layout() layout {
	region := s.region()
	l := layout{region: region}
	l.n = int(packed.GetU32(region[4:]))
	l.alphabet = int(packed.GetU16(region[packed.Preamble:]))
	l.runs = int(packed.GetU32(region[packed.Preamble+4:]))
	l.dataSize = int(packed.GetU32(region[packed.Preamble+8:]))
	l.groups = groups(l.runs)
	l.entrySize = entrySize(l.alphabet)
	l.idxOff = headerSize
	l.datOff = l.idxOff + (l.groups+1)*l.entrySize
	return l
}

func (l layout) checkSymbol(sym int) {
	assertThat(sym >= 0 && sym < l.alphabet, "symbol %d out of alphabet [0,%d)", sym, l.alphabet)
}

func (l layout) pos(g int) int {
	return int(packed.GetU32(l.region[l.idxOff+g*l.entrySize:]))
}

func (l layout) off(g int) int {
	return int(packed.GetU32(l.region[l.idxOff+g*l.entrySize+4:]))
}

func (l layout) count(g, sym int) int {
	return int(packed.GetU32(l.region[l.idxOff+g*l.entrySize+8+4*sym:]))
}

// groupFor returns the group whose runs cover position p < n.
func (l layout) groupFor(p int) int {
	g := sort.Search(l.groups, func(g int) bool { return l.pos(g) > p })
	return g - 1
}

// selectNth returns the position of the nth occurrence of sym (1-based).
func (l layout) selectNth(sym, nth int) int {
	g := sort.Search(l.groups, func(g int) bool { return l.count(g, sym) >= nth }) - 1
	assertThat(g >= 0, "occurrence %d of symbol %d not indexed", nth, sym)
	cnt, p, found := l.count(g, sym), l.pos(g), -1
	l.scan(g, func(r run) bool {
		if r.sym == sym {
			if cnt+r.length >= nth {
				found = p + nth - cnt - 1
				return false
			}
			cnt += r.length
		}
		p += r.length
		return true
	})
	assertThat(found >= 0, "occurrence %d of symbol %d not found", nth, sym)
	return found
}

// scan calls f for the runs starting at group g until f returns false.
func (l layout) scan(g int, f func(run) bool) {
	data := l.region[l.datOff : l.datOff+l.dataSize]
	for pos := l.off(g); pos < len(data); {
		r, k := decodeRun(data[pos:])
		if !f(r) {
			return
		}
		pos += k
	}
}

func (l layout) decode() []run {
	runs := make([]run, 0, l.runs)
	data := l.region[l.datOff : l.datOff+l.dataSize]
	for len(data) > 0 {
		r, k := decodeRun(data)
		runs = append(runs, r)
		data = data[k:]
	}
	return runs
}

func (l layout) checkEntry(g, p, off int, counts []int) error {
	if l.pos(g) != p || l.off(g) != off {
		return errors.Errorf("rleseq: index entry %d is (%d,%d), expected (%d,%d)", g, l.pos(g), l.off(g), p, off)
	}
	for sym, c := range counts {
		if l.count(g, sym) != c {
			return errors.Errorf("rleseq: index entry %d counts %d × symbol %d, expected %d", g, l.count(g, sym), sym, c)
		}
	}
	return nil
}

func decodeRun(data []byte) (run, int) {
	assertThat(len(data) > 1, "truncated run")
	length, k := protowire.ConsumeVarint(data[1:])
	assertThat(k > 0 && length > 0, "malformed run")
	return run{sym: int(data[0]), length: int(length)}, 1 + k
}

func (s Sequence) encode(runs []run, alphabet int) error {
	if err := s.alloc.Resize(s.slot, bytesFor(runs, alphabet)); err != nil {
		return err
	}
	region := s.region()
	var data []byte
	esize := entrySize(alphabet)
	idxOff := headerSize
	counts := make([]int, alphabet)
	n := 0
	writeEntry := func(g int) {
		e := region[idxOff+g*esize:]
		packed.PutU32(e, uint32(n))
		packed.PutU32(e[4:], uint32(len(data)))
		for sym, c := range counts {
			packed.PutU32(e[8+4*sym:], uint32(c))
		}
	}
	for i, r := range runs {
		if i%packed.IndexSpan == 0 {
			writeEntry(i / packed.IndexSpan)
		}
		data = append(data, byte(r.sym))
		data = protowire.AppendVarint(data, uint64(r.length))
		counts[r.sym] += r.length
		n += r.length
	}
	writeEntry(groups(len(runs)))
	packed.WritePreamble(region, packed.KindRLESeq, Version, n)
	packed.PutU16(region[packed.Preamble:], uint16(alphabet))
	packed.PutU32(region[packed.Preamble+4:], uint32(len(runs)))
	packed.PutU32(region[packed.Preamble+8:], uint32(len(data)))
	packed.PutU32(region[packed.Preamble+12:], 0)
	off := idxOff + (groups(len(runs))+1)*esize
	off += copy(region[off:], data)
	for i := off; i < len(region); i++ {
		region[i] = 0
	}
	tracer().Debugf("rleseq: encoded %d symbols in %d runs", n, len(runs))
	return nil
}

// splitRuns splits a run list at symbol position p. The input is not
// modified.
func splitRuns(runs []run, p int) (head, tail []run) {
	head = make([]run, 0, len(runs)+1)
	for i, r := range runs {
		if p <= 0 {
			tail = append(tail, runs[i:]...)
			return head, tail
		}
		if p < r.length {
			head = append(head, run{sym: r.sym, length: p})
			tail = append(tail, run{sym: r.sym, length: r.length - p})
			tail = append(tail, runs[i+1:]...)
			return head, tail
		}
		head = append(head, r)
		p -= r.length
	}
	return head, tail
}

// coalesce merges adjacent runs of equal symbols and drops empty runs.
func coalesce(runs []run) []run {
	out := make([]run, 0, len(runs))
	for _, r := range runs {
		if r.length == 0 {
			continue
		}
		if k := len(out); k > 0 && out[k-1].sym == r.sym {
			out[k-1].length += r.length
			continue
		}
		out = append(out, r)
	}
	return out
}
