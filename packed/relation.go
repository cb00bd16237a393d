package packed

// Relation is the comparison a search applies between an accumulated value
// and a target.
type Relation int8

// Relations for searches. GE and GT are used for prefix-sum searches and
// for searching keys in ascending order; LE and LT search keys from the
// right.
const (
	GE Relation = iota // ≥
	GT                 // >
	LE                 // ≤
	LT                 // <
)

func (r Relation) String() string {
	switch r {
	case GE:
		return "GE"
	case GT:
		return "GT"
	case LE:
		return "LE"
	case LT:
		return "LT"
	}
	return "?"
}

// Strict is true for GT and LT.
func (r Relation) Strict() bool {
	return r == GT || r == LT
}

// FindResult is the outcome of a directional prefix search within a single
// packed structure.
//
// For a forward search, Idx is the index found, or Size() if the target has
// not been reached. Prefix is the sum of the elements passed over before
// reaching Idx, i.e. the full sum from the start position to the end if the
// search failed.
//
// For a backward search, Idx is the index found, or -1 if the target has not
// been reached. Prefix is the sum of the elements passed over, excluding the
// element at Idx.
type FindResult struct {
	Idx    int
	Prefix int64
}

// Found returns true if r points into a structure of size n.
func (r FindResult) Found(n int) bool {
	return r.Idx >= 0 && r.Idx < n
}

// FindForward implements a forward search from position start over a
// sum-indexed column: it locates the smallest i ≥ start for which the sum
// over [start, i] satisfies rel (GE or GT) with respect to target.
func FindForward(c Column, start int, target int64, rel Relation) FindResult {
	n := c.Len()
	assertThat(start >= 0 && start <= n, "start %d out of range [0,%d]", start, n)
	assertThat(rel == GE || rel == GT, "forward prefix search does not support %s", rel)
	if start == n {
		return FindResult{Idx: n}
	}
	base := PrefixSum(c, start)
	idx, prefix := FindPrefix(c, base+target, rel.Strict())
	if idx < start { // only for targets ≤ 0
		return FindResult{Idx: start}
	}
	return FindResult{Idx: idx, Prefix: prefix - base}
}

// FindBackward implements a backward search from position start: it locates
// the largest i ≤ start for which the sum over [i, start] satisfies rel (GE
// or GT) with respect to target.
func FindBackward(c Column, start int, target int64, rel Relation) FindResult {
	n := c.Len()
	assertThat(start >= -1 && start < n, "start %d out of range [-1,%d)", start, n)
	assertThat(rel == GE || rel == GT, "backward prefix search does not support %s", rel)
	if start < 0 {
		return FindResult{Idx: -1}
	}
	upper := PrefixSum(c, start+1)
	x := upper - target
	if x < 0 || (rel == GT && x == 0) {
		return FindResult{Idx: -1, Prefix: upper}
	}
	// GE: largest i with prefix(i) ≤ x  ⇔  first i with prefix(i+1) > x
	// GT: largest i with prefix(i) < x  ⇔  first i with prefix(i+1) ≥ x
	idx, _ := FindPrefix(c, x, rel == GE)
	if idx > start {
		idx = start
	}
	return FindResult{Idx: idx, Prefix: upper - PrefixSum(c, idx+1)}
}
