package packed

import "math"

// IndexSpan is the number of entries of one level summarized by a single
// entry of the index level above.
const IndexSpan = 8

// IndexLevels returns the number of entries of each index level for n
// values, lowest level first. Level 0 summarizes groups of IndexSpan values,
// level i+1 summarizes groups of IndexSpan entries of level i. The top level
// has at most IndexSpan entries. For n ≤ IndexSpan no index is needed and nil
// is returned.
func IndexLevels(n int) []int {
	var levels []int
	for n > IndexSpan {
		n = (n + IndexSpan - 1) / IndexSpan
		levels = append(levels, n)
	}
	return levels
}

// IndexEntries returns the total number of index entries for n values.
func IndexEntries(n int) int {
	cnt := 0
	for _, l := range IndexLevels(n) {
		cnt += l
	}
	return cnt
}

// Aggregate is the function an index level applies to summarize a group of
// entries of the level below.
type Aggregate int8

// Aggregates supported by packed indexes.
const (
	SumAggregate Aggregate = iota
	MaxAggregate
)

func (g Aggregate) zero() int64 {
	if g == MaxAggregate {
		return math.MinInt64
	}
	return 0
}

func (g Aggregate) combine(a, b int64) int64 {
	if g == MaxAggregate {
		if b > a {
			return b
		}
		return a
	}
	return a + b
}

// BuildIndex computes all index levels over values, lowest level first,
// flattened into a single slice of length IndexEntries(len(values)).
func BuildIndex(g Aggregate, values []int64) []int64 {
	levels := IndexLevels(len(values))
	if len(levels) == 0 {
		return nil
	}
	out := make([]int64, 0, IndexEntries(len(values)))
	below := values
	for _, cnt := range levels {
		start := len(out)
		for i := 0; i < cnt; i++ {
			acc := g.zero()
			hi := min((i+1)*IndexSpan, len(below))
			for _, v := range below[i*IndexSpan : hi] {
				acc = g.combine(acc, v)
			}
			out = append(out, acc)
		}
		below = out[start:]
	}
	return out
}

// Column is a read-only view of one indexed column of a packed structure.
// Level -1 denotes the values themselves.
type Column interface {
	Len() int
	Value(i int) int64
	Entry(level, i int) int64
}

// PrefixSum returns the sum of the first k values of a sum-indexed column.
func PrefixSum(c Column, k int) int64 {
	assertThat(k >= 0 && k <= c.Len(), "prefix length %d out of range [0,%d]", k, c.Len())
	levels := IndexLevels(c.Len())
	var sum int64
	if len(levels) == 0 {
		for i := 0; i < k; i++ {
			sum += c.Value(i)
		}
		return sum
	}
	g := k / IndexSpan
	for i := g * IndexSpan; i < k; i++ {
		sum += c.Value(i)
	}
	k = g
	top := len(levels) - 1
	for l := 0; l < top; l++ {
		g = k / IndexSpan
		for i := g * IndexSpan; i < k; i++ {
			sum += c.Entry(l, i)
		}
		k = g
	}
	for i := 0; i < k; i++ {
		sum += c.Entry(top, i)
	}
	return sum
}

// RangeMax returns the maximum of the values in [from, to) of a max-indexed
// column. For an empty range math.MinInt64 is returned.
func RangeMax(c Column, from, to int) int64 {
	assertThat(from >= 0 && from <= to && to <= c.Len(), "range [%d,%d) out of bounds", from, to)
	return rangeAgg(c, IndexLevels(c.Len()), -1, from, to)
}

func rangeAgg(c Column, levels []int, level, from, to int) int64 {
	get := c.Value
	if level >= 0 {
		get = func(i int) int64 { return c.Entry(level, i) }
	}
	acc := MaxAggregate.zero()
	scan := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			acc = MaxAggregate.combine(acc, get(i))
		}
	}
	lo := (from + IndexSpan - 1) / IndexSpan
	hi := to / IndexSpan
	if level == len(levels)-1 || lo >= hi {
		scan(from, to)
		return acc
	}
	scan(from, lo*IndexSpan)
	scan(hi*IndexSpan, to)
	return MaxAggregate.combine(acc, rangeAgg(c, levels, level+1, lo, hi))
}

// FindPrefix locates the first index i such that the sum of values [0, i]
// reaches target. If strict is set, the sum has to exceed target, otherwise it
// has to be greater or equal. It returns i together with the sum of values
// [0, i). If no such index exists, the length of the column and the total sum
// are returned.
//
// FindPrefix relies on the values of the column being non-negative.
func FindPrefix(c Column, target int64, strict bool) (int, int64) {
	hit := func(s int64) bool {
		if strict {
			return s > target
		}
		return s >= target
	}
	n := c.Len()
	levels := IndexLevels(n)
	var sum int64
	lo, hi := 0, n
	if len(levels) > 0 {
		hi = levels[len(levels)-1]
	}
	for l := len(levels) - 1; l >= 0; l-- {
		found := -1
		for i := lo; i < hi; i++ {
			e := c.Entry(l, i)
			if hit(sum + e) {
				found = i
				break
			}
			sum += e
		}
		if found < 0 {
			return n, sum
		}
		below := n
		if l > 0 {
			below = levels[l-1]
		}
		lo = found * IndexSpan
		hi = min(lo+IndexSpan, below)
	}
	for i := lo; i < hi; i++ {
		v := c.Value(i)
		if hit(sum + v) {
			return i, sum
		}
		sum += v
	}
	return n, sum
}

// FindMax locates the first index i ≥ start for which the value is greater or
// equal to key (strict: greater than key), using a max-indexed column.
// If no such index exists, the length of the column is returned.
func FindMax(c Column, start int, key int64, strict bool) int {
	hit := func(v int64) bool {
		if strict {
			return v > key
		}
		return v >= key
	}
	n := c.Len()
	if start >= n {
		return n
	}
	levels := IndexLevels(n)
	// values in the group of start
	g := start / IndexSpan
	for i := start; i < min((g+1)*IndexSpan, n); i++ {
		if hit(c.Value(i)) {
			return i
		}
	}
	// ascend until a level entry to the right of the path hits
	level, found := -1, -1
	for l := 0; l < len(levels) && found < 0; l++ {
		next := g + 1
		end := levels[l]
		if l < len(levels)-1 {
			end = min((g/IndexSpan+1)*IndexSpan, levels[l])
		}
		for i := next; i < end; i++ {
			if hit(c.Entry(l, i)) {
				level, found = l, i
				break
			}
		}
		g /= IndexSpan
	}
	if found < 0 {
		return n
	}
	// descend to the leftmost hitting value below the entry found
	for l := level - 1; l >= -1; l-- {
		below := n
		get := c.Value
		if l >= 0 {
			below = levels[l]
			lv := l
			get = func(i int) int64 { return c.Entry(lv, i) }
		}
		lo := found * IndexSpan
		hi := min(lo+IndexSpan, below)
		next := -1
		for i := lo; i < hi; i++ {
			if hit(get(i)) {
				next = i
				break
			}
		}
		assertThat(next >= 0, "max index inconsistent at level %d", l)
		found = next
	}
	return found
}

// SliceColumn adapts a slice of values to a Column, computing its index
// eagerly. It is used by structures while rebuilding their contents and by
// tests.
type SliceColumn struct {
	values []int64
	index  []int64
	starts []int
}

// NewSliceColumn creates a Column over values with index aggregate g.
func NewSliceColumn(g Aggregate, values []int64) SliceColumn {
	levels := IndexLevels(len(values))
	starts := make([]int, len(levels))
	off := 0
	for l, cnt := range levels {
		starts[l] = off
		off += cnt
	}
	return SliceColumn{values: values, index: BuildIndex(g, values), starts: starts}
}

// Len is part of interface Column.
func (c SliceColumn) Len() int { return len(c.values) }

// Value is part of interface Column.
func (c SliceColumn) Value(i int) int64 { return c.values[i] }

// Entry is part of interface Column.
func (c SliceColumn) Entry(l, i int) int64 { return c.index[c.starts[l]+i] }
