package packed

import (
	"math"
	"math/rand"
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
)

func TestIndexLevels(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	assert.Nil(t, IndexLevels(0))
	assert.Nil(t, IndexLevels(8))
	assert.Equal(t, []int{2}, IndexLevels(9))
	assert.Equal(t, []int{8}, IndexLevels(64))
	assert.Equal(t, []int{9, 2}, IndexLevels(65))
	assert.Equal(t, 11, IndexEntries(65))
}

func TestPrefixSum(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	for _, n := range []int{0, 1, 7, 8, 9, 63, 64, 65, 200, 513} {
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(i%5) - 1
		}
		c := NewSliceColumn(SumAggregate, values)
		var sum int64
		for k := 0; k <= n; k++ {
			if p := PrefixSum(c, k); p != sum {
				t.Fatalf("n=%d: expected prefix(%d) = %d, is %d", n, k, sum, p)
			}
			if k < n {
				sum += values[k]
			}
		}
	}
}

func TestFindPrefix(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	rnd := rand.New(rand.NewSource(17))
	for _, n := range []int{1, 8, 9, 70, 300} {
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(rnd.Intn(4)) // includes zeros
		}
		c := NewSliceColumn(SumAggregate, values)
		total := PrefixSum(c, n)
		for target := int64(-1); target <= total+1; target++ {
			for _, strict := range []bool{false, true} {
				idx, prefix := FindPrefix(c, target, strict)
				expIdx, expPrefix := n, total
				var s int64
				for i, v := range values {
					if (!strict && s+v >= target) || (strict && s+v > target) {
						expIdx, expPrefix = i, s
						break
					}
					s += v
				}
				if idx != expIdx || prefix != expPrefix {
					t.Fatalf("n=%d target=%d strict=%v: expected (%d,%d), is (%d,%d)",
						n, target, strict, expIdx, expPrefix, idx, prefix)
				}
			}
		}
	}
}

func TestFindMaxAndRangeMax(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	rnd := rand.New(rand.NewSource(4711))
	for _, n := range []int{1, 8, 9, 65, 600} {
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(rnd.Intn(1000))
		}
		c := NewSliceColumn(MaxAggregate, values)
		for k := 0; k < 40; k++ {
			from := rnd.Intn(n + 1)
			to := from + rnd.Intn(n-from+1)
			exp := int64(math.MinInt64)
			for _, v := range values[from:to] {
				if v > exp {
					exp = v
				}
			}
			assert.Equal(t, exp, RangeMax(c, from, to), "max of [%d,%d)", from, to)
			//
			key := int64(rnd.Intn(1100))
			for _, strict := range []bool{false, true} {
				expIdx := n
				for i := from; i < n; i++ {
					if (!strict && values[i] >= key) || (strict && values[i] > key) {
						expIdx = i
						break
					}
				}
				assert.Equal(t, expIdx, FindMax(c, from, key, strict), "find %d from %d", key, from)
			}
		}
	}
}

func TestFindForwardBackward(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "pbtree.packed")
	defer teardown()
	//
	rnd := rand.New(rand.NewSource(99))
	for _, n := range []int{1, 5, 17, 90} {
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(rnd.Intn(5))
		}
		c := NewSliceColumn(SumAggregate, values)
		for start := 0; start < n; start++ {
			for target := int64(-1); target < 25; target++ {
				for _, rel := range []Relation{GE, GT} {
					hit := func(s int64) bool {
						if rel == GT {
							return s > target
						}
						return s >= target
					}
					// forward
					exp := FindResult{Idx: n}
					var s int64
					for i := start; i < n; i++ {
						if hit(s + values[i]) {
							exp = FindResult{Idx: i, Prefix: s}
							break
						}
						s += values[i]
					}
					if exp.Idx == n {
						exp.Prefix = s
					}
					if r := FindForward(c, start, target, rel); r != exp {
						t.Fatalf("fw n=%d start=%d target=%d %s: expected %v, is %v", n, start, target, rel, exp, r)
					}
					// backward
					exp = FindResult{Idx: -1}
					s = 0
					for i := start; i >= 0; i-- {
						if hit(s + values[i]) {
							exp = FindResult{Idx: i, Prefix: s}
							break
						}
						s += values[i]
					}
					if exp.Idx == -1 {
						exp.Prefix = s
					}
					if r := FindBackward(c, start, target, rel); r != exp {
						t.Fatalf("bw n=%d start=%d target=%d %s: expected %v, is %v", n, start, target, rel, exp, r)
					}
				}
			}
		}
	}
}
