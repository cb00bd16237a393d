package node

import (
	"fmt"
	"slices"
	"strings"

	"github.com/npillmayer/pbtree/packed/maxtree"
	"github.com/npillmayer/pbtree/packed/rleseq"
	"github.com/pkg/errors"
)

// Config declares the node types of one container configuration: branches
// plus one kind of leaf.
type Config struct {
	Name     string
	Leaf     Tag // TagSumLeaf, TagMapLeaf or TagSymbolLeaf
	Columns  int // sum columns of sum leaves
	Alphabet int // alphabet size of symbol leaves
}

// SumConfig returns a configuration for sequences of rows of int64 values.
func SumConfig(name string, columns int) Config {
	return Config{Name: name, Leaf: TagSumLeaf, Columns: columns}
}

// MapConfig returns a configuration for sorted maps from int64 keys to
// uint64 values.
func MapConfig(name string) Config {
	return Config{Name: name, Leaf: TagMapLeaf}
}

// SymbolConfig returns a configuration for symbol sequences.
func SymbolConfig(name string, alphabet int) Config {
	return Config{Name: name, Leaf: TagSymbolLeaf, Alphabet: alphabet}
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	switch cfg.Leaf {
	case TagSumLeaf:
		if cfg.Columns < 1 {
			return errors.Wrapf(ErrConfig, "%q: sum leaves need at least one column", cfg.Name)
		}
	case TagMapLeaf:
	case TagSymbolLeaf:
		if cfg.Alphabet < 1 || cfg.Alphabet > rleseq.MaxAlphabet {
			return errors.Wrapf(ErrConfig, "%q: alphabet size %d out of range [1,%d]",
				cfg.Name, cfg.Alphabet, rleseq.MaxAlphabet)
		}
	default:
		return errors.Wrapf(ErrConfig, "%q: %s is not a leaf type", cfg.Name, cfg.Leaf)
	}
	return nil
}

// Accepts returns true if nodes with tag belong to the configuration.
func (cfg Config) Accepts(tag Tag) bool {
	return tag == TagBranch || (tag == cfg.Leaf && tag.IsLeaf())
}

// SumWidth is the number of sum columns of summaries: the entry count plus
// the leaf specific sums.
func (cfg Config) SumWidth() int {
	switch cfg.Leaf {
	case TagSumLeaf:
		return 1 + cfg.Columns
	case TagMapLeaf:
		return 2
	case TagSymbolLeaf:
		return 1 + cfg.Alphabet
	}
	return 1
}

// MaxWidth is the number of max columns of summaries.
func (cfg Config) MaxWidth() int {
	if cfg.Leaf == TagMapLeaf {
		return 1
	}
	return 0
}

// SymbolColumn returns the sum column counting occurrences of sym.
func (cfg Config) SymbolColumn(sym int) int {
	assertThat(cfg.Leaf == TagSymbolLeaf, "configuration %q has no symbols", cfg.Name)
	assertThat(sym >= 0 && sym < cfg.Alphabet, "symbol %d out of alphabet [0,%d)", sym, cfg.Alphabet)
	return 1 + sym
}

// EmptySummary returns the summary of an empty node.
func (cfg Config) EmptySummary() Summary {
	s := Summary{
		Sums:  make([]int64, cfg.SumWidth()),
		Maxes: make([]int64, cfg.MaxWidth()),
	}
	for i := range s.Maxes {
		s.Maxes[i] = maxtree.None
	}
	return s
}

// Summary is the aggregate of the contents of a node.
type Summary struct {
	Sums  []int64 // Sums[0] is the number of entries
	Maxes []int64
}

// Count returns the number of entries summarized.
func (s Summary) Count() int {
	if len(s.Sums) == 0 {
		return 0
	}
	return int(s.Sums[0])
}

// Equal compares two summaries.
func (s Summary) Equal(other Summary) bool {
	return slices.Equal(s.Sums, other.Sums) && slices.Equal(s.Maxes, other.Maxes)
}

func (s Summary) String() string {
	return fmt.Sprintf("Σ%v ⌈%v⌉", s.Sums, s.Maxes)
}

// Entry is a leaf entry. Which fields are relevant depends on the leaf kind:
// sum leaves use Values, map leaves Key and Value, symbol leaves Symbol.
type Entry struct {
	Values []int64
	Key    int64
	Value  uint64
	Symbol int
}

// Format renders e as seen by leaves of kind tag.
func (e Entry) Format(tag Tag) string {
	switch tag {
	case TagSumLeaf:
		vs := make([]string, len(e.Values))
		for i, v := range e.Values {
			vs[i] = fmt.Sprint(v)
		}
		return "(" + strings.Join(vs, ",") + ")"
	case TagMapLeaf:
		return fmt.Sprintf("%d→%d", e.Key, e.Value)
	case TagSymbolLeaf:
		return fmt.Sprintf("#%d", e.Symbol)
	}
	return fmt.Sprintf("%v", e)
}
