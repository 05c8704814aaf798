// Package hippocampus implements the memory-formation pipeline of
// spec.md §4.7: a pattern-separation encoder (DG), an autoassociative
// completer (CA3), a cortical bridge (CA1), and a consolidation
// scheduler. No teacher file models this directly; the encode/recall/
// bridge split is grounded on ODSapper-CLIAIRMONITOR's
// LearningDB.RecordEpisode/SummarizeEpisodes/CompactKnowledge shape, and
// the consolidation scheduler's adaptive period reuses the bounded
// control-law formula from escalation/camouflage.go.
package hippocampus

import (
	"hash/fnv"
	"sort"
	"strconv"
)

// SparseCode is a fixed-width bit pattern: the set of activated bit
// positions, sorted ascending.
type SparseCode struct {
	Width      int
	Activated  []int
}

// Separator hashes tokenized content through k independent hash
// functions into a fixed-width code, keeping only the top-k ≈ √width
// activations — pattern separation in the dentate-gyrus sense: similar
// inputs are pushed toward dissimilar codes.
type Separator struct {
	width int
	k     int
}

// NewSeparator builds a Separator with the given code width; k (the
// number of retained activations) is the smallest k with k*k >= width,
// i.e. ceil(sqrt(width)).
func NewSeparator(width int) *Separator {
	k := 1
	for k*k < width {
		k++
	}
	return &Separator{width: width, k: k}
}

// Encode produces the sparse code for a token list plus a small tag set
// (e.g. actor, band, topic tags) that biases which bits activate.
func (s *Separator) Encode(tokens []string, tags []string) SparseCode {
	counts := make(map[int]int)
	for i, tok := range tokens {
		for h := 0; h < s.k; h++ {
			bit := hashToBit(tok+"#"+strconv.Itoa(h), s.width)
			counts[bit]++
			_ = i
		}
	}
	for _, tag := range tags {
		bit := hashToBit("tag:"+tag, s.width)
		counts[bit] += 2 // tags weigh more than a single token occurrence
	}

	type bitCount struct {
		bit   int
		count int
	}
	ranked := make([]bitCount, 0, len(counts))
	for b, c := range counts {
		ranked = append(ranked, bitCount{b, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].bit < ranked[j].bit
	})

	n := s.k
	if n > len(ranked) {
		n = len(ranked)
	}
	activated := make([]int, 0, n)
	for i := 0; i < n; i++ {
		activated = append(activated, ranked[i].bit)
	}
	sort.Ints(activated)
	return SparseCode{Width: s.width, Activated: activated}
}

func hashToBit(s string, width int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32()) % width
}

// HammingDistance returns the number of bits present in exactly one of
// the two codes.
func HammingDistance(a, b SparseCode) int {
	set := make(map[int]bool, len(a.Activated))
	for _, bit := range a.Activated {
		set[bit] = true
	}
	dist := 0
	bSet := make(map[int]bool, len(b.Activated))
	for _, bit := range b.Activated {
		bSet[bit] = true
		if !set[bit] {
			dist++
		}
	}
	for bit := range set {
		if !bSet[bit] {
			dist++
		}
	}
	return dist
}
