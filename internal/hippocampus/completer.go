package hippocampus

import "sort"

// Completer is an autoassociative inverted index from activated bit to
// the sparse codes sharing that bit — a bounded k-NN/Hamming-distance
// recall structure (CA3).
type Completer struct {
	byBit map[int][]string // bit -> episode ids whose code activates it
	codes map[string]SparseCode
}

func NewCompleter() *Completer {
	return &Completer{byBit: make(map[int][]string), codes: make(map[string]SparseCode)}
}

// Store registers an episode's sparse code.
func (c *Completer) Store(episodeID string, code SparseCode) {
	c.codes[episodeID] = code
	for _, bit := range code.Activated {
		c.byBit[bit] = append(c.byBit[bit], episodeID)
	}
}

// Remove clears an episode's code (e.g. on tombstone).
func (c *Completer) Remove(episodeID string) {
	code, ok := c.codes[episodeID]
	if !ok {
		return
	}
	for _, bit := range code.Activated {
		ids := c.byBit[bit]
		for i, id := range ids {
			if id == episodeID {
				c.byBit[bit] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	delete(c.codes, episodeID)
}

// Completion is one recall candidate with its Hamming distance to the cue.
type Completion struct {
	EpisodeID string
	Distance  int
}

// Recall returns episodes whose stored code is within tau Hamming
// distance of cue, sorted by ascending distance, bounded to limit
// results. The candidate set is the union of codes sharing at least one
// activated bit with cue, not a full corpus scan.
func (c *Completer) Recall(cue SparseCode, tau int, limit int) []Completion {
	candidateSet := make(map[string]bool)
	for _, bit := range cue.Activated {
		for _, id := range c.byBit[bit] {
			candidateSet[id] = true
		}
	}

	out := make([]Completion, 0, len(candidateSet))
	for id := range candidateSet {
		d := HammingDistance(cue, c.codes[id])
		if d <= tau {
			out = append(out, Completion{EpisodeID: id, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].EpisodeID < out[j].EpisodeID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
