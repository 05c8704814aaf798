package retrieval

import "sort"

// RRFFuse combines multiple ranked candidate lists via Reciprocal Rank
// Fusion: score(d) = Σ 1/(k+rank_s(d)) over every source s that returned
// d, rank 1-indexed. k defaults to 60, the standard RRF constant.
func RRFFuse(rankings [][]string, k int) []Scored {
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	for _, ranking := range rankings {
		for i, id := range ranking {
			scores[id] += 1.0 / float64(k+i+1)
		}
	}
	out := make([]Scored, 0, len(scores))
	for id, s := range scores {
		out = append(out, Scored{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
