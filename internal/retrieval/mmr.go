package retrieval

// MMRSelect greedily diversifies a ranked candidate list:
// argmax λ·score(d) − (1−λ)·max_{s∈selected} sim(d,s), over cosine
// similarity of the candidates' TF-IDF vectors already built during
// candidate generation (no second embedding pass).
func MMRSelect(candidates []Scored, vectors map[string]SparseVector, lambda float64, limit int) []Scored {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	remaining := append([]Scored(nil), candidates...)
	selected := make([]Scored, 0, limit)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestMMR := -1e18
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				sim := Cosine(vectors[cand.ID], vectors[s.ID])
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*cand.Score - (1-lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
