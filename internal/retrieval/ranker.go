package retrieval

import "math"

// Features is the named feature vector assembled per candidate before
// linear ranking (spec.md §4.5 step 4). Missing signals default to 0.
type Features struct {
	BM25Score       float64
	VectorCosine    float64
	RRFScore        float64
	RecencyWeight   float64
	ActorAffinity   float64
	TagOverlap      float64
	TemporalMatch   float64
	HippoStrength   float64
	PriorEngagement float64
}

// Weights is the linear ranker's feature weight vector. Need not sum to 1.
type Weights struct {
	BM25Score       float64
	VectorCosine    float64
	RRFScore        float64
	RecencyWeight   float64
	ActorAffinity   float64
	TagOverlap      float64
	TemporalMatch   float64
	HippoStrength   float64
	PriorEngagement float64
}

// DefaultWeights mirrors spec.md §4.5 step 5's defaults.
func DefaultWeights() Weights {
	return Weights{
		BM25Score:       0.20,
		VectorCosine:    0.20,
		RRFScore:        0.15,
		RecencyWeight:   0.15,
		ActorAffinity:   0.10,
		TagOverlap:      0.08,
		TemporalMatch:   0.07,
		HippoStrength:   0.03,
		PriorEngagement: 0.02,
	}
}

// Contribution records one feature's weighted share, for the response
// trace (spec.md §4.5 step 9).
type Contribution struct {
	Feature string
	Weight  float64
	Value   float64
	Share   float64
}

// Rank scores a candidate's feature vector and returns the explainable
// contribution breakdown, generalizing the teacher's weighted-sum
// severity formula from 4 fixed inputs to nine named features.
func Rank(f Features, w Weights) (float64, []Contribution) {
	contribs := []Contribution{
		{"bm25_score", w.BM25Score, f.BM25Score, w.BM25Score * f.BM25Score},
		{"vector_cosine", w.VectorCosine, f.VectorCosine, w.VectorCosine * f.VectorCosine},
		{"rrf_score", w.RRFScore, f.RRFScore, w.RRFScore * f.RRFScore},
		{"recency_weight", w.RecencyWeight, f.RecencyWeight, w.RecencyWeight * f.RecencyWeight},
		{"actor_affinity", w.ActorAffinity, f.ActorAffinity, w.ActorAffinity * f.ActorAffinity},
		{"tag_overlap", w.TagOverlap, f.TagOverlap, w.TagOverlap * f.TagOverlap},
		{"temporal_match", w.TemporalMatch, f.TemporalMatch, w.TemporalMatch * f.TemporalMatch},
		{"hippo_strength", w.HippoStrength, f.HippoStrength, w.HippoStrength * f.HippoStrength},
		{"prior_engagement", w.PriorEngagement, f.PriorEngagement, w.PriorEngagement * f.PriorEngagement},
	}
	var total float64
	for _, c := range contribs {
		total += c.Share
	}
	return total, contribs
}

// Calibration holds the per-space sigmoid calibration parameters
// score -> confidence = σ(a*score+b). The values are set when the Search
// is built and are not updated from observed outcomes.
type Calibration struct {
	A float64
	B float64
}

// DefaultCalibration is the identity-ish starting point: a gentle slope
// centered near the median observed raw score.
func DefaultCalibration() Calibration { return Calibration{A: 4.0, B: -1.0} }

// Calibrate maps a raw linear score to a confidence in (0,1).
func (c Calibration) Calibrate(score float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(c.A*score + c.B)))
}
