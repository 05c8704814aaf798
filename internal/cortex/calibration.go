package cortex

// ControlLawParams are the bounded-update coefficients, adapted from the
// teacher's MutationRateFromControlLaw: m_{t+1} = clamp(m_t + λ1*signal -
// λ2*(1-confidence), 0, 1).
type ControlLawParams struct {
	Lambda1 float64
	Lambda2 float64
}

// DefaultControlLawParams mirrors the teacher's default coefficients.
func DefaultControlLawParams() ControlLawParams {
	return ControlLawParams{Lambda1: 0.4, Lambda2: 0.6}
}

// BoundedUpdate nudges a calibration parameter (already in [0,1]) toward
// the direction of an observed outcome signal, damped by how confident
// the prediction that produced it was. P14 uses it to adjust the
// workspace's recentEngagement signal incrementally as real outcomes
// arrive, rather than a full batch refit; retrieval's calibration
// slope/intercept are not updated through it.
func BoundedUpdate(current, signal, confidence float64, p ControlLawParams) float64 {
	next := current + p.Lambda1*signal - p.Lambda2*(1-confidence)
	if next < 0 {
		next = 0
	}
	if next > 1 {
		next = 1
	}
	return next
}

// MergeWeighted combines an established estimate with a freshly observed
// batch, trusted in proportion to its relative sample size — the same
// shape as the teacher's federated-baseline trust blend
// (μ_merged=(1-w)*μ_local+w*μ_federated), repurposed here from
// cross-node blending to cross-time-window blending: an established
// calibration estimate merged with a freshly observed outcome batch.
func MergeWeighted(established, fresh float64, establishedCount, freshCount int, trustWeight float64) float64 {
	total := establishedCount + freshCount
	if total == 0 {
		return established
	}
	w := trustWeight * (float64(freshCount) / float64(total))
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return (1-w)*established + w*fresh
}
