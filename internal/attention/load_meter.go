// Package attention implements the attention gate (spec.md §4.6): a
// salience scorer over admission candidates plus an EWMA-tracked load
// signal that feeds the ADMIT/DEFER/DROP decision (BOOST is a separate
// priority flag, not a decision).
package attention

import "sync"

// LoadMeter is an EWMA accumulator tracking current_load from per-group
// queue-depth samples fed by the bus. Adapted from the pressure
// accumulator's P_{t+1} = α*P_t + (1-α)*A_t formula.
type LoadMeter struct {
	mu    sync.Mutex
	alpha float64
	value float64
}

// NewLoadMeter creates a LoadMeter with smoothing factor alpha ∈ [0,1].
func NewLoadMeter(alpha float64) *LoadMeter {
	if alpha < 0.0 || alpha > 1.0 {
		panic("attention.LoadMeter: alpha must be in [0.0, 1.0]")
	}
	return &LoadMeter{alpha: alpha}
}

// Sample applies one EWMA step from an instantaneous queue-depth-derived
// load reading in [0,1].
func (m *LoadMeter) Sample(instant float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = m.alpha*m.value + (1.0-m.alpha)*instant
	return m.value
}

// Value returns the current smoothed load without sampling.
func (m *LoadMeter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Reset zeroes the meter, e.g. after a consumer-group drain completes.
func (m *LoadMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = 0.0
}

// SetAlpha updates the smoothing factor in place, e.g. on config
// hot-reload. Does not affect the currently accumulated value.
func (m *LoadMeter) SetAlpha(alpha float64) {
	if alpha < 0.0 || alpha > 1.0 {
		panic("attention.LoadMeter: alpha must be in [0.0, 1.0]")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alpha = alpha
}
