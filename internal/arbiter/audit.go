package arbiter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// auditViolation is raised when a DecisionFrame fails a determinism or
// bounds check before it is chained (generalized from the teacher's
// ConstitutionalViolation).
type auditViolation struct {
	Reason string
}

func (v *auditViolation) Error() string { return "arbiter audit violation: " + v.Reason }

// auditChain hash-chains each decision to the previous one so that
// Testable Property 7 ("same frame => same decision") can be checked by
// hash equality, not just value equality — ported from
// governance.ConstitutionalKernel.ValidateDecision.
type auditChain struct {
	mu            sync.Mutex
	lastTimestamp time.Time
	lastHash      string
	strict        bool
}

func newAuditChain(strict bool) *auditChain {
	return &auditChain{lastTimestamp: time.Time{}, strict: strict}
}

// chain validates and hash-chains one decision, returning its decision
// hash and the parent hash it was chained to.
func (a *auditChain) chain(spaceID string, ts time.Time, score float64, chosen string, inputs map[string]float64) (hash string, parent string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ts.Before(a.lastTimestamp) {
		return "", "", a.violate(fmt.Sprintf("decision timestamp went backwards: %v < %v", ts, a.lastTimestamp))
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return "", "", a.violate(fmt.Sprintf("score is NaN/Inf: %f", score))
	}
	for k, v := range inputs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", "", a.violate(fmt.Sprintf("input %q is NaN/Inf: %f", k, v))
		}
	}

	canonical := map[string]interface{}{
		"space_id": spaceID,
		"chosen":   chosen,
		"score":    fmt.Sprintf("%.8f", score),
		"ts":       ts.UnixNano(),
		"inputs":   inputs,
	}
	raw, jsonErr := json.Marshal(canonical)
	if jsonErr != nil {
		return "", "", fmt.Errorf("canonicalize decision: %w", jsonErr)
	}
	sum := sha256.Sum256(raw)
	hash = hex.EncodeToString(sum[:])
	parent = a.lastHash

	a.lastHash = hash
	a.lastTimestamp = ts
	return hash, parent, nil
}

func (a *auditChain) violate(reason string) error {
	if a.strict {
		panic("arbiter audit violation in strict mode: " + reason)
	}
	return &auditViolation{Reason: reason}
}
