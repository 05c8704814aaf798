// Package idgen provides monotonic per-process ULID generation for
// EventId/ReceiptId/DecisionId, grounded on the oklog/ulid/v2 usage
// observed across the retrieved corpus's manifest set.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source generates monotonically increasing ULIDs safe for concurrent use.
type Source struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSource builds a Source seeded from crypto/rand.
func NewSource() *Source {
	return &Source{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewID returns a new ULID timestamped at t.
func (s *Source) NewID(t time.Time) ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy)
}
