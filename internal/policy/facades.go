// Package policy defines the capability facades the core consumes rather
// than reimplements (spec.md §6/C12): policy evaluation, redaction, key
// management, embeddings, and the clock. Each interface ships a
// deterministic default implementation suitable for tests and standalone
// operation.
package policy

import (
	"context"
	"time"
)

// PolicyEvaluator decides whether an actor may perform an operation on a
// space, independent of the arbiter's own risk gate — this is the
// externally-authored rule surface (e.g. parental controls), not
// reimplemented here.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, actorID, spaceID, operation string) (allow bool, reason string, err error)
}

// Redactor strips or masks sensitive content before it is admitted to
// storage or returned to a capability outside the trust boundary.
type Redactor interface {
	Redact(ctx context.Context, text string, tags []string) (string, error)
}

// KeyStore provides per-space symmetric keys for envelope payload
// encryption at rest; the core never generates or stores key material
// itself.
type KeyStore interface {
	Key(ctx context.Context, spaceID, mlsGroup string) ([]byte, error)
}

// EmbeddingProvider computes dense vectors for retrieval's optional
// embedding-backed candidate source. Shape grounded on the
// OperationalDB/LearningDB split's EmbeddingProvider interface.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Reranker is the optional bounded cross-encoder adapter consulted in
// retrieval step 7, only when budget and config allow it.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidateIDs []string, candidateTexts []string) ([]float64, error)
}

// Clock is the single source of "now" inside one process; no cross-device
// clock reconciliation is attempted (spec.md treats the core as a single
// on-device process).
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// NoopPolicyEvaluator allows everything — the default for standalone
// operation and tests.
type NoopPolicyEvaluator struct{}

func (NoopPolicyEvaluator) Evaluate(context.Context, string, string, string) (bool, string, error) {
	return true, "no policy evaluator configured", nil
}

// NoopRedactor passes text through unchanged.
type NoopRedactor struct{}

func (NoopRedactor) Redact(_ context.Context, text string, _ []string) (string, error) {
	return text, nil
}

// StaticKeyStore returns a fixed key regardless of space/group. Only
// suitable for tests and local-only operation without a real key
// management capability.
type StaticKeyStore struct{ Key_ []byte }

func (s StaticKeyStore) Key(context.Context, string, string) ([]byte, error) {
	return s.Key_, nil
}
