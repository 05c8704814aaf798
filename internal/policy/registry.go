// Package policy — registry.go
//
// Plugin interface for custom embedding providers and rerankers.
//
// Community/first-party capability plugins register themselves in an
// init() function using RegisterEmbeddingProvider/RegisterReranker.
// Callers look an implementation up by name with GetEmbeddingProvider /
// GetReranker; no config field selects one.
//
// Plugin contract (embedding providers):
//   - Embed/EmbedBatch must be safe for concurrent use.
//   - Dimensions() must return a stable value for the lifetime of the process.
//   - Implementations must not panic; return an error instead.
//
// This registry is the direct descendant of the teacher's contrib
// AnomalyScorer plugin registry, repointed from anomaly scorers at
// hearthcore's retrieval-time capabilities.
package policy

import (
	"fmt"
	"sync"
)

var (
	embeddingMu       sync.RWMutex
	embeddingRegistry = make(map[string]EmbeddingProvider)

	rerankerMu       sync.RWMutex
	rerankerRegistry = make(map[string]Reranker)
)

// RegisterEmbeddingProvider registers a named EmbeddingProvider. Panics if
// the name is already registered — call from init() in plugin packages.
func RegisterEmbeddingProvider(name string, p EmbeddingProvider) {
	embeddingMu.Lock()
	defer embeddingMu.Unlock()
	if _, exists := embeddingRegistry[name]; exists {
		panic(fmt.Sprintf("policy: embedding provider %q already registered", name))
	}
	embeddingRegistry[name] = p
}

// GetEmbeddingProvider returns the registered provider with the given
// name, or an error if none is registered under that name.
func GetEmbeddingProvider(name string) (EmbeddingProvider, error) {
	embeddingMu.RLock()
	defer embeddingMu.RUnlock()
	p, ok := embeddingRegistry[name]
	if !ok {
		return nil, fmt.Errorf("policy: embedding provider %q not registered (available: %v)", name, embeddingNames())
	}
	return p, nil
}

func embeddingNames() []string {
	names := make([]string, 0, len(embeddingRegistry))
	for k := range embeddingRegistry {
		names = append(names, k)
	}
	return names
}

// RegisterReranker registers a named Reranker. Panics on duplicate name.
func RegisterReranker(name string, r Reranker) {
	rerankerMu.Lock()
	defer rerankerMu.Unlock()
	if _, exists := rerankerRegistry[name]; exists {
		panic(fmt.Sprintf("policy: reranker %q already registered", name))
	}
	rerankerRegistry[name] = r
}

// GetReranker returns the registered reranker with the given name.
func GetReranker(name string) (Reranker, error) {
	rerankerMu.RLock()
	defer rerankerMu.RUnlock()
	r, ok := rerankerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("policy: reranker %q not registered (available: %v)", name, rerankerNames())
	}
	return r, nil
}

func rerankerNames() []string {
	names := make([]string, 0, len(rerankerRegistry))
	for k := range rerankerRegistry {
		names = append(names, k)
	}
	return names
}
