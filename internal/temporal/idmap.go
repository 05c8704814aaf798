package temporal

import "sync"

// IDMap allocates dense uint32 ids for roaring-bitmap indexing, keyed by
// the episode's string (ULID) id. One IDMap per space, held in memory
// alongside the Index and, like it, not persisted.
type IDMap struct {
	mu      sync.Mutex
	toDense map[string]EpisodeID
	toSparse map[EpisodeID]string
	next    EpisodeID
}

func NewIDMap() *IDMap {
	return &IDMap{toDense: make(map[string]EpisodeID), toSparse: make(map[EpisodeID]string)}
}

// Dense returns the dense id for an episode string id, allocating a new
// one if this is the first time it has been seen.
func (m *IDMap) Dense(id string) EpisodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.toDense[id]; ok {
		return d
	}
	d := m.next
	m.next++
	m.toDense[id] = d
	m.toSparse[d] = id
	return d
}

// Sparse returns the string id for a dense id, if known.
func (m *IDMap) Sparse(d EpisodeID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.toSparse[d]
	return s, ok
}
