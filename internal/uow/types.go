package uow

import (
	"time"

	"github.com/hearthcore/hearthcore/internal/envelope"
)

// Episode is the durable unit of family memory (spec.md §3): an
// immutable fact about something that happened, observed, or was said.
type Episode struct {
	ID         string          `json:"id"`
	SpaceID    string          `json:"space_id"`
	Actor      envelope.ActorRef `json:"actor"`
	Band       envelope.Band   `json:"band"`
	Tags       []string        `json:"tags,omitempty"`
	Content    string          `json:"content"`
	Summary    string          `json:"summary,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DerivedFrom []string       `json:"derived_from,omitempty"`
	Obligations []envelope.Obligation `json:"obligations,omitempty"`
	Tombstoned bool            `json:"tombstoned,omitempty"`
}

// Receipt is the durable proof of a committed write, returned to the
// caller and replayed verbatim on an idempotent retry.
type Receipt struct {
	ID         string    `json:"id"`
	SpaceID    string    `json:"space_id"`
	ActorID    string    `json:"actor_id"`
	EpisodeIDs []string  `json:"episode_ids"`
	CommittedAt time.Time `json:"committed_at"`
}

// OutboxRow is a staged event that must be published to the bus
// at-least-once after the episodic write it accompanies commits.
type OutboxRow struct {
	ID        string          `json:"id"`
	Topic     envelope.Topic  `json:"topic"`
	Payload   []byte          `json:"payload"`
	Published bool            `json:"published"`
	StagedAt  time.Time       `json:"staged_at"`
}
