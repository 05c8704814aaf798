// Package envelope defines the wire-level event types that cross the
// Event Bus: the canonical envelope, the topic set, and the Band ordering.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Band is the total-order sensitivity/urgency tag carried by every episode
// and envelope. Comparison is plain integer ordering: GREEN < AMBER < RED <
// BLACK.
type Band uint8

const (
	BandGreen Band = iota
	BandAmber
	BandRed
	BandBlack
)

func (b Band) String() string {
	switch b {
	case BandGreen:
		return "GREEN"
	case BandAmber:
		return "AMBER"
	case BandRed:
		return "RED"
	case BandBlack:
		return "BLACK"
	default:
		return "UNKNOWN"
	}
}

func (b Band) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Band) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	band, err := ParseBand(s)
	if err != nil {
		return err
	}
	*b = band
	return nil
}

// ParseBand parses a band name (GREEN/AMBER/RED/BLACK) into its Band
// value, used by both the wire codec and config validation.
func ParseBand(s string) (Band, error) {
	switch s {
	case "GREEN":
		return BandGreen, nil
	case "AMBER":
		return BandAmber, nil
	case "RED":
		return BandRed, nil
	case "BLACK":
		return BandBlack, nil
	default:
		return 0, fmt.Errorf("envelope: unknown band %q", s)
	}
}

// Obligation is a closed set of handling requirements attached to an
// envelope (spec data model §3).
type Obligation string

const (
	ObligationTombstoneOnDelete Obligation = "TOMBSTONE_ON_DELETE"
	ObligationAuditAccess       Obligation = "AUDIT_ACCESS"
	ObligationNoExternalShare   Obligation = "NO_EXTERNAL_SHARE"
)

// ActorRef identifies the originator of an event — a family member, a
// capability, or the core itself.
type ActorRef struct {
	Kind string `json:"kind"` // "member" | "capability" | "system"
	ID   string `json:"id"`
}

// Envelope is the canonical shape for every message on the bus. Handlers
// never see a bare map; concrete topics decode Payload into their own type.
type Envelope struct {
	EventID      ulid.ULID         `json:"event_id"`
	Topic        Topic             `json:"topic"`
	SpaceID      string            `json:"space_id"`
	Actor        ActorRef          `json:"actor"`
	Band         Band              `json:"band"`
	Obligations  []Obligation      `json:"obligations,omitempty"`
	MLSGroup     string            `json:"mls_group,omitempty"`
	TraceID      string            `json:"trace_id"`
	Timestamp    time.Time         `json:"timestamp"`
	PayloadSHA   string            `json:"payload_sha256"`
	Payload      json.RawMessage   `json:"payload"`
	QoS          QoS               `json:"qos"`
}

// QoS carries the per-envelope latency budget used to derive consumer
// context deadlines.
type QoS struct {
	LatencyBudgetMS int64 `json:"latency_budget_ms"`
}

// Validate enforces the envelope-level invariants from the data model: a
// BLACK envelope without mls_group is rejected (AMBER and RED envelopes
// are accepted without one), payload size is bounded, and obligations
// must come from the closed set.
func (e *Envelope) Validate(maxPayloadBytes int) error {
	if e.SpaceID == "" {
		return fmt.Errorf("envelope: space_id required")
	}
	if e.Topic == "" {
		return fmt.Errorf("envelope: topic required")
	}
	if e.Band == BandBlack && e.MLSGroup == "" {
		return fmt.Errorf("envelope: mls_group required for BLACK band")
	}
	if maxPayloadBytes > 0 && len(e.Payload) > maxPayloadBytes {
		return fmt.Errorf("envelope: payload %d bytes exceeds max %d", len(e.Payload), maxPayloadBytes)
	}
	for _, ob := range e.Obligations {
		switch ob {
		case ObligationTombstoneOnDelete, ObligationAuditAccess, ObligationNoExternalShare:
		default:
			return fmt.Errorf("envelope: unknown obligation %q", ob)
		}
	}
	return nil
}

// HasObligation reports whether the envelope carries the given obligation.
func (e *Envelope) HasObligation(ob Obligation) bool {
	for _, o := range e.Obligations {
		if o == ob {
			return true
		}
	}
	return false
}
