// Package bus implements the Event Bus (spec.md §4.3): per-topic
// append-only WAL writers, consumer-group readers with bucketed ordering,
// exponential backoff with jitter, and a dead-letter queue.
//
// The per-record state machine below generalizes the teacher's
// escalation state machine (strictly-increasing, mutex-guarded
// transitions) to a cycle: Nacked can return to Pending for retry, which
// the teacher's original ladder never allowed.
package bus

import "sync"

// RecordState is the lifecycle state of one dispatched bus record.
type RecordState uint8

const (
	StatePending RecordState = iota
	StateInFlight
	StateAcked
	StateNacked
	StateDLQ
)

func (s RecordState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateAcked:
		return "ACKED"
	case StateNacked:
		return "NACKED"
	case StateDLQ:
		return "DLQ"
	default:
		return "UNKNOWN"
	}
}

var validTransitions = map[RecordState]map[RecordState]bool{
	StatePending:  {StateInFlight: true},
	StateInFlight: {StateAcked: true, StateNacked: true},
	StateNacked:   {StatePending: true, StateDLQ: true},
}

// recordStateMachine guards one record's lifecycle transitions.
type recordStateMachine struct {
	mu       sync.Mutex
	current  RecordState
	attempts int
}

func newRecordStateMachine() *recordStateMachine {
	return &recordStateMachine{current: StatePending}
}

// transition moves to target if the edge is legal, returning false
// otherwise (mirroring the teacher's Escalate's (State, bool) shape).
func (m *recordStateMachine) transition(target RecordState) (RecordState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validTransitions[m.current][target] {
		return m.current, false
	}
	m.current = target
	if target == StateInFlight {
		m.attempts++
	}
	return m.current, true
}

func (m *recordStateMachine) state() RecordState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *recordStateMachine) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
