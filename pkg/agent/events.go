// -- pkg/agent/events.go --
package agent

import "time"

// EventKind identifies one class of metrics event emitted by the core.
type EventKind string

const (
	EventPerceptionAttempt  EventKind = "perception_attempt"
	EventModelAttempt       EventKind = "model_attempt"
	EventSafetyDecisionMade EventKind = "safety_decision_made"
	EventActionAttempt      EventKind = "action_attempt"
	EventCycleCompleted     EventKind = "cycle_completed"
	EventRunTerminated      EventKind = "run_terminated"
)

// Event is the read-only record handed to metrics sinks. Events may arrive
// at a sink out of order relative to each other; Cycle carries the
// originating sequence number so consumers can reconstruct ordering.
type Event struct {
	ID       string        `json:"id"`
	RunID    string        `json:"run_id"`
	Cycle    uint64        `json:"cycle"`
	Kind     EventKind     `json:"kind"`
	At       time.Time     `json:"at"`
	Endpoint string        `json:"endpoint,omitempty"`
	Outcome  string        `json:"outcome,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
}

// Sink receives metrics events. Record is fire-and-forget: implementations
// must never block the caller beyond a bounded enqueue, and must tolerate
// concurrent calls.
type Sink interface {
	Record(ev Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(Event) {}
