// -- pkg/agent/interfaces.go --
package agent

import (
	"context"
	"time"
)

// PerceptionPort is the collaborator contract for observing the desktop. How
// a snapshot is produced (screen grab, OCR, element detection, vision-model
// description) is opaque to the core; the port either returns a Snapshot or
// an error within the caller's deadline.
type PerceptionPort interface {
	Capture(ctx context.Context) (Snapshot, error)
}

// ActionPort is the collaborator contract for executing an approved action.
// Input injection, file operations and command dispatch live behind this
// interface. A nil error means the action was delivered and succeeded.
type ActionPort interface {
	Execute(ctx context.Context, proposal ActionProposal) error
}

// ReasoningRequest carries everything a reasoning endpoint needs to propose
// the next action: the goal, a bounded slice of recent history, and the
// current snapshot summary.
type ReasoningRequest struct {
	Goal     Goal
	History  []CycleRecord
	Snapshot Snapshot
}

// ReasoningEndpoint is one backing model in the gateway's fallback chain.
// Infer returns the raw model completion; the gateway owns parsing and
// validation, so a concrete endpoint never interprets the response.
type ReasoningEndpoint interface {
	// Name identifies the endpoint in logs and metrics events.
	Name() string
	// Timeout is the per-call latency budget for this endpoint.
	Timeout() time.Duration
	Infer(ctx context.Context, req ReasoningRequest) (string, error)
}

// ConfirmationSource delivers the operator's approve/deny ruling for a
// proposal that the safety gate escalated. Implementations must honor ctx:
// the orchestrator bounds the wait with the configured confirmation window
// and the emergency signal. Returning an error counts as denial.
type ConfirmationSource interface {
	Await(ctx context.Context, cycle uint64, proposal ActionProposal) (bool, error)
}
