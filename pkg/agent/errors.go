// -- pkg/agent/errors.go --
package agent

import "errors"

// Failure taxonomy for one run. Per-attempt failures are recovered locally
// and surface only as metrics events; these sentinels mark the escalation
// points callers can branch on with errors.Is.
var (
	// ErrPerceptionFailure wraps a capture timeout or collaborator error.
	ErrPerceptionFailure = errors.New("perception failure")
	// ErrEndpointUnavailable marks a single endpoint as unreachable; the
	// gateway recovers by falling through to the next endpoint.
	ErrEndpointUnavailable = errors.New("model endpoint unavailable")
	// ErrMalformedResponse marks a response that did not parse into a
	// well-formed ActionProposal. Never surfaced to the orchestrator.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrReasoningExhausted means every endpoint in the fallback chain
	// failed for one invocation.
	ErrReasoningExhausted = errors.New("all reasoning endpoints failed")
	// ErrRunCancelled is returned from any suspension point once the
	// emergency signal has fired.
	ErrRunCancelled = errors.New("run cancelled by emergency stop")
	// ErrConfirmationTimeout is recorded when the confirmation window
	// elapses with no operator response. Treated as denial, never approval.
	ErrConfirmationTimeout = errors.New("confirmation window elapsed")
	// ErrExecutionFailure wraps an action port failure report.
	ErrExecutionFailure = errors.New("action execution failed")
)
