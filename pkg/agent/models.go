// -- pkg/agent/models.go --
package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase represents the orchestrator's position in the cycle state machine.
type Phase string

const (
	PhaseIdle                 Phase = "Idle"
	PhasePerceiving           Phase = "Perceiving"
	PhaseReasoning            Phase = "Reasoning"
	PhaseSafetyCheck          Phase = "SafetyCheck"
	PhaseExecuting            Phase = "Executing"
	PhaseAwaitingConfirmation Phase = "AwaitingConfirmation"
	PhaseBlocked              Phase = "Blocked"
	PhaseMonitoring           Phase = "Monitoring"
	PhasePaused               Phase = "Paused"
	PhaseStopped              Phase = "Stopped"
)

// ActionKind enumerates the closed set of actions the agent may propose.
type ActionKind string

const (
	ActionClick         ActionKind = "click"
	ActionDoubleClick   ActionKind = "double_click"
	ActionMove          ActionKind = "move"
	ActionType          ActionKind = "type"
	ActionKeyPress      ActionKind = "key_press"
	ActionScroll        ActionKind = "scroll"
	ActionDrag          ActionKind = "drag"
	ActionFileOperation ActionKind = "file_operation"
	ActionSystemCommand ActionKind = "system_command"
	ActionPasswordEntry ActionKind = "password_entry"

	// ActionConclude is the goal-satisfied sentinel. It never reaches the
	// safety gate or the action port; the orchestrator terminates the run
	// with a success verdict instead.
	ActionConclude ActionKind = "conclude"
)

// ExecutableKinds returns every kind that can be submitted to an ActionPort,
// sorted for deterministic error messages. ActionConclude is excluded.
func ExecutableKinds() []ActionKind {
	kinds := []ActionKind{
		ActionClick, ActionDoubleClick, ActionMove, ActionType,
		ActionKeyPress, ActionScroll, ActionDrag, ActionFileOperation,
		ActionSystemCommand, ActionPasswordEntry,
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseActionKind normalizes a model-supplied kind string. Models are not
// consistent about casing, so "CLICK" and "click" are the same kind.
func ParseActionKind(raw string) (ActionKind, error) {
	kind := ActionKind(strings.ToLower(strings.TrimSpace(raw)))
	if kind == ActionConclude {
		return kind, nil
	}
	for _, k := range ExecutableKinds() {
		if k == kind {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown action kind %q", raw)
}

// RiskLevel is the ordinal classification driving the safety gate.
type RiskLevel int

const (
	RiskSafe    RiskLevel = 0
	RiskLow     RiskLevel = 1
	RiskMedium  RiskLevel = 2
	RiskConfirm RiskLevel = 3
)

// Valid reports whether the level is within the defined ordinal range.
func (r RiskLevel) Valid() bool { return r >= RiskSafe && r <= RiskConfirm }

// RiskTable maps every executable action kind to a RiskLevel. The mapping is
// configuration, not code, and must be total; a partial table is rejected at
// startup rather than defaulted silently.
type RiskTable map[ActionKind]RiskLevel

// Validate checks the table for totality and in-range levels.
func (t RiskTable) Validate() error {
	var missing []string
	for _, kind := range ExecutableKinds() {
		level, ok := t[kind]
		if !ok {
			missing = append(missing, string(kind))
			continue
		}
		if !level.Valid() {
			return fmt.Errorf("risk level for %q out of range: %d", kind, level)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("risk table is missing entries for: %s", strings.Join(missing, ", "))
	}
	for kind := range t {
		if _, err := ParseActionKind(string(kind)); err != nil {
			return fmt.Errorf("risk table contains unknown kind %q", kind)
		}
	}
	return nil
}

// Goal is the immutable natural-language objective for one run.
type Goal struct {
	ID          string    `json:"id"`
	Objective   string    `json:"objective"`
	Constraints []string  `json:"constraints,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// UIElement is one detected interface element within a Snapshot.
type UIElement struct {
	Label  string `json:"label"`
	Role   string `json:"role,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Snapshot is a single perception result. The orchestrator owns it for the
// cycle that requested it; only the summary survives into history.
type Snapshot struct {
	ID       string      `json:"id"`
	TakenAt  time.Time   `json:"taken_at"`
	ImageRef string      `json:"image_ref,omitempty"`
	OCRText  string      `json:"ocr_text,omitempty"`
	Elements []UIElement `json:"elements,omitempty"`
	Summary  string      `json:"summary,omitempty"`
}

// Summarize produces the compact description retained in CycleHistory and
// sent to reasoning endpoints instead of the full snapshot.
func (s Snapshot) Summarize() string {
	if s.Summary != "" {
		return s.Summary
	}
	labels := make([]string, 0, len(s.Elements))
	for _, el := range s.Elements {
		labels = append(labels, el.Label)
	}
	text := s.OCRText
	const maxText = 280
	if len(text) > maxText {
		text = text[:maxText] + "..."
	}
	return fmt.Sprintf("%d elements [%s]; ocr: %s", len(s.Elements), strings.Join(labels, ", "), text)
}

// ActionProposal is the candidate action produced by a reasoning endpoint,
// exactly one per cycle.
type ActionProposal struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Cycle      uint64     `json:"cycle"`
	Kind       ActionKind `json:"kind"`
	Target     string     `json:"target,omitempty"`
	Text       string     `json:"text,omitempty"`
	Rationale  string     `json:"rationale"`
	Confidence float64    `json:"confidence"`
	RiskHint   RiskLevel  `json:"risk_hint,omitempty"`
	Endpoint   string     `json:"endpoint,omitempty"`
}

// Concludes reports whether the proposal is the goal-satisfied sentinel.
func (p ActionProposal) Concludes() bool { return p.Kind == ActionConclude }

// SafetyVerdict is the outcome class of a safety evaluation.
type SafetyVerdict string

const (
	VerdictApproved            SafetyVerdict = "approved"
	VerdictApprovedWithLog     SafetyVerdict = "approved_with_log"
	VerdictPendingConfirmation SafetyVerdict = "pending_confirmation"
	VerdictDenied              SafetyVerdict = "denied"
)

// SafetyDecision is the gate's ruling on one proposal.
type SafetyDecision struct {
	Verdict SafetyVerdict `json:"verdict"`
	Level   RiskLevel     `json:"level"`
	Reason  string        `json:"reason"`
	// Audit marks decisions that require an audit trail entry (level 2).
	Audit bool `json:"audit,omitempty"`
}

// Approves reports whether the decision permits execution without further
// operator involvement.
func (d SafetyDecision) Approves() bool {
	return d.Verdict == VerdictApproved || d.Verdict == VerdictApprovedWithLog
}

// ExecStatus classifies the outcome of one action execution.
type ExecStatus string

const (
	ExecSucceeded ExecStatus = "succeeded"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

// ExecutionResult records the outcome of submitting an approved proposal to
// the action port. It exists only for approved proposals.
type ExecutionResult struct {
	Status    ExecStatus    `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// CycleRecord is one entry of CycleHistory. Seq is the cycle sequence number,
// strictly increasing within a run.
type CycleRecord struct {
	Seq             uint64           `json:"seq"`
	SnapshotSummary string           `json:"snapshot_summary"`
	Proposal        ActionProposal   `json:"proposal"`
	Decision        SafetyDecision   `json:"decision"`
	Result          *ExecutionResult `json:"result,omitempty"`
}

// RunVerdict is the terminal classification of a finished run.
type RunVerdict string

const (
	RunGoalSatisfied  RunVerdict = "goal_satisfied"
	RunEmergencyStop  RunVerdict = "emergency_stop"
	RunBudgetExceeded RunVerdict = "budget_exceeded"
	RunPaused         RunVerdict = "paused"
	RunAborted        RunVerdict = "aborted"
)

// RunReport summarizes a run after Run returns.
type RunReport struct {
	RunID   string        `json:"run_id"`
	Verdict RunVerdict    `json:"verdict"`
	Reason  string        `json:"reason,omitempty"`
	Cycles  uint64        `json:"cycles"`
	Elapsed time.Duration `json:"elapsed"`
}

// RunStatus is the read-only view of orchestrator state handed to observers.
// The orchestrator is the sole writer of the underlying state.
type RunStatus struct {
	RunID               string `json:"run_id"`
	Phase               Phase  `json:"phase"`
	Cycle               uint64 `json:"cycle"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Emergency           bool   `json:"emergency"`
	HistoryLen          int    `json:"history_len"`
}
