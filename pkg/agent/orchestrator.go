// -- pkg/agent/orchestrator.go --
// The CycleOrchestrator drives one run from goal intake to termination:
// perceive, reason with fallback, safety-check, execute, monitor. It owns
// RunState exclusively; every other component sees read-only copies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RunConfig is the fixed set of named options accepted by the run control
// surface. Zero values are replaced by defaults in normalized().
type RunConfig struct {
	// MaxCycles is the iteration ceiling for one run.
	MaxCycles int
	// WallClock is the elapsed-time ceiling; zero disables it.
	WallClock time.Duration
	// CycleInterval is the minimum pause between consecutive cycles.
	CycleInterval time.Duration
	// HistoryLimit bounds CycleHistory length.
	HistoryLimit int
	// MaxConsecutiveFailures pauses the run once the global failure streak
	// reaches this count.
	MaxConsecutiveFailures int
	// PerceptionTimeout bounds a single capture attempt.
	PerceptionTimeout time.Duration
	// PerceptionRetries is the number of capture attempts per cycle.
	PerceptionRetries int
	// ReasoningRetries is the number of full fallback-chain invocations
	// per cycle before the cycle counts as failed.
	ReasoningRetries int
	// RetryBaseDelay seeds the linearly increasing delay between retries.
	RetryBaseDelay time.Duration
	// ExecutionTimeout bounds a single action execution.
	ExecutionTimeout time.Duration
	// ConfirmationWindow bounds the wait for an operator ruling on a
	// level-3 proposal. Elapsing without a response means denial.
	ConfirmationWindow time.Duration
}

func (c RunConfig) normalized() RunConfig {
	if c.MaxCycles <= 0 {
		c.MaxCycles = 25
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.PerceptionTimeout <= 0 {
		c.PerceptionTimeout = 10 * time.Second
	}
	if c.PerceptionRetries <= 0 {
		c.PerceptionRetries = 3
	}
	if c.ReasoningRetries <= 0 {
		c.ReasoningRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30 * time.Second
	}
	if c.ConfirmationWindow <= 0 {
		c.ConfirmationWindow = 30 * time.Second
	}
	return c
}

// Deps bundles the collaborators injected into an orchestrator.
type Deps struct {
	Logger    *zap.Logger
	Perceiver PerceptionPort
	Driver    ActionPort
	Gateway   *ModelGateway
	Gate      *SafetyGate
	// Confirmer may be nil, in which case every pending-confirmation
	// proposal is denied when the window elapses.
	Confirmer ConfirmationSource
	// Sink may be nil (events discarded).
	Sink Sink
	// Stop may be nil; a fresh signal is created for the run.
	Stop *StopSignal
}

// Orchestrator is the run handle returned by New. One orchestrator drives
// exactly one goal; cycles are strictly sequential.
type Orchestrator struct {
	cfg       RunConfig
	logger    *zap.Logger
	perceiver PerceptionPort
	driver    ActionPort
	gateway   *ModelGateway
	gate      *SafetyGate
	confirmer ConfirmationSource
	sink      Sink
	stop      *StopSignal
	limiter   *rate.Limiter

	goal  Goal
	runID string

	// mu guards the fields below for Status() readers. The orchestrator
	// goroutine is the only writer.
	mu        sync.RWMutex
	phase     Phase
	cycle     uint64
	failures  int
	history   *History
	running   bool
	terminal  bool
	startedAt time.Time

	// carried holds the snapshot of a cycle whose execution failed, so the
	// next cycle re-enters Reasoning with fresh history instead of blindly
	// repeating the failed action against a stale perception step.
	carried *Snapshot
}

// New creates a run handle for the goal. Dependencies other than Confirmer,
// Sink and Stop are required.
func New(cfg RunConfig, goal Goal, deps Deps) (*Orchestrator, error) {
	if deps.Logger == nil || deps.Perceiver == nil || deps.Driver == nil ||
		deps.Gateway == nil || deps.Gate == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if goal.Objective == "" {
		return nil, fmt.Errorf("goal objective must not be empty")
	}
	cfg = cfg.normalized()
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Stop == nil {
		deps.Stop = NewStopSignal()
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if goal.StartedAt.IsZero() {
		goal.StartedAt = time.Now().UTC()
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    deps.Logger.Named("orchestrator"),
		perceiver: deps.Perceiver,
		driver:    deps.Driver,
		gateway:   deps.Gateway,
		gate:      deps.Gate,
		confirmer: deps.Confirmer,
		sink:      deps.Sink,
		stop:      deps.Stop,
		limiter:   rate.NewLimiter(rate.Every(cfg.CycleInterval), 1),
		goal:      goal,
		runID:     uuid.NewString(),
		phase:     PhaseIdle,
		history:   NewHistory(cfg.HistoryLimit),
	}, nil
}

// Stop returns the run's emergency signal so external triggers (hotkey
// listeners, OS signal handlers) can raise it.
func (o *Orchestrator) Stop() *StopSignal { return o.stop }

// RunID returns the identifier stamped on every event of this run.
func (o *Orchestrator) RunID() string { return o.runID }

// Status returns a read-only snapshot of the run state.
func (o *Orchestrator) Status() RunStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return RunStatus{
		RunID:               o.runID,
		Phase:               o.phase,
		Cycle:               o.cycle,
		ConsecutiveFailures: o.failures,
		Emergency:           o.stop.Triggered(),
		HistoryLen:          o.history.Len(),
	}
}

// History returns a copy of the run's cycle history, oldest first.
func (o *Orchestrator) History() []CycleRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.history.Records()
}

// Run executes cycles until the goal is satisfied, a budget is exceeded, the
// emergency signal fires, or the failure streak pauses the run. A paused run
// keeps its state; calling Run again resumes it with the failure streak
// cleared. Run never panics on collaborator failure.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return RunReport{}, fmt.Errorf("run %s is already active", o.runID)
	}
	if o.terminal {
		o.mu.Unlock()
		return RunReport{}, fmt.Errorf("run %s has already terminated", o.runID)
	}
	o.running = true
	resuming := o.phase == PhasePaused
	if o.startedAt.IsZero() {
		o.startedAt = time.Now()
	}
	o.failures = 0
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	if resuming {
		o.logger.Info("Resuming paused run",
			zap.String("run_id", o.runID),
			zap.Uint64("cycle", o.cycle),
		)
	} else {
		o.logger.Info("Starting run",
			zap.String("run_id", o.runID),
			zap.String("objective", o.goal.Objective),
			zap.Int("max_cycles", o.cfg.MaxCycles),
		)
	}

	for {
		if o.stop.Triggered() {
			return o.finish(RunEmergencyStop, "emergency stop raised"), nil
		}
		if err := ctx.Err(); err != nil {
			return o.finish(RunAborted, err.Error()), err
		}
		if int(o.cycle) >= o.cfg.MaxCycles {
			return o.finish(RunBudgetExceeded, fmt.Sprintf("max cycles (%d) reached", o.cfg.MaxCycles)), nil
		}
		if o.cfg.WallClock > 0 && time.Since(o.startedAt) > o.cfg.WallClock {
			return o.finish(RunBudgetExceeded, fmt.Sprintf("wall clock ceiling (%s) exceeded", o.cfg.WallClock)), nil
		}

		if err := o.pace(ctx); err != nil {
			if o.stop.Triggered() {
				return o.finish(RunEmergencyStop, "emergency stop raised"), nil
			}
			return o.finish(RunAborted, err.Error()), err
		}

		o.mu.Lock()
		o.cycle++
		seq := o.cycle
		o.mu.Unlock()

		switch outcome := o.runCycle(ctx, seq); outcome {
		case cycleConcluded:
			return o.finish(RunGoalSatisfied, "reasoning model reported goal satisfied"), nil
		case cycleCancelled:
			return o.finish(RunEmergencyStop, "emergency stop raised"), nil
		case cycleAborted:
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			return o.finish(RunAborted, err.Error()), err
		case cycleSucceeded:
			o.setFailures(0)
		case cycleNoop:
			// Blocked or denied cycles neither extend nor reset the
			// failure streak.
		case cycleFailed:
			streak := o.bumpFailures()
			if streak >= o.cfg.MaxConsecutiveFailures {
				o.setPhase(PhasePaused)
				o.logger.Warn("Consecutive failure threshold reached, pausing run",
					zap.String("run_id", o.runID),
					zap.Int("failures", streak),
				)
				return RunReport{
					RunID:   o.runID,
					Verdict: RunPaused,
					Reason:  fmt.Sprintf("%d consecutive failures", streak),
					Cycles:  seq,
					Elapsed: time.Since(o.startedAt),
				}, nil
			}
		}
		o.setPhase(PhaseIdle)
	}
}

type cycleOutcome int

const (
	cycleSucceeded cycleOutcome = iota
	cycleFailed
	cycleNoop
	cycleConcluded
	cycleCancelled
	cycleAborted
)

// interruptOutcome maps a cancellation error to its terminal outcome. The
// emergency signal takes precedence over a plain context cancellation; only
// the operator-triggered signal may produce an emergency-stop verdict.
func (o *Orchestrator) interruptOutcome(err error) (cycleOutcome, bool) {
	switch {
	case errors.Is(err, ErrRunCancelled) || o.stop.Triggered():
		return cycleCancelled, true
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return cycleAborted, true
	}
	return cycleFailed, false
}

// runCycle performs one perceive/reason/check/execute/monitor pass.
func (o *Orchestrator) runCycle(ctx context.Context, seq uint64) cycleOutcome {
	log := o.logger.With(zap.String("run_id", o.runID), zap.Uint64("cycle", seq))

	// Perceiving. A failed execution in the previous cycle carries its
	// snapshot forward so the model can adapt to the same scene.
	snapshot, err := o.takeOrCarrySnapshot(ctx, seq)
	if err != nil {
		if outcome, interrupted := o.interruptOutcome(err); interrupted {
			return outcome
		}
		log.Warn("Perception failed for cycle", zap.Error(err))
		return cycleFailed
	}

	// Reasoning.
	o.setPhase(PhaseReasoning)
	proposal, err := o.reason(ctx, seq, snapshot)
	if err != nil {
		if outcome, interrupted := o.interruptOutcome(err); interrupted {
			return outcome
		}
		log.Warn("Reasoning exhausted for cycle", zap.Error(err))
		return cycleFailed
	}
	if proposal.Concludes() {
		log.Info("Goal-satisfied sentinel received", zap.String("rationale", proposal.Rationale))
		return cycleConcluded
	}

	// SafetyCheck.
	o.setPhase(PhaseSafetyCheck)
	decision := o.gate.Evaluate(proposal)
	o.recordDecision(seq, proposal, decision)

	var result *ExecutionResult
	switch decision.Verdict {
	case VerdictPendingConfirmation:
		o.setPhase(PhaseAwaitingConfirmation)
		approved, cancelled := o.awaitConfirmation(ctx, seq, proposal)
		if cancelled {
			return cycleCancelled
		}
		if !approved {
			decision = SafetyDecision{
				Verdict: VerdictDenied,
				Level:   decision.Level,
				Reason:  "no operator confirmation within window",
			}
			o.recordDecision(seq, proposal, decision)
			o.setPhase(PhaseBlocked)
		} else {
			decision = SafetyDecision{
				Verdict: VerdictApprovedWithLog,
				Level:   decision.Level,
				Reason:  "operator confirmed",
				Audit:   true,
			}
			o.recordDecision(seq, proposal, decision)
		}
	case VerdictDenied:
		o.setPhase(PhaseBlocked)
	}

	if decision.Approves() {
		// An emergency raised while the gate was deciding must still keep
		// the approved action off the driver.
		if o.stop.Triggered() {
			result = &ExecutionResult{
				Status:    ExecCancelled,
				Reason:    "emergency stop",
				StartedAt: time.Now().UTC(),
			}
		} else {
			if decision.Audit {
				log.Warn("Audit: executing elevated-risk action",
					zap.String("kind", string(proposal.Kind)),
					zap.String("target", proposal.Target),
					zap.String("rationale", proposal.Rationale),
				)
			}
			o.setPhase(PhaseExecuting)
			res := o.execute(ctx, seq, proposal)
			result = &res
		}
	}

	// Monitoring.
	o.setPhase(PhaseMonitoring)
	o.appendRecord(CycleRecord{
		Seq:             seq,
		SnapshotSummary: snapshot.Summarize(),
		Proposal:        proposal,
		Decision:        decision,
		Result:          result,
	})

	outcome := cycleNoop
	if result != nil {
		switch result.Status {
		case ExecSucceeded:
			outcome = cycleSucceeded
		case ExecCancelled:
			outcome = cycleCancelled
		default:
			outcome = cycleFailed
			snap := snapshot
			o.carried = &snap
		}
	}
	o.emit(Event{
		RunID:   o.runID,
		Cycle:   seq,
		Kind:    EventCycleCompleted,
		Outcome: string(decision.Verdict),
	})
	return outcome
}

func (o *Orchestrator) takeOrCarrySnapshot(ctx context.Context, seq uint64) (Snapshot, error) {
	if o.carried != nil {
		snap := *o.carried
		o.carried = nil
		o.logger.Debug("Reusing snapshot from failed execution", zap.Uint64("cycle", seq))
		return snap, nil
	}
	o.setPhase(PhasePerceiving)
	return o.perceive(ctx, seq)
}

// perceive captures a snapshot with bounded retry and increasing delay.
// Every attempt is reported to the metrics sink.
func (o *Orchestrator) perceive(ctx context.Context, seq uint64) (Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.PerceptionRetries; attempt++ {
		if o.stop.Triggered() {
			return Snapshot{}, ErrRunCancelled
		}

		callCtx, cancelWatch := o.stop.Watch(ctx)
		callCtx, cancel := context.WithTimeout(callCtx, o.cfg.PerceptionTimeout)
		start := time.Now()
		snap, err := o.perceiver.Capture(callCtx)
		latency := time.Since(start)
		cancel()
		cancelWatch()

		if o.stop.Triggered() {
			o.emit(Event{RunID: o.runID, Cycle: seq, Kind: EventPerceptionAttempt, Outcome: "cancelled", Latency: latency})
			return Snapshot{}, ErrRunCancelled
		}
		if err == nil {
			if snap.ID == "" {
				snap.ID = uuid.NewString()
			}
			if snap.TakenAt.IsZero() {
				snap.TakenAt = time.Now().UTC()
			}
			o.emit(Event{RunID: o.runID, Cycle: seq, Kind: EventPerceptionAttempt, Outcome: "success", Latency: latency})
			return snap, nil
		}

		lastErr = err
		o.emit(Event{RunID: o.runID, Cycle: seq, Kind: EventPerceptionAttempt, Outcome: "failure", Reason: err.Error(), Latency: latency})
		if attempt < o.cfg.PerceptionRetries {
			if err := o.sleep(ctx, time.Duration(attempt)*o.cfg.RetryBaseDelay); err != nil {
				return Snapshot{}, err
			}
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %v", ErrPerceptionFailure, lastErr)
}

// reason invokes the gateway's fallback chain, retrying a fully exhausted
// chain with increasing delay up to the configured bound.
func (o *Orchestrator) reason(ctx context.Context, seq uint64, snapshot Snapshot) (ActionProposal, error) {
	req := ReasoningRequest{
		Goal:     o.goal,
		History:  o.history.Tail(o.cfg.HistoryLimit),
		Snapshot: snapshot,
	}
	var lastErr error
	for attempt := 1; attempt <= o.cfg.ReasoningRetries; attempt++ {
		proposal, err := o.gateway.Invoke(ctx, o.stop, o.runID, seq, req)
		if err == nil {
			return proposal, nil
		}
		if errors.Is(err, ErrRunCancelled) || o.stop.Triggered() {
			return ActionProposal{}, ErrRunCancelled
		}
		if cerr := ctx.Err(); cerr != nil {
			return ActionProposal{}, cerr
		}
		lastErr = err
		if attempt < o.cfg.ReasoningRetries {
			if err := o.sleep(ctx, time.Duration(attempt)*o.cfg.RetryBaseDelay); err != nil {
				return ActionProposal{}, err
			}
		}
	}
	return ActionProposal{}, fmt.Errorf("%w: %v", ErrReasoningExhausted, lastErr)
}

// awaitConfirmation blocks for the operator's ruling on a level-3 proposal.
// The second return value reports an emergency cancellation.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, seq uint64, proposal ActionProposal) (approved, cancelled bool) {
	if o.confirmer == nil {
		o.logger.Warn("No confirmation source configured, denying proposal",
			zap.String("proposal_id", proposal.ID))
		return false, false
	}

	waitCtx, cancelWatch := o.stop.Watch(ctx)
	waitCtx, cancel := context.WithTimeout(waitCtx, o.cfg.ConfirmationWindow)
	defer cancel()
	defer cancelWatch()

	ok, err := o.confirmer.Await(waitCtx, seq, proposal)
	if o.stop.Triggered() {
		return false, true
	}
	if err != nil {
		// Timeout or source failure is denial, never implicit approval.
		o.logger.Info("Confirmation not delivered, treating as denial",
			zap.Uint64("cycle", seq), zap.Error(err))
		return false, false
	}
	return ok, false
}

// execute submits an approved proposal to the action port and derives the
// ExecutionResult from the port's report and the emergency signal.
func (o *Orchestrator) execute(ctx context.Context, seq uint64, proposal ActionProposal) ExecutionResult {
	callCtx, cancelWatch := o.stop.Watch(ctx)
	callCtx, cancel := context.WithTimeout(callCtx, o.cfg.ExecutionTimeout)
	defer cancel()
	defer cancelWatch()

	start := time.Now()
	err := o.driver.Execute(callCtx, proposal)
	duration := time.Since(start)

	result := ExecutionResult{Status: ExecSucceeded, StartedAt: start.UTC(), Duration: duration}
	switch {
	case o.stop.Triggered():
		result.Status = ExecCancelled
		result.Reason = "emergency stop"
	case err != nil:
		result.Status = ExecFailed
		result.Reason = err.Error()
	}

	o.emit(Event{
		RunID:   o.runID,
		Cycle:   seq,
		Kind:    EventActionAttempt,
		Outcome: string(result.Status),
		Reason:  result.Reason,
		Latency: duration,
	})
	if result.Status == ExecFailed {
		o.logger.Warn("Action execution failed, will re-reason instead of retrying",
			zap.Uint64("cycle", seq),
			zap.String("kind", string(proposal.Kind)),
			zap.String("reason", result.Reason),
		)
	}
	return result
}

func (o *Orchestrator) recordDecision(seq uint64, proposal ActionProposal, decision SafetyDecision) {
	o.emit(Event{
		RunID:   o.runID,
		Cycle:   seq,
		Kind:    EventSafetyDecisionMade,
		Outcome: string(decision.Verdict),
		Reason:  decision.Reason,
	})
	o.logger.Info("Safety decision",
		zap.Uint64("cycle", seq),
		zap.String("kind", string(proposal.Kind)),
		zap.String("verdict", string(decision.Verdict)),
		zap.String("reason", decision.Reason),
	)
}

// finish marks the run terminal and emits RunTerminated exactly once.
func (o *Orchestrator) finish(verdict RunVerdict, reason string) RunReport {
	o.mu.Lock()
	o.phase = PhaseStopped
	o.terminal = true
	cycles := o.cycle
	elapsed := time.Since(o.startedAt)
	o.mu.Unlock()

	o.emit(Event{
		RunID:   o.runID,
		Cycle:   cycles,
		Kind:    EventRunTerminated,
		Outcome: string(verdict),
		Reason:  reason,
	})
	o.logger.Info("Run terminated",
		zap.String("run_id", o.runID),
		zap.String("verdict", string(verdict)),
		zap.String("reason", reason),
		zap.Uint64("cycles", cycles),
		zap.Duration("elapsed", elapsed),
	)
	return RunReport{
		RunID:   o.runID,
		Verdict: verdict,
		Reason:  reason,
		Cycles:  cycles,
		Elapsed: elapsed,
	}
}

// pace enforces the minimum inter-cycle interval, unwinding early on
// emergency or context cancellation.
func (o *Orchestrator) pace(ctx context.Context) error {
	waitCtx, cancel := o.stop.Watch(ctx)
	defer cancel()
	return o.limiter.Wait(waitCtx)
}

// sleep waits for the given delay. It returns ErrRunCancelled when the
// emergency signal interrupted the wait and the context's own error when the
// parent context did, so callers can tell the two apart.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-o.stop.Done():
		return ErrRunCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != phase {
		o.logger.Debug("Phase transition", zap.String("from", string(o.phase)), zap.String("to", string(phase)))
		o.phase = phase
	}
}

func (o *Orchestrator) setFailures(n int) {
	o.mu.Lock()
	o.failures = n
	o.mu.Unlock()
}

func (o *Orchestrator) bumpFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
	return o.failures
}

func (o *Orchestrator) appendRecord(rec CycleRecord) {
	o.mu.Lock()
	o.history.Append(rec)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	o.sink.Record(ev)
}
