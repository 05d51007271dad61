package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// -- Perception stub --

// stubPerceiver replays a scripted sequence of capture results and counts
// calls so tests can assert how often perception actually ran.
type stubPerceiver struct {
	mu    sync.Mutex
	calls int
	// capture is invoked with the 1-based call number.
	capture func(call int, ctx context.Context) (Snapshot, error)
}

func (p *stubPerceiver) Capture(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	if p.capture == nil {
		return Snapshot{ID: fmt.Sprintf("snap-%d", call), OCRText: "desktop"}, nil
	}
	return p.capture(call, ctx)
}

func (p *stubPerceiver) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// -- Action port stub --

type stubDriver struct {
	mu    sync.Mutex
	calls []ActionProposal
	// execute is invoked with the 1-based call number.
	execute func(call int, ctx context.Context, proposal ActionProposal) error
}

func (d *stubDriver) Execute(ctx context.Context, proposal ActionProposal) error {
	d.mu.Lock()
	d.calls = append(d.calls, proposal)
	call := len(d.calls)
	d.mu.Unlock()
	if d.execute == nil {
		return nil
	}
	return d.execute(call, ctx, proposal)
}

func (d *stubDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *stubDriver) executed() []ActionProposal {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ActionProposal, len(d.calls))
	copy(out, d.calls)
	return out
}

// -- Reasoning endpoint stub --

type scriptedEndpoint struct {
	name    string
	timeout time.Duration

	mu    sync.Mutex
	calls int
	// infer is invoked with the 1-based call number.
	infer func(call int, ctx context.Context, req ReasoningRequest) (string, error)
}

func (e *scriptedEndpoint) Name() string { return e.name }

func (e *scriptedEndpoint) Timeout() time.Duration {
	if e.timeout == 0 {
		return time.Second
	}
	return e.timeout
}

func (e *scriptedEndpoint) Infer(ctx context.Context, req ReasoningRequest) (string, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	return e.infer(call, ctx, req)
}

func (e *scriptedEndpoint) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// -- Confirmation stub --

type stubConfirmer struct {
	mu    sync.Mutex
	calls int
	await func(ctx context.Context, cycle uint64, proposal ActionProposal) (bool, error)
}

func (c *stubConfirmer) Await(ctx context.Context, cycle uint64, proposal ActionProposal) (bool, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.await == nil {
		return false, ErrConfirmationTimeout
	}
	return c.await(ctx, cycle, proposal)
}

func (c *stubConfirmer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// -- Metrics sink capture --

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memorySink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *memorySink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memorySink) byKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// -- Helpers --

// proposalJSON renders a well-formed model completion for the given action.
func proposalJSON(kind ActionKind, target, rationale string) string {
	return fmt.Sprintf(
		`{"kind": %q, "target": %q, "rationale": %q, "confidence": 0.9}`,
		kind, target, rationale,
	)
}

// concludeJSON renders the goal-satisfied sentinel completion.
func concludeJSON(rationale string) string {
	return fmt.Sprintf(`{"kind": "conclude", "rationale": %q, "confidence": 1.0}`, rationale)
}

// fastConfig returns a RunConfig tuned for tests: real semantics, millisecond
// latencies.
func fastConfig() RunConfig {
	return RunConfig{
		MaxCycles:              20,
		CycleInterval:          time.Millisecond,
		HistoryLimit:           50,
		MaxConsecutiveFailures: 3,
		PerceptionTimeout:      200 * time.Millisecond,
		PerceptionRetries:      2,
		ReasoningRetries:       1,
		RetryBaseDelay:         time.Millisecond,
		ExecutionTimeout:       500 * time.Millisecond,
		ConfirmationWindow:     100 * time.Millisecond,
	}
}
