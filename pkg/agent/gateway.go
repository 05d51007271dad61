// -- pkg/agent/gateway.go --
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Models wrap their JSON in prose or fenced blocks often enough that we
// extract the first object rather than trusting the raw completion.
var jsonBlockRegex = regexp.MustCompile("(?s)(?:```json\\s*|)(\\{.*\\})(?:```|)")

// ModelGateway presents an ordered fallback chain of reasoning endpoints as
// a single Invoke call. Endpoints are tried strictly in configured order; a
// timeout, an unavailable endpoint or a malformed response consumes that
// endpoint silently and fallback continues. Only when every endpoint has
// failed does Invoke surface ErrReasoningExhausted.
type ModelGateway struct {
	logger    *zap.Logger
	sink      Sink
	endpoints []ReasoningEndpoint
}

// NewModelGateway builds a gateway over the given chain. At least one
// endpoint is required; a nil sink falls back to NopSink.
func NewModelGateway(logger *zap.Logger, sink Sink, endpoints ...ReasoningEndpoint) (*ModelGateway, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("model gateway requires at least one endpoint")
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &ModelGateway{
		logger:    logger.Named("model_gateway"),
		sink:      sink,
		endpoints: endpoints,
	}, nil
}

// Endpoints returns the configured chain order, for logging and tests.
func (g *ModelGateway) Endpoints() []string {
	names := make([]string, len(g.endpoints))
	for i, ep := range g.endpoints {
		names[i] = ep.Name()
	}
	return names
}

// Invoke runs the fallback chain for one cycle. Every attempt is reported to
// the metrics sink regardless of overall outcome. If the emergency signal
// fires mid-call the in-flight attempt is abandoned and Invoke returns
// ErrRunCancelled immediately instead of waiting out the endpoint timeout.
func (g *ModelGateway) Invoke(ctx context.Context, stop *StopSignal, runID string, cycle uint64, req ReasoningRequest) (ActionProposal, error) {
	for _, ep := range g.endpoints {
		if stop != nil && stop.Triggered() {
			return ActionProposal{}, ErrRunCancelled
		}

		proposal, err := g.tryEndpoint(ctx, stop, ep, runID, cycle, req)
		if err == nil {
			return proposal, nil
		}
		if errors.Is(err, ErrRunCancelled) {
			return ActionProposal{}, ErrRunCancelled
		}
		if ctx.Err() != nil {
			return ActionProposal{}, ctx.Err()
		}
		g.logger.Warn("Endpoint failed, falling through",
			zap.String("endpoint", ep.Name()),
			zap.Uint64("cycle", cycle),
			zap.Error(err),
		)
	}
	return ActionProposal{}, ErrReasoningExhausted
}

func (g *ModelGateway) tryEndpoint(ctx context.Context, stop *StopSignal, ep ReasoningEndpoint, runID string, cycle uint64, req ReasoningRequest) (ActionProposal, error) {
	callCtx := ctx
	cancelWatch := func() {}
	if stop != nil {
		callCtx, cancelWatch = stop.Watch(ctx)
	}
	defer cancelWatch()

	if timeout := ep.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := ep.Infer(callCtx, req)
	latency := time.Since(start)

	if stop != nil && stop.Triggered() {
		g.recordAttempt(runID, cycle, ep.Name(), "cancelled", "emergency stop", latency)
		return ActionProposal{}, ErrRunCancelled
	}
	if err != nil {
		g.recordAttempt(runID, cycle, ep.Name(), "failure", err.Error(), latency)
		return ActionProposal{}, fmt.Errorf("%w: %s: %v", ErrEndpointUnavailable, ep.Name(), err)
	}

	proposal, err := g.parseProposal(raw)
	if err != nil {
		// A malformed response is a failure of this endpoint, not of the
		// invocation; the caller never sees it.
		g.recordAttempt(runID, cycle, ep.Name(), "malformed", err.Error(), latency)
		return ActionProposal{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, ep.Name(), err)
	}

	proposal.ID = uuid.NewString()
	proposal.RunID = runID
	proposal.Cycle = cycle
	proposal.Endpoint = ep.Name()
	g.recordAttempt(runID, cycle, ep.Name(), "success", "", latency)
	return proposal, nil
}

// proposalWire is the schema endpoints must produce. Kept private so the
// external contract stays a raw string plus this documented shape.
type proposalWire struct {
	Kind       string  `json:"kind"`
	Type       string  `json:"type"` // accepted alias for kind
	Target     string  `json:"target"`
	Text       string  `json:"text"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
	RiskHint   int     `json:"risk_hint"`
}

func (g *ModelGateway) parseProposal(raw string) (ActionProposal, error) {
	raw = strings.TrimSpace(raw)
	candidate := raw
	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		candidate = matches[1]
	}

	var wire proposalWire
	if err := jsonAPI.UnmarshalFromString(candidate, &wire); err != nil {
		return ActionProposal{}, fmt.Errorf("unmarshal: %v", err)
	}

	rawKind := wire.Kind
	if rawKind == "" {
		rawKind = wire.Type
	}
	if rawKind == "" {
		return ActionProposal{}, fmt.Errorf("response missing action kind")
	}
	kind, err := ParseActionKind(rawKind)
	if err != nil {
		return ActionProposal{}, err
	}
	if wire.Confidence < 0 || wire.Confidence > 1 {
		return ActionProposal{}, fmt.Errorf("confidence %v outside [0,1]", wire.Confidence)
	}
	if kind != ActionConclude && wire.Rationale == "" {
		return ActionProposal{}, fmt.Errorf("response missing rationale")
	}

	hint := RiskLevel(wire.RiskHint)
	if !hint.Valid() {
		hint = RiskSafe
	}
	return ActionProposal{
		Kind:       kind,
		Target:     wire.Target,
		Text:       wire.Text,
		Rationale:  wire.Rationale,
		Confidence: wire.Confidence,
		RiskHint:   hint,
	}, nil
}

func (g *ModelGateway) recordAttempt(runID string, cycle uint64, endpoint, outcome, reason string, latency time.Duration) {
	g.sink.Record(Event{
		ID:       uuid.NewString(),
		RunID:    runID,
		Cycle:    cycle,
		Kind:     EventModelAttempt,
		At:       time.Now().UTC(),
		Endpoint: endpoint,
		Outcome:  outcome,
		Reason:   reason,
		Latency:  latency,
	})
}
