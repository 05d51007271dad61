// -- pkg/agent/safety.go --
package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SafetyGate classifies each proposal's risk and decides whether it may
// execute. The risk table is immutable after construction; the default bias
// is always toward inaction over unsafe action.
type SafetyGate struct {
	logger   *zap.Logger
	table    RiskTable
	denylist []string
}

// NewSafetyGate validates the risk table (totality, range) and lowercases
// the denylist once up front. A partial table is a configuration error, not
// something to paper over with defaults.
func NewSafetyGate(logger *zap.Logger, table RiskTable, denylist []string) (*SafetyGate, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk table: %w", err)
	}
	terms := make([]string, 0, len(denylist))
	for _, term := range denylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			terms = append(terms, term)
		}
	}
	return &SafetyGate{
		logger:   logger.Named("safety_gate"),
		table:    table,
		denylist: terms,
	}, nil
}

// Evaluate rules on one proposal. A denylist match in the rationale, target
// or payload text forces denial regardless of risk level; otherwise the
// decision follows the fixed policy table for the kind's risk level. Kinds
// absent from the table are treated as level 3.
func (g *SafetyGate) Evaluate(proposal ActionProposal) SafetyDecision {
	if term, hit := g.matchDenylist(proposal); hit {
		g.logger.Warn("Proposal denied by denylist",
			zap.String("proposal_id", proposal.ID),
			zap.String("kind", string(proposal.Kind)),
			zap.String("term", term),
		)
		return SafetyDecision{
			Verdict: VerdictDenied,
			Level:   g.lookupLevel(proposal.Kind),
			Reason:  fmt.Sprintf("denylist match on %q", term),
		}
	}

	level := g.lookupLevel(proposal.Kind)
	switch level {
	case RiskSafe:
		return SafetyDecision{Verdict: VerdictApproved, Level: level, Reason: "risk level 0"}
	case RiskLow:
		return SafetyDecision{Verdict: VerdictApprovedWithLog, Level: level, Reason: "risk level 1"}
	case RiskMedium:
		return SafetyDecision{Verdict: VerdictApprovedWithLog, Level: level, Reason: "risk level 2", Audit: true}
	default:
		return SafetyDecision{
			Verdict: VerdictPendingConfirmation,
			Level:   level,
			Reason:  fmt.Sprintf("risk level %d requires operator confirmation", level),
		}
	}
}

// lookupLevel resolves the kind's configured level. Unknown kinds escalate
// to RiskConfirm rather than defaulting to a permissive level.
func (g *SafetyGate) lookupLevel(kind ActionKind) RiskLevel {
	if level, ok := g.table[kind]; ok {
		return level
	}
	g.logger.Warn("Action kind missing from risk table, escalating", zap.String("kind", string(kind)))
	return RiskConfirm
}

func (g *SafetyGate) matchDenylist(proposal ActionProposal) (string, bool) {
	haystack := strings.ToLower(proposal.Rationale + "\n" + proposal.Target + "\n" + proposal.Text)
	for _, term := range g.denylist {
		if strings.Contains(haystack, term) {
			return term, true
		}
	}
	return "", false
}

// DefaultDenylist mirrors the stock sensitive-term list shipped in the
// default configuration. Exposed so tests and embedders do not have to
// restate it.
func DefaultDenylist() []string {
	return []string{
		"password",
		"credit card",
		"delete",
		"format",
		"sudo",
		"admin",
		"system32",
		"registry",
		"rm -rf",
		"del /f",
		"format c:",
	}
}

// DefaultRiskTable returns the stock kind-to-level mapping used when the
// configuration does not override safety.risk_levels.
func DefaultRiskTable() RiskTable {
	return RiskTable{
		ActionClick:         RiskSafe,
		ActionDoubleClick:   RiskSafe,
		ActionMove:          RiskSafe,
		ActionScroll:        RiskSafe,
		ActionType:          RiskLow,
		ActionKeyPress:      RiskLow,
		ActionDrag:          RiskLow,
		ActionFileOperation: RiskConfirm,
		ActionSystemCommand: RiskConfirm,
		ActionPasswordEntry: RiskConfirm,
	}
}
