// internal/llmclient/prompt_test.go
package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

func TestUserPromptRendersGoalHistoryAndScreen(t *testing.T) {
	req := agent.ReasoningRequest{
		Goal: agent.Goal{
			Objective:   "open the quarterly report",
			Constraints: []string{"do not modify any files"},
		},
		History: []agent.CycleRecord{
			{
				Seq:      1,
				Proposal: agent.ActionProposal{Kind: agent.ActionClick, Target: "icon:report.pdf"},
				Decision: agent.SafetyDecision{Verdict: agent.VerdictApproved},
				Result:   &agent.ExecutionResult{Status: agent.ExecFailed, Reason: "element not found"},
			},
		},
		Snapshot: agent.Snapshot{Summary: "file manager with one pdf icon"},
	}

	prompt := UserPrompt(req)
	assert.Contains(t, prompt, "GOAL: open the quarterly report")
	assert.Contains(t, prompt, "CONSTRAINT: do not modify any files")
	assert.Contains(t, prompt, "cycle 1: click")
	assert.Contains(t, prompt, "execution failed (element not found)")
	assert.Contains(t, prompt, "CURRENT SCREEN: file manager with one pdf icon")
}

func TestUserPromptWithoutHistory(t *testing.T) {
	prompt := UserPrompt(agent.ReasoningRequest{
		Goal:     agent.Goal{Objective: "check the inbox"},
		Snapshot: agent.Snapshot{Summary: "empty desktop"},
	})
	assert.NotContains(t, prompt, "RECENT CYCLES")
	assert.Contains(t, prompt, "check the inbox")
}

func TestSystemPromptNamesEveryActionKind(t *testing.T) {
	sys := SystemPrompt()
	for _, kind := range agent.ExecutableKinds() {
		assert.Contains(t, sys, string(kind))
	}
	assert.Contains(t, sys, string(agent.ActionConclude))
}
