// internal/llmclient/prompt.go
package llmclient

import (
	"fmt"
	"strings"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// systemPrompt instructs the model to answer with exactly one action as a
// bare JSON object. The schema here must stay in sync with the gateway's
// response parser.
const systemPrompt = `You are a desktop automation agent. You observe the screen and decide the single next action that moves the user's goal forward.

Respond with ONE JSON object and nothing else:
{
  "kind": "<click|double_click|move|type|key_press|scroll|drag|file_operation|system_command|password_entry|conclude>",
  "target": "<what to act on, e.g. 'button:Save' or 'icon:report.pdf'>",
  "text": "<text payload for type/key_press actions, otherwise omit>",
  "rationale": "<one sentence explaining why this action is the right next step>",
  "confidence": <0.0 to 1.0>
}

Rules:
- Propose exactly one action per response.
- If the goal is already achieved, respond with kind "conclude" and say so in the rationale.
- Prefer low-risk actions. Never propose destructive operations unless the goal explicitly requires them.
- If a previous attempt of an action failed, propose a different approach instead of repeating it.`

// SystemPrompt returns the fixed instruction block shared by all endpoints.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the goal, the recent history and the current snapshot
// into the per-cycle prompt body.
func UserPrompt(req agent.ReasoningRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n", req.Goal.Objective)
	for _, constraint := range req.Goal.Constraints {
		fmt.Fprintf(&b, "CONSTRAINT: %s\n", constraint)
	}

	if len(req.History) > 0 {
		b.WriteString("\nRECENT CYCLES (oldest first):\n")
		for _, rec := range req.History {
			fmt.Fprintf(&b, "- cycle %d: %s %q -> %s",
				rec.Seq, rec.Proposal.Kind, rec.Proposal.Target, rec.Decision.Verdict)
			if rec.Result != nil {
				fmt.Fprintf(&b, ", execution %s", rec.Result.Status)
				if rec.Result.Reason != "" {
					fmt.Fprintf(&b, " (%s)", rec.Result.Reason)
				}
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nCURRENT SCREEN: %s\n", req.Snapshot.Summarize())
	b.WriteString("\nPropose the next action as a JSON object.")
	return b.String()
}
