// -- cmd/cmd_test.go --
package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/internal/config"
	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

func TestRunCommandIsRegistered(t *testing.T) {
	var found bool
	for _, c := range rootCmd.Commands() {
		if c.Name() == "run" {
			found = true
		}
	}
	assert.True(t, found, "run command should be attached to the root")
}

func TestApplyRunFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(runCmd.Flags())
	require.NoError(t, cmd.Flags().Set("max-cycles", "9"))
	require.NoError(t, cmd.Flags().Set("wall-clock", "90s"))
	require.NoError(t, cmd.Flags().Set("no-audit", "true"))
	defer func() { runFlags.noAudit = false }()

	cfg := config.NewDefaultConfig()
	applyRunFlags(cmd, cfg)

	assert.Equal(t, 9, cfg.Agent.MaxCycles)
	assert.Equal(t, 90*time.Second, cfg.Agent.WallClock)
	assert.False(t, cfg.Audit.Enabled)
	// Untouched settings keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Confirmation.Window)
}

func TestBuildSinkDisabled(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Audit.Enabled = false
	cfg.Metrics.LogEvents = false

	sink, cleanup, err := buildSink(zap.NewNop(), cfg)
	require.NoError(t, err)
	defer cleanup()

	_, ok := sink.(agent.NopSink)
	assert.True(t, ok, "with audit and event logging off the sink should be a no-op")
}

func TestBuildSinkWithAuditStore(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DBPath = filepath.Join(t.TempDir(), "audit.db")
	cfg.Metrics.LogEvents = false

	sink, cleanup, err := buildSink(zap.NewNop(), cfg)
	require.NoError(t, err)
	require.NotNil(t, sink)

	sink.Record(agent.Event{ID: "ev-1", RunID: "run-1", Kind: agent.EventRunTerminated})
	cleanup()

	assert.FileExists(t, cfg.Audit.DBPath)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	report := agent.RunReport{
		RunID:   "run-42",
		Verdict: agent.RunGoalSatisfied,
		Reason:  "report is open",
		Cycles:  3,
		Elapsed: 1500 * time.Millisecond,
	}
	history := []agent.CycleRecord{
		{
			Seq:      3,
			Proposal: agent.ActionProposal{Kind: agent.ActionDoubleClick, Target: "icon:report.pdf"},
			Decision: agent.SafetyDecision{Verdict: agent.VerdictApproved},
			Result:   &agent.ExecutionResult{Status: agent.ExecSucceeded},
		},
	}
	printReport(cmd, report, history)

	text := out.String()
	assert.Contains(t, text, "run-42")
	assert.Contains(t, text, "goal_satisfied")
	assert.Contains(t, text, "report is open")
	assert.Contains(t, text, "#3 double_click")
}

func TestPrintReportPaused(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	printReport(cmd, agent.RunReport{
		RunID:   "run-7",
		Verdict: agent.RunPaused,
		Reason:  "3 consecutive failures",
		Cycles:  4,
	}, []agent.CycleRecord{{Seq: 4, Proposal: agent.ActionProposal{Kind: agent.ActionClick}}})

	assert.Contains(t, out.String(), "paused after repeated failures")
}
