// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voidgazer8/deskpilot-cli/internal/config"
	"github.com/voidgazer8/deskpilot-cli/internal/llmclient"
	"github.com/voidgazer8/deskpilot-cli/internal/metrics"
	"github.com/voidgazer8/deskpilot-cli/internal/observability"
	"github.com/voidgazer8/deskpilot-cli/internal/ports"
	"github.com/voidgazer8/deskpilot-cli/internal/store"
	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

var runFlags struct {
	maxCycles     int
	wallClock     time.Duration
	confirmWindow time.Duration
	replayDir     string
	auditDB       string
	noAudit       bool
	logEvents     bool
}

var runCmd = &cobra.Command{
	Use:   "run \"<goal>\"",
	Short: "Run the agent against a natural-language goal",
	Long: `Run starts one agent run: the goal is pursued cycle by cycle
(perceive, reason, safety-check, execute) until the model reports the goal
satisfied, a budget is exhausted, or the run is stopped.

Press Ctrl-C once for an emergency stop (the run unwinds cleanly and the
in-flight action is cancelled); press it twice to kill the process.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)

		goal := agent.Goal{Objective: strings.TrimSpace(strings.Join(args, " "))}
		return runAgent(cmd.Context(), cfg, goal, cmd)
	},
}

func init() {
	runCmd.Flags().IntVar(&runFlags.maxCycles, "max-cycles", 0, "override the cycle budget")
	runCmd.Flags().DurationVar(&runFlags.wallClock, "wall-clock", 0, "override the elapsed-time ceiling (0 disables)")
	runCmd.Flags().DurationVar(&runFlags.confirmWindow, "confirm-window", 0, "override the operator confirmation window")
	runCmd.Flags().StringVar(&runFlags.replayDir, "replay-dir", "", "directory of snapshot fixtures to perceive from")
	runCmd.Flags().StringVar(&runFlags.auditDB, "audit-db", "", "path of the audit database")
	runCmd.Flags().BoolVar(&runFlags.noAudit, "no-audit", false, "disable the persistent audit store")
	runCmd.Flags().BoolVar(&runFlags.logEvents, "log-events", false, "log every run event")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("max-cycles") {
		cfg.Agent.MaxCycles = runFlags.maxCycles
	}
	if cmd.Flags().Changed("wall-clock") {
		cfg.Agent.WallClock = runFlags.wallClock
	}
	if cmd.Flags().Changed("confirm-window") {
		cfg.Confirmation.Window = runFlags.confirmWindow
	}
	if cmd.Flags().Changed("replay-dir") {
		cfg.Perception.ReplayDir = runFlags.replayDir
	}
	if cmd.Flags().Changed("audit-db") {
		cfg.Audit.DBPath = runFlags.auditDB
	}
	if runFlags.noAudit {
		cfg.Audit.Enabled = false
	}
	if runFlags.logEvents {
		cfg.Metrics.LogEvents = true
	}
}

// buildSink assembles the event pipeline: optional structured log of every
// event, optional persistent audit store, all behind a bounded buffer so the
// cycle loop never blocks on observability.
func buildSink(logger *zap.Logger, cfg *config.Config) (agent.Sink, func(), error) {
	var members metrics.Tee
	var closers []func()

	if cfg.Metrics.LogEvents {
		members = append(members, metrics.NewLogSink(logger))
	}
	if cfg.Audit.Enabled {
		dbPath, err := cfg.AuditDBPath()
		if err != nil {
			return nil, nil, err
		}
		audit, err := store.NewAuditStore(logger, dbPath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { audit.Close() })
		members = append(members, audit)
		logger.Info("Audit store enabled", zap.String("path", dbPath))
	}

	if len(members) == 0 {
		return agent.NopSink{}, func() {}, nil
	}

	buffered := metrics.NewChannelSink(logger, members, cfg.Metrics.BufferSize)
	cleanup := func() {
		buffered.Close()
		for _, closeFn := range closers {
			closeFn()
		}
	}
	return buffered, cleanup, nil
}

func runAgent(parent context.Context, cfg *config.Config, goal agent.Goal, cmd *cobra.Command) error {
	logger := observability.GetLogger()

	sink, closeSink, err := buildSink(logger, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	riskTable, err := cfg.RiskTable()
	if err != nil {
		return err
	}
	gate, err := agent.NewSafetyGate(logger, riskTable, cfg.Safety.Denylist)
	if err != nil {
		return err
	}

	chain, err := llmclient.BuildChain(parent, logger, cfg.Models)
	if err != nil {
		return err
	}
	gateway, err := agent.NewModelGateway(logger, sink, chain...)
	if err != nil {
		return err
	}

	perceiver, err := ports.NewReplayPerceiver(logger, cfg.Perception.ReplayDir)
	if err != nil {
		return err
	}
	if !cfg.Execution.DryRun {
		logger.Warn("No hardware input driver is built in; running in dry-run mode regardless")
	}
	driver := ports.NewDryRunDriver(logger, cfg.Execution.ActionDelay)
	confirmer := ports.NewStdinConfirmer(logger, cmd.InOrStdin(), cmd.OutOrStdout())

	orch, err := agent.New(cfg.RunConfig(), goal, agent.Deps{
		Logger:    logger,
		Perceiver: perceiver,
		Driver:    driver,
		Gateway:   gateway,
		Gate:      gate,
		Confirmer: confirmer,
		Sink:      sink,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// First SIGINT/SIGTERM raises the emergency stop; a second one kills
	// the process outright.
	trigger := make(chan struct{}, 1)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		seen := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				seen++
				if seen == 1 {
					select {
					case trigger <- struct{}{}:
					default:
					}
					continue
				}
				fmt.Fprintln(os.Stderr, "second interrupt, exiting")
				os.Exit(130)
			}
		}
	}()

	monitor := agent.NewEmergencyMonitor(logger, orch.Stop(), trigger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })

	var report agent.RunReport
	g.Go(func() error {
		defer cancel()
		var runErr error
		report, runErr = orch.Run(gctx)
		return runErr
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	printReport(cmd, report, orch.History())
	return nil
}

func printReport(cmd *cobra.Command, report agent.RunReport, history []agent.CycleRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nrun %s finished: %s\n", report.RunID, report.Verdict)
	if report.Reason != "" {
		fmt.Fprintf(out, "  reason:  %s\n", report.Reason)
	}
	fmt.Fprintf(out, "  cycles:  %d\n", report.Cycles)
	fmt.Fprintf(out, "  elapsed: %s\n", report.Elapsed.Round(time.Millisecond))

	if len(history) == 0 {
		return
	}
	fmt.Fprintln(out, "  recent cycles:")
	for _, rec := range history {
		line := fmt.Sprintf("    #%d %s %q -> %s", rec.Seq, rec.Proposal.Kind, rec.Proposal.Target, rec.Decision.Verdict)
		if rec.Result != nil {
			line += fmt.Sprintf(" (%s)", rec.Result.Status)
		}
		fmt.Fprintln(out, line)
	}
	if report.Verdict == agent.RunPaused {
		fmt.Fprintln(out, "run is paused after repeated failures; fix the environment and start again")
	}
}
