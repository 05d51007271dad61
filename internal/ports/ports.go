// File: internal/ports/ports.go
// Package ports provides the concrete perception, execution and confirmation
// adapters wired into the cycle loop. The shipped adapters are deliberately
// side-effect free: snapshots come from recorded fixtures and actions are
// simulated, which keeps unattended runs harmless while the reasoning and
// safety layers behave exactly as they would against a real desktop.
package ports

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ReplayPerceiver serves snapshots from JSON fixture files, one per capture,
// in lexical filename order. Once the sequence is exhausted it keeps
// returning the final snapshot, as a real screen would keep showing its last
// state. With no fixture directory it serves a single empty-desktop frame.
type ReplayPerceiver struct {
	logger    *zap.Logger
	snapshots []agent.Snapshot

	mu   sync.Mutex
	next int
}

// NewReplayPerceiver loads every *.json file under dir. An empty dir selects
// the built-in single-frame mode.
func NewReplayPerceiver(logger *zap.Logger, dir string) (*ReplayPerceiver, error) {
	p := &ReplayPerceiver{logger: logger.Named("replay_perceiver")}

	if dir == "" {
		p.snapshots = []agent.Snapshot{{
			ID:      "builtin-empty-desktop",
			Summary: "empty desktop, no windows open",
		}}
		return p, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning replay directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("replay directory %q contains no snapshot fixtures", dir)
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot fixture %q: %w", path, err)
		}
		var snap agent.Snapshot
		if err := jsonAPI.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parsing snapshot fixture %q: %w", path, err)
		}
		if snap.ID == "" {
			snap.ID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		p.snapshots = append(p.snapshots, snap)
	}

	p.logger.Info("Loaded snapshot fixtures", zap.String("dir", dir), zap.Int("count", len(p.snapshots)))
	return p, nil
}

// Capture returns the next snapshot in the sequence.
func (p *ReplayPerceiver) Capture(ctx context.Context) (agent.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return agent.Snapshot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snapshots[p.next]
	if p.next < len(p.snapshots)-1 {
		p.next++
	}
	snap.TakenAt = time.Now().UTC()
	return snap, nil
}

// Remaining reports how many unserved fixtures are left, for tests.
func (p *ReplayPerceiver) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots) - 1 - p.next
}

// DryRunDriver logs each approved action instead of injecting input. The
// configured delay simulates execution latency and honors cancellation, so
// an emergency stop interrupts a dry run the same way it would a real one.
type DryRunDriver struct {
	logger *zap.Logger
	delay  time.Duration
}

// NewDryRunDriver creates the driver with the given simulated latency.
func NewDryRunDriver(logger *zap.Logger, delay time.Duration) *DryRunDriver {
	return &DryRunDriver{logger: logger.Named("dryrun_driver"), delay: delay}
}

// Execute validates the proposal kind, waits out the simulated latency and
// reports success.
func (d *DryRunDriver) Execute(ctx context.Context, proposal agent.ActionProposal) error {
	kind, err := agent.ParseActionKind(string(proposal.Kind))
	if err != nil {
		return err
	}
	if kind == agent.ActionConclude {
		return fmt.Errorf("conclude is not an executable action")
	}

	d.logger.Info("DRY RUN: would execute action",
		zap.String("kind", string(kind)),
		zap.String("target", proposal.Target),
		zap.String("rationale", proposal.Rationale),
	)

	if d.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StdinConfirmer asks the operator for a ruling on escalated proposals over
// a terminal. A reader goroutine feeds lines into a channel so Await can
// race the response against the confirmation window.
type StdinConfirmer struct {
	logger *zap.Logger
	out    io.Writer
	lines  chan string
}

// NewStdinConfirmer starts reading rulings from r. Pass os.Stdin and
// os.Stdout for interactive use.
func NewStdinConfirmer(logger *zap.Logger, r io.Reader, out io.Writer) *StdinConfirmer {
	c := &StdinConfirmer{
		logger: logger.Named("confirmer"),
		out:    out,
		lines:  make(chan string),
	}
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			c.lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return c
}

// Await prompts for and reads one ruling. Only an explicit "y" or "yes"
// approves; anything else, end of input, or an expired context denies.
func (c *StdinConfirmer) Await(ctx context.Context, cycle uint64, proposal agent.ActionProposal) (bool, error) {
	fmt.Fprintf(c.out,
		"\n[cycle %d] CONFIRMATION REQUIRED\n  action:    %s\n  target:    %s\n  rationale: %s\nApprove? [y/N]: ",
		cycle, proposal.Kind, proposal.Target, proposal.Rationale,
	)

	select {
	case line, ok := <-c.lines:
		if !ok {
			return false, fmt.Errorf("confirmation input closed")
		}
		answer := strings.ToLower(line)
		return answer == "y" || answer == "yes", nil
	case <-ctx.Done():
		return false, agent.ErrConfirmationTimeout
	}
}
