// -- pkg/agent/emergency.go --
package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// StopSignal is the run-wide emergency cancellation cell. Exactly one
// instance exists per run; once triggered it never clears. Every suspension
// point (snapshot capture, model call, confirmation wait, action execution)
// selects on Done so an emergency unwinds the run promptly instead of
// waiting out per-phase timeouts.
type StopSignal struct {
	once  sync.Once
	fired atomic.Bool
	done  chan struct{}
}

// NewStopSignal creates an untriggered signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Trigger fires the signal. Safe to call from any goroutine, any number of
// times; only the first call has an effect.
func (s *StopSignal) Trigger() {
	s.once.Do(func() {
		s.fired.Store(true)
		close(s.done)
	})
}

// Triggered reports whether the signal has fired.
func (s *StopSignal) Triggered() bool { return s.fired.Load() }

// Done returns a channel closed when the signal fires.
func (s *StopSignal) Done() <-chan struct{} { return s.done }

// Watch derives a context cancelled as soon as either the parent is done or
// the signal fires. Callers must invoke the returned cancel to release the
// watcher goroutine.
func (s *StopSignal) Watch(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// EmergencyMonitor runs alongside the cycle loop and converts an external
// trigger (operator hotkey, OS signal) into the run's StopSignal.
type EmergencyMonitor struct {
	logger  *zap.Logger
	signal  *StopSignal
	trigger <-chan struct{}
}

// NewEmergencyMonitor wires a trigger source to a stop signal.
func NewEmergencyMonitor(logger *zap.Logger, signal *StopSignal, trigger <-chan struct{}) *EmergencyMonitor {
	return &EmergencyMonitor{
		logger:  logger.Named("emergency_monitor"),
		signal:  signal,
		trigger: trigger,
	}
}

// Run blocks until the trigger fires, the signal is raised elsewhere, or ctx
// is done. It always returns nil; an emergency stop is an expected outcome,
// not an error of the monitor itself.
func (m *EmergencyMonitor) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-m.signal.Done():
		return nil
	case _, ok := <-m.trigger:
		if !ok {
			// Trigger source closed without firing.
			return nil
		}
		m.logger.Warn("Emergency trigger received, raising stop signal")
		m.signal.Trigger()
		return nil
	}
}
