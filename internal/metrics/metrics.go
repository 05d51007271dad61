// File: internal/metrics/metrics.go
// Package metrics fans run events out to consumers without ever blocking the
// cycle loop. The core emits events fire-and-forget; everything here is
// bounded and drop-tolerant.
package metrics

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// ChannelSink buffers events on a bounded channel and drains them to a
// downstream sink on its own goroutine. When the buffer is full the oldest
// buffered event is evicted and counted; the producer never waits.
type ChannelSink struct {
	logger     *zap.Logger
	downstream agent.Sink
	events     chan agent.Event
	dropped    atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewChannelSink starts the drain goroutine. Close must be called to stop it
// and flush the remaining buffer.
func NewChannelSink(logger *zap.Logger, downstream agent.Sink, bufferSize int) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &ChannelSink{
		logger:     logger.Named("metrics"),
		downstream: downstream,
		events:     make(chan agent.Event, bufferSize),
		done:       make(chan struct{}),
	}
	go s.drain()
	return s
}

// Record enqueues the event. On overflow the oldest buffered event is
// evicted so the most recent ones survive; eviction is counted in Dropped.
func (s *ChannelSink) Record(ev agent.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.events <- ev:
	default:
		// A concurrent producer refilled the buffer; the new event loses.
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were evicted or discarded due to a full
// buffer.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

// Close stops intake, flushes buffered events to the downstream sink and
// waits for the drain goroutine to exit. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	<-s.done
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("Metrics events dropped due to full buffer", zap.Uint64("count", n))
	}
}

func (s *ChannelSink) drain() {
	defer close(s.done)
	for ev := range s.events {
		s.downstream.Record(ev)
	}
}

// LogSink writes each event as a structured debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging under the "events" component name.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

// Record logs the event. Terminations are promoted to info so they survive
// the default level.
func (s *LogSink) Record(ev agent.Event) {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.Uint64("cycle", ev.Cycle),
		zap.String("kind", string(ev.Kind)),
		zap.String("outcome", ev.Outcome),
	}
	if ev.Endpoint != "" {
		fields = append(fields, zap.String("endpoint", ev.Endpoint))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	if ev.Latency > 0 {
		fields = append(fields, zap.Duration("latency", ev.Latency))
	}

	if ev.Kind == agent.EventRunTerminated {
		s.logger.Info("Run event", fields...)
		return
	}
	s.logger.Debug("Run event", fields...)
}

// Tee duplicates each event to every member sink, in order.
type Tee []agent.Sink

// Record forwards the event to all members.
func (t Tee) Record(ev agent.Event) {
	for _, sink := range t {
		if sink != nil {
			sink.Record(ev)
		}
	}
}
