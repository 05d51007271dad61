// File: internal/metrics/metrics_test.go
package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collectingSink struct {
	mu     sync.Mutex
	events []agent.Event
}

func (s *collectingSink) Record(ev agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestChannelSinkDeliversInOrder(t *testing.T) {
	downstream := &collectingSink{}
	sink := NewChannelSink(zap.NewNop(), downstream, 16)

	for i := uint64(1); i <= 5; i++ {
		sink.Record(agent.Event{Cycle: i, Kind: agent.EventCycleCompleted})
	}
	sink.Close()

	require.Equal(t, 5, downstream.count())
	downstream.mu.Lock()
	defer downstream.mu.Unlock()
	for i, ev := range downstream.events {
		assert.Equal(t, uint64(i+1), ev.Cycle)
	}
	assert.Zero(t, sink.Dropped())
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	// A downstream that blocks until released keeps the buffer occupied.
	release := make(chan struct{})
	blocked := blockingSink{release: release}
	sink := NewChannelSink(zap.NewNop(), &blocked, 1)

	// First event occupies the drain goroutine, second fills the buffer,
	// the rest must evict older events rather than block.
	blocked.started.Add(1)
	sink.Record(agent.Event{Cycle: 1})
	blocked.started.Wait()
	sink.Record(agent.Event{Cycle: 2})
	sink.Record(agent.Event{Cycle: 3})
	sink.Record(agent.Event{Cycle: 4})

	assert.GreaterOrEqual(t, sink.Dropped(), uint64(1))
	close(release)
	sink.Close()
}

// Overflow evicts the oldest buffered event, not the incoming one, so the
// survivors are always the most recent events.
func TestChannelSinkEvictsOldestOnOverflow(t *testing.T) {
	release := make(chan struct{})
	blocked := blockingSink{release: release}
	sink := NewChannelSink(zap.NewNop(), &blocked, 1)

	blocked.started.Add(1)
	sink.Record(agent.Event{Cycle: 1})
	blocked.started.Wait()
	// Cycle 2 fills the single-slot buffer; cycle 3 must push it out.
	sink.Record(agent.Event{Cycle: 2})
	sink.Record(agent.Event{Cycle: 3})

	close(release)
	sink.Close()

	assert.Equal(t, uint64(1), sink.Dropped())
	seen := blocked.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].Cycle)
	assert.Equal(t, uint64(3), seen[1].Cycle)
}

type blockingSink struct {
	started sync.WaitGroup
	once    sync.Once
	release chan struct{}

	mu     sync.Mutex
	events []agent.Event
}

func (s *blockingSink) Record(ev agent.Event) {
	s.once.Do(s.started.Done)
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *blockingSink) seen() []agent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestChannelSinkCloseIsIdempotent(t *testing.T) {
	sink := NewChannelSink(zap.NewNop(), &collectingSink{}, 4)
	sink.Close()
	sink.Close()

	// Recording after close is a no-op, not a panic.
	sink.Record(agent.Event{Cycle: 1})
}

func TestTeeFansOut(t *testing.T) {
	first := &collectingSink{}
	second := &collectingSink{}
	tee := Tee{first, nil, second}

	tee.Record(agent.Event{Kind: agent.EventModelAttempt})

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestLogSinkDoesNotPanic(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	sink.Record(agent.Event{Kind: agent.EventModelAttempt, Endpoint: "vision", Outcome: "failure", Reason: "timeout"})
	sink.Record(agent.Event{Kind: agent.EventRunTerminated, Outcome: "goal_satisfied"})
}
