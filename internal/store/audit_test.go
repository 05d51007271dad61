// File: internal/store/audit_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

func newTestStore(t *testing.T) *AuditStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	store, err := NewAuditStore(zap.NewNop(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(runID string, cycle uint64, kind agent.EventKind, outcome string) agent.Event {
	return agent.Event{
		ID:      uuid.NewString(),
		RunID:   runID,
		Cycle:   cycle,
		Kind:    kind,
		At:      time.Now().UTC(),
		Outcome: outcome,
		Latency: 42 * time.Millisecond,
	}
}

func TestAuditStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	runID := uuid.NewString()

	store.Record(testEvent(runID, 1, agent.EventModelAttempt, "success"))
	store.Record(testEvent(runID, 1, agent.EventSafetyDecisionMade, "approved"))
	store.Record(testEvent(runID, 2, agent.EventActionAttempt, "failed"))
	// An event from an unrelated run must stay out of the result.
	store.Record(testEvent(uuid.NewString(), 1, agent.EventModelAttempt, "success"))

	events, err := store.EventsForRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, uint64(1), events[0].Cycle)
	assert.Equal(t, uint64(2), events[2].Cycle)
	assert.Equal(t, agent.EventActionAttempt, events[2].Kind)
	assert.Equal(t, "failed", events[2].Outcome)
	assert.Equal(t, 42*time.Millisecond, events[2].Latency)
}

func TestAuditStoreCountByKind(t *testing.T) {
	store := newTestStore(t)
	runID := uuid.NewString()

	store.Record(testEvent(runID, 1, agent.EventModelAttempt, "failure"))
	store.Record(testEvent(runID, 1, agent.EventModelAttempt, "success"))
	store.Record(testEvent(runID, 1, agent.EventCycleCompleted, "approved"))

	counts, err := store.CountByKind(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[agent.EventModelAttempt])
	assert.Equal(t, 1, counts[agent.EventCycleCompleted])
}

func TestAuditStoreDuplicateIDIsIgnored(t *testing.T) {
	store := newTestStore(t)
	runID := uuid.NewString()

	ev := testEvent(runID, 1, agent.EventRunTerminated, "goal_satisfied")
	store.Record(ev)
	store.Record(ev)

	events, err := store.EventsForRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAuditStoreEmptyRun(t *testing.T) {
	store := newTestStore(t)

	events, err := store.EventsForRun(context.Background(), "missing-run")
	require.NoError(t, err)
	assert.Empty(t, events)
}
