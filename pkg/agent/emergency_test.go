package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStopSignalTriggerIsIdempotent(t *testing.T) {
	sig := NewStopSignal()
	assert.False(t, sig.Triggered())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.Trigger()
		}()
	}
	wg.Wait()

	assert.True(t, sig.Triggered())
	select {
	case <-sig.Done():
	default:
		t.Fatal("done channel not closed after trigger")
	}

	// Triggering again after the fact must not panic.
	sig.Trigger()
	assert.True(t, sig.Triggered())
}

func TestStopSignalWatchCancelsOnTrigger(t *testing.T) {
	sig := NewStopSignal()
	ctx, cancel := sig.Watch(context.Background())
	defer cancel()

	sig.Trigger()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("watched context not cancelled after trigger")
	}
}

func TestStopSignalWatchReleasesOnCancel(t *testing.T) {
	sig := NewStopSignal()
	ctx, cancel := sig.Watch(context.Background())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("watched context not cancelled after cancel")
	}
	assert.False(t, sig.Triggered())
}

func TestEmergencyMonitorRaisesSignal(t *testing.T) {
	sig := NewStopSignal()
	trigger := make(chan struct{}, 1)
	monitor := NewEmergencyMonitor(zap.NewNop(), sig, trigger)

	done := make(chan error, 1)
	go func() { done <- monitor.Run(context.Background()) }()

	trigger <- struct{}{}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not return after trigger")
	}
	assert.True(t, sig.Triggered())
}

func TestEmergencyMonitorStopsOnContext(t *testing.T) {
	sig := NewStopSignal()
	monitor := NewEmergencyMonitor(zap.NewNop(), sig, make(chan struct{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not return after context cancel")
	}
	assert.False(t, sig.Triggered())
}

func TestEmergencyMonitorIgnoresClosedTriggerSource(t *testing.T) {
	sig := NewStopSignal()
	trigger := make(chan struct{})
	close(trigger)
	monitor := NewEmergencyMonitor(zap.NewNop(), sig, trigger)

	require.NoError(t, monitor.Run(context.Background()))
	assert.False(t, sig.Triggered())
}
