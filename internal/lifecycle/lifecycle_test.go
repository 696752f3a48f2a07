package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// State machine transitions
// =============================================================================

func TestValidTransitionSequence(t *testing.T) {
	app := New()
	assert.Equal(t, StateValidating, app.State())

	require.NoError(t, app.Advance(StateMounting))
	require.NoError(t, app.Advance(StateInstantiating))
	require.NoError(t, app.Advance(StateInitialized))
	require.NoError(t, app.Advance(StateRunning))
	require.NoError(t, app.Advance(StateDraining))
	require.NoError(t, app.Advance(StateStopped))

	assert.Equal(t, StateStopped, app.State())
}

func TestRejectsInvalidTransition(t *testing.T) {
	app := New()
	err := app.Advance(StateRunning)
	assert.Error(t, err)
	assert.Equal(t, StateValidating, app.State())
}

func TestStoppedIsTerminal(t *testing.T) {
	app := New()
	require.NoError(t, app.Advance(StateStopped))
	assert.Error(t, app.Advance(StateMounting))
}

func TestFailRecordsError(t *testing.T) {
	app := New()
	boom := assert.AnError
	app.Fail(boom)
	assert.Equal(t, StateStopped, app.State())
	assert.Equal(t, boom, app.Err())
}

// =============================================================================
// AcceptEvent / call draining
// =============================================================================

func TestAcceptEventOnlyWhenRunning(t *testing.T) {
	app := New()
	assert.False(t, app.AcceptEvent())

	require.NoError(t, app.Advance(StateMounting))
	require.NoError(t, app.Advance(StateInstantiating))
	require.NoError(t, app.Advance(StateInitialized))
	require.NoError(t, app.Advance(StateRunning))
	assert.True(t, app.AcceptEvent())

	require.NoError(t, app.Advance(StateDraining))
	assert.False(t, app.AcceptEvent())
}

func TestBeginCallRejectedWhenNotRunning(t *testing.T) {
	app := New()
	assert.False(t, app.BeginCall())
	assert.Equal(t, int64(0), app.InFlight())
}

func TestAwaitDrainWaitsForInFlightCalls(t *testing.T) {
	app := New()
	require.NoError(t, app.Advance(StateMounting))
	require.NoError(t, app.Advance(StateInstantiating))
	require.NoError(t, app.Advance(StateInitialized))
	require.NoError(t, app.Advance(StateRunning))

	guard := NewCallGuard(app)
	require.NotNil(t, guard)
	assert.Equal(t, int64(1), app.InFlight())

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- app.AwaitDrain(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	guard.Release()

	require.NoError(t, <-done)
	assert.Equal(t, int64(0), app.InFlight())
}

func TestAwaitDrainTimeoutExpires(t *testing.T) {
	app := New()
	require.NoError(t, app.Advance(StateMounting))
	require.NoError(t, app.Advance(StateInstantiating))
	require.NoError(t, app.Advance(StateInitialized))
	require.NoError(t, app.Advance(StateRunning))

	guard := NewCallGuard(app)
	require.NotNil(t, guard)

	err := app.AwaitDrainTimeout(20 * time.Millisecond)
	assert.Error(t, err)

	guard.Release()
}

func TestCallGuardReleaseIsIdempotent(t *testing.T) {
	app := New()
	require.NoError(t, app.Advance(StateMounting))
	require.NoError(t, app.Advance(StateInstantiating))
	require.NoError(t, app.Advance(StateInitialized))
	require.NoError(t, app.Advance(StateRunning))

	guard := NewCallGuard(app)
	require.NotNil(t, guard)
	guard.Release()
	guard.Release()
	assert.Equal(t, int64(0), app.InFlight())
}
