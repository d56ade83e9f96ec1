package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackend = errors.New("backend unavailable")

func failing(context.Context) error { return errBackend }
func succeeding(context.Context) error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	b := New("test")

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, DefaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, DefaultResetTimeout, b.resetTimeout)
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := New("test")

	err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("test", WithFailureThreshold(2))

	err := b.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateClosed, b.State(), "one failure below threshold stays closed")

	err = b.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, b.State(), "threshold failure opens the circuit")
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithResetTimeout(time.Minute), WithClock(clock.Now))

	require.Error(t, b.Execute(context.Background(), failing))
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "open breaker must not invoke the operation")
}

func TestBreaker_OperationErrorReturnedUntouched(t *testing.T) {
	b := New("test")

	err := b.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, errBackend)
	assert.NotErrorIs(t, err, ErrOpen)
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithResetTimeout(time.Minute), WithClock(clock.Now))

	require.Error(t, b.Execute(context.Background(), failing))
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	err := b.Execute(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrOpen, "cool-down not yet elapsed")

	clock.Advance(2 * time.Second)
	err = b.Execute(context.Background(), succeeding)
	require.NoError(t, err, "probe should run after the reset timeout")
	assert.Equal(t, StateHalfOpen, b.State(), "one probe success is not enough to close")
}

func TestBreaker_TwoProbeSuccessesClose(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithResetTimeout(time.Minute), WithClock(clock.Now))

	require.Error(t, b.Execute(context.Background(), failing))
	clock.Advance(61 * time.Second)

	require.NoError(t, b.Execute(context.Background(), succeeding))
	require.NoError(t, b.Execute(context.Background(), succeeding))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().FailureCount, "closing resets the failure count")
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithResetTimeout(time.Minute), WithClock(clock.Now))

	require.Error(t, b.Execute(context.Background(), failing))
	clock.Advance(61 * time.Second)

	require.NoError(t, b.Execute(context.Background(), succeeding))
	require.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, b.State(), "a single probe failure reopens immediately")

	// The cool-down restarts from the probe failure.
	err := b.Execute(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessDecrementsFailureCount(t *testing.T) {
	b := New("test", WithFailureThreshold(3))

	require.Error(t, b.Execute(context.Background(), failing))
	require.Error(t, b.Execute(context.Background(), failing))
	assert.Equal(t, 2, b.Snapshot().FailureCount)

	require.NoError(t, b.Execute(context.Background(), succeeding))
	assert.Equal(t, 1, b.Snapshot().FailureCount)

	// The decrement floors at zero.
	require.NoError(t, b.Execute(context.Background(), succeeding))
	require.NoError(t, b.Execute(context.Background(), succeeding))
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}

func TestBreaker_MixedOutcomesNeedSustainedFailures(t *testing.T) {
	b := New("test", WithFailureThreshold(3))

	// Alternating failure/success never accumulates enough failures.
	for i := 0; i < 10; i++ {
		b.Execute(context.Background(), failing)
		b.Execute(context.Background(), succeeding)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Snapshot(t *testing.T) {
	b := New("audit-store", WithFailureThreshold(5))

	require.Error(t, b.Execute(context.Background(), failing))

	snap := b.Snapshot()
	assert.Equal(t, "audit-store", snap.Resource)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 1, snap.FailureCount)
	assert.False(t, snap.LastFailure.IsZero())
}

func TestBreaker_ConcurrentExecute(t *testing.T) {
	b := New("test", WithFailureThreshold(100))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (id+j)%2 == 0 {
					b.Execute(context.Background(), succeeding)
				} else {
					b.Execute(context.Background(), failing)
				}
			}
		}(i)
	}
	wg.Wait()

	// Balanced successes and failures keep the breaker closed.
	assert.Equal(t, StateClosed, b.State())
}
