package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(&Config{
		Name:        "stockx",
		MaxFailures: 3,
		Cooldown:    30 * time.Second,
		Now:         clock.Now,
	})
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 2; i++ {
		err := b.Execute(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Execute(func() error { return nil }))
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errBoom })
	}

	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return errBoom })
	require.NoError(t, b.Execute(func() error { return nil }))
	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return errBoom })

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errBoom })
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(31 * time.Second)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errBoom })
	}
	clock.Advance(31 * time.Second)

	err := b.Execute(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	// Cooldown restarts from the failed probe.
	err = b.Execute(func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_HalfOpenBoundsProbeCalls(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errBoom })
	}
	clock.Advance(31 * time.Second)

	// First probe admitted, concurrent second call rejected.
	require.NoError(t, b.allow())
	require.ErrorIs(t, b.allow(), ErrCircuitOpen)
}
