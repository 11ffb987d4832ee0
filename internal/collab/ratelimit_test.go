package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestSlidingWindowLimiter_Allow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewSlidingWindowLimiter(time.Second, 3)
	limiter.timeNow = clock.Now

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow("k"), "request %d should be admitted", i)
		clock.Advance(10 * time.Millisecond)
	}
	require.False(t, limiter.Allow("k"))

	clock.Advance(time.Second)
	require.True(t, limiter.Allow("k"))
}

func TestSlidingWindowLimiter_RejectionNotRecorded(t *testing.T) {
	clock := newFakeClock()
	limiter := NewSlidingWindowLimiter(time.Second, 1)
	limiter.timeNow = clock.Now

	require.True(t, limiter.Allow("k"))

	// Hammering while rejected must not push the window forward.
	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Millisecond)
		require.False(t, limiter.Allow("k"))
	}

	clock.Advance(time.Second)
	require.True(t, limiter.Allow("k"))
}

func TestSlidingWindowLimiter_KeysIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewSlidingWindowLimiter(time.Second, 1)
	limiter.timeNow = clock.Now

	require.True(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"))
	require.False(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("b"))
}

func TestSlidingWindowLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter := NewSlidingWindowLimiter(time.Second, 5)
	limiter.timeNow = clock.Now

	require.True(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"))
	require.Equal(t, 2, limiter.Keys())

	clock.Advance(500 * time.Millisecond)
	require.True(t, limiter.Allow("b"))

	clock.Advance(700 * time.Millisecond)
	limiter.Cleanup()

	// "a" aged out entirely; "b" still has one recent hit.
	require.Equal(t, 1, limiter.Keys())
}
