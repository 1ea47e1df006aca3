package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(3, 2).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("s1"))
	}
	assert.False(t, l.Allow("s1"))
	assert.True(t, l.Allow("s2"), "keys are independent")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("s1"))
	assert.False(t, l.Allow("s1"))

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("s1"))
	}
	assert.False(t, l.Allow("s1"), "refill is capped at capacity")
}

func TestLimiterSweepAndForget(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(1, 1).WithClock(func() time.Time { return now })

	l.Allow("old")
	now = now.Add(10 * time.Minute)
	l.Allow("new")

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.Equal(t, 1, l.Len())

	l.Forget("new")
	assert.Equal(t, 0, l.Len())
}
