package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIngestLimiter(t *testing.T) {
	now := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
	l := NewIngestLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst spent")
	assert.True(t, l.Allow("b"), "callers have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "refilled after a second")
	assert.Equal(t, 2, l.Callers())

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, l.Allow("c"))
	assert.Equal(t, 1, l.Callers(), "idle callers are swept")
}

func TestIngestLimiter_Disabled(t *testing.T) {
	l := NewIngestLimiter(0, 0)
	assert.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.Zero(t, l.Callers())
}
