package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := rl.Take("a")
		assert.True(t, ok)
	}
	ok, wait := rl.Take("a")
	assert.False(t, ok)
	assert.InDelta(t, 30*time.Second, wait, float64(time.Millisecond))

	ok, _ = rl.Take("b")
	assert.True(t, ok, "clients have separate buckets")

	now = now.Add(30 * time.Second)
	ok, _ = rl.Take("a")
	assert.True(t, ok)
	ok, _ = rl.Take("a")
	assert.False(t, ok)
}

func TestIdleClientsArePruned(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }
	rl.pruned.Store(now.UnixNano())

	rl.Take("a")
	rl.Take("b")
	assert.Equal(t, 2, rl.Clients())

	now = now.Add(2 * time.Minute)
	rl.Take("c")
	assert.Equal(t, 1, rl.Clients())
}
