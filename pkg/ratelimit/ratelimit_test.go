package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnLimiter_Allow(t *testing.T) {
	rl := NewConnLimiter(2, time.Minute)
	t.Cleanup(rl.Stop)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
	assert.Equal(t, 61, rl.RetryAfterSeconds("1.2.3.4"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("1.2.3.4"))
}

func TestConnLimiter_Disabled(t *testing.T) {
	rl := NewConnLimiter(0, time.Minute)
	t.Cleanup(rl.Stop)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("ip"))
	}
}

func TestFrameLimiter_Cooldown(t *testing.T) {
	rl := NewFrameLimiter(3, time.Second, 5*time.Second)
	t.Cleanup(rl.Stop)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("peer"))
	}
	assert.False(t, rl.Allow("peer"))

	// pencere bitti ama cooldown sürüyor
	now = now.Add(2 * time.Second)
	assert.False(t, rl.Allow("peer"))

	now = now.Add(4 * time.Second)
	assert.True(t, rl.Allow("peer"))

	rl.Forget("peer")
	rl.cleanup()
	assert.Empty(t, rl.buckets)
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ExtractIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ExtractIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.9")
	assert.Equal(t, "10.0.0.3", ExtractIP(r))
}

func TestFormatRetryMessage(t *testing.T) {
	assert.Equal(t, "2 minute(s)", FormatRetryMessage(120))
	assert.Equal(t, "45 second(s)", FormatRetryMessage(45))
}
