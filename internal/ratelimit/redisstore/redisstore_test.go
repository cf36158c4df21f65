package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func allow(t *testing.T, l *Limiter, key string, p ratelimit.Policy, now time.Time) ratelimit.Decision {
	t.Helper()
	dec, err := l.Allow(context.Background(), key, p, now)
	require.NoError(t, err)
	return dec
}

func TestAllow_QuotaWithinWindow(t *testing.T) {
	l := newLimiter(t)
	p := ratelimit.Policy{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		dec := allow(t, l, "user", p, base.Add(time.Duration(i)*time.Second))
		assert.True(t, dec.Allowed, "request %d should be admitted", i+1)
	}

	dec := allow(t, l, "user", p, base.Add(3*time.Second))
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
}

func TestAllow_RecoversAfterWindowElapses(t *testing.T) {
	l := newLimiter(t)
	p := ratelimit.Policy{Limit: 3, Window: 60 * time.Second}

	for i := 0; i < 3; i++ {
		require.True(t, allow(t, l, "k1", p, base.Add(time.Duration(i)*time.Second)).Allowed)
	}
	require.False(t, allow(t, l, "k1", p, base.Add(3*time.Second)).Allowed)

	assert.True(t, allow(t, l, "k1", p, base.Add(61*time.Second)).Allowed,
		"the t=0 admission has aged out")
}

func TestAllow_DenialDoesNotConsumeWindow(t *testing.T) {
	l := newLimiter(t)
	p := ratelimit.Policy{Limit: 1, Window: time.Minute}

	require.True(t, allow(t, l, "k", p, base).Allowed)

	// a burst of denied calls must not extend the quota exhaustion
	for i := 1; i <= 5; i++ {
		require.False(t, allow(t, l, "k", p, base.Add(time.Duration(i)*time.Second)).Allowed)
	}

	assert.True(t, allow(t, l, "k", p, base.Add(61*time.Second)).Allowed)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := newLimiter(t)
	p := ratelimit.Policy{Limit: 1, Window: time.Minute}

	require.True(t, allow(t, l, "a", p, base).Allowed)
	require.False(t, allow(t, l, "a", p, base.Add(time.Second)).Allowed)
	assert.True(t, allow(t, l, "b", p, base.Add(time.Second)).Allowed)
}

func TestAllow_InvalidPolicyAlwaysDenies(t *testing.T) {
	l := newLimiter(t)

	assert.False(t, allow(t, l, "k", ratelimit.Policy{Limit: 0, Window: time.Minute}, base).Allowed)
	assert.False(t, allow(t, l, "k", ratelimit.Policy{Limit: 5, Window: 0}, base).Allowed)
}
