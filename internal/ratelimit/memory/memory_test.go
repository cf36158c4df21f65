package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func allow(t *testing.T, l *Limiter, key string, p ratelimit.Policy, now time.Time) ratelimit.Decision {
	t.Helper()
	dec, err := l.Allow(context.Background(), key, p, now)
	require.NoError(t, err)
	return dec
}

func TestAllow_QuotaWithinWindow(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		dec := allow(t, l, "k", p, base.Add(time.Duration(i)*time.Second))
		assert.True(t, dec.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 5-(i+1), dec.Remaining)
	}

	dec := allow(t, l, "k", p, base.Add(5*time.Second))
	assert.False(t, dec.Allowed, "request over quota should be denied")
	assert.Equal(t, 0, dec.Remaining)
}

func TestAllow_RecoversAfterWindowElapses(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 3, Window: 60 * time.Second}

	// t=0,1,2 admitted; t=3 denied; t=61 the t=0 entry has aged out
	for i := 0; i < 3; i++ {
		dec := allow(t, l, "k1", p, base.Add(time.Duration(i)*time.Second))
		require.True(t, dec.Allowed)
	}
	dec := allow(t, l, "k1", p, base.Add(3*time.Second))
	require.False(t, dec.Allowed)

	dec = allow(t, l, "k1", p, base.Add(61*time.Second))
	assert.True(t, dec.Allowed, "quota should recover purely by time")
}

func TestAllow_BurstAcrossWindowBoundary(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 2, Window: 10 * time.Second}

	require.True(t, allow(t, l, "k", p, base.Add(9*time.Second)).Allowed)
	require.True(t, allow(t, l, "k", p, base.Add(10*time.Second)).Allowed)
	// both admissions still inside the trailing 10s at t=11
	assert.False(t, allow(t, l, "k", p, base.Add(11*time.Second)).Allowed)
	// t=9 entry ages out strictly after t=19
	assert.True(t, allow(t, l, "k", p, base.Add(20*time.Second)).Allowed)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 1, Window: time.Minute}

	require.True(t, allow(t, l, "a", p, base).Allowed)
	require.False(t, allow(t, l, "a", p, base.Add(time.Second)).Allowed)

	assert.True(t, allow(t, l, "b", p, base.Add(time.Second)).Allowed,
		"exhausting key a must not affect key b")
}

func TestAllow_InvalidPolicyAlwaysDenies(t *testing.T) {
	l := New()

	dec := allow(t, l, "k", ratelimit.Policy{Limit: 0, Window: time.Minute}, base)
	assert.False(t, dec.Allowed)

	dec = allow(t, l, "k", ratelimit.Policy{Limit: 10, Window: 0}, base)
	assert.False(t, dec.Allowed)

	dec = allow(t, l, "k", ratelimit.Policy{Limit: -1, Window: -time.Second}, base)
	assert.False(t, dec.Allowed)
}

func TestAllow_DenialStillPrunes(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 1, Window: 10 * time.Second}

	require.True(t, allow(t, l, "k", p, base).Allowed)
	require.False(t, allow(t, l, "k", p, base.Add(time.Second)).Allowed)

	// the denied call at t=11 prunes the t=0 entry and admits
	assert.True(t, allow(t, l, "k", p, base.Add(11*time.Second)).Allowed)
}

func TestAllow_ConcurrentExactness(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 7, Window: time.Minute}

	const n = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := l.Allow(context.Background(), "hot", p, time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if dec.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, admitted, "exactly limit admissions regardless of interleaving")
}

func TestSweep_RemovesIdleKeys(t *testing.T) {
	l := New(WithIdleTTL(time.Minute))
	p := ratelimit.Policy{Limit: 1, Window: time.Second}

	require.True(t, allow(t, l, "idle", p, base).Allowed)
	require.Equal(t, 1, l.Keys())

	l.Sweep(base.Add(2 * time.Minute))
	assert.Equal(t, 0, l.Keys())
}

func TestAllow_EmptyLogEvictedInline(t *testing.T) {
	l := New()

	// invalid policy on a fresh key must not leave an entry behind
	_ = allow(t, l, "ghost", ratelimit.Policy{}, base)
	assert.Equal(t, 0, l.Keys())
}

func TestAllow_ResetTracksOldestEntry(t *testing.T) {
	l := New()
	p := ratelimit.Policy{Limit: 2, Window: time.Minute}

	dec := allow(t, l, "k", p, base)
	assert.Equal(t, base.Add(time.Minute).Unix(), dec.ResetUnixSec)

	dec = allow(t, l, "k", p, base.Add(10*time.Second))
	assert.Equal(t, base.Add(time.Minute).Unix(), dec.ResetUnixSec,
		"reset follows the oldest retained admission")
}
