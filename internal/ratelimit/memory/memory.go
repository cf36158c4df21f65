package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

const shardCount = 64

type entry struct {
	log      []time.Time // admitted timestamps, oldest first
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter is an exact sliding-window log limiter. Each key keeps the
// timestamps of its admitted requests; the window boundary is recomputed
// against now on every call, so bursts straddling a boundary are counted
// correctly. Keys are spread over shards so distinct keys rarely contend.
type Limiter struct {
	shards  [shardCount]*shard
	idleTTL time.Duration
}

type Option func(*Limiter)

// WithIdleTTL sets how long an untouched key survives before the janitor
// removes it.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{idleTTL: 10 * time.Minute}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Close() error { return nil }

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Allow prunes the key's log to the trailing window, denies if the quota is
// already met, and otherwise records now and admits. Pruning happens on
// every call, denied ones included; only the append is conditional. The
// whole sequence holds the shard lock, so calls for the same key never
// interleave mid-mutation.
func (l *Limiter) Allow(_ context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	deny := ratelimit.Decision{Allowed: false, Limit: p.Limit}

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &entry{}
		s.entries[key] = ent
	}
	ent.lastSeen = now

	// prune everything at or before the moving window start
	windowStart := now.Add(-p.Window)
	kept := ent.log[:0]
	for _, ts := range ent.log {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	ent.log = kept

	// a zero-width window can never contain a request
	if !p.Valid() {
		if len(ent.log) == 0 {
			delete(s.entries, key)
		}
		return deny, nil
	}

	if len(ent.log) >= p.Limit {
		deny.ResetUnixSec = ent.log[0].Add(p.Window).Unix()
		return deny, nil
	}

	ent.log = append(ent.log, now)
	return ratelimit.Decision{
		Allowed:      true,
		Limit:        p.Limit,
		Remaining:    p.Limit - len(ent.log),
		ResetUnixSec: ent.log[0].Add(p.Window).Unix(),
	}, nil
}

// Keys reports how many keys are currently tracked across all shards.
func (l *Limiter) Keys() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep drops keys that have not been seen within the idle TTL. Empty logs
// are already evicted inline by Allow; the sweep bounds memory for keys
// that simply stop arriving.
func (l *Limiter) Sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for _, s := range l.shards {
		s.mu.Lock()
		for k, ent := range s.entries {
			if ent.lastSeen.Before(cutoff) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// StartJanitor sweeps idle keys on a ticker until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.Sweep(now)
			}
		}
	}()
}
