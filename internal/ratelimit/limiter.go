package ratelimit

import (
	"context"
	"time"
)

// Policy is a fixed quota over a trailing window. Callers must use a single
// consistent policy per key/use-case; the limiter does not enforce that.
type Policy struct {
	Limit  int           // requests allowed inside the window
	Window time.Duration // trailing window size
}

// Valid reports whether the policy can ever admit a request.
func (p Policy) Valid() bool {
	return p.Limit > 0 && p.Window > 0
}

type Decision struct {
	Allowed      bool
	Limit        int   // configured quota
	Remaining    int   // admissions left in the current window (min 0)
	ResetUnixSec int64 // when the oldest retained admission ages out
}

type Limiter interface {
	Allow(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
	Close() error
}
