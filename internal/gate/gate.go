// Package gate sequences rate-limit enforcement ahead of authentication for
// each inbound request. A denied request never reaches the authenticator, so
// credential brute-forcing is throttled before it can amplify.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

var (
	// ErrRateLimited means the key reached its quota; the caller may retry
	// after waiting.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAuthFailed means the request was admitted but the authenticator
	// declined it. The consumed quota is not refunded.
	ErrAuthFailed = errors.New("authentication failed")
)

// Identity is whatever the authenticator vouches for, typically a key ID.
type Identity struct {
	KeyID string
}

// Authenticator verifies a request's credentials. Returning ok=false means
// no identity could be established; the gate does not interpret credentials
// itself.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, bool)
}

// KeyFunc derives the rate-limit key for a request (client IP, API key, ...).
// It must be pure: same request, same key.
type KeyFunc func(r *http.Request) string

// Gate gates requests: derive key, consult the limiter, and only then hand
// the request to the authenticator.
type Gate struct {
	lim  ratelimit.Limiter
	auth Authenticator
	now  func() time.Time
}

func New(lim ratelimit.Limiter, auth Authenticator) *Gate {
	return &Gate{lim: lim, auth: auth, now: time.Now}
}

// Admit applies the policy to the key keyFn derives and, on admission,
// invokes the authenticator. The returned Decision is valid even on error so
// callers can surface quota headers. Admission is recorded before
// authentication runs and is never rolled back.
func (g *Gate) Admit(ctx context.Context, r *http.Request, keyFn KeyFunc, p ratelimit.Policy) (Identity, ratelimit.Decision, error) {
	key := keyFn(r)

	dec, err := g.lim.Allow(ctx, key, p, g.now())
	if err != nil {
		return Identity{}, dec, fmt.Errorf("rate limiter: %w", err)
	}
	if !dec.Allowed {
		return Identity{}, dec, ErrRateLimited
	}

	id, ok := g.auth.Authenticate(ctx, r)
	if !ok {
		return Identity{}, dec, ErrAuthFailed
	}
	return id, dec, nil
}
