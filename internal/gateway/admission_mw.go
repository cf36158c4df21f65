package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/veerababumanyam/pulsegate/internal/auth"
	"github.com/veerababumanyam/pulsegate/internal/gate"
	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
	"github.com/veerababumanyam/pulsegate/internal/routing"
)

// Hooks lets the caller observe admission outcomes (metrics, typically)
// without coupling this package to a metrics library.
type Hooks struct {
	OnLimited    func(routeID string)
	OnAuthFailed func(routeID string)
	OnError      func(routeID string)
}

// Admission enforces rate limiting then authentication for every request
// outside skipPaths. A throttled request gets a 429 distinct from the 401
// an unauthenticated one gets, so clients can tell "slow down" from "bad
// credentials". The authenticated key ID is placed in the request context
// for downstream handlers.
func Admission(
	g *gate.Gate,
	keyFn gate.KeyFunc,
	defaultPolicy ratelimit.Policy,
	skipPaths map[string]struct{},
	hooks Hooks,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// ops endpoints bypass the gate
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := keyFn(r)

			rt, _ := routing.RouteFrom(r)
			routeID := "unknown"
			if rt != nil && rt.ID != "" {
				routeID = rt.ID
			}

			// limiter key = routeID:clientKey, so each route's policy
			// class tracks its own window for the same client
			limKey := clientKey
			if rt != nil && rt.ID != "" {
				limKey = rt.ID + ":" + clientKey
			}
			policy := rt.PolicyFor(clientKey, defaultPolicy)

			id, dec, err := g.Admit(r.Context(), r, func(*http.Request) string { return limKey }, policy)

			if dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", itoa(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", itoa(max(dec.Remaining, 0)))
				w.Header().Set("X-RateLimit-Reset", itoa64(dec.ResetUnixSec))
			}

			switch {
			case err == nil:
				ctx := auth.WithKeyID(r.Context(), id.KeyID)
				next.ServeHTTP(w, r.WithContext(ctx))

			case errors.Is(err, gate.ErrRateLimited):
				if hooks.OnLimited != nil {
					hooks.OnLimited(routeID)
				}
				if dec.ResetUnixSec > 0 {
					if wait := dec.ResetUnixSec - time.Now().Unix(); wait > 0 {
						w.Header().Set("Retry-After", itoa64(wait))
					}
				}
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")

			case errors.Is(err, gate.ErrAuthFailed):
				if hooks.OnAuthFailed != nil {
					hooks.OnAuthFailed(routeID)
				}
				writeJSON(w, http.StatusUnauthorized, "authentication_failed", "API key missing or not recognized")

			default:
				if hooks.OnError != nil {
					hooks.OnError(routeID)
				}
				writeJSON(w, http.StatusInternalServerError, "limiter_error", "internal rate limiter error")
			}
		})
	}
}

func itoa(i int) string     { return fmtInt(int64(i)) }
func itoa64(i int64) string { return fmtInt(i) }

func fmtInt(i int64) string {
	var buf [32]byte
	return string(strconv.AppendInt(buf[:0], i, 10))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
