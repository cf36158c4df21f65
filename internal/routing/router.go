package routing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

type Route struct {
	ID      string
	Methods map[string]struct{}
	Prefix  string
	UpURL   *url.URL
	Timeout time.Duration

	// Limit is this route's policy class; zero value means "use the
	// gateway default". Overrides refine it per key ID.
	Limit     ratelimit.Policy
	Overrides map[string]ratelimit.Policy
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if _, ok := rt.Methods[m]; !ok {
			continue
		}
		prefix := strings.TrimSpace(rt.Prefix)
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			prefix = "/"
		}

		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

// PolicyFor resolves the effective policy for a key on this route: the
// per-key override when present, else the route's class, else the fallback.
func (rt *Route) PolicyFor(keyID string, fallback ratelimit.Policy) ratelimit.Policy {
	if rt == nil {
		return fallback
	}
	if o, ok := rt.Overrides[keyID]; ok && o.Valid() {
		return o
	}
	if rt.Limit.Valid() {
		return rt.Limit
	}
	return fallback
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
