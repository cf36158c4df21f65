package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/veerababumanyam/pulsegate/internal/gate"
)

// KeyResolver maps a presented credential to a stable key ID without
// authenticating the request. Unrecognized or absent credentials resolve to
// ok=false and the caller falls back to the client address.
type KeyResolver interface {
	ResolveKeyID(r *http.Request) (string, bool)
}

// ClientKey returns a KeyFunc that throttles recognized API keys by key ID
// and everyone else by client IP. When trustXFF is set, the first hop of
// X-Forwarded-For wins over RemoteAddr; only enable it behind a proxy you
// control, the header is client-supplied otherwise.
func ClientKey(resolver KeyResolver, trustXFF bool) gate.KeyFunc {
	return func(r *http.Request) string {
		if resolver != nil {
			if id, ok := resolver.ResolveKeyID(r); ok {
				return "key:" + id
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return "ip:" + ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return "ip:" + host
		}
		if r.RemoteAddr != "" {
			return "ip:" + r.RemoteAddr
		}
		return "anon"
	}
}
