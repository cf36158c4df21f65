package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/veerababumanyam/pulsegate/internal/gate"
)

type ctxKey int

const keyID ctxKey = 0

// Store is a static in-memory key store: secret -> keyID. It implements
// gate.Authenticator; real credential verification is the authenticator's
// own concern, this one only does static lookup.
type Store struct {
	header   string
	bySecret map[string]string
}

// NewStatic creates a new static key store.
// header: HTTP header carrying the secret (e.g., "X-API-Key")
// pairs: map of secret -> keyID
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	return &Store{header: h, bySecret: pairs}
}

// Header returns the header name the store reads secrets from.
func (s *Store) Header() string { return s.header }

// Authenticate looks up the presented secret and returns the matching key's
// identity, or ok=false when the header is missing or unrecognized.
func (s *Store) Authenticate(_ context.Context, r *http.Request) (gate.Identity, bool) {
	secret := strings.TrimSpace(r.Header.Get(s.header))
	if secret == "" {
		return gate.Identity{}, false
	}
	id, ok := s.bySecret[secret]
	if !ok {
		return gate.Identity{}, false
	}
	return gate.Identity{KeyID: id}, true
}

// ResolveKeyID maps the presented secret to its key ID without treating the
// request as authenticated. Rate-limit key derivation uses this so quota is
// tracked per key ID rather than per secret string.
func (s *Store) ResolveKeyID(r *http.Request) (string, bool) {
	secret := strings.TrimSpace(r.Header.Get(s.header))
	if secret == "" {
		return "", false
	}
	id, ok := s.bySecret[secret]
	return id, ok
}

// WithKeyID injects the authenticated key ID into context.
func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyID, id)
}

// KeyIDFrom extracts the key ID from context (if present).
func KeyIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
