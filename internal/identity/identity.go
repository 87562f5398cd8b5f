package identity

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const keyIdentity ctxKey = 0

// DefaultID is the fallback identifier used when a request carries no
// resolvable credential. Anonymous traffic shares one quota.
const DefaultID = "anon"

// Resolution is the two-variant outcome of resolving a request to a
// client identifier. Unresolved carries no identifier; the caller
// picks the fallback explicitly instead of this package guessing one.
type Resolution struct {
	Resolved bool
	ID       string
}

// Store is a static in-memory key store: secret -> client identifier.
type Store struct {
	header   string
	bySecret map[string]string
}

// NewStatic creates a new static key store.
// header: HTTP header to read the key from (e.g., "X-API-Key")
// pairs: map of secret -> identifier
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	return &Store{header: h, bySecret: pairs}
}

// Resolve maps the request's credential to an identifier. A missing or
// unrecognized credential yields Unresolved; it is never an error and
// no authenticity check is performed here.
func (s *Store) Resolve(r *http.Request) Resolution {
	secret := strings.TrimSpace(r.Header.Get(s.header))
	if secret == "" {
		return Resolution{}
	}
	id, ok := s.bySecret[secret]
	if !ok {
		return Resolution{}
	}
	return Resolution{Resolved: true, ID: id}
}

// WithID injects the identifier into context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyIdentity, id)
}

// IDFrom extracts the identifier from context (if present).
func IDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyIdentity)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Middleware resolves the client identity and stores it in the request
// context. Unresolved requests fall back to DefaultID so the quota
// decision still applies to them; resolution failure never rejects a
// request.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id := DefaultID
			if res := s.Resolve(r); res.Resolved {
				id = res.ID
			}
			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}
