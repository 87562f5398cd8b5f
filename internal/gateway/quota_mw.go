package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/quotagate/quotagate/internal/identity"
	"github.com/quotagate/quotagate/internal/quota"
	"github.com/quotagate/quotagate/internal/routing"
)

// Quota configuration headers honored when the config source trusts
// them (e.g. set by an upstream that decoded a signed token).
const (
	HeaderQuotaRequests   = "X-Quota-Requests"
	HeaderQuotaPerSeconds = "X-Quota-Per-Seconds"
	HeaderQuotaBehavior   = "X-Quota-Behavior"
)

// ConfigSource supplies the quota configuration for a request. It is
// the pluggable "configuration supplier" sitting in front of the
// decision engine; the engine itself never reads headers or files.
type ConfigSource struct {
	// Default applies when no override matches.
	Default quota.Config

	// PerKey overrides the default for specific identifiers.
	PerKey map[string]quota.Config

	// TrustHeaders enables per-request overrides from the X-Quota-*
	// headers. Raw header strings go through the normal permissive
	// coercion: zero and garbage mean "unset".
	TrustHeaders bool
}

// For resolves the configuration for one request.
func (s *ConfigSource) For(r *http.Request, id string) quota.Config {
	if s == nil {
		return quota.DefaultConfig()
	}
	if s.TrustHeaders {
		req := r.Header.Get(HeaderQuotaRequests)
		per := r.Header.Get(HeaderQuotaPerSeconds)
		beh := r.Header.Get(HeaderQuotaBehavior)
		if req != "" || per != "" || beh != "" {
			return quota.ResolveConfig(req, per, beh)
		}
	}
	if cfg, ok := s.PerKey[id]; ok {
		return cfg
	}
	return s.Default
}

// Quota returns the admission middleware. Each request is keyed by
// route and identity, decided by the dispatcher, and mapped to a
// pass-through, a 429, or a 500 when the decision state is
// unavailable (a store failure never silently admits).
func Quota(
	d *quota.Dispatcher,
	src *ConfigSource,
	skipPaths map[string]struct{},
	onDenied func(routeID string),
	onError func(routeID string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := identity.IDFrom(r.Context())
			if !ok || id == "" {
				id = identity.DefaultID
			}

			rt, _ := routing.RouteFrom(r)
			routeID := "unknown"
			if rt != nil && rt.ID != "" {
				routeID = rt.ID
			}

			// decision key = routeID:identity (per-route per-client)
			key := id
			if rt != nil && rt.ID != "" {
				key = rt.ID + ":" + id
			}

			cfg := src.For(r, id)

			dec, err := d.Decide(r.Context(), key, cfg, time.Now())
			if err != nil {
				if onError != nil {
					onError(routeID)
				}
				writeJSON(w, http.StatusInternalServerError, "quota_store_error", "decision state unavailable")
				return
			}

			if dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
			}

			if dec.Verdict == quota.Deny {
				if onDenied != nil {
					onDenied(routeID)
				}
				writeJSON(w, http.StatusTooManyRequests, "quota_exceeded", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
