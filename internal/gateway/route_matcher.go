package gateway

import (
	"net/http"

	"github.com/quotagate/quotagate/internal/routing"
)

func RouteMatcher(rr *routing.Router, skip map[string]struct{}) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			rt, ok := rr.Match(r.Method, r.URL.Path)
			if !ok {
				writeJSON(w, http.StatusNotFound, "no_route", "no matching route")
				return
			}

			next.ServeHTTP(w, routing.WithRoute(r, rt))
		})
	}
}
