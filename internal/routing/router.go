package routing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Route struct {
	ID      string
	Methods map[string]struct{}
	Prefix  string
	UpUrl   *url.URL
	Timeout time.Duration
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
		prefix := strings.TrimSuffix(strings.TrimSpace(rt.Prefix), "/")
		if prefix == "" {
			prefix = "/"
		}

		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

// --- context helpers ---
type ctxKey int

const (
	keyRoute ctxKey = iota
	keyCapture
)

// Capture collects the matched route for middleware that runs outside
// the matcher. WithRoute derives a new request, so an outer middleware
// never sees the route on its own request pointer; a Capture placed in
// the context before the matcher runs does.
type Capture struct {
	rt *Route
}

// Route returns the captured route, if a match happened downstream.
func (c *Capture) Route() (*Route, bool) {
	if c == nil || c.rt == nil {
		return nil, false
	}
	return c.rt, true
}

// WithCapture installs a Capture on the request and returns it along
// with the derived request.
func WithCapture(r *http.Request) (*http.Request, *Capture) {
	c := &Capture{}
	return r.WithContext(context.WithValue(r.Context(), keyCapture, c)), c
}

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := r.Context()
	if c, ok := ctx.Value(keyCapture).(*Capture); ok && c != nil {
		c.rt = rt
	}
	return r.WithContext(context.WithValue(ctx, keyRoute, rt))
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
