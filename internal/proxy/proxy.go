package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/quotagate/quotagate/internal/routing"
)

func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Handler proxies to the upstream of the route matched earlier in the
// chain. Headers named in strip are removed before forwarding so
// gateway control headers never leak to upstreams.
func Handler(tr *http.Transport, strip ...string) http.Handler {
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			rt, _ := routing.RouteFrom(req)
			req.URL.Scheme = rt.UpUrl.Scheme
			req.URL.Host = rt.UpUrl.Host
			for _, h := range strip {
				req.Header.Del(h)
			}
			req.Header.Set("X-Forwarded-Host", req.Host)
			req.Header.Set("X-Forwarded-Proto", "http")
		},
		Transport: tr,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := routing.RouteFrom(r)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":"no_route_ctx","message":"route not in context"}}`))
			return
		}

		if rt.Timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), rt.Timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		rp.ServeHTTP(w, r)
	})
}
