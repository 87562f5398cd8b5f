package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quotagate/quotagate/internal/gateway"
	"github.com/quotagate/quotagate/internal/identity"
	"github.com/quotagate/quotagate/internal/quota"
	"github.com/quotagate/quotagate/internal/quota/memory"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newHandler(d *quota.Dispatcher, src *gateway.ConfigSource, onDenied, onError func(string)) http.Handler {
	ids := identity.NewStatic("X-API-Key", map[string]string{
		"secret-a": "key-a",
		"secret-b": "key-b",
	})
	skip := map[string]struct{}{"/health": {}}
	return gateway.Chain(
		okHandler(),
		ids.Middleware(skip),
		gateway.Quota(d, src, skip, onDenied, onError),
	)
}

func get(h http.Handler, path, apiKey string, hdr map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if apiKey != "" {
		r.Header.Set("X-API-Key", apiKey)
	}
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestQuotaMiddlewareBurstThenDeny(t *testing.T) {
	d := quota.NewDispatcher(memory.New())
	src := &gateway.ConfigSource{Default: quota.ResolveConfig("2", "60", "blocking")}
	denied := 0
	h := newHandler(d, src, func(string) { denied++ }, nil)

	wantRemaining := []string{"1", "0"}
	for i := 0; i < 2; i++ {
		w := get(h, "/api/x", "secret-a", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want \"2\"", got)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != wantRemaining[i] {
			t.Errorf("request %d: X-RateLimit-Remaining = %q, want %q", i+1, got, wantRemaining[i])
		}
	}

	w := get(h, "/api/x", "secret-a", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("denied request: X-RateLimit-Remaining = %q, want \"0\"", got)
	}
	if denied != 1 {
		t.Errorf("denied callback fired %d times, want 1", denied)
	}
}

func TestQuotaMiddlewareSkipsOpsPaths(t *testing.T) {
	d := quota.NewDispatcher(memory.New())
	src := &gateway.ConfigSource{Default: quota.ResolveConfig("1", "60", "blocking")}
	h := newHandler(d, src, nil, nil)

	for i := 0; i < 5; i++ {
		if w := get(h, "/health", "", nil); w.Code != http.StatusOK {
			t.Fatalf("health request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestQuotaMiddlewareAnonymousFallback(t *testing.T) {
	d := quota.NewDispatcher(memory.New())
	src := &gateway.ConfigSource{Default: quota.ResolveConfig("1", "60", "blocking")}
	h := newHandler(d, src, nil, nil)

	// An unknown credential falls back to the shared anonymous
	// identifier instead of being rejected.
	if w := get(h, "/api/x", "bogus", nil); w.Code != http.StatusOK {
		t.Fatalf("first anon request: status = %d, want 200", w.Code)
	}
	if w := get(h, "/api/x", "", nil); w.Code != http.StatusTooManyRequests {
		t.Fatal("second anon request admitted; unknown and missing keys must share one quota")
	}
	// A resolved client has its own counter.
	if w := get(h, "/api/x", "secret-a", nil); w.Code != http.StatusOK {
		t.Fatalf("resolved client: status = %d, want 200", w.Code)
	}
}

func TestQuotaMiddlewarePerKeyOverride(t *testing.T) {
	d := quota.NewDispatcher(memory.New())
	src := &gateway.ConfigSource{
		Default: quota.DefaultConfig(),
		PerKey: map[string]quota.Config{
			"key-b": quota.ResolveConfig("1", "60", "blocking"),
		},
	}
	h := newHandler(d, src, nil, nil)

	// key-a rides the unlimited default.
	for i := 0; i < 4; i++ {
		if w := get(h, "/api/x", "secret-a", nil); w.Code != http.StatusOK {
			t.Fatalf("key-a request %d: status = %d, want 200", i+1, w.Code)
		}
	}
	// key-b is capped at one.
	if w := get(h, "/api/x", "secret-b", nil); w.Code != http.StatusOK {
		t.Fatalf("key-b first request: status = %d, want 200", w.Code)
	}
	if w := get(h, "/api/x", "secret-b", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("key-b second request: status = %d, want 429", w.Code)
	}
}

func TestQuotaMiddlewareTrustedHeaders(t *testing.T) {
	d := quota.NewDispatcher(memory.New())
	src := &gateway.ConfigSource{
		Default:      quota.ResolveConfig("1", "60", "blocking"),
		TrustHeaders: true,
	}
	h := newHandler(d, src, nil, nil)

	// A header value of 0 coerces to "unset": unlimited, not zero.
	zero := map[string]string{gateway.HeaderQuotaRequests: "0"}
	for i := 0; i < 5; i++ {
		if w := get(h, "/api/x", "secret-a", zero); w.Code != http.StatusOK {
			t.Fatalf("request %d with requests=0 header: status = %d, want 200", i+1, w.Code)
		}
	}

	one := map[string]string{
		gateway.HeaderQuotaRequests:   "1",
		gateway.HeaderQuotaPerSeconds: "60",
	}
	if w := get(h, "/api/y", "secret-b", one); w.Code != http.StatusOK {
		t.Fatalf("first request with requests=1 header: status = %d, want 200", w.Code)
	}
	if w := get(h, "/api/y", "secret-b", one); w.Code != http.StatusTooManyRequests {
		t.Fatal("second request with requests=1 header admitted, want 429")
	}
}

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*quota.State, error) {
	return nil, errors.New("backend down")
}
func (brokenStore) Save(context.Context, string, *quota.State) error {
	return errors.New("backend down")
}
func (brokenStore) Close() error { return nil }

func TestQuotaMiddlewareStoreFailureFailsClosed(t *testing.T) {
	d := quota.NewDispatcher(brokenStore{})
	src := &gateway.ConfigSource{Default: quota.DefaultConfig()}
	failures := 0
	h := newHandler(d, src, nil, func(string) { failures++ })

	w := get(h, "/api/x", "secret-a", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (a store failure must never admit)", w.Code)
	}
	if failures != 1 {
		t.Errorf("error callback fired %d times, want 1", failures)
	}
}
