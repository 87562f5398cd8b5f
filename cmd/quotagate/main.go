package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/gateway"
	"github.com/quotagate/quotagate/internal/identity"
	"github.com/quotagate/quotagate/internal/obs"
	"github.com/quotagate/quotagate/internal/proxy"
	"github.com/quotagate/quotagate/internal/quota"
	"github.com/quotagate/quotagate/internal/quota/memory"
	"github.com/quotagate/quotagate/internal/quota/redisstore"
	"github.com/quotagate/quotagate/internal/quota/sqlitestore"
	"github.com/quotagate/quotagate/internal/routing"
)

func main() {

	cfg, err := config.Load("./config.yaml")

	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	logger.Info().Str("store", cfg.Limits.Store.Backend).Msg("starting quotagate")

	store, err := openStore(cfg.Limits.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	dispatcher := quota.NewDispatcher(store)

	pairs := map[string]string{} // secret -> identifier
	for _, k := range cfg.Auth.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	ids := identity.NewStatic(cfg.Auth.Header, pairs)

	perKey := map[string]quota.Config{}
	for id, q := range cfg.Limits.PerKey {
		perKey[id] = q.Resolve()
	}
	src := &gateway.ConfigSource{
		Default:      cfg.Limits.Default.Resolve(),
		PerKey:       perKey,
		TrustHeaders: cfg.Limits.TrustHeaders,
	}

	rr := routing.New()
	for _, rt := range cfg.Routes {
		u, err := url.Parse(rt.Upstream.URL)
		if err != nil {
			log.Fatalf("route %s: bad upstream url: %v", rt.ID, err)
		}
		methods := map[string]struct{}{}
		for _, m := range rt.Match.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		rr.Add(&routing.Route{
			ID:      rt.ID,
			Methods: methods,
			Prefix:  rt.Match.PathPrefix,
			UpUrl:   u,
			Timeout: time.Duration(rt.Upstream.TimeoutMS) * time.Millisecond,
		})
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg, dispatcher.Size)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.Handle("/", proxy.Handler(proxy.NewHTTPTransport(),
		gateway.HeaderQuotaRequests,
		gateway.HeaderQuotaPerSeconds,
		gateway.HeaderQuotaBehavior,
	))

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		ids.Middleware(skip),
		gateway.RouteMatcher(rr, skip),
		gateway.Quota(dispatcher, src, skip,
			func(route string) { metrics.QuotaDenied.WithLabelValues(route).Inc() },
			func(route string) { metrics.StoreErrors.WithLabelValues(route).Inc() },
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := dispatcher.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
	log.Printf("bye")
}

func openStore(cfg config.Store) (quota.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlitestore.New(cfg.SQLite.Path)
	case "redis":
		return redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.RedisTTL(),
		}), nil
	default:
		return memory.New(), nil
	}
}
