package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quotagate/quotagate/internal/gateway"
	"github.com/quotagate/quotagate/internal/routing"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	QuotaDenied     *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, counters func() int) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		QuotaDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_quota_denied_total",
				Help: "Total requests rejected by the quota engine",
			},
			[]string{"route"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_store_errors_total",
				Help: "Total decision-state store failures",
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.QuotaDenied, m.StoreErrors)

	if counters != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "quotagate_counters",
				Help: "Number of per-identifier decision counters held in memory",
			},
			func() float64 { return float64(counters()) },
		))
	}

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics.
// It uses the route stored by RouteMatcher (routing.RouteFrom).
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			// The matcher runs further down the chain on a derived
			// request; a capture is the only way to see its result
			// after next returns.
			r, capture := routing.WithCapture(r)

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rt, ok := capture.Route(); ok && rt.ID != "" {
				route = rt.ID
			}

			method := r.Method
			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
		})
	}
}
