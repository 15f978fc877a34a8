package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private Prometheus registry with the service's metrics.
// A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Transitions         *prometheus.CounterVec
	AuthFailures        *prometheus.CounterVec
	MailDeliveries      *prometheus.CounterVec
}

func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status transitions applied per resource kind",
		}, []string{"kind", "from", "to"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected requests per pipeline gate",
		}, []string{"reason"}),
		MailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_deliveries_total",
			Help:      "Outbound notification attempts",
		}, []string{"status"}),
	}
	reg.MustRegister(c.HTTPRequestsTotal, c.HTTPRequestDuration, c.Transitions, c.AuthFailures, c.MailDeliveries)
	return c
}

// Handler serves the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) RecordTransition(kind, from, to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(kind, from, to).Inc()
}

func (c *Collector) RecordAuthFailure(reason string) {
	if c == nil {
		return
	}
	c.AuthFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordMail(ok bool) {
	if c == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	c.MailDeliveries.WithLabelValues(status).Inc()
}

// Middleware records every request under its chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.RecordHTTPRequest(r.Method, path, status, time.Since(start))
	})
}
