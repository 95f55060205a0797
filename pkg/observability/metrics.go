package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrganisationsCreatedTotal prometheus.Counter
	InvitesCreatedTotal       prometheus.Counter
	InvitesAcceptedTotal      prometheus.Counter
	InvitesExpiredTotal       prometheus.Counter
	MembersRemovedTotal       prometheus.Counter

	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers the service metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyfold_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyfold_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		OrganisationsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyfold_organisations_created_total",
			Help: "Total number of organisations created",
		}),
		InvitesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyfold_invites_created_total",
			Help: "Total number of member invites created",
		}),
		InvitesAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyfold_invites_accepted_total",
			Help: "Total number of member invites accepted",
		}),
		InvitesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyfold_invites_expired_total",
			Help: "Total number of expired invites removed by cleanup",
		}),
		MembersRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyfold_members_removed_total",
			Help: "Total number of members removed from organisations",
		}),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyfold_db_connections_active",
			Help: "Number of active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyfold_db_connections_idle",
			Help: "Number of idle database connections",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrganisationsCreatedTotal,
		m.InvitesCreatedTotal,
		m.InvitesAcceptedTotal,
		m.InvitesExpiredTotal,
		m.MembersRemovedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests with count and duration.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
