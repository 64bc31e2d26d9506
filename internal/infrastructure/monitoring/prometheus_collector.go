package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/signal"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	// Layout sessions
	sessionsActive   *prometheus.GaugeVec
	sessionsTotal    *prometheus.CounterVec
	mutationsTotal   *prometheus.CounterVec
	writeFailures    *prometheus.CounterVec
	snapshotsApplied *prometheus.CounterVec

	// Sockets
	connectionsActive *prometheus.GaugeVec
	messagesTotal     *prometheus.CounterVec

	// HTTP
	requestDuration *prometheus.HistogramVec
}

var (
	_ ports.LayoutMetrics      = (*PrometheusCollector)(nil)
	_ signal.ConnectionMetrics = (*PrometheusCollector)(nil)
)

// NewPrometheusCollector registers every metric with reg. Passing nil uses
// the default registry.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &PrometheusCollector{
		gatherer: gatherer,

		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "overlaycast_sessions_active",
			Help: "Number of open layout sessions",
		}, []string{"role"}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_sessions_total",
			Help: "Total number of layout sessions opened",
		}, []string{"role"}),

		mutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_layout_mutations_total",
			Help: "Layout mutations applied locally, by operation",
		}, []string{"op"}),

		writeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_layout_write_failures_total",
			Help: "Remote layout writes that failed, by operation",
		}, []string{"op"}),

		snapshotsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_layout_snapshots_applied_total",
			Help: "Remote snapshots applied to sessions",
		}, []string{"role"}),

		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "overlaycast_ws_connections_active",
			Help: "Number of open websocket connections",
		}, []string{"role"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_ws_messages_total",
			Help: "Websocket messages handled, by type and result",
		}, []string{"type", "result"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overlaycast_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
	}
}

func (p *PrometheusCollector) SessionOpened(role domain.Role) {
	p.sessionsActive.WithLabelValues(string(role)).Inc()
	p.sessionsTotal.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) SessionClosed(role domain.Role) {
	p.sessionsActive.WithLabelValues(string(role)).Dec()
}

func (p *PrometheusCollector) MutationApplied(op string) {
	p.mutationsTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) WriteFailed(op string) {
	p.writeFailures.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) SnapshotApplied(role domain.Role) {
	p.snapshotsApplied.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) ConnectionOpened(role domain.Role) {
	p.connectionsActive.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) ConnectionClosed(role domain.Role) {
	p.connectionsActive.WithLabelValues(string(role)).Dec()
}

func (p *PrometheusCollector) MessageHandled(messageType string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	p.messagesTotal.WithLabelValues(messageType, result).Inc()
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Middleware records the duration of every request by route template.
func (p *PrometheusCollector) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		p.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the collected metrics in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
