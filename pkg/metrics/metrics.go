package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatify_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatify_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatify_ws_active_sessions",
			Help: "Number of registered realtime sessions.",
		},
	)
	wsInboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatify_ws_inbound_events_total",
			Help: "Total number of client events received.",
		},
		[]string{"event", "result"},
	)
	wsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatify_ws_emitted_events_total",
			Help: "Total number of server events handed to a session.",
		},
		[]string{"event"},
	)
	wsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatify_ws_dropped_events_total",
			Help: "Total number of server events dropped (recipient offline or send buffer full).",
		},
		[]string{"event", "reason"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatify_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveSessions,
		wsInboundTotal,
		wsEmittedTotal,
		wsDroppedTotal,
		amqpPublishErrorsTotal,
	)
}

// 丢弃原因
const (
	DropOffline    = "offline"
	DropBufferFull = "buffer_full"
)

// HTTPMetricsMiddleware 记录请求数与耗时
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 接口
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func SetActiveSessions(n int) {
	wsActiveSessions.Set(float64(n))
}

func IncInbound(event, result string) {
	wsInboundTotal.WithLabelValues(event, result).Inc()
}

func IncEmitted(event string) {
	wsEmittedTotal.WithLabelValues(event).Inc()
}

func IncDropped(event, reason string) {
	wsDroppedTotal.WithLabelValues(event, reason).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
