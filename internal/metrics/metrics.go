package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active subscription websocket connections",
	})
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_pubsub_subscriptions",
		Help: "Current number of active pub/sub topic subscriptions",
	})
	PubSubDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_pubsub_dropped_total",
		Help: "Total number of events dropped for slow subscribers",
	})
	MembershipEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_membership_events_total",
		Help: "Total number of membership events published",
	}, []string{"event"})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages sent",
	})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"path"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, ActiveSubscriptions, PubSubDropped, MembershipEvents,
		MessagesTotal, RateLimited, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
