package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_connection_status",
			Help: "Current connection status (1 for the active status label, 0 otherwise).",
		},
		[]string{"status"},
	)
	eventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_dispatched_total",
			Help: "Total number of realtime events dispatched to subscribers.",
		},
		[]string{"kind"},
	)
	handlerPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_handler_panics_total",
			Help: "Total number of recovered panics in event handlers.",
		},
	)
	reconcileOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconcile_ops_total",
			Help: "Total reconciler operations by outcome.",
		},
		[]string{"op"},
	)
	roomListResortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_roomlist_resorts_total",
			Help: "Total number of room list re-sorts triggered by events.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_devserver_http_requests_total",
			Help: "Total number of HTTP requests processed by the dev server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_devserver_http_request_duration_seconds",
			Help:    "Dev server HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		connectionStatus,
		eventsDispatchedTotal,
		handlerPanicsTotal,
		reconcileOpsTotal,
		roomListResortsTotal,
		amqpPublishErrorsTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// SetConnectionStatus flips the status gauge so exactly one label reads 1.
func SetConnectionStatus(status string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "errored"} {
		value := 0.0
		if s == status {
			value = 1.0
		}
		connectionStatus.WithLabelValues(s).Set(value)
	}
}

// IncEventDispatched counts one event delivered to subscribers.
func IncEventDispatched(kind string) {
	eventsDispatchedTotal.WithLabelValues(kind).Inc()
}

// IncHandlerPanic counts a recovered subscriber panic.
func IncHandlerPanic() {
	handlerPanicsTotal.Inc()
}

// IncReconcileOp counts a reconciler outcome: submitted, confirmed, replaced,
// duplicate, failed, page_merged, page_stale.
func IncReconcileOp(op string) {
	reconcileOpsTotal.WithLabelValues(op).Inc()
}

// IncRoomListResort counts a room list re-sort.
func IncRoomListResort() {
	roomListResortsTotal.Inc()
}

// IncAMQPPublishError counts a failed telemetry publish.
func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// HTTPMetricsMiddleware records request counts and latencies for the dev server.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
