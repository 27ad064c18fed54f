// Package metrics exposes the bridge's Prometheus instrumentation:
// browser-connected state, in-flight requests, rotation and fallback
// events, and the cooldown count.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BrowserConnected is 1 when the multiplexer holds a live browser
	// socket, 0 otherwise.
	BrowserConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena_bridge",
		Name:      "browser_connected",
		Help:      "1 if the browser duplex socket is currently attached, 0 otherwise.",
	})

	// InFlightRequests tracks requests currently registered in the
	// multiplexer's channel table.
	InFlightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena_bridge",
		Name:      "inflight_requests",
		Help:      "Number of chat-completion calls currently awaiting upstream frames.",
	})

	// RotationEvents counts per-model credential rotations.
	RotationEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arena_bridge",
		Name:      "rotation_events_total",
		Help:      "Total number of per-model credential pool rotations.",
	})

	// FallbackSwitches counts auto-claude mid-stream model switches.
	FallbackSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arena_bridge",
		Name:      "fallback_switches_total",
		Help:      "Total number of auto-claude mid-stream fallback switches.",
	})

	// CooldownCount reports how many models are currently cooled down.
	CooldownCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena_bridge",
		Name:      "cooldown_models",
		Help:      "Number of models currently excluded from auto-fallback selection.",
	})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena_bridge",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

func init() {
	prometheus.MustRegister(BrowserConnected, InFlightRequests, RotationEvents, FallbackSwitches, CooldownCount, httpDuration)
}

// GinMiddleware records request latency by route, method, and status,
// wiring Prometheus into the gin request lifecycle.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(route, c.Request.Method, statusBucket(c.Writer.Status())).Observe(time.Since(start).Seconds())
	}
}

func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
