package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests no route matched, so scanners probing
// random paths cannot grow the label set.
const unmatchedRoute = "unmatched"

// Middleware records one observation per request, labelled by route
// template. Paths listed in skip (usually /metrics and /health) are not
// recorded.
func Middleware(metrics *Metrics, skip ...string) gin.HandlerFunc {
	ignored := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		ignored[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := ignored[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Handler exposes the metrics gathered by g in the Prometheus text format.
// A nil g serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartCall starts timing a session API call. The returned func records
// the call's outcome and must be called once.
func (m *Metrics) StartCall(call string) func(status string) {
	start := time.Now()
	return func(status string) {
		m.RecordRemoteCall(call, status, time.Since(start))
	}
}
