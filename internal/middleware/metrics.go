package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/telemetry"
)

// resourceSegment is the generic routes' resource parameter.
const resourceSegment = ":resource"

// MetricsMiddleware records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for every request.
//
// The path label is the matched route template, not the raw URL, so record
// ids do not inflate label cardinality. When known reports a resource as
// registered, its name replaces :resource in the template, giving
// /api/v1/pqrsfd/:id rather than /api/v1/:resource/:id. Unknown names stay
// templated. Unmatched requests use "<no-route>".
func MetricsMiddleware(known func(resource string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		switch {
		case path == "":
			path = "<no-route>"
		case known != nil && strings.Contains(path, resourceSegment):
			if name := c.Param("resource"); known(name) {
				path = strings.Replace(path, resourceSegment, name, 1)
			}
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
