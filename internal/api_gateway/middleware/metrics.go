package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settlement-reconciler/internal/platform/metrics"
)

// Metrics records request count and latency per route template. Unmatched routes are
// grouped under "unmatched" to keep label cardinality bounded.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
