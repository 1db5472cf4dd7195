package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tripab/replicanode/pkg/metrics"
)

// MetricsMiddleware counts requests by route template and status.
func MetricsMiddleware(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		m.ObserveHTTP(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}
