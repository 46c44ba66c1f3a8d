package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/doorstephq/doorstep-cloud/pkg/telemetry/correlation"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures every request carries a correlation ID: inbound header
// wins, otherwise one is generated. The ID rides the request context so
// downstream log lines correlate.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(requestIDHeader); id != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, id)
		}

		ctx, id := correlation.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		c.Next()
	}
}
