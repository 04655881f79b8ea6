package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceContextKey is where the request's trace ID lives in both the gin
// and standard contexts.
const TraceContextKey = "traceID"

// Trace assigns every request a trace ID, reusing one supplied by the
// caller in X-Trace-Id so a request can be followed across service
// boundaries, and echoes it back in the response.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}

		c.Set(TraceContextKey, traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), TraceContextKey, traceID))
		c.Header("X-Trace-Id", traceID)

		c.Next()
	}
}
