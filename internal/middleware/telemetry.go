package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/adaptive-ensemble/internal/utils"
)

// SpanEnricher annotates the server span started by otelgin with the request
// id and marks 5xx responses as errors. It must run after RequestID.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		if id := utils.RequestIDFromContext(c.Request.Context()); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		if operator := c.GetString(ContextKeyOperator); operator != "" {
			span.SetAttributes(attribute.String("operator.subject", operator))
		}

		status := c.Writer.Status()
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
		for _, ginErr := range c.Errors {
			span.RecordError(ginErr.Err)
		}
	}
}
