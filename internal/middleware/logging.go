package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// LoggerKey for storing logger in Gin context
const LoggerKey = "logger"

// Logging stores a request-scoped logger carrying the trace context and logs
// each completed request. It must run after Tracing so the span exists.
func Logging(baseLogger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		sc := trace.SpanFromContext(c.Request.Context()).SpanContext()
		logger := baseLogger.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)
		c.Set(LoggerKey, logger)

		c.Next()

		if auth0ID, ok := subject(c); ok {
			logger = logger.With(slog.String("auth0_id", auth0ID))
		}

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= 500:
			level = slog.LevelError
		case status == 409 || status == 503:
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "request completed",
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.Int("size", c.Writer.Size()),
		)
	}
}

// GetLogger returns the request-scoped logger, or the default logger outside
// a request.
func GetLogger(c *gin.Context) *slog.Logger {
	if logger, exists := c.Get(LoggerKey); exists {
		return logger.(*slog.Logger)
	}
	return slog.Default()
}
