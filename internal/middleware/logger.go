package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/plotsync/internal/logger"
)

const (
	// LoggerKey is the context key for the request-scoped logger
	LoggerKey = "logger"
	// RunIDHeader carries the id of an import run on streaming responses
	RunIDHeader = "X-Run-ID"

	streamContentType = "application/x-ndjson"
)

// Logger creates a middleware that logs HTTP requests using structured logging.
// Streaming import responses are logged with their run id and size instead of
// a status-based level, since their status is fixed before the run finishes.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := log.WithRequestID(GetRequestID(c))
		c.Set(LoggerKey, requestLogger)

		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if len(c.Request.URL.RawQuery) > 0 {
			fields["query"] = c.Request.URL.RawQuery
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		if isStream(c) {
			fields["run_id"] = c.Writer.Header().Get(RunIDHeader)
			fields["bytes"] = c.Writer.Size()
			requestLogger.Info("Stream completed", fields)
			return
		}

		switch {
		case statusCode >= 500:
			requestLogger.Error("Request completed with server error", nil, fields)
		case statusCode >= 400:
			requestLogger.Warn("Request completed with client error", fields)
		default:
			requestLogger.Info("Request completed", fields)
		}
	}
}

func isStream(c *gin.Context) bool {
	return strings.HasPrefix(c.Writer.Header().Get("Content-Type"), streamContentType)
}

// GetLogger retrieves the logger from the Gin context.
// Returns nil if not found.
func GetLogger(c *gin.Context) *logger.Logger {
	if log, exists := c.Get(LoggerKey); exists {
		if l, ok := log.(*logger.Logger); ok {
			return l
		}
	}
	return nil
}

// LoggerOr returns the request logger, or fallback when none is set.
func LoggerOr(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if l := GetLogger(c); l != nil {
		return l
	}
	return fallback
}
