package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ozzus/agent-upkeep/internal/lib/logger/sl"
)

// Logger logs every request after it is handled. Probe endpoints are logged
// at debug level so they do not flood the output.
func Logger(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = sl.Discard()
	}
	log = log.With(slog.String("component", "http"))

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		level := slog.LevelInfo
		switch path := c.Request.URL.Path; {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case path == "/health" || path == "/ready":
			level = slog.LevelDebug
		}

		log.LogAttrs(c.Request.Context(), level, "request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote", c.ClientIP()),
		)
	}
}

// Recovery turns a handler panic into a 500 response and an error log entry.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = sl.Discard()
	}
	log = log.With(slog.String("component", "http"))

	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("handler panicked",
			slog.String("path", c.Request.URL.Path),
			slog.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
