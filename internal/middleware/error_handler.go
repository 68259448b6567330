package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"cashdesk/internal/apierror"
	"cashdesk/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorHandler turns errors attached with c.Error into a generic 500. Handlers
// attach only errors no sentinel mapped, so their text stays in the log.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		ev := log.Error().
			Str("request_id", c.GetString(RequestIDKey)).
			Str("route", c.FullPath()).
			Str("method", c.Request.Method)
		for _, e := range c.Errors {
			ev = ev.AnErr("error", e.Err)
		}
		ev.Int("count", len(c.Errors)).Msg("unhandled error")

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, internalError)
	}
}

var internalError = apierror.WithCode(apierror.CodeInternal, "Error interno del servidor")

// Recovery converts a handler panic into a 500 and logs the stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("request_id", c.GetString(RequestIDKey)).
					Str("route", c.FullPath()).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, internalError)
			}
		}()
		c.Next()
	}
}

// Logger logs each request with method, path, status, latency, and request_id,
// and counts it when m is non-nil.
func Logger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(route, strconv.Itoa(c.Writer.Status()))
		log.Info().
			Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
