package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinMiddleware returns gin middleware that records HTTP metrics.
func GinMiddleware(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg.InFlightInc()
		defer reg.InFlightDec()

		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		reg.RecordRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// GinLogging returns gin middleware that logs each request through zap.
func GinLogging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", c.ClientIP()),
		)
	}
}
