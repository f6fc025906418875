package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GinLogrusLogger returns gin request logging middleware that writes
// through the shared logrus logger instead of gin's default writer.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := base.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}
		entry.Debug("request completed")
	}
}

// GinLogrusRecovery returns recovery middleware that logs panics through
// logrus and responds with a 500.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		base.WithField("panic", recovered).Error("recovered from handler panic")
		c.AbortWithStatusJSON(500, gin.H{
			"error": gin.H{"message": "internal server error", "type": "internal_error"},
		})
	})
}
