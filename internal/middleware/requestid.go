package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omnirelay-go/internal/logging"
)

// RequestID tags every request with an id, honoring a client-supplied
// X-Request-ID when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(logging.RequestIDKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}
