package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// GlobalRateGuard is a coarse in-process limiter protecting the instance
// from floods before any per-user accounting runs.
func GlobalRateGuard(rps, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "server overloaded, retry later",
					"type":    "rate_limit_error",
				},
			})
			return
		}
		c.Next()
	}
}
