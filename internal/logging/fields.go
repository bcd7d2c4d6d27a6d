package logging

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key carrying the request id.
const RequestIDKey = "request_id"

// WithReq returns an entry annotated with request-scoped fields plus extras.
func WithReq(c *gin.Context, extra map[string]interface{}) *log.Entry {
	fields := log.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	}
	if rid := c.GetString(RequestIDKey); rid != "" {
		fields["request_id"] = rid
	}
	if user := c.GetString("user_id"); user != "" {
		fields["user_id"] = user
	}
	for k, v := range extra {
		fields[k] = v
	}
	return log.WithFields(fields)
}
