package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
	// MaxRequestIDLength caps ids supplied by callers
	MaxRequestIDLength = 128
)

// RequestID tags every request with an id, keeping the caller's when it sends one.
// The id is echoed in the response header and read back by GetRequestID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := clampRequestID(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID prefers the id set by RequestID and falls back to the request header.
func GetRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return clampRequestID(c.GetHeader(RequestIDHeader))
}

func clampRequestID(id string) string {
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}
