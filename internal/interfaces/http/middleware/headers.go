package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// apiCSP forbids everything; the API only ever returns JSON.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// Secure sets the response headers a JSON API needs. A positive hsts turns on
// Strict-Transport-Security for that long, subdomains included; leave it zero
// unless the service is only reachable over HTTPS.
func Secure(hsts time.Duration) gin.HandlerFunc {
	sts := ""
	if hsts > 0 {
		sts = "max-age=" + strconv.Itoa(int(hsts.Seconds())) + "; includeSubDomains"
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", apiCSP)
		if sts != "" {
			h.Set("Strict-Transport-Security", sts)
		}
		c.Next()
	}
}

// Timeout puts a deadline on the request context. Repository and cache calls
// give up when it passes; the handler still writes the response.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return passThrough
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
