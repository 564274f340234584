package middleware

import "github.com/gin-gonic/gin"

// apiHeaders are sent on every response. Responses depend on the caller's
// organization, so shared caches must neither store them nor reuse them
// across credentials.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Cache-Control", "no-store"},
	{"Vary", "Authorization, Cookie"},
}

// SecurityHeaders sets the API response headers. HSTS is only sent when
// the deployment serves HTTPS, which it signals with secure session cookies.
func SecurityHeaders(https bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range apiHeaders {
			c.Header(h[0], h[1])
		}
		if https {
			c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		c.Next()
	}
}
