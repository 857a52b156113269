package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultCSRFHeader is the default header name for CSRF tokens.
const DefaultCSRFHeader = "X-CSRF-Token"

// CSRFMiddleware compares the CSRF header of state-changing requests with the
// token bound to the authenticated session. It must run after SessionMiddleware.
// Requests without an authenticated session pass through so the handler can
// answer 401.
func CSRFMiddleware(headerName string) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		sess, ok := GetSession(c)
		if !ok || !sess.Authenticated() {
			c.Next()
			return
		}

		got := c.GetHeader(headerName)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(sess.CSRFToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "BFF_CSRF_MISMATCH",
				"message": "CSRF token mismatch",
			})
			return
		}

		c.Next()
	}
}
