package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderSecFetchSite is set by browsers on every request.
const HeaderSecFetchSite = "Sec-Fetch-Site"

// CSRFMiddleware rejects cross-site state-changing requests. The auth
// endpoints act on the refresh credential cookie alone, so a forged POST
// from another site must not reach them. Requests without browser
// provenance headers (non-browser clients) pass.
func CSRFMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		// Safe methods are exempt from CSRF checks.
		if c.Request.Method == http.MethodGet ||
			c.Request.Method == http.MethodHead ||
			c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if c.GetHeader(HeaderSecFetchSite) == "cross-site" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "PORTAL_CSRF_CROSS_SITE",
				"message": "Cross-site request rejected",
			})
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !sameOrigin(origin, c.Request) {
			if _, ok := allowed[strings.ToLower(origin)]; !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "PORTAL_CSRF_ORIGIN_MISMATCH",
					"message": "Origin not allowed",
				})
				return
			}
		}

		c.Next()
	}
}

func sameOrigin(origin string, r *http.Request) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return strings.EqualFold(u.Host, host)
}
