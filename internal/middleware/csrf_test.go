package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newCSRFRouter(allowed ...string) *gin.Engine {
	router := gin.New()
	router.Use(CSRFMiddleware(allowed...))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCSRFMiddleware_SafeMethodsExempt(t *testing.T) {
	router := newCSRFRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set(HeaderSecFetchSite, "cross-site")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		origin    string
		fetchSite string
		allowed   []string
		want      int
	}{
		{name: "no browser headers", want: http.StatusOK},
		{name: "same origin", origin: "http://portal.campus.example", fetchSite: "same-origin", want: http.StatusOK},
		{name: "cross site", origin: "https://evil.example", fetchSite: "cross-site", want: http.StatusForbidden},
		{name: "foreign origin", origin: "https://evil.example", want: http.StatusForbidden},
		{name: "allowed origin", origin: "https://print.campus.example", allowed: []string{"https://print.campus.example/"}, want: http.StatusOK},
		{name: "malformed origin", origin: "null", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newCSRFRouter(tt.allowed...)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "http://portal.campus.example/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.fetchSite != "" {
				req.Header.Set(HeaderSecFetchSite, tt.fetchSite)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
