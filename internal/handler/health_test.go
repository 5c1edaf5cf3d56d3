package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthz(t *testing.T) {
	handler := &HealthHandler{}

	router := gin.New()
	router.GET("/healthz", handler.Healthz)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestReadyz(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tests := []struct {
		name       string
		handler    *HealthHandler
		stop       bool
		wantStatus int
		wantBody   string
	}{
		{"no redis configured", NewHealthHandler(nil), false, http.StatusOK, `{"checks":{},"status":"ready"}`},
		{"redis up", NewHealthHandler(client), false, http.StatusOK, `{"checks":{"redis":"ok"},"status":"ready"}`},
		{"redis down", NewHealthHandler(client), true, http.StatusServiceUnavailable, `{"checks":{"redis":"unreachable"},"status":"not_ready"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.stop {
				mr.Close()
			}

			router := gin.New()
			router.GET("/readyz", tt.handler.Readyz)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
