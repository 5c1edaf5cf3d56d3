package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/edge"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/middleware"
)

const (
	// HeaderUserID tells the page renderer who the gate admitted.
	HeaderUserID = "X-Portal-User-Id"

	// HeaderUserRole tells the page renderer the admitted user's role.
	HeaderUserRole = "X-Portal-User-Role"

	apiPrefix = "/api/"
)

// ProxyHandler forwards API calls to the backend and page navigations to the
// page renderer.
type ProxyHandler struct {
	api    *httputil.ReverseProxy
	pages  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewProxyHandler creates the proxies. An empty pagesURL disables page
// forwarding; unmatched pages then answer 404.
func NewProxyHandler(backendURL, pagesURL string, timeout time.Duration, logger *slog.Logger) (*ProxyHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	api, err := newReverseProxy(backendURL, timeout, logger)
	if err != nil {
		return nil, err
	}

	h := &ProxyHandler{api: api, logger: logger}
	if pagesURL != "" {
		if h.pages, err = newReverseProxy(pagesURL, timeout, logger); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func newReverseProxy(rawURL string, timeout time.Duration, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: timeout,
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream request failed",
			slog.String("upstream", target.Host),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"PORTAL_UPSTREAM_UNAVAILABLE","message":"Upstream unavailable"}`))
	}
	return proxy, nil
}

// Dispatch sends /api/* to the API proxy and runs pageMiddleware for every
// other path. Register it with NoRoute ahead of HandlePage.
func (h *ProxyHandler) Dispatch(pageMiddleware gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, apiPrefix) {
			h.HandleAPI(c)
			c.Abort()
			return
		}
		pageMiddleware(c)
	}
}

// HandleAPI proxies an API call. The bearer token set by the client is
// passed through; cookies are never forwarded.
func (h *ProxyHandler) HandleAPI(c *gin.Context) {
	propagateCorrelation(c)
	c.Request.Header.Del("Cookie")
	h.api.ServeHTTP(c.Writer, c.Request)
}

// HandlePage proxies a page navigation admitted by the edge gate.
func (h *ProxyHandler) HandlePage(c *gin.Context) {
	if h.pages == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "PORTAL_PAGE_NOT_FOUND",
			"message": "Page not found",
		})
		return
	}

	// Identity headers only ever come from the gate.
	c.Request.Header.Del(HeaderUserID)
	c.Request.Header.Del(HeaderUserRole)
	if cl, ok := edge.GetClaims(c); ok {
		c.Request.Header.Set(HeaderUserID, cl.UserID)
		c.Request.Header.Set(HeaderUserRole, string(cl.Role))
	}

	propagateCorrelation(c)
	h.pages.ServeHTTP(c.Writer, c.Request)
}

func propagateCorrelation(c *gin.Context) {
	if cid := c.GetString(middleware.CorrelationIDKey); cid != "" {
		c.Request.Header.Set(middleware.HeaderCorrelationID, cid)
	}
	if tid := c.GetString(middleware.TraceIDKey); tid != "" {
		c.Request.Header.Set(middleware.HeaderTraceID, tid)
	}
}
