package edge

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/claims"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/cookie"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/logout"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/route"
)

const (
	// ClaimsKey is the gin context key where decoded claims are stored.
	ClaimsKey = "portal_claims"

	// RedirectParam carries the originally requested page to the login page.
	RedirectParam = "redirect"

	// NoticeParam carries a user-facing notice to the landing page.
	NoticeParam = "notice"

	// NoticeInsufficientPermission tells a non-admin why they were moved.
	NoticeInsufficientPermission = "insufficient_permission"
)

// LoginPolicy decides what an authenticated visit to the login page does.
type LoginPolicy string

const (
	// LoginAllow renders the login page as usual.
	LoginAllow LoginPolicy = "allow"

	// LoginRedirect sends the user to their landing page.
	LoginRedirect LoginPolicy = "redirect"
)

// Config holds the Gate collaborators.
type Config struct {
	Cookies   *cookie.Manager
	Routes    *route.Table
	Decoder   claims.Decoder
	LoginPath string
	Policy    LoginPolicy
	Decisions *prometheus.CounterVec
	Logger    *slog.Logger
}

// Gate runs on every page navigation before rendering. It only looks at the
// refresh credential cookie; access tokens never reach the edge.
type Gate struct {
	cookies   *cookie.Manager
	routes    *route.Table
	decoder   claims.Decoder
	loginPath string
	policy    LoginPolicy
	decisions *prometheus.CounterVec
	logger    *slog.Logger
}

// NewGate creates a Gate.
func NewGate(cfg Config) *Gate {
	if cfg.LoginPath == "" {
		cfg.LoginPath = logout.DefaultLoginPath
	}
	if cfg.Policy == "" {
		cfg.Policy = LoginAllow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		cookies:   cfg.Cookies,
		routes:    cfg.Routes,
		decoder:   cfg.Decoder,
		loginPath: strings.TrimSuffix(cfg.LoginPath, "/"),
		policy:    cfg.Policy,
		decisions: cfg.Decisions,
		logger:    cfg.Logger,
	}
}

// Middleware returns the gin handler.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		raw := g.cookies.Read(c.Request)

		if g.isLoginPath(path) {
			g.handleLogin(c, raw)
			return
		}

		class := g.routes.Classify(path)
		if class == route.Public {
			g.observe("public")
			c.Next()
			return
		}

		if raw == "" {
			g.observe("unauthenticated")
			g.redirectToLogin(c)
			return
		}

		cl, err := g.decoder.Decode(c.Request.Context(), raw)
		if err != nil {
			g.logger.Debug("credential rejected at edge",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			g.observe("claim_decode_failed")
			g.redirectToLogin(c)
			return
		}

		if err := authorize(class, cl); err != nil {
			g.logger.Debug("navigation denied",
				slog.String("path", path),
				slog.String("role", string(cl.Role)),
				slog.String("error", err.Error()),
			)
			g.observe("forbidden_role")
			target := g.routes.LandingPage(cl.Role) + "?" + url.Values{NoticeParam: {NoticeInsufficientPermission}}.Encode()
			g.redirect(c, target)
			return
		}

		g.observe("allowed")
		c.Set(ClaimsKey, cl)
		c.Next()
	}
}

func (g *Gate) handleLogin(c *gin.Context, raw string) {
	if logout.IsMarked(c.Request.URL.Query()) {
		g.observe("login_after_logout")
		if raw != "" {
			g.cookies.Delete(c.Writer)
		}
		c.Next()
		return
	}

	if raw == "" {
		g.observe("public")
		c.Next()
		return
	}

	cl, err := g.decoder.Decode(c.Request.Context(), raw)
	if err != nil {
		g.observe("login_stale_credential")
		g.cookies.Delete(c.Writer)
		c.Next()
		return
	}

	if g.policy == LoginRedirect {
		g.observe("login_redirect")
		g.redirect(c, g.routes.LandingPage(cl.Role))
		return
	}

	g.observe("public")
	c.Set(ClaimsKey, cl)
	c.Next()
}

// authorize checks the role in cl against the route class.
func authorize(class route.Classification, cl *claims.Claims) error {
	if class == route.AdminOnly && !cl.Role.IsAdmin() {
		return autherr.ErrForbiddenRole
	}
	return nil
}

func (g *Gate) isLoginPath(path string) bool {
	return path == g.loginPath || path == g.loginPath+"/"
}

func (g *Gate) redirectToLogin(c *gin.Context) {
	target := g.loginPath + "?" + url.Values{RedirectParam: {c.Request.URL.RequestURI()}}.Encode()
	g.redirect(c, target)
}

func (g *Gate) redirect(c *gin.Context, target string) {
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

func (g *Gate) observe(decision string) {
	if g.decisions != nil {
		g.decisions.WithLabelValues(decision).Inc()
	}
}

// GetClaims retrieves the claims stored by the Gate.
func GetClaims(c *gin.Context) (*claims.Claims, bool) {
	val, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	cl, ok := val.(*claims.Claims)
	return cl, ok
}
