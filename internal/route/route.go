package route

import (
	"sort"
	"strings"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

// Classification is the access class of a page path.
type Classification string

const (
	// Public paths are reachable without a session.
	Public Classification = "PUBLIC"

	// Protected paths require a session.
	Protected Classification = "PROTECTED"

	// AdminOnly paths require a session with the ADMIN role.
	AdminOnly Classification = "ADMIN_ONLY"
)

// DefaultPublicPrefixes are reachable without a session.
var DefaultPublicPrefixes = []string{
	"/login",
	"/register",
	"/forgot-password",
	"/reset-password",
	"/static",
	"/_next",
	"/favicon.ico",
	"/robots.txt",
	"/healthz",
	"/readyz",
	"/metrics",
}

// DefaultAdminPrefixes require the ADMIN role.
var DefaultAdminPrefixes = []string{"/admin"}

// DefaultLandingPages maps a role to its home page.
var DefaultLandingPages = map[session.Role]string{
	session.RoleStudent: "/student/dashboard",
	session.RoleAdmin:   "/admin/dashboard",
}

type entry struct {
	prefix string
	class  Classification
}

// Table classifies paths by longest matching prefix. It is immutable after
// construction and safe for concurrent use.
type Table struct {
	entries  []entry
	landing  map[session.Role]string
	fallback string
}

// Config lists the prefixes and landing pages of a Table.
type Config struct {
	PublicPrefixes  []string
	AdminPrefixes   []string
	LandingPages    map[session.Role]string
	FallbackLanding string
}

// NewTable builds a classification table. Empty fields take the defaults.
func NewTable(cfg Config) *Table {
	if len(cfg.PublicPrefixes) == 0 {
		cfg.PublicPrefixes = DefaultPublicPrefixes
	}
	if len(cfg.AdminPrefixes) == 0 {
		cfg.AdminPrefixes = DefaultAdminPrefixes
	}
	if cfg.FallbackLanding == "" {
		cfg.FallbackLanding = "/"
	}

	t := &Table{
		landing:  make(map[session.Role]string),
		fallback: cfg.FallbackLanding,
	}
	for role, page := range DefaultLandingPages {
		t.landing[role] = page
	}
	for role, page := range cfg.LandingPages {
		t.landing[session.ParseRole(string(role))] = page
	}

	for _, p := range cfg.PublicPrefixes {
		t.entries = append(t.entries, entry{prefix: normalizePrefix(p), class: Public})
	}
	for _, p := range cfg.AdminPrefixes {
		t.entries = append(t.entries, entry{prefix: normalizePrefix(p), class: AdminOnly})
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].prefix) > len(t.entries[j].prefix)
	})
	return t
}

// Classify returns the classification of path. Paths matching no prefix are
// Protected.
func (t *Table) Classify(path string) Classification {
	if path == "" {
		path = "/"
	}
	for _, e := range t.entries {
		if matchPrefix(path, e.prefix) {
			return e.class
		}
	}
	return Protected
}

// LandingPage returns the home page for a role.
func (t *Table) LandingPage(role session.Role) string {
	if page, ok := t.landing[role]; ok {
		return page
	}
	return t.fallback
}

// matchPrefix matches on path segment boundaries: "/admin" matches
// "/admin" and "/admin/users" but not "/administrator".
func matchPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
