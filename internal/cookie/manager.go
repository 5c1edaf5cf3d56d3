package cookie

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultName is the refresh credential cookie name.
	DefaultName = "refreshToken"

	// DefaultMaxAge is the refresh credential lifetime.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// Options defines how the refresh credential cookie is issued. The same
// attributes are used to set and to delete it; a deletion with different
// Path or Domain would not match the stored cookie.
type Options struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

func (o Options) normalize() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 || o.SameSite == http.SameSiteDefaultMode {
		o.SameSite = http.SameSiteStrictMode
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// Manager sets, reads and deletes the refresh credential cookie.
type Manager struct {
	opts Options
}

// NewManager creates a cookie manager with defaults applied to opts.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts.normalize()}
}

// Name returns the cookie name.
func (m *Manager) Name() string {
	return m.opts.Name
}

// Options returns the normalized options.
func (m *Manager) Options() Options {
	return m.opts
}

// cookie builds the cookie with the shared attributes. maxAge follows
// http.Cookie semantics: negative means delete now.
func (m *Manager) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.opts.Name,
		Value:    value,
		Path:     m.opts.Path,
		Domain:   m.opts.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: m.opts.SameSite,
	}
}

// Set issues the refresh credential.
func (m *Manager) Set(w http.ResponseWriter, value string) {
	maxAge := int(m.opts.MaxAge / time.Second)
	http.SetCookie(w, m.cookie(value, maxAge, time.Now().Add(m.opts.MaxAge)))
}

// Read returns the refresh credential carried by the request, or "".
func (m *Manager) Read(r *http.Request) string {
	c, err := r.Cookie(m.opts.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Delete removes the refresh credential. Three Set-Cookie headers are
// written: a structured delete, an explicit overwrite with an expiry in the
// past, and a raw header. Any one of them is enough for a conforming client.
func (m *Manager) Delete(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1, time.Time{}))
	http.SetCookie(w, m.cookie("", -1, time.Unix(0, 0)))
	w.Header().Add("Set-Cookie", m.rawDeleteHeader())
}

func (m *Manager) rawDeleteHeader() string {
	var b strings.Builder
	b.WriteString(m.opts.Name)
	b.WriteString("=; Path=")
	b.WriteString(m.opts.Path)
	if m.opts.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(m.opts.Domain)
	}
	b.WriteString("; Max-Age=0; Expires=")
	b.WriteString(time.Unix(0, 0).UTC().Format(http.TimeFormat))
	b.WriteString("; HttpOnly")
	if m.opts.Secure {
		b.WriteString("; Secure")
	}
	b.WriteString("; SameSite=")
	b.WriteString(sameSiteName(m.opts.SameSite))
	return b.String()
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteNoneMode:
		return "None"
	case http.SameSiteStrictMode:
		return "Strict"
	default:
		return strconv.Itoa(int(s))
	}
}

// ParseSameSite maps a configuration string to http.SameSite. Unknown values
// fall back to Strict.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
