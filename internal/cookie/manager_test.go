package cookie

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Options{})

	opts := m.Options()
	assert.Equal(t, DefaultName, m.Name())
	assert.Equal(t, "/", opts.Path)
	assert.Equal(t, http.SameSiteStrictMode, opts.SameSite)
	assert.Equal(t, DefaultMaxAge, opts.MaxAge)
}

func TestManager_Set(t *testing.T) {
	m := NewManager(Options{Secure: true})
	w := httptest.NewRecorder()

	m.Set(w, "refresh-abc")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "refreshToken", c.Name)
	assert.Equal(t, "refresh-abc", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, 7*24*3600, c.MaxAge)
}

func TestManager_Read(t *testing.T) {
	m := NewManager(Options{Name: "rt"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, m.Read(req))

	req.AddCookie(&http.Cookie{Name: "rt", Value: "refresh-abc"})
	assert.Equal(t, "refresh-abc", m.Read(req))
}

func TestManager_DeleteEmitsThreeMatchingHeaders(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		secure bool
	}{
		{"dev", Options{}, false},
		{"prod with domain", Options{Secure: true, Domain: "print.example.edu"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.opts)
			w := httptest.NewRecorder()

			m.Delete(w)

			headers := w.Header().Values("Set-Cookie")
			require.Len(t, headers, 3)
			for _, h := range headers {
				assert.True(t, strings.HasPrefix(h, "refreshToken=;"), h)
				assert.Contains(t, h, "Path=/")
				assert.Contains(t, h, "Max-Age=0")
				assert.Contains(t, h, "HttpOnly")
				assert.Contains(t, h, "SameSite=Strict")
				assert.Equal(t, tt.secure, strings.Contains(h, "Secure"), h)
				if tt.opts.Domain != "" {
					assert.Contains(t, h, "Domain="+tt.opts.Domain)
				}
			}
			assert.Contains(t, headers[1], "Expires=Thu, 01 Jan 1970 00:00:00 GMT")
			assert.Contains(t, headers[2], "Expires=Thu, 01 Jan 1970 00:00:00 GMT")

			for _, c := range w.Result().Cookies() {
				assert.Empty(t, c.Value)
				assert.Equal(t, -1, c.MaxAge)
			}
		})
	}
}

func TestParseSameSite(t *testing.T) {
	assert.Equal(t, http.SameSiteLaxMode, ParseSameSite("Lax"))
	assert.Equal(t, http.SameSiteNoneMode, ParseSameSite("none"))
	assert.Equal(t, http.SameSiteStrictMode, ParseSameSite(""))
	assert.Equal(t, http.SameSiteStrictMode, ParseSameSite("strict"))
}
