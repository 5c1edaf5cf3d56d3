package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  name: print-portal-edge
  version: "0.1.0"
  environment: dev
server:
  host: "0.0.0.0"
  port: 8080
observability:
  log:
    level: info
    format: json
session:
  redis:
    addr: "redis:6379"
  profile_ttl: "168h"
cookie:
  same_site: strict
  max_age: "168h"
edge:
  login_path: /login
  login_when_authenticated: allow
  admin_prefixes: ["/admin"]
  landing_pages:
    STUDENT: /student/dashboard
  claims:
    mode: unverified
upstream:
  backend_url: "http://print-backend:8080"
  pages_url: "http://print-web:3000"
  timeout: "30s"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", baseYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "print-portal-edge", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Session.Redis.Addr)
	assert.Equal(t, "http://print-backend:8080", cfg.Upstream.BackendURL)
	assert.Equal(t, "/student/dashboard", cfg.Edge.LandingPages["STUDENT"])
	assert.False(t, cfg.SecureCookies())
}

func TestLoad_EnvOverlay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", baseYAML)
	envPath := writeFile(t, dir, "config.prod.yaml", `
app:
  environment: prod
edge:
  claims:
    mode: hmac
    hmac_secret: "s3cret"
`)

	cfg, err := Load(cfgPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Environment)
	assert.Equal(t, "print-portal-edge", cfg.App.Name)
	assert.Equal(t, "hmac", cfg.Edge.Claims.Mode)
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		overlay string
	}{
		{"bad environment", "app:\n  environment: moon\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad same site", "cookie:\n  same_site: sideways\n"},
		{"bad duration", "upstream:\n  timeout: soon\n"},
		{"hmac without secret", "edge:\n  claims:\n    mode: hmac\n"},
		{"jwks without url", "edge:\n  claims:\n    mode: jwks\n"},
		{"relative landing page", "edge:\n  landing_pages:\n    ADMIN: admin/home\n"},
		{"bad login policy", "edge:\n  login_when_authenticated: maybe\n"},
		{"missing backend", "upstream:\n  backend_url: \"\"\n"},
		{"bad allowed origin", "edge:\n  allowed_origins: [\"not a url\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfgPath := writeFile(t, dir, "config.yaml", baseYAML)
			envPath := writeFile(t, dir, "overlay.yaml", tt.overlay)

			_, err := Load(cfgPath, envPath)
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_EnvNotFound(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", baseYAML)
	_, err := Load(cfgPath, "/nonexistent/env.yaml")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback time.Duration
		expected time.Duration
	}{
		{"valid", "30m", 5 * time.Minute, 30 * time.Minute},
		{"empty", "", 5 * time.Minute, 5 * time.Minute},
		{"invalid", "not-a-duration", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDuration(tt.input, tt.fallback)
			assert.Equal(t, tt.expected, got)
		})
	}
}
