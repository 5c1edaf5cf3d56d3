package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/cookie"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

// Paths are the auth endpoints relative to the base URL.
type Paths struct {
	Login        string
	Refresh      string
	Logout       string
	ClearSession string
}

// BackendPaths are the auth endpoints of the remote backend.
var BackendPaths = Paths{
	Login:   "/auth/login",
	Refresh: "/auth/refresh",
	Logout:  "/auth/logout",
}

// EdgePaths are the auth endpoints served by the portal edge.
var EdgePaths = Paths{
	Login:        "/api/auth/login",
	Refresh:      "/api/auth/refresh",
	Logout:       "/api/auth/logout",
	ClearSession: "/auth/session/clear",
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	AccessToken string               `json:"accessToken"`
	User        *session.UserProfile `json:"user"`

	// RefreshCredential is the credential cookie value set by the server, if any.
	RefreshCredential string `json:"-"`
}

// RefreshResult is the outcome of a successful refresh.
type RefreshResult struct {
	AccessToken string `json:"accessToken"`

	// RefreshCredential is set when the server rotated the credential.
	RefreshCredential string `json:"-"`
}

// Client calls the auth endpoints over a bare transport: no bearer token is
// attached and no 401 is retried, so a rejected refresh can never recurse
// into another refresh.
type Client struct {
	baseURL    string
	paths      Paths
	cookieName string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its Jar, if any, carries
// the refresh credential when no explicit credential is passed.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPaths overrides the endpoint paths.
func WithPaths(p Paths) Option {
	return func(c *Client) { c.paths = p }
}

// WithCookieName sets the refresh credential cookie name.
func WithCookieName(name string) Option {
	return func(c *Client) { c.cookieName = name }
}

// NewClient creates an auth API client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		paths:      BackendPaths,
		cookieName: cookie.DefaultName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Paths returns the configured endpoint paths.
func (c *Client) Paths() Paths {
	return c.paths
}

// IsAuthPath reports whether path is one of the auth endpoints.
func (c *Client) IsAuthPath(path string) bool {
	for _, p := range []string{c.paths.Login, c.paths.Refresh, c.paths.Logout, c.paths.ClearSession} {
		if p != "" && path == p {
			return true
		}
	}
	return false
}

// Login exchanges username and password for an access token and profile.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}

	resp, data, err := c.do(ctx, "login", c.paths.Login, "", body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return nil, autherr.ErrInvalidCredentials
	case !isSuccess(resp.StatusCode):
		return nil, &autherr.TransportError{Op: "login", StatusCode: resp.StatusCode}
	}

	var result LoginResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &autherr.TransportError{Op: "login", Err: fmt.Errorf("failed to parse login response: %w", err)}
	}
	if result.AccessToken == "" || result.User == nil {
		return nil, &autherr.TransportError{Op: "login", Err: errors.New("login response missing access token or user")}
	}
	result.User.Role = session.ParseRole(string(result.User.Role))
	result.RefreshCredential = c.credentialFrom(resp)
	return &result, nil
}

// Refresh exchanges the refresh credential for a new access token. An empty
// credential relies on the client's cookie jar. A 401 or 403 answer yields
// autherr.ErrAuthExpired; anything else unexpected is a *autherr.TransportError.
func (c *Client) Refresh(ctx context.Context, credential string) (*RefreshResult, error) {
	resp, data, err := c.do(ctx, "refresh", c.paths.Refresh, credential, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, autherr.ErrAuthExpired
	case !isSuccess(resp.StatusCode):
		return nil, &autherr.TransportError{Op: "refresh", StatusCode: resp.StatusCode}
	}

	var result RefreshResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &autherr.TransportError{Op: "refresh", Err: fmt.Errorf("failed to parse refresh response: %w", err)}
	}
	if result.AccessToken == "" {
		return nil, &autherr.TransportError{Op: "refresh", Err: errors.New("refresh response missing access token")}
	}
	result.RefreshCredential = c.credentialFrom(resp)
	return &result, nil
}

// ExchangeRefresh refreshes using the cookie jar and returns only the token.
func (c *Client) ExchangeRefresh(ctx context.Context) (string, error) {
	result, err := c.Refresh(ctx, "")
	if err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

// Logout asks the server to invalidate the refresh credential.
func (c *Client) Logout(ctx context.Context, credential string) error {
	resp, _, err := c.do(ctx, "logout", c.paths.Logout, credential, nil)
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return &autherr.TransportError{Op: "logout", StatusCode: resp.StatusCode}
	}
	return nil
}

// ClearSession asks the edge to delete the credential cookie locally.
func (c *Client) ClearSession(ctx context.Context) error {
	if c.paths.ClearSession == "" {
		return nil
	}
	resp, _, err := c.do(ctx, "clear session", c.paths.ClearSession, "", nil)
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return &autherr.TransportError{Op: "clear session", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, path, credential string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: credential})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &autherr.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &autherr.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return resp, data, nil
}

func (c *Client) credentialFrom(resp *http.Response) string {
	for _, ck := range resp.Cookies() {
		if ck.Name == c.cookieName && ck.Value != "" && ck.MaxAge >= 0 {
			return ck.Value
		}
	}
	return ""
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
