package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
)

// HeaderCorrelationID carries the per-call correlation ID, identical on a retry.
const HeaderCorrelationID = "X-Correlation-Id"

// TokenSource supplies the current access token, empty when absent.
type TokenSource interface {
	AccessToken() string
}

// Refresher obtains a new access token, coalescing concurrent callers.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Gateway issues authenticated API calls. A 401 on a non-auth path triggers
// one coordinated refresh and one retry; a second 401 is returned to the
// caller as is.
type Gateway struct {
	baseURL    string
	basePath   string
	httpClient *http.Client
	tokens     TokenSource
	refresher  Refresher
	isAuthPath func(string) bool
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) { g.httpClient = hc }
}

// WithAuthPaths marks paths that must never trigger a refresh.
func WithAuthPaths(fn func(path string) bool) Option {
	return func(g *Gateway) { g.isAuthPath = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway for the API at baseURL.
func New(baseURL string, tokens TokenSource, refresher Refresher, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse api base url: %w", err)
	}

	g := &Gateway{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		basePath:   strings.TrimSuffix(u.Path, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		refresher:  refresher,
		isAuthPath: func(string) bool { return false },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewRequest builds a request for path relative to the base URL.
func (g *Gateway) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
}

// Do sends req with the current access token. The request body is buffered
// so the single retry can replay it. Network failures are returned as
// *autherr.TransportError; refresh failures are returned unchanged.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	correlationID := req.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	resp, err := g.send(req, body, g.tokens.AccessToken(), correlationID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || g.isAuthPath(g.relativePath(req.URL.Path)) {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err := g.refresher.Refresh(req.Context())
	if err != nil {
		g.logger.Debug("request not retried, refresh failed",
			slog.String("path", req.URL.Path),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return g.send(req, body, token, correlationID)
}

// GetJSON performs GET path and decodes the JSON response into out.
func (g *Gateway) GetJSON(ctx context.Context, path string, out any) error {
	return g.DoJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs POST path with in as JSON and decodes the response into out.
func (g *Gateway) PostJSON(ctx context.Context, path string, in, out any) error {
	return g.DoJSON(ctx, http.MethodPost, path, in, out)
}

// DoJSON performs a JSON call. A non-2xx status is returned as *autherr.APIError.
func (g *Gateway) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := g.NewRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &autherr.TransportError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &autherr.APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (g *Gateway) send(orig *http.Request, body []byte, token, correlationID string) (*http.Response, error) {
	req := orig.Clone(orig.Context())
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
	req.Header.Set(HeaderCorrelationID, correlationID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &autherr.TransportError{Op: orig.Method + " " + orig.URL.Path, Err: err}
	}
	return resp, nil
}

func (g *Gateway) relativePath(p string) string {
	if g.basePath == "" {
		return p
	}
	return strings.TrimPrefix(p, g.basePath)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}
