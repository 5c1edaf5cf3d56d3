package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/authapi"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/gateway"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/logout"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/refresh"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

// DefaultProfileKey is used when no profile key is configured.
const DefaultProfileKey = "default"

// Config holds the portal client settings.
type Config struct {
	// EdgeURL is the portal edge base URL.
	EdgeURL string

	// CookieFile persists the refresh credential across restarts. Empty
	// keeps cookies in memory only.
	CookieFile string

	// Profiles persists the user profile. Defaults to memory.
	Profiles   session.ProfileStore
	ProfileKey string

	// Navigator receives post-logout navigations. Defaults to an in-memory one.
	Navigator logout.Navigator

	LoginPath       string
	RequestTimeout  time.Duration
	RefreshTimeout  time.Duration
	TeardownTimeout time.Duration

	RefreshOutcomes *prometheus.CounterVec
	Logger          *slog.Logger
}

// Client is one portal session: it logs in, sends authenticated API calls,
// refreshes the access token when it expires, and logs out.
type Client struct {
	store      *session.Store
	profiles   session.ProfileStore
	profileKey string
	auth       *authapi.Client
	coord      *refresh.Coordinator
	gw         *gateway.Gateway
	seq        *logout.Sequencer
	nav        logout.Navigator
	jar        *cookiejar.Jar
	logger     *slog.Logger
}

// New wires a Client.
func New(cfg Config) (*Client, error) {
	if cfg.EdgeURL == "" {
		return nil, errors.New("portal: edge url is required")
	}
	if cfg.Profiles == nil {
		cfg.Profiles = session.NewMemoryProfileStore()
	}
	if cfg.ProfileKey == "" {
		cfg.ProfileKey = DefaultProfileKey
	}
	if cfg.Navigator == nil {
		cfg.Navigator = logout.NewLocationNavigator("/")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	jar, err := cookiejar.New(&cookiejar.Options{
		Filename:  cfg.CookieFile,
		NoPersist: cfg.CookieFile == "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie jar: %w", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: cfg.RequestTimeout}

	store := session.NewStore()
	auth := authapi.NewClient(cfg.EdgeURL,
		authapi.WithHTTPClient(httpClient),
		authapi.WithPaths(authapi.EdgePaths),
	)

	seq := logout.NewSequencer(logout.Config{
		Store:           store,
		Profiles:        cfg.Profiles,
		ProfileKey:      cfg.ProfileKey,
		Remote:          auth,
		Navigator:       cfg.Navigator,
		LoginPath:       cfg.LoginPath,
		TeardownTimeout: cfg.TeardownTimeout,
		Logger:          cfg.Logger,
	})

	coord := refresh.NewCoordinator(auth, store,
		refresh.WithTimeout(cfg.RefreshTimeout),
		refresh.WithAuthFailureHandler(seq),
		refresh.WithOutcomeCounter(cfg.RefreshOutcomes),
		refresh.WithLogger(cfg.Logger),
	)

	gw, err := gateway.New(cfg.EdgeURL, store, coord,
		gateway.WithHTTPClient(httpClient),
		gateway.WithAuthPaths(auth.IsAuthPath),
		gateway.WithLogger(cfg.Logger),
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		profiles:   cfg.Profiles,
		profileKey: cfg.ProfileKey,
		auth:       auth,
		coord:      coord,
		gw:         gw,
		seq:        seq,
		nav:        cfg.Navigator,
		jar:        jar,
		logger:     cfg.Logger,
	}, nil
}

// Login authenticates and starts a fresh session.
func (c *Client) Login(ctx context.Context, username, password string) (*session.UserProfile, error) {
	result, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	c.store.SetSession(result.AccessToken, result.User)
	c.seq.Reset()

	if err := c.profiles.Save(ctx, c.profileKey, result.User); err != nil {
		c.logger.Warn("failed to persist profile", slog.String("error", err.Error()))
	}
	if err := c.jar.Save(); err != nil {
		c.logger.Warn("failed to save cookie jar", slog.String("error", err.Error()))
	}
	return result.User, nil
}

// Restore resumes a session after a restart: the persisted profile is loaded
// and a new access token is obtained with the refresh credential. Without a
// persisted profile it does nothing.
func (c *Client) Restore(ctx context.Context) (session.Snapshot, error) {
	user, err := c.profiles.Load(ctx, c.profileKey)
	if err != nil {
		return c.store.Snapshot(), fmt.Errorf("failed to load profile: %w", err)
	}
	if user == nil {
		return c.store.Snapshot(), nil
	}

	c.store.RestoreUser(user)
	if _, err := c.coord.Refresh(ctx); err != nil {
		return c.store.Snapshot(), err
	}
	return c.store.Snapshot(), nil
}

// Do sends an API request through the gateway.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.gw.Do(req)
}

// NewRequest builds a request for an edge path.
func (c *Client) NewRequest(ctx context.Context, method, path string) (*http.Request, error) {
	return c.gw.NewRequest(ctx, method, path, nil)
}

// GetJSON performs an authenticated GET.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.gw.GetJSON(ctx, path, out)
}

// PostJSON performs an authenticated POST.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.gw.PostJSON(ctx, path, in, out)
}

// Logout ends the session and returns the login URL navigated to.
func (c *Client) Logout(ctx context.Context) (string, error) {
	return c.seq.Logout(ctx)
}

// Snapshot returns the current session state.
func (c *Client) Snapshot() session.Snapshot {
	return c.store.Snapshot()
}

// Location returns where the navigator currently points.
func (c *Client) Location() string {
	return c.nav.Location()
}

// RefreshState reports whether a refresh is in flight.
func (c *Client) RefreshState() refresh.State {
	return c.coord.State()
}

// Close waits for background logout calls and saves the cookie jar.
func (c *Client) Close() error {
	c.seq.Wait()
	if err := c.jar.Save(); err != nil {
		return fmt.Errorf("cannot save cookie jar: %w", err)
	}
	return nil
}

// IsSessionEnded reports whether err means the user must log in again.
func IsSessionEnded(err error) bool {
	return errors.Is(err, autherr.ErrAuthExpired) || errors.Is(err, autherr.ErrLogoutInProgress)
}
