package logout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

const (
	// MarkerParam flags a navigation that follows a logout.
	MarkerParam = "logout"

	// TimestampParam makes every post-logout URL unique.
	TimestampParam = "t"

	// DefaultLoginPath is where a logged-out user lands.
	DefaultLoginPath = "/login"

	// DefaultTeardownTimeout bounds each background teardown call.
	DefaultTeardownTimeout = 5 * time.Second
)

// IsMarked reports whether query carries the post-logout marker.
func IsMarked(query url.Values) bool {
	return query.Get(MarkerParam) == "true" && query.Get(TimestampParam) != ""
}

// State is the sequencer state.
type State int

const (
	// StateIdle means no logout is under way.
	StateIdle State = iota
	// StateLoggingOut suppresses refresh failure handling until the next login.
	StateLoggingOut
)

// Navigator moves the user to another page.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
	Replace(ctx context.Context, target string) error
	Location() string
}

// Remote invalidates the credential server-side and clears the local cookie.
type Remote interface {
	Logout(ctx context.Context, credential string) error
	ClearSession(ctx context.Context) error
}

// Sequencer tears down the session in a fixed order: local state first, then
// navigation, then best-effort remote calls that never block the user.
type Sequencer struct {
	store      *session.Store
	profiles   session.ProfileStore
	profileKey string
	remote     Remote
	nav        Navigator
	loginPath  string
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state State
	wg    sync.WaitGroup
}

// Config holds the Sequencer collaborators.
type Config struct {
	Store           *session.Store
	Profiles        session.ProfileStore
	ProfileKey      string
	Remote          Remote
	Navigator       Navigator
	LoginPath       string
	TeardownTimeout time.Duration
	Logger          *slog.Logger
}

// NewSequencer creates a Sequencer.
func NewSequencer(cfg Config) *Sequencer {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sequencer{
		store:      cfg.Store,
		profiles:   cfg.Profiles,
		profileKey: cfg.ProfileKey,
		remote:     cfg.Remote,
		nav:        cfg.Navigator,
		loginPath:  cfg.LoginPath,
		timeout:    cfg.TeardownTimeout,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LogoutInProgress reports whether a logout started since the last Reset.
func (s *Sequencer) LogoutInProgress() bool {
	return s.State() == StateLoggingOut
}

// Reset returns to idle. Called after a successful login.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

// Wait blocks until background teardown calls have finished.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

// Logout ends the session and returns the login URL navigated to. Calling it
// again is harmless.
func (s *Sequencer) Logout(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.state = StateLoggingOut
	s.mu.Unlock()

	return s.run(ctx)
}

// HandleAuthExpired runs the logout sequence after the refresh credential
// was rejected, unless a logout is already under way.
func (s *Sequencer) HandleAuthExpired(ctx context.Context, cause error) {
	s.mu.Lock()
	if s.state == StateLoggingOut {
		s.mu.Unlock()
		return
	}
	s.state = StateLoggingOut
	s.mu.Unlock()

	s.logger.Info("session expired, returning to login", slog.String("cause", errString(cause)))
	if _, err := s.run(ctx); err != nil {
		s.logger.Error("failed to leave expired session", slog.String("error", err.Error()))
	}
}

func (s *Sequencer) run(ctx context.Context) (string, error) {
	s.store.Clear()
	if s.profiles != nil {
		if err := s.profiles.Delete(ctx, s.profileKey); err != nil {
			s.logger.Warn("failed to delete persisted profile", slog.String("error", err.Error()))
		}
	}

	target := s.loginURL()
	if err := s.nav.Navigate(ctx, target); err != nil {
		s.logger.Warn("navigation to login failed", slog.String("error", err.Error()))
	}

	s.teardown(ctx)

	if s.nav.Location() != target {
		if err := s.nav.Replace(ctx, target); err != nil {
			return target, fmt.Errorf("failed to replace location: %w", err)
		}
	}
	return target, nil
}

// teardown fires the remote calls in the background. The local cookie is
// cleared only after the backend logout returns, because the edge reads the
// credential from that cookie. Failures are logged and otherwise ignored.
func (s *Sequencer) teardown(ctx context.Context) {
	if s.remote == nil {
		return
	}

	base := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var errs []error
		lctx, cancel := context.WithTimeout(base, s.timeout)
		if err := s.remote.Logout(lctx, ""); err != nil {
			s.logger.Warn("backend logout failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		cancel()

		cctx, cancel := context.WithTimeout(base, s.timeout)
		if err := s.remote.ClearSession(cctx); err != nil {
			s.logger.Warn("local session clear failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		cancel()

		if err := errors.Join(errs...); err != nil {
			s.logger.Debug("logout teardown incomplete", slog.String("error", err.Error()))
		}
	}()
}

func (s *Sequencer) loginURL() string {
	nonce := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	q := url.Values{}
	q.Set(MarkerParam, "true")
	q.Set(TimestampParam, strconv.FormatInt(s.now().UnixMilli(), 10)+"-"+nonce)
	return s.loginPath + "?" + q.Encode()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LocationNavigator is an in-memory Navigator that records the history.
type LocationNavigator struct {
	mu      sync.Mutex
	history []string
}

// NewLocationNavigator creates a navigator positioned at start.
func NewLocationNavigator(start string) *LocationNavigator {
	return &LocationNavigator{history: []string{start}}
}

// Navigate pushes target.
func (n *LocationNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, target)
	return nil
}

// Replace overwrites the current entry with target.
func (n *LocationNavigator) Replace(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history[len(n.history)-1] = target
	return nil
}

// Location returns the current entry.
func (n *LocationNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.history[len(n.history)-1]
}

// History returns a copy of all entries.
func (n *LocationNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}
