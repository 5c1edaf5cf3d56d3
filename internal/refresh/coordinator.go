package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

// State is the coordinator's refresh state.
type State int

const (
	// StateIdle means no refresh is in flight.
	StateIdle State = iota
	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// DefaultTimeout bounds a single refresh exchange.
const DefaultTimeout = 10 * time.Second

// Exchanger performs the refresh exchange over a bare transport.
type Exchanger interface {
	ExchangeRefresh(ctx context.Context) (string, error)
}

// AuthFailureHandler reacts to an expired session and reports whether a
// logout is already under way.
type AuthFailureHandler interface {
	LogoutInProgress() bool
	HandleAuthExpired(ctx context.Context, cause error)
}

type result struct {
	token string
	err   error
}

// Coordinator serializes access-token refreshes. At most one exchange is in
// flight; callers arriving meanwhile wait for its outcome and are answered in
// arrival order.
type Coordinator struct {
	exchanger Exchanger
	store     *session.Store
	handler   AuthFailureHandler
	timeout   time.Duration
	outcomes  *prometheus.CounterVec
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	waiters []chan result
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAuthFailureHandler sets the handler invoked when the session expired.
func WithAuthFailureHandler(h AuthFailureHandler) Option {
	return func(c *Coordinator) { c.handler = h }
}

// WithOutcomeCounter counts exchanges by outcome label.
func WithOutcomeCounter(cv *prometheus.CounterVec) Option {
	return func(c *Coordinator) { c.outcomes = cv }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a Coordinator that writes refreshed tokens to store.
func NewCoordinator(exchanger Exchanger, store *session.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		exchanger: exchanger,
		store:     store,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAuthFailureHandler sets the handler after construction, for wiring
// components that refer to each other.
func (c *Coordinator) SetAuthFailureHandler(h AuthFailureHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// State returns the current refresh state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Refresh obtains a new access token. If an exchange is already in flight the
// caller waits for it instead of starting another. A rejected credential
// clears the session and hands off to the auth failure handler; transport
// failures leave the session untouched and are returned as is.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	handler := c.handler
	if handler != nil && handler.LogoutInProgress() {
		c.mu.Unlock()
		return "", autherr.ErrLogoutInProgress
	}

	if c.state == StateRefreshing {
		ch := make(chan result, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.state = StateRefreshing
	c.mu.Unlock()

	token, err := c.exchange(ctx, handler)
	c.settle(result{token: token, err: err})
	return token, err
}

func (c *Coordinator) exchange(ctx context.Context, handler AuthFailureHandler) (string, error) {
	// One caller giving up must not fail the callers queued behind it.
	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	token, err := c.exchanger.ExchangeRefresh(exCtx)
	switch {
	case err == nil:
		// A logout marks itself before clearing the store, so checking under
		// the store lock keeps a late token out of a cleared session.
		stored := c.store.SetAccessTokenIf(token, func() bool {
			return handler == nil || !handler.LogoutInProgress()
		})
		if !stored {
			c.observe("discarded")
			return "", autherr.ErrLogoutInProgress
		}
		c.observe("success")
		return token, nil

	case errors.Is(err, autherr.ErrAuthExpired):
		c.observe("auth_expired")
		c.logger.Info("refresh credential rejected, ending session")
		c.store.Clear()
		if handler != nil && !handler.LogoutInProgress() {
			handler.HandleAuthExpired(ctx, err)
		}
		return "", err

	default:
		if !autherr.IsTransport(err) {
			err = &autherr.TransportError{Op: "refresh", Err: err}
		}
		c.observe("transport_failure")
		c.logger.Warn("refresh failed, session kept", slog.String("error", err.Error()))
		return "", err
	}
}

// settle returns to idle and answers every waiter exactly once, in order.
func (c *Coordinator) settle(r result) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = StateIdle
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- r
	}
}

func (c *Coordinator) observe(outcome string) {
	if c.outcomes != nil {
		c.outcomes.WithLabelValues(outcome).Inc()
	}
}
