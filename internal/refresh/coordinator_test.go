package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

// blockingExchanger returns its configured outcome once released.
type blockingExchanger struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func newBlockingExchanger(token string, err error) *blockingExchanger {
	return &blockingExchanger{release: make(chan struct{}), token: token, err: err}
}

func (e *blockingExchanger) ExchangeRefresh(ctx context.Context) (string, error) {
	e.calls.Add(1)
	select {
	case <-e.release:
	case <-ctx.Done():
		return "", &autherr.TransportError{Op: "refresh", Err: ctx.Err()}
	}
	return e.token, e.err
}

// recordingHandler is an in-memory AuthFailureHandler.
type recordingHandler struct {
	mu         sync.Mutex
	loggingOut bool
	expired    int
}

func (h *recordingHandler) LogoutInProgress() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loggingOut
}

func (h *recordingHandler) HandleAuthExpired(context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired++
	h.loggingOut = true
}

func (h *recordingHandler) setLoggingOut(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggingOut = v
}

func waitForWaiters(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func authenticatedStore() *session.Store {
	store := session.NewStore()
	store.SetSession("stale", &session.UserProfile{ID: "u-1", Role: session.RoleStudent})
	return store
}

func runConcurrent(c *Coordinator, n int) ([]string, []error, *sync.WaitGroup) {
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.Refresh(context.Background())
		}(i)
	}
	return tokens, errs, &wg
}

func TestCoordinator_SingleFlight(t *testing.T) {
	const n = 8
	ex := newBlockingExchanger("fresh", nil)
	store := authenticatedStore()
	c := NewCoordinator(ex, store)

	tokens, errs, wg := runConcurrent(c, n)
	waitForWaiters(t, c, n-1)
	assert.Equal(t, StateRefreshing, c.State())

	close(ex.release)
	wg.Wait()

	assert.Equal(t, int32(1), ex.calls.Load())
	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, "fresh", tokens[i])
	}
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "fresh", store.AccessToken())
	assert.True(t, store.Snapshot().IsAuthenticated)
}

func TestCoordinator_AuthExpiredClearsAndRejectsQueue(t *testing.T) {
	const n = 5
	ex := newBlockingExchanger("", autherr.ErrAuthExpired)
	store := authenticatedStore()
	handler := &recordingHandler{}
	c := NewCoordinator(ex, store, WithAuthFailureHandler(handler))

	_, errs, wg := runConcurrent(c, n)
	waitForWaiters(t, c, n-1)
	close(ex.release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, autherr.ErrAuthExpired)
	}
	assert.Equal(t, int32(1), ex.calls.Load())
	assert.Equal(t, session.Snapshot{}, store.Snapshot())
	assert.Equal(t, 1, handler.expired)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_TransportFailureKeepsSession(t *testing.T) {
	const n = 4
	ex := newBlockingExchanger("", &autherr.TransportError{Op: "refresh", StatusCode: 503})
	store := authenticatedStore()
	handler := &recordingHandler{}
	c := NewCoordinator(ex, store, WithAuthFailureHandler(handler))
	before := store.Snapshot()

	_, errs, wg := runConcurrent(c, n)
	waitForWaiters(t, c, n-1)
	close(ex.release)
	wg.Wait()

	for _, err := range errs {
		assert.True(t, autherr.IsTransport(err))
	}
	assert.Equal(t, before, store.Snapshot())
	assert.Zero(t, handler.expired)
}

func TestCoordinator_UnclassifiedErrorIsTransport(t *testing.T) {
	ex := newBlockingExchanger("", errors.New("connection reset"))
	close(ex.release)
	store := authenticatedStore()
	c := NewCoordinator(ex, store)

	_, err := c.Refresh(context.Background())
	assert.True(t, autherr.IsTransport(err))
	assert.Equal(t, "stale", store.AccessToken())
}

func TestCoordinator_ExchangeTimeout(t *testing.T) {
	ex := newBlockingExchanger("never", nil)
	store := authenticatedStore()
	c := NewCoordinator(ex, store, WithTimeout(30*time.Millisecond))

	_, err := c.Refresh(context.Background())
	assert.True(t, autherr.IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "stale", store.AccessToken())
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_InitiatorCancelDoesNotFailWaiters(t *testing.T) {
	ex := newBlockingExchanger("fresh", nil)
	c := NewCoordinator(ex, authenticatedStore())

	ctx, cancel := context.WithCancel(context.Background())
	initiator := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		initiator <- err
	}()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	waiterTokens, waiterErrs, wg := runConcurrent(c, 1)
	waitForWaiters(t, c, 1)
	cancel()
	close(ex.release)
	wg.Wait()

	assert.NoError(t, <-initiator)
	assert.NoError(t, waiterErrs[0])
	assert.Equal(t, "fresh", waiterTokens[0])
}

func TestCoordinator_WaiterHonoursOwnContext(t *testing.T) {
	ex := newBlockingExchanger("fresh", nil)
	c := NewCoordinator(ex, authenticatedStore())

	go func() { _, _ = c.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateRefreshing }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(ex.release)
	require.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_LogoutInProgress(t *testing.T) {
	ex := newBlockingExchanger("fresh", nil)
	close(ex.release)
	handler := &recordingHandler{loggingOut: true}
	c := NewCoordinator(ex, authenticatedStore(), WithAuthFailureHandler(handler))

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, autherr.ErrLogoutInProgress)
	assert.Zero(t, ex.calls.Load())
}

func TestCoordinator_LogoutDuringExchangeDiscardsToken(t *testing.T) {
	ex := newBlockingExchanger("fresh", nil)
	store := authenticatedStore()
	handler := &recordingHandler{}
	c := NewCoordinator(ex, store, WithAuthFailureHandler(handler))

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	handler.setLoggingOut(true)
	store.Clear()
	close(ex.release)

	assert.ErrorIs(t, <-done, autherr.ErrLogoutInProgress)
	assert.Empty(t, store.AccessToken())
}

// racingHandler starts clearing the store on the given LogoutInProgress call,
// as a logout does right after the exchange result is checked.
type racingHandler struct {
	recordingHandler
	store   *session.Store
	raceOn  int32
	calls   atomic.Int32
	cleared chan struct{}
}

func (h *racingHandler) LogoutInProgress() bool {
	if h.calls.Add(1) == h.raceOn {
		go func() {
			h.store.Clear()
			close(h.cleared)
		}()
	}
	return h.recordingHandler.LogoutInProgress()
}

func TestCoordinator_LogoutRacingTokenWriteLeavesStoreCleared(t *testing.T) {
	ex := newBlockingExchanger("fresh", nil)
	close(ex.release)
	store := authenticatedStore()
	handler := &racingHandler{store: store, raceOn: 2, cleared: make(chan struct{})}
	c := NewCoordinator(ex, store, WithAuthFailureHandler(handler))

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	<-handler.cleared
	assert.Empty(t, store.AccessToken())
	assert.False(t, store.Snapshot().IsAuthenticated)
}

func TestCoordinator_SettleDrainsInOrderOnce(t *testing.T) {
	c := NewCoordinator(newBlockingExchanger("", nil), session.NewStore())
	chans := make([]chan result, 3)
	for i := range chans {
		chans[i] = make(chan result, 1)
	}
	c.waiters = append(c.waiters, chans...)
	c.state = StateRefreshing

	c.settle(result{token: "t"})
	c.settle(result{token: "again"})

	for _, ch := range chans {
		assert.Equal(t, "t", (<-ch).token)
		assert.Len(t, ch, 0)
	}
	assert.Empty(t, c.waiters)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_OutcomeCounter(t *testing.T) {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_refresh_total"}, []string{"outcome"})
	ex := newBlockingExchanger("fresh", nil)
	close(ex.release)
	c := NewCoordinator(ex, authenticatedStore(), WithOutcomeCounter(cv))

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(cv.WithLabelValues("success")))
}
