package session

import "sync"

// Store holds the in-memory session: the access token and the user profile.
// It performs no I/O; persisting the profile is the job of a ProfileStore.
// All methods are safe for concurrent use and a Snapshot never observes a
// half-applied update.
type Store struct {
	mu          sync.RWMutex
	accessToken string
	user        *UserProfile
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{}
}

// SetSession atomically replaces both the access token and the user profile.
func (s *Store) SetSession(token string, user *UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
	s.user = cloneUser(user)
}

// SetAccessToken replaces only the access token. An empty token means absent.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

// SetAccessTokenIf stores token only if allow reports true. allow runs under
// the store lock, so a concurrent Clear cannot slip between the check and the
// write.
func (s *Store) SetAccessTokenIf(token string, allow func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allow != nil && !allow() {
		return false
	}
	s.accessToken = token
	return true
}

// RestoreUser sets the user profile loaded from persistence without a token.
// The session stays unauthenticated until an access token is obtained.
func (s *Store) RestoreUser(user *UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = cloneUser(user)
}

// Clear resets the session. Calling it on an empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.user = nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AccessToken:     s.accessToken,
		User:            cloneUser(s.user),
		IsAuthenticated: s.accessToken != "" && s.user != nil,
	}
}

// AccessToken returns the current access token, empty when absent.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func cloneUser(u *UserProfile) *UserProfile {
	if u == nil {
		return nil
	}
	copied := *u
	return &copied
}
