package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/21chrisab/mailbrief/internal/auth"
	"github.com/21chrisab/mailbrief/internal/logging"
)

// DefaultTimeout is how long an idle session survives before the sweep
// removes it.
const DefaultTimeout = 24 * time.Hour

const sweepInterval = 10 * time.Minute

// entry tracks a session's identity and last access for cleanup.
type entry struct {
	identity   *auth.Identity
	lastAccess time.Time
}

// Store maps opaque session ids to signed-in identities. A session either
// holds no identity (anonymous) or exactly one; it is written once per login
// cycle by the redirect handler and read-only thereafter.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	timeout  time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	logger   *slog.Logger
}

// NewStore creates a session store with the default idle timeout.
func NewStore() *Store {
	return NewStoreWithTimeout(DefaultTimeout, slog.Default())
}

// NewStoreWithTimeout creates a session store with a custom idle timeout.
func NewStoreWithTimeout(timeout time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		sessions: make(map[string]*entry),
		timeout:  timeout,
		ticker:   time.NewTicker(sweepInterval),
		done:     make(chan struct{}),
		logger:   logging.WithComponent(logger, "session"),
	}

	go s.sweep()

	return s
}

// Create issues a fresh opaque session id with no identity attached.
func (s *Store) Create() string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &entry{lastAccess: time.Now()}

	return id
}

// Get returns the identity stored for the session, if any. The second
// return is false for unknown sessions and for anonymous ones.
func (s *Store) Get(id string) (auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return auth.Identity{}, false
	}
	e.lastAccess = time.Now()
	if e.identity == nil {
		return auth.Identity{}, false
	}
	return *e.identity, true
}

// Exists reports whether the session id is known to the store, identity or
// not.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Set stores the identity for the session, creating the session if the id
// is unknown (the cookie may outlive a server restart). Called exactly once
// per login cycle, immediately after a successful code exchange; a re-login
// replaces the identity wholesale.
func (s *Store) Set(id string, identity auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		e = &entry{}
		s.sessions[id] = e
	}
	e.identity = &identity
	e.lastAccess = time.Now()
}

// Clear removes the session. Idempotent: clearing an unknown or anonymous
// session is a no-op.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// sweep periodically removes sessions idle past the timeout.
func (s *Store) sweep() {
	for {
		select {
		case <-s.ticker.C:
			if expired := s.sweepExpired(); expired > 0 {
				s.logger.Info("cleaned up expired sessions", logging.Count(expired))
			}
		case <-s.done:
			return
		}
	}
}

// sweepExpired removes sessions idle past the timeout and returns how many
// were dropped.
func (s *Store) sweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	expired := 0
	for id, e := range s.sessions {
		if now.Sub(e.lastAccess) > s.timeout {
			delete(s.sessions, id)
			expired++
		}
	}
	return expired
}

// Stop stops the cleanup goroutine.
func (s *Store) Stop() {
	s.ticker.Stop()
	close(s.done)
}
