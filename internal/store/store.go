// Package store holds the application-facing snapshot of connection
// and session state. It is a pure downstream consumer: every write
// arrives through an event-bus subscription, never from socket or
// session code calling in directly.
package store

import (
	"sync"

	"github.com/musicatri/console/internal/session"
	"github.com/musicatri/console/internal/socket"
)

// Store is the last-published application state.
type Store struct {
	mu             sync.RWMutex
	socketStates   map[string]string
	user           *session.User
	sessionExpired bool
}

// New builds an empty store.
func New() *Store {
	return &Store{socketStates: make(map[string]string)}
}

// WatchMachine subscribes the store to a machine's bus under the given
// namespace label.
func (s *Store) WatchMachine(namespace string, m *socket.Machine) {
	m.Bus().Subscribe(socket.TopicStateChange, func(payload any) {
		state, ok := payload.(string)
		if !ok {
			return
		}
		s.mu.Lock()
		s.socketStates[namespace] = state
		s.mu.Unlock()
	})
}

// WatchSession subscribes the store to a coordinator's bus.
func (s *Store) WatchSession(c *session.Coordinator) {
	c.Bus().Subscribe(session.TopicSessionExpired, func(any) {
		s.mu.Lock()
		s.sessionExpired = true
		s.user = nil
		s.mu.Unlock()
	})
}

// SetUser records the current user snapshot.
func (s *Store) SetUser(user *session.User) {
	s.mu.Lock()
	s.user = user
	s.sessionExpired = false
	s.mu.Unlock()
}

// SocketState returns the last-published state for a namespace, or
// "uninitialized" when nothing was published yet.
func (s *Store) SocketState(namespace string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.socketStates[namespace]; ok {
		return state
	}
	return socket.StateUninitialized.String()
}

// CurrentUser returns the recorded user snapshot, or nil.
func (s *Store) CurrentUser() *session.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SessionExpired reports whether an expiry notification was observed.
func (s *Store) SessionExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionExpired
}
