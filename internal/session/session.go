// Package session tracks the active server session (socket + token) and
// broadcasts token changes to interested components. Token issuance
// itself belongs to the auth layer; this package only consumes it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/CarryPigeon/carrypigeon-desktop/internal/errors"
)

// TokenRefresher exchanges the current token for a fresh one. Implemented
// by the auth layer.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, socket, token string) (string, error)
}

// TokenCache persists the session token across restarts. Satisfied by
// the state store.
type TokenCache interface {
	Token() string
	SetToken(token string) error
}

// Store is the in-memory session record with change notification.
type Store struct {
	refresher TokenRefresher
	cache     TokenCache
	logger    *slog.Logger

	mu        sync.Mutex
	socket    string
	token     string
	listeners map[int]func(socket, token string)
	nextID    int
}

// NewStore creates a session store. When cache holds a token from a
// previous run it is used as the starting token.
func NewStore(refresher TokenRefresher, cache TokenCache, logger *slog.Logger) *Store {
	s := &Store{
		refresher: refresher,
		cache:     cache,
		logger:    logger,
		listeners: make(map[int]func(socket, token string)),
	}

	if cache != nil {
		s.token = cache.Token()
	}

	return s
}

// Current returns the active server socket and session token. Either may
// be empty when no session is established.
func (s *Store) Current() (socket, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.socket, s.token
}

// SetActive records the active server and its token, notifying listeners
// when the token changed.
func (s *Store) SetActive(socket, token string) {
	s.mu.Lock()
	changed := s.token != token && socket == s.socket
	s.socket = socket
	s.token = token
	fns := s.snapshotListeners()
	s.mu.Unlock()

	s.persist(token)

	if changed {
		for _, fn := range fns {
			fn(socket, token)
		}
	}
}

// Refresh asks the auth layer for a fresh token for the active server,
// persists it, and notifies listeners.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	socket, token := s.socket, s.token
	s.mu.Unlock()

	if socket == "" {
		return apperrors.ErrNoSession
	}

	fresh, err := s.refresher.RefreshToken(ctx, socket, token)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}

	if fresh == "" || fresh == token {
		return nil
	}

	s.mu.Lock()
	// The active server may have changed while the refresh was in
	// flight; a stale refresh must not overwrite the new session.
	if s.socket != socket {
		s.mu.Unlock()
		return nil
	}

	s.token = fresh
	fns := s.snapshotListeners()
	s.mu.Unlock()

	s.persist(fresh)
	s.logger.Debug("session token refreshed", slog.String("socket", socket))

	for _, fn := range fns {
		fn(socket, fresh)
	}

	return nil
}

// Subscribe registers a callback invoked whenever the token for the
// active server changes. The returned stopper removes the listener.
func (s *Store) Subscribe(fn func(socket, token string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// snapshotListeners copies the listener set. Caller must hold mu.
func (s *Store) snapshotListeners() []func(socket, token string) {
	fns := make([]func(socket, token string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}

	return fns
}

func (s *Store) persist(token string) {
	if s.cache == nil {
		return
	}

	if err := s.cache.SetToken(token); err != nil {
		s.logger.Warn("persisting session token failed", slog.String("error", err.Error()))
	}
}
