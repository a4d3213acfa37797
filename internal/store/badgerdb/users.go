package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// CreateUser creates a new user account.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.users.Create(ctx, user.ID, user)
	if errors.Is(err, store.ErrAlreadyExists) {
		return store.ErrEmailTaken.WithCause(err)
	}
	return err
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrUserNotFound
	}
	return user, err
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByIndex(ctx, "email", email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrUserNotFound
	}
	return user, err
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	err := s.users.Update(ctx, user.ID, user)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.ErrUserNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return store.ErrEmailTaken.WithCause(err)
	}
	return err
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	return s.sessions.Create(ctx, session.ID, session)
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrSessionNotFound
	}
	return session, err
}

// DeleteSession removes a session. Idempotent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}

// DeleteExpiredSessions removes every session expired at now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	var expired []string
	for session, err := range s.sessions.List(ctx) {
		if err != nil {
			return 0, fmt.Errorf("list sessions: %w", err)
		}
		if session.IsExpired(now) {
			expired = append(expired, session.ID)
		}
	}

	for _, id := range expired {
		if err := s.sessions.Delete(ctx, id); err != nil {
			return 0, fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	return len(expired), nil
}
