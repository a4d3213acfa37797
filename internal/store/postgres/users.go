package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

var userColumns = []any{"id", "email", "password_hash", "display_name", "created_at", "updated_at", "last_login_at"}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u           domain.User
		lastLoginAt *time.Time
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt, &lastLoginAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if lastLoginAt != nil {
		u.LastLoginAt = lastLoginAt.UTC()
	}
	return &u, nil
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.exec(ctx, s.pool, dialect.Insert(tableUsers).Prepared(true).Rows(goqu.Record{
		"id":            user.ID,
		"email":         user.Email,
		"email_lower":   store.NormalizeEmail(user.Email),
		"password_hash": user.PasswordHash,
		"display_name":  user.DisplayName,
		"created_at":    user.CreatedAt.UTC(),
		"updated_at":    user.UpdatedAt.UTC(),
		"last_login_at": nullTime(user.LastLoginAt),
	}))
	if isUniqueViolation(err) {
		return store.ErrEmailTaken.WithCause(err)
	}
	return err
}

func (s *Store) getUserWhere(ctx context.Context, where goqu.Ex) (*domain.User, error) {
	row, err := s.queryRow(ctx, s.pool, dialect.From(tableUsers).Prepared(true).Select(userColumns...).Where(where))
	if err != nil {
		return nil, err
	}
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	return u, err
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUserWhere(ctx, goqu.Ex{"id": id})
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUserWhere(ctx, goqu.Ex{"email_lower": store.NormalizeEmail(email)})
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	n, err := s.exec(ctx, s.pool, dialect.Update(tableUsers).Prepared(true).Set(goqu.Record{
		"email":         user.Email,
		"email_lower":   store.NormalizeEmail(user.Email),
		"password_hash": user.PasswordHash,
		"display_name":  user.DisplayName,
		"updated_at":    user.UpdatedAt.UTC(),
		"last_login_at": nullTime(user.LastLoginAt),
	}).Where(goqu.Ex{"id": user.ID}))
	if isUniqueViolation(err) {
		return store.ErrEmailTaken.WithCause(err)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.exec(ctx, s.pool, dialect.Insert(tableSessions).Prepared(true).Rows(goqu.Record{
		"id":         session.ID,
		"user_id":    session.UserID,
		"created_at": session.CreatedAt.UTC(),
		"expires_at": session.ExpiresAt.UTC(),
	}))
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists.WithCause(err)
	}
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row, err := s.queryRow(ctx, s.pool, dialect.From(tableSessions).Prepared(true).
		Select("id", "user_id", "created_at", "expires_at").
		Where(goqu.Ex{"id": id}))
	if err != nil {
		return nil, err
	}

	var session domain.Session
	err = row.Scan(&session.ID, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return &session, nil
}

// DeleteSession removes a session. Idempotent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.exec(ctx, s.pool, dialect.Delete(tableSessions).Prepared(true).Where(goqu.Ex{"id": id}))
	return err
}

// DeleteExpiredSessions removes every session expired at now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	n, err := s.exec(ctx, s.pool, dialect.Delete(tableSessions).Prepared(true).
		Where(goqu.C("expires_at").Lte(now.UTC())))
	return int(n), err
}
