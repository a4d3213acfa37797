package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// Column order matches the Scan call in scanUser.
const selectUser = `SELECT id, email, password_hash, display_name, created_at, updated_at, last_login_at FROM users`

func scanUser(row scanner) (*domain.User, error) {
	var (
		u                domain.User
		created, updated string
		lastLogin        sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &created, &updated, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt, err = parseTime(created)
	if err == nil {
		u.UpdatedAt, err = parseTime(updated)
	}
	if err == nil {
		u.LastLoginAt, err = parseNullTime(lastLogin)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser returns store.ErrEmailTaken when the email (compared
// case-insensitively) or the ID is already in use.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, email_lower, password_hash, display_name, created_at, updated_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, store.NormalizeEmail(user.Email), user.PasswordHash, user.DisplayName,
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt), nullTime(user.LastLoginAt),
	)
	if isUniqueViolation(err) {
		return store.ErrEmailTaken.WithCause(err)
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE email_lower = ?`, store.NormalizeEmail(email)))
}

func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	n, err := affected(s.db.ExecContext(ctx,
		`UPDATE users
		 SET email = ?, email_lower = ?, password_hash = ?, display_name = ?, updated_at = ?, last_login_at = ?
		 WHERE id = ?`,
		user.Email, store.NormalizeEmail(user.Email), user.PasswordHash, user.DisplayName,
		formatTime(user.UpdatedAt), nullTime(user.LastLoginAt), user.ID,
	))
	switch {
	case isUniqueViolation(err):
		return store.ErrEmailTaken.WithCause(err)
	case err != nil:
		return err
	case n == 0:
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.UserID, formatTime(session.CreatedAt), formatTime(session.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists.WithCause(err)
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess             domain.Session
		created, expires string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession is idempotent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	n, err := affected(s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(now)))
	return int(n), err
}
