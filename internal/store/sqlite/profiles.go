package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ensureProfile inserts an empty profile unless one exists and reports
// whether it did.
func (s *Store) ensureProfile(ctx context.Context, db execer, userID string) (bool, error) {
	if userID == "" {
		return false, store.ErrInvalidInput.WithMessage("user id is required")
	}
	now := formatTime(s.clock.Now())
	result, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO profiles (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) loadProfile(ctx context.Context, db execer, userID string) (*domain.UserProfile, error) {
	var (
		p         domain.UserProfile
		createdAt string
		updatedAt string
	)
	err := db.QueryRowContext(ctx, `
		SELECT user_id, display_name, email, avatar_url, created_at, updated_at
		FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Email, &p.AvatarURL, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT book_id FROM profile_read_books WHERE user_id = ? ORDER BY book_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.ReadBooks = []string{}
	for rows.Next() {
		var bookID string
		if err := rows.Scan(&bookID); err != nil {
			return nil, err
		}
		p.ReadBooks = append(p.ReadBooks, bookID)
	}
	return &p, rows.Err()
}

// EnsureProfile returns the user's profile, creating it if absent.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (*domain.UserProfile, bool, error) {
	created, err := s.ensureProfile(ctx, s.db, userID)
	if err != nil {
		return nil, false, err
	}
	p, err := s.loadProfile(ctx, s.db, userID)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// GetProfile retrieves a profile without creating it.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return s.loadProfile(ctx, s.db, userID)
}

// UpdateProfile applies update to the user's profile.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := s.ensureProfile(ctx, tx, userID); err != nil {
		return nil, err
	}
	p, err := s.loadProfile(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	update.Apply(p)
	p.UpdatedAt = s.clock.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE profiles SET display_name = ?, avatar_url = ?, updated_at = ? WHERE user_id = ?`,
		p.DisplayName, p.AvatarURL, formatTime(p.UpdatedAt), userID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

// AddReadBook adds bookID to the read set.
func (s *Store) AddReadBook(ctx context.Context, userID, bookID string) error {
	if bookID == "" {
		return store.ErrInvalidInput.WithMessage("book id is required")
	}
	return s.changeReadSet(ctx, userID, `
		INSERT OR IGNORE INTO profile_read_books (user_id, book_id, added_at) VALUES (?, ?, ?)`,
		userID, bookID, formatTime(s.clock.Now()),
	)
}

// RemoveReadBook removes bookID from the read set.
func (s *Store) RemoveReadBook(ctx context.Context, userID, bookID string) error {
	return s.changeReadSet(ctx, userID,
		`DELETE FROM profile_read_books WHERE user_id = ? AND book_id = ?`,
		userID, bookID,
	)
}

// changeReadSet runs one membership statement after making sure the
// profile exists, and bumps updated_at when the set changed.
func (s *Store) changeReadSet(ctx context.Context, userID, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.ensureProfile(ctx, tx, userID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE profiles SET updated_at = ? WHERE user_id = ?`,
			formatTime(s.clock.Now()), userID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
