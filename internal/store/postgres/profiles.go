package postgres

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// ensureProfile inserts an empty profile unless one exists and reports
// whether it did.
func (s *Store) ensureProfile(ctx context.Context, q querier, userID string) (bool, error) {
	if userID == "" {
		return false, store.ErrInvalidInput.WithMessage("user id is required")
	}
	now := s.clock.Now()
	n, err := s.exec(ctx, q, dialect.Insert(tableProfiles).Prepared(true).
		Rows(goqu.Record{"user_id": userID, "created_at": now, "updated_at": now}).
		OnConflict(goqu.DoNothing()))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) loadProfile(ctx context.Context, q querier, userID string) (*domain.UserProfile, error) {
	row, err := s.queryRow(ctx, q, dialect.From(tableProfiles).Prepared(true).
		Select("user_id", "display_name", "email", "avatar_url", "created_at", "updated_at").
		Where(goqu.Ex{"user_id": userID}))
	if err != nil {
		return nil, err
	}

	var p domain.UserProfile
	err = row.Scan(&p.UserID, &p.DisplayName, &p.Email, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	rows, err := s.query(ctx, q, dialect.From(tableReadBooks).Prepared(true).
		Select("book_id").
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.I("book_id").Asc()))
	if err != nil {
		return nil, err
	}
	books, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	p.ReadBooks = append([]string{}, books...)
	return &p, nil
}

// EnsureProfile returns the user's profile, creating it if absent.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (*domain.UserProfile, bool, error) {
	created, err := s.ensureProfile(ctx, s.pool, userID)
	if err != nil {
		return nil, false, err
	}
	p, err := s.loadProfile(ctx, s.pool, userID)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// GetProfile retrieves a profile without creating it.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return s.loadProfile(ctx, s.pool, userID)
}

// UpdateProfile applies update to the user's profile.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	var p *domain.UserProfile
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.ensureProfile(ctx, tx, userID); err != nil {
			return err
		}
		// Lock the row so concurrent updates apply one after the other.
		if _, err := s.exec(ctx, tx, dialect.From(tableProfiles).Prepared(true).
			Select("user_id").Where(goqu.Ex{"user_id": userID}).ForUpdate(goqu.Wait)); err != nil {
			return err
		}

		var err error
		if p, err = s.loadProfile(ctx, tx, userID); err != nil {
			return err
		}
		update.Apply(p)
		p.UpdatedAt = s.clock.Now()

		_, err = s.exec(ctx, tx, dialect.Update(tableProfiles).Prepared(true).Set(goqu.Record{
			"display_name": p.DisplayName,
			"avatar_url":   p.AvatarURL,
			"updated_at":   p.UpdatedAt,
		}).Where(goqu.Ex{"user_id": userID}))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddReadBook adds bookID to the read set.
func (s *Store) AddReadBook(ctx context.Context, userID, bookID string) error {
	if bookID == "" {
		return store.ErrInvalidInput.WithMessage("book id is required")
	}
	return s.changeReadSet(ctx, userID, dialect.Insert(tableReadBooks).Prepared(true).
		Rows(goqu.Record{"user_id": userID, "book_id": bookID, "added_at": s.clock.Now()}).
		OnConflict(goqu.DoNothing()))
}

// RemoveReadBook removes bookID from the read set.
func (s *Store) RemoveReadBook(ctx context.Context, userID, bookID string) error {
	return s.changeReadSet(ctx, userID, dialect.Delete(tableReadBooks).Prepared(true).
		Where(goqu.Ex{"user_id": userID, "book_id": bookID}))
}

// changeReadSet runs one membership statement after making sure the
// profile exists, and bumps updated_at when the set changed.
func (s *Store) changeReadSet(ctx context.Context, userID string, change sqlBuilder) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.ensureProfile(ctx, tx, userID); err != nil {
			return err
		}
		n, err := s.exec(ctx, tx, change)
		if err != nil || n == 0 {
			return err
		}
		_, err = s.exec(ctx, tx, dialect.Update(tableProfiles).Prepared(true).
			Set(goqu.Record{"updated_at": s.clock.Now()}).
			Where(goqu.Ex{"user_id": userID}))
		return err
	})
}
