package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// reviewColumns must match the scan order in scanReview.
const reviewColumns = `id, book_id, user_id, user_name, text, rating, created_at, updated_at`

func scanReview(row scanner) (*domain.Review, error) {
	var (
		r         domain.Review
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&r.ID, &r.BookID, &r.UserID, &r.UserName, &r.Text, &r.Rating, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReview stores a new review and assigns its ID and timestamps.
func (s *Store) CreateReview(ctx context.Context, review *domain.Review) error {
	if err := store.PrepareReview(review, s.clock); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID,
		review.BookID,
		review.UserID,
		review.UserName,
		review.Text,
		review.Rating,
		formatTime(review.CreatedAt),
		formatTime(review.UpdatedAt),
	)
	if err != nil {
		return err
	}

	s.emitter.Emit(store.ReviewEvent{
		Type:     store.ReviewCreated,
		BookID:   review.BookID,
		ReviewID: review.ID,
		UserID:   review.UserID,
	})
	return nil
}

// GetReview retrieves a review by ID.
func (s *Store) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	return s.getReview(ctx, s.db, id)
}

func (s *Store) getReview(ctx context.Context, db execer, id string) (*domain.Review, error) {
	r, err := scanReview(db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrReviewNotFound
	}
	return r, err
}

// UpdateReview replaces text and rating of a review written by userID.
func (s *Store) UpdateReview(ctx context.Context, id, userID, text string, rating int) (*domain.Review, error) {
	text, err := store.PrepareReviewEdit(text, rating)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	r, err := s.getReview(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsOwnedBy(userID) {
		return nil, store.ErrNotReviewAuthor
	}

	r.Text = text
	r.Rating = rating
	r.UpdatedAt = s.clock.Now()
	_, err = tx.ExecContext(ctx, `UPDATE reviews SET text = ?, rating = ?, updated_at = ? WHERE id = ?`,
		r.Text, r.Rating, formatTime(r.UpdatedAt), id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.emitter.Emit(store.ReviewEvent{
		Type:     store.ReviewUpdated,
		BookID:   r.BookID,
		ReviewID: r.ID,
		UserID:   r.UserID,
	})
	return r, nil
}

// DeleteReview removes a review written by userID.
func (s *Store) DeleteReview(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r, err := s.getReview(ctx, tx, id)
	if err != nil {
		return err
	}
	if !r.IsOwnedBy(userID) {
		return store.ErrNotReviewAuthor
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.emitter.Emit(store.ReviewEvent{
		Type:     store.ReviewDeleted,
		BookID:   r.BookID,
		ReviewID: r.ID,
		UserID:   r.UserID,
	})
	return nil
}

// ListBookReviews returns every review of bookID, newest first.
func (s *Store) ListBookReviews(ctx context.Context, bookID string) ([]*domain.Review, error) {
	return s.listReviews(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE book_id = ? ORDER BY created_at DESC, id DESC`, bookID)
}

// ListUserReviews returns every review written by userID, newest first.
func (s *Store) ListUserReviews(ctx context.Context, userID string) ([]*domain.Review, error) {
	return s.listReviews(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (s *Store) listReviews(ctx context.Context, query string, arg string) ([]*domain.Review, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []*domain.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
