package postgres

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

var reviewColumns = []any{"id", "book_id", "user_id", "user_name", "text", "rating", "created_at", "updated_at"}

func scanReview(row pgx.Row) (*domain.Review, error) {
	var r domain.Review
	if err := row.Scan(&r.ID, &r.BookID, &r.UserID, &r.UserName, &r.Text, &r.Rating, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// CreateReview stores a new review and assigns its ID and timestamps.
func (s *Store) CreateReview(ctx context.Context, review *domain.Review) error {
	if err := store.PrepareReview(review, s.clock); err != nil {
		return err
	}

	_, err := s.exec(ctx, s.pool, dialect.Insert(tableReviews).Prepared(true).Rows(goqu.Record{
		"id":         review.ID,
		"book_id":    review.BookID,
		"user_id":    review.UserID,
		"user_name":  review.UserName,
		"text":       review.Text,
		"rating":     review.Rating,
		"created_at": review.CreatedAt,
		"updated_at": review.UpdatedAt,
	}))
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

func (s *Store) getReview(ctx context.Context, q querier, id string, lock bool) (*domain.Review, error) {
	ds := dialect.From(tableReviews).Prepared(true).Select(reviewColumns...).Where(goqu.Ex{"id": id})
	if lock {
		ds = ds.ForUpdate(goqu.Wait)
	}
	row, err := s.queryRow(ctx, q, ds)
	if err != nil {
		return nil, err
	}
	r, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrReviewNotFound
	}
	return r, err
}

// GetReview retrieves a review by ID.
func (s *Store) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	return s.getReview(ctx, s.pool, id, false)
}

// UpdateReview replaces text and rating of a review written by userID.
func (s *Store) UpdateReview(ctx context.Context, id, userID, text string, rating int) (*domain.Review, error) {
	text, err := store.PrepareReviewEdit(text, rating)
	if err != nil {
		return nil, err
	}

	var r *domain.Review
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if r, err = s.getReview(ctx, tx, id, true); err != nil {
			return err
		}
		if !r.IsOwnedBy(userID) {
			return store.ErrNotReviewAuthor
		}

		r.Text = text
		r.Rating = rating
		r.UpdatedAt = s.clock.Now()
		_, err = s.exec(ctx, tx, dialect.Update(tableReviews).Prepared(true).Set(goqu.Record{
			"text":       r.Text,
			"rating":     r.Rating,
			"updated_at": r.UpdatedAt,
		}).Where(goqu.Ex{"id": id}))
		return err
	})
	if err != nil {
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
	var r *domain.Review
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if r, err = s.getReview(ctx, tx, id, true); err != nil {
			return err
		}
		if !r.IsOwnedBy(userID) {
			return store.ErrNotReviewAuthor
		}
		_, err = s.exec(ctx, tx, dialect.Delete(tableReviews).Prepared(true).Where(goqu.Ex{"id": id}))
		return err
	})
	if err != nil {
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
	return s.listReviews(ctx, goqu.Ex{"book_id": bookID})
}

// ListUserReviews returns every review written by userID, newest first.
func (s *Store) ListUserReviews(ctx context.Context, userID string) ([]*domain.Review, error) {
	return s.listReviews(ctx, goqu.Ex{"user_id": userID})
}

func (s *Store) listReviews(ctx context.Context, where goqu.Ex) ([]*domain.Review, error) {
	rows, err := s.query(ctx, s.pool, dialect.From(tableReviews).Prepared(true).
		Select(reviewColumns...).
		Where(where).
		Order(goqu.I("created_at").Desc(), goqu.I("id").Desc()))
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
