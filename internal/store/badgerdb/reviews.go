package badgerdb

import (
	"context"
	"errors"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// CreateReview stores a new review and assigns its ID and timestamps.
func (s *Store) CreateReview(ctx context.Context, review *domain.Review) error {
	if err := store.PrepareReview(review, s.clock); err != nil {
		return err
	}
	if err := s.reviews.Create(ctx, review.ID, review); err != nil {
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
	r, err := s.reviews.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
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

	updated, err := s.reviews.Mutate(ctx, id, func(current *domain.Review) (*domain.Review, error) {
		if current == nil {
			return nil, store.ErrReviewNotFound
		}
		if !current.IsOwnedBy(userID) {
			return nil, store.ErrNotReviewAuthor
		}
		next := *current
		next.Text = text
		next.Rating = rating
		next.UpdatedAt = s.clock.Now()
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(store.ReviewEvent{
		Type:     store.ReviewUpdated,
		BookID:   updated.BookID,
		ReviewID: updated.ID,
		UserID:   updated.UserID,
	})
	return updated, nil
}

// DeleteReview removes a review written by userID.
func (s *Store) DeleteReview(ctx context.Context, id, userID string) error {
	deleted, err := s.reviews.DeleteIf(ctx, id, func(current *domain.Review) error {
		if !current.IsOwnedBy(userID) {
			return store.ErrNotReviewAuthor
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrReviewNotFound
	}
	if err != nil {
		return err
	}

	s.emitter.Emit(store.ReviewEvent{
		Type:     store.ReviewDeleted,
		BookID:   deleted.BookID,
		ReviewID: deleted.ID,
		UserID:   deleted.UserID,
	})
	return nil
}

// ListBookReviews returns every review of bookID, newest first.
func (s *Store) ListBookReviews(ctx context.Context, bookID string) ([]*domain.Review, error) {
	return s.listReviews(ctx, "book", bookID)
}

// ListUserReviews returns every review written by userID, newest first.
func (s *Store) ListUserReviews(ctx context.Context, userID string) ([]*domain.Review, error) {
	return s.listReviews(ctx, "user", userID)
}

func (s *Store) listReviews(ctx context.Context, index, value string) ([]*domain.Review, error) {
	reviews, err := s.reviews.ListByIndex(ctx, index, value)
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []*domain.Review{}
	}
	domain.SortNewestFirst(reviews)
	return reviews, nil
}
