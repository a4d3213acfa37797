package service

import (
	"context"
	"log/slog"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/sse"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// Subscription is an open live review feed. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// ReviewService is the review adapter: live per-book feeds plus the writes
// that feed them. The store is authoritative for validation and ownership.
type ReviewService struct {
	store  store.ReviewStore
	feeds  *sse.Manager
	logger *slog.Logger
}

// NewReviewService creates a review service.
func NewReviewService(s store.ReviewStore, feeds *sse.Manager, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		store:  s,
		feeds:  feeds,
		logger: logger,
	}
}

// SubscribeReviews opens a live feed of bookID's reviews. onChange receives
// the complete ordered list once at start and again after every change.
func (s *ReviewService) SubscribeReviews(ctx context.Context, bookID string, onChange func([]*domain.Review)) (Subscription, error) {
	sub, err := s.feeds.Subscribe(ctx, bookID, onChange)
	if err != nil {
		return nil, translate(err)
	}
	return sub, nil
}

// CreateReview stores a new review and returns its ID.
func (s *ReviewService) CreateReview(ctx context.Context, bookID, userID, userName, text string, rating int) (string, error) {
	review := &domain.Review{
		BookID:   bookID,
		UserID:   userID,
		UserName: userName,
		Text:     text,
		Rating:   rating,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		return "", translate(err)
	}

	s.logger.Info("review created",
		"review_id", review.ID,
		"book_id", bookID,
		"user_id", userID,
		"rating", rating,
	)
	return review.ID, nil
}

// UpdateReview replaces the text and rating of the caller's own review.
func (s *ReviewService) UpdateReview(ctx context.Context, reviewID, userID, text string, rating int) error {
	if _, err := s.store.UpdateReview(ctx, reviewID, userID, text, rating); err != nil {
		return translate(err)
	}
	s.logger.Info("review updated", "review_id", reviewID, "user_id", userID)
	return nil
}

// DeleteReview deletes the caller's own review. A review that is already
// gone yields NotFound.
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID, userID string) error {
	if err := s.store.DeleteReview(ctx, reviewID, userID); err != nil {
		return translate(err)
	}
	s.logger.Info("review deleted", "review_id", reviewID, "user_id", userID)
	return nil
}

// ListUserReviews returns every review written by userID, newest first.
func (s *ReviewService) ListUserReviews(ctx context.Context, userID string) ([]*domain.Review, error) {
	reviews, err := s.store.ListUserReviews(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return reviews, nil
}
