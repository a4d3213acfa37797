package store

import (
	"strings"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/id"
)

// PrepareReview validates r and fills the fields the store owns: ID,
// CreatedAt and UpdatedAt. Backends call it at the start of CreateReview.
func PrepareReview(r *domain.Review, clock *Clock) error {
	if r.BookID == "" || r.UserID == "" {
		return ErrInvalidInput.WithMessage("review needs a book and an author")
	}
	if err := domain.ValidateReviewInput(r.Text, r.Rating); err != nil {
		return ErrInvalidInput.WithCause(err)
	}

	reviewID, err := id.Generate(id.PrefixReview)
	if err != nil {
		return err
	}
	now := clock.Now()

	r.ID = reviewID
	r.Text = strings.TrimSpace(r.Text)
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// PrepareReviewEdit validates replacement text and rating and returns the
// text as it will be stored.
func PrepareReviewEdit(text string, rating int) (string, error) {
	if err := domain.ValidateReviewInput(text, rating); err != nil {
		return "", ErrInvalidInput.WithCause(err)
	}
	return strings.TrimSpace(text), nil
}

// NormalizeEmail is the form emails are compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
