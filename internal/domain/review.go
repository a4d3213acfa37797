package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
)

// Rating bounds and text limits for reviews.
const (
	MinRating       = 1
	MaxRating       = 5
	MaxReviewLength = 5000
)

// Review is a star-rated text review of a catalog book.
// ID and CreatedAt are assigned by the store; only the author may change
// Text and Rating or delete the review.
type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOwnedBy reports whether userID wrote the review.
func (r *Review) IsOwnedBy(userID string) bool {
	return r != nil && userID != "" && r.UserID == userID
}

// ValidateReviewInput checks the user supplied parts of a review.
// Text must be non-empty after trimming and rating must be within 1..5.
func ValidateReviewInput(text string, rating int) error {
	details := map[string]string{}
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		details["text"] = "is required"
	case utf8.RuneCountInString(trimmed) > MaxReviewLength:
		details["text"] = "must not exceed 5000 characters"
	}
	if rating < MinRating || rating > MaxRating {
		details["rating"] = "must be between 1 and 5"
	}
	if len(details) > 0 {
		return domainerrors.ValidationWithDetails("invalid review", details)
	}
	return nil
}

// NewerFirst orders reviews newest created first. Equal timestamps fall back
// to the greater ID first so the order is total.
func NewerFirst(a, b *Review) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// SortNewestFirst sorts reviews in place with NewerFirst.
func SortNewestFirst(reviews []*Review) {
	slices.SortFunc(reviews, NewerFirst)
}

// OwnReview picks the user's own review among reviews. When the user has
// written more than one, the most recent wins and ties go to the greater ID.
// Returns nil when the user has no review.
func OwnReview(reviews []*Review, userID string) *Review {
	var own *Review
	for _, r := range reviews {
		if !r.IsOwnedBy(userID) {
			continue
		}
		if own == nil || NewerFirst(r, own) < 0 {
			own = r
		}
	}
	return own
}

// CloneReviews copies the slice and every review in it.
func CloneReviews(reviews []*Review) []*Review {
	out := make([]*Review, len(reviews))
	for i, r := range reviews {
		c := *r
		out[i] = &c
	}
	return out
}
