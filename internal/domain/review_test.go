package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
)

func TestValidateReviewInput(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		rating    int
		wantField string
	}{
		{name: "valid", text: "Great read", rating: 5},
		{name: "min rating", text: "meh", rating: 1},
		{name: "empty text", text: "", rating: 4, wantField: "text"},
		{name: "blank text", text: "  \n\t", rating: 4, wantField: "text"},
		{name: "too long", text: strings.Repeat("a", MaxReviewLength+1), rating: 3, wantField: "text"},
		{name: "zero rating", text: "ok", rating: 0, wantField: "rating"},
		{name: "rating six", text: "ok", rating: 6, wantField: "rating"},
		{name: "negative rating", text: "ok", rating: -1, wantField: "rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReviewInput(tt.text, tt.rating)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, domainerrors.ErrValidation)
			var domainErr *domainerrors.Error
			require.ErrorAs(t, err, &domainErr)
			assert.Contains(t, domainErr.Details, tt.wantField)
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reviews := []*Review{
		{ID: "rev-a", CreatedAt: base},
		{ID: "rev-c", CreatedAt: base.Add(time.Minute)},
		{ID: "rev-b", CreatedAt: base},
	}

	SortNewestFirst(reviews)

	ids := []string{reviews[0].ID, reviews[1].ID, reviews[2].ID}
	assert.Equal(t, []string{"rev-c", "rev-b", "rev-a"}, ids)
}

func TestOwnReview(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("none", func(t *testing.T) {
		reviews := []*Review{{ID: "rev-1", UserID: "u2", CreatedAt: base}}
		assert.Nil(t, OwnReview(reviews, "u1"))
	})

	t.Run("most recent wins", func(t *testing.T) {
		reviews := []*Review{
			{ID: "rev-1", UserID: "u1", CreatedAt: base},
			{ID: "rev-2", UserID: "u2", CreatedAt: base.Add(2 * time.Minute)},
			{ID: "rev-3", UserID: "u1", CreatedAt: base.Add(time.Minute)},
		}
		require.NotNil(t, OwnReview(reviews, "u1"))
		assert.Equal(t, "rev-3", OwnReview(reviews, "u1").ID)
	})

	t.Run("tie broken by id regardless of input order", func(t *testing.T) {
		a := &Review{ID: "rev-a", UserID: "u1", CreatedAt: base}
		b := &Review{ID: "rev-b", UserID: "u1", CreatedAt: base}

		assert.Equal(t, "rev-b", OwnReview([]*Review{a, b}, "u1").ID)
		assert.Equal(t, "rev-b", OwnReview([]*Review{b, a}, "u1").ID)
	})

	t.Run("empty user id never matches", func(t *testing.T) {
		reviews := []*Review{{ID: "rev-1", UserID: "", CreatedAt: base}}
		assert.Nil(t, OwnReview(reviews, ""))
	})
}

func TestCloneReviews(t *testing.T) {
	orig := []*Review{{ID: "rev-1", Text: "x"}}
	clone := CloneReviews(orig)
	clone[0].Text = "changed"

	assert.Equal(t, "x", orig[0].Text)
	assert.Empty(t, CloneReviews(nil))
}

func TestBook_AuthorLine(t *testing.T) {
	tests := []struct {
		authors []string
		want    string
	}{
		{nil, ""},
		{[]string{"Kyle Simpson"}, "Kyle Simpson"},
		{[]string{"A", "B"}, "A and B"},
		{[]string{"A", "B", "C"}, "A, B and C"},
	}
	for _, tt := range tests {
		b := &Book{Authors: tt.authors}
		assert.Equal(t, tt.want, b.AuthorLine())
	}
}

func TestBook_Clone(t *testing.T) {
	rating := 4.5
	b := &Book{ID: "b1", Authors: []string{"A"}, AverageRating: &rating}
	c := b.Clone()
	c.Authors[0] = "Z"
	*c.AverageRating = 1

	assert.Equal(t, "A", b.Authors[0])
	assert.InDelta(t, 4.5, *b.AverageRating, 0.001)
	assert.Nil(t, (*Book)(nil).Clone())
}
