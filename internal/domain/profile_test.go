package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewUserProfile_EmptyReadSet(t *testing.T) {
	p := NewUserProfile("u1")

	assert.Equal(t, "u1", p.UserID)
	assert.NotNil(t, p.ReadBooks)
	assert.Empty(t, p.ReadBooks)
	assert.Empty(t, p.ReadSet())
	assert.False(t, p.HasRead("bookA"))
}

func TestReadSet(t *testing.T) {
	s := NewReadSet("b2", "b1", "", "b2")

	assert.Len(t, s, 2)
	assert.True(t, s.Has("b1"))
	assert.False(t, s.Has(""))
	assert.Equal(t, []string{"b1", "b2"}, s.Sorted())
	assert.Equal(t, []string{}, NewReadSet().Sorted())

	c := s.Clone()
	delete(c, "b1")
	assert.True(t, s.Has("b1"))
}

func TestProfileUpdate_Apply(t *testing.T) {
	p := NewUserProfile("u1")
	p.DisplayName = "Old"
	p.AvatarURL = "https://example.com/a.png"

	name := "New"
	ProfileUpdate{DisplayName: &name}.Apply(p)

	assert.Equal(t, "New", p.DisplayName)
	assert.Equal(t, "https://example.com/a.png", p.AvatarURL)
}

func TestComputeStats(t *testing.T) {
	reviews := []*Review{{Rating: 5}, {Rating: 4}, {Rating: 4}}

	stats := ComputeStats(NewReadSet("a", "b"), reviews)

	assert.Equal(t, 2, stats.BooksRead)
	assert.Equal(t, 3, stats.ReviewsWritten)
	assert.InDelta(t, 4.3, stats.AverageRating, 0.0001)
	assert.Equal(t, [MaxRating]int{0, 0, 0, 2, 1}, stats.RatingCounts)

	empty := ComputeStats(nil, nil)
	assert.Zero(t, empty.AverageRating)
	assert.Zero(t, empty.BooksRead)
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now.Add(time.Hour)}

	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(time.Hour)))
}

func TestIdentity_Name(t *testing.T) {
	assert.Equal(t, "Ada", Identity{DisplayName: "Ada", Email: "ada@example.com"}.Name())
	assert.Equal(t, "ada@example.com", Identity{Email: "ada@example.com"}.Name())
}
