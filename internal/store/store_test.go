package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_IsByCode(t *testing.T) {
	assert.ErrorIs(t, ErrReviewNotFound, ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("get review: %w", ErrReviewNotFound), ErrNotFound)
	assert.ErrorIs(t, ErrNotReviewAuthor, ErrForbidden)
	assert.NotErrorIs(t, ErrNotReviewAuthor, ErrNotFound)
	assert.NotErrorIs(t, errors.New("boom"), ErrNotFound)
}

func TestError_WithCause(t *testing.T) {
	cause := errors.New("rating out of range")
	err := ErrInvalidInput.WithCause(cause)

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid input: rating out of range", err.Error())
	assert.Equal(t, 400, err.HTTPCode())
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6789, time.FixedZone("X", 3600))
	c := &Clock{now: func() time.Time { return fixed }}

	a := c.Now()
	b := c.Now()

	assert.Equal(t, time.UTC, a.Location())
	assert.Equal(t, fixed.UTC().Truncate(time.Microsecond), a)
	assert.Equal(t, a.Add(time.Microsecond), b)
}

func TestEmitterFunc(t *testing.T) {
	var got []ReviewEvent
	var e EventEmitter = EmitterFunc(func(ev ReviewEvent) { got = append(got, ev) })

	e.Emit(ReviewEvent{Type: ReviewCreated, BookID: "b1"})
	NewNoopEmitter().Emit(ReviewEvent{})

	assert.Equal(t, []ReviewEvent{{Type: ReviewCreated, BookID: "b1"}}, got)
}
