// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// Factory opens an empty store wired to emitter. The factory registers its
// own cleanup.
type Factory func(t *testing.T, emitter store.EventEmitter) store.Store

// Recorder collects emitted review events.
type Recorder struct {
	mu     sync.Mutex
	events []store.ReviewEvent
}

// Emit implements store.EventEmitter.
func (r *Recorder) Emit(event store.ReviewEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []store.ReviewEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.ReviewEvent(nil), r.events...)
}

// Run runs the whole suite.
func Run(t *testing.T, open Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, open) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, open) })
	t.Run("ProfileConcurrency", func(t *testing.T) { testProfileConcurrency(t, open) })
	t.Run("Reviews", func(t *testing.T) { testReviews(t, open) })
	t.Run("ReviewOrdering", func(t *testing.T) { testReviewOrdering(t, open) })
	t.Run("ReviewEvents", func(t *testing.T) { testReviewEvents(t, open) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func makeUser(id, email string) *domain.User {
	ts := now()
	return &domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: "$argon2id$fake",
		DisplayName:  "Reader " + id,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func testUsers(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.NewNoopEmitter())

	user := makeUser("user-1", "Alice@Example.com")
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", got.Email)
	assert.Equal(t, user.PasswordHash, got.PasswordHash)
	assert.True(t, user.CreatedAt.Equal(got.CreatedAt))

	byEmail, err := s.GetUserByEmail(ctx, "  alice@EXAMPLE.com ")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)

	err = s.CreateUser(ctx, makeUser("user-2", "alice@example.com"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.GetUser(ctx, "user-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got.DisplayName = "Alice"
	got.LastLoginAt = now()
	require.NoError(t, s.UpdateUser(ctx, got))
	again, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.DisplayName)
	assert.True(t, got.LastLoginAt.Equal(again.LastLoginAt))

	err = s.UpdateUser(ctx, makeUser("user-missing", "x@example.com"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSessions(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.NewNoopEmitter())
	require.NoError(t, s.CreateUser(ctx, makeUser("user-1", "a@example.com")))

	ts := now()
	live := &domain.Session{ID: "sess-live", UserID: "user-1", CreatedAt: ts, ExpiresAt: ts.Add(time.Hour)}
	old := &domain.Session{ID: "sess-old", UserID: "user-1", CreatedAt: ts.Add(-2 * time.Hour), ExpiresAt: ts.Add(-time.Hour)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, old))

	got, err := s.GetSession(ctx, "sess-live")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

	n, err := s.DeleteExpiredSessions(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSession(ctx, "sess-old")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "sess-live"))
	require.NoError(t, s.DeleteSession(ctx, "sess-live"), "delete is idempotent")
	_, err = s.GetSession(ctx, "sess-live")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testProfiles(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.NewNoopEmitter())

	_, err := s.GetProfile(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	p, created, err := s.EnsureProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u1", p.UserID)
	assert.NotNil(t, p.ReadBooks)
	assert.Empty(t, p.ReadBooks)

	_, created, err = s.EnsureProfile(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, s.AddReadBook(ctx, "u1", "bookA"))
	require.NoError(t, s.AddReadBook(ctx, "u1", "bookA"), "adding a present id is a no-op")
	require.NoError(t, s.AddReadBook(ctx, "u1", "bookB"))
	p, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bookA", "bookB"}, p.ReadSet().Sorted())

	require.NoError(t, s.RemoveReadBook(ctx, "u1", "bookA"))
	require.NoError(t, s.RemoveReadBook(ctx, "u1", "bookZ"), "removing an absent id is a no-op")
	p, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bookB"}, p.ReadSet().Sorted())

	// Adding for a user without a profile provisions it.
	require.NoError(t, s.AddReadBook(ctx, "u2", "bookC"))
	p, err = s.GetProfile(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"bookC"}, p.ReadSet().Sorted())

	name := "Ada"
	avatar := "https://example.com/ada.png"
	p, err = s.UpdateProfile(ctx, "u2", domain.ProfileUpdate{DisplayName: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, avatar, p.AvatarURL)
	assert.Equal(t, []string{"bookC"}, p.ReadSet().Sorted(), "profile update keeps the read set")
}

func testProfileConcurrency(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.NewNoopEmitter())

	t.Run("ensure creates once", func(t *testing.T) {
		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			creates int
		)
		for range workers {
			wg.Go(func() {
				_, created, err := s.EnsureProfile(ctx, "race-user")
				assert.NoError(t, err)
				if created {
					mu.Lock()
					creates++
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		assert.Equal(t, 1, creates)
	})

	t.Run("concurrent adds lose nothing", func(t *testing.T) {
		const books = 12
		var wg sync.WaitGroup
		for i := range books {
			wg.Go(func() {
				assert.NoError(t, s.AddReadBook(ctx, "adder", fmt.Sprintf("book-%02d", i)))
			})
		}
		wg.Wait()

		p, err := s.GetProfile(ctx, "adder")
		require.NoError(t, err)
		assert.Len(t, p.ReadBooks, books)
	})
}

func testReviews(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.NewNoopEmitter())

	r := &domain.Review{BookID: "b1", UserID: "u1", UserName: "Ada", Text: "  Great read ", Rating: 5}
	require.NoError(t, s.CreateReview(ctx, r))
	require.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Equal(t, "Great read", r.Text)

	got, err := s.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "b1", got.BookID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Ada", got.UserName)
	assert.Equal(t, 5, got.Rating)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))

	t.Run("invalid input", func(t *testing.T) {
		for _, bad := range []*domain.Review{
			{BookID: "b1", UserID: "u1", Text: "", Rating: 3},
			{BookID: "b1", UserID: "u1", Text: "ok", Rating: 0},
			{BookID: "b1", UserID: "u1", Text: "ok", Rating: 6},
			{BookID: "", UserID: "u1", Text: "ok", Rating: 3},
		} {
			assert.ErrorIs(t, s.CreateReview(ctx, bad), store.ErrInvalidInput)
		}
		_, err := s.UpdateReview(ctx, r.ID, "u1", "ok", 9)
		assert.ErrorIs(t, err, store.ErrInvalidInput)
	})

	t.Run("update", func(t *testing.T) {
		updated, err := s.UpdateReview(ctx, r.ID, "u1", "Even better", 4)
		require.NoError(t, err)
		assert.Equal(t, "Even better", updated.Text)
		assert.Equal(t, 4, updated.Rating)
		assert.True(t, r.CreatedAt.Equal(updated.CreatedAt), "creation time never changes")

		_, err = s.UpdateReview(ctx, r.ID, "u2", "hijack", 1)
		assert.ErrorIs(t, err, store.ErrForbidden)

		_, err = s.UpdateReview(ctx, "rev-missing", "u1", "x", 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		assert.ErrorIs(t, s.DeleteReview(ctx, r.ID, "u2"), store.ErrForbidden)

		require.NoError(t, s.DeleteReview(ctx, r.ID, "u1"))
		assert.ErrorIs(t, s.DeleteReview(ctx, r.ID, "u1"), store.ErrNotFound)

		_, err := s.GetReview(ctx, r.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		list, err := s.ListBookReviews(ctx, "b1")
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})
}

func testReviewOrdering(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.NewNoopEmitter())

	var ids []string
	for i, text := range []string{"first", "second", "third"} {
		r := &domain.Review{BookID: "b1", UserID: fmt.Sprintf("u%d", i%2), Text: text, Rating: i + 1}
		require.NoError(t, s.CreateReview(ctx, r))
		ids = append(ids, r.ID)
	}
	other := &domain.Review{BookID: "b2", UserID: "u0", Text: "elsewhere", Rating: 2}
	require.NoError(t, s.CreateReview(ctx, other))

	list, err := s.ListBookReviews(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{list[0].ID, list[1].ID, list[2].ID})

	mine, err := s.ListUserReviews(ctx, "u0")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, other.ID, mine[0].ID)
	assert.Equal(t, ids[2], mine[1].ID)
	assert.Equal(t, ids[0], mine[2].ID)

	none, err := s.ListUserReviews(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testReviewEvents(t *testing.T, open Factory) {
	ctx := context.Background()
	rec := &Recorder{}
	s := open(t, rec)

	r := &domain.Review{BookID: "b1", UserID: "u1", Text: "Great read", Rating: 5}
	require.NoError(t, s.CreateReview(ctx, r))
	_, err := s.UpdateReview(ctx, r.ID, "u1", "Good read", 4)
	require.NoError(t, err)

	// Rejected changes emit nothing.
	_, _ = s.UpdateReview(ctx, r.ID, "u2", "nope", 1)
	_ = s.DeleteReview(ctx, r.ID, "u2")

	require.NoError(t, s.DeleteReview(ctx, r.ID, "u1"))
	_ = s.DeleteReview(ctx, r.ID, "u1")

	want := []store.ReviewEvent{
		{Type: store.ReviewCreated, BookID: "b1", ReviewID: r.ID, UserID: "u1"},
		{Type: store.ReviewUpdated, BookID: "b1", ReviewID: r.ID, UserID: "u1"},
		{Type: store.ReviewDeleted, BookID: "b1", ReviewID: r.ID, UserID: "u1"},
	}
	assert.Equal(t, want, rec.Events())
}
