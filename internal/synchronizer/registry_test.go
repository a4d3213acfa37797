package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
)

func newTestRegistry(t *testing.T) (*testEnv, *Registry) {
	t.Helper()
	env := newTestEnv()
	r := NewRegistry(env.deps, RegistryOptions{IdleTimeout: time.Hour})
	t.Cleanup(r.Close)
	return env, r
}

func TestRegistry_SessionsAreScopedToUser(t *testing.T) {
	_, r := newTestRegistry(t)

	d, err := r.OpenDetail(context.Background(), "bookA", ann)
	require.NoError(t, err)
	l, err := r.OpenList(ann)
	require.NoError(t, err)

	got, err := r.Detail(d.ID(), "u1")
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = r.Detail(d.ID(), "u2")
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
	_, err = r.List(l.ID(), "u2")
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))

	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(r.CloseDetail(d.ID(), "u2")))
	require.NoError(t, r.CloseDetail(d.ID(), "u1"))
	require.NoError(t, r.CloseList(l.ID(), "u1"))

	assert.Equal(t, StateClosed, d.State())
	details, lists := r.Counts()
	assert.Zero(t, details)
	assert.Zero(t, lists)
}

func TestRegistry_SignOutSessionClosesOnlyThatLogin(t *testing.T) {
	env, r := newTestRegistry(t)
	annOtherDevice := ann
	annOtherDevice.SessionID = "s9"

	first, err := r.OpenDetail(context.Background(), "bookA", ann)
	require.NoError(t, err)
	second, err := r.OpenDetail(context.Background(), "bookA", annOtherDevice)
	require.NoError(t, err)
	_, err = r.OpenList(ann)
	require.NoError(t, err)
	_, err = r.OpenDetail(context.Background(), "bookB", bob)
	require.NoError(t, err)

	assert.Equal(t, 2, r.SignOutSession("s1"))

	assert.Equal(t, StateClosed, first.State())
	assert.True(t, first.View().SignedOut)
	assert.NotEqual(t, StateClosed, second.State())

	details, lists := r.Counts()
	assert.Equal(t, 2, details)
	assert.Zero(t, lists)

	assert.Equal(t, 1, r.SignOut("u1"))
	details, _ = r.Counts()
	assert.Equal(t, 1, details)

	require.Eventually(t, func() bool { return env.reviews.openSubs() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_SweepClosesIdleSessions(t *testing.T) {
	_, r := newTestRegistry(t)

	d, err := r.OpenDetail(context.Background(), "bookA", ann)
	require.NoError(t, err)
	_, err = r.OpenList(bob)
	require.NoError(t, err)

	r.sweep()
	details, lists := r.Counts()
	assert.Equal(t, 1, details)
	assert.Equal(t, 1, lists)

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	r.sweep()

	details, lists = r.Counts()
	assert.Zero(t, details)
	assert.Zero(t, lists)
	assert.Equal(t, StateClosed, d.State())
}

func TestRegistry_SweepKeepsWatchedDetails(t *testing.T) {
	_, r := newTestRegistry(t)

	d, err := r.OpenDetail(context.Background(), "bookA", ann)
	require.NoError(t, err)
	views, stop := d.Watch()

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	r.sweep()

	details, _ := r.Counts()
	assert.Equal(t, 1, details)
	assert.NotEqual(t, StateClosed, d.State())
	select {
	case _, ok := <-views:
		assert.True(t, ok, "watch stream closed by sweep")
	default:
	}

	stop()
	r.sweep()
	details, _ = r.Counts()
	assert.Zero(t, details)
	assert.Equal(t, StateClosed, d.State())
}

func TestRegistry_JanitorKeepsWatchedDetailOpen(t *testing.T) {
	env := newTestEnv()
	r := NewRegistry(env.deps, RegistryOptions{IdleTimeout: 50 * time.Millisecond})
	t.Cleanup(r.Close)

	d, err := r.OpenDetail(context.Background(), "bookA", ann)
	require.NoError(t, err)
	_, err = d.WaitReady(context.Background())
	require.NoError(t, err)

	views, stop := d.Watch()
	defer stop()

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case _, ok := <-views:
			require.True(t, ok, "watch stream closed while in use")
		case <-deadline:
			assert.NotEqual(t, StateClosed, d.State())
			return
		}
	}
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	_, r := newTestRegistry(t)

	var first *CatalogList
	for i := range maxSessionsPerUser + 1 {
		l, err := r.OpenList(ann)
		require.NoError(t, err)
		if i == 0 {
			first = l
		}
		time.Sleep(time.Millisecond)
	}

	_, lists := r.Counts()
	assert.Equal(t, maxSessionsPerUser, lists)
	_, err := r.List(first.ID(), "u1")
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
	assert.ErrorIs(t, first.LoadMore(context.Background()), ErrClosed)
}

func TestRegistry_CloseClosesEverything(t *testing.T) {
	env := newTestEnv()
	r := NewRegistry(env.deps, RegistryOptions{IdleTimeout: time.Hour})

	d, err := r.OpenDetail(context.Background(), "bookA", ann)
	require.NoError(t, err)
	l, err := r.OpenList(ann)
	require.NoError(t, err)

	r.Close()
	r.Close()

	assert.Equal(t, StateClosed, d.State())
	assert.ErrorIs(t, l.LoadMore(context.Background()), ErrClosed)

	_, err = r.OpenList(ann)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.OpenDetail(context.Background(), "bookA", ann)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_RejectsAnonymous(t *testing.T) {
	_, r := newTestRegistry(t)

	_, err := r.OpenDetail(context.Background(), "bookA", domain.Identity{})
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = r.OpenList(domain.Identity{})
	assert.ErrorIs(t, err, ErrSignedOut)
}
