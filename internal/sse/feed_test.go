package sse

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

type fakeLister struct {
	mu      sync.Mutex
	reviews map[string][]*domain.Review
	err     error
	calls   atomic.Int32
}

func newFakeLister() *fakeLister {
	return &fakeLister{reviews: make(map[string][]*domain.Review)}
}

func (f *fakeLister) ListBookReviews(_ context.Context, bookID string) ([]*domain.Review, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return domain.CloneReviews(f.reviews[bookID]), nil
}

func (f *fakeLister) add(r *domain.Review) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews[r.BookID] = append([]*domain.Review{r}, f.reviews[r.BookID]...)
}

// collector records every delivered list.
type collector struct {
	mu    sync.Mutex
	lists [][]*domain.Review
}

func (c *collector) onChange(reviews []*domain.Review) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = append(c.lists, reviews)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lists)
}

func (c *collector) last() []*domain.Review {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lists) == 0 {
		return nil
	}
	return c.lists[len(c.lists)-1]
}

func newTestManager(t *testing.T, lister ReviewLister) *Manager {
	t.Helper()
	m := NewManager(nil)
	m.SetLister(lister)
	t.Cleanup(m.Close)
	return m
}

func TestManager_InitialDeliveryIsEmptyList(t *testing.T) {
	m := newTestManager(t, newFakeLister())
	var c collector

	sub, err := m.Subscribe(context.Background(), "book-1", c.onChange)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, c.last())
	assert.Empty(t, c.last())
}

func TestManager_EmitRereadsCompleteList(t *testing.T) {
	lister := newFakeLister()
	m := newTestManager(t, lister)
	var c collector

	sub, err := m.Subscribe(context.Background(), "book-1", c.onChange)
	require.NoError(t, err)
	defer sub.Cancel()
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	lister.add(&domain.Review{ID: "rev-1", BookID: "book-1", UserID: "u1", Text: "Great read", Rating: 5})
	m.Emit(store.ReviewEvent{Type: store.ReviewCreated, BookID: "book-1", ReviewID: "rev-1"})

	require.Eventually(t, func() bool { return len(c.last()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Great read", c.last()[0].Text)
}

func TestManager_EventsAreScopedToBook(t *testing.T) {
	lister := newFakeLister()
	m := newTestManager(t, lister)
	var c collector

	sub, err := m.Subscribe(context.Background(), "book-1", c.onChange)
	require.NoError(t, err)
	defer sub.Cancel()
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	m.Emit(store.ReviewEvent{Type: store.ReviewCreated, BookID: "book-2"})
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, c.count())
	assert.Equal(t, int32(1), lister.calls.Load())
}

func TestManager_SubscribeFailsWhenInitialReadFails(t *testing.T) {
	lister := newFakeLister()
	lister.err = errors.New("store down")
	m := newTestManager(t, lister)

	sub, err := m.Subscribe(context.Background(), "book-1", func([]*domain.Review) {})
	assert.Error(t, err)
	assert.Nil(t, sub)
	assert.Zero(t, m.SubscriberCount("book-1"))
}

func TestManager_SubscribeValidation(t *testing.T) {
	m := newTestManager(t, newFakeLister())

	_, err := m.Subscribe(context.Background(), "", func([]*domain.Review) {})
	assert.Error(t, err)

	_, err = m.Subscribe(context.Background(), "book-1", nil)
	assert.Error(t, err)

	unconfigured := NewManager(nil)
	_, err = unconfigured.Subscribe(context.Background(), "book-1", func([]*domain.Review) {})
	assert.Error(t, err)
}

func TestSubscription_CancelIsIdempotentAndFinal(t *testing.T) {
	lister := newFakeLister()
	m := newTestManager(t, lister)
	var c collector

	sub, err := m.Subscribe(context.Background(), "book-1", c.onChange)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.Cancel()
	sub.Cancel()
	assert.Zero(t, m.SubscriberCount("book-1"))

	m.Emit(store.ReviewEvent{Type: store.ReviewCreated, BookID: "book-1"})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, c.count())

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestSubscription_CallbacksAreSerialized(t *testing.T) {
	lister := newFakeLister()
	m := newTestManager(t, lister)

	var running, overlaps, calls atomic.Int32
	sub, err := m.Subscribe(context.Background(), "book-1", func([]*domain.Review) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		calls.Add(1)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			m.Emit(store.ReviewEvent{Type: store.ReviewUpdated, BookID: "book-1"})
		})
	}
	wg.Wait()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, overlaps.Load())
}

func TestManager_CloseCancelsAll(t *testing.T) {
	m := NewManager(nil)
	m.SetLister(newFakeLister())

	a, err := m.Subscribe(context.Background(), "book-1", func([]*domain.Review) {})
	require.NoError(t, err)
	b, err := m.Subscribe(context.Background(), "book-2", func([]*domain.Review) {})
	require.NoError(t, err)

	m.Close()

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Done():
		default:
			t.Fatalf("subscription %s still open", sub.ID)
		}
	}
	_, err = m.Subscribe(context.Background(), "book-1", func([]*domain.Review) {})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestStreamer_WritesEventsAndClose(t *testing.T) {
	events := make(chan Event, 2)
	events <- NewEvent(EventDetailView, map[string]string{"state": "ready"})
	close(events)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/events", nil)

	NewStreamer(nil, time.Minute).Stream(rec, req, "dses-1", events)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "event: detail.view\ndata: ")
	assert.Contains(t, body, `"state":"ready"`)
	assert.Contains(t, body, "event: closed\n")
	assert.Less(t, strings.Index(body, "detail.view"), strings.Index(body, "event: closed"))
}

func TestStreamer_StopsOnClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		NewStreamer(nil, time.Minute).Stream(rec, req, "dses-1", make(chan Event))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}
