// Package sse implements live review feeds and the Server-Sent Events
// transport used to push detail views to clients.
package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/id"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// reloadTimeout bounds a single re-read of a book's reviews.
const reloadTimeout = 10 * time.Second

// ErrManagerClosed is returned by Subscribe after Close.
var ErrManagerClosed = errors.New("sse: feed manager closed")

// ReviewLister reads the complete, ordered review list of a book.
type ReviewLister interface {
	ListBookReviews(ctx context.Context, bookID string) ([]*domain.Review, error)
}

// Manager fans committed review changes out to per-book subscriptions.
// It implements store.EventEmitter: the store hands it every committed
// change and each subscription on that book re-reads the full list.
type Manager struct {
	logger *slog.Logger

	mu     sync.RWMutex
	lister ReviewLister
	subs   map[string]map[string]*Subscription // bookID -> subscription ID
	closed bool
}

var _ store.EventEmitter = (*Manager)(nil)

// NewManager creates a feed manager. The lister is set separately because
// the store that lists reviews is itself constructed with the manager as
// its event emitter.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		logger: logger,
		subs:   make(map[string]map[string]*Subscription),
	}
}

// SetLister sets the source of review lists.
func (m *Manager) SetLister(l ReviewLister) {
	m.mu.Lock()
	m.lister = l
	m.mu.Unlock()
}

// Emit marks every subscription on the event's book as stale. It never
// blocks: pending notifications coalesce because each delivery carries the
// complete list read after the latest change.
func (m *Manager) Emit(event store.ReviewEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs[event.BookID] {
		sub.markStale()
	}

	m.logger.Debug("review change fanned out",
		slog.String("event_type", string(event.Type)),
		slog.String("book_id", event.BookID),
		slog.Int("subscribers", len(m.subs[event.BookID])))
}

// Subscribe opens a live feed of bookID's reviews. onChange is called with
// the initial list and again with the complete list after every change.
// Calls are serialized on one goroutine per subscription.
//
// The initial read happens before Subscribe returns, so a failing store is
// reported here and not through onChange.
func (m *Manager) Subscribe(ctx context.Context, bookID string, onChange func([]*domain.Review)) (*Subscription, error) {
	if bookID == "" {
		return nil, domainerrors.Validation("book id is required")
	}
	if onChange == nil {
		return nil, domainerrors.Validation("onChange is required")
	}

	subID, err := id.Generate(id.PrefixSubscription)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:       subID,
		BookID:   bookID,
		manager:  m,
		onChange: onChange,
		stale:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	// Register before the first read so no change slips between the read
	// and the registration.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	lister := m.lister
	if lister == nil {
		m.mu.Unlock()
		return nil, errors.New("sse: review lister not configured")
	}
	if m.subs[bookID] == nil {
		m.subs[bookID] = make(map[string]*Subscription)
	}
	m.subs[bookID][sub.ID] = sub
	m.mu.Unlock()

	initial, err := lister.ListBookReviews(ctx, bookID)
	if err != nil {
		m.remove(sub)
		return nil, fmt.Errorf("initial review list: %w", err)
	}

	go sub.dispatch(lister, initial)

	m.logger.Debug("review feed opened",
		slog.String("subscription_id", sub.ID),
		slog.String("book_id", bookID))
	return sub, nil
}

// SubscriberCount returns the number of open subscriptions on bookID.
func (m *Manager) SubscriberCount(bookID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[bookID])
}

// Close cancels every subscription. Subscribe fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var all []*Subscription
	for _, byID := range m.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range all {
		sub.Cancel()
	}
	m.logger.Info("review feeds closed", slog.Int("subscriptions", len(all)))
}

func (m *Manager) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.subs[sub.BookID]
	delete(byID, sub.ID)
	if len(byID) == 0 {
		delete(m.subs, sub.BookID)
	}
}

// Subscription is one live feed. Cancel it exactly when the consumer is
// done; extra calls are harmless.
type Subscription struct {
	ID     string
	BookID string

	manager  *Manager
	onChange func([]*domain.Review)
	stale    chan struct{}
	done     chan struct{}
	exited   chan struct{}
	once     sync.Once
}

func (s *Subscription) markStale() {
	select {
	case s.stale <- struct{}{}:
	default:
	}
}

// Cancel stops the feed. Once Cancel returns, onChange is not running and
// will not run again. It must not be called from inside onChange.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.manager.remove(s)
		close(s.done)
	})
	<-s.exited
}

// Done is closed when the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) dispatch(lister ReviewLister, initial []*domain.Review) {
	defer close(s.exited)

	if !s.deliver(initial) {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-s.stale:
		}

		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		reviews, err := lister.ListBookReviews(ctx, s.BookID)
		cancel()
		if err != nil {
			// The list stays at the last good snapshot until the next change.
			s.manager.logger.Warn("failed to reload reviews",
				slog.String("subscription_id", s.ID),
				slog.String("book_id", s.BookID),
				slog.String("error", err.Error()))
			continue
		}
		if !s.deliver(reviews) {
			return
		}
	}
}

// deliver hands a list to onChange unless the subscription was cancelled.
func (s *Subscription) deliver(reviews []*domain.Review) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if reviews == nil {
		reviews = []*domain.Review{}
	}
	s.onChange(reviews)
	return true
}
