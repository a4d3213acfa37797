package synchronizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/catalog"
	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
)

type fakeCatalog struct {
	mu      sync.Mutex
	books   map[string]*domain.Book
	shelf   []*domain.Book
	err     error
	gate    chan struct{}
	fetches atomic.Int32
	pages   atomic.Int32
}

func newFakeCatalog(books ...*domain.Book) *fakeCatalog {
	c := &fakeCatalog{books: make(map[string]*domain.Book)}
	for _, b := range books {
		c.books[b.ID] = b
		c.shelf = append(c.shelf, b)
	}
	return c
}

func (c *fakeCatalog) wait(ctx context.Context) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeCatalog) FetchBook(ctx context.Context, bookID string) (*domain.Book, error) {
	c.fetches.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	book, ok := c.books[bookID]
	if !ok {
		return nil, domainerrors.NotFoundf("book %s not found", bookID)
	}
	return book.Clone(), nil
}

func (c *fakeCatalog) FetchCatalogPage(ctx context.Context, cursor string) (*catalog.Page, error) {
	c.pages.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	offset, err := catalog.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	const pageSize = 2
	page := &catalog.Page{Items: []*domain.Book{}}
	if offset >= len(c.shelf) {
		return page, nil
	}
	end := min(offset+pageSize, len(c.shelf))
	for _, b := range c.shelf[offset:end] {
		page.Items = append(page.Items, b.Clone())
	}
	if end < len(c.shelf) {
		page.NextCursor = catalog.EncodeCursor(end)
	}
	return page, nil
}

type fakeSub struct {
	bookID   string
	onChange func([]*domain.Review)
	canceled atomic.Bool
}

func (s *fakeSub) Cancel() { s.canceled.Store(true) }

// fakeReviews stores reviews in memory and delivers the full list to
// subscribers synchronously after every write.
type fakeReviews struct {
	mu         sync.Mutex
	reviews    map[string][]*domain.Review
	subs       []*fakeSub
	subErr     error
	writeErr   error
	seq        int
	subscribes atomic.Int32
	creates    atomic.Int32
	updates    atomic.Int32
	deletes    atomic.Int32
}

func newFakeReviews() *fakeReviews {
	return &fakeReviews{reviews: make(map[string][]*domain.Review)}
}

func (f *fakeReviews) SubscribeReviews(_ context.Context, bookID string, onChange func([]*domain.Review)) (service.Subscription, error) {
	f.subscribes.Add(1)
	f.mu.Lock()
	if f.subErr != nil {
		f.mu.Unlock()
		return nil, f.subErr
	}
	sub := &fakeSub{bookID: bookID, onChange: onChange}
	f.subs = append(f.subs, sub)
	initial := domain.CloneReviews(f.reviews[bookID])
	f.mu.Unlock()

	onChange(initial)
	return sub, nil
}

// push replaces bookID's list and delivers it.
func (f *fakeReviews) push(bookID string, reviews []*domain.Review) {
	f.mu.Lock()
	f.reviews[bookID] = reviews
	f.mu.Unlock()
	f.deliver(bookID)
}

func (f *fakeReviews) deliver(bookID string) {
	f.mu.Lock()
	list := f.reviews[bookID]
	var subs []*fakeSub
	for _, s := range f.subs {
		if s.bookID == bookID && !s.canceled.Load() {
			subs = append(subs, s)
		}
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.onChange(domain.CloneReviews(list))
	}
}

func (f *fakeReviews) openSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.canceled.Load() {
			n++
		}
	}
	return n
}

func (f *fakeReviews) CreateReview(_ context.Context, bookID, userID, userName, text string, rating int) (string, error) {
	f.creates.Add(1)
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return "", f.writeErr
	}
	f.seq++
	review := &domain.Review{
		ID:        fmt.Sprintf("rev-%03d", f.seq),
		BookID:    bookID,
		UserID:    userID,
		UserName:  userName,
		Text:      text,
		Rating:    rating,
		CreatedAt: time.Unix(int64(f.seq), 0).UTC(),
	}
	f.reviews[bookID] = append([]*domain.Review{review}, f.reviews[bookID]...)
	f.mu.Unlock()

	f.deliver(bookID)
	return review.ID, nil
}

func (f *fakeReviews) find(reviewID string) (*domain.Review, int) {
	for _, list := range f.reviews {
		for i, r := range list {
			if r.ID == reviewID {
				return r, i
			}
		}
	}
	return nil, -1
}

func (f *fakeReviews) UpdateReview(_ context.Context, reviewID, userID, text string, rating int) error {
	f.updates.Add(1)
	f.mu.Lock()
	r, _ := f.find(reviewID)
	switch {
	case f.writeErr != nil:
		f.mu.Unlock()
		return f.writeErr
	case r == nil:
		f.mu.Unlock()
		return domainerrors.NotFound("review not found")
	case r.UserID != userID:
		f.mu.Unlock()
		return domainerrors.Forbidden("only the author can change this review")
	}
	r.Text, r.Rating = text, rating
	bookID := r.BookID
	f.mu.Unlock()

	f.deliver(bookID)
	return nil
}

func (f *fakeReviews) DeleteReview(_ context.Context, reviewID, userID string) error {
	f.deletes.Add(1)
	f.mu.Lock()
	r, i := f.find(reviewID)
	switch {
	case f.writeErr != nil:
		f.mu.Unlock()
		return f.writeErr
	case r == nil:
		f.mu.Unlock()
		return domainerrors.NotFound("review not found")
	case r.UserID != userID:
		f.mu.Unlock()
		return domainerrors.Forbidden("only the author can change this review")
	}
	bookID := r.BookID
	list := f.reviews[bookID]
	f.reviews[bookID] = append(append([]*domain.Review{}, list[:i]...), list[i+1:]...)
	f.mu.Unlock()

	f.deliver(bookID)
	return nil
}

type fakeReadState struct {
	mu      sync.Mutex
	sets    map[string]domain.ReadSet
	getErr  error
	err     error
	gate    chan struct{}
	entered chan struct{}
	getGate chan struct{}
	gets    atomic.Int32
	adds    atomic.Int32
	removes atomic.Int32
}

func newFakeReadState() *fakeReadState {
	return &fakeReadState{sets: make(map[string]domain.ReadSet)}
}

// GetReadSet snapshots the set before waiting on getGate, like a read that
// was answered before later writes landed.
func (f *fakeReadState) GetReadSet(ctx context.Context, userID string) (domain.ReadSet, error) {
	f.gets.Add(1)
	f.mu.Lock()
	gate, getErr := f.getGate, f.getErr
	set, ok := f.sets[userID]
	if !ok {
		set = domain.NewReadSet()
		f.sets[userID] = set
	}
	snapshot := set.Clone()
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if getErr != nil {
		return nil, getErr
	}
	return snapshot, nil
}

// block waits for the gate if one is set, announcing itself on entered.
func (f *fakeReadState) block(ctx context.Context) error {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	if entered != nil {
		entered <- struct{}{}
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeReadState) AddToReadSet(ctx context.Context, userID, bookID string) error {
	f.adds.Add(1)
	if err := f.block(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sets[userID] == nil {
		f.sets[userID] = domain.NewReadSet()
	}
	f.sets[userID][bookID] = struct{}{}
	return nil
}

func (f *fakeReadState) RemoveFromReadSet(ctx context.Context, userID, bookID string) error {
	f.removes.Add(1)
	if err := f.block(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.sets[userID], bookID)
	return nil
}

func (f *fakeReadState) set(userID string) domain.ReadSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[userID].Clone()
}
