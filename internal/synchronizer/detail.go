package synchronizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/id"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
)

// State is the lifecycle state of a Book Detail synchronizer.
type State string

// Detail states. Loading moves to Ready once the book and the first review
// snapshot are both in, or to Unavailable when the book cannot be fetched.
// Closed is entered from anywhere and is final.
const (
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
	StateClosed      State = "closed"
)

// DetailView is an immutable snapshot of a Book Detail synchronizer.
type DetailView struct {
	SessionID string       `json:"session_id"`
	BookID    string       `json:"book_id"`
	State     State        `json:"state"`
	Book      *domain.Book `json:"book,omitempty"`
	// Reviews is exactly the latest snapshot from the review feed.
	Reviews   []*domain.Review `json:"reviews"`
	OwnReview *domain.Review   `json:"own_review,omitempty"`

	Read                 bool `json:"read"`
	ReadKnown            bool `json:"read_known"`
	ReadStateUnavailable bool `json:"read_state_unavailable"`

	ComposeText   string `json:"compose_text"`
	ComposeRating int    `json:"compose_rating"`

	Submitting       bool `json:"submitting"`
	TogglingRead     bool `json:"toggling_read"`
	PendingMutations int  `json:"pending_mutations"`
	SignedOut        bool `json:"signed_out"`

	LastError *ViewError `json:"last_error,omitempty"`
	Version   uint64     `json:"version"`
}

// BookDetail joins one catalog book, its live reviews and the caller's read
// flag. Reviews are never edited locally: the review feed is the only
// writer of the list, and writes show up when the feed delivers them.
type BookDetail struct {
	id       string
	bookID   string
	identity domain.Identity
	deps     Deps
	logger   *slog.Logger

	// life scopes background loads; it ends on Close.
	life   context.Context
	cancel context.CancelFunc

	toggles singleflight.Group
	ready   chan struct{}

	mu              sync.Mutex
	state           State
	book            *domain.Book
	reviews         []*domain.Review
	read            bool
	readKnown       bool
	readUnavailable bool
	storedRead      bool // flag as last loaded from the store
	storedKnown     bool
	toggled         bool // a toggle has been persisted
	composeText     string
	composeRating   int
	submitting      bool
	toggling        bool
	pending         int
	signedOut       bool
	lastErr         error
	version         uint64
	sub             service.Subscription
	inflight        map[int]context.CancelFunc
	nextInflight    int
	watchers        map[int]chan DetailView
	nextWatcher     int
	readyClosed     bool
	lastActive      time.Time
}

// OpenBookDetail starts a detail session for bookID. It returns at once in
// Loading; use WaitReady or Watch to follow it. The catalog fetch runs
// first and the review feed is opened only once the book is known, so a
// missing book never touches reviews. The read flag loads alongside.
func OpenBookDetail(ctx context.Context, deps Deps, bookID string, identity domain.Identity) (*BookDetail, error) {
	if identity.UserID == "" {
		return nil, ErrSignedOut
	}
	if bookID == "" {
		return nil, domainerrors.Validation("book id is required")
	}

	sessionID, err := id.Generate(id.PrefixDetailSession)
	if err != nil {
		return nil, err
	}

	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &BookDetail{
		id:         sessionID,
		bookID:     bookID,
		identity:   identity,
		deps:       deps,
		logger:     deps.logger().With(slog.String("detail_session", sessionID), slog.String("book_id", bookID)),
		life:       life,
		cancel:     cancel,
		ready:      make(chan struct{}),
		state:      StateLoading,
		inflight:   make(map[int]context.CancelFunc),
		watchers:   make(map[int]chan DetailView),
		lastActive: time.Now(),
	}

	go d.loadReadFlag()
	go d.load()

	return d, nil
}

// ID returns the session ID.
func (d *BookDetail) ID() string { return d.id }

// BookID returns the book this session shows.
func (d *BookDetail) BookID() string { return d.bookID }

// Identity returns the user the session was opened for.
func (d *BookDetail) Identity() domain.Identity { return d.identity }

func (d *BookDetail) load() {
	book, err := d.deps.Books.FetchBook(d.life, d.bookID)
	if err != nil {
		d.fail(err)
		return
	}

	d.mu.Lock()
	if d.state != StateLoading {
		d.mu.Unlock()
		return
	}
	d.book = book
	d.changed()
	d.mu.Unlock()

	sub, err := d.deps.Reviews.SubscribeReviews(d.life, d.bookID, d.onReviews)
	if err != nil {
		d.fail(err)
		return
	}

	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		sub.Cancel()
		return
	}
	d.sub = sub
	d.mu.Unlock()
}

// fail moves a loading session to Unavailable.
func (d *BookDetail) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateLoading {
		return
	}
	d.state = StateUnavailable
	d.lastErr = toDomain(err)
	d.signalReady()
	d.changed()

	d.logger.Info("book detail unavailable", slog.String("error", err.Error()))
}

// onReviews is the review feed callback. Deliveries are serialized by the
// feed, and each one replaces the list wholesale.
func (d *BookDetail) onReviews(reviews []*domain.Review) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed || d.state == StateUnavailable {
		return
	}
	d.reviews = reviews
	if d.state == StateLoading && d.book != nil {
		d.state = StateReady
		d.signalReady()
	}
	d.changed()
}

func (d *BookDetail) loadReadFlag() {
	set, err := d.deps.ReadState.GetReadSet(d.life, d.identity.UserID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return
	}
	if err != nil {
		d.readUnavailable = true
		d.logger.Warn("read state unavailable", slog.String("error", err.Error()))
		d.changed()
		return
	}
	d.storedRead = set.Has(d.bookID)
	d.storedKnown = true
	// A persisted toggle owns the flag; an in-flight one settles it.
	if !d.toggled && !d.toggling {
		d.read = d.storedRead
	}
	d.readKnown = true
	d.changed()
}

// WaitReady blocks until the session leaves Loading or ctx ends, and
// returns the state it found.
func (d *BookDetail) WaitReady(ctx context.Context) (State, error) {
	select {
	case <-d.ready:
	case <-ctx.Done():
		return d.State(), ctx.Err()
	}
	return d.State(), nil
}

// State returns the current state.
func (d *BookDetail) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// View returns a snapshot of the session.
func (d *BookDetail) View() DetailView {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActive = time.Now()
	return d.viewLocked()
}

func (d *BookDetail) viewLocked() DetailView {
	reviews := domain.CloneReviews(d.reviews)
	var own *domain.Review
	if r := domain.OwnReview(reviews, d.identity.UserID); r != nil {
		c := *r
		own = &c
	}

	return DetailView{
		SessionID:            d.id,
		BookID:               d.bookID,
		State:                d.state,
		Book:                 d.book.Clone(),
		Reviews:              reviews,
		OwnReview:            own,
		Read:                 d.read,
		ReadKnown:            d.readKnown,
		ReadStateUnavailable: d.readUnavailable,
		ComposeText:          d.composeText,
		ComposeRating:        d.composeRating,
		Submitting:           d.submitting,
		TogglingRead:         d.toggling,
		PendingMutations:     d.pending,
		SignedOut:            d.signedOut,
		LastError:            viewError(d.lastErr),
		Version:              d.version,
	}
}

// SetCompose replaces the compose fields.
func (d *BookDetail) SetCompose(text string, rating int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return ErrClosed
	}
	d.lastActive = time.Now()
	d.composeText = text
	d.composeRating = rating
	d.changed()
	return nil
}

// SubmitReview posts the compose fields as a new review by the session
// user. Invalid input is rejected locally without any network call. The
// compose fields are cleared only when the review was stored.
func (d *BookDetail) SubmitReview(ctx context.Context) (string, error) {
	d.mu.Lock()
	if err := d.mutableLocked(); err != nil {
		d.mu.Unlock()
		return "", err
	}
	if d.submitting {
		d.mu.Unlock()
		return "", ErrBusy
	}
	text, rating := d.composeText, d.composeRating
	if err := domain.ValidateReviewInput(text, rating); err != nil {
		d.lastErr = err
		d.changed()
		d.mu.Unlock()
		return "", err
	}
	d.submitting = true
	mctx, done := d.beginLocked(ctx)
	d.changed()
	d.mu.Unlock()

	reviewID, err := d.deps.Reviews.CreateReview(mctx, d.bookID, d.identity.UserID, d.identity.Name(), text, rating)

	d.mu.Lock()
	defer d.mu.Unlock()
	done()
	d.submitting = false
	err = d.settleLocked(err)
	if err == nil {
		d.composeText = ""
		d.composeRating = 0
	}
	d.changed()
	if err != nil {
		return "", err
	}

	d.logger.Debug("review submitted", slog.String("review_id", reviewID))
	return reviewID, nil
}

// EditReview replaces the text and rating of one of the session user's
// reviews. The review must be in the latest snapshot and belong to the
// user; the store re-checks ownership.
func (d *BookDetail) EditReview(ctx context.Context, reviewID, text string, rating int) error {
	d.mu.Lock()
	if err := d.mutableLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.checkOwnLocked(reviewID); err != nil {
		d.mu.Unlock()
		return err
	}
	if err := domain.ValidateReviewInput(text, rating); err != nil {
		d.lastErr = err
		d.changed()
		d.mu.Unlock()
		return err
	}
	mctx, done := d.beginLocked(ctx)
	d.changed()
	d.mu.Unlock()

	err := d.deps.Reviews.UpdateReview(mctx, reviewID, d.identity.UserID, text, rating)

	d.mu.Lock()
	defer d.mu.Unlock()
	done()
	err = d.settleLocked(err)
	d.changed()
	return err
}

// DeleteReview deletes one of the session user's reviews. Deleting a
// review that is already gone succeeds.
func (d *BookDetail) DeleteReview(ctx context.Context, reviewID string) error {
	d.mu.Lock()
	if err := d.mutableLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.checkOwnLocked(reviewID); err != nil {
		d.mu.Unlock()
		if domainerrors.CodeOf(err) == domainerrors.CodeNotFound {
			return nil
		}
		return err
	}
	mctx, done := d.beginLocked(ctx)
	d.changed()
	d.mu.Unlock()

	err := d.deps.Reviews.DeleteReview(mctx, reviewID, d.identity.UserID)
	if domainerrors.CodeOf(err) == domainerrors.CodeNotFound {
		err = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	done()
	err = d.settleLocked(err)
	d.changed()
	return err
}

// ToggleRead flips the read flag optimistically and persists the change,
// rolling back on failure. A toggle issued while another is in flight joins
// it and reports its outcome, so rapid repeats make one net change. It
// returns the resulting flag.
func (d *BookDetail) ToggleRead(ctx context.Context) (bool, error) {
	d.mu.Lock()
	if err := d.mutableLocked(); err != nil {
		d.mu.Unlock()
		return false, err
	}
	if d.readUnavailable {
		d.mu.Unlock()
		return false, domainerrors.Unavailable("read state is unavailable")
	}
	d.mu.Unlock()

	return joinShared(ctx, d.life, &d.toggles, "toggle", d.toggle)
}

func (d *BookDetail) toggle(ctx context.Context) (bool, error) {
	d.mu.Lock()
	if err := d.mutableLocked(); err != nil {
		d.mu.Unlock()
		return false, err
	}
	previous := d.read
	target := !previous
	d.read = target
	d.toggling = true
	mctx, done := d.beginLocked(ctx)
	d.changed()
	d.mu.Unlock()

	var err error
	if target {
		err = d.deps.ReadState.AddToReadSet(mctx, d.identity.UserID, d.bookID)
	} else {
		err = d.deps.ReadState.RemoveFromReadSet(mctx, d.identity.UserID, d.bookID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	done()
	d.toggling = false
	switch {
	case err == nil:
		d.toggled = true
	case !d.toggled && d.storedKnown:
		// The load may have landed during the write; trust it over the
		// default the toggle started from.
		d.read = d.storedRead
	default:
		d.read = previous
	}
	err = d.settleLocked(err)
	d.changed()
	if err != nil {
		return d.read, err
	}
	return target, nil
}

// SignOut fails every pending and future mutation with Unauthorized. The
// session keeps showing its last view until it is closed.
func (d *BookDetail) SignOut() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.signedOut {
		return
	}
	d.signedOut = true
	for _, cancel := range d.inflight {
		cancel()
	}
	d.lastErr = ErrSignedOut
	d.changed()
}

// Close releases the review feed and stops background work. It is safe to
// call more than once and from any state.
func (d *BookDetail) Close() {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return
	}
	d.state = StateClosed
	sub := d.sub
	d.sub = nil
	for _, cancel := range d.inflight {
		cancel()
	}
	d.signalReady()
	d.changed()
	for key, ch := range d.watchers {
		close(ch)
		delete(d.watchers, key)
	}
	d.mu.Unlock()

	d.cancel()
	// Cancel waits for a running callback, which takes d.mu.
	if sub != nil {
		sub.Cancel()
	}
	d.logger.Debug("book detail closed")
}

// Watch returns a channel that receives the current view and then the
// latest view after every change. Slow readers only miss intermediate
// views, never the newest one. The channel closes when the session closes
// or the returned stop function is called.
func (d *BookDetail) Watch() (<-chan DetailView, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan DetailView, 1)
	if d.state == StateClosed {
		ch <- d.viewLocked()
		close(ch)
		return ch, func() {}
	}

	key := d.nextWatcher
	d.nextWatcher++
	d.watchers[key] = ch
	ch <- d.viewLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if _, ok := d.watchers[key]; ok {
				delete(d.watchers, key)
				close(ch)
				d.lastActive = time.Now()
			}
		})
	}
}

// Watched reports whether any Watch stream is open. A watched session is
// in use even when nobody calls it.
func (d *BookDetail) Watched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers) > 0
}

// LastActive is when a caller last touched the session.
func (d *BookDetail) LastActive() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActive
}

// mutableLocked reports why a mutation may not start.
func (d *BookDetail) mutableLocked() error {
	switch {
	case d.state == StateClosed:
		return ErrClosed
	case d.signedOut:
		return ErrSignedOut
	case d.state != StateReady:
		return ErrNotReady
	}
	d.lastActive = time.Now()
	return nil
}

func (d *BookDetail) checkOwnLocked(reviewID string) error {
	for _, r := range d.reviews {
		if r.ID != reviewID {
			continue
		}
		if !r.IsOwnedBy(d.identity.UserID) {
			return domainerrors.Forbidden("only the author can change this review")
		}
		return nil
	}
	return domainerrors.NotFoundf("review %s not found", reviewID)
}

// beginLocked registers an in-flight mutation. The returned context is
// cancelled by SignOut and Close; done must be called under d.mu.
func (d *BookDetail) beginLocked(ctx context.Context) (context.Context, func()) {
	mctx, cancel := context.WithCancel(ctx)
	key := d.nextInflight
	d.nextInflight++
	d.inflight[key] = cancel
	d.pending++

	return mctx, func() {
		cancel()
		delete(d.inflight, key)
		d.pending--
	}
}

// settleLocked turns a mutation result into what the caller sees. A
// sign-out that happened meanwhile wins over any outcome.
func (d *BookDetail) settleLocked(err error) error {
	if d.signedOut {
		return ErrSignedOut
	}
	if d.state == StateClosed {
		return ErrClosed
	}
	if err != nil {
		err = toDomain(err)
		d.lastErr = err
		return err
	}
	d.lastErr = nil
	return nil
}

func (d *BookDetail) signalReady() {
	if !d.readyClosed {
		d.readyClosed = true
		close(d.ready)
	}
}

// changed bumps the version and pushes the new view to watchers.
func (d *BookDetail) changed() {
	d.version++
	if len(d.watchers) == 0 {
		return
	}
	view := d.viewLocked()
	for _, ch := range d.watchers {
		// Replace an unread view with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- view:
		default:
		}
	}
}
