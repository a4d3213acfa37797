package synchronizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	// maxSessionsPerUser bounds open sessions of each kind per user; the
	// least recently used one is closed to make room.
	maxSessionsPerUser = 16
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// IdleTimeout closes sessions nobody touched for this long.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are looked for. Defaults to
	// a fraction of IdleTimeout.
	SweepInterval time.Duration
}

// Registry keeps the open detail and list sessions of every user so they
// can be addressed by ID across requests.
type Registry struct {
	deps   Deps
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	details map[string]*BookDetail
	lists   map[string]*CatalogList
	closed  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a registry and starts its idle janitor.
func NewRegistry(deps Deps, opts RegistryOptions) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = min(opts.IdleTimeout/4, time.Minute)
	}

	r := &Registry{
		deps:    deps,
		idle:    opts.IdleTimeout,
		logger:  deps.logger().With(slog.String("component", "session_registry")),
		now:     time.Now,
		details: make(map[string]*BookDetail),
		lists:   make(map[string]*CatalogList),
		stop:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.janitor(opts.SweepInterval)
	return r
}

// OpenDetail opens and registers a Book Detail session.
func (r *Registry) OpenDetail(ctx context.Context, bookID string, identity domain.Identity) (*BookDetail, error) {
	d, err := OpenBookDetail(ctx, r.deps, bookID, identity)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		d.Close()
		return nil, ErrClosed
	}
	r.details[d.ID()] = d
	evict := r.overflowDetailsLocked(identity.UserID)
	r.mu.Unlock()

	if evict != nil {
		evict.Close()
	}
	return d, nil
}

// Detail returns the caller's detail session. Sessions of other users are
// reported as missing.
func (r *Registry) Detail(sessionID, userID string) (*BookDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.details[sessionID]
	if !ok || d.Identity().UserID != userID {
		return nil, domainerrors.NotFound("detail session not found")
	}
	return d, nil
}

// CloseDetail closes and forgets the caller's detail session.
func (r *Registry) CloseDetail(sessionID, userID string) error {
	d, err := r.Detail(sessionID, userID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.details, sessionID)
	r.mu.Unlock()

	d.Close()
	return nil
}

// OpenList opens and registers a Catalog List session.
func (r *Registry) OpenList(identity domain.Identity) (*CatalogList, error) {
	l, err := NewCatalogList(r.deps, identity)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.lists[l.ID()] = l
	evict := r.overflowListsLocked(identity.UserID)
	r.mu.Unlock()

	if evict != nil {
		evict.Close()
	}
	return l, nil
}

// List returns the caller's list session.
func (r *Registry) List(sessionID, userID string) (*CatalogList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lists[sessionID]
	if !ok || l.Identity().UserID != userID {
		return nil, domainerrors.NotFound("catalog session not found")
	}
	return l, nil
}

// CloseList closes and forgets the caller's list session.
func (r *Registry) CloseList(sessionID, userID string) error {
	l, err := r.List(sessionID, userID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.lists, sessionID)
	r.mu.Unlock()

	l.Close()
	return nil
}

// SignOut signs out and closes every session of userID. It returns how
// many sessions were closed.
func (r *Registry) SignOut(userID string) int {
	return r.signOut(func(id domain.Identity) bool { return id.UserID == userID })
}

// SignOutSession signs out and closes every screen session opened with the
// login session sessionID.
func (r *Registry) SignOutSession(sessionID string) int {
	return r.signOut(func(id domain.Identity) bool { return id.SessionID == sessionID })
}

func (r *Registry) signOut(match func(domain.Identity) bool) int {
	r.mu.Lock()
	var details []*BookDetail
	var lists []*CatalogList
	for key, d := range r.details {
		if match(d.Identity()) {
			details = append(details, d)
			delete(r.details, key)
		}
	}
	for key, l := range r.lists {
		if match(l.Identity()) {
			lists = append(lists, l)
			delete(r.lists, key)
		}
	}
	r.mu.Unlock()

	// Pending mutations observe the sign-out before the session closes.
	for _, d := range details {
		d.SignOut()
		d.Close()
	}
	for _, l := range lists {
		l.Close()
	}
	return len(details) + len(lists)
}

// Counts returns the number of open detail and list sessions.
func (r *Registry) Counts() (details, lists int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.details), len(r.lists)
}

// Close stops the janitor and closes every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	r.closed = true
	details := r.details
	lists := r.lists
	r.details = make(map[string]*BookDetail)
	r.lists = make(map[string]*CatalogList)
	r.mu.Unlock()

	for _, d := range details {
		d.Close()
	}
	for _, l := range lists {
		l.Close()
	}
	r.logger.Info("session registry closed", slog.Int("details", len(details)), slog.Int("lists", len(lists)))
}

func (r *Registry) janitor(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

// sweep closes sessions idle for longer than the idle timeout. Detail
// sessions with an open Watch stream are never idle.
func (r *Registry) sweep() {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var details []*BookDetail
	var lists []*CatalogList
	for key, d := range r.details {
		if !d.Watched() && d.LastActive().Before(cutoff) {
			details = append(details, d)
			delete(r.details, key)
		}
	}
	for key, l := range r.lists {
		if l.LastActive().Before(cutoff) {
			lists = append(lists, l)
			delete(r.lists, key)
		}
	}
	r.mu.Unlock()

	for _, d := range details {
		d.Close()
	}
	for _, l := range lists {
		l.Close()
	}
	if n := len(details) + len(lists); n > 0 {
		r.logger.Info("idle sessions closed", slog.Int("count", n))
	}
}

// overflowDetailsLocked unregisters and returns the user's least recently
// used detail session when the user is over the limit.
func (r *Registry) overflowDetailsLocked(userID string) *BookDetail {
	var oldest *BookDetail
	count := 0
	for _, d := range r.details {
		if d.Identity().UserID != userID {
			continue
		}
		count++
		if oldest == nil || d.LastActive().Before(oldest.LastActive()) {
			oldest = d
		}
	}
	if count <= maxSessionsPerUser {
		return nil
	}
	delete(r.details, oldest.ID())
	return oldest
}

func (r *Registry) overflowListsLocked(userID string) *CatalogList {
	var oldest *CatalogList
	count := 0
	for _, l := range r.lists {
		if l.Identity().UserID != userID {
			continue
		}
		count++
		if oldest == nil || l.LastActive().Before(oldest.LastActive()) {
			oldest = l
		}
	}
	if count <= maxSessionsPerUser {
		return nil
	}
	delete(r.lists, oldest.ID())
	return oldest
}
