package synchronizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/id"
	"github.com/bookshelfapp/bookshelf-server/internal/textnorm"
)

// ListItem is one catalog entry annotated with the caller's read flag.
type ListItem struct {
	Book *domain.Book `json:"book"`
	Read bool         `json:"read"`
}

// ListView is a snapshot of a Catalog List synchronizer with the filter
// applied.
type ListView struct {
	SessionID string     `json:"session_id"`
	Items     []ListItem `json:"items"`
	// Loaded counts every accumulated book, filtered or not.
	Loaded    int        `json:"loaded"`
	HasMore   bool       `json:"has_more"`
	Filter    string     `json:"filter"`
	Loading   bool       `json:"loading"`
	LastError *ViewError `json:"last_error,omitempty"`
}

// CatalogList accumulates catalog pages for one user. The list only grows;
// filtering works on what has been loaded and never refetches.
type CatalogList struct {
	id       string
	identity domain.Identity
	deps     Deps
	logger   *slog.Logger
	pages    singleflight.Group

	mu         sync.Mutex
	books      []*domain.Book
	seen       map[string]struct{}
	read       domain.ReadSet
	markGen    uint64
	marks      map[string]uint64 // book -> markGen of its MarkRead
	cursor     string
	hasMore    bool
	filter     string
	matcher    textnorm.Matcher
	loading    bool
	closed     bool
	lastErr    error
	lastActive time.Time
}

// NewCatalogList creates an empty list session. Nothing is fetched until
// LoadMore.
func NewCatalogList(deps Deps, identity domain.Identity) (*CatalogList, error) {
	if identity.UserID == "" {
		return nil, ErrSignedOut
	}
	sessionID, err := id.Generate(id.PrefixListSession)
	if err != nil {
		return nil, err
	}

	return &CatalogList{
		id:         sessionID,
		identity:   identity,
		deps:       deps,
		logger:     deps.logger().With(slog.String("list_session", sessionID)),
		seen:       make(map[string]struct{}),
		read:       domain.NewReadSet(),
		marks:      make(map[string]uint64),
		hasMore:    true,
		lastActive: time.Now(),
	}, nil
}

// ID returns the session ID.
func (l *CatalogList) ID() string { return l.id }

// Identity returns the user the session was opened for.
func (l *CatalogList) Identity() domain.Identity { return l.identity }

// LoadMore fetches the next page and appends it. It is a no-op at the end
// of the catalog, and concurrent calls share one fetch.
func (l *CatalogList) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.lastActive = time.Now()
	if !l.hasMore {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	_, err := joinShared(ctx, context.WithoutCancel(ctx), &l.pages, "next", func(fctx context.Context) (struct{}, error) {
		return struct{}{}, l.loadNext(fctx)
	})
	return err
}

func (l *CatalogList) loadNext(ctx context.Context) error {
	l.mu.Lock()
	if l.closed || !l.hasMore {
		l.mu.Unlock()
		return nil
	}
	cursor := l.cursor
	l.loading = true
	l.mu.Unlock()

	page, err := l.deps.Pages.FetchCatalogPage(ctx, cursor)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	if err != nil {
		l.lastErr = toDomain(err)
		return l.lastErr
	}
	if l.closed {
		return ErrClosed
	}

	added := 0
	for _, book := range page.Items {
		// The shelf may have been refreshed between pages.
		if _, dup := l.seen[book.ID]; dup {
			continue
		}
		l.seen[book.ID] = struct{}{}
		l.books = append(l.books, book)
		added++
	}
	l.cursor = page.NextCursor
	l.hasMore = page.NextCursor != ""
	l.lastErr = nil

	l.logger.Debug("catalog page loaded", slog.Int("added", added), slog.Bool("has_more", l.hasMore))
	return nil
}

// SetFilter sets a case and accent insensitive substring filter over the
// titles and authors of the loaded books.
func (l *CatalogList) SetFilter(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActive = time.Now()
	l.filter = query
	l.matcher = textnorm.NewMatcher(query)
}

// Focus reloads the read set in one call and re-annotates every item. The
// list screen calls it whenever it comes back into view.
func (l *CatalogList) Focus(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.lastActive = time.Now()
	start := l.markGen
	l.mu.Unlock()

	set, err := l.deps.ReadState.GetReadSet(ctx, l.identity.UserID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.lastErr = toDomain(err)
		return l.lastErr
	}
	// Marks made while the set was loading may be missing from it.
	read := set.Clone()
	for bookID, gen := range l.marks {
		if gen > start {
			read[bookID] = struct{}{}
		} else {
			delete(l.marks, bookID)
		}
	}
	l.read = read
	return nil
}

// MarkRead adds bookID to the read set and annotates it.
func (l *CatalogList) MarkRead(ctx context.Context, bookID string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.lastActive = time.Now()
	l.mu.Unlock()

	if err := l.deps.ReadState.AddToReadSet(ctx, l.identity.UserID, bookID); err != nil {
		err = toDomain(err)
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.markGen++
	l.marks[bookID] = l.markGen
	l.read[bookID] = struct{}{}
	return nil
}

// View returns the filtered list.
func (l *CatalogList) View() ListView {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActive = time.Now()

	items := make([]ListItem, 0, len(l.books))
	for _, book := range l.books {
		fields := append([]string{book.Title}, book.Authors...)
		if !l.matcher.Contains(fields...) {
			continue
		}
		items = append(items, ListItem{Book: book.Clone(), Read: l.read.Has(book.ID)})
	}

	return ListView{
		SessionID: l.id,
		Items:     items,
		Loaded:    len(l.books),
		HasMore:   l.hasMore,
		Filter:    l.filter,
		Loading:   l.loading,
		LastError: viewError(l.lastErr),
	}
}

// Close ends the session. Later calls fail with ErrClosed.
func (l *CatalogList) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// LastActive is when a caller last touched the session.
func (l *CatalogList) LastActive() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastActive
}
