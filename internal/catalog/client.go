// Package catalog is the client for the remote book catalog.
//
// The catalog serves the whole shelf at GET /books and single records at
// GET /books/{id}. FetchCatalogPage keeps the shelf cached for a while and
// hands it out in fixed-size pages behind an opaque cursor; FetchBook always
// goes to the network. Failures surface as domain errors: NotFound for a
// missing book and Unavailable for everything else.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultPageSize matches the page size of the original app.
	DefaultPageSize = 5

	defaultTimeout  = 30 * time.Second
	defaultCacheTTL = 5 * time.Minute
	defaultRPS      = 5.0
	defaultBurst    = 10

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 8 << 20
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	PageSize  int
	CacheTTL  time.Duration
	RateLimit float64
	Burst     int
}

// Client is a rate-limited catalog API client.
type Client struct {
	http     *http.Client
	baseURL  string
	host     string
	token    string
	pageSize int
	cacheTTL time.Duration
	limiter  *ratelimit.KeyedRateLimiter
	logger   *slog.Logger
	now      func() time.Time

	loads   singleflight.Group
	mu      sync.Mutex
	shelf   []*domain.Book
	shelfAt time.Time
}

// New creates a new catalog client.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid catalog base url %q", opts.BaseURL)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}

	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL:  u.String(),
		host:     u.Host,
		token:    opts.Token,
		pageSize: opts.PageSize,
		cacheTTL: opts.CacheTTL,
		limiter:  ratelimit.New(opts.RateLimit, opts.Burst),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

// PageSize is the number of books per catalog page.
func (c *Client) PageSize() int {
	return c.pageSize
}

// FetchBook retrieves one book. It is never served from the shelf cache.
func (c *Client) FetchBook(ctx context.Context, bookID string) (*domain.Book, error) {
	if bookID == "" || strings.ContainsAny(bookID, "/?#") {
		return nil, classify("fetchBook", bookID, ErrNotFound)
	}

	body, err := c.doRequest(ctx, "/books/"+url.PathEscape(bookID))
	if err != nil {
		return nil, classify("fetchBook", bookID, err)
	}

	var resp rawBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, classify("fetchBook", bookID, fmt.Errorf("%w: %v", ErrDecode, err))
	}
	// Some deployments answer an unknown id with 200 and an empty record.
	if resp.Book == nil || resp.Book.ID == "" {
		return nil, classify("fetchBook", bookID, ErrNotFound)
	}

	return resp.Book.toBook(), nil
}

// FetchCatalogPage returns the page starting at cursor. Pages are all or
// nothing: on failure no items are returned.
func (c *Client) FetchCatalogPage(ctx context.Context, cursor string) (*Page, error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	shelf, err := c.loadShelf(ctx)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: []*domain.Book{}}
	if offset >= len(shelf) {
		return page, nil
	}

	end := min(offset+c.pageSize, len(shelf))
	for _, b := range shelf[offset:end] {
		page.Items = append(page.Items, b.Clone())
	}
	if end < len(shelf) {
		page.NextCursor = EncodeCursor(end)
	}
	return page, nil
}

// loadShelf returns the cached shelf, refreshing it when stale. Concurrent
// refreshes share one request.
func (c *Client) loadShelf(ctx context.Context) ([]*domain.Book, error) {
	c.mu.Lock()
	if c.shelf != nil && c.now().Sub(c.shelfAt) < c.cacheTTL {
		shelf := c.shelf
		c.mu.Unlock()
		return shelf, nil
	}
	c.mu.Unlock()

	// The shared fetch outlives any one caller; each caller stops waiting
	// when its own context ends.
	ch := c.loads.DoChan("shelf", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.http.Timeout)
		defer cancel()
		return c.fetchShelf(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*domain.Book), nil
	case <-ctx.Done():
		return nil, classify("fetchShelf", "", ctx.Err())
	}
}

func (c *Client) fetchShelf(ctx context.Context) ([]*domain.Book, error) {
	body, err := c.doRequest(ctx, "/books")
	if err != nil {
		return nil, classify("fetchShelf", "", err)
	}

	var resp rawShelfResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, classify("fetchShelf", "", fmt.Errorf("%w: %v", ErrDecode, err))
	}

	shelf := make([]*domain.Book, 0, len(resp.Books))
	for i := range resp.Books {
		if resp.Books[i].ID == "" {
			continue
		}
		shelf = append(shelf, resp.Books[i].toBook())
	}

	c.mu.Lock()
	c.shelf = shelf
	c.shelfAt = c.now()
	c.mu.Unlock()

	c.logger.Debug("catalog shelf refreshed", "books", len(shelf))
	return shelf, nil
}

// doRequest executes a GET with rate limiting.
func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, c.host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Bookshelf/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	c.logger.Debug("catalog request", "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, ErrServer
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
