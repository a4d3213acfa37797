package catalog

import (
	"context"
	"errors"
	"fmt"

	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
)

// Sentinel errors for catalog requests.
var (
	ErrNotFound    = errors.New("catalog: not found")
	ErrRateLimited = errors.New("catalog: rate limited by server")
	ErrServer      = errors.New("catalog: server error")
	ErrDecode      = errors.New("catalog: undecodable response")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op     string // Operation: "fetchBook", "fetchShelf"
	BookID string // If applicable
	Err    error
}

func (e *Error) Error() string {
	if e.BookID != "" {
		return fmt.Sprintf("catalog %s [%s]: %v", e.Op, e.BookID, e.Err)
	}
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify turns a request failure into the domain error callers see.
// Only a remote 404 is NotFound; everything else, including timeouts and
// garbage bodies, is Unavailable. Context cancellation passes through so
// callers can tell it apart from an outage.
func classify(op, bookID string, err error) error {
	wrapped := &Error{Op: op, BookID: bookID, Err: err}
	switch {
	case errors.Is(err, ErrNotFound):
		return domainerrors.NotFoundf("book %s not found", bookID).WithCause(wrapped)
	case errors.Is(err, context.Canceled):
		return wrapped
	default:
		return domainerrors.Unavailable("catalog unavailable").WithCause(wrapped)
	}
}
