// Package synchronizer hosts the per-screen session objects of the app: the
// Book Detail synchronizer that joins a catalog book, its live reviews and
// the caller's read flag into one consistent view, the Catalog List
// synchronizer that pages through the catalog, and the Registry that keeps
// them per user.
//
// Synchronizers hold their state under a mutex and never call the network
// while holding it. Views are copied out, so callers may keep them.
package synchronizer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bookshelfapp/bookshelf-server/internal/catalog"
	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
)

// BookCatalog fetches single catalog books.
type BookCatalog interface {
	FetchBook(ctx context.Context, bookID string) (*domain.Book, error)
}

// PageCatalog pages through the catalog.
type PageCatalog interface {
	FetchCatalogPage(ctx context.Context, cursor string) (*catalog.Page, error)
}

// ReviewAdapter is the review side of the store as the synchronizers use it.
type ReviewAdapter interface {
	SubscribeReviews(ctx context.Context, bookID string, onChange func([]*domain.Review)) (service.Subscription, error)
	CreateReview(ctx context.Context, bookID, userID, userName, text string, rating int) (string, error)
	UpdateReview(ctx context.Context, reviewID, userID, text string, rating int) error
	DeleteReview(ctx context.Context, reviewID, userID string) error
}

// ReadStateAdapter reads and changes a user's read set.
type ReadStateAdapter interface {
	GetReadSet(ctx context.Context, userID string) (domain.ReadSet, error)
	AddToReadSet(ctx context.Context, userID, bookID string) error
	RemoveFromReadSet(ctx context.Context, userID, bookID string) error
}

// Deps are the collaborators shared by every synchronizer.
type Deps struct {
	Books     BookCatalog
	Pages     PageCatalog
	Reviews   ReviewAdapter
	ReadState ReadStateAdapter
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

// Errors reported by synchronizers in addition to the ones their
// collaborators surface.
var (
	ErrClosed    = domainerrors.NotFound("session is closed")
	ErrSignedOut = domainerrors.Unauthorized("signed out")
	ErrNotReady  = domainerrors.Unavailable("book is not ready")
	ErrBusy      = domainerrors.Conflict("a submission is already in progress")
)

// toDomain makes sure nothing but domain errors leaves a synchronizer.
// Raw transport or storage errors become Unavailable.
func toDomain(err error) error {
	if err == nil {
		return nil
	}
	if domainerrors.IsDomain(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return domainerrors.Unavailable("service unavailable").WithCause(err)
}

// ViewError is the wire form of a synchronizer's last error.
type ViewError struct {
	Code    domainerrors.Code `json:"code"`
	Message string            `json:"message"`
}

func viewError(err error) *ViewError {
	if err == nil {
		return nil
	}
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return &ViewError{Code: domainErr.Code, Message: domainErr.Message}
	}
	return &ViewError{Code: domainerrors.CodeUnavailable, Message: err.Error()}
}
