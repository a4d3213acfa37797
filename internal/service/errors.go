// Package service holds the application services that sit between the HTTP
// surface and the store: the review and read-state adapters used by the
// synchronizers, profiles and statistics, and account authentication.
package service

import (
	"context"
	"errors"

	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// translate maps store errors onto the domain taxonomy. Domain errors and
// context cancellation pass through; anything else means the store could
// not be reached or failed internally and becomes Unavailable.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if domainerrors.IsDomain(err) || errors.Is(err, context.Canceled) {
		return err
	}

	var storeErr *store.Error
	if !errors.As(err, &storeErr) {
		return domainerrors.Unavailable("storage unavailable").WithCause(err)
	}

	switch {
	case errors.Is(err, store.ErrInvalidInput):
		// Validation failures carry their field details in the cause.
		var domainErr *domainerrors.Error
		if errors.As(storeErr.Err, &domainErr) {
			return domainErr
		}
		return domainerrors.Validation(storeErr.Message).WithCause(err)
	case errors.Is(err, store.ErrNotFound):
		return domainerrors.NotFound(storeErr.Message).WithCause(err)
	case errors.Is(err, store.ErrForbidden):
		return domainerrors.Forbidden(storeErr.Message).WithCause(err)
	case errors.Is(err, store.ErrAlreadyExists):
		return domainerrors.AlreadyExists(storeErr.Message).WithCause(err)
	case errors.Is(err, store.ErrUnauthorized):
		return domainerrors.Unauthorized(storeErr.Message).WithCause(err)
	default:
		return domainerrors.Unavailable("storage unavailable").WithCause(err)
	}
}
