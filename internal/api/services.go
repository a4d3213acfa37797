package api

import (
	"github.com/bookshelfapp/bookshelf-server/internal/service"
	"github.com/bookshelfapp/bookshelf-server/internal/synchronizer"
)

// Services groups the business logic used by the API server.
// This reduces the parameter count for NewServer and improves testability.
type Services struct {
	Auth     *service.AuthService
	Profile  *service.ProfileService
	Sessions *synchronizer.Registry // Screen sessions (book detail, catalog list)
}
