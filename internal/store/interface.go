// Package store defines the persistence contract for the Bookshelf server.
//
// Three backends implement it: badgerdb (the default embedded store), sqlite
// and postgres. They share the conformance suite in storetest, so callers can
// rely on the same atomicity and ordering guarantees from all of them.
package store

import (
	"context"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
)

// UserStore persists accounts.
type UserStore interface {
	// CreateUser returns ErrAlreadyExists when the ID or the email
	// (compared case-insensitively) is taken.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
}

// SessionStore persists signed-in devices.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, id string) error
	// DeleteExpiredSessions removes every session expired at now and
	// returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// ProfileStore persists user profiles and their read sets.
//
// Every method that touches a profile creates it first if it does not exist.
// Creation and read set changes are atomic in the backend: two concurrent
// callers never both create a profile, and concurrent adds never lose an id.
type ProfileStore interface {
	// EnsureProfile returns the user's profile, creating an empty one if
	// absent. created reports whether this call created it.
	EnsureProfile(ctx context.Context, userID string) (profile *domain.UserProfile, created bool, err error)
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.UserProfile, error)
	// AddReadBook is a no-op when bookID is already present.
	AddReadBook(ctx context.Context, userID, bookID string) error
	// RemoveReadBook is a no-op when bookID is absent.
	RemoveReadBook(ctx context.Context, userID, bookID string) error
}

// ReviewStore persists reviews. The store is authoritative for ownership:
// UpdateReview and DeleteReview return ErrForbidden for a foreign review.
type ReviewStore interface {
	// CreateReview validates the text and rating, assigns ID, CreatedAt and
	// UpdatedAt, and stores the review. Invalid input yields ErrInvalidInput
	// wrapping the validation error.
	CreateReview(ctx context.Context, review *domain.Review) error
	GetReview(ctx context.Context, id string) (*domain.Review, error)
	UpdateReview(ctx context.Context, id, userID, text string, rating int) (*domain.Review, error)
	DeleteReview(ctx context.Context, id, userID string) error
	// ListBookReviews and ListUserReviews return reviews newest first.
	ListBookReviews(ctx context.Context, bookID string) ([]*domain.Review, error)
	ListUserReviews(ctx context.Context, userID string) ([]*domain.Review, error)
}

// Store is the full persistence contract.
type Store interface {
	UserStore
	SessionStore
	ProfileStore
	ReviewStore

	Close() error
}
