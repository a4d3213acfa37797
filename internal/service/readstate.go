package service

import (
	"context"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// ReadStateService is the read-state adapter. Every call provisions the
// user's profile if needed, and set changes are applied atomically by the
// store.
type ReadStateService struct {
	store store.ProfileStore
}

// NewReadStateService creates a read-state service.
func NewReadStateService(s store.ProfileStore) *ReadStateService {
	return &ReadStateService{store: s}
}

// GetReadSet returns the user's read set, creating an empty profile first
// if the user has none.
func (s *ReadStateService) GetReadSet(ctx context.Context, userID string) (domain.ReadSet, error) {
	profile, _, err := s.store.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return profile.ReadSet(), nil
}

// AddToReadSet marks bookID read. Adding a present id is a no-op.
func (s *ReadStateService) AddToReadSet(ctx context.Context, userID, bookID string) error {
	return translate(s.store.AddReadBook(ctx, userID, bookID))
}

// RemoveFromReadSet marks bookID unread. Removing an absent id is a no-op.
func (s *ReadStateService) RemoveFromReadSet(ctx context.Context, userID, bookID string) error {
	return translate(s.store.RemoveReadBook(ctx, userID, bookID))
}
