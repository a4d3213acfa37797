package badgerdb

import (
	"context"
	"errors"
	"slices"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// newProfile builds the empty profile stored on first touch.
func (s *Store) newProfile(userID string) *domain.UserProfile {
	p := domain.NewUserProfile(userID)
	p.CreatedAt = s.clock.Now()
	p.UpdatedAt = p.CreatedAt
	return p
}

// mutateProfile runs fn on the user's profile, creating it first when
// absent. fn returns false to leave an existing profile unchanged. created
// reports whether the committed transaction created the profile.
func (s *Store) mutateProfile(ctx context.Context, userID string, fn func(p *domain.UserProfile) bool) (profile *domain.UserProfile, created bool, err error) {
	if userID == "" {
		return nil, false, store.ErrInvalidInput.WithMessage("user id is required")
	}
	profile, err = s.profiles.Mutate(ctx, userID, func(current *domain.UserProfile) (*domain.UserProfile, error) {
		// Reset on every attempt; only the committed one counts.
		created = current == nil
		if created {
			next := s.newProfile(userID)
			fn(next)
			return next, nil
		}

		next := *current
		next.ReadBooks = slices.Clone(current.ReadBooks)
		if !fn(&next) {
			return current, nil
		}
		next.UpdatedAt = s.clock.Now()
		return &next, nil
	})
	if err != nil {
		return nil, false, err
	}
	return profile, created, nil
}

// EnsureProfile returns the user's profile, creating it if absent.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (*domain.UserProfile, bool, error) {
	return s.mutateProfile(ctx, userID, func(*domain.UserProfile) bool { return false })
}

// GetProfile retrieves a profile without creating it.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrProfileNotFound
	}
	return p, err
}

// UpdateProfile applies update to the user's profile.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	p, _, err := s.mutateProfile(ctx, userID, func(p *domain.UserProfile) bool {
		update.Apply(p)
		return true
	})
	return p, err
}

// AddReadBook adds bookID to the read set.
func (s *Store) AddReadBook(ctx context.Context, userID, bookID string) error {
	if bookID == "" {
		return store.ErrInvalidInput.WithMessage("book id is required")
	}
	_, _, err := s.mutateProfile(ctx, userID, func(p *domain.UserProfile) bool {
		if slices.Contains(p.ReadBooks, bookID) {
			return false
		}
		p.ReadBooks = append(p.ReadBooks, bookID)
		slices.Sort(p.ReadBooks)
		return true
	})
	return err
}

// RemoveReadBook removes bookID from the read set.
func (s *Store) RemoveReadBook(ctx context.Context, userID, bookID string) error {
	_, _, err := s.mutateProfile(ctx, userID, func(p *domain.UserProfile) bool {
		i := slices.Index(p.ReadBooks, bookID)
		if i < 0 {
			return false
		}
		p.ReadBooks = slices.Delete(p.ReadBooks, i, i+1)
		return true
	})
	return err
}
