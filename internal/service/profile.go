package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
	"github.com/bookshelfapp/bookshelf-server/internal/validation"
)

// myBooksConcurrency bounds parallel catalog lookups for the My Books list.
const myBooksConcurrency = 4

// BookFetcher fetches single books from the catalog.
type BookFetcher interface {
	FetchBook(ctx context.Context, bookID string) (*domain.Book, error)
}

// ProfileService serves the profile screen: profile data, statistics and
// the list of books the user has read.
type ProfileService struct {
	store     store.Store
	catalog   BookFetcher
	validator *validation.Validator
	logger    *slog.Logger
}

// NewProfileService creates a profile service.
func NewProfileService(s store.Store, catalog BookFetcher, v *validation.Validator, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		store:     s,
		catalog:   catalog,
		validator: v,
		logger:    logger,
	}
}

// UpdateProfileRequest holds the editable profile fields. Nil leaves a
// field unchanged; an empty avatar URL clears it.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,notblank,max=100"`
	AvatarURL   *string `json:"avatar_url,omitempty" validate:"omitnil,max=2048,clearable_url"`
}

// GetProfile returns the user's profile, creating it if absent. Display
// name and email fall back to the account when the profile has none.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	profile, _, err := s.store.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	s.fillFromAccount(ctx, profile)
	return profile, nil
}

// UpdateProfile applies req to the user's profile.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*domain.UserProfile, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	update := domain.ProfileUpdate{AvatarURL: req.AvatarURL}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		update.DisplayName = &name
	}

	profile, err := s.store.UpdateProfile(ctx, userID, update)
	if err != nil {
		return nil, translate(err)
	}
	s.fillFromAccount(ctx, profile)

	s.logger.Info("profile updated", "user_id", userID)
	return profile, nil
}

// Stats aggregates the read set and the user's reviews.
func (s *ProfileService) Stats(ctx context.Context, userID string) (domain.ProfileStats, error) {
	profile, _, err := s.store.EnsureProfile(ctx, userID)
	if err != nil {
		return domain.ProfileStats{}, translate(err)
	}
	reviews, err := s.store.ListUserReviews(ctx, userID)
	if err != nil {
		return domain.ProfileStats{}, translate(err)
	}
	return domain.ComputeStats(profile.ReadSet(), reviews), nil
}

// MyBooks lists the user's read books in read-set order, each with the
// user's own review of it. Books the catalog no longer knows are skipped;
// any other catalog failure fails the whole list.
func (s *ProfileService) MyBooks(ctx context.Context, userID string) ([]domain.ShelfEntry, error) {
	profile, _, err := s.store.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	reviews, err := s.store.ListUserReviews(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}

	bookIDs := profile.ReadSet().Sorted()
	books := make([]*domain.Book, len(bookIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(myBooksConcurrency)
	for i, bookID := range bookIDs {
		g.Go(func() error {
			book, err := s.catalog.FetchBook(gctx, bookID)
			if errors.Is(err, domainerrors.ErrNotFound) {
				s.logger.Debug("read book missing from catalog", "user_id", userID, "book_id", bookID)
				return nil
			}
			if err != nil {
				return err
			}
			books[i] = book
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byBook := make(map[string][]*domain.Review)
	for _, r := range reviews {
		byBook[r.BookID] = append(byBook[r.BookID], r)
	}

	entries := make([]domain.ShelfEntry, 0, len(books))
	for _, book := range books {
		if book == nil {
			continue
		}
		entries = append(entries, domain.ShelfEntry{
			Book:   book,
			Review: domain.OwnReview(byBook[book.ID], userID),
		})
	}
	return entries, nil
}

func (s *ProfileService) fillFromAccount(ctx context.Context, profile *domain.UserProfile) {
	if profile.DisplayName != "" && profile.Email != "" {
		return
	}
	user, err := s.store.GetUser(ctx, profile.UserID)
	if err != nil {
		// Profiles can exist without an account, e.g. for imported data.
		return
	}
	if profile.DisplayName == "" {
		profile.DisplayName = user.DisplayName
	}
	if profile.Email == "" {
		profile.Email = user.Email
	}
}
