package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
)

func (s *Server) registerProfileRoutes() {
	security := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID: "getMyProfile",
		Method:      http.MethodGet,
		Path:        "/api/v1/profile",
		Summary:     "Get my profile",
		Description: "Returns the authenticated user's profile",
		Tags:        []string{"Profile"},
		Security:    security,
	}, s.handleGetMyProfile)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateMyProfile",
		Method:      http.MethodPatch,
		Path:        "/api/v1/profile",
		Summary:     "Update my profile",
		Description: "Updates the display name and avatar; omitted fields stay unchanged",
		Tags:        []string{"Profile"},
		Security:    security,
	}, s.handleUpdateMyProfile)

	huma.Register(s.api, huma.Operation{
		OperationID: "getMyStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/profile/stats",
		Summary:     "Get my reading statistics",
		Tags:        []string{"Profile"},
		Security:    security,
	}, s.handleGetMyStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "getMyBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/profile/books",
		Summary:     "Get my books",
		Description: "Returns the books the user has read with their own latest review",
		Tags:        []string{"Profile"},
		Security:    security,
	}, s.handleGetMyBooks)
}

// === DTOs ===

// ProfileOutput wraps the profile for Huma.
type ProfileOutput struct {
	Body *domain.UserProfile
}

// UpdateProfileBody holds the editable profile fields.
type UpdateProfileBody struct {
	DisplayName *string `json:"display_name,omitempty" doc:"New display name"`
	AvatarURL   *string `json:"avatar_url,omitempty" doc:"Avatar image URL; empty clears it"`
}

// UpdateProfileInput wraps the profile update for Huma.
type UpdateProfileInput struct {
	Body UpdateProfileBody
}

// StatsOutput wraps the statistics for Huma.
type StatsOutput struct {
	Body domain.ProfileStats
}

// MyBooksResponse lists the read books.
type MyBooksResponse struct {
	Books []domain.ShelfEntry `json:"books" doc:"Read books, most recently reviewed first"`
}

// MyBooksOutput wraps the book list for Huma.
type MyBooksOutput struct {
	CacheControl string `header:"Cache-Control"`
	Body         MyBooksResponse
}

// === Handlers ===

func (s *Server) handleGetMyProfile(ctx context.Context, _ *struct{}) (*ProfileOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.services.Profile.GetProfile(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return &ProfileOutput{Body: profile}, nil
}

func (s *Server) handleUpdateMyProfile(ctx context.Context, input *UpdateProfileInput) (*ProfileOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.services.Profile.UpdateProfile(ctx, identity.UserID, service.UpdateProfileRequest{
		DisplayName: input.Body.DisplayName,
		AvatarURL:   input.Body.AvatarURL,
	})
	if err != nil {
		return nil, err
	}
	return &ProfileOutput{Body: profile}, nil
}

func (s *Server) handleGetMyStats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.services.Profile.Stats(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return &StatsOutput{Body: stats}, nil
}

func (s *Server) handleGetMyBooks(ctx context.Context, _ *struct{}) (*MyBooksOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	books, err := s.services.Profile.MyBooks(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []domain.ShelfEntry{}
	}
	return &MyBooksOutput{CacheControl: CacheNoStore, Body: MyBooksResponse{Books: books}}, nil
}
