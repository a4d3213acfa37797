package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/bookshelfapp/bookshelf-server/internal/http/response"
	"github.com/bookshelfapp/bookshelf-server/internal/sse"
	"github.com/bookshelfapp/bookshelf-server/internal/synchronizer"
)

func (s *Server) registerDetailRoutes() {
	security := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID:   "openDetailSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/books/{bookId}/sessions",
		Summary:       "Open book detail",
		Description:   "Opens a book detail session and waits until it is ready or unavailable",
		Tags:          []string{"Book Detail"},
		Security:      security,
		DefaultStatus: http.StatusCreated,
	}, s.handleOpenDetailSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "getDetailSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/detail/sessions/{sid}",
		Summary:     "Get book detail",
		Tags:        []string{"Book Detail"},
		Security:    security,
	}, s.handleGetDetailSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "setCompose",
		Method:      http.MethodPut,
		Path:        "/api/v1/detail/sessions/{sid}/compose",
		Summary:     "Set review draft",
		Tags:        []string{"Book Detail"},
		Security:    security,
	}, s.handleSetCompose)

	huma.Register(s.api, huma.Operation{
		OperationID:   "submitReview",
		Method:        http.MethodPost,
		Path:          "/api/v1/detail/sessions/{sid}/reviews",
		Summary:       "Submit review draft",
		Description:   "Posts the draft as a new review; the draft is cleared only on success",
		Tags:          []string{"Book Detail"},
		Security:      security,
		DefaultStatus: http.StatusCreated,
	}, s.handleSubmitReview)

	huma.Register(s.api, huma.Operation{
		OperationID: "editReview",
		Method:      http.MethodPatch,
		Path:        "/api/v1/detail/sessions/{sid}/reviews/{reviewId}",
		Summary:     "Edit own review",
		Tags:        []string{"Book Detail"},
		Security:    security,
	}, s.handleEditReview)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteReview",
		Method:      http.MethodDelete,
		Path:        "/api/v1/detail/sessions/{sid}/reviews/{reviewId}",
		Summary:     "Delete own review",
		Description: "Deleting a review that is already gone succeeds",
		Tags:        []string{"Book Detail"},
		Security:    security,
	}, s.handleDeleteReview)

	huma.Register(s.api, huma.Operation{
		OperationID: "toggleRead",
		Method:      http.MethodPost,
		Path:        "/api/v1/detail/sessions/{sid}/read/toggle",
		Summary:     "Toggle read flag",
		Tags:        []string{"Book Detail"},
		Security:    security,
	}, s.handleToggleRead)

	huma.Register(s.api, huma.Operation{
		OperationID: "closeDetailSession",
		Method:      http.MethodDelete,
		Path:        "/api/v1/detail/sessions/{sid}",
		Summary:     "Close book detail",
		Tags:        []string{"Book Detail"},
		Security:    security,
	}, s.handleCloseDetailSession)

	// SSE is outside huma: the body is a stream, not a document.
	s.router.Get("/api/v1/detail/sessions/{sid}/events", s.handleDetailEvents)
}

// === DTOs ===

// OpenDetailInput names the book to open.
type OpenDetailInput struct {
	BookID string `path:"bookId" doc:"Catalog book ID"`
}

// DetailSessionInput addresses a book detail session.
type DetailSessionInput struct {
	SessionID string `path:"sid" doc:"Detail session ID"`
}

// ComposeRequest carries the review draft.
type ComposeRequest struct {
	Text   string `json:"text" doc:"Review text"`
	Rating int    `json:"rating" doc:"Star rating, 1 to 5"`
}

// ComposeInput wraps the draft for Huma.
type ComposeInput struct {
	SessionID string `path:"sid" doc:"Detail session ID"`
	Body      ComposeRequest
}

// EditReviewInput carries the replacement text and rating.
type EditReviewInput struct {
	SessionID string `path:"sid" doc:"Detail session ID"`
	ReviewID  string `path:"reviewId" doc:"Review ID"`
	Body      ComposeRequest
}

// ReviewInput addresses one review within a detail session.
type ReviewInput struct {
	SessionID string `path:"sid" doc:"Detail session ID"`
	ReviewID  string `path:"reviewId" doc:"Review ID"`
}

// DetailOutput wraps a detail view for Huma.
type DetailOutput struct {
	CacheControl string `header:"Cache-Control"`
	Body         synchronizer.DetailView
}

// SubmitResponse is the created review ID and the view when the store
// acknowledged it. The review itself reaches the list through the feed.
type SubmitResponse struct {
	ReviewID string                  `json:"review_id" doc:"Created review ID"`
	View     synchronizer.DetailView `json:"view" doc:"Detail view at acknowledgment; the review arrives via the feed"`
}

// SubmitOutput wraps the submit response for Huma.
type SubmitOutput struct {
	Body SubmitResponse
}

// === Handlers ===

func (s *Server) handleOpenDetailSession(ctx context.Context, input *OpenDetailInput) (*DetailOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := s.services.Sessions.OpenDetail(ctx, input.BookID, identity)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	// A session still loading after the timeout is returned as is; the
	// client follows it through the events stream.
	if _, err := detail.WaitReady(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return detailOutput(detail.View()), nil
}

func (s *Server) handleGetDetailSession(ctx context.Context, input *DetailSessionInput) (*DetailOutput, error) {
	detail, err := s.detailSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	return detailOutput(detail.View()), nil
}

func (s *Server) handleSetCompose(ctx context.Context, input *ComposeInput) (*DetailOutput, error) {
	detail, err := s.detailSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := detail.SetCompose(input.Body.Text, input.Body.Rating); err != nil {
		return nil, err
	}
	return detailOutput(detail.View()), nil
}

func (s *Server) handleSubmitReview(ctx context.Context, input *DetailSessionInput) (*SubmitOutput, error) {
	detail, err := s.detailSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	reviewID, err := detail.SubmitReview(ctx)
	if err != nil {
		return nil, err
	}
	return &SubmitOutput{Body: SubmitResponse{ReviewID: reviewID, View: detail.View()}}, nil
}

func (s *Server) handleEditReview(ctx context.Context, input *EditReviewInput) (*DetailOutput, error) {
	detail, err := s.detailSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := detail.EditReview(ctx, input.ReviewID, input.Body.Text, input.Body.Rating); err != nil {
		return nil, err
	}
	return detailOutput(detail.View()), nil
}

func (s *Server) handleDeleteReview(ctx context.Context, input *ReviewInput) (*DetailOutput, error) {
	detail, err := s.detailSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := detail.DeleteReview(ctx, input.ReviewID); err != nil {
		return nil, err
	}
	return detailOutput(detail.View()), nil
}

func (s *Server) handleToggleRead(ctx context.Context, input *DetailSessionInput) (*DetailOutput, error) {
	detail, err := s.detailSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := detail.ToggleRead(ctx); err != nil {
		return nil, err
	}
	return detailOutput(detail.View()), nil
}

func (s *Server) handleCloseDetailSession(ctx context.Context, input *DetailSessionInput) (*MessageOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.services.Sessions.CloseDetail(input.SessionID, identity.UserID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Detail session closed"}}, nil
}

// handleDetailEvents streams the session's view after every change until
// the session closes or the client goes away.
func (s *Server) handleDetailEvents(w http.ResponseWriter, r *http.Request) {
	identity, err := GetIdentity(r.Context())
	if err != nil {
		response.Unauthorized(w, "Authentication required", s.logger)
		return
	}

	sessionID := chi.URLParam(r, "sid")
	detail, err := s.services.Sessions.Detail(sessionID, identity.UserID)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	views, stop := detail.Watch()
	defer stop()

	events := make(chan sse.Event)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(events)
		for view := range views {
			select {
			case events <- sse.NewEvent(sse.EventDetailView, view):
			case <-done:
				return
			}
		}
	}()

	s.streamer.Stream(w, r, sessionID, events)
}

func (s *Server) detailSession(ctx context.Context, sessionID string) (*synchronizer.BookDetail, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.services.Sessions.Detail(sessionID, identity.UserID)
}

func detailOutput(view synchronizer.DetailView) *DetailOutput {
	return &DetailOutput{CacheControl: CacheNoStore, Body: view}
}
