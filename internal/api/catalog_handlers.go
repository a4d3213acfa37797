package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/logger"
	"github.com/bookshelfapp/bookshelf-server/internal/synchronizer"
)

func (s *Server) registerCatalogRoutes() {
	security := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID:   "openCatalogSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/catalog/sessions",
		Summary:       "Open catalog list",
		Description:   "Opens a catalog list session, loads the first page and the caller's read flags",
		Tags:          []string{"Catalog"},
		Security:      security,
		DefaultStatus: http.StatusCreated,
	}, s.handleOpenCatalogSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCatalogSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/catalog/sessions/{sid}",
		Summary:     "Get catalog list",
		Description: "Returns the loaded books filtered by q (case and accent insensitive, title and authors)",
		Tags:        []string{"Catalog"},
		Security:    security,
	}, s.handleGetCatalogSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "loadMoreCatalog",
		Method:      http.MethodPost,
		Path:        "/api/v1/catalog/sessions/{sid}/more",
		Summary:     "Load next page",
		Tags:        []string{"Catalog"},
		Security:    security,
	}, s.handleLoadMoreCatalog)

	huma.Register(s.api, huma.Operation{
		OperationID: "focusCatalog",
		Method:      http.MethodPost,
		Path:        "/api/v1/catalog/sessions/{sid}/focus",
		Summary:     "Refresh read flags",
		Tags:        []string{"Catalog"},
		Security:    security,
	}, s.handleFocusCatalog)

	huma.Register(s.api, huma.Operation{
		OperationID: "markCatalogBookRead",
		Method:      http.MethodPost,
		Path:        "/api/v1/catalog/sessions/{sid}/books/{bookId}/read",
		Summary:     "Mark book read",
		Tags:        []string{"Catalog"},
		Security:    security,
	}, s.handleMarkCatalogBookRead)

	huma.Register(s.api, huma.Operation{
		OperationID: "closeCatalogSession",
		Method:      http.MethodDelete,
		Path:        "/api/v1/catalog/sessions/{sid}",
		Summary:     "Close catalog list",
		Tags:        []string{"Catalog"},
		Security:    security,
	}, s.handleCloseCatalogSession)
}

// === DTOs ===

// CatalogSessionInput addresses a catalog list session.
type CatalogSessionInput struct {
	SessionID string `path:"sid" doc:"Catalog session ID"`
}

// GetCatalogSessionInput addresses a session and sets its filter.
type GetCatalogSessionInput struct {
	SessionID string `path:"sid" doc:"Catalog session ID"`
	Query     string `query:"q" doc:"Filter over titles and authors; empty shows everything"`
}

// MarkReadInput addresses a book within a catalog list session.
type MarkReadInput struct {
	SessionID string `path:"sid" doc:"Catalog session ID"`
	BookID    string `path:"bookId" doc:"Catalog book ID"`
}

// CatalogOutput wraps a catalog list view for Huma.
type CatalogOutput struct {
	CacheControl string `header:"Cache-Control"`
	Body         synchronizer.ListView
}

// === Handlers ===

func (s *Server) handleOpenCatalogSession(ctx context.Context, _ *struct{}) (*CatalogOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	list, err := s.services.Sessions.OpenList(identity)
	if err != nil {
		return nil, err
	}

	// Failures are reported in the view's last_error so the client can
	// render the session and retry.
	log := logger.FromContext(ctx, s.logger)
	if err := list.LoadMore(ctx); err != nil {
		log.Warn("catalog first page failed", "session_id", list.ID(), "error", err)
	}
	if err := list.Focus(ctx); err != nil {
		log.Warn("catalog read flags failed", "session_id", list.ID(), "error", err)
	}
	return catalogOutput(list.View()), nil
}

func (s *Server) handleGetCatalogSession(ctx context.Context, input *GetCatalogSessionInput) (*CatalogOutput, error) {
	list, err := s.catalogSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	list.SetFilter(input.Query)
	return catalogOutput(list.View()), nil
}

func (s *Server) handleLoadMoreCatalog(ctx context.Context, input *CatalogSessionInput) (*CatalogOutput, error) {
	list, err := s.catalogSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := list.LoadMore(ctx); err != nil {
		return nil, err
	}
	return catalogOutput(list.View()), nil
}

func (s *Server) handleFocusCatalog(ctx context.Context, input *CatalogSessionInput) (*CatalogOutput, error) {
	list, err := s.catalogSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := list.Focus(ctx); err != nil {
		return nil, err
	}
	return catalogOutput(list.View()), nil
}

func (s *Server) handleMarkCatalogBookRead(ctx context.Context, input *MarkReadInput) (*CatalogOutput, error) {
	list, err := s.catalogSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := list.MarkRead(ctx, input.BookID); err != nil {
		return nil, err
	}
	return catalogOutput(list.View()), nil
}

func (s *Server) handleCloseCatalogSession(ctx context.Context, input *CatalogSessionInput) (*MessageOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.services.Sessions.CloseList(input.SessionID, identity.UserID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Catalog session closed"}}, nil
}

func (s *Server) catalogSession(ctx context.Context, sessionID string) (*synchronizer.CatalogList, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.services.Sessions.List(sessionID, identity.UserID)
}

func catalogOutput(view synchronizer.ListView) *CatalogOutput {
	return &CatalogOutput{CacheControl: CacheNoStore, Body: view}
}
