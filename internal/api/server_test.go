package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookshelfapp/bookshelf-server/internal/auth"
	"github.com/bookshelfapp/bookshelf-server/internal/catalog"
	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
	"github.com/bookshelfapp/bookshelf-server/internal/sse"
	"github.com/bookshelfapp/bookshelf-server/internal/store/badgerdb"
	"github.com/bookshelfapp/bookshelf-server/internal/synchronizer"
	"github.com/bookshelfapp/bookshelf-server/internal/validation"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// stubCatalog serves a fixed shelf two books at a time.
type stubCatalog struct {
	books []*domain.Book
}

func (c *stubCatalog) FetchBook(_ context.Context, bookID string) (*domain.Book, error) {
	for _, b := range c.books {
		if b.ID == bookID {
			return b.Clone(), nil
		}
	}
	return nil, domainerrors.NotFound("book not found")
}

func (c *stubCatalog) FetchCatalogPage(_ context.Context, cursor string) (*catalog.Page, error) {
	offset, err := catalog.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	end := min(offset+2, len(c.books))
	page := &catalog.Page{}
	for _, b := range c.books[offset:end] {
		page.Items = append(page.Items, b.Clone())
	}
	if end < len(c.books) {
		page.NextCursor = catalog.EncodeCursor(end)
	}
	return page, nil
}

type testServer struct {
	server *Server
	api    humatest.TestAPI
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	feeds := sse.NewManager(logger)
	st, err := badgerdb.Open(t.TempDir(), logger, feeds)
	require.NoError(t, err)
	feeds.SetLister(st)

	tokens, err := auth.NewTokenService(testKey, 15*time.Minute)
	require.NoError(t, err)

	books := &stubCatalog{books: []*domain.Book{
		{ID: "b1", Title: "Dune", Authors: []string{"Frank Herbert"}},
		{ID: "b2", Title: "Emma", Authors: []string{"Jane Austen"}},
		{ID: "b3", Title: "Germinal", Authors: []string{"Émile Zola"}},
	}}

	v := validation.New()
	authService := service.NewAuthService(st, tokens, v, nil, 24*time.Hour, logger)
	registry := synchronizer.NewRegistry(synchronizer.Deps{
		Books:     books,
		Pages:     books,
		Reviews:   service.NewReviewService(st, feeds, logger),
		ReadState: service.NewReadStateService(st),
		Logger:    logger,
	}, synchronizer.RegistryOptions{})
	authService.SetSigner(registry)

	services := &Services{
		Auth:     authService,
		Profile:  service.NewProfileService(st, books, v, logger),
		Sessions: registry,
	}

	opts.ReadyTimeout = 2 * time.Second
	s := NewServer(st, services, opts, logger)
	t.Cleanup(func() {
		s.Close()
		registry.Close()
		feeds.Close()
		_ = st.Close()
	})
	return &testServer{server: s, api: humatest.Wrap(t, s.API())}
}

func newRequest(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

// envelope is the decoded response wrapper with data left for a second pass.
type envelope[T any] struct {
	Version int               `json:"v"`
	Success bool              `json:"success"`
	Data    T                 `json:"data"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	return env
}

func (ts *testServer) register(t *testing.T, email, name string) AuthResponse {
	t.Helper()
	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":        email,
		"password":     "correct-horse",
		"display_name": name,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return decode[AuthResponse](t, resp).Data
}

func bearer(token string) string {
	return "Authorization: Bearer " + token
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	env := decode[HealthResponse](t, resp)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "healthy", env.Data.Components["database"].Status)
	assert.Contains(t, env.Data.Components["sessions"].Message, "0 detail")
}

func TestAuthFlow(t *testing.T) {
	ts := setupTestServer(t, Options{})

	reg := ts.register(t, "ann@example.com", "Ann")
	assert.NotEmpty(t, reg.AccessToken)
	assert.Equal(t, "Bearer", reg.TokenType)
	assert.Equal(t, "Ann", reg.User.DisplayName)

	resp := ts.api.Post("/api/v1/auth/login", map[string]any{
		"email":    "ann@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	login := decode[AuthResponse](t, resp).Data
	assert.NotEqual(t, reg.SessionID, login.SessionID)

	resp = ts.api.Post("/api/v1/auth/login", map[string]any{
		"email":    "ann@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, string(domainerrors.CodeInvalidCredentials), decode[any](t, resp).Code)

	resp = ts.api.Post("/api/v1/auth/refresh", map[string]any{"access_token": login.AccessToken})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, login.SessionID, decode[AuthResponse](t, resp).Data.SessionID)

	resp = ts.api.Post("/api/v1/auth/logout", bearer(login.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/profile", bearer(login.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// The other session survives.
	resp = ts.api.Get("/api/v1/profile", bearer(reg.AccessToken))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRegister_Validation(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":        "not-an-email",
		"password":     "short",
		"display_name": "Ann",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	env := decode[any](t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, string(domainerrors.CodeValidation), env.Code)
	assert.NotEmpty(t, env.Details)

	ts.register(t, "ann@example.com", "Ann")
	resp = ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":        "ann@example.com",
		"password":     "correct-horse",
		"display_name": "Ann Again",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	ts := setupTestServer(t, Options{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/profile"},
		{http.MethodGet, "/api/v1/profile/stats"},
		{http.MethodPost, "/api/v1/catalog/sessions"},
		{http.MethodPost, "/api/v1/books/b1/sessions"},
		{http.MethodGet, "/api/v1/detail/sessions/anything"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := ts.api.Do(tt.method, tt.path)
			assert.Equal(t, http.StatusUnauthorized, resp.Code)
			assert.Equal(t, string(domainerrors.CodeUnauthorized), decode[any](t, resp).Code)
		})
	}

	t.Run("garbage token", func(t *testing.T) {
		resp := ts.api.Get("/api/v1/profile", bearer("v4.local.garbage"))
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestCatalogSession(t *testing.T) {
	ts := setupTestServer(t, Options{})
	ann := ts.register(t, "ann@example.com", "Ann")

	resp := ts.api.Post("/api/v1/catalog/sessions", bearer(ann.AccessToken))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, CacheNoStore, resp.Header().Get("Cache-Control"))

	view := decode[synchronizer.ListView](t, resp).Data
	assert.Len(t, view.Items, 2)
	assert.True(t, view.HasMore)
	sid := view.SessionID

	resp = ts.api.Post("/api/v1/catalog/sessions/"+sid+"/more", bearer(ann.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)
	view = decode[synchronizer.ListView](t, resp).Data
	assert.Equal(t, 3, view.Loaded)
	assert.False(t, view.HasMore)

	resp = ts.api.Get("/api/v1/catalog/sessions/"+sid+"?q=emile", bearer(ann.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)
	view = decode[synchronizer.ListView](t, resp).Data
	require.Len(t, view.Items, 1)
	assert.Equal(t, "b3", view.Items[0].Book.ID)

	resp = ts.api.Post("/api/v1/catalog/sessions/"+sid+"/books/b3/read", bearer(ann.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)
	view = decode[synchronizer.ListView](t, resp).Data
	require.Len(t, view.Items, 1)
	assert.True(t, view.Items[0].Read)

	// Another user cannot see the session.
	bob := ts.register(t, "bob@example.com", "Bob")
	resp = ts.api.Get("/api/v1/catalog/sessions/"+sid, bearer(bob.AccessToken))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Delete("/api/v1/catalog/sessions/"+sid, bearer(ann.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ts.api.Get("/api/v1/catalog/sessions/"+sid, bearer(ann.AccessToken))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDetailSession(t *testing.T) {
	ts := setupTestServer(t, Options{})
	ann := ts.register(t, "ann@example.com", "Ann")

	resp := ts.api.Post("/api/v1/books/b1/sessions", bearer(ann.AccessToken))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	view := decode[synchronizer.DetailView](t, resp).Data
	assert.Equal(t, synchronizer.StateReady, view.State)
	assert.Equal(t, "Dune", view.Book.Title)
	assert.Empty(t, view.Reviews)
	sid := view.SessionID
	base := "/api/v1/detail/sessions/" + sid

	t.Run("invalid draft is rejected on submit", func(t *testing.T) {
		resp := ts.api.Put(base+"/compose", bearer(ann.AccessToken), map[string]any{"text": "", "rating": 9})
		require.Equal(t, http.StatusOK, resp.Code)

		resp = ts.api.Post(base+"/reviews", bearer(ann.AccessToken))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, string(domainerrors.CodeValidation), decode[any](t, resp).Code)
	})

	var reviewID string
	t.Run("submit", func(t *testing.T) {
		resp := ts.api.Put(base+"/compose", bearer(ann.AccessToken), map[string]any{"text": "Spice!", "rating": 5})
		require.Equal(t, http.StatusOK, resp.Code)

		resp = ts.api.Post(base+"/reviews", bearer(ann.AccessToken))
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		out := decode[SubmitResponse](t, resp).Data
		require.NotEmpty(t, out.ReviewID)
		assert.Empty(t, out.View.ComposeText)
		reviewID = out.ReviewID

		require.Eventually(t, func() bool {
			resp := ts.api.Get(base, bearer(ann.AccessToken))
			v := decode[synchronizer.DetailView](t, resp).Data
			return v.OwnReview != nil && v.OwnReview.ID == reviewID
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("toggle read", func(t *testing.T) {
		resp := ts.api.Post(base+"/read/toggle", bearer(ann.AccessToken))
		require.Equal(t, http.StatusOK, resp.Code)
		assert.True(t, decode[synchronizer.DetailView](t, resp).Data.Read)
	})

	t.Run("stats see review and read flag", func(t *testing.T) {
		resp := ts.api.Get("/api/v1/profile/stats", bearer(ann.AccessToken))
		require.Equal(t, http.StatusOK, resp.Code)
		stats := decode[domain.ProfileStats](t, resp).Data
		assert.Equal(t, 1, stats.BooksRead)
		assert.Equal(t, 1, stats.ReviewsWritten)
		assert.InDelta(t, 5.0, stats.AverageRating, 0.001)

		resp = ts.api.Get("/api/v1/profile/books", bearer(ann.AccessToken))
		require.Equal(t, http.StatusOK, resp.Code)
		books := decode[MyBooksResponse](t, resp).Data.Books
		require.Len(t, books, 1)
		assert.Equal(t, "b1", books[0].Book.ID)
		require.NotNil(t, books[0].Review)
		assert.Equal(t, reviewID, books[0].Review.ID)
	})

	t.Run("other users cannot touch the review", func(t *testing.T) {
		bob := ts.register(t, "bob@example.com", "Bob")
		resp := ts.api.Post("/api/v1/books/b1/sessions", bearer(bob.AccessToken))
		require.Equal(t, http.StatusCreated, resp.Code)
		bobView := decode[synchronizer.DetailView](t, resp).Data
		require.Len(t, bobView.Reviews, 1)
		assert.Nil(t, bobView.OwnReview)

		resp = ts.api.Delete("/api/v1/detail/sessions/"+bobView.SessionID+"/reviews/"+reviewID, bearer(bob.AccessToken))
		assert.Equal(t, http.StatusForbidden, resp.Code)

		resp = ts.api.Get(base, bearer(bob.AccessToken))
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("edit and delete", func(t *testing.T) {
		resp := ts.api.Patch(base+"/reviews/"+reviewID, bearer(ann.AccessToken), map[string]any{"text": "Still great", "rating": 4})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		resp = ts.api.Delete(base+"/reviews/"+reviewID, bearer(ann.AccessToken))
		require.Equal(t, http.StatusOK, resp.Code)

		require.Eventually(t, func() bool {
			resp := ts.api.Get(base, bearer(ann.AccessToken))
			return len(decode[synchronizer.DetailView](t, resp).Data.Reviews) == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("unknown book is unavailable", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/books/nope/sessions", bearer(ann.AccessToken))
		require.Equal(t, http.StatusCreated, resp.Code)
		assert.Equal(t, synchronizer.StateUnavailable, decode[synchronizer.DetailView](t, resp).Data.State)
	})

	t.Run("logout signs the session out", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/auth/logout", bearer(ann.AccessToken))
		require.Equal(t, http.StatusOK, resp.Code)

		details, _ := ts.server.services.Sessions.Counts()
		assert.Equal(t, 1, details, "only bob's session is left")
	})
}

func TestDetailEvents_Errors(t *testing.T) {
	ts := setupTestServer(t, Options{})
	ann := ts.register(t, "ann@example.com", "Ann")

	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/detail/sessions/x/events", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/detail/sessions/x/events", nil)
	r.Header.Set("Authorization", "Bearer "+ann.AccessToken)
	ts.server.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfile(t *testing.T) {
	ts := setupTestServer(t, Options{})
	ann := ts.register(t, "ann@example.com", "Ann")

	resp := ts.api.Get("/api/v1/profile", bearer(ann.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)
	profile := decode[domain.UserProfile](t, resp).Data
	assert.Equal(t, "Ann", profile.DisplayName)
	assert.Equal(t, "ann@example.com", profile.Email)

	resp = ts.api.Patch("/api/v1/profile", bearer(ann.AccessToken), map[string]any{"display_name": "Annie"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Annie", decode[domain.UserProfile](t, resp).Data.DisplayName)

	resp = ts.api.Patch("/api/v1/profile", bearer(ann.AccessToken), map[string]any{"avatar_url": "not a url"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(domainerrors.CodeValidation), decode[any](t, resp).Code)

	resp = ts.api.Get("/api/v1/profile/books", bearer(ann.AccessToken))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"books":[]`)
}

func TestAuthRateLimit(t *testing.T) {
	ts := setupTestServer(t, Options{AuthRateLimiter: NewRateLimiter(1, time.Hour, 2)})

	login := map[string]any{"email": "ghost@example.com", "password": "whatever1"}
	for range 2 {
		resp := ts.api.Post("/api/v1/auth/login", login)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	}

	resp := ts.api.Post("/api/v1/auth/login", login)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, string(domainerrors.CodeRateLimited), decode[any](t, resp).Code)

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, ts.api.Get("/health").Code)
}
