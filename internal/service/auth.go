package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bookshelfapp/bookshelf-server/internal/auth"
	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
	"github.com/bookshelfapp/bookshelf-server/internal/id"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
	"github.com/bookshelfapp/bookshelf-server/internal/validation"
)

// SessionSigner is told when a login session ends so that screen sessions
// opened with it stop accepting mutations.
type SessionSigner interface {
	SignOutSession(sessionID string) int
}

// AuthService handles registration, login, logout and token verification.
type AuthService struct {
	store           store.Store
	tokens          *auth.TokenService
	validator       *validation.Validator
	signer          SessionSigner
	sessionDuration time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewAuthService creates a new authentication service. signer may be nil.
func NewAuthService(
	s store.Store,
	tokens *auth.TokenService,
	v *validation.Validator,
	signer SessionSigner,
	sessionDuration time.Duration,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:           s,
		tokens:          tokens,
		validator:       v,
		signer:          signer,
		sessionDuration: sessionDuration,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetSigner sets the sign-out listener after construction.
func (s *AuthService) SetSigner(signer SessionSigner) {
	s.signer = signer
}

// RegisterRequest contains the data for a new account.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=1024"`
	DisplayName string `json:"display_name" validate:"notblank,max=100"`
}

// LoginRequest contains user credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	User        *domain.User `json:"user"`
	SessionID   string       `json:"session_id"`
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID, err := id.Generate(id.PrefixUser)
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:           userID,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: passwordHash,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastLoginAt:  now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, domainerrors.AlreadyExists("email already in use")
		}
		return nil, translate(err)
	}

	// The profile carries the display name shown next to reviews.
	name := user.DisplayName
	if _, err := s.store.UpdateProfile(ctx, user.ID, domain.ProfileUpdate{DisplayName: &name}); err != nil {
		s.logger.Warn("failed to provision profile", "user_id", user.ID, "error", err)
	}

	resp, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)
	return resp, nil
}

// Login verifies credentials and opens a new session. Unknown emails and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Hash anyway so unknown emails cost as much as known ones.
			_ = auth.VerifyPassword(dummyHash, req.Password)
			return nil, domainerrors.InvalidCredentials("invalid email or password")
		}
		return nil, translate(err)
	}

	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		s.logger.Info("login failed", "user_id", user.ID)
		return nil, domainerrors.InvalidCredentials("invalid email or password")
	}

	user.LastLoginAt = s.now()
	user.UpdatedAt = user.LastLoginAt
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, translate(err)
	}

	resp, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID, "session_id", resp.SessionID)
	return resp, nil
}

// Logout ends a login session. Every screen session opened with it is
// signed out. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return translate(err)
	}

	closed := 0
	if s.signer != nil {
		closed = s.signer.SignOutSession(sessionID)
	}

	s.logger.Info("user logged out", "session_id", sessionID, "screens_closed", closed)
	return nil
}

// VerifyAccessToken checks a token and that its session still exists.
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (*auth.AccessClaims, error) {
	claims, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, domainerrors.Unauthorized("invalid or expired token").WithCause(err)
	}

	session, err := s.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.Unauthorized("session has ended")
		}
		return nil, translate(err)
	}
	if session.UserID != claims.UserID || session.IsExpired(s.now()) {
		return nil, domainerrors.Unauthorized("session has ended")
	}
	return claims, nil
}

// Refresh exchanges a token, expired or not, for a fresh one as long as its
// session is still alive.
func (s *AuthService) Refresh(ctx context.Context, token string) (*AuthResponse, error) {
	claims, err := s.tokens.VerifyForRefresh(token)
	if err != nil {
		return nil, domainerrors.Unauthorized("invalid token").WithCause(err)
	}

	session, err := s.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.Unauthorized("session has ended")
		}
		return nil, translate(err)
	}
	if session.UserID != claims.UserID || session.IsExpired(s.now()) {
		return nil, domainerrors.Unauthorized("session has ended")
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, translate(err)
	}

	access, expires, err := s.tokens.GenerateAccessToken(user, session)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	public := *user
	public.PasswordHash = ""
	return &AuthResponse{
		User:        &public,
		SessionID:   session.ID,
		AccessToken: access,
		ExpiresAt:   expires,
	}, nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, translate(err)
	}
	if n > 0 {
		s.logger.Info("expired sessions purged", "count", n)
	}
	return n, nil
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User) (*AuthResponse, error) {
	sessionID, err := id.Generate(id.PrefixSession)
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	now := s.now()
	session := &domain.Session{
		ID:        sessionID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionDuration),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, translate(err)
	}

	token, expires, err := s.tokens.GenerateAccessToken(user, session)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	public := *user
	public.PasswordHash = ""
	return &AuthResponse{
		User:        &public,
		SessionID:   session.ID,
		AccessToken: token,
		ExpiresAt:   expires,
	}, nil
}

// dummyHash is a valid argon2id hash of a random password.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=4$c29tZXNhbHRzb21lc2FsdA$Hh4sWbLlvA0z1G8cCmK2x1K6b3eYbL3lDqC1g2l7p4k"
