package auth

import (
	"encoding/hex"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	jsoniter "github.com/json-iterator/go"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/id"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	tokenIssuer   = "bookshelf-server"
	tokenAudience = "bookshelf-client"

	// PASETO v4 symmetric key requirements.
	keyBytesSize = 32
	keyHexSize   = 64
)

// AccessClaims are the claims inside a v4.local access token. The token is
// encrypted, so clients cannot read them.
type AccessClaims struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`

	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}

// Identity converts the claims to the caller identity used by sessions.
func (c *AccessClaims) Identity() domain.Identity {
	return domain.Identity{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		SessionID:   c.SessionID,
	}
}

// TokenService handles PASETO token generation and verification.
type TokenService struct {
	key      paseto.V4SymmetricKey
	duration time.Duration
	now      func() time.Time
}

// NewTokenService creates a token service from a hex encoded 32 byte key.
func NewTokenService(keyHex string, accessDuration time.Duration) (*TokenService, error) {
	if len(keyHex) != keyHexSize {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d hex characters, got %d", keyHexSize, len(keyHex))
	}
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string for PASETO key: %w", err)
	}
	key, err := paseto.V4SymmetricKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}
	if accessDuration <= 0 {
		return nil, fmt.Errorf("access token duration must be positive, got %s", accessDuration)
	}

	return &TokenService{key: key, duration: accessDuration, now: time.Now}, nil
}

// GenerateAccessToken issues a token bound to session. The token stops
// working when it expires or when the session is deleted, whichever is first.
func (s *TokenService) GenerateAccessToken(user *domain.User, session *domain.Session) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.duration)
	if session.ExpiresAt.Before(expires) {
		expires = session.ExpiresAt
	}

	tokenID, err := id.Generate("tok")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token ID: %w", err)
	}

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetSubject(user.ID)
	token.SetAudience(tokenAudience)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(expires)
	token.SetJti(tokenID)

	//nolint:errcheck // Set only fails for values that cannot be marshaled.
	_ = token.Set("user_id", user.ID)
	//nolint:errcheck // Set only fails for values that cannot be marshaled.
	_ = token.Set("session_id", session.ID)
	//nolint:errcheck // Set only fails for values that cannot be marshaled.
	_ = token.Set("email", user.Email)
	//nolint:errcheck // Set only fails for values that cannot be marshaled.
	_ = token.Set("display_name", user.DisplayName)

	return token.V4Encrypt(s.key, nil), expires, nil
}

// VerifyAccessToken decrypts and validates a token. It does not check that
// the session still exists; that is the caller's job.
func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	return s.parse(tokenString, true)
}

// VerifyForRefresh is VerifyAccessToken without the expiry check. An expired
// token may be exchanged for a new one as long as its session is alive.
func (s *TokenService) VerifyForRefresh(tokenString string) (*AccessClaims, error) {
	return s.parse(tokenString, false)
}

func (s *TokenService) parse(tokenString string, checkExpiry bool) (*AccessClaims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	if checkExpiry {
		parser.AddRule(paseto.NotExpired())
		parser.AddRule(paseto.ValidAt(s.now()))
	}

	token, err := parser.ParseV4Local(s.key, tokenString, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var claims AccessClaims
	if err := json.Unmarshal(token.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("invalid token: missing subject claims")
	}
	return &claims, nil
}

// AccessTokenDuration returns the configured access token lifetime.
func (s *TokenService) AccessTokenDuration() time.Duration {
	return s.duration
}
