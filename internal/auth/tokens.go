package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the access token payload.
type Claims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid"`
	Anonymous bool   `json:"anon,omitempty"`
	Provider  string `json:"provider"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and parses HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs an access token for s. Its lifetime never exceeds the session.
func (t *TokenIssuer) Issue(s *models.Session, now time.Time) (string, time.Time, error) {
	exp := now.Add(t.ttl)
	if s.ExpiresAt.Before(exp) {
		exp = s.ExpiresAt
	}
	claims := Claims{
		UserID:    s.UserID,
		Email:     s.Email,
		SessionID: s.ID,
		Anonymous: s.Anonymous,
		Provider:  s.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and expiry of an access token.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, newError(CodeInvalidToken)
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, newError(CodeInvalidToken)
	}
	return claims, nil
}

// newRefreshToken returns an opaque refresh token and the hash stored for it.
func newRefreshToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
