package models

import "time"

// Sign-in providers recorded on sessions.
const (
	ProviderPassword  = "password"
	ProviderAnonymous = "anonymous"
	ProviderGoogle    = "google.com"
)

// Session is the server-side record behind an access/refresh token pair.
// AuthTime is when the user last presented credentials; refreshing keeps it.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Email            string    `json:"email,omitempty"`
	DisplayName      string    `json:"displayName,omitempty"`
	PhotoURL         string    `json:"photoURL,omitempty"`
	Provider         string    `json:"provider"`
	Anonymous        bool      `json:"anonymous"`
	RefreshTokenHash string    `json:"refreshTokenHash"`
	AuthTime         time.Time `json:"authTime"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// AuthResult is returned by every sign-in flow.
type AuthResult struct {
	Tokens    TokenPair   `json:"tokens"`
	Session   SessionView `json:"session"`
	IsNewUser bool        `json:"isNewUser"`
}

// RedirectResult is the outcome of a federated redirect sign-in, held until
// the client collects it once.
type RedirectResult struct {
	State     string      `json:"state"`
	Result    *AuthResult `json:"result,omitempty"`
	ErrorCode string      `json:"errorCode,omitempty"`
}
