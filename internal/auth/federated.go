package auth

import (
	"context"
	"errors"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified subject of a federated id token.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// Provider verifies id tokens of one federated identity provider and builds
// its redirect sign-in URL.
type Provider interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
	AuthURL(redirectURL, state string) string
}

type keySource interface {
	Get(ctx context.Context, keyID string) (any, error)
}

type jwksKeys struct{ *JWKSClient }

func (j jwksKeys) Get(ctx context.Context, keyID string) (any, error) {
	return j.JWKSClient.Get(ctx, keyID)
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

var googleIssuers = map[string]bool{
	"https://accounts.google.com": true,
	"accounts.google.com":         true,
}

const googleAuthEndpoint = "https://accounts.google.com/o/oauth2/v2/auth"

// GoogleVerifier checks RS256 Google id tokens against the published keys.
type GoogleVerifier struct {
	clientID string
	keys     keySource
}

func NewGoogleVerifier(clientID string, jwks *JWKSClient) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, keys: jwksKeys{jwks}}
}

func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	claims := &googleClaims{}
	var keyErr error
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Get(ctx, kid)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			keyErr = err
		}
		return key, err
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithAudience(v.clientID), jwt.WithExpirationRequired())
	if keyErr != nil {
		return nil, &Error{Code: CodeNetworkFailed, Message: MessageFor(CodeNetworkFailed)}
	}
	if err != nil || !token.Valid || !googleIssuers[claims.Issuer] || claims.Subject == "" {
		return nil, newError(CodeInvalidCredential)
	}
	if claims.Email != "" && !claims.EmailVerified {
		return nil, newError(CodeInvalidCredential)
	}
	return &Identity{
		Provider: "google.com",
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Picture:  claims.Picture,
	}, nil
}

// AuthURL builds the provider redirect for an id_token sign-in that posts
// back to redirectURL.
func (v *GoogleVerifier) AuthURL(redirectURL, state string) string {
	q := url.Values{}
	q.Set("client_id", v.clientID)
	q.Set("redirect_uri", redirectURL)
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("nonce", state)
	return googleAuthEndpoint + "?" + q.Encode()
}
