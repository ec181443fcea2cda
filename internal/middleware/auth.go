package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID    = "userId"
	ContextEmail     = "email"
	ContextSessionID = "sessionId"
	ContextAnonymous = "anonymous"
)

// Principal is the verified identity behind an access token.
type Principal struct {
	UserID    string
	Email     string
	SessionID string
	Anonymous bool
}

// TokenVerifier validates an access token and returns its principal.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (Principal, error)
}

// AuthMiddleware accepts a Bearer token, or an access_token query parameter
// on GET requests so EventSource clients can open live streams.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}

		principal, err := verifier.VerifyAccessToken(c.Request.Context(), tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid or expired token",
			})
			return
		}

		setPrincipal(c, principal)
		c.Next()
	}
}

// OptionalAuthMiddleware sets the principal when a valid token is presented
// and lets the request through unauthenticated otherwise.
func OptionalAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("access_token")
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" {
			c.Next()
			return
		}
		if principal, err := verifier.VerifyAccessToken(c.Request.Context(), tokenString); err == nil {
			setPrincipal(c, principal)
		}
		c.Next()
	}
}

func setPrincipal(c *gin.Context, principal Principal) {
	c.Set(ContextUserID, principal.UserID)
	c.Set(ContextEmail, principal.Email)
	c.Set(ContextSessionID, principal.SessionID)
	c.Set(ContextAnonymous, principal.Anonymous)
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" && c.Request.Method == http.MethodGet {
			return token, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"message": "Authorization header required",
		})
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"message": "Invalid authorization header format",
		})
		return "", false
	}
	return parts[1], true
}

func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	return userID, userID != ""
}

func GetSessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}

func GetPrincipal(c *gin.Context) (Principal, bool) {
	userID, ok := GetUserID(c)
	if !ok {
		return Principal{}, false
	}
	return Principal{
		UserID:    userID,
		Email:     c.GetString(ContextEmail),
		SessionID: c.GetString(ContextSessionID),
		Anonymous: c.GetBool(ContextAnonymous),
	}, true
}
