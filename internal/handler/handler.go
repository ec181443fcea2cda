// Package handler exposes the command and query services over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/auth"
	"github.com/anguillanneuf/BizTrack/internal/command"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/gin-gonic/gin"
)

// HeartbeatInterval spaces the keepalive events of live streams.
var HeartbeatInterval = 25 * time.Second

// AcceptedResponse acknowledges a write that completes in the background.
type AcceptedResponse struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// respondCommandError maps command service errors to HTTP responses.
func respondCommandError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, command.ErrUnauthenticated):
		middleware.RespondWithError(c, http.StatusUnauthorized, "You must be logged in.")
	case errors.Is(err, command.ErrForbidden):
		middleware.RespondWithError(c, http.StatusForbidden, command.PermissionDeniedMessage)
	case errors.Is(err, command.ErrUnknownKind):
		middleware.RespondWithError(c, http.StatusNotFound, "Unknown record type")
	case errors.Is(err, command.ErrBusy):
		middleware.RespondWithError(c, http.StatusServiceUnavailable, "The server is busy. Please try again.")
	default:
		slog.ErrorContext(c.Request.Context(), fallback, "err", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, fallback)
	}
}

// AuthErrorResponse carries the code of a failed authentication step next to
// its user-facing message.
type AuthErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondAuthError(c *gin.Context, err error) {
	code := auth.CodeOf(err)
	if code == "" {
		slog.ErrorContext(c.Request.Context(), "authentication failed", "err", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "Authentication failed. Please try again.")
		return
	}
	var authErr *auth.Error
	message := auth.MessageFor(code)
	if errors.As(err, &authErr) && authErr.Message != "" {
		message = authErr.Message
	}
	c.JSON(authStatus(code), AuthErrorResponse{Code: code, Message: message})
}

func authStatus(code string) int {
	switch code {
	case auth.CodeInvalidCredential, auth.CodeUserNotFound, auth.CodeWrongPassword, auth.CodeInvalidToken:
		return http.StatusUnauthorized
	case auth.CodeEmailInUse, auth.CodeAccountExists:
		return http.StatusConflict
	case auth.CodeRequiresRecentLogin, auth.CodeOperationNotAllowed:
		return http.StatusForbidden
	case auth.CodeNetworkFailed:
		return http.StatusBadGateway
	case auth.CodeRedirectExpired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

// streamLive writes every value of updates as a server-sent event until the
// channel closes or the client goes away.
func streamLive[T any, V any](c *gin.Context, event string, updates <-chan T, render func(T) V) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent(event, render(v))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

func identity[T any](v T) T { return v }

// requestContext scopes a live subscription to the handler call.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(c.Request.Context())
}
