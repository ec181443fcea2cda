package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/anguillanneuf/BizTrack/internal/auth"
	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/session"
	"github.com/gin-gonic/gin"
)

// Authenticator defines the auth operations used by AuthHandler.
type Authenticator interface {
	SignUp(context.Context, cqrs.SignUpCommand) (*models.AuthResult, error)
	Login(context.Context, cqrs.LoginCommand) (*models.AuthResult, error)
	SignInAnonymously(context.Context) (*models.AuthResult, error)
	SignInWithProvider(context.Context, cqrs.FederatedLoginCommand) (*auth.FederatedResult, error)
	BeginRedirect(context.Context) (*auth.RedirectStart, error)
	CompleteRedirect(ctx context.Context, state, idToken, providerError string) (*models.RedirectResult, error)
	GetRedirectResult(ctx context.Context, state string) (*models.RedirectResult, error)
	Refresh(context.Context, cqrs.RefreshTokenCommand) (*models.AuthResult, error)
	Logout(context.Context, cqrs.LogoutCommand) error
	CurrentSession(ctx context.Context, sessionID string) (*models.SessionView, error)
	ChangePassword(context.Context, cqrs.ChangePasswordCommand) error
}

// ShellRunner drives the session shell of one connection.
type ShellRunner interface {
	Run(ctx context.Context, sessionID, redirectState string) <-chan session.State
}

type AuthHandler struct {
	auth   Authenticator
	shell  ShellRunner
	appURL string
}

type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"omitempty,eqfield=Password"`
	FirstName       string `json:"firstName" validate:"max=100"`
	LastName        string `json:"lastName" validate:"max=100"`
	CompanyName     string `json:"companyName" validate:"max=200"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// FederatedRequest carries the popup outcome: an id token on success, or the
// popup error code.
type FederatedRequest struct {
	IDToken    string `json:"idToken"`
	PopupError string `json:"popupError"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type ChangePasswordRequest struct {
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

func NewAuthHandler(authenticator Authenticator, shell ShellRunner, appURL string) *AuthHandler {
	if appURL == "" {
		appURL = "/"
	}
	return &AuthHandler{auth: authenticator, shell: shell, appURL: appURL}
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.SignUp(c.Request.Context(), cqrs.SignUpCommand{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		CompanyName: strings.TrimSpace(req.CompanyName),
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), cqrs.LoginCommand{Email: req.Email, Password: req.Password})
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AuthHandler) SignInAnonymously(c *gin.Context) {
	res, err := h.auth.SignInAnonymously(c.Request.Context())
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// SignInWithProvider answers 200 with the session, or 202 with a redirect
// to follow when the popup could not be used.
func (h *AuthHandler) SignInWithProvider(c *gin.Context) {
	var req FederatedRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.SignInWithProvider(c.Request.Context(), cqrs.FederatedLoginCommand{
		IDToken:    req.IDToken,
		PopupError: req.PopupError,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}
	if res.Redirect != nil {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AuthHandler) BeginRedirect(c *gin.Context) {
	start, err := h.auth.BeginRedirect(c.Request.Context())
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, start)
}

// CompleteRedirect receives the provider's callback and sends the browser
// back to the app, which collects the result with the state.
func (h *AuthHandler) CompleteRedirect(c *gin.Context) {
	state := c.Request.FormValue("state")
	if state == "" {
		middleware.RespondWithError(c, http.StatusBadRequest, "Missing state")
		return
	}

	_, err := h.auth.CompleteRedirect(c.Request.Context(), state, c.Request.FormValue("id_token"), c.Request.FormValue("error"))
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.appRedirect(state))
}

func (h *AuthHandler) appRedirect(state string) string {
	target, err := url.Parse(h.appURL)
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	q := target.Query()
	q.Set("redirectState", state)
	target.RawQuery = q.Encode()
	return target.String()
}

// GetRedirectResult hands out a pending redirect result once; 204 when
// nothing is pending.
func (h *AuthHandler) GetRedirectResult(c *gin.Context) {
	result, err := h.auth.GetRedirectResult(c.Request.Context(), c.Query("state"))
	if err != nil {
		respondAuthError(c, err)
		return
	}
	if result == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.Refresh(c.Request.Context(), cqrs.RefreshTokenCommand{Token: req.RefreshToken})
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), cqrs.LogoutCommand{SessionID: middleware.GetSessionID(c)}); err != nil {
		respondAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) GetSession(c *gin.Context) {
	view, err := h.auth.CurrentSession(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SessionEvents streams the session shell as "session" events. Callers
// without a valid token get the unauthenticated path of the shell.
func (h *AuthHandler) SessionEvents(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	states := h.shell.Run(ctx, middleware.GetSessionID(c), c.Query("redirectState"))
	streamLive(c, "session", states, identity[session.State])
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), cqrs.ChangePasswordCommand{
		UserID:      principal.UserID,
		SessionID:   principal.SessionID,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Your password has been updated successfully."})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}
