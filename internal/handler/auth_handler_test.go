package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/anguillanneuf/BizTrack/internal/auth"
	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/session"
	"github.com/gin-gonic/gin"
)

// ---- mock implementations ----

type mockAuthenticator struct {
	signUpFn           func(cqrs.SignUpCommand) (*models.AuthResult, error)
	loginFn            func(cqrs.LoginCommand) (*models.AuthResult, error)
	anonymousFn        func() (*models.AuthResult, error)
	federatedFn        func(cqrs.FederatedLoginCommand) (*auth.FederatedResult, error)
	beginRedirectFn    func() (*auth.RedirectStart, error)
	completeRedirectFn func(state, idToken, providerError string) (*models.RedirectResult, error)
	redirectResultFn   func(state string) (*models.RedirectResult, error)
	refreshFn          func(cqrs.RefreshTokenCommand) (*models.AuthResult, error)
	logoutFn           func(cqrs.LogoutCommand) error
	sessionFn          func(sessionID string) (*models.SessionView, error)
	changePasswordFn   func(cqrs.ChangePasswordCommand) error
}

var errNotConfigured = fmt.Errorf("not configured")

func (m *mockAuthenticator) SignUp(_ context.Context, cmd cqrs.SignUpCommand) (*models.AuthResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(cmd)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) Login(_ context.Context, cmd cqrs.LoginCommand) (*models.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(cmd)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) SignInAnonymously(context.Context) (*models.AuthResult, error) {
	if m.anonymousFn != nil {
		return m.anonymousFn()
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) SignInWithProvider(_ context.Context, cmd cqrs.FederatedLoginCommand) (*auth.FederatedResult, error) {
	if m.federatedFn != nil {
		return m.federatedFn(cmd)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) BeginRedirect(context.Context) (*auth.RedirectStart, error) {
	if m.beginRedirectFn != nil {
		return m.beginRedirectFn()
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) CompleteRedirect(_ context.Context, state, idToken, providerError string) (*models.RedirectResult, error) {
	if m.completeRedirectFn != nil {
		return m.completeRedirectFn(state, idToken, providerError)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) GetRedirectResult(_ context.Context, state string) (*models.RedirectResult, error) {
	if m.redirectResultFn != nil {
		return m.redirectResultFn(state)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) Refresh(_ context.Context, cmd cqrs.RefreshTokenCommand) (*models.AuthResult, error) {
	if m.refreshFn != nil {
		return m.refreshFn(cmd)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) Logout(_ context.Context, cmd cqrs.LogoutCommand) error {
	if m.logoutFn != nil {
		return m.logoutFn(cmd)
	}
	return errNotConfigured
}

func (m *mockAuthenticator) CurrentSession(_ context.Context, sessionID string) (*models.SessionView, error) {
	if m.sessionFn != nil {
		return m.sessionFn(sessionID)
	}
	return nil, errNotConfigured
}

func (m *mockAuthenticator) ChangePassword(_ context.Context, cmd cqrs.ChangePasswordCommand) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(cmd)
	}
	return errNotConfigured
}

type mockShell struct {
	runFn func(sessionID, redirectState string) <-chan session.State
}

func (m *mockShell) Run(_ context.Context, sessionID, redirectState string) <-chan session.State {
	if m.runFn != nil {
		return m.runFn(sessionID, redirectState)
	}
	ch := make(chan session.State)
	close(ch)
	return ch
}

// ---- helpers ----

func newAuthTestRouter(a Authenticator, shell ShellRunner, authUserID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAuthHandler(a, shell, "https://app.example.com/dashboard")

	public := r.Group("/v1/auth")
	public.POST("/signup", h.SignUp)
	public.POST("/login", h.Login)
	public.POST("/anonymous", h.SignInAnonymously)
	public.POST("/federated", h.SignInWithProvider)
	public.POST("/federated/redirect", h.BeginRedirect)
	public.GET("/federated/callback", h.CompleteRedirect)
	public.POST("/federated/callback", h.CompleteRedirect)
	public.GET("/redirect-result", h.GetRedirectResult)
	public.POST("/refresh", h.Refresh)

	private := r.Group("/v1/auth", fakeAuth(authUserID))
	private.POST("/logout", h.Logout)
	private.GET("/session", h.GetSession)
	private.GET("/session/events", h.SessionEvents)
	private.POST("/password", h.ChangePassword)
	return r
}

func authResult(userID string, isNew bool) *models.AuthResult {
	return &models.AuthResult{
		Tokens:    models.TokenPair{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"},
		Session:   models.SessionView{UserID: userID, SessionID: "sess-" + userID, Provider: models.ProviderPassword},
		IsNewUser: isNew,
	}
}

func authErr(code string) error {
	return &auth.Error{Code: code, Message: auth.MessageFor(code)}
}

// ---- tests ----

func TestSignUp(t *testing.T) {
	tests := []struct {
		name            string
		body            interface{}
		signUpFn        func(cqrs.SignUpCommand) (*models.AuthResult, error)
		expectedStatus  int
		expectedMessage string
	}{
		{
			name: "success",
			body: map[string]interface{}{"email": "ada@example.com", "password": "secret1", "firstName": "Ada"},
			signUpFn: func(cmd cqrs.SignUpCommand) (*models.AuthResult, error) {
				return authResult("usr-001", true), nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:            "invalid email",
			body:            map[string]interface{}{"email": "ada", "password": "secret1"},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Please enter a valid email.",
		},
		{
			name:            "short password",
			body:            map[string]interface{}{"email": "ada@example.com", "password": "123"},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Password must be at least 6 characters.",
		},
		{
			name:            "confirmation mismatch",
			body:            map[string]interface{}{"email": "ada@example.com", "password": "secret1", "confirmPassword": "secret2"},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Passwords do not match.",
		},
		{
			name: "email already registered",
			body: map[string]interface{}{"email": "ada@example.com", "password": "secret1"},
			signUpFn: func(cqrs.SignUpCommand) (*models.AuthResult, error) {
				return nil, authErr(auth.CodeEmailInUse)
			},
			expectedStatus:  http.StatusConflict,
			expectedMessage: "This email is already registered.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newAuthTestRouter(&mockAuthenticator{signUpFn: tt.signUpFn}, &mockShell{}, "")
			w := doRequest(router, http.MethodPost, "/v1/auth/signup", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedMessage != "" && !strings.Contains(w.Body.String(), tt.expectedMessage) {
				t.Errorf("expected %q in %s", tt.expectedMessage, w.Body.String())
			}
		})
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name           string
		loginFn        func(cqrs.LoginCommand) (*models.AuthResult, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "success",
			loginFn:        func(cqrs.LoginCommand) (*models.AuthResult, error) { return authResult("usr-001", false), nil },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong password",
			loginFn:        func(cqrs.LoginCommand) (*models.AuthResult, error) { return nil, authErr(auth.CodeWrongPassword) },
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   auth.CodeWrongPassword,
		},
		{
			name:           "unexpected failure",
			loginFn:        func(cqrs.LoginCommand) (*models.AuthResult, error) { return nil, fmt.Errorf("redis down") },
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newAuthTestRouter(&mockAuthenticator{loginFn: tt.loginFn}, &mockShell{}, "")
			w := doRequest(router, http.MethodPost, "/v1/auth/login", map[string]interface{}{"email": "ada@example.com", "password": "secret1"})
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				var resp AuthErrorResponse
				_ = json.Unmarshal(w.Body.Bytes(), &resp)
				if resp.Code != tt.expectedCode || resp.Message != "Invalid email or password." {
					t.Errorf("unexpected error body: %+v", resp)
				}
			}
		})
	}
}

func TestSignInWithProvider(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		federatedFn    func(cqrs.FederatedLoginCommand) (*auth.FederatedResult, error)
		expectedStatus int
	}{
		{
			name: "popup success",
			body: map[string]interface{}{"idToken": "token"},
			federatedFn: func(cqrs.FederatedLoginCommand) (*auth.FederatedResult, error) {
				return &auth.FederatedResult{Auth: authResult("usr-001", true)}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "popup blocked falls back to redirect",
			body: map[string]interface{}{"popupError": auth.CodePopupBlocked},
			federatedFn: func(cmd cqrs.FederatedLoginCommand) (*auth.FederatedResult, error) {
				if cmd.PopupError != auth.CodePopupBlocked {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return &auth.FederatedResult{Redirect: &auth.RedirectStart{State: "st-1", AuthURL: "https://accounts.example.com"}}, nil
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name: "account exists with different credential",
			body: map[string]interface{}{"idToken": "token"},
			federatedFn: func(cqrs.FederatedLoginCommand) (*auth.FederatedResult, error) {
				return nil, authErr(auth.CodeAccountExists)
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "provider unreachable",
			body: map[string]interface{}{"idToken": "token"},
			federatedFn: func(cqrs.FederatedLoginCommand) (*auth.FederatedResult, error) {
				return nil, authErr(auth.CodeNetworkFailed)
			},
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newAuthTestRouter(&mockAuthenticator{federatedFn: tt.federatedFn}, &mockShell{}, "")
			w := doRequest(router, http.MethodPost, "/v1/auth/federated", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestCompleteRedirect(t *testing.T) {
	var gotState, gotToken string
	a := &mockAuthenticator{completeRedirectFn: func(state, idToken, providerError string) (*models.RedirectResult, error) {
		gotState, gotToken = state, idToken
		if state == "expired" {
			return nil, authErr(auth.CodeRedirectExpired)
		}
		return &models.RedirectResult{State: state, Result: authResult("usr-001", true)}, nil
	}}
	router := newAuthTestRouter(a, &mockShell{}, "")

	form := url.Values{"state": {"st-1"}, "id_token": {"tok"}}
	req, _ := http.NewRequest(http.MethodPost, "/v1/auth/federated/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://app.example.com/dashboard?redirectState=st-1" {
		t.Errorf("unexpected redirect target %q", loc)
	}
	if gotState != "st-1" || gotToken != "tok" {
		t.Errorf("expected form values passed through, got %q %q", gotState, gotToken)
	}

	w = doRequest(router, http.MethodGet, "/v1/auth/federated/callback?state=expired", nil)
	if w.Code != http.StatusGone {
		t.Errorf("expected 410 for an expired state, got %d", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/v1/auth/federated/callback", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without state, got %d", w.Code)
	}
}

func TestGetRedirectResult(t *testing.T) {
	a := &mockAuthenticator{redirectResultFn: func(state string) (*models.RedirectResult, error) {
		if state == "st-1" {
			return &models.RedirectResult{State: state, ErrorCode: auth.CodeAccountExists}, nil
		}
		return nil, nil
	}}
	router := newAuthTestRouter(a, &mockShell{}, "")

	w := doRequest(router, http.MethodGet, "/v1/auth/redirect-result?state=st-1", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), auth.CodeAccountExists) {
		t.Errorf("unexpected response %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(router, http.MethodGet, "/v1/auth/redirect-result?state=other", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 when nothing is pending, got %d", w.Code)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	var loggedOut string
	a := &mockAuthenticator{
		refreshFn: func(cmd cqrs.RefreshTokenCommand) (*models.AuthResult, error) {
			if cmd.Token != "refresh" {
				return nil, authErr(auth.CodeInvalidToken)
			}
			return authResult("usr-001", false), nil
		},
		logoutFn: func(cmd cqrs.LogoutCommand) error {
			loggedOut = cmd.SessionID
			return nil
		},
	}
	router := newAuthTestRouter(a, &mockShell{}, "usr-001")

	w := doRequest(router, http.MethodPost, "/v1/auth/refresh", map[string]interface{}{"refreshToken": "refresh"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = doRequest(router, http.MethodPost, "/v1/auth/refresh", map[string]interface{}{"refreshToken": "reused"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a reused token, got %d", w.Code)
	}
	w = doRequest(router, http.MethodPost, "/v1/auth/refresh", map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a token, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/v1/auth/logout", nil)
	if w.Code != http.StatusNoContent || loggedOut != "sess-usr-001" {
		t.Errorf("expected logout of sess-usr-001, got %d %q", w.Code, loggedOut)
	}
}

func TestChangePassword(t *testing.T) {
	tests := []struct {
		name            string
		body            interface{}
		changeFn        func(cqrs.ChangePasswordCommand) error
		expectedStatus  int
		expectedMessage string
	}{
		{
			name: "success",
			body: map[string]interface{}{"newPassword": "secret2", "confirmPassword": "secret2"},
			changeFn: func(cmd cqrs.ChangePasswordCommand) error {
				if cmd.UserID != "usr-001" || cmd.SessionID != "sess-usr-001" {
					return fmt.Errorf("unexpected command %+v", cmd)
				}
				return nil
			},
			expectedStatus:  http.StatusOK,
			expectedMessage: "Your password has been updated successfully.",
		},
		{
			name:            "confirmation mismatch",
			body:            map[string]interface{}{"newPassword": "secret2", "confirmPassword": "secret3"},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Passwords do not match.",
		},
		{
			name:            "too short",
			body:            map[string]interface{}{"newPassword": "abc", "confirmPassword": "abc"},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "New password must be at least 6 characters.",
		},
		{
			name:            "stale session",
			body:            map[string]interface{}{"newPassword": "secret2", "confirmPassword": "secret2"},
			changeFn:        func(cqrs.ChangePasswordCommand) error { return authErr(auth.CodeRequiresRecentLogin) },
			expectedStatus:  http.StatusForbidden,
			expectedMessage: "requires recent authentication",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newAuthTestRouter(&mockAuthenticator{changePasswordFn: tt.changeFn}, &mockShell{}, "usr-001")
			w := doRequest(router, http.MethodPost, "/v1/auth/password", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.expectedMessage) {
				t.Errorf("expected %q in %s", tt.expectedMessage, w.Body.String())
			}
		})
	}
}

func TestSessionEvents(t *testing.T) {
	tests := []struct {
		name          string
		authUserID    string
		url           string
		wantSessionID string
		wantState     string
	}{
		{name: "signed in", authUserID: "usr-001", url: "/v1/auth/session/events", wantSessionID: "sess-usr-001"},
		{name: "pending redirect", url: "/v1/auth/session/events?redirectState=st-1", wantState: "st-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSession, gotState string
			shell := &mockShell{runFn: func(sessionID, redirectState string) <-chan session.State {
				gotSession, gotState = sessionID, redirectState
				ch := make(chan session.State, 2)
				ch <- session.State{Status: session.StatusUnknown}
				ch <- session.State{Status: session.StatusUnauthenticated, Redirect: session.LoginPath}
				close(ch)
				return ch
			}}
			router := newAuthTestRouter(&mockAuthenticator{}, shell, tt.authUserID)

			w := doRequest(router, http.MethodGet, tt.url, nil)
			if gotSession != tt.wantSessionID || gotState != tt.wantState {
				t.Errorf("expected shell run with (%q, %q), got (%q, %q)", tt.wantSessionID, tt.wantState, gotSession, gotState)
			}
			body := w.Body.String()
			if strings.Count(body, "event:session") != 2 || !strings.Contains(body, `"redirect":"/login"`) {
				t.Errorf("unexpected stream body: %s", body)
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	a := &mockAuthenticator{sessionFn: func(sessionID string) (*models.SessionView, error) {
		if sessionID != "sess-usr-001" {
			return nil, authErr(auth.CodeInvalidToken)
		}
		return &models.SessionView{UserID: "usr-001", SessionID: sessionID}, nil
	}}
	router := newAuthTestRouter(a, &mockShell{}, "usr-001")
	w := doRequest(router, http.MethodGet, "/v1/auth/session", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "refresh") {
		t.Errorf("session view must not carry tokens: %s", w.Body.String())
	}
}
