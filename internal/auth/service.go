// Package auth is the identity service: password, anonymous and federated
// sign-in, server-side sessions behind short-lived access tokens, and
// session change notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/repository"
	"github.com/anguillanneuf/BizTrack/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	credentialsCollection = "credentials"
	identitiesCollection  = "identities"

	redirectStateTTL  = 10 * time.Minute
	redirectResultTTL = 5 * time.Minute

	MinPasswordLength = 6
)

// SessionStore is implemented by repository.SessionRepository and its
// in-memory counterpart.
type SessionStore interface {
	Save(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	TakeRefreshToken(ctx context.Context, tokenHash string) (string, error)
	Delete(ctx context.Context, s *models.Session) error
}

// RedirectStore is implemented by repository.RedirectRepository and its
// in-memory counterpart.
type RedirectStore interface {
	SaveState(ctx context.Context, state string, ttl time.Duration) error
	ConsumeState(ctx context.Context, state string) error
	SaveResult(ctx context.Context, result *models.RedirectResult, ttl time.Duration) error
	TakeResult(ctx context.Context, state string) (*models.RedirectResult, error)
}

// ProfileWriter records the names captured at sign-up.
type ProfileWriter interface {
	MergeSignUpProfile(ctx context.Context, userID string, cmd cqrs.SignUpCommand) error
}

type Config struct {
	Secret            string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RecentLoginWindow time.Duration
	// RedirectURL receives federated redirect sign-ins.
	RedirectURL string
}

// RedirectStart tells the client where to send the browser.
type RedirectStart struct {
	State   string `json:"state"`
	AuthURL string `json:"authUrl"`
}

// FederatedResult holds either a completed sign-in or a redirect to follow.
type FederatedResult struct {
	Auth     *models.AuthResult `json:"auth,omitempty"`
	Redirect *RedirectStart     `json:"redirect,omitempty"`
}

type Service struct {
	store     docstore.Store
	sessions  SessionStore
	redirects RedirectStore
	profiles  ProfileWriter
	provider  Provider
	broker    *Broker
	tokens    *TokenIssuer
	cfg       Config
	validate  *validator.Validate
	now       func() time.Time
}

// NewService builds the service. provider may be nil, which disables
// federated sign-in.
func NewService(
	store docstore.Store,
	sessions SessionStore,
	redirects RedirectStore,
	profiles ProfileWriter,
	provider Provider,
	broker *Broker,
	cfg Config,
) *Service {
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.RecentLoginWindow <= 0 {
		cfg.RecentLoginWindow = 5 * time.Minute
	}
	if broker == nil {
		broker = NewBroker()
	}
	return &Service{
		store:     store,
		sessions:  sessions,
		redirects: redirects,
		profiles:  profiles,
		provider:  provider,
		broker:    broker,
		tokens:    NewTokenIssuer(cfg.Secret, cfg.AccessTokenTTL),
		cfg:       cfg,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func credentialPath(email string) string {
	return docstore.Join(credentialsCollection, email)
}

func (s *Service) checkEmail(email string) error {
	if strings.Contains(email, "/") || s.validate.Var(email, "required,email") != nil {
		return newError(CodeInvalidEmail)
	}
	return nil
}

// SignUp creates a password account and signs it in.
func (s *Service) SignUp(ctx context.Context, cmd cqrs.SignUpCommand) (*models.AuthResult, error) {
	email := utils.NormalizeEmail(cmd.Email)
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}
	if len(cmd.Password) < MinPasswordLength {
		return nil, newError(CodeWeakPassword)
	}

	linked, err := s.store.Query(ctx, docstore.Query{Collection: identitiesCollection}.Where("email", email))
	if err != nil {
		return nil, fmt.Errorf("failed to check identities: %w", err)
	}
	if len(linked.Docs) > 0 {
		return nil, newError(CodeEmailInUse)
	}

	hash, err := utils.HashPassword(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	userID := uuid.NewString()
	err = s.store.Create(ctx, credentialPath(email), docstore.Data{
		"userId":            userID,
		"email":             email,
		"passwordHash":      hash,
		"createdAt":         docstore.ServerTimestamp,
		"passwordChangedAt": docstore.ServerTimestamp,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil, newError(CodeEmailInUse)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	cmd.Email = email
	if err := s.profiles.MergeSignUpProfile(ctx, userID, cmd); err != nil {
		slog.ErrorContext(ctx, "failed to save sign-up profile", "user_id", userID, "err", err)
	}
	slog.InfoContext(ctx, "account created", "user_id", userID)

	return s.startSession(ctx, &models.Session{
		UserID:      userID,
		Email:       email,
		DisplayName: strings.TrimSpace(cmd.FirstName + " " + cmd.LastName),
		Provider:    models.ProviderPassword,
	}, true)
}

func (s *Service) Login(ctx context.Context, cmd cqrs.LoginCommand) (*models.AuthResult, error) {
	email := utils.NormalizeEmail(cmd.Email)
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}
	snap, err := s.store.Get(ctx, credentialPath(email))
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if !snap.Exists {
		return nil, newError(CodeUserNotFound)
	}
	var cred models.Credential
	if err := snap.DataTo(&cred); err != nil {
		return nil, err
	}
	if !utils.CheckPassword(cmd.Password, cred.PasswordHash) {
		slog.WarnContext(ctx, "failed login", "user_id", cred.UserID)
		return nil, newError(CodeWrongPassword)
	}
	return s.startSession(ctx, &models.Session{
		UserID:   cred.UserID,
		Email:    email,
		Provider: models.ProviderPassword,
	}, false)
}

// SignInAnonymously creates a fresh anonymous user.
func (s *Service) SignInAnonymously(ctx context.Context) (*models.AuthResult, error) {
	return s.startSession(ctx, &models.Session{
		UserID:    uuid.NewString(),
		Provider:  models.ProviderAnonymous,
		Anonymous: true,
	}, true)
}

// SignInWithProvider completes a popup sign-in. A blocked or closed popup
// starts a redirect sign-in instead.
func (s *Service) SignInWithProvider(ctx context.Context, cmd cqrs.FederatedLoginCommand) (*FederatedResult, error) {
	if s.provider == nil {
		return nil, newError(CodeOperationNotAllowed)
	}
	switch cmd.PopupError {
	case "":
	case CodePopupBlocked, CodePopupClosed:
		slog.InfoContext(ctx, "popup sign-in failed, falling back to redirect", "code", cmd.PopupError)
		start, err := s.BeginRedirect(ctx)
		if err != nil {
			return nil, err
		}
		return &FederatedResult{Redirect: start}, nil
	default:
		return nil, newError(cmd.PopupError)
	}
	if cmd.IDToken == "" {
		return nil, newError(CodeInvalidCredential)
	}
	res, err := s.federatedSignIn(ctx, cmd.IDToken)
	if err != nil {
		return nil, err
	}
	return &FederatedResult{Auth: res}, nil
}

func (s *Service) BeginRedirect(ctx context.Context) (*RedirectStart, error) {
	if s.provider == nil || s.cfg.RedirectURL == "" {
		return nil, newError(CodeOperationNotAllowed)
	}
	state := uuid.NewString()
	if err := s.redirects.SaveState(ctx, state, redirectStateTTL); err != nil {
		return nil, err
	}
	return &RedirectStart{State: state, AuthURL: s.provider.AuthURL(s.cfg.RedirectURL, state)}, nil
}

// CompleteRedirect finishes a redirect sign-in and holds its outcome until
// the client collects it with GetRedirectResult.
func (s *Service) CompleteRedirect(ctx context.Context, state, idToken, providerError string) (*models.RedirectResult, error) {
	if s.provider == nil {
		return nil, newError(CodeOperationNotAllowed)
	}
	if err := s.redirects.ConsumeState(ctx, state); err != nil {
		if errors.Is(err, repository.ErrRedirectNotFound) {
			return nil, newError(CodeRedirectExpired)
		}
		return nil, err
	}

	result := &models.RedirectResult{State: state}
	switch {
	case providerError != "":
		slog.WarnContext(ctx, "provider rejected redirect sign-in", "error", providerError)
		result.ErrorCode = CodeInvalidCredential
	case idToken == "":
		result.ErrorCode = CodeInvalidCredential
	default:
		res, err := s.federatedSignIn(ctx, idToken)
		if code := CodeOf(err); code != "" {
			result.ErrorCode = code
		} else if err != nil {
			return nil, err
		}
		result.Result = res
	}
	if err := s.redirects.SaveResult(ctx, result, redirectResultTTL); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRedirectResult returns nil when no redirect result is pending.
func (s *Service) GetRedirectResult(ctx context.Context, state string) (*models.RedirectResult, error) {
	if state == "" {
		return nil, nil
	}
	result, err := s.redirects.TakeResult(ctx, state)
	if errors.Is(err, repository.ErrRedirectNotFound) {
		return nil, nil
	}
	return result, err
}

func (s *Service) federatedSignIn(ctx context.Context, rawToken string) (*models.AuthResult, error) {
	id, err := s.provider.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	linkPath := docstore.Join(identitiesCollection, id.Provider+":"+id.Subject)
	email := utils.NormalizeEmail(id.Email)

	userID, err := s.linkedUser(ctx, linkPath)
	if err != nil {
		return nil, err
	}
	isNew := false
	if userID == "" {
		if email != "" {
			cred, err := s.store.Get(ctx, credentialPath(email))
			if err != nil {
				return nil, fmt.Errorf("failed to read credential: %w", err)
			}
			if cred.Exists {
				return nil, newError(CodeAccountExists)
			}
		}
		userID = uuid.NewString()
		err = s.store.Create(ctx, linkPath, docstore.Data{
			"userId":    userID,
			"provider":  id.Provider,
			"subject":   id.Subject,
			"email":     email,
			"createdAt": docstore.ServerTimestamp,
		})
		switch {
		case errors.Is(err, docstore.ErrAlreadyExists):
			// a concurrent first sign-in won
			if userID, err = s.linkedUser(ctx, linkPath); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("failed to link identity: %w", err)
		default:
			isNew = true
		}
	}

	return s.startSession(ctx, &models.Session{
		UserID:      userID,
		Email:       email,
		DisplayName: id.Name,
		PhotoURL:    id.Picture,
		Provider:    id.Provider,
	}, isNew)
}

func (s *Service) linkedUser(ctx context.Context, linkPath string) (string, error) {
	snap, err := s.store.Get(ctx, linkPath)
	if err != nil {
		return "", fmt.Errorf("failed to read identity link: %w", err)
	}
	if !snap.Exists {
		return "", nil
	}
	var link models.IdentityLink
	if err := snap.DataTo(&link); err != nil {
		return "", err
	}
	return link.UserID, nil
}

func (s *Service) startSession(ctx context.Context, sess *models.Session, isNew bool) (*models.AuthResult, error) {
	now := s.now()
	raw, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	sess.ID = uuid.NewString()
	sess.RefreshTokenHash = hash
	sess.AuthTime = now
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(s.cfg.RefreshTokenTTL)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "session started", "user_id", sess.UserID, "session_id", sess.ID, "provider", sess.Provider)
	return s.result(sess, raw, now, isNew)
}

func (s *Service) result(sess *models.Session, refreshToken string, now time.Time, isNew bool) (*models.AuthResult, error) {
	access, exp, err := s.tokens.Issue(sess, now)
	if err != nil {
		return nil, err
	}
	return &models.AuthResult{
		Tokens: models.TokenPair{
			AccessToken:  access,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresAt:    exp,
		},
		Session:   ViewOf(sess),
		IsNewUser: isNew,
	}, nil
}

// Refresh rotates the refresh token and issues a new access token. Each
// refresh token is accepted once.
func (s *Service) Refresh(ctx context.Context, cmd cqrs.RefreshTokenCommand) (*models.AuthResult, error) {
	id, err := s.sessions.TakeRefreshToken(ctx, hashToken(cmd.Token))
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, newError(CodeInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	sess.RefreshTokenHash = hash
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	res, err := s.result(sess, raw, s.now(), false)
	if err != nil {
		return nil, err
	}
	view := res.Session
	s.broker.publish(sess.ID, SessionChange{Session: &view})
	return res, nil
}

// Logout ends the session. Ending an unknown session is not an error.
func (s *Service) Logout(ctx context.Context, cmd cqrs.LogoutCommand) error {
	sess, err := s.sessions.Get(ctx, cmd.SessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sess); err != nil {
		return err
	}
	slog.InfoContext(ctx, "session ended", "user_id", sess.UserID, "session_id", sess.ID)
	s.broker.publish(sess.ID, SessionChange{})
	return nil
}

// CurrentSession returns the live session behind sessionID.
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*models.SessionView, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := ViewOf(sess)
	return &view, nil
}

// SubscribeSession streams changes of one session until ctx ends.
func (s *Service) SubscribeSession(ctx context.Context, sessionID string) <-chan SessionChange {
	return s.broker.Subscribe(ctx, sessionID)
}

// VerifyAccessToken checks the token and that its session is still live.
func (s *Service) VerifyAccessToken(ctx context.Context, token string) (middleware.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return middleware.Principal{}, err
	}
	sess, err := s.session(ctx, claims.SessionID)
	if err != nil {
		return middleware.Principal{}, err
	}
	if sess.UserID != claims.UserID {
		return middleware.Principal{}, newError(CodeInvalidToken)
	}
	return middleware.Principal{
		UserID:    sess.UserID,
		Email:     sess.Email,
		SessionID: sess.ID,
		Anonymous: sess.Anonymous,
	}, nil
}

// ChangePassword requires a password session that signed in within the
// recent-login window.
func (s *Service) ChangePassword(ctx context.Context, cmd cqrs.ChangePasswordCommand) error {
	sess, err := s.session(ctx, cmd.SessionID)
	if err != nil {
		return err
	}
	if sess.UserID != cmd.UserID {
		return newError(CodeInvalidToken)
	}
	if sess.Anonymous || sess.Provider != models.ProviderPassword || sess.Email == "" {
		return newError(CodeOperationNotAllowed)
	}
	if s.now().Sub(sess.AuthTime) > s.cfg.RecentLoginWindow {
		return newError(CodeRequiresRecentLogin)
	}
	if len(cmd.NewPassword) < MinPasswordLength {
		return &Error{Code: CodeWeakPassword, Message: "The new password is too weak."}
	}
	hash, err := utils.HashPassword(cmd.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	err = s.store.Update(ctx, credentialPath(sess.Email), docstore.Data{
		"passwordHash":      hash,
		"passwordChangedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	slog.InfoContext(ctx, "password changed", "user_id", sess.UserID)
	return nil
}

func (s *Service) session(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, newError(CodeInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ViewOf describes a session without its secrets.
func ViewOf(s *models.Session) models.SessionView {
	return models.SessionView{
		UserID:      s.UserID,
		SessionID:   s.ID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		PhotoURL:    s.PhotoURL,
		Provider:    s.Provider,
		Anonymous:   s.Anonymous,
		IssuedAt:    s.AuthTime,
		ExpiresAt:   s.ExpiresAt,
	}
}
