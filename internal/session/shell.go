// Package session runs the per-connection session shell: it confirms the
// session, bootstraps a missing profile and follows the session until it
// ends, then points the client at the login page.
package session

import (
	"context"
	"log/slog"

	"github.com/anguillanneuf/BizTrack/internal/auth"
	"github.com/anguillanneuf/BizTrack/internal/live"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/utils"
)

type Status string

const (
	StatusUnknown         Status = "unknown"
	StatusAuthenticating  Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// LoginPath is where unauthenticated clients are sent.
const LoginPath = "/login"

// State is one observation of the shell.
type State struct {
	Status         Status                 `json:"status"`
	Session        *models.SessionView    `json:"session,omitempty"`
	Profile        *models.UserProfile    `json:"profile,omitempty"`
	ProfileLoading bool                   `json:"profileLoading,omitempty"`
	RedirectResult *models.RedirectResult `json:"redirectResult,omitempty"`
	Redirect       string                 `json:"redirect,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Sessions is the subset of the auth service the shell needs.
type Sessions interface {
	CurrentSession(ctx context.Context, sessionID string) (*models.SessionView, error)
	SubscribeSession(ctx context.Context, sessionID string) <-chan auth.SessionChange
	GetRedirectResult(ctx context.Context, state string) (*models.RedirectResult, error)
}

type ProfileWatcher interface {
	WatchProfile(ctx context.Context, userID string) <-chan live.State[*models.UserProfile]
}

type ProfileBootstrapper interface {
	CreateDefaultProfile(ctx context.Context, p models.UserProfile) (bool, error)
}

type Shell struct {
	sessions  Sessions
	profiles  ProfileWatcher
	bootstrap ProfileBootstrapper
}

func NewShell(sessions Sessions, profiles ProfileWatcher, bootstrap ProfileBootstrapper) *Shell {
	return &Shell{sessions: sessions, profiles: profiles, bootstrap: bootstrap}
}

// Run drives the shell for one connection. sessionID may be empty for a
// client without a session; redirectState names a pending federated
// redirect to check before sending the client to the login page. The
// channel closes once the shell reaches a terminal state or ctx ends.
func (s *Shell) Run(ctx context.Context, sessionID, redirectState string) <-chan State {
	out := make(chan State, 1)
	go func() {
		defer close(out)
		r := &run{shell: s, out: out, redirectState: redirectState}
		r.drive(ctx, sessionID)
	}()
	return out
}

type run struct {
	shell         *Shell
	out           chan State
	redirectState string
	state         State
}

func (r *run) emit(ctx context.Context) bool {
	select {
	case r.out <- r.state:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *run) drive(ctx context.Context, sessionID string) {
	r.state = State{Status: StatusUnknown}
	if !r.emit(ctx) {
		return
	}
	if sessionID == "" {
		r.unauthenticated(ctx)
		return
	}

	r.state.Status = StatusAuthenticating
	if !r.emit(ctx) {
		return
	}
	// subscribe before reading so an immediate sign-out is not missed
	changes := r.shell.sessions.SubscribeSession(ctx, sessionID)
	current, err := r.shell.sessions.CurrentSession(ctx, sessionID)
	if err != nil {
		slog.DebugContext(ctx, "session not confirmed", "session_id", sessionID, "err", err)
		r.unauthenticated(ctx)
		return
	}
	r.authenticated(ctx, current, changes)
}

func (r *run) authenticated(ctx context.Context, current *models.SessionView, changes <-chan auth.SessionChange) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.state = State{Status: StatusAuthenticated, Session: current, ProfileLoading: true}
	if !r.emit(ctx) {
		return
	}
	profile := r.shell.profiles.WatchProfile(pctx, current.UserID)
	bootstrapped := false

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Session == nil {
				cancel()
				r.unauthenticated(ctx)
				return
			}
			r.state.Session = change.Session
		case st, ok := <-profile:
			if !ok {
				profile = nil
				continue
			}
			switch {
			case st.IsLoading:
				continue
			case st.Err != nil:
				r.state.ProfileLoading = false
				r.state.Error = st.Err.Error()
			case st.Data == nil:
				if bootstrapped {
					continue
				}
				bootstrapped = true
				r.createDefaultProfile(ctx, r.state.Session)
				continue
			default:
				r.state.ProfileLoading = false
				r.state.Error = ""
				r.state.Profile = st.Data
			}
		}
		if !r.emit(ctx) {
			return
		}
	}
}

// createDefaultProfile persists a profile synthesized from the session
// identity. The live profile stream then delivers it.
func (r *run) createDefaultProfile(ctx context.Context, sv *models.SessionView) {
	first, last := utils.SplitDisplayName(sv.DisplayName)
	created, err := r.shell.bootstrap.CreateDefaultProfile(ctx, models.UserProfile{
		ID:        sv.UserID,
		Email:     sv.Email,
		FirstName: first,
		LastName:  last,
		PhotoURL:  sv.PhotoURL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create default profile", "user_id", sv.UserID, "err", err)
		return
	}
	if !created {
		slog.DebugContext(ctx, "profile appeared before bootstrap", "user_id", sv.UserID)
	}
}

// unauthenticated checks for a pending redirect sign-in before sending the
// client to the login page.
func (r *run) unauthenticated(ctx context.Context) {
	r.state = State{Status: StatusUnauthenticated}
	result, err := r.shell.sessions.GetRedirectResult(ctx, r.redirectState)
	if err != nil {
		slog.WarnContext(ctx, "failed to check redirect result", "err", err)
	}
	if result != nil {
		r.state.RedirectResult = result
		if result.Result != nil {
			// the client resumes with the session it just collected
			r.state.Status = StatusAuthenticating
			r.emit(ctx)
			return
		}
	}
	r.state.Redirect = LoginPath
	r.emit(ctx)
}
