package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/notify"
)

// ProfileCommandService writes users/{uid} documents. Profiles are never
// deleted.
type ProfileCommandService struct {
	store      docstore.Store
	notifier   notify.Notifier
	dispatcher *Dispatcher
	isAdmin    func(email string) bool
}

// NewProfileCommandService builds the service. isAdmin decides the role of
// bootstrapped profiles; nil means nobody is an admin by default.
func NewProfileCommandService(
	store docstore.Store,
	notifier notify.Notifier,
	dispatcher *Dispatcher,
	isAdmin func(email string) bool,
) *ProfileCommandService {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &ProfileCommandService{
		store:      store,
		notifier:   notifier,
		dispatcher: dispatcher,
		isAdmin:    isAdmin,
	}
}

func profilePath(userID string) string {
	return docstore.Join(models.UsersCollection, userID)
}

// UpdateProfile overlays the edited fields asynchronously. createdAt is only
// written when the profile did not exist yet.
func (s *ProfileCommandService) UpdateProfile(ctx context.Context, cmd cqrs.UpdateProfileCommand) error {
	if cmd.UserID == "" {
		return ErrUnauthenticated
	}
	data := docstore.Data{
		"firstName":   cmd.FirstName,
		"lastName":    cmd.LastName,
		"companyName": cmd.CompanyName,
		"updatedAt":   docstore.ServerTimestamp,
	}
	if cmd.PhotoURL != nil {
		data["photoURL"] = *cmd.PhotoURL
	}
	path := profilePath(cmd.UserID)

	return s.dispatcher.Submit(ctx, "profile.update", func(ctx context.Context) error {
		snap, err := s.store.Get(ctx, path)
		if err != nil {
			return err
		}
		if !snap.Exists {
			data["createdAt"] = docstore.ServerTimestamp
			data["email"] = cmd.Email
		}
		return s.store.Set(ctx, path, data, docstore.MergeAll())
	}, func(err error) {
		if err != nil {
			s.notifier.Notify(cmd.UserID, notify.Failure("Update Failed", "Could not update profile."))
			return
		}
		s.notifier.Notify(cmd.UserID, notify.Success("Profile Updated", "Your profile information has been saved."))
	})
}

// CreateDefaultProfile persists p with create semantics. It reports false
// when a profile already exists, which is not an error.
func (s *ProfileCommandService) CreateDefaultProfile(ctx context.Context, p models.UserProfile) (bool, error) {
	role := s.roleFor(p.Email)
	data := docstore.Data{
		"email":     p.Email,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"role":      role,
		"createdAt": docstore.ServerTimestamp,
		"updatedAt": docstore.ServerTimestamp,
	}
	if p.PhotoURL != "" {
		data["photoURL"] = p.PhotoURL
	}
	err := s.store.Create(ctx, profilePath(p.ID), data)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create profile: %w", err)
	}
	slog.InfoContext(ctx, "default profile created", "user_id", p.ID, "role", role)
	return true, nil
}

// MergeSignUpProfile writes the profile of a freshly registered account,
// role and createdAt included.
func (s *ProfileCommandService) MergeSignUpProfile(ctx context.Context, userID string, cmd cqrs.SignUpCommand) error {
	data := docstore.Data{
		"email":       cmd.Email,
		"firstName":   cmd.FirstName,
		"lastName":    cmd.LastName,
		"companyName": cmd.CompanyName,
		"role":        s.roleFor(cmd.Email),
		"createdAt":   docstore.ServerTimestamp,
		"updatedAt":   docstore.ServerTimestamp,
	}
	if err := s.store.Set(ctx, profilePath(userID), data, docstore.MergeAll()); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *ProfileCommandService) roleFor(email string) string {
	if s.isAdmin(email) {
		return models.RoleAdmin
	}
	return models.RoleEmployee
}
