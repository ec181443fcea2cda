package cqrs

import "github.com/anguillanneuf/BizTrack/internal/models"

// CreateRecordCommand adds a record to OwnerID's namespace. RecordID is
// assigned by the handler before dispatch so it can be returned immediately.
type CreateRecordCommand struct {
	Kind     models.RecordKind
	ViewerID string
	OwnerID  string
	RecordID string
	Fields   map[string]any
}

type UpdateRecordCommand struct {
	Kind     models.RecordKind
	ViewerID string
	OwnerID  string
	RecordID string
	Fields   map[string]any
}

type DeleteRecordCommand struct {
	Kind     models.RecordKind
	ViewerID string
	OwnerID  string
	RecordID string
}

// UpdateProfileCommand overlays the given names on the viewer's profile.
// PhotoURL is only written when non-nil.
type UpdateProfileCommand struct {
	UserID      string
	Email       string
	FirstName   string
	LastName    string
	CompanyName string
	PhotoURL    *string
}

type SignUpCommand struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	CompanyName string
}

type LoginCommand struct {
	Email    string
	Password string
}

// FederatedLoginCommand carries either the id token returned by the popup or
// the popup failure code that triggers the redirect fallback.
type FederatedLoginCommand struct {
	IDToken    string
	PopupError string
}

type RefreshTokenCommand struct {
	Token string
}

type LogoutCommand struct {
	SessionID string
}

type ChangePasswordCommand struct {
	UserID      string
	SessionID   string
	NewPassword string
}
