package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/live"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/query"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// MaxPhotoSize bounds uploaded profile pictures.
const MaxPhotoSize = 2 << 20

// ProfileCommander defines the write-side operations used by ProfileHandler.
type ProfileCommander interface {
	UpdateProfile(context.Context, cqrs.UpdateProfileCommand) error
}

// ProfileQuerier defines the read-side operations used by ProfileHandler.
type ProfileQuerier interface {
	GetProfile(context.Context, cqrs.GetProfileQuery) (*models.UserProfile, error)
	ListProfiles(context.Context) ([]models.UserProfile, error)
	WatchProfile(ctx context.Context, userID string) <-chan live.State[*models.UserProfile]
}

type ProfileHandler struct {
	commands ProfileCommander
	queries  ProfileQuerier
}

// UpdateProfileRequest is also bound from multipart forms, where the picture
// arrives as the "photo" file part.
type UpdateProfileRequest struct {
	FirstName   string  `json:"firstName" form:"firstName" validate:"max=100"`
	LastName    string  `json:"lastName" form:"lastName" validate:"max=100"`
	CompanyName string  `json:"companyName" form:"companyName" validate:"max=200"`
	PhotoURL    *string `json:"photoURL" form:"-" validate:"omitempty,max=2800000"`
}

type ListProfilesResponse struct {
	Profiles []models.UserProfile `json:"profiles"`
}

func NewProfileHandler(commands ProfileCommander, queries ProfileQuerier) *ProfileHandler {
	return &ProfileHandler{commands: commands, queries: queries}
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	profile, err := h.queries.GetProfile(c.Request.Context(), cqrs.GetProfileQuery{UserID: userID})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Profile not found")
			return
		}
		respondCommandError(c, err, "Failed to load profile")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	profiles, err := h.queries.ListProfiles(c.Request.Context())
	if err != nil {
		respondCommandError(c, err, "Failed to load profiles")
		return
	}
	c.JSON(http.StatusOK, ListProfilesResponse{Profiles: profiles})
}

// WatchProfile streams the viewer's profile as "profile" events.
func (h *ProfileHandler) WatchProfile(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	streamLive(c, "profile", h.queries.WatchProfile(ctx, userID), func(s live.State[*models.UserProfile]) query.LiveView[*models.UserProfile] {
		return query.LiveView[*models.UserProfile]{Data: s.Data, IsLoading: s.IsLoading, Error: errString(s.Err)}
	})
}

// UpdateProfile accepts JSON or a multipart form with an optional picture.
// The picture is stored inline as a data URL.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req UpdateProfileRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		photo, status, msg := readPhoto(c)
		if status != 0 {
			middleware.RespondWithError(c, status, msg)
			return
		}
		if photo != "" {
			req.PhotoURL = &photo
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	err := h.commands.UpdateProfile(c.Request.Context(), cqrs.UpdateProfileCommand{
		UserID:      principal.UserID,
		Email:       principal.Email,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		CompanyName: strings.TrimSpace(req.CompanyName),
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		respondCommandError(c, err, "Could not update profile.")
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{ID: principal.UserID, Message: "Profile is being saved"})
}

// readPhoto returns the uploaded picture as a data URL, or "" when none was
// sent. A non-zero status reports a rejected upload.
func readPhoto(c *gin.Context) (string, int, string) {
	fh, err := c.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return "", 0, ""
	}
	if err != nil {
		return "", http.StatusBadRequest, "Invalid request body"
	}
	if fh.Size > MaxPhotoSize {
		return "", http.StatusBadRequest, "Image size should be less than 2MB."
	}
	f, err := fh.Open()
	if err != nil {
		return "", http.StatusBadRequest, "Invalid request body"
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, MaxPhotoSize+1))
	if err != nil {
		return "", http.StatusBadRequest, "Invalid request body"
	}
	if len(raw) > MaxPhotoSize {
		return "", http.StatusBadRequest, "Image size should be less than 2MB."
	}
	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", http.StatusBadRequest, "Please upload an image file."
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(raw), 0, ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
