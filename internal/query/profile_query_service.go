package query

import (
	"context"
	"fmt"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/live"
	"github.com/anguillanneuf/BizTrack/internal/models"
)

// ProfileQueryService reads users/{uid} documents and the account directory.
type ProfileQueryService struct {
	store docstore.Store
}

func NewProfileQueryService(store docstore.Store) *ProfileQueryService {
	return &ProfileQueryService{store: store}
}

// GetProfile returns docstore.ErrNotFound when the profile does not exist yet.
func (s *ProfileQueryService) GetProfile(ctx context.Context, q cqrs.GetProfileQuery) (*models.UserProfile, error) {
	snap, err := s.store.Get(ctx, docstore.Join(models.UsersCollection, q.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !snap.Exists {
		return nil, docstore.ErrNotFound
	}
	var p models.UserProfile
	if err := snap.DataTo(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns the account directory ordered by id.
func (s *ProfileQueryService) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	qs, err := s.store.Query(ctx, docstore.Query{Collection: models.UsersCollection})
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return docstore.DecodeAll[models.UserProfile](qs)
}

// WatchProfile streams the viewer's profile; Data is nil while it is absent.
func (s *ProfileQueryService) WatchProfile(ctx context.Context, userID string) <-chan live.State[*models.UserProfile] {
	return live.Document[models.UserProfile](ctx, s.store, docstore.Join(models.UsersCollection, userID))
}
