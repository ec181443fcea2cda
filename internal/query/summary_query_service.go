package query

import (
	"context"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/models"
)

// SummaryReader is satisfied by repository.SummaryReadRepository.
type SummaryReader interface {
	GetByUserID(ctx context.Context, userID string) (*models.LedgerSummaryView, error)
}

// SummaryQueryService serves the owner-only ledger summary read model.
type SummaryQueryService struct {
	readRepo SummaryReader
}

func NewSummaryQueryService(readRepo SummaryReader) *SummaryQueryService {
	return &SummaryQueryService{readRepo: readRepo}
}

func (s *SummaryQueryService) GetSummary(ctx context.Context, q cqrs.SummaryQuery) (*models.LedgerSummaryView, error) {
	return s.readRepo.GetByUserID(ctx, q.UserID)
}
