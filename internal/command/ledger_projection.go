package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anguillanneuf/BizTrack/internal/events"
	"github.com/anguillanneuf/BizTrack/internal/models"
)

// SummaryRefresher recomputes and caches one owner's ledger summary.
type SummaryRefresher interface {
	Refresh(ctx context.Context, userID string) (*models.LedgerSummaryView, error)
}

// LedgerProjection keeps the ledger summary read model current from record
// events.
type LedgerProjection struct {
	summaries SummaryRefresher
}

func NewLedgerProjection(summaries SummaryRefresher) *LedgerProjection {
	return &LedgerProjection{summaries: summaries}
}

// HandleRecordEvent is the event subscriber handler. Malformed payloads are
// reported unprocessable so they are not retried.
func (p *LedgerProjection) HandleRecordEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.RecordCreated, events.RecordUpdated, events.RecordDeleted:
	default:
		return nil
	}
	data, err := events.DecodeData[events.RecordEvent](event)
	if err != nil {
		return err
	}
	if data.OwnerID == "" {
		return events.Unprocessable(fmt.Errorf("%s event without owner", event.Type))
	}
	kind := models.RecordKind(data.Kind)
	if kind != models.KindIncomes && kind != models.KindExpenses {
		return nil
	}
	view, err := p.summaries.Refresh(ctx, data.OwnerID)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "ledger summary refreshed", "user_id", data.OwnerID, "event", event.Type, "net_profit", view.NetProfit.String())
	return nil
}
