package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/models"
	sharedredis "github.com/anguillanneuf/BizTrack/internal/redis"
	"github.com/shopspring/decimal"
)

const summaryViewKeyPrefix = "summary:view:"

// SummaryReadRepository serves the per-owner ledger summary. It reads the
// Redis view cache first and falls back to summing the owner's documents.
type SummaryReadRepository struct {
	store docstore.Store
	cache *sharedredis.ViewCache[models.LedgerSummaryView]
}

// NewSummaryReadRepository builds the repository; cache may be nil when no
// Redis is configured, in which case every read is computed.
func NewSummaryReadRepository(store docstore.Store, cache *sharedredis.ViewCache[models.LedgerSummaryView]) *SummaryReadRepository {
	return &SummaryReadRepository{store: store, cache: cache}
}

// NewSummaryViewCache binds a ViewCache to the summary key space.
func NewSummaryViewCache(client *sharedredis.Client) *sharedredis.ViewCache[models.LedgerSummaryView] {
	return sharedredis.NewViewCache[models.LedgerSummaryView](client.Client, summaryViewKeyPrefix, 0)
}

func (r *SummaryReadRepository) GetByUserID(ctx context.Context, userID string) (*models.LedgerSummaryView, error) {
	if r.cache != nil {
		if view, ok := r.cache.Get(ctx, userID); ok {
			return view, nil
		}
	}
	return r.Refresh(ctx, userID)
}

// Refresh recomputes the summary from the store and warms the cache.
func (r *SummaryReadRepository) Refresh(ctx context.Context, userID string) (*models.LedgerSummaryView, error) {
	incomes, err := queryAll[models.IncomeRecord](ctx, r.store, models.KindIncomes.Collection(userID))
	if err != nil {
		return nil, err
	}
	expenses, err := queryAll[models.ExpenseRecord](ctx, r.store, models.KindExpenses.Collection(userID))
	if err != nil {
		return nil, err
	}
	view := Summarize(userID, incomes, expenses, time.Now().UTC())
	if r.cache != nil {
		r.cache.Set(ctx, userID, view)
	}
	return view, nil
}

func queryAll[T any](ctx context.Context, store docstore.Store, collection string) ([]T, error) {
	qs, err := store.Query(ctx, docstore.Query{Collection: collection})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return docstore.DecodeAll[T](qs)
}

// Summarize totals one owner's records.
func Summarize(userID string, incomes []models.IncomeRecord, expenses []models.ExpenseRecord, now time.Time) *models.LedgerSummaryView {
	view := &models.LedgerSummaryView{
		UserID:        userID,
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		IncomeCount:   len(incomes),
		ExpenseCount:  len(expenses),
		UpdatedAt:     now,
	}
	for _, in := range incomes {
		view.TotalIncome = view.TotalIncome.Add(in.Amount)
	}
	for _, ex := range expenses {
		view.TotalExpenses = view.TotalExpenses.Add(ex.Amount)
	}
	view.NetProfit = view.TotalIncome.Sub(view.TotalExpenses)
	return view
}
