package query

import (
	"context"
	"fmt"

	"github.com/anguillanneuf/BizTrack/internal/aggregate"
	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/live"
	"github.com/anguillanneuf/BizTrack/internal/models"
)

// LiveView is the {data, isLoading, error} triple served to clients.
type LiveView[T any] struct {
	Data      T      `json:"data"`
	IsLoading bool   `json:"isLoading"`
	Error     string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// FromView converts an aggregate view for serving.
func FromView[T aggregate.Record](v aggregate.View[T]) LiveView[[]aggregate.Item[T]] {
	items := v.Items
	if items == nil {
		items = []aggregate.Item[T]{}
	}
	return LiveView[[]aggregate.Item[T]]{Data: items, IsLoading: v.IsLoading, Error: errString(v.Err)}
}

// RecordQueryService serves the merged view of one record kind: the viewer's
// own records plus the records of every admin account.
type RecordQueryService[T aggregate.Record] struct {
	kind      models.RecordKind
	directory aggregate.DirectoryOpener
	open      aggregate.Opener[T]
	less      func(a, b T) bool
}

func newRecordQueryService[T aggregate.Record](store docstore.Store, kind models.RecordKind, less func(a, b T) bool) *RecordQueryService[T] {
	return &RecordQueryService[T]{
		kind:      kind,
		directory: aggregate.StoreDirectory(store),
		open:      aggregate.StoreRecords[T](store, kind),
		less:      less,
	}
}

func NewIncomeQueryService(store docstore.Store) *RecordQueryService[models.IncomeRecord] {
	return newRecordQueryService(store, models.KindIncomes, aggregate.IncomeOrder)
}

func NewExpenseQueryService(store docstore.Store) *RecordQueryService[models.ExpenseRecord] {
	return newRecordQueryService(store, models.KindExpenses, aggregate.ExpenseOrder)
}

func NewAppointmentQueryService(store docstore.Store) *RecordQueryService[models.Appointment] {
	return newRecordQueryService(store, models.KindAppointments, aggregate.AppointmentOrder)
}

func (s *RecordQueryService[T]) Kind() models.RecordKind {
	return s.kind
}

// Watch streams the merged view until ctx ends.
func (s *RecordQueryService[T]) Watch(ctx context.Context, viewerID string) <-chan aggregate.View[T] {
	return aggregate.Watch(ctx, aggregate.Config[T]{
		ViewerID:  viewerID,
		Directory: s.directory,
		Open:      s.open,
		Less:      s.less,
	})
}

// List returns the first settled merged view.
func (s *RecordQueryService[T]) List(ctx context.Context, q cqrs.ListRecordsQuery) ([]aggregate.Item[T], error) {
	if q.Kind != "" && q.Kind != s.kind {
		return nil, fmt.Errorf("query for %s sent to %s service", q.Kind, s.kind)
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	v, err := live.Settled(wctx, s.Watch(wctx, q.ViewerID), func(v aggregate.View[T]) bool { return v.IsLoading })
	if err != nil {
		return nil, err
	}
	if v.Err != nil {
		return nil, v.Err
	}
	if v.Items == nil {
		return []aggregate.Item[T]{}, nil
	}
	return v.Items, nil
}
