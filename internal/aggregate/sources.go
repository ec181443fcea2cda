package aggregate

import (
	"context"

	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/live"
	"github.com/anguillanneuf/BizTrack/internal/models"
)

// StoreDirectory opens the users collection as the account directory.
func StoreDirectory(store docstore.Store) DirectoryOpener {
	return func(ctx context.Context) <-chan live.State[[]models.UserProfile] {
		return live.Collection[models.UserProfile](ctx, store, docstore.Query{Collection: models.UsersCollection})
	}
}

// StoreRecords opens an owner's collection of the given kind in its natural order.
func StoreRecords[T Record](store docstore.Store, kind models.RecordKind) Opener[T] {
	return func(ctx context.Context, ownerID string) <-chan live.State[[]T] {
		return live.Collection[T](ctx, store, KindQuery(kind, ownerID))
	}
}

// KindQuery is the ordered query over one owner's records of a kind.
func KindQuery(kind models.RecordKind, ownerID string) docstore.Query {
	q := docstore.Query{Collection: kind.Collection(ownerID), OrderBy: kind.OrderField()}
	if kind.Descending() {
		q.Direction = docstore.Desc
	}
	return q
}

// IncomeOrder puts the newest date first.
func IncomeOrder(a, b models.IncomeRecord) bool { return a.Date > b.Date }

func ExpenseOrder(a, b models.ExpenseRecord) bool { return a.Date > b.Date }

func AppointmentOrder(a, b models.Appointment) bool { return a.StartTime.Before(b.StartTime) }
