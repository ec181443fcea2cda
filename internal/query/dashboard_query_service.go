package query

import (
	"context"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/aggregate"
	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/shopspring/decimal"
)

// UpcomingLimit is the number of upcoming appointments on the dashboard.
const UpcomingLimit = 3

// DashboardQueryService derives the dashboard from the merged income, expense
// and appointment views.
type DashboardQueryService struct {
	incomes      *RecordQueryService[models.IncomeRecord]
	expenses     *RecordQueryService[models.ExpenseRecord]
	appointments *RecordQueryService[models.Appointment]
	now          func() time.Time
}

func NewDashboardQueryService(
	incomes *RecordQueryService[models.IncomeRecord],
	expenses *RecordQueryService[models.ExpenseRecord],
	appointments *RecordQueryService[models.Appointment],
) *DashboardQueryService {
	return &DashboardQueryService{
		incomes:      incomes,
		expenses:     expenses,
		appointments: appointments,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type dashboardSources struct {
	incomes      aggregate.View[models.IncomeRecord]
	expenses     aggregate.View[models.ExpenseRecord]
	appointments aggregate.View[models.Appointment]
}

func (d dashboardSources) state(now time.Time) LiveView[*models.DashboardView] {
	st := LiveView[*models.DashboardView]{
		IsLoading: d.incomes.IsLoading || d.expenses.IsLoading || d.appointments.IsLoading,
	}
	for _, err := range []error{d.incomes.Err, d.expenses.Err, d.appointments.Err} {
		if err != nil {
			st.Error = err.Error()
			break
		}
	}
	st.Data = BuildDashboard(d.incomes.Items, d.expenses.Items, d.appointments.Items, now)
	return st
}

// Get waits for every source to settle and builds the dashboard as of q.Now.
func (s *DashboardQueryService) Get(ctx context.Context, q cqrs.DashboardQuery) (*models.DashboardView, error) {
	now := q.Now
	if now.IsZero() {
		now = s.now()
	}
	incomes, err := s.incomes.List(ctx, cqrs.ListRecordsQuery{Kind: models.KindIncomes, ViewerID: q.ViewerID})
	if err != nil {
		return nil, err
	}
	expenses, err := s.expenses.List(ctx, cqrs.ListRecordsQuery{Kind: models.KindExpenses, ViewerID: q.ViewerID})
	if err != nil {
		return nil, err
	}
	appointments, err := s.appointments.List(ctx, cqrs.ListRecordsQuery{Kind: models.KindAppointments, ViewerID: q.ViewerID})
	if err != nil {
		return nil, err
	}
	return BuildDashboard(incomes, expenses, appointments, now), nil
}

// Watch recomputes the dashboard on every change of any source view, and
// again whenever the earliest upcoming appointment starts.
func (s *DashboardQueryService) Watch(ctx context.Context, viewerID string) <-chan LiveView[*models.DashboardView] {
	out := make(chan LiveView[*models.DashboardView], 1)
	incomes := s.incomes.Watch(ctx, viewerID)
	expenses := s.expenses.Watch(ctx, viewerID)
	appointments := s.appointments.Watch(ctx, viewerID)

	go func() {
		defer close(out)
		src := dashboardSources{
			incomes:      aggregate.View[models.IncomeRecord]{IsLoading: true},
			expenses:     aggregate.View[models.ExpenseRecord]{IsLoading: true},
			appointments: aggregate.View[models.Appointment]{IsLoading: true},
		}
		var boundary *time.Timer
		var starts <-chan time.Time
		defer func() {
			if boundary != nil {
				boundary.Stop()
			}
		}()

		for incomes != nil || expenses != nil || appointments != nil {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-incomes:
				if !ok {
					incomes = nil
					continue
				}
				src.incomes = v
			case v, ok := <-expenses:
				if !ok {
					expenses = nil
					continue
				}
				src.expenses = v
			case v, ok := <-appointments:
				if !ok {
					appointments = nil
					continue
				}
				src.appointments = v
			case <-starts:
			}

			now := s.now()
			select {
			case <-out:
			default:
			}
			out <- src.state(now)

			if boundary != nil {
				boundary.Stop()
			}
			starts = nil
			if next, ok := nextStart(src.appointments.Items, now); ok {
				boundary = time.NewTimer(next.Sub(now))
				starts = boundary.C
			}
		}
	}()
	return out
}

// nextStart returns the earliest appointment start after now.
func nextStart(appointments []aggregate.Item[models.Appointment], now time.Time) (time.Time, bool) {
	for _, it := range appointments {
		if it.Record.StartTime.After(now) {
			return it.Record.StartTime, true
		}
	}
	return time.Time{}, false
}

// BuildDashboard totals the merged views and picks the next appointments
// starting after now.
func BuildDashboard(
	incomes []aggregate.Item[models.IncomeRecord],
	expenses []aggregate.Item[models.ExpenseRecord],
	appointments []aggregate.Item[models.Appointment],
	now time.Time,
) *models.DashboardView {
	view := &models.DashboardView{
		TotalIncome:          decimal.Zero,
		TotalExpenses:        decimal.Zero,
		UpcomingAppointments: []models.Appointment{},
	}
	for _, it := range incomes {
		view.TotalIncome = view.TotalIncome.Add(it.Record.Amount)
	}
	for _, it := range expenses {
		view.TotalExpenses = view.TotalExpenses.Add(it.Record.Amount)
	}
	view.NetProfit = view.TotalIncome.Sub(view.TotalExpenses)
	view.Chart = []models.ChartPoint{
		{Name: "Income", Value: view.TotalIncome},
		{Name: "Expenses", Value: view.TotalExpenses},
	}

	// appointments arrive ordered by start time
	for _, it := range appointments {
		if len(view.UpcomingAppointments) == UpcomingLimit {
			break
		}
		if it.Record.StartTime.After(now) {
			view.UpcomingAppointments = append(view.UpcomingAppointments, it.Record)
		}
	}
	return view
}
