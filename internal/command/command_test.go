package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/events"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/notify"
	"github.com/shopspring/decimal"
)

// ---- test doubles ----

type recordingNotifier struct {
	toasts chan notify.Toast
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{toasts: make(chan notify.Toast, 16)}
}

func (n *recordingNotifier) Notify(_ string, toast notify.Toast) {
	n.toasts <- toast
}

func (n *recordingNotifier) next(t *testing.T) notify.Toast {
	t.Helper()
	select {
	case toast := <-n.toasts:
		return toast
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return notify.Toast{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, stream+":"+eventType)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// countingStore counts writes that reach the store.
type countingStore struct {
	docstore.Store
	writes atomic.Int32
}

func (s *countingStore) Create(ctx context.Context, path string, data docstore.Data) error {
	s.writes.Add(1)
	return s.Store.Create(ctx, path, data)
}

func (s *countingStore) Update(ctx context.Context, path string, data docstore.Data) error {
	s.writes.Add(1)
	return s.Store.Update(ctx, path, data)
}

func (s *countingStore) Delete(ctx context.Context, path string) error {
	s.writes.Add(1)
	return s.Store.Delete(ctx, path)
}

type fixture struct {
	mem       *docstore.MemoryStore
	store     *countingStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	records   *RecordCommandService
	profiles  *ProfileCommandService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := docstore.NewMemoryStore()
	store := &countingStore{Store: mem}
	notifier := newRecordingNotifier()
	publisher := &recordingPublisher{}
	dispatcher := NewDispatcher(2, 16, nil)
	dispatcher.Start(ctx)

	return &fixture{
		mem:       mem,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		records:   NewRecordCommandService(store, publisher, notifier, dispatcher),
		profiles: NewProfileCommandService(store, notifier, dispatcher, func(email string) bool {
			return email == "owner@example.com"
		}),
	}
}

func incomeFields(amount string) map[string]any {
	return map[string]any{
		"amount":      decimal.RequireFromString(amount),
		"date":        "2024-03-01",
		"description": "Consulting",
	}
}

// ---- record commands ----

func TestCreateRecordWritesAsynchronously(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.records.CreateRecord(ctx, cqrs.CreateRecordCommand{
		Kind: models.KindIncomes, ViewerID: "alice", OwnerID: "alice", Fields: incomeFields("120.50"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(id) != 20 {
		t.Errorf("expected a 20 character id, got %q", id)
	}

	toast := f.notifier.next(t)
	if toast.Title != "Income Added" || toast.Variant != notify.VariantDefault {
		t.Errorf("unexpected toast %+v", toast)
	}

	snap, err := f.mem.Get(ctx, "users/alice/incomes/"+id)
	if err != nil || !snap.Exists {
		t.Fatalf("expected stored record, got %v (%v)", snap, err)
	}
	var rec models.IncomeRecord
	if err := snap.DataTo(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.UserID != "alice" || !rec.Amount.Equal(decimal.RequireFromString("120.5")) || rec.CreatedAt.IsZero() {
		t.Errorf("unexpected record %+v", rec)
	}
	if got := f.publisher.published(); len(got) != 1 || got[0] != "records.events:record.created" {
		t.Errorf("unexpected events %v", got)
	}
}

func TestCreateRecordIgnoresReservedFields(t *testing.T) {
	f := newFixture(t)
	fields := incomeFields("10")
	fields["userId"] = "mallory"

	id, err := f.records.CreateRecord(context.Background(), cqrs.CreateRecordCommand{
		Kind: models.KindIncomes, ViewerID: "alice", OwnerID: "alice", RecordID: "fixedid0000000000001", Fields: fields,
	})
	if err != nil || id != "fixedid0000000000001" {
		t.Fatalf("create = %q, %v", id, err)
	}
	f.notifier.next(t)

	snap, _ := f.mem.Get(context.Background(), "users/alice/incomes/"+id)
	owner, _ := snap.Field("userId")
	if owner != "alice" {
		t.Errorf("owner overwritten: %v", owner)
	}
}

func TestMutationGate(t *testing.T) {
	tests := []struct {
		name      string
		viewerID  string
		wantErr   error
		wantTitle string
	}{
		{name: "non owner", viewerID: "alice", wantErr: ErrForbidden, wantTitle: "Permission Denied"},
		{name: "anonymous request", viewerID: "", wantErr: ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			path := "users/bea/expenses/e1"
			_ = f.mem.Create(ctx, path, docstore.Data{"userId": "bea", "amount": "40", "date": "2024-03-01", "description": "Fuel"})

			err := f.records.DeleteRecord(ctx, cqrs.DeleteRecordCommand{
				Kind: models.KindExpenses, ViewerID: tt.viewerID, OwnerID: "bea", RecordID: "e1",
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if f.store.writes.Load() != 0 {
				t.Fatalf("gate let %d writes reach the store", f.store.writes.Load())
			}
			snap, _ := f.mem.Get(ctx, path)
			if !snap.Exists {
				t.Fatal("record was deleted")
			}
			if tt.wantTitle != "" {
				toast := f.notifier.next(t)
				if toast.Title != tt.wantTitle || toast.Variant != notify.VariantDestructive {
					t.Errorf("unexpected toast %+v", toast)
				}
				if !strings.Contains(err.Error(), PermissionDeniedMessage) {
					t.Errorf("expected permission message, got %q", err.Error())
				}
			}
		})
	}
}

func TestUpdateAndCreateIntoOtherNamespaceBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.records.CreateRecord(ctx, cqrs.CreateRecordCommand{
		Kind: models.KindIncomes, ViewerID: "alice", OwnerID: "bea", Fields: incomeFields("1"),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("create: expected ErrForbidden, got %v", err)
	}
	err = f.records.UpdateRecord(ctx, cqrs.UpdateRecordCommand{
		Kind: models.KindIncomes, ViewerID: "alice", OwnerID: "bea", RecordID: "x", Fields: incomeFields("1"),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("update: expected ErrForbidden, got %v", err)
	}
	if f.store.writes.Load() != 0 {
		t.Fatal("blocked mutations reached the store")
	}
}

func TestUnchangedEditStillUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.mem.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	})

	id, _ := f.records.CreateRecord(ctx, cqrs.CreateRecordCommand{
		Kind: models.KindIncomes, ViewerID: "alice", OwnerID: "alice", Fields: incomeFields("75"),
	})
	f.notifier.next(t)
	before, _ := f.mem.Get(ctx, "users/alice/incomes/"+id)

	err := f.records.UpdateRecord(ctx, cqrs.UpdateRecordCommand{
		Kind: models.KindIncomes, ViewerID: "alice", OwnerID: "alice", RecordID: id, Fields: incomeFields("75"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if toast := f.notifier.next(t); toast.Title != "Income Updated" {
		t.Fatalf("unexpected toast %+v", toast)
	}
	after, _ := f.mem.Get(ctx, "users/alice/incomes/"+id)

	var a, b models.IncomeRecord
	_ = before.DataTo(&a)
	_ = after.DataTo(&b)
	if !b.UpdatedAt.After(a.UpdatedAt) {
		t.Errorf("expected updatedAt to advance: %s -> %s", a.UpdatedAt, b.UpdatedAt)
	}
	b.UpdatedAt = a.UpdatedAt
	if a.Description != b.Description || !a.Amount.Equal(b.Amount) || a.Date != b.Date || !a.CreatedAt.Equal(b.CreatedAt) {
		t.Errorf("content changed: %+v vs %+v", a, b)
	}
	if f.store.writes.Load() != 2 {
		t.Errorf("expected create and update calls, got %d writes", f.store.writes.Load())
	}
}

func TestFailedWriteNotifiesViewer(t *testing.T) {
	f := newFixture(t)
	err := f.records.UpdateRecord(context.Background(), cqrs.UpdateRecordCommand{
		Kind: models.KindAppointments, ViewerID: "alice", OwnerID: "alice", RecordID: "missing", Fields: map[string]any{"title": "x"},
	})
	if err != nil {
		t.Fatalf("update should be accepted, got %v", err)
	}
	toast := f.notifier.next(t)
	if toast.Title != "Error" || toast.Variant != notify.VariantDestructive {
		t.Errorf("unexpected toast %+v", toast)
	}
	if len(f.publisher.published()) != 0 {
		t.Error("failed writes must not publish events")
	}
}

func TestUnknownKind(t *testing.T) {
	f := newFixture(t)
	err := f.records.DeleteRecord(context.Background(), cqrs.DeleteRecordCommand{
		Kind: "invoices", ViewerID: "alice", OwnerID: "alice", RecordID: "x",
	})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(1, 1, nil)
	// not started: the single queue slot fills up
	if err := d.Submit(context.Background(), "a", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := d.Submit(context.Background(), "b", func(context.Context) error { return nil }, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(1, 4, nil)
	d.Start(ctx)

	reqCtx, reqCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	_ = d.Submit(reqCtx, "job", func(ctx context.Context) error { return ctx.Err() }, func(err error) { done <- err })
	reqCancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("job saw caller cancellation: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

// ---- profile commands ----

func TestCreateDefaultProfileOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := models.UserProfile{ID: "u1", Email: "owner@example.com", FirstName: "Olive", LastName: "Owner"}

	created, err := f.profiles.CreateDefaultProfile(ctx, p)
	if err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}
	created, err = f.profiles.CreateDefaultProfile(ctx, p)
	if err != nil || created {
		t.Fatalf("second create = %v, %v", created, err)
	}

	snap, _ := f.mem.Get(ctx, "users/u1")
	var got models.UserProfile
	_ = snap.DataTo(&got)
	if got.Role != models.RoleAdmin || got.FirstName != "Olive" || got.ID != "u1" {
		t.Errorf("unexpected profile %+v", got)
	}
}

func TestUpdateProfileMergesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.mem.Create(ctx, "users/u1", docstore.Data{"email": "a@example.com", "role": "admin", "firstName": "Old"})

	photo := "data:image/png;base64,AAAA"
	err := f.profiles.UpdateProfile(ctx, cqrs.UpdateProfileCommand{
		UserID: "u1", FirstName: "New", LastName: "Name", CompanyName: "Acme", PhotoURL: &photo,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if toast := f.notifier.next(t); toast.Title != "Profile Updated" {
		t.Fatalf("unexpected toast %+v", toast)
	}

	snap, _ := f.mem.Get(ctx, "users/u1")
	var got models.UserProfile
	_ = snap.DataTo(&got)
	if got.FirstName != "New" || got.CompanyName != "Acme" || got.PhotoURL != photo {
		t.Errorf("fields not merged: %+v", got)
	}
	if got.Role != models.RoleAdmin || got.Email != "a@example.com" {
		t.Errorf("existing fields lost: %+v", got)
	}
	if _, ok := snap.Field("createdAt"); ok {
		t.Error("createdAt must only be written for new profiles")
	}
}

func TestUpdateProfileCreatesMissingProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.profiles.UpdateProfile(ctx, cqrs.UpdateProfileCommand{UserID: "u2", Email: "b@example.com", FirstName: "Bo"})
	f.notifier.next(t)

	snap, _ := f.mem.Get(ctx, "users/u2")
	if _, ok := snap.Field("createdAt"); !ok {
		t.Error("expected createdAt on a new profile")
	}
	if email, _ := snap.Field("email"); email != "b@example.com" {
		t.Errorf("email = %v", email)
	}
}

func TestMergeSignUpProfileSetsRoleAndCreatedAt(t *testing.T) {
	tests := []struct {
		name         string
		email        string
		expectedRole string
	}{
		{name: "listed admin email", email: "owner@example.com", expectedRole: models.RoleAdmin},
		{name: "regular email", email: "staff@example.com", expectedRole: models.RoleEmployee},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			err := f.profiles.MergeSignUpProfile(ctx, "u1", cqrs.SignUpCommand{Email: tt.email, FirstName: "Olive"})
			if err != nil {
				t.Fatalf("merge: %v", err)
			}

			snap, _ := f.mem.Get(ctx, "users/u1")
			var got models.UserProfile
			_ = snap.DataTo(&got)
			if got.Role != tt.expectedRole {
				t.Errorf("expected role %q, got %q", tt.expectedRole, got.Role)
			}
			if got.CreatedAt.IsZero() {
				t.Error("expected createdAt to be set")
			}

			created, err := f.profiles.CreateDefaultProfile(ctx, models.UserProfile{ID: "u1", Email: tt.email})
			if err != nil || created {
				t.Errorf("bootstrap after sign-up = %v, %v", created, err)
			}
		})
	}
}

// ---- ledger projection ----

type fakeRefresher struct {
	refreshed []string
}

func (f *fakeRefresher) Refresh(_ context.Context, userID string) (*models.LedgerSummaryView, error) {
	f.refreshed = append(f.refreshed, userID)
	return &models.LedgerSummaryView{UserID: userID}, nil
}

func TestLedgerProjection(t *testing.T) {
	tests := []struct {
		name          string
		event         events.Event
		wantRefresh   bool
		unprocessable bool
	}{
		{
			name:        "income created",
			event:       events.Event{Type: events.RecordCreated, Data: events.RecordEvent{Kind: "incomes", OwnerID: "u1", RecordID: "r"}},
			wantRefresh: true,
		},
		{
			name:        "expense deleted",
			event:       events.Event{Type: events.RecordDeleted, Data: events.RecordEvent{Kind: "expenses", OwnerID: "u1", RecordID: "r"}},
			wantRefresh: true,
		},
		{
			name:  "appointment ignored",
			event: events.Event{Type: events.RecordCreated, Data: events.RecordEvent{Kind: "appointments", OwnerID: "u1", RecordID: "r"}},
		},
		{
			name:  "unknown type ignored",
			event: events.Event{Type: "other", Data: map[string]any{}},
		},
		{
			name:          "payload of the wrong shape",
			event:         events.Event{Type: events.RecordCreated, Data: "not an object"},
			unprocessable: true,
		},
		{
			name:          "missing owner",
			event:         events.Event{Type: events.RecordUpdated, Data: events.RecordEvent{Kind: "incomes", RecordID: "r"}},
			unprocessable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRefresher{}
			err := NewLedgerProjection(r).HandleRecordEvent(context.Background(), tt.event)
			if tt.unprocessable {
				if !errors.Is(err, events.ErrUnprocessable) {
					t.Fatalf("expected unprocessable, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if got := len(r.refreshed) == 1; got != tt.wantRefresh {
				t.Errorf("refreshed = %v, want %v", r.refreshed, tt.wantRefresh)
			}
		})
	}
}
