package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testRecord struct {
	ID     string  `json:"id"`
	UserID string  `json:"userId"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note"`
}

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) })
	return s
}

func nextWithin[S any](t *testing.T, next func() (S, error)) S {
	t.Helper()
	type result struct {
		s   S
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := next()
		ch <- result{s, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("unexpected iterator error: %v", r.err)
		}
		return r.s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero S
	return zero
}

func TestMemoryStoreCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Create(ctx, "users/u1", Data{"email": "a@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(ctx, "users/u1", Data{"email": "b@example.com"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	snap, err := s.Get(ctx, "users/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	email, _ := snap.Field("email")
	if email != "a@example.com" {
		t.Errorf("expected original email to survive, got %v", email)
	}
}

func TestMemoryStoreGetAbsent(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Get(context.Background(), "users/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Exists {
		t.Error("expected snapshot to be absent")
	}
	if snap.ID != "missing" {
		t.Errorf("expected id from path, got %q", snap.ID)
	}
	var v testRecord
	if err := snap.DataTo(&v); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound decoding absent doc, got %v", err)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Update(ctx, "users/u1/incomes/a", Data{"note": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Create(ctx, "users/u1/incomes/a", Data{"userId": "u1", "note": "first", "amount": 10}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Update(ctx, "users/u1/incomes/a", Data{"note": "second"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap, _ := s.Get(ctx, "users/u1/incomes/a")
	var rec testRecord
	if err := snap.DataTo(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "a" || rec.Note != "second" || rec.Amount != 10 || rec.UserID != "u1" {
		t.Errorf("unexpected record after update: %+v", rec)
	}
}

func TestMemoryStoreSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	path := "users/u1"

	if err := s.Set(ctx, path, Data{"firstName": "Ada", "lastName": "Lovelace"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, path, Data{"companyName": "Engines"}, MergeAll()); err != nil {
		t.Fatalf("set merge: %v", err)
	}
	snap, _ := s.Get(ctx, path)
	if v, _ := snap.Field("firstName"); v != "Ada" {
		t.Errorf("merge should keep firstName, got %v", v)
	}
	if v, _ := snap.Field("companyName"); v != "Engines" {
		t.Errorf("merge should add companyName, got %v", v)
	}

	if err := s.Set(ctx, path, Data{"companyName": "Looms"}); err != nil {
		t.Fatalf("set overwrite: %v", err)
	}
	snap, _ = s.Get(ctx, path)
	if _, ok := snap.Field("firstName"); ok {
		t.Error("overwrite should drop fields not provided")
	}
}

func TestMemoryStoreServerTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Create(ctx, "users/u1", Data{"createdAt": ServerTimestamp}); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, _ := s.Get(ctx, "users/u1")
	v, _ := snap.Field("createdAt")
	if v != "2024-03-01T12:00:00Z" {
		t.Errorf("expected resolved timestamp, got %v", v)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.Create(ctx, "users/u1/incomes/a", Data{"note": "x"})
	if err := s.Delete(ctx, "users/u1/incomes/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "users/u1/incomes/a"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	snap, _ := s.Get(ctx, "users/u1/incomes/a")
	if snap.Exists {
		t.Error("expected document to be gone")
	}
}

func TestMemoryStoreInvalidPaths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Create(ctx, "users", Data{}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for collection path, got %v", err)
	}
	if _, err := s.Query(ctx, Query{Collection: "users/u1"}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for document path query, got %v", err)
	}
	if _, err := Add(ctx, s, "users/u1", Data{}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for Add on document path, got %v", err)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	coll := "users/u1/incomes"
	_ = s.Create(ctx, coll+"/b", Data{"date": "2024-01-02", "userId": "u1"})
	_ = s.Create(ctx, coll+"/a", Data{"date": "2024-01-03", "userId": "u1"})
	_ = s.Create(ctx, coll+"/c", Data{"date": "2024-01-01", "userId": "u2"})
	_ = s.Create(ctx, coll+"/c/nested/x", Data{"date": "2025-01-01"})
	_ = s.Create(ctx, "users/u2/incomes/z", Data{"date": "2024-01-05"})

	tests := []struct {
		name     string
		query    Query
		expected []string
	}{
		{name: "ascending", query: Query{Collection: coll, OrderBy: "date"}, expected: []string{"c", "b", "a"}},
		{name: "descending", query: Query{Collection: coll, OrderBy: "date", Direction: Desc}, expected: []string{"a", "b", "c"}},
		{name: "limit", query: Query{Collection: coll, OrderBy: "date", Direction: Desc, Limit: 2}, expected: []string{"a", "b"}},
		{name: "by id without ordering", query: Query{Collection: coll}, expected: []string{"a", "b", "c"}},
		{name: "filter", query: Query{Collection: coll, OrderBy: "date"}.Where("userId", "u1"), expected: []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			var got []string
			for _, d := range qs.Docs {
				got = append(got, d.ID)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Fatalf("expected %v, got %v", tt.expected, got)
				}
			}
		})
	}
}

func TestMemoryStoreQueryMixedTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	coll := "users/u1/notes"
	_ = s.Create(ctx, coll+"/obj", Data{"rank": map[string]any{"k": 1}})
	_ = s.Create(ctx, coll+"/arr", Data{"rank": []any{1}})
	_ = s.Create(ctx, coll+"/bool", Data{"rank": true})
	_ = s.Create(ctx, coll+"/num", Data{"rank": 7})
	_ = s.Create(ctx, coll+"/str", Data{"rank": "seven"})
	_ = s.Create(ctx, coll+"/null", Data{"rank": nil})
	_ = s.Create(ctx, coll+"/missing", Data{"other": 1})

	qs, err := s.Query(ctx, Query{Collection: coll, OrderBy: "rank"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	expected := []string{"missing", "null", "str", "num", "bool", "arr", "obj"}
	if len(qs.Docs) != len(expected) {
		t.Fatalf("expected %d docs, got %d", len(expected), len(qs.Docs))
	}
	for i, d := range qs.Docs {
		if d.ID != expected[i] {
			t.Fatalf("position %d: expected %s, got %s", i, expected[i], d.ID)
		}
	}
}

func TestAddAssignsID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := Add(ctx, s, "users/u1/expenses", Data{"amount": 5})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(id) != 20 {
		t.Errorf("expected 20 character id, got %q", id)
	}
	snap, _ := s.Get(ctx, "users/u1/expenses/"+id)
	if !snap.Exists {
		t.Error("expected added document to exist")
	}
}

func TestSubscribeQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	coll := "users/u1/appointments"
	_ = s.Create(ctx, coll+"/a", Data{"startTime": "2024-03-01T10:00:00Z"})

	it := s.SubscribeQuery(ctx, Query{Collection: coll, OrderBy: "startTime"})
	defer it.Stop()

	first := nextWithin(t, it.Next)
	if len(first.Docs) != 1 {
		t.Fatalf("expected 1 doc in initial snapshot, got %d", len(first.Docs))
	}

	_ = s.Create(ctx, coll+"/b", Data{"startTime": "2024-03-01T09:00:00Z"})
	second := nextWithin(t, it.Next)
	if len(second.Docs) != 2 || second.Docs[0].ID != "b" {
		t.Fatalf("expected b first after insert, got %d docs", len(second.Docs))
	}

	// Writes outside the collection do not wake the iterator.
	_ = s.Create(ctx, "users/u2/appointments/x", Data{})
	_ = s.Delete(ctx, coll+"/a")
	third := nextWithin(t, it.Next)
	if len(third.Docs) != 1 || third.Docs[0].ID != "b" {
		t.Fatalf("expected only b after delete, got %+v", third.Docs)
	}
}

func TestSubscribeDocumentConfirmsAbsence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := s.SubscribeDocument(ctx, "users/u1")
	defer it.Stop()

	first := nextWithin(t, it.Next)
	if first.Exists {
		t.Fatal("expected confirmed absent snapshot")
	}
	_ = s.Create(ctx, "users/u1", Data{"email": "a@example.com"})
	second := nextWithin(t, it.Next)
	if !second.Exists {
		t.Fatal("expected document after create")
	}
}

func TestIteratorStop(t *testing.T) {
	s := newTestStore(t)
	it := s.SubscribeQuery(context.Background(), Query{Collection: "users"})
	nextWithin(t, it.Next)
	if s.ActiveSubscriptions() != 1 {
		t.Fatalf("expected 1 active subscription, got %d", s.ActiveSubscriptions())
	}

	done := make(chan error, 1)
	go func() {
		_, err := it.Next()
		done <- err
	}()
	it.Stop()
	it.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrIteratorStopped) {
			t.Errorf("expected ErrIteratorStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Stop")
	}
	if s.ActiveSubscriptions() != 0 {
		t.Errorf("expected no active subscriptions, got %d", s.ActiveSubscriptions())
	}
}

func TestIteratorContextCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	it := s.SubscribeDocument(ctx, "users/u1")
	nextWithin(t, it.Next)
	cancel()
	if _, err := it.Next(); !errors.Is(err, ErrIteratorStopped) {
		t.Errorf("expected ErrIteratorStopped after cancel, got %v", err)
	}
	if s.ActiveSubscriptions() != 0 {
		t.Errorf("expected subscription to be released, got %d", s.ActiveSubscriptions())
	}
}
