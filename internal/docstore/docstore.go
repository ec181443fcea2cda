// Package docstore is a small document database facade: documents addressed
// by slash-separated paths, collection queries, live snapshot iterators and
// fire-and-forget friendly write operations.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("docstore: document not found")
	ErrAlreadyExists   = errors.New("docstore: document already exists")
	ErrInvalidPath     = errors.New("docstore: invalid path")
	ErrIteratorStopped = errors.New("docstore: iterator stopped")
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter is an equality constraint on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects the direct children of a collection.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
	Limit      int
	Filters    []Filter
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Data is the write payload of a document.
type Data = map[string]any

type setOptions struct {
	merge bool
}

type SetOption func(*setOptions)

// MergeAll overlays the given top-level fields onto an existing document.
func MergeAll() SetOption {
	return func(o *setOptions) { o.merge = true }
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock when written.
var ServerTimestamp any = serverTimestamp{}

// Store is implemented by the in-memory and Postgres backends.
type Store interface {
	// Get returns a snapshot with Exists=false when the document is absent.
	Get(ctx context.Context, path string) (*DocumentSnapshot, error)
	Query(ctx context.Context, q Query) (*QuerySnapshot, error)

	// SubscribeQuery and SubscribeDocument return iterators that yield the
	// current result first and then one snapshot per observed change.
	SubscribeQuery(ctx context.Context, q Query) *QueryIterator
	SubscribeDocument(ctx context.Context, path string) *DocumentIterator

	Create(ctx context.Context, path string, data Data) error
	Set(ctx context.Context, path string, data Data, opts ...SetOption) error
	Update(ctx context.Context, path string, data Data) error
	Delete(ctx context.Context, path string) error

	Ping(ctx context.Context) error
	Close() error
}

// Add creates a document with a generated id under collection and returns the id.
func Add(ctx context.Context, s Store, collection string, data Data) (string, error) {
	if !IsCollectionPath(collection) {
		return "", ErrInvalidPath
	}
	id := NewID()
	if err := s.Create(ctx, Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}
