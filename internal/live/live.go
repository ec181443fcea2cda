// Package live turns docstore subscriptions into streams of
// {data, isLoading, error} states.
package live

import (
	"context"
	"errors"

	"github.com/anguillanneuf/BizTrack/internal/docstore"
)

// State is one observation of a live query or document.
type State[T any] struct {
	Data      T
	IsLoading bool
	Err       error
}

// Loading is the state every stream starts in.
func Loading[T any]() State[T] {
	return State[T]{IsLoading: true}
}

// Collection streams decoded query results. The first value is a loading
// state; the channel closes after an error or when ctx ends, and the
// underlying subscription is stopped exactly once.
func Collection[T any](ctx context.Context, store docstore.Store, q docstore.Query) <-chan State[[]T] {
	out := make(chan State[[]T], 1)
	it := store.SubscribeQuery(ctx, q)
	go func() {
		defer close(out)
		defer it.Stop()
		if !send(ctx, out, Loading[[]T]()) {
			return
		}
		for {
			qs, err := it.Next()
			if errors.Is(err, docstore.ErrIteratorStopped) {
				return
			}
			if err != nil {
				send(ctx, out, State[[]T]{Err: err})
				return
			}
			items, err := docstore.DecodeAll[T](qs)
			if err != nil {
				send(ctx, out, State[[]T]{Err: err})
				return
			}
			if !send(ctx, out, State[[]T]{Data: items}) {
				return
			}
		}
	}()
	return out
}

// Document streams one document. Data is nil once the document is
// confirmed absent.
func Document[T any](ctx context.Context, store docstore.Store, path string) <-chan State[*T] {
	out := make(chan State[*T], 1)
	it := store.SubscribeDocument(ctx, path)
	go func() {
		defer close(out)
		defer it.Stop()
		if !send(ctx, out, Loading[*T]()) {
			return
		}
		for {
			snap, err := it.Next()
			if errors.Is(err, docstore.ErrIteratorStopped) {
				return
			}
			if err != nil {
				send(ctx, out, State[*T]{Err: err})
				return
			}
			var state State[*T]
			if snap.Exists {
				var v T
				if err := snap.DataTo(&v); err != nil {
					send(ctx, out, State[*T]{Err: err})
					return
				}
				state.Data = &v
			}
			if !send(ctx, out, state) {
				return
			}
		}
	}()
	return out
}

// Settled waits for the first state that is no longer loading.
func Settled[T any](ctx context.Context, states <-chan T, loading func(T) bool) (T, error) {
	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case s, ok := <-states:
			if !ok {
				return zero, errors.New("live: stream closed before settling")
			}
			if !loading(s) {
				return s, nil
			}
		}
	}
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
