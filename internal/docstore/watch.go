package docstore

import (
	"context"
	"sync"
)

type watcher struct {
	match func(path string) bool
	poke  chan struct{}
}

// hub fans change notifications out to the live iterators of one process.
type hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

func newHub() *hub {
	return &hub{watchers: make(map[*watcher]struct{})}
}

func (h *hub) add(match func(string) bool) *watcher {
	w := &watcher{match: match, poke: make(chan struct{}, 1)}
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()
	return w
}

func (h *hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
}

// notify wakes every watcher interested in path. Pending wake-ups coalesce.
func (h *hub) notify(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		if !w.match(path) {
			continue
		}
		select {
		case w.poke <- struct{}{}:
		default:
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

type snapshotIterator[S any] struct {
	ctx      context.Context
	cancel   context.CancelFunc
	hub      *hub
	w        *watcher
	fetch    func(context.Context) (S, error)
	started  bool
	err      error
	stopOnce sync.Once
}

func newSnapshotIterator[S any](ctx context.Context, h *hub, match func(string) bool, fetch func(context.Context) (S, error)) *snapshotIterator[S] {
	ctx, cancel := context.WithCancel(ctx)
	return &snapshotIterator[S]{
		ctx:    ctx,
		cancel: cancel,
		hub:    h,
		w:      h.add(match),
		fetch:  fetch,
	}
}

func (it *snapshotIterator[S]) next() (S, error) {
	var zero S
	if it.err != nil {
		return zero, it.err
	}
	if it.started {
		select {
		case <-it.ctx.Done():
			it.stop()
			it.err = ErrIteratorStopped
			return zero, it.err
		case <-it.w.poke:
		}
	}
	it.started = true
	snap, err := it.fetch(it.ctx)
	if err != nil {
		if it.ctx.Err() != nil {
			err = ErrIteratorStopped
		}
		it.stop()
		it.err = err
		return zero, err
	}
	return snap, nil
}

func (it *snapshotIterator[S]) stop() {
	it.stopOnce.Do(func() {
		it.cancel()
		it.hub.remove(it.w)
	})
}

// QueryIterator yields query snapshots: the current result first, then one per change.
type QueryIterator struct {
	it *snapshotIterator[*QuerySnapshot]
}

func newQueryIterator(ctx context.Context, h *hub, q Query, run func(context.Context, Query) (*QuerySnapshot, error)) *QueryIterator {
	match := func(path string) bool { return Parent(path) == q.Collection }
	fetch := func(ctx context.Context) (*QuerySnapshot, error) { return run(ctx, q) }
	return &QueryIterator{it: newSnapshotIterator(ctx, h, match, fetch)}
}

// Next blocks until the next snapshot, an error, or Stop. After Stop or
// context cancellation it returns ErrIteratorStopped.
func (q *QueryIterator) Next() (*QuerySnapshot, error) {
	return q.it.next()
}

// Stop releases the subscription. It is safe to call more than once.
func (q *QueryIterator) Stop() {
	q.it.stop()
}

// DocumentIterator yields snapshots of one document, including absent ones.
type DocumentIterator struct {
	it *snapshotIterator[*DocumentSnapshot]
}

func newDocumentIterator(ctx context.Context, h *hub, path string, get func(context.Context, string) (*DocumentSnapshot, error)) *DocumentIterator {
	match := func(p string) bool { return p == path }
	fetch := func(ctx context.Context) (*DocumentSnapshot, error) { return get(ctx, path) }
	return &DocumentIterator{it: newSnapshotIterator(ctx, h, match, fetch)}
}

func (d *DocumentIterator) Next() (*DocumentSnapshot, error) {
	return d.it.next()
}

func (d *DocumentIterator) Stop() {
	d.it.stop()
}
