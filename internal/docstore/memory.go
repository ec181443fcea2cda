package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memDoc struct {
	data       []byte
	createTime time.Time
	updateTime time.Time
}

// MemoryStore keeps documents in process. It backs tests and single-node
// development runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*memDoc
	hub  *hub
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*memDoc),
		hub:  newHub(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for server timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) snapshot(path string, d *memDoc) *DocumentSnapshot {
	if d == nil {
		return &DocumentSnapshot{ID: ID(path), Path: path}
	}
	return &DocumentSnapshot{
		ID:         ID(path),
		Path:       path,
		Exists:     true,
		Data:       append([]byte(nil), d.data...),
		CreateTime: d.createTime,
		UpdateTime: d.updateTime,
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (*DocumentSnapshot, error) {
	if !IsDocumentPath(path) {
		return nil, ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(path, s.docs[path]), nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) (*QuerySnapshot, error) {
	if !IsCollectionPath(q.Collection) {
		return nil, ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var docs []*DocumentSnapshot
	for path, d := range s.docs {
		if Parent(path) != q.Collection {
			continue
		}
		snap := s.snapshot(path, d)
		if matches(snap, q.Filters) {
			docs = append(docs, snap)
		}
	}
	readTime := s.now()
	s.mu.RUnlock()

	sortSnapshots(docs, q.OrderBy, q.Direction)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return &QuerySnapshot{Docs: docs, ReadTime: readTime}, nil
}

func sortSnapshots(docs []*DocumentSnapshot, field string, dir Direction) {
	keys := make(map[*DocumentSnapshot]any, len(docs))
	if field != "" {
		for _, d := range docs {
			v, _ := d.Field(field)
			keys[d] = v
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if field != "" {
			c := compareValues(keys[docs[i]], keys[docs[j]])
			if dir == Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return docs[i].ID < docs[j].ID
	})
}

func (s *MemoryStore) SubscribeQuery(ctx context.Context, q Query) *QueryIterator {
	return newQueryIterator(ctx, s.hub, q, s.Query)
}

func (s *MemoryStore) SubscribeDocument(ctx context.Context, path string) *DocumentIterator {
	return newDocumentIterator(ctx, s.hub, path, s.Get)
}

func (s *MemoryStore) Create(ctx context.Context, path string, data Data) error {
	return s.write(ctx, path, func(existing *memDoc, now time.Time) (*memDoc, error) {
		if existing != nil {
			return nil, ErrAlreadyExists
		}
		b, err := encode(data, now)
		if err != nil {
			return nil, err
		}
		return &memDoc{data: b, createTime: now, updateTime: now}, nil
	})
}

func (s *MemoryStore) Set(ctx context.Context, path string, data Data, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.write(ctx, path, func(existing *memDoc, now time.Time) (*memDoc, error) {
		b, err := encode(data, now)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return &memDoc{data: b, createTime: now, updateTime: now}, nil
		}
		if o.merge {
			if b, err = mergeFields(existing.data, b); err != nil {
				return nil, err
			}
		}
		return &memDoc{data: b, createTime: existing.createTime, updateTime: now}, nil
	})
}

func (s *MemoryStore) Update(ctx context.Context, path string, data Data) error {
	return s.write(ctx, path, func(existing *memDoc, now time.Time) (*memDoc, error) {
		if existing == nil {
			return nil, ErrNotFound
		}
		b, err := encode(data, now)
		if err != nil {
			return nil, err
		}
		if b, err = mergeFields(existing.data, b); err != nil {
			return nil, err
		}
		return &memDoc{data: b, createTime: existing.createTime, updateTime: now}, nil
	})
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	return s.write(ctx, path, func(*memDoc, time.Time) (*memDoc, error) {
		return nil, nil
	})
}

// write applies fn to the current document under the store lock. A nil
// result deletes the document.
func (s *MemoryStore) write(ctx context.Context, path string, fn func(*memDoc, time.Time) (*memDoc, error)) error {
	if !IsDocumentPath(path) {
		return ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	next, err := fn(s.docs[path], s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if next == nil {
		delete(s.docs, path)
	} else {
		s.docs[path] = next
	}
	s.mu.Unlock()

	s.hub.notify(path)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

// ActiveSubscriptions reports the number of open live iterators.
func (s *MemoryStore) ActiveSubscriptions() int {
	return s.hub.size()
}
