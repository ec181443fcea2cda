// Package aggregate merges a viewer's own record stream with the streams of
// every admin account into one de-duplicated, ordered live view.
package aggregate

import (
	"context"
	"sort"

	"github.com/anguillanneuf/BizTrack/internal/live"
	"github.com/anguillanneuf/BizTrack/internal/models"
)

// Record is implemented by every per-owner record model.
type Record interface {
	RecordID() string
	OwnerID() string
}

// Item is a merged record with its attribution.
type Item[T Record] struct {
	Record  T      `json:"record"`
	AddedBy string `json:"addedBy"`
	Mine    bool   `json:"mine"`
}

// View is the aggregate state delivered to the caller.
type View[T Record] struct {
	Items     []Item[T]
	IsLoading bool
	Err       error
}

// Opener opens the live record stream of one owner.
type Opener[T Record] func(ctx context.Context, ownerID string) <-chan live.State[[]T]

// DirectoryOpener opens the live account directory.
type DirectoryOpener func(ctx context.Context) <-chan live.State[[]models.UserProfile]

type Config[T Record] struct {
	ViewerID  string
	Directory DirectoryOpener
	Open      Opener[T]
	// Less orders records; ties fall back to the record id.
	Less func(a, b T) bool
}

type source[T Record] struct {
	state live.State[[]T]
	seq   uint64
}

type peer[T Record] struct {
	source[T]
	cancel context.CancelFunc
}

type peerUpdate[T Record] struct {
	id    string
	gen   uint64
	state live.State[[]T]
}

// supervisor owns the peer subscriptions of one aggregate view. All state is
// confined to its run goroutine.
type supervisor[T Record] struct {
	cfg      Config[T]
	own      source[T]
	dir      live.State[[]models.UserProfile]
	profiles map[string]models.UserProfile
	peers    map[string]*peer[T]
	peerIDs  []string
	gen      uint64
	seq      uint64
	updates  chan peerUpdate[T]
	out      chan View[T]
}

// Watch starts an aggregate view for cfg.ViewerID. The returned channel
// always holds the most recent view; it closes once ctx ends and every
// subscription has been released.
func Watch[T Record](ctx context.Context, cfg Config[T]) <-chan View[T] {
	s := &supervisor[T]{
		cfg:      cfg,
		own:      source[T]{state: live.Loading[[]T]()},
		dir:      live.Loading[[]models.UserProfile](),
		profiles: map[string]models.UserProfile{},
		peers:    map[string]*peer[T]{},
		updates:  make(chan peerUpdate[T]),
		out:      make(chan View[T], 1),
	}
	go s.run(ctx)
	return s.out
}

func (s *supervisor[T]) run(ctx context.Context) {
	defer close(s.out)
	defer s.stopPeers()

	ownCh := s.cfg.Open(ctx, s.cfg.ViewerID)
	dirCh := s.cfg.Directory(ctx)
	s.emit(s.view())

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ownCh:
			if !ok {
				ownCh = nil
				continue
			}
			s.seq++
			s.own = source[T]{state: st, seq: s.seq}
		case st, ok := <-dirCh:
			if !ok {
				dirCh = nil
				continue
			}
			s.applyDirectory(ctx, st)
		case u := <-s.updates:
			p, ok := s.peers[u.id]
			if u.gen != s.gen || !ok {
				continue
			}
			s.seq++
			p.state = u.state
			p.seq = s.seq
		}
		s.emit(s.view())
	}
}

func (s *supervisor[T]) applyDirectory(ctx context.Context, st live.State[[]models.UserProfile]) {
	s.dir = st
	if st.IsLoading || st.Err != nil {
		return
	}
	profiles := make(map[string]models.UserProfile, len(st.Data))
	var elevated []string
	for _, p := range st.Data {
		profiles[p.ID] = p
		if p.IsAdmin() && p.ID != s.cfg.ViewerID {
			elevated = append(elevated, p.ID)
		}
	}
	sort.Strings(elevated)
	s.profiles = profiles

	if equalIDs(elevated, s.peerIDs) {
		return
	}
	s.stopPeers()
	s.gen++
	s.peerIDs = elevated
	for _, id := range elevated {
		s.peers[id] = s.startPeer(ctx, id, s.gen)
	}
}

func (s *supervisor[T]) startPeer(ctx context.Context, id string, gen uint64) *peer[T] {
	pctx, cancel := context.WithCancel(ctx)
	states := s.cfg.Open(pctx, id)
	go func() {
		for st := range states {
			select {
			case s.updates <- peerUpdate[T]{id: id, gen: gen, state: st}:
			case <-pctx.Done():
				return
			}
		}
	}()
	return &peer[T]{
		source: source[T]{state: live.Loading[[]T]()},
		cancel: cancel,
	}
}

func (s *supervisor[T]) stopPeers() {
	for id, p := range s.peers {
		p.cancel()
		delete(s.peers, id)
	}
	s.peerIDs = nil
}

func (s *supervisor[T]) view() View[T] {
	v := View[T]{
		IsLoading: s.dir.IsLoading || s.own.state.IsLoading,
		Err:       s.own.state.Err,
	}
	sources := []source[T]{s.own}
	for _, id := range s.peerIDs {
		p := s.peers[id]
		if p.state.IsLoading {
			v.IsLoading = true
		}
		if v.Err == nil && p.state.Err != nil {
			v.Err = p.state.Err
		}
		sources = append(sources, p.source)
	}
	if v.Err == nil {
		v.Err = s.dir.Err
	}
	v.Items = merge(s.cfg.ViewerID, s.profiles, s.cfg.Less, sources)
	return v
}

// emit replaces any view the consumer has not read yet.
func (s *supervisor[T]) emit(v View[T]) {
	select {
	case <-s.out:
	default:
	}
	s.out <- v
}

// merge collapses sources by record id. Sources observed later win.
func merge[T Record](viewerID string, profiles map[string]models.UserProfile, less func(a, b T) bool, sources []source[T]) []Item[T] {
	ordered := append([]source[T](nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	index := map[string]int{}
	items := []Item[T]{}
	for _, src := range ordered {
		for _, rec := range src.state.Data {
			item := Item[T]{
				Record:  rec,
				AddedBy: attribution(viewerID, rec.OwnerID(), profiles),
				Mine:    rec.OwnerID() == viewerID,
			}
			if i, ok := index[rec.RecordID()]; ok {
				items[i] = item
				continue
			}
			index[rec.RecordID()] = len(items)
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Record, items[j].Record
		if less != nil {
			if less(a, b) {
				return true
			}
			if less(b, a) {
				return false
			}
		}
		return a.RecordID() < b.RecordID()
	})
	return items
}

func attribution(viewerID, ownerID string, profiles map[string]models.UserProfile) string {
	if ownerID == viewerID {
		return "You"
	}
	if p, ok := profiles[ownerID]; ok && p.FirstName != "" {
		return p.FirstName
	}
	return "Admin"
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
