package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/anguillanneuf/BizTrack/internal/models"
)

// SessionChange is delivered to session subscribers. Session is nil once
// the session has ended.
type SessionChange struct {
	Session *models.SessionView
}

// Broker fans out session changes to the streams watching a session.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SessionChange]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan SessionChange]struct{})}
}

func (b *Broker) publish(sessionID string, change SessionChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- change:
		default:
			slog.Warn("session change dropped for slow subscriber", "session_id", sessionID)
		}
	}
}

// Subscribe streams changes of one session until ctx ends.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan SessionChange {
	ch := make(chan SessionChange, 4)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan SessionChange]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[sessionID], ch)
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}
