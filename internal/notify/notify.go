// Package notify fans out per-viewer toast notifications about mutation
// outcomes to the viewer's open notification streams.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

type Toast struct {
	ID          string    `json:"id"`
	Variant     Variant   `json:"variant"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Notifier delivers a toast to every open stream of a user.
type Notifier interface {
	Notify(userID string, toast Toast)
}

// Hub is an in-process Notifier. Toasts sent while a user has no open
// stream are dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Toast]struct{}
	buffer int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Toast]struct{}), buffer: 16}
}

func (h *Hub) Notify(userID string, toast Toast) {
	if toast.ID == "" {
		toast.ID = uuid.NewString()
	}
	if toast.Variant == "" {
		toast.Variant = VariantDefault
	}
	if toast.CreatedAt.IsZero() {
		toast.CreatedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- toast:
		default:
			slog.Warn("notification dropped for slow stream", "user_id", userID, "title", toast.Title)
		}
	}
}

// Subscribe returns a stream of the user's toasts that closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Toast {
	ch := make(chan Toast, h.buffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Toast]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

func Success(title, description string) Toast {
	return Toast{Variant: VariantDefault, Title: title, Description: description}
}

func Failure(title, description string) Toast {
	return Toast{Variant: VariantDestructive, Title: title, Description: description}
}
