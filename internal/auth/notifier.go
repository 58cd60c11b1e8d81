package auth

import (
	"context"
	"sync"

	"github.com/shindakun/mockportal/internal/models"
)

// Notification is a session change for one browser.
// Session is nil when the browser no longer holds a session.
type Notification struct {
	Event   models.AuthEvent `json:"event"`
	Session *models.Session  `json:"session,omitempty"`
}

// Notifier fans session changes out to the screens a browser has open
type Notifier interface {
	Publish(ctx context.Context, browserID string, n Notification) error
	Subscribe(browserID string, fn func(Notification)) (unsubscribe func())
	// Subscribers counts the listeners browserID has in this process
	Subscribers(browserID string) int
}

// Hub is an in-process Notifier. Delivery is synchronous, in publish order.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[uint64]func(Notification)
	nextID      uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[uint64]func(Notification))}
}

// Publish delivers n to every current subscriber of browserID
func (h *Hub) Publish(_ context.Context, browserID string, n Notification) error {
	h.mu.Lock()
	subs := h.subscribers[browserID]
	fns := make([]func(Notification), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
	return nil
}

// Subscribe registers fn for browserID until the returned func is called
func (h *Hub) Subscribe(browserID string, fn func(Notification)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subscribers[browserID] == nil {
		h.subscribers[browserID] = make(map[uint64]func(Notification))
	}
	h.subscribers[browserID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[browserID], id)
			if len(h.subscribers[browserID]) == 0 {
				delete(h.subscribers, browserID)
			}
		})
	}
}

// Subscribers returns how many listeners browserID has
func (h *Hub) Subscribers(browserID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[browserID])
}
