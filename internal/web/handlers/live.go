package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shindakun/mockportal/internal/metrics"
	"github.com/shindakun/mockportal/internal/portal"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
)

// screenKey identifies what a pushed fragment would show.
// Form edits never change it, so typing is never overwritten by a push.
func screenKey(view string, state *portal.State) string {
	if state == nil {
		return view + "|"
	}
	key := state.View().String() + "|" + state.Notice
	if state.Session != nil {
		key += "|" + state.Session.Email
	}
	return key
}

// offer replaces any undelivered snapshot with s
func offer(ch chan portal.State, s portal.State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Live keeps a screen mounted for an open tab and pushes the view fragment
// whenever a session change alters what the tab should show.
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	tracker, err := h.newTracker(w, r, h.defaultForm())
	if err != nil {
		h.logger.Printf("Failed to establish browser session: %v", err)
		http.Error(w, "Failed to establish session", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Printf("Failed to upgrade WebSocket: %v", err)
		return
	}
	defer conn.Close()

	metrics.LiveScreens.Inc()
	defer metrics.LiveScreens.Dec()

	updates := make(chan portal.State, 1)
	cancelWatch := tracker.Watch(func(s portal.State) { offer(updates, s) })
	defer cancelWatch()

	tracker.Start(r.Context())
	defer tracker.Close()

	// Read pump: the tab sends nothing we act on, but reading surfaces pongs and close
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(h.clock.Now().Add(pongDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(h.clock.Now().Add(pongDeadline))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := h.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	last := screenKey(r.URL.Query().Get("view"), nil)
	for {
		select {
		case state := <-updates:
			key := screenKey("", &state)
			if key == last {
				continue
			}

			var buf bytes.Buffer
			if err := h.renderPartial(&buf, "view", h.screenData(r, state, false)); err != nil {
				h.logger.Printf("Error rendering live view: %v", err)
				continue
			}
			_ = conn.SetWriteDeadline(h.clock.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
				return
			}
			last = key
		case <-ticker.Chan():
			_ = conn.SetWriteDeadline(h.clock.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
