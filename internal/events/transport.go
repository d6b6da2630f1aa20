package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/logging"
)

const (
	pingInterval = 15 * time.Second
	pongTimeout  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket and streams events for
// accountID until the client disconnects or a heartbeat pong is missed
// (spec.md §4.5 "ping every 15s, pong timeout 30s").
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID string) {
	log := logging.Component("events")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.Subscribe(accountID)
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	// Drain and discard client reads so pong frames are processed;
	// clients never send application messages on this channel.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

const pollTimeout = 25 * time.Second

// ServePoll implements the long-polling fallback for clients behind
// proxies that block websocket upgrades (spec.md §4.5 "long-polling
// fallback so clients behind restrictive proxies remain connected").
// It blocks up to pollTimeout for new events after `since`, then returns
// whatever arrived (possibly none) as a JSON array.
func (h *Hub) ServePoll(w http.ResponseWriter, r *http.Request, accountID string, since time.Time) {
	if existing := h.Since(accountID, since); len(existing) > 0 {
		writeEvents(w, existing)
		return
	}

	ch, unsubscribe := h.Subscribe(accountID)
	defer unsubscribe()

	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	select {
	case e := <-ch:
		writeEvents(w, []Event{e})
	case <-timer.C:
		writeEvents(w, []Event{})
	case <-r.Context().Done():
	}
}

func writeEvents(w http.ResponseWriter, events []Event) {
	w.Header().Set("Content-Type", "application/json")
	if events == nil {
		events = []Event{}
	}
	json.NewEncoder(w).Encode(events)
}
