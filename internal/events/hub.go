// Package events implements the Event Fabric (C10): a one-way,
// best-effort push channel from C7/C9 to connected UI clients, keyed by
// account (spec.md §4.5). A single in-process Hub fans out to both an
// upgraded websocket transport and a bounded-history long-poll fallback;
// cross-process delivery is driven by PostgreSQL LISTEN/NOTIFY so every
// HTTP-serving replica observes events emitted by a sync/worker process
// elsewhere in the deployment (SPEC_FULL.md §6).
//
// Grounded on the teacher's internal/api/websocket_hub.go: a pq.Listener
// goroutine feeding a broadcast channel fanned out to per-client
// channels. Generalized from a single global SSE stream to per-account
// routing, a gorilla/websocket transport with heartbeat, and a ring
// buffer backing reconnect-friendly polling.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/logging"
)

// Event is the envelope delivered to subscribers. Name is one of the
// catalog values below; Payload is pre-marshaled so NOTIFY and in-process
// emit share one encoding path.
type Event struct {
	Name      string          `json:"event"`
	AccountID string          `json:"account_id"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// Event catalog (spec.md §4.5).
const (
	EventEmailsUpdated  = "emails_updated"
	EventAISummaryReady = "ai_summary_ready"
	EventSummaryReady   = "summary_ready"
)

// Emitter is the narrow contract the Mailbox Sync Engine and Summarizer
// Worker depend on — they never see subscriber management, only "fire
// and forget" (spec.md §4.5 "emit(event_name, payload) fires and
// forgets").
type Emitter interface {
	Emit(ctx context.Context, accountID, name string, payload any)
}

const ringBufferSize = 50

type ring struct {
	mu    sync.Mutex
	items []Event
}

func (r *ring) push(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, e)
	if len(r.items) > ringBufferSize {
		r.items = r.items[len(r.items)-ringBufferSize:]
	}
}

// since returns buffered events strictly after t.
func (r *ring) since(t time.Time) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.items {
		if e.At.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Hub is the in-process fan-out point. One Hub per process; cmd/server
// and cmd/worker each construct one, wired to the same Postgres
// database so NOTIFY bridges them.
type Hub struct {
	connStr string
	db      *sql.DB

	mu          sync.RWMutex
	subscribers map[string]map[chan Event]bool // accountID -> subscriber set
	buffers     map[string]*ring               // accountID -> poll ring buffer

	broadcast chan Event
}

// NewHub builds a Hub. connStr is the Postgres DSN used for the
// LISTEN/NOTIFY listener connection; db is the pooled connection used to
// issue pg_notify (reusing the process's existing pool rather than
// opening one connection per event). Pass connStr="" and db=nil to run
// Hub in single-process mode (tests, or a single-replica deployment)
// without cross-process delivery.
func NewHub(connStr string, db *sql.DB) *Hub {
	return &Hub{
		connStr:     connStr,
		db:          db,
		subscribers: make(map[string]map[chan Event]bool),
		buffers:     make(map[string]*ring),
		broadcast:   make(chan Event, 256),
	}
}

// Start launches the NOTIFY listener (if connStr is set) and the
// fan-out dispatcher goroutine. Call once at process startup.
func (h *Hub) Start(ctx context.Context) {
	if h.connStr != "" {
		go h.listen(ctx)
	}
	go h.dispatch(ctx)
}

func (h *Hub) listen(ctx context.Context) {
	log := logging.Component("events")
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Msg("pg notify listener error")
		}
	}
	listener := pq.NewListener(h.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen("ai_events"); err != nil {
		log.Error().Err(err).Msg("listen on ai_events failed")
		return
	}
	defer listener.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(n.Extra), &e); err != nil {
				log.Error().Err(err).Msg("malformed event notify payload")
				continue
			}
			h.fanOutLocal(e)
		case <-time.After(90 * time.Second):
			go listener.Ping()
		}
	}
}

func (h *Hub) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-h.broadcast:
			h.fanOutLocal(e)
			h.notify(ctx, e)
		}
	}
}

func (h *Hub) notify(ctx context.Context, e Event) {
	if h.db == nil {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	if _, err := h.db.ExecContext(ctx, `SELECT pg_notify('ai_events', $1)`, string(body)); err != nil {
		logging.Component("events").Error().Err(err).Msg("pg_notify failed")
	}
}

func (h *Hub) fanOutLocal(e Event) {
	h.mu.Lock()
	if h.buffers[e.AccountID] == nil {
		h.buffers[e.AccountID] = &ring{}
	}
	h.buffers[e.AccountID].push(e)
	subs := h.subscribers[e.AccountID]
	chans := make([]chan Event, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- e:
		default:
			// slow subscriber — drop, per spec.md §4.5 "no
			// back-pressure on emitters".
		}
	}
}

// Emit implements Emitter. payload is marshaled to JSON; a marshal
// failure drops the event (logged) rather than panicking the caller.
func (h *Hub) Emit(ctx context.Context, accountID, name string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Component("events").Error().Err(err).Msg("event payload marshal failed")
		return
	}
	e := Event{Name: name, AccountID: accountID, Payload: body, At: time.Now().UTC()}
	select {
	case h.broadcast <- e:
	case <-ctx.Done():
	}
}

// Subscribe registers a live channel for accountID and returns an
// unsubscribe func. Used by the websocket transport.
func (h *Hub) Subscribe(accountID string) (chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	if h.subscribers[accountID] == nil {
		h.subscribers[accountID] = make(map[chan Event]bool)
	}
	h.subscribers[accountID][ch] = true
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subscribers[accountID], ch)
		h.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Since returns events buffered for accountID strictly after t, for the
// long-polling fallback transport.
func (h *Hub) Since(accountID string, t time.Time) []Event {
	h.mu.RLock()
	r := h.buffers[accountID]
	h.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.since(t)
}
