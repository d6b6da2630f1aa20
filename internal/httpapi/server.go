// Package httpapi implements the Sync Trigger API (C11): the HTTP
// surface external callers and the UI use to trigger a sync pass,
// enqueue a manual summarization, and read emails/summaries/accounts
// (spec.md §4.6, §6). It also mounts the Event Fabric's websocket and
// long-poll transports (internal/events) under the same router.
//
// Grounded on the teacher's internal/api/routes.go (chi.Mux, ordered
// middleware stack, cors.Handler, a single /api sub-router) and
// handlers.go (a Handlers struct holding service dependencies). JSON
// responses go through internal/pkg/httputil rather than a re-derived
// pair of local helpers. Trimmed to this core's six read/write endpoints
// plus the two admin endpoints SPEC_FULL.md §12 adds; the teacher's
// session-cookie auth middleware is dropped entirely — account/session
// lifecycle is an external collaborator (spec.md §1 Non-goals).
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/emailstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/events"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/jobstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/httputil"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarystore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/syncengine"
)

// Syncer is the narrow contract Handlers needs from the Mailbox Sync
// Engine — just enough to drive sync_now without depending on its
// credential/provider wiring.
type Syncer interface {
	Sync(ctx context.Context, accountID string) (syncengine.Result, error)
}

// Handlers holds every dependency the Sync Trigger API needs to serve
// its endpoints. The store and sync fields are narrow interfaces; Hub
// and DB are concrete. Construction is the caller's job (cmd/server).
type Handlers struct {
	Emails    emailstore.Store
	Summaries summarystore.Store
	Jobs      jobstore.Store
	Sync      Syncer
	Hub       *events.Hub
	DB        *sql.DB

	// AISummEnabled gates enqueue_summary's no_key response (spec.md
	// §4.6: "no_key signals the LLM provider is not configured").
	AISummEnabled bool
}

// NewRouter builds the complete chi.Mux for h: middleware, CORS, the
// /api route group, and the Event Fabric transports.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync-now", h.SyncNow)
		r.Post("/emails/{provider_message_id}/summarize", h.EnqueueSummary)
		r.Get("/emails", h.ListEmails)
		r.Get("/emails-with-summaries", h.ListEmailsWithSummaries)
		r.Get("/emails/{provider_message_id}/summary", h.GetSummary)
		r.Get("/accounts", h.ListAccounts)

		// SPEC_FULL.md §12.1/§12.2 supplemented operator endpoints.
		r.Post("/jobs/{job_id}/requeue", h.RequeueJob)
		r.Get("/jobs/stats", h.JobStats)
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/ws", h.eventsWS)
		r.Get("/poll", h.eventsPoll)
	})

	return r
}

func (h *Handlers) eventsWS(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		httputil.Error(w, http.StatusBadRequest, "account_id is required")
		return
	}
	h.Hub.ServeWS(w, r, accountID)
}

func (h *Handlers) eventsPoll(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		httputil.Error(w, http.StatusBadRequest, "account_id is required")
		return
	}
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	h.Hub.ServePoll(w, r, accountID, since)
}

// HealthCheck reports process liveness and, when DB is set, database
// reachability — grounded on the teacher's HealthCheck handler, trimmed
// from its fetch-staleness heuristic to a direct ping since this core
// has no single "last fetch" collector to consult.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			status = "degraded"
		}
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
