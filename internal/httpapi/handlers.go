package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/httputil"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/logging"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarystore"
)

// SyncNow implements POST /api/sync-now (spec.md §4.6 "sync_now").
func (h *Handlers) SyncNow(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		httputil.Error(w, http.StatusBadRequest, "account_id is required")
		return
	}

	result, err := h.Sync.Sync(r.Context(), accountID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "sync failed")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":          result.Status,
		"count":           result.NewCount,
		"processed_count": result.ProcessedCount,
	})
}

// EnqueueSummary implements POST /api/emails/{provider_message_id}/summarize
// (spec.md §4.6 "enqueue_summary"). Idempotent: repeated calls for the
// same (account, message) return the existing job_id rather than a
// second row (jobstore.Store.Enqueue's own uniqueness conflict).
func (h *Handlers) EnqueueSummary(w http.ResponseWriter, r *http.Request) {
	providerMessageID := chi.URLParam(r, "provider_message_id")
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" || providerMessageID == "" {
		httputil.Error(w, http.StatusBadRequest, "account_id and provider_message_id are required")
		return
	}

	if !h.AISummEnabled {
		httputil.JSON(w, http.StatusOK, map[string]any{"status": "no_key"})
		return
	}

	jobID, _, err := h.Jobs.Enqueue(r.Context(), domain.JobTypeSummarize, accountID, providerMessageID)
	if err != nil {
		httputil.JSON(w, http.StatusOK, map[string]any{"status": "error"})
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{"status": "queued", "job_id": jobID})
}

// ListEmails implements GET /api/emails (read-only, external collaborator
// surface per spec.md §6 — the core just exposes its own table).
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	params := parsePagination(r)

	emails, err := h.Emails.List(r.Context(), accountID, params.Limit, params.Offset)
	if err != nil {
		logging.Component("httpapi").Warn().Str("account_id", accountID).Err(err).Msg("list emails failed, returning empty page")
		httputil.JSON(w, http.StatusOK, newPaginatedResponse([]domain.Email{}, params, 0))
		return
	}
	if emails == nil {
		emails = []domain.Email{}
	}
	total, err := h.Emails.Count(r.Context(), accountID)
	if err != nil {
		logging.Component("httpapi").Warn().Str("account_id", accountID).Err(err).Msg("count emails failed, reporting zero total")
		total = 0
	}
	httputil.JSON(w, http.StatusOK, newPaginatedResponse(emails, params, total))
}

// emailWithSummary is the joined read ListEmailsWithSummaries returns —
// an Email plus whatever summary currently exists for it, if any.
type emailWithSummary struct {
	domain.Email
	Summary *domain.SummaryStruct `json:"summary,omitempty"`
	Model   string                `json:"model,omitempty"`
}

// ListEmailsWithSummaries implements GET /api/emails-with-summaries: a
// read-only left join of emails to their latest summary, done in Go
// since the two tables are owned by separate store packages.
func (h *Handlers) ListEmailsWithSummaries(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	params := parsePagination(r)

	emails, err := h.Emails.List(r.Context(), accountID, params.Limit, params.Offset)
	if err != nil {
		logging.Component("httpapi").Warn().Str("account_id", accountID).Err(err).Msg("list emails failed, returning empty page")
		httputil.JSON(w, http.StatusOK, newPaginatedResponse([]emailWithSummary{}, params, 0))
		return
	}

	out := make([]emailWithSummary, 0, len(emails))
	for _, e := range emails {
		row := emailWithSummary{Email: e}
		sum, err := h.Summaries.GetLatest(r.Context(), e.AccountID, e.ProviderMessageID)
		if err == nil {
			row.Summary = &sum.SummaryStruct
			row.Model = sum.Model
		} else if !errors.Is(err, summarystore.ErrNotFound) {
			httputil.Error(w, http.StatusInternalServerError, "list summaries failed")
			return
		}
		out = append(out, row)
	}
	total, err := h.Emails.Count(r.Context(), accountID)
	if err != nil {
		logging.Component("httpapi").Warn().Str("account_id", accountID).Err(err).Msg("count emails failed, reporting zero total")
		total = 0
	}
	httputil.JSON(w, http.StatusOK, newPaginatedResponse(out, params, total))
}

// GetSummary implements GET /api/emails/{provider_message_id}/summary
// (spec.md §6: "{status: ready|pending, summary_json?, summary_text?, model?}").
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	providerMessageID := chi.URLParam(r, "provider_message_id")
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		httputil.Error(w, http.StatusBadRequest, "account_id is required")
		return
	}

	sum, err := h.Summaries.GetLatest(r.Context(), accountID, providerMessageID)
	if errors.Is(err, summarystore.ErrNotFound) {
		httputil.JSON(w, http.StatusOK, map[string]any{"status": "pending"})
		return
	}
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "summary lookup failed")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"summary_json": sum.SummaryStruct,
		"summary_text": sum.SummaryText,
		"model":        sum.Model,
	})
}

// ListAccounts implements GET /api/accounts. Account lifecycle proper is
// an external collaborator (spec.md §1 Non-goals); this is the minimal
// read derived from the Email Store's own rows (emailstore.Store.Accounts).
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Emails.Accounts(r.Context())
	if err != nil {
		logging.Component("httpapi").Warn().Err(err).Msg("list accounts failed, returning empty list")
		accounts = []string{}
	}
	if accounts == nil {
		accounts = []string{}
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// RequeueJob implements POST /api/jobs/{job_id}/requeue (SPEC_FULL.md
// §12.1): an operator escape hatch resurrecting a dead job back to
// queued with a fresh backoff ladder.
func (h *Handlers) RequeueJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		httputil.Error(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if err := h.Jobs.Requeue(r.Context(), jobID); err != nil {
		httputil.Error(w, http.StatusNotFound, "job not found or not dead")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// JobStats implements GET /api/jobs/stats (SPEC_FULL.md §12.2): the same
// counts backing the jobstore prometheus gauges, exposed for operator
// dashboards that don't scrape Prometheus directly.
func (h *Handlers) JobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Jobs.StatusCounts(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "status counts failed")
		return
	}
	out := map[string]int{
		string(domain.JobQueued):    counts[domain.JobQueued],
		string(domain.JobRunning):   counts[domain.JobRunning],
		string(domain.JobSucceeded): counts[domain.JobSucceeded],
		string(domain.JobFailed):    counts[domain.JobFailed],
		string(domain.JobDead):      counts[domain.JobDead],
	}
	httputil.JSON(w, http.StatusOK, out)
}
