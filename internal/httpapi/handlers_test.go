package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarystore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/syncengine"
)

type fakeEmails struct {
	list     []domain.Email
	accounts []string

	listErr     error
	countErr    error
	accountsErr error
}

func (f *fakeEmails) Insert(ctx context.Context, e domain.Email) (bool, error) { return true, nil }
func (f *fakeEmails) Get(ctx context.Context, accountID, providerMessageID string) (domain.Email, error) {
	return domain.Email{}, nil
}
func (f *fakeEmails) List(ctx context.Context, accountID string, limit, offset int) ([]domain.Email, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	end := offset + limit
	if limit <= 0 || end > len(f.list) {
		end = len(f.list)
	}
	if offset > len(f.list) {
		return []domain.Email{}, nil
	}
	return f.list[offset:end], nil
}
func (f *fakeEmails) Count(ctx context.Context, accountID string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.list)), nil
}
func (f *fakeEmails) Accounts(ctx context.Context) ([]string, error) {
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

type fakeSummaries struct {
	byMessage map[string]domain.Summary
}

func (f *fakeSummaries) GetByHash(ctx context.Context, accountID, providerMessageID, promptVersion, inputHash string) (domain.Summary, error) {
	return domain.Summary{}, summarystore.ErrNotFound
}
func (f *fakeSummaries) GetLatest(ctx context.Context, accountID, providerMessageID string) (domain.Summary, error) {
	s, ok := f.byMessage[providerMessageID]
	if !ok {
		return domain.Summary{}, summarystore.ErrNotFound
	}
	return s, nil
}
func (f *fakeSummaries) Commit(ctx context.Context, s domain.Summary) error { return nil }

type fakeJobs struct {
	enqueuedJobID string
	requeued      []string
	statusCounts  map[domain.JobStatus]int
}

func (f *fakeJobs) Enqueue(ctx context.Context, jobType domain.JobType, accountID, providerMessageID string) (string, bool, error) {
	return f.enqueuedJobID, true, nil
}
func (f *fakeJobs) Claim(ctx context.Context, workerID string, batch int) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeJobs) MarkSucceeded(ctx context.Context, jobID string) error { return nil }
func (f *fakeJobs) MarkFailed(ctx context.Context, jobID string, code domain.ErrorCode) error {
	return nil
}
func (f *fakeJobs) StatusCounts(ctx context.Context) (map[domain.JobStatus]int, error) {
	return f.statusCounts, nil
}
func (f *fakeJobs) ReclaimStale(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeJobs) Requeue(ctx context.Context, jobID string) error {
	f.requeued = append(f.requeued, jobID)
	return nil
}

type fakeSyncer struct {
	result syncengine.Result
}

func (f fakeSyncer) Sync(ctx context.Context, accountID string) (syncengine.Result, error) {
	return f.result, nil
}

func TestSyncNow_MissingAccountID(t *testing.T) {
	h := &Handlers{Sync: fakeSyncer{}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/sync-now", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSyncNow_OK(t *testing.T) {
	h := &Handlers{Sync: fakeSyncer{result: syncengine.Result{Status: syncengine.StatusDone, NewCount: 2, ProcessedCount: 2}}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/sync-now?account_id=acct1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != string(syncengine.StatusDone) || body["count"].(float64) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestEnqueueSummary_NoKeyWhenDisabled(t *testing.T) {
	h := &Handlers{Jobs: &fakeJobs{}, AISummEnabled: false}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/emails/m1/summarize?account_id=acct1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "no_key" {
		t.Fatalf("expected no_key, got %+v", body)
	}
}

func TestEnqueueSummary_QueuedWhenEnabled(t *testing.T) {
	h := &Handlers{Jobs: &fakeJobs{enqueuedJobID: "job-123"}, AISummEnabled: true}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/emails/m1/summarize?account_id=acct1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "queued" || body["job_id"] != "job-123" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetSummary_PendingWhenMissing(t *testing.T) {
	h := &Handlers{Summaries: &fakeSummaries{byMessage: map[string]domain.Summary{}}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/emails/m1/summary?account_id=acct1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "pending" {
		t.Fatalf("expected pending, got %+v", body)
	}
}

func TestGetSummary_ReadyWhenCommitted(t *testing.T) {
	h := &Handlers{Summaries: &fakeSummaries{byMessage: map[string]domain.Summary{
		"m1": {AccountID: "acct1", ProviderMessageID: "m1", Model: "claude", SummaryText: "text",
			SummaryStruct: domain.SummaryStruct{Overview: "ov", Urgency: domain.UrgencyLow}},
	}}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/emails/m1/summary?account_id=acct1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ready" || body["model"] != "claude" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestListAccounts(t *testing.T) {
	h := &Handlers{Emails: &fakeEmails{accounts: []string{"acct1", "acct2"}}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	accounts, ok := body["accounts"].([]any)
	if !ok || len(accounts) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRequeueJob(t *testing.T) {
	jobs := &fakeJobs{}
	h := &Handlers{Jobs: jobs}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/requeue", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(jobs.requeued) != 1 || jobs.requeued[0] != "job-1" {
		t.Fatalf("expected requeue called with job-1, got %+v", jobs.requeued)
	}
}

func TestListEmails_Paginated(t *testing.T) {
	list := []domain.Email{
		{AccountID: "acct1", ProviderMessageID: "m1"},
		{AccountID: "acct1", ProviderMessageID: "m2"},
		{AccountID: "acct1", ProviderMessageID: "m3"},
	}
	h := &Handlers{Emails: &fakeEmails{list: list}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/emails?account_id=acct1&page=2&limit=2", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body struct {
		Data       []domain.Email `json:"data"`
		Pagination struct {
			Page       int   `json:"page"`
			Limit      int   `json:"limit"`
			Total      int64 `json:"total"`
			TotalPages int   `json:"total_pages"`
			HasMore    bool  `json:"has_more"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ProviderMessageID != "m3" {
		t.Fatalf("expected page 2 to hold the third email, got %+v", body.Data)
	}
	if body.Pagination.Total != 3 || body.Pagination.TotalPages != 2 || body.Pagination.HasMore {
		t.Fatalf("unexpected pagination metadata: %+v", body.Pagination)
	}
}

func TestListEmails_StoreErrorReturnsEmptyPageNot500(t *testing.T) {
	h := &Handlers{Emails: &fakeEmails{listErr: errors.New("connection reset")}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/emails?account_id=acct1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on a transient store error, got %d", rec.Code)
	}
	var body struct {
		Data []domain.Email `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 0 {
		t.Fatalf("expected an empty page, got %+v", body.Data)
	}
}

func TestListAccounts_StoreErrorReturnsEmptyListNot500(t *testing.T) {
	h := &Handlers{Emails: &fakeEmails{accountsErr: errors.New("connection reset")}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on a transient store error, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	accounts, ok := body["accounts"].([]any)
	if !ok || len(accounts) != 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestJobStats(t *testing.T) {
	h := &Handlers{Jobs: &fakeJobs{statusCounts: map[domain.JobStatus]int{domain.JobQueued: 3, domain.JobDead: 1}}}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["queued"].(float64) != 3 || body["dead"].(float64) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}
