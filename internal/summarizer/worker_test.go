package summarizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/emailstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/preprocess"
)

type fakeEmailStore struct {
	emails map[string]domain.Email
}

func (s *fakeEmailStore) Insert(ctx context.Context, e domain.Email) (bool, error) { return true, nil }
func (s *fakeEmailStore) Get(ctx context.Context, accountID, providerMessageID string) (domain.Email, error) {
	key := accountID + "/" + providerMessageID
	e, ok := s.emails[key]
	if !ok {
		return domain.Email{}, emailstore.ErrNotFound
	}
	return e, nil
}
func (s *fakeEmailStore) List(ctx context.Context, accountID string, limit, offset int) ([]domain.Email, error) {
	return nil, nil
}
func (s *fakeEmailStore) Count(ctx context.Context, accountID string) (int64, error) { return 0, nil }
func (s *fakeEmailStore) Accounts(ctx context.Context) ([]string, error)              { return nil, nil }

type fakeSummaryStore struct {
	mu        sync.Mutex
	committed []domain.Summary
	existing  map[string]domain.Summary
}

func (s *fakeSummaryStore) GetByHash(ctx context.Context, accountID, providerMessageID, promptVersion, inputHash string) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "/" + providerMessageID + "/" + promptVersion + "/" + inputHash
	sum, ok := s.existing[key]
	if !ok {
		return domain.Summary{}, errNotFoundForTest
	}
	return sum, nil
}
func (s *fakeSummaryStore) GetLatest(ctx context.Context, accountID, providerMessageID string) (domain.Summary, error) {
	return domain.Summary{}, errNotFoundForTest
}
func (s *fakeSummaryStore) Commit(ctx context.Context, sum domain.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, sum)
	return nil
}

var errNotFoundForTest = &testError{"not found"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

type fakeJobStore struct {
	mu       sync.Mutex
	failed   []domain.ErrorCode
	succeeds int
}

func (s *fakeJobStore) Enqueue(ctx context.Context, jobType domain.JobType, accountID, providerMessageID string) (string, bool, error) {
	return "job-1", true, nil
}
func (s *fakeJobStore) Claim(ctx context.Context, workerID string, batch int) ([]domain.Job, error) {
	return nil, nil
}
func (s *fakeJobStore) MarkSucceeded(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeds++
	return nil
}
func (s *fakeJobStore) MarkFailed(ctx context.Context, jobID string, code domain.ErrorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, code)
	return nil
}
func (s *fakeJobStore) StatusCounts(ctx context.Context) (map[domain.JobStatus]int, error) {
	return nil, nil
}
func (s *fakeJobStore) ReclaimStale(ctx context.Context) (int64, error) { return 0, nil }
func (s *fakeJobStore) Requeue(ctx context.Context, jobID string) error { return nil }

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(ctx context.Context, accountID, name string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}

// fakeLLM counts concurrent in-flight calls so tests can assert the
// semaphore actually bounds concurrency, and can simulate a rate-limited
// response on its first N calls before succeeding.
type fakeLLM struct {
	mu          sync.Mutex
	inFlight    int32
	maxInFlight int32
	failFirstN  int
	calls       int
	result      domain.SummaryStruct
}

func (f *fakeLLM) Summarize(ctx context.Context, in LLMInput) (domain.SummaryStruct, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&f.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInFlight, cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call <= f.failFirstN {
		return domain.SummaryStruct{}, ErrRateLimited
	}
	return f.result, nil
}

func testBreaker() *gobreaker.CircuitBreaker[domain.SummaryStruct] {
	return NewCircuitBreaker()
}

func TestWorker_SemaphoreBoundsConcurrency(t *testing.T) {
	llm := &fakeLLM{result: domain.SummaryStruct{Overview: "ok", Urgency: domain.UrgencyLow}}
	emails := &fakeEmailStore{emails: map[string]domain.Email{}}
	for i := 0; i < 6; i++ {
		id := "m" + string(rune('0'+i))
		emails.emails["acct1/"+id] = domain.Email{AccountID: "acct1", ProviderMessageID: id, Subject: "s", Body: "b"}
	}

	w := &Worker{
		WorkerID:  "w1",
		Jobs:      &fakeJobStore{},
		Emails:    emails,
		Summaries: &fakeSummaryStore{existing: map[string]domain.Summary{}},
		LLM:       llm,
		Emitter:   &fakeEmitter{},
		Semaphore: semaphore.NewWeighted(int64(MaxConcurrentRequests)),
		Breaker:   testBreaker(),
		Model:     "test-model",
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		id := "m" + string(rune('0'+i))
		job := domain.Job{JobID: "job-" + id, AccountID: "acct1", ProviderMessageID: id}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.process(context.Background(), job)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&llm.maxInFlight); got > int32(MaxConcurrentRequests) {
		t.Fatalf("expected at most %d concurrent LLM calls, saw %d", MaxConcurrentRequests, got)
	}
}

func TestProcess_CacheHitSkipsLLM(t *testing.T) {
	llm := &fakeLLM{result: domain.SummaryStruct{Overview: "fresh", Urgency: domain.UrgencyLow}}
	email := domain.Email{AccountID: "acct1", ProviderMessageID: "m1", Subject: "hi", Body: "hello there"}
	cleaned, _ := (&Worker{}).runPreprocess(email)
	inputHash := preprocess.InputHash(PromptVersion, "test-model", cleaned)

	cached := domain.Summary{
		AccountID: "acct1", ProviderMessageID: "m1", PromptVersion: PromptVersion,
		Model: "test-model", InputHash: inputHash,
		SummaryStruct: domain.SummaryStruct{Overview: "cached", Urgency: domain.UrgencyMedium},
	}
	summaries := &fakeSummaryStore{existing: map[string]domain.Summary{
		"acct1/m1/" + PromptVersion + "/" + inputHash: cached,
	}}
	jobs := &fakeJobStore{}
	emitter := &fakeEmitter{}

	w := &Worker{
		WorkerID:  "w1",
		Jobs:      jobs,
		Emails:    &fakeEmailStore{emails: map[string]domain.Email{"acct1/m1": email}},
		Summaries: summaries,
		LLM:       llm,
		Emitter:   emitter,
		Semaphore: semaphore.NewWeighted(int64(MaxConcurrentRequests)),
		Breaker:   testBreaker(),
		Model:     "test-model",
	}

	w.process(context.Background(), domain.Job{JobID: "job-1", AccountID: "acct1", ProviderMessageID: "m1"})

	if llm.calls != 0 {
		t.Fatalf("expected no LLM call on cache hit, got %d calls", llm.calls)
	}
	if len(summaries.committed) != 1 || summaries.committed[0].SummaryStruct.Overview != "cached" {
		t.Fatalf("expected the cached summary re-committed, got %+v", summaries.committed)
	}
	if jobs.succeeds != 1 {
		t.Fatalf("expected job marked succeeded, got %d", jobs.succeeds)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one ai_summary_ready event, got %+v", emitter.events)
	}
}

func TestProcess_HappyPath(t *testing.T) {
	llm := &fakeLLM{result: domain.SummaryStruct{Overview: "short summary", Urgency: domain.UrgencyHigh}}
	email := domain.Email{AccountID: "acct1", ProviderMessageID: "m1", Subject: "hi", Body: "hello there"}
	jobs := &fakeJobStore{}
	summaries := &fakeSummaryStore{existing: map[string]domain.Summary{}}
	emitter := &fakeEmitter{}

	w := &Worker{
		WorkerID:  "w1",
		Jobs:      jobs,
		Emails:    &fakeEmailStore{emails: map[string]domain.Email{"acct1/m1": email}},
		Summaries: summaries,
		LLM:       llm,
		Emitter:   emitter,
		Semaphore: semaphore.NewWeighted(int64(MaxConcurrentRequests)),
		Breaker:   testBreaker(),
		Model:     "test-model",
	}

	w.process(context.Background(), domain.Job{JobID: "job-1", AccountID: "acct1", ProviderMessageID: "m1"})

	if llm.calls != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", llm.calls)
	}
	if len(summaries.committed) != 1 || summaries.committed[0].SummaryStruct.Overview != "short summary" {
		t.Fatalf("unexpected committed summary: %+v", summaries.committed)
	}
	if jobs.succeeds != 1 {
		t.Fatalf("expected job marked succeeded, got %d", jobs.succeeds)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one ai_summary_ready event, got %+v", emitter.events)
	}
}

func TestProcess_RateLimitRetryWithinCall(t *testing.T) {
	origWaits := rateLimitWaits
	rateLimitWaits = []time.Duration{time.Millisecond, time.Millisecond}
	defer func() { rateLimitWaits = origWaits }()

	llm := &fakeLLM{failFirstN: 2, result: domain.SummaryStruct{Overview: "recovered", Urgency: domain.UrgencyLow}}
	email := domain.Email{AccountID: "acct1", ProviderMessageID: "m1", Subject: "hi", Body: "hello there"}
	jobs := &fakeJobStore{}
	summaries := &fakeSummaryStore{existing: map[string]domain.Summary{}}

	w := &Worker{
		WorkerID:  "w1",
		Jobs:      jobs,
		Emails:    &fakeEmailStore{emails: map[string]domain.Email{"acct1/m1": email}},
		Summaries: summaries,
		LLM:       llm,
		Emitter:   &fakeEmitter{},
		Semaphore: semaphore.NewWeighted(int64(MaxConcurrentRequests)),
		Breaker:   testBreaker(),
		Model:     "test-model",
	}

	w.process(context.Background(), domain.Job{JobID: "job-1", AccountID: "acct1", ProviderMessageID: "m1"})

	if llm.calls != 3 {
		t.Fatalf("expected 2 rate-limited attempts followed by 1 success, got %d calls", llm.calls)
	}
	if len(summaries.committed) != 1 || summaries.committed[0].SummaryStruct.Overview != "recovered" {
		t.Fatalf("unexpected committed summary: %+v", summaries.committed)
	}
	if len(jobs.failed) != 0 {
		t.Fatalf("expected no mark_failed calls, got %+v", jobs.failed)
	}
	if jobs.succeeds != 1 {
		t.Fatalf("expected job marked succeeded, got %d", jobs.succeeds)
	}
}

func TestProcess_EmailNotFoundFailsJobWithoutCallingLLM(t *testing.T) {
	llm := &fakeLLM{result: domain.SummaryStruct{Overview: "x"}}
	jobs := &fakeJobStore{}

	w := &Worker{
		WorkerID:  "w1",
		Jobs:      jobs,
		Emails:    &fakeEmailStore{emails: map[string]domain.Email{}},
		Summaries: &fakeSummaryStore{existing: map[string]domain.Summary{}},
		LLM:       llm,
		Emitter:   &fakeEmitter{},
		Semaphore: semaphore.NewWeighted(int64(MaxConcurrentRequests)),
		Breaker:   testBreaker(),
		Model:     "test-model",
	}

	w.process(context.Background(), domain.Job{JobID: "job-1", AccountID: "acct1", ProviderMessageID: "missing"})

	if llm.calls != 0 {
		t.Fatalf("expected no LLM call for a missing email, got %d", llm.calls)
	}
	if len(jobs.failed) != 1 || jobs.failed[0] != domain.ErrEmailNotFound {
		t.Fatalf("expected EMAIL_NOT_FOUND failure, got %+v", jobs.failed)
	}
}
