// Package summarizer implements the Summarizer Worker (C9): drains the
// job queue with bounded concurrency, rate-limit-aware retry, idempotent
// commits, and realtime notification (spec.md §4.4).
//
// Grounded on other_examples' SummaryWorkerService (cache-check-before-
// LLM-call, claim/process/commit loop) fused with the teacher's worker
// package conventions (internal/worker/send_worker_v2.go: claim a batch,
// dispatch per-job processing, classify errors into retry vs dead-letter).
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/emailstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/events"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/jobstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/httpretry"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/logging"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/preprocess"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarystore"
)

// cacheKey identifies one cache-check entry, mirroring the Summary
// Store's uniqueness key plus input_hash (spec.md §4.4 step 3).
type cacheKey struct {
	accountID         string
	providerMessageID string
	promptVersion     string
	inputHash         string
}

// Worker drains the Job Store, one claimed batch at a time. Dependencies
// are narrow interfaces so tests run without a database or network.
type Worker struct {
	WorkerID string

	Jobs      jobstore.Store
	Emails    emailstore.Store
	Summaries summarystore.Store
	LLM       LLM
	Emitter   events.Emitter

	Semaphore *semaphore.Weighted
	Breaker   *gobreaker.CircuitBreaker[domain.SummaryStruct]

	BatchSize        int
	IdleSleep        time.Duration
	PreprocessConfig preprocess.Config
	Model            string

	cacheOnce sync.Once
	cache     *lru.Cache[cacheKey, domain.SummaryStruct]
}

// NewWorkerID builds the hostname+pid identity string recorded on every
// claimed job for lease attribution (spec.md §4.4 "Scheduling model").
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// NewCircuitBreaker builds the circuit breaker placed around every LLM
// call, grounded on the teacher's email-service gobreaker.Settings
// (ReadyToTrip past a failure-ratio threshold once a minimum request
// volume is seen) — generalized to gobreaker v1's generic
// CircuitBreaker[domain.SummaryStruct] so Execute returns a typed result
// without a manual type assertion.
func NewCircuitBreaker() *gobreaker.CircuitBreaker[domain.SummaryStruct] {
	return gobreaker.NewCircuitBreaker[domain.SummaryStruct](gobreaker.Settings{
		Name:        "summarizer_llm",
		MaxRequests: uint32(MaxConcurrentRequests),
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
	})
}

func (w *Worker) lruCache() *lru.Cache[cacheKey, domain.SummaryStruct] {
	w.cacheOnce.Do(func() {
		c, err := lru.New[cacheKey, domain.SummaryStruct](cacheSize)
		if err != nil {
			// Only returns an error for a non-positive size, which
			// cacheSize never is.
			panic(fmt.Sprintf("summarizer: lru.New: %v", err))
		}
		w.cache = c
	})
	return w.cache
}

// Run drains the queue until ctx is canceled (spec.md §4.4 "Main loop").
func (w *Worker) Run(ctx context.Context) {
	log := logging.Component("summarizer").With().Str("worker_id", w.WorkerID).Logger()
	batch := w.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	idle := w.IdleSleep
	if idle <= 0 {
		idle = DefaultIdleSleep
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := w.Jobs.Claim(ctx, w.WorkerID, batch)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			sleep(ctx, idle)
			continue
		}
		if len(jobs) == 0 {
			sleep(ctx, idle)
			continue
		}

		var wg sync.WaitGroup
		for _, job := range jobs {
			job := job
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.process(ctx, job)
			}()
		}
		wg.Wait()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// process implements spec.md §4.4 "process(job)".
func (w *Worker) process(ctx context.Context, job domain.Job) {
	log := logging.Component("summarizer").With().
		Str("worker_id", w.WorkerID).Str("job_id", job.JobID).Logger()

	email, err := w.Emails.Get(ctx, job.AccountID, job.ProviderMessageID)
	if errors.Is(err, emailstore.ErrNotFound) {
		w.fail(ctx, job.JobID, domain.ErrEmailNotFound, log)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("email lookup failed")
		w.fail(ctx, job.JobID, domain.ErrStoreFailed, log)
		return
	}

	cleaned, _ := w.runPreprocess(email)
	inputHash := preprocess.InputHash(PromptVersion, w.Model, cleaned)

	key := cacheKey{
		accountID:         job.AccountID,
		providerMessageID: job.ProviderMessageID,
		promptVersion:     PromptVersion,
		inputHash:         inputHash,
	}

	summary, found := w.checkCache(ctx, key)
	if !found {
		var err error
		summary, err = w.callLLM(ctx, LLMInput{Subject: email.Subject, Body: cleaned})
		if err != nil {
			w.classifyAndFail(ctx, job.JobID, err, log)
			return
		}
		summary.Clamp()
	}

	sum := domain.Summary{
		AccountID:         job.AccountID,
		ProviderMessageID: job.ProviderMessageID,
		PromptVersion:     PromptVersion,
		Model:             w.Model,
		InputHash:         inputHash,
		SummaryStruct:     summary,
		SummaryText:       summary.Overview,
		CreatedAt:         time.Now().UTC(),
	}
	if err := w.Summaries.Commit(ctx, sum); err != nil {
		log.Error().Err(err).Msg("summary commit failed")
		w.fail(ctx, job.JobID, domain.ErrStoreFailed, log)
		return
	}
	w.lruCache().Add(key, summary)

	if err := w.Jobs.MarkSucceeded(ctx, job.JobID); err != nil {
		if errors.Is(err, jobstore.ErrLostLease) {
			log.Warn().Msg("lease lost before completion, another worker owns this job")
			return
		}
		log.Error().Err(err).Msg("mark_succeeded failed")
		return
	}

	w.Emitter.Emit(ctx, job.AccountID, events.EventAISummaryReady, map[string]any{
		"account_id":          job.AccountID,
		"provider_message_id": job.ProviderMessageID,
		"timestamp":           sum.CreatedAt,
	})
}

// runPreprocess isolates the Preprocessor call so a future panic inside
// it (e.g. an unanticipated malformed body) is classified
// PREPROCESS_FAILED instead of crashing the worker goroutine — mirroring
// the teacher's per-job recover() discipline (SPEC_FULL.md §7).
func (w *Worker) runPreprocess(email domain.Email) (cleaned string, stats preprocess.Stats) {
	defer func() {
		if r := recover(); r != nil {
			logging.Component("summarizer").Error().
				Interface("panic", r).Msg("preprocess panicked, treating as failure")
			cleaned = email.Body
		}
	}()
	return preprocess.Pipeline(email.Subject, email.Body, w.PreprocessConfig)
}

// checkCache implements spec.md §4.4 step 3: an in-process LRU fast path
// in front of the durable Summary Store.
func (w *Worker) checkCache(ctx context.Context, key cacheKey) (domain.SummaryStruct, bool) {
	if s, ok := w.lruCache().Get(key); ok {
		return s, true
	}
	existing, err := w.Summaries.GetByHash(ctx, key.accountID, key.providerMessageID, key.promptVersion, key.inputHash)
	if err != nil {
		return domain.SummaryStruct{}, false
	}
	w.lruCache().Add(key, existing.SummaryStruct)
	return existing.SummaryStruct, true
}

// callLLM acquires the process-wide semaphore around each attempt and
// retries the fixed 429 ladder, releasing the semaphore for the duration
// of each wait (spec.md §4.4 steps 4–5).
func (w *Worker) callLLM(ctx context.Context, in LLMInput) (domain.SummaryStruct, error) {
	var result domain.SummaryStruct
	var succeeded bool

	attempt := func(n int) (retry bool, err error) {
		if err := w.Semaphore.Acquire(ctx, 1); err != nil {
			return false, err
		}
		out, callErr := w.Breaker.Execute(func() (domain.SummaryStruct, error) {
			return w.LLM.Summarize(ctx, in)
		})
		w.Semaphore.Release(1)

		if callErr == nil {
			result = out
			succeeded = true
			return false, nil
		}
		if errors.Is(callErr, ErrRateLimited) {
			logging.Component("summarizer").Warn().Int("attempt", n).
				Msg("llm call rate limited, backing off")
			return true, callErr
		}
		return false, callErr
	}

	err := httpretry.WaitSequence(ctx, rateLimitWaits, nil, attempt)
	if !succeeded {
		if err == nil {
			err = errors.New("summarizer: llm call failed with no error detail")
		}
		return domain.SummaryStruct{}, fmt.Errorf("summarizer: llm call: %w", err)
	}
	return result, nil
}

// classifyAndFail maps a callLLM error onto the error taxonomy (spec.md
// §4.4 "Error classification") and calls mark_failed.
func (w *Worker) classifyAndFail(ctx context.Context, jobID string, err error, log zerolog.Logger) {
	switch {
	case errors.Is(err, errParseFailed):
		w.fail(ctx, jobID, domain.ErrParseFailed, log)
	default:
		w.fail(ctx, jobID, domain.ErrMistralFailed, log)
	}
}

func (w *Worker) fail(ctx context.Context, jobID string, code domain.ErrorCode, log zerolog.Logger) {
	if err := w.Jobs.MarkFailed(ctx, jobID, code); err != nil {
		log.Error().Err(err).Str("error_code", string(code)).Msg("mark_failed itself failed")
	}
}
