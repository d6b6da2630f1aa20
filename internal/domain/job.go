package domain

import "time"

// JobStatus is the closed set of states a Job may occupy.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobDead      JobStatus = "dead"
)

// JobType enumerates the kinds of work the Job Store can hold. The core
// currently defines exactly one.
type JobType string

// JobTypeSummarize is the only job type the core currently produces.
const JobTypeSummarize JobType = "summarize_email"

// ErrorCode is the closed taxonomy of job failure reasons. Every non-nil
// failure returned from a component boundary carries exactly one of these.
type ErrorCode string

const (
	ErrEmailNotFound    ErrorCode = "EMAIL_NOT_FOUND"
	ErrPreprocessFailed ErrorCode = "PREPROCESS_FAILED"
	ErrMistralFailed    ErrorCode = "MISTRAL_FAILED"
	ErrParseFailed      ErrorCode = "PARSE_FAILED"
	ErrStoreFailed      ErrorCode = "STORE_FAILED"
	ErrAuthRequired     ErrorCode = "AUTH_REQUIRED"
	ErrLostLease        ErrorCode = "LOST_LEASE"
)

// Retryable reports whether a job carrying this error code should be
// retried with backoff (true) or dead-lettered immediately (false).
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrMistralFailed, ErrParseFailed, ErrStoreFailed:
		return true
	default:
		return false
	}
}

// Job is one unit of summarization work for one (account, message) under
// the job's job_type, owned by the Job Store.
type Job struct {
	JobID             string     `json:"job_id" db:"job_id"`
	JobType           JobType    `json:"job_type" db:"job_type"`
	AccountID         string     `json:"account_id" db:"account_id"`
	ProviderMessageID string     `json:"provider_message_id" db:"provider_message_id"`
	Status            JobStatus  `json:"status" db:"status"`
	Attempts          int        `json:"attempts" db:"attempts"`
	RunAfter          time.Time  `json:"run_after" db:"run_after"`
	LockedBy          *string    `json:"locked_by,omitempty" db:"locked_by"`
	LockedAt          *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	LastErrorCode     *ErrorCode `json:"last_error_code,omitempty" db:"last_error_code"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty" db:"last_error_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// MaxAttempts is the number of failed attempts after which a retryable
// job is dead-lettered instead of re-queued.
const MaxAttempts = 5

// BackoffBase is the base of the exponential retry schedule: step n waits
// BackoffBase * 2^n.
const BackoffBase = 2 * time.Minute

// Backoff returns the run_after delay for the given 1-based attempt
// number, following the sequence 2m, 4m, 8m, 16m.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// LeaseTimeout is how long a job may remain "running" before another
// worker may reclaim it as though it were queued again.
const LeaseTimeout = 10 * time.Minute
