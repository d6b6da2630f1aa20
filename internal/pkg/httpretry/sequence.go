package httpretry

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// RetryAfter parses a Retry-After response header, which may be either a
// number of seconds or an HTTP-date, per RFC 7231 §7.1.3. It returns
// (0, false) if the header is absent or unparseable.
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// WaitSequence runs fn in a loop, sleeping for each duration in waits
// between attempts whenever fn reports retry=true. It stops at the first
// non-retry result, when waits is exhausted, or when ctx is done. Unlike
// RetryClient, callers control the exact wait values — this is what the
// Summarizer Worker's fixed "10s, 30s, 60s" 429 ladder uses (spec.md §4.4
// step 5), instead of RetryClient's exponential-backoff-with-jitter
// policy which is tuned for provider adapter HTTP calls, not the LLM
// call's fixed retry contract.
//
// before, if non-nil, runs immediately before each sleep. The
// Summarizer Worker passes nil here: it releases its concurrency
// semaphore inside fn itself (right after each attempt, win or lose),
// so the permit is already free by the time this function's own sleep
// begins.
func WaitSequence(ctx context.Context, waits []time.Duration, before func(), fn func(attempt int) (retry bool, err error)) error {
	retry, err := fn(0)
	if !retry {
		return err
	}
	for i, wait := range waits {
		if before != nil {
			before()
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		retry, err = fn(i + 1)
		if !retry {
			return err
		}
	}
	return err
}
