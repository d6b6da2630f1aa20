// Package syncengine implements the Mailbox Sync Engine (C7): one sync
// pass per account, driving the Provider Adapter into the Email Store,
// Sync Cursor Store, and Job Store, and emitting emails_updated on
// completion (spec.md §4.1).
//
// Grounded on broyeztony-vigil's discovery.Service poll-since-cursor
// loop (list → fetch → normalize → persist → advance marker), fused
// with the teacher's batching and budget-cap discipline from
// internal/worker/campaign_processor.go.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/credentials"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/cursorstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/emailstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/events"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/jobstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/logging"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/provider"
)

// Status is the outcome of one sync pass (spec.md §4.1 public contract).
type Status string

const (
	StatusDone         Status = "done"
	StatusAuthRequired Status = "auth_required"
	StatusError        Status = "error"
)

// Result reports what a pass accomplished.
type Result struct {
	NewCount       int
	ProcessedCount int
	Status         Status
}

// maxJobsPerPass caps job enqueuing within one pass independent of the
// email budget, so a large bootstrap listing can't flood the summarizer
// queue in one shot (spec.md §4.1 "Budget caps").
const maxJobsPerPass = 30

// PolicyLookup resolves the process-wide GlobalPolicy consulted at the
// start of every pass (spec.md §4.1 step 1, §3 GlobalPolicy).
type PolicyLookup func(ctx context.Context) (domain.GlobalPolicy, error)

// Engine drives one account's sync pass. All dependencies are narrow
// interfaces so tests substitute fakes without a database or network.
type Engine struct {
	Credentials credentials.Accessor
	Provider    provider.Provider
	Emails      emailstore.Store
	Cursors     cursorstore.Store
	Jobs        jobstore.Store
	Emitter     events.Emitter
	Policy      PolicyLookup
}

// Sync performs one pass for accountID (spec.md §4.1 "Public contract").
// The caller has already verified the account is connected.
func (e *Engine) Sync(ctx context.Context, accountID string) (Result, error) {
	log := logging.Component("syncengine")

	policy, err := e.Policy(ctx)
	if err != nil {
		return Result{Status: StatusError}, fmt.Errorf("syncengine: load policy: %w", err)
	}

	cursor, err := e.Cursors.Get(ctx, accountID)
	bootstrapping := errors.Is(err, cursorstore.ErrNotFound)
	if err != nil && !bootstrapping {
		return Result{Status: StatusError}, fmt.Errorf("syncengine: load cursor: %w", err)
	}

	limit := policy.MaxEmailsPerCycle
	if bootstrapping {
		limit = policy.BootstrapCap()
	}
	if limit <= 0 {
		limit = domain.DefaultBootstrapCap
	}

	bundle, err := e.Credentials.TokenBundle(ctx, accountID)
	if err != nil {
		log.Warn().Str("account_id", accountID).Err(err).Msg("credential lookup failed, aborting pass")
		return Result{Status: StatusAuthRequired}, nil
	}

	listing, err := e.Provider.ListSince(ctx, accountID, bundle.AccessToken, cursor.CursorValue, limit)
	if err != nil {
		if provider.IsAuthError(err) {
			log.Warn().Str("account_id", accountID).Err(err).Msg("provider auth error, aborting pass")
			return Result{Status: StatusAuthRequired}, nil
		}
		return Result{Status: StatusError}, fmt.Errorf("syncengine: list since cursor: %w", err)
	}

	ids := listing.MessageIDs
	if len(ids) > limit {
		ids = ids[:limit]
	}

	newCount := 0
	processed := 0
	jobsEnqueued := 0

	for _, id := range ids {
		raw, err := e.Provider.FetchMessage(ctx, accountID, bundle.AccessToken, id)
		if err != nil {
			if provider.IsAuthError(err) {
				log.Warn().Str("account_id", accountID).Err(err).Msg("provider auth error mid-batch, aborting pass")
				return Result{Status: StatusAuthRequired}, nil
			}
			// Failure semantics (spec.md §4.1): commit the prefix that
			// succeeded and stop; the cursor does not advance past this
			// point, so the next pass re-lists from the same marker —
			// already-inserted rows are re-skipped by the store's
			// uniqueness conflict, making this safe to retry.
			log.Error().Str("account_id", accountID).Str("message_id", id).Err(err).
				Msg("fetch failed mid-batch, stopping pass with partial progress")
			return Result{NewCount: newCount, ProcessedCount: processed, Status: StatusDone}, nil
		}

		email := normalize(accountID, raw)
		inserted, err := e.Emails.Insert(ctx, email)
		if err != nil {
			return Result{NewCount: newCount, ProcessedCount: processed, Status: StatusError},
				fmt.Errorf("syncengine: insert email: %w", err)
		}
		processed++

		if inserted {
			newCount++
			if jobsEnqueued < maxJobsPerPass {
				if _, _, err := e.Jobs.Enqueue(ctx, domain.JobTypeSummarize, accountID, email.ProviderMessageID); err != nil {
					log.Error().Str("account_id", accountID).Str("message_id", email.ProviderMessageID).
						Err(err).Msg("job enqueue failed")
				} else {
					jobsEnqueued++
				}
			}
		}
	}

	if listing.NextCursor != "" {
		if err := e.Cursors.Advance(ctx, accountID, listing.NextCursor); err != nil {
			return Result{NewCount: newCount, ProcessedCount: processed, Status: StatusError},
				fmt.Errorf("syncengine: advance cursor: %w", err)
		}
	}

	// Emitted unconditionally, including count_new == 0 (SPEC_FULL.md §13
	// "Delta sync with zero new messages"): UI clients that only listen
	// for emails_updated to refresh a "last checked" timestamp don't need
	// a separate heartbeat event.
	e.Emitter.Emit(ctx, accountID, events.EventEmailsUpdated, map[string]any{
		"account_id": accountID,
		"count_new":  newCount,
	})

	return Result{NewCount: newCount, ProcessedCount: processed, Status: StatusDone}, nil
}

// normalize maps a provider RawMessage into the Email schema (spec.md
// §4.1 step 4). The provider's epoch timestamp is authoritative and
// timezone-free; a textual date header is only a fallback, and a
// zone-less header is treated as UTC (logged, since that's a guess).
func normalize(accountID string, raw provider.RawMessage) domain.Email {
	receivedAt := raw.EpochReceivedAt
	if !raw.HasEpoch {
		if parsed, ok := parseDateHeader(raw.DateHeader); ok {
			receivedAt = parsed
		} else {
			logging.Component("syncengine").Warn().
				Str("message_id", raw.ProviderMessageID).
				Msg("no epoch timestamp or parseable date header, defaulting to now (UTC)")
			receivedAt = time.Now()
		}
	}
	return domain.Email{
		AccountID:         accountID,
		ProviderMessageID: raw.ProviderMessageID,
		ThreadID:          raw.ThreadID,
		Subject:           raw.Subject,
		Sender:            raw.Sender,
		ReceivedAt:        receivedAt.UTC(),
		Body:              raw.Body,
	}
}

// dateLayouts are the zoned instant formats accepted from a textual Date
// header, tried in order.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
}

func parseDateHeader(header string) (time.Time, bool) {
	if header == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, header); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range []string{"Mon, 02 Jan 2006 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, header); err == nil {
			logging.Component("syncengine").Warn().
				Msg("date header has no zone, treating it as UTC")
			return t, true
		}
	}
	return time.Time{}, false
}
