// Package domain holds the value types shared by every core component:
// accounts, emails, sync cursors, jobs, summaries, and the global policy
// record. None of these types owns persistence — see the *store packages.
package domain

import "time"

// Email is a normalized, immutable mailbox message owned by the Email Store.
// Once inserted, only CreatedAt is set by the store; every other field is
// write-once at insert time.
type Email struct {
	AccountID         string    `json:"account_id" db:"account_id"`
	ProviderMessageID string    `json:"provider_message_id" db:"provider_message_id"`
	ThreadID          string    `json:"thread_id,omitempty" db:"thread_id"`
	Subject           string    `json:"subject" db:"subject"`
	Sender            string    `json:"sender" db:"sender"`
	ReceivedAt        time.Time `json:"received_at" db:"received_at"`
	Body              string    `json:"body" db:"body"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// SyncCursor is the per-account opaque provider marker maintained by the
// Sync Cursor Store. CursorValue is never interpreted by the core, only
// passed back to the Provider Adapter on the next pass.
type SyncCursor struct {
	AccountID   string    `json:"account_id" db:"account_id"`
	CursorValue string    `json:"cursor_value" db:"cursor_value"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// GlobalPolicy is the process-wide configuration record consulted by the
// Mailbox Sync Engine at the start of every pass. Changes take effect at
// the next cycle; there is no transactional coupling to job records.
type GlobalPolicy struct {
	WorkerEnabled    bool `json:"worker_enabled"`
	MaxEmailsPerCycle int `json:"max_emails_per_cycle"`
}

// DefaultBootstrapCap is the hard ceiling applied to a fresh account's
// first listing, independent of policy — see spec §9 "Bootstrap budget":
// the stricter of the two bounds always wins.
const DefaultBootstrapCap = 30

// BootstrapCap returns the number of messages a fresh-account bootstrap
// pass may list: the lesser of DefaultBootstrapCap and the policy's
// MaxEmailsPerCycle (a non-positive policy value is treated as "unset"
// and defers entirely to DefaultBootstrapCap).
func (p GlobalPolicy) BootstrapCap() int {
	if p.MaxEmailsPerCycle > 0 && p.MaxEmailsPerCycle < DefaultBootstrapCap {
		return p.MaxEmailsPerCycle
	}
	return DefaultBootstrapCap
}
