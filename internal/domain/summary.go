package domain

import "time"

// Urgency is the closed triage classification attached to a summary.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// MaxOverviewChars and MaxActionItems bound the structured summary fields
// regardless of what the LLM returns — enforced by the worker before
// commit, never relaxed by configuration.
const (
	MaxOverviewChars = 200
	MaxActionItems   = 5
)

// SummaryStruct is the structured record an LLM call produces.
type SummaryStruct struct {
	Overview    string   `json:"overview"`
	ActionItems []string `json:"action_items"`
	Urgency     Urgency  `json:"urgency"`
}

// Clamp truncates Overview to MaxOverviewChars and ActionItems to
// MaxActionItems, mutating the receiver in place. Called unconditionally
// after parsing an LLM response, before commit.
func (s *SummaryStruct) Clamp() {
	if runes := []rune(s.Overview); len(runes) > MaxOverviewChars {
		s.Overview = string(runes[:MaxOverviewChars])
	}
	if len(s.ActionItems) > MaxActionItems {
		s.ActionItems = s.ActionItems[:MaxActionItems]
	}
}

// Summary is the committed result of one successful LLM invocation for a
// given (account, message, prompt_version), owned by the Summary Store.
type Summary struct {
	AccountID         string        `json:"account_id" db:"account_id"`
	ProviderMessageID string        `json:"provider_message_id" db:"provider_message_id"`
	PromptVersion     string        `json:"prompt_version" db:"prompt_version"`
	Model             string        `json:"model" db:"model"`
	InputHash         string        `json:"input_hash" db:"input_hash"`
	SummaryStruct     SummaryStruct `json:"summary_json" db:"summary_json"`
	SummaryText       string        `json:"summary_text" db:"summary_text"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}
