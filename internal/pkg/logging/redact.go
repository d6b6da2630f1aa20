package logging

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
//
// Carried over from the teacher's logger package — the one piece of that
// package's logic spec.md implicitly requires (mailbox content must never
// land verbatim in process logs).
func RedactEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmailsInString finds and masks every embedded email address in s,
// leaving the rest of the text untouched. Components logging a free-form
// string that might contain a mailbox address (e.g. a provider error
// message) should pass it through this before attaching it as a field.
func RedactEmailsInString(s string) string {
	return emailRegex.ReplaceAllStringFunc(s, RedactEmail)
}

// redactHook is installed on every Logger returned by New. zerolog hooks
// cannot rewrite the message text itself (it's already captured by the
// time the hook runs), so this is a trip-wire, not the redaction
// mechanism: it flags any log line whose message still contains a raw
// address so it shows up in monitoring. The actual guarantee comes from
// call sites passing subject/sender/body fields through RedactEmail or
// RedactEmailsInString before attaching them; a field attached without
// that step (account_id, for one) is logged as given.
type redactHook struct{}

func (redactHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if strings.ContainsRune(msg, '@') {
		e.Bool("unredacted_pii_risk", true)
	}
}
