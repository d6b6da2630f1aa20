// Package preprocess implements the Preprocessor (C8): a pure
// transformation of a raw email body into a minimal, model-safe input,
// plus token-budget estimation and smart truncation. Every function here
// is a pure function of its inputs — no I/O, no component dependencies —
// so the Summarizer Worker can call it synchronously inline.
package preprocess

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Stats reports what the pipeline did to the input, for logging and for
// the worker's skip-summarization decision.
type Stats struct {
	OriginalChars   int
	CleanedChars    int
	EmailsMasked    int
	PhonesMasked    int
	URLsMasked      int
	SignatureFound  bool
	ReplyChainFound bool
	Truncated       bool
	EstimatedTokens int
	SkipCandidate   bool
}

// Config gates the optional stages of the pipeline.
type Config struct {
	// StripReplyChains enables reply-chain removal (spec.md §6
	// STRIP_REPLY_CHAINS, default on).
	StripReplyChains bool
}

// DefaultConfig matches spec.md §4.3's stated default.
var DefaultConfig = Config{StripReplyChains: true}

// Token budgeting constants (spec.md §4.3) — compiled-in, never
// configuration (spec.md §6: "Not recognized... by design").
const (
	MaxInputTokens  = 4000
	MaxOutputTokens = 300
	PromptOverhead  = 150
	SafeInputBudget = MaxInputTokens - PromptOverhead

	// bypassThresholdChars is the "very short" cutoff below which an
	// email is flagged as a skip-summarization candidate.
	bypassThresholdChars = 40
)

// Pipeline runs the full preprocessing pipeline on (subject, body),
// returning the cleaned text and the stats the worker and logger need.
// cfg.StripReplyChains gates step 3; every other step always runs
// (spec.md §4.3 steps 1, 2, 4, 5 are unconditional).
func Pipeline(subject, body string, cfg Config) (string, Stats) {
	stats := Stats{OriginalChars: len(body)}

	text := stripMarkup(body)

	text, sigFound := stripSignature(text)
	stats.SignatureFound = sigFound

	if cfg.StripReplyChains {
		var replyFound bool
		text, replyFound = stripReplyChain(text)
		stats.ReplyChainFound = replyFound
	}

	text = normalizeWhitespace(text)

	text, maskStats := maskPII(text)
	stats.EmailsMasked = maskStats.emails
	stats.PhonesMasked = maskStats.phones
	stats.URLsMasked = maskStats.urls

	stats.CleanedChars = len(text)
	stats.EstimatedTokens = EstimateTokens(text)
	stats.SkipCandidate = len(strings.TrimSpace(text)) < bypassThresholdChars

	if stats.EstimatedTokens > SafeInputBudget {
		text = SmartTruncate(text, SafeInputBudget)
		stats.Truncated = true
		stats.EstimatedTokens = EstimateTokens(text)
	}

	return text, stats
}

var htmlBlockBreakRegex = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>|</tr>|</h[1-6]>`)
var htmlTagRegex = regexp.MustCompile(`(?is)<script.*?</script>|<style.*?</style>|<[^>]+>`)
var htmlEntityRegex = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)

var htmlEntities = map[string]string{
	"&nbsp;": " ", "&amp;": "&", "&lt;": "<", "&gt;": ">", "&quot;": `"`, "&#39;": "'", "&apos;": "'",
}

// stripMarkup reduces an HTML body to plain text (spec.md §4.3 step 1).
// Bodies that don't look like HTML are returned unchanged, with no
// entity decoding.
// Block-level closing tags become newlines first so later line-oriented
// heuristics (signature/reply-chain detection) see one logical line per
// block, the way a text/plain rendering of the same message would.
func stripMarkup(body string) string {
	if !looksLikeHTML(body) {
		return body
	}
	text := htmlBlockBreakRegex.ReplaceAllString(body, "\n")
	text = htmlTagRegex.ReplaceAllString(text, " ")
	text = htmlEntityRegex.ReplaceAllStringFunc(text, func(e string) string {
		if repl, ok := htmlEntities[e]; ok {
			return repl
		}
		return " "
	})
	return text
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<p>") || strings.Contains(lower, "<br")
}

// signatureDelimiters are lines heuristically marking the start of a
// trailing signature block, across the locales the preprocessor
// supports.
var signatureDelimiters = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^--\s*$`),
	regexp.MustCompile(`(?mi)^(best|regards|thanks|thank you|sincerely|cheers|cordialement|saludos|mit freundlichen grüßen)[,.]?\s*$`),
	regexp.MustCompile(`(?mi)^sent from my (iphone|android|samsung|mobile)`),
}

// stripSignature removes a trailing signature block if a delimiter is
// found (spec.md §4.3 step 2).
func stripSignature(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, re := range signatureDelimiters {
			if re.MatchString(trimmed) {
				return strings.Join(lines[:i], "\n"), true
			}
		}
	}
	return text, false
}

// replyChainMarkers detect the start of a quoted previous message.
var replyChainMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)^on .+ wrote:\s*$`),
	regexp.MustCompile(`(?mi)^le .+ a écrit\s*:\s*$`),
	regexp.MustCompile(`(?mi)^el .+ escribió\s*:\s*$`),
	regexp.MustCompile(`(?m)^>.*$`),
	regexp.MustCompile(`(?mi)^-{2,}\s*original message\s*-{2,}\s*$`),
}

// stripReplyChain removes quoted previous messages (spec.md §4.3 step
// 3), gated by Config.StripReplyChains.
func stripReplyChain(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, re := range replyChainMarkers {
			if re.MatchString(trimmed) {
				return strings.Join(lines[:i], "\n"), true
			}
		}
	}
	return text, false
}

var blankLinesRegex = regexp.MustCompile(`\n{3,}`)
var trailingSpaceRegex = regexp.MustCompile(`[ \t]+\n`)

// normalizeWhitespace collapses runs of blank lines and trims
// (spec.md §4.3 step 4).
func normalizeWhitespace(text string) string {
	text = trailingSpaceRegex.ReplaceAllString(text, "\n")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type maskCounts struct {
	emails, phones, urls int
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
var phonePattern = regexp.MustCompile(`\+?\d[\d\-\s().]{7,}\d`)
var urlPattern = regexp.MustCompile(`https?://\S+`)

// maskPII replaces email addresses, phone numbers, and URLs with stable
// redaction tokens (spec.md §4.3 step 5).
func maskPII(text string) (string, maskCounts) {
	var counts maskCounts

	text = urlPattern.ReplaceAllStringFunc(text, func(string) string {
		counts.urls++
		return "[URL_REDACTED]"
	})
	text = emailPattern.ReplaceAllStringFunc(text, func(string) string {
		counts.emails++
		return "[EMAIL_REDACTED]"
	})
	text = phonePattern.ReplaceAllStringFunc(text, func(string) string {
		counts.phones++
		return "[PHONE_REDACTED]"
	})
	return text, counts
}

// cjkRange covers CJK Unified Ideographs, Hiragana/Katakana, and Hangul;
// arabicRange covers the Arabic block — both scripts need a lower
// chars-per-token ratio than Latin text (spec.md §4.3: "higher ratio for
// CJK/Arabic scripts").
func isDenseScriptRune(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana/Katakana
		(r >= 0xAC00 && r <= 0xD7A3) || // Hangul syllables
		(r >= 0x0600 && r <= 0x06FF) // Arabic
}

// EstimateTokens approximates token count from character count: roughly
// 4 characters per token for Latin-script text, and roughly 1.5
// characters per token for CJK/Arabic text, where each character more
// often stands alone as a token (spec.md §4.3).
func EstimateTokens(text string) int {
	var plain, dense int
	for _, r := range text {
		if isDenseScriptRune(r) {
			dense++
		} else {
			plain++
		}
	}
	tokens := float64(plain)/4.0 + float64(dense)/1.5
	return int(tokens + 0.5)
}

// SmartTruncate keeps the leading 20% and trailing 40% of text (by
// estimated token budget) and discards the middle, preserving
// greeting/context and conclusion/action areas (spec.md §4.3 "Smart
// truncation"). budgetTokens is the target token count for the result.
func SmartTruncate(text string, budgetTokens int) string {
	if EstimateTokens(text) <= budgetTokens {
		return text
	}
	budgetChars := budgetTokens * 4
	leadChars := int(float64(budgetChars) * 0.2)
	trailChars := int(float64(budgetChars) * 0.4)

	runes := []rune(text)
	if leadChars+trailChars >= len(runes) {
		return text
	}
	lead := string(runes[:leadChars])
	trail := string(runes[len(runes)-trailChars:])
	return lead + "\n\n[...truncated...]\n\n" + trail
}

// InputHash computes a deterministic content fingerprint over
// (promptVersion, model, cleanedText), used by the worker to dedup
// against existing summaries (spec.md §4.3 "Output fingerprint").
func InputHash(promptVersion, model, cleanedText string) string {
	h := sha256.New()
	h.Write([]byte(promptVersion))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(cleanedText))
	return hex.EncodeToString(h.Sum(nil))
}
