package preprocess

import (
	"strings"
	"testing"
)

func TestPipeline_StripsMarkupSignatureAndPII(t *testing.T) {
	body := `<html><body><p>Hi there,</p><p>Please call me at 415-555-0101 or email john@example.com.</p>
<p>See https://example.com/details for more.</p>
<p>Best,<br>Jane</p>
</body></html>`

	text, stats := Pipeline("Re: Project", body, DefaultConfig)

	if strings.Contains(text, "<") {
		t.Errorf("expected markup stripped, got %q", text)
	}
	if stats.EmailsMasked != 1 || stats.PhonesMasked != 1 || stats.URLsMasked != 1 {
		t.Errorf("unexpected mask stats: %+v", stats)
	}
	if strings.Contains(text, "john@example.com") {
		t.Errorf("email not redacted: %q", text)
	}
	if strings.Contains(text, "Jane") {
		t.Errorf("expected signature block removed: %q", text)
	}
}

func TestPipeline_StripsReplyChainWhenEnabled(t *testing.T) {
	body := "Sounds good to me.\n\nOn Tue, Jan 1, 2026 wrote:\n> Let's sync tomorrow."
	text, stats := Pipeline("Re: Sync", body, Config{StripReplyChains: true})
	if !stats.ReplyChainFound {
		t.Error("expected reply chain detected")
	}
	if strings.Contains(text, "Let's sync tomorrow") {
		t.Errorf("expected quoted text removed: %q", text)
	}
}

func TestPipeline_KeepsReplyChainWhenDisabled(t *testing.T) {
	body := "Sounds good to me.\n\nOn Tue, Jan 1, 2026 wrote:\n> Let's sync tomorrow."
	text, stats := Pipeline("Re: Sync", body, Config{StripReplyChains: false})
	if stats.ReplyChainFound {
		t.Error("expected reply chain removal to be gated off")
	}
	if !strings.Contains(text, "Let's sync tomorrow") {
		t.Errorf("expected quoted text preserved when gated off: %q", text)
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	body := `<p>Hi, email me at a@b.com or call 415-555-0101.</p><p>Best,<br>Sam</p>`
	first, _ := Pipeline("Subj", body, DefaultConfig)
	second, _ := Pipeline("Subj", first, DefaultConfig)
	if first != second {
		t.Errorf("preprocess not idempotent:\nfirst:  %q\nsecond: %q", first, second)
	}
}

func TestPipeline_SkipCandidateForShortText(t *testing.T) {
	_, stats := Pipeline("Subj", "ok thanks", DefaultConfig)
	if !stats.SkipCandidate {
		t.Error("expected short text flagged as skip candidate")
	}
}

func TestEstimateTokens_HigherRatioForCJK(t *testing.T) {
	latin := strings.Repeat("a", 100)
	cjk := strings.Repeat("日", 100)
	latinTokens := EstimateTokens(latin)
	cjkTokens := EstimateTokens(cjk)
	if cjkTokens <= latinTokens {
		t.Errorf("expected CJK token estimate > Latin for equal char count: cjk=%d latin=%d", cjkTokens, latinTokens)
	}
}

func TestSmartTruncate_KeepsLeadingAndTrailing(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteString("word ")
	}
	text := sb.String()

	truncated := SmartTruncate(text, 100)
	if !strings.HasPrefix(truncated, "word word") {
		t.Errorf("expected leading content preserved, got prefix %q", truncated[:20])
	}
	if !strings.Contains(truncated, "[...truncated...]") {
		t.Error("expected truncation marker")
	}
}

func TestInputHash_DeterministicAndSensitiveToInputs(t *testing.T) {
	h1 := InputHash("v1", "model-a", "cleaned text")
	h2 := InputHash("v1", "model-a", "cleaned text")
	h3 := InputHash("v2", "model-a", "cleaned text")
	if h1 != h2 {
		t.Error("expected identical inputs to hash identically")
	}
	if h1 == h3 {
		t.Error("expected different prompt_version to change the hash")
	}
}
