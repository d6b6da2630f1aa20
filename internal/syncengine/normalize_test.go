package syncengine

import (
	"testing"
	"time"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/provider"
)

func TestNormalize_UTCEnforced(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	zoned := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)

	raw := provider.RawMessage{
		ProviderMessageID: "m1",
		EpochReceivedAt:   zoned,
		HasEpoch:          true,
	}
	email := normalize("acct1", raw)
	if email.ReceivedAt.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", email.ReceivedAt.Location())
	}
	if !email.ReceivedAt.Equal(zoned) {
		t.Fatalf("expected same instant, got %v want %v", email.ReceivedAt, zoned)
	}
}

func TestNormalize_TextualDateHeaderFallbackConvertedToUTC(t *testing.T) {
	raw := provider.RawMessage{
		ProviderMessageID: "m2",
		HasEpoch:          false,
		DateHeader:        "Mon, 02 Mar 2026 10:00:00 -0800",
	}
	email := normalize("acct1", raw)
	if email.ReceivedAt.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", email.ReceivedAt.Location())
	}
	if email.ReceivedAt.Hour() != 18 {
		t.Fatalf("expected -0800 converted to UTC (18:00), got hour=%d", email.ReceivedAt.Hour())
	}
}
