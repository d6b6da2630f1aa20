package domain

import (
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	want := []time.Duration{2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute}
	for i, w := range want {
		got := Backoff(i + 1)
		if got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestErrorCode_Retryable(t *testing.T) {
	cases := map[ErrorCode]bool{
		ErrMistralFailed:    true,
		ErrParseFailed:      true,
		ErrStoreFailed:      true,
		ErrEmailNotFound:    false,
		ErrPreprocessFailed: false,
		ErrAuthRequired:     false,
		ErrLostLease:        false,
	}
	for code, want := range cases {
		if got := code.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", code, got, want)
		}
	}
}

func TestGlobalPolicy_BootstrapCap(t *testing.T) {
	cases := []struct {
		name   string
		policy GlobalPolicy
		want   int
	}{
		{"unset defers to default", GlobalPolicy{}, DefaultBootstrapCap},
		{"stricter policy wins", GlobalPolicy{MaxEmailsPerCycle: 10}, 10},
		{"looser policy ignored", GlobalPolicy{MaxEmailsPerCycle: 500}, DefaultBootstrapCap},
	}
	for _, c := range cases {
		if got := c.policy.BootstrapCap(); got != c.want {
			t.Errorf("%s: BootstrapCap() = %d, want %d", c.name, got, c.want)
		}
	}
}
