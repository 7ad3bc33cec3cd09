package workflow

import (
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	base := 5 * time.Second
	ceiling := 10 * time.Minute

	cases := []struct {
		attemptsMade int
		want         time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attemptsMade, base, ceiling); got != tc.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tc.attemptsMade, got, tc.want)
		}
	}
}

func TestBackoff_Ceiling(t *testing.T) {
	if got := Backoff(20, 5*time.Second, 10*time.Minute); got != 10*time.Minute {
		t.Fatalf("expected ceiling 10m, got %s", got)
	}
}

func TestBackoff_NegativeAttemptsClamped(t *testing.T) {
	if got := Backoff(-3, time.Second, time.Minute); got != time.Second {
		t.Fatalf("expected base delay, got %s", got)
	}
}
