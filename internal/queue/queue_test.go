package queue

import (
	"testing"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

func TestNewDefaultsToMemory(t *testing.T) {
	q, err := New(domain.QueueConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Errorf("New() with empty Type = %T, want *MemoryQueue", q)
	}
}

func TestNewUnsupportedType(t *testing.T) {
	if _, err := New(domain.QueueConfig{Type: "sqs"}); err == nil {
		t.Error("expected error for unsupported queue type")
	}
}

func TestBackoffDelayExponential(t *testing.T) {
	policy := domain.BackoffPolicy{Type: "exponential", Delay: time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(policy, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDelayFixed(t *testing.T) {
	policy := domain.BackoffPolicy{Type: "fixed", Delay: 3 * time.Second}
	if got := backoffDelay(policy, 5); got != 3*time.Second {
		t.Errorf("backoffDelay(fixed) = %v, want 3s", got)
	}
}
