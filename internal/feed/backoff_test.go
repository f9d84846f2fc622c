package feed

import (
	"testing"
	"time"
)

func TestBackoffDelayIsNonDecreasing(t *testing.T) {
	b := newBackoff(2*time.Second, 60*time.Second)

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := b.delay(attempt)
		if d < prev {
			t.Fatalf("delay(%d) = %v, less than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffDelayDoublesToCeiling(t *testing.T) {
	b := newBackoff(2*time.Second, 60*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := b.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := newBackoff(2*time.Second, 60*time.Second)

	for attempt := 0; attempt < 8; attempt++ {
		raw := b.delay(attempt)
		for i := 0; i < 50; i++ {
			j := b.jittered(attempt)
			if j < raw {
				t.Fatalf("jittered(%d) = %v below raw delay %v", attempt, j, raw)
			}
			if j > raw+raw/4 {
				t.Fatalf("jittered(%d) = %v exceeds raw delay %v by more than 25%%", attempt, j, raw)
			}
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := newBackoff(0, 0)
	if b.base != defaultBackoffBase || b.max != defaultBackoffMax {
		t.Errorf("zero-value backoff = %+v, want defaults", b)
	}
}
