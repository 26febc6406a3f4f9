package actor

import (
	"testing"
	"time"
)

func TestBackoff_DefaultSchedule(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		attempt := i + 1
		if got := b.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoff_ClampsAttempt(t *testing.T) {
	b := DefaultBackoff()
	if got := b.Delay(0); got != 2*time.Second {
		t.Errorf("Delay(0) = %v, want 2s", got)
	}
	if got := b.Delay(-5); got != 2*time.Second {
		t.Errorf("Delay(-5) = %v, want 2s", got)
	}
	if got := b.Delay(1000); got != 30*time.Second {
		t.Errorf("Delay(1000) = %v, want 30s", got)
	}
}

func TestBackoff_CustomCap(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, CapExponent: 3, Max: 10 * time.Second}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
