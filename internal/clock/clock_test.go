package clock

import (
	"testing"
	"time"
)

func TestRealNowIsUTC(t *testing.T) {
	t.Parallel()
	now := Real{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", now.Location())
	}
}

func TestManualAdvanceFiresTimers(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	ch := clk.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}
	if got := clk.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	clk.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired too early")
	default:
	}

	clk.Advance(time.Second)
	select {
	case at := <-ch:
		if !at.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("fired at %v, want %v", at, start.Add(5*time.Second))
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after advance")
	}
	if got := clk.Pending(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()
	clk := NewManual(time.Now())
	select {
	case <-clk.After(0):
	case <-time.After(time.Second):
		t.Fatal("zero-duration timer did not fire")
	}
}
