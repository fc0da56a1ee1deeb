package gate

import (
	"testing"
	"time"
)

// steppedClock returns a clock that advances by step on every call to Tick.
type steppedClock struct {
	now time.Time
}

func (c *steppedClock) Clock() Clock {
	return func() time.Time { return c.now }
}

func (c *steppedClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestWindow_UnderCeiling(t *testing.T) {
	clk := &steppedClock{now: time.Unix(1000, 0)}
	w := NewWindow(10*time.Second, 3, clk.Clock())

	for i := 1; i <= 3; i++ {
		count, limited := w.Hit("alice")
		if limited {
			t.Fatalf("hit %d should not be limited", i)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
}

func TestWindow_OverCeiling(t *testing.T) {
	clk := &steppedClock{now: time.Unix(1000, 0)}
	w := NewWindow(10*time.Second, 3, clk.Clock())

	for i := 0; i < 3; i++ {
		w.Hit("alice")
	}
	if _, limited := w.Hit("alice"); !limited {
		t.Fatal("4th hit within the window should be limited")
	}
}

func TestWindow_ResetsAfterSpan(t *testing.T) {
	clk := &steppedClock{now: time.Unix(1000, 0)}
	w := NewWindow(10*time.Second, 3, clk.Clock())

	for i := 0; i < 4; i++ {
		w.Hit("alice")
	}

	clk.Advance(11 * time.Second)
	count, limited := w.Hit("alice")
	if limited {
		t.Fatal("window should have reset after span elapsed")
	}
	if count != 1 {
		t.Fatalf("expected fresh count 1, got %d", count)
	}
}

func TestWindow_KeysAreIndependent(t *testing.T) {
	clk := &steppedClock{now: time.Unix(1000, 0)}
	w := NewWindow(10*time.Second, 1, clk.Clock())

	w.Hit("alice")
	w.Hit("alice")
	if _, limited := w.Hit("bob"); limited {
		t.Fatal("bob should not inherit alice's count")
	}
}

func TestWindow_CountAndReset(t *testing.T) {
	clk := &steppedClock{now: time.Unix(1000, 0)}
	w := NewWindow(10*time.Second, 5, clk.Clock())

	w.Hit("alice")
	w.Hit("alice")
	if got := w.Count("alice"); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	w.Reset("alice")
	if got := w.Count("alice"); got != 0 {
		t.Fatalf("expected count 0 after reset, got %d", got)
	}
}

func TestWindow_CountExpired(t *testing.T) {
	clk := &steppedClock{now: time.Unix(1000, 0)}
	w := NewWindow(10*time.Second, 5, clk.Clock())

	w.Hit("alice")
	clk.Advance(time.Minute)
	if got := w.Count("alice"); got != 0 {
		t.Fatalf("expired window should count 0, got %d", got)
	}
}
