package reactor

import (
	"testing"
	"time"
)

func TestTimersArmAndPopDue(t *testing.T) {
	tm := newTimers()
	base := time.Unix(1000, 0)
	tm.Arm(1, base.Add(10*time.Millisecond))
	tm.Arm(2, base.Add(5*time.Millisecond))

	dl, ok := tm.NextDeadline()
	if !ok || !dl.Equal(base.Add(5*time.Millisecond)) {
		t.Fatalf("expected token 2's deadline first, got %v ok=%v", dl, ok)
	}

	due := tm.PopDue(base.Add(7 * time.Millisecond))
	if len(due) != 1 || due[0] != 2 {
		t.Fatalf("expected only token 2 due, got %v", due)
	}

	due = tm.PopDue(base.Add(20 * time.Millisecond))
	if len(due) != 1 || due[0] != 1 {
		t.Fatalf("expected token 1 due, got %v", due)
	}
}

func TestTimersAtMostOnePerToken(t *testing.T) {
	tm := newTimers()
	base := time.Unix(2000, 0)
	tm.Arm(1, base.Add(100*time.Millisecond))
	tm.Arm(1, base.Add(5*time.Millisecond)) // re-arm replaces, doesn't stack

	due := tm.PopDue(base.Add(6 * time.Millisecond))
	if len(due) != 1 || due[0] != 1 {
		t.Fatalf("expected single fire for token 1, got %v", due)
	}
	// the stale heap entry for the first arm must not fire again later.
	due = tm.PopDue(base.Add(200 * time.Millisecond))
	if len(due) != 0 {
		t.Fatalf("expected no further firings, got %v", due)
	}
}

func TestTimersDisarm(t *testing.T) {
	tm := newTimers()
	base := time.Unix(3000, 0)
	tm.Arm(1, base.Add(5*time.Millisecond))
	tm.Disarm(1)

	if _, ok := tm.NextDeadline(); ok {
		t.Fatalf("expected no deadline after disarm")
	}
	due := tm.PopDue(base.Add(time.Second))
	if len(due) != 0 {
		t.Fatalf("expected no due tokens after disarm, got %v", due)
	}
}
