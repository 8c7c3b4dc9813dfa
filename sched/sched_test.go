package sched

import (
	"testing"
	"time"
)

func TestYieldToPrefersTargetAndUpdatesCurrent(t *testing.T) {
	d := NewDefault()
	d.Enqueue(1)
	d.Enqueue(2)
	d.Enqueue(3)

	d.YieldTo(2)

	if got := d.Current(); got != 2 {
		t.Fatalf("Current() = %d, want 2", got)
	}
}

func TestBlockOnThenUnblockTransitionsState(t *testing.T) {
	d := NewDefault()
	d.Enqueue(7)

	d.BlockOn(7, 100*time.Millisecond)
	if got := d.StateOf(7); got != Blocked {
		t.Fatalf("StateOf(7) = %v, want Blocked", got)
	}

	d.Unblock(7)
	if got := d.StateOf(7); got != Idle {
		t.Fatalf("StateOf(7) = %v, want Idle", got)
	}
}

func TestStateOfUnseenPidIsIdle(t *testing.T) {
	d := NewDefault()
	if got := d.StateOf(999); got != Idle {
		t.Fatalf("StateOf(unseen) = %v, want Idle", got)
	}
}
