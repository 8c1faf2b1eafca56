package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var fired []string

	c.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "late") })

	c.Advance(500 * time.Millisecond)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Errorf("fired = %v, want [a b]", fired)
	}
	if c.Pending() != 1 {
		t.Errorf("pending = %d, want 1", c.Pending())
	}
	if got := c.Now(); !got.Equal(time.Unix(0, 0).Add(500 * time.Millisecond)) {
		t.Errorf("now = %v, want +500ms", got)
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Error("first Stop() = false, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

// TestFakeRescheduleDuringAdvance verifies zero-delay timers armed from a
// callback fire within the same Advance call.
func TestFakeRescheduleDuringAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(0, tick)
		}
	}
	c.AfterFunc(100*time.Millisecond, tick)

	c.Advance(100 * time.Millisecond)

	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d, want 0", c.Pending())
	}
}

func TestFakeCallbackSeesDeadlineTime(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(30*time.Second, func() { seen = c.Now() })

	c.Advance(time.Minute)

	if !seen.Equal(start.Add(30 * time.Second)) {
		t.Errorf("callback saw %v, want start+30s", seen)
	}
}
