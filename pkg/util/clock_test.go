package util

import (
	"testing"
	"time"
)

func TestManualClockAfter(t *testing.T) {
	c := UnixClock(1_000)

	fired := c.After(10 * time.Second)
	later := c.After(time.Minute)

	c.Advance(5 * time.Second)
	select {
	case <-fired:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case at := <-fired:
		if at.Unix() != 1_010 {
			t.Errorf("fired at %d, want 1010", at.Unix())
		}
	default:
		t.Fatal("did not fire at deadline")
	}

	select {
	case <-later:
		t.Fatal("later waiter fired early")
	default:
	}
	c.Set(time.Unix(2_000, 0))
	select {
	case <-later:
	default:
		t.Fatal("later waiter did not fire after Set")
	}
}

func TestManualClockImmediate(t *testing.T) {
	c := UnixClock(42)
	select {
	case at := <-c.After(0):
		if at.Unix() != 42 {
			t.Errorf("immediate fire at %d, want 42", at.Unix())
		}
	default:
		t.Fatal("zero duration did not fire")
	}
	if c.Now().Unix() != 42 {
		t.Errorf("now = %d, want 42", c.Now().Unix())
	}
}
