package admission

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCooldownWaitRoundsUp(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_770_000_000, 0)}
	cd := NewCooldown(5*time.Second, clock.Now)

	if _, ok := cd.Acquire(111); !ok {
		t.Fatal("first submission must pass")
	}

	cases := []struct {
		advance time.Duration
		wait    int
	}{
		{0, 5},
		{200 * time.Millisecond, 5},
		{3 * time.Second, 2},
		{1500 * time.Millisecond, 1},
	}
	for _, tc := range cases {
		clock.Advance(tc.advance)
		wait, ok := cd.Acquire(111)
		if ok {
			t.Fatalf("expected rejection after %s", tc.advance)
		}
		if wait != tc.wait {
			t.Fatalf("expected wait %d, got %d", tc.wait, wait)
		}
	}

	clock.Advance(300 * time.Millisecond)
	if _, ok := cd.Acquire(111); !ok {
		t.Fatal("submission after 5s must pass")
	}
}

func TestCooldownIsPerRequester(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_770_000_000, 0)}
	cd := NewCooldown(5*time.Second, clock.Now)

	if _, ok := cd.Acquire(111); !ok {
		t.Fatal("first requester must pass")
	}
	if _, ok := cd.Acquire(222); !ok {
		t.Fatal("second requester must not be limited by the first")
	}
	cd.Forget(111)
	if _, ok := cd.Acquire(111); !ok {
		t.Fatal("forgotten requester must pass")
	}
}
