package admission

import (
	"math"
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between admitted requests of one requester.
const DefaultCooldown = 5 * time.Second

// Cooldown tracks the last admitted submission per requester.
type Cooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[int64]time.Time
}

func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, now: now, last: make(map[int64]time.Time)}
}

// Acquire records a submission when the requester is outside the window.
// Otherwise it returns the whole seconds left to wait, rounded up.
func (c *Cooldown) Acquire(requesterID int64) (waitSeconds int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, seen := c.last[requesterID]; seen {
		if elapsed := now.Sub(last); elapsed < c.window {
			return int(math.Ceil((c.window - elapsed).Seconds())), false
		}
	}
	c.last[requesterID] = now
	return 0, true
}

// Forget drops the record for a requester.
func (c *Cooldown) Forget(requesterID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, requesterID)
}
