package scaler

import (
	"sync"
	"time"
)

// Guard enforces the minimum spacing between two capacity changes to the
// same stream. The durable anchor lives on the alarm pair's tags and is
// compared against the alarm's own state-change time, so a retried
// invocation reaches the same verdict as the first one.
type Guard struct {
	cooldown time.Duration

	mu        sync.Mutex
	lastLocal time.Time
}

// NewGuard creates a cooldown guard with the given spacing.
func NewGuard(cooldown time.Duration) *Guard {
	return &Guard{cooldown: cooldown}
}

// Allow reports whether an event timestamped eventTime may proceed given
// the durable lastChangedAt anchor. The comparison is strict: an event
// landing exactly on the boundary is still rejected.
func (g *Guard) Allow(eventTime, lastChangedAt time.Time) bool {
	if lastChangedAt.IsZero() {
		return true
	}
	return eventTime.After(lastChangedAt.Add(g.cooldown))
}

// AllowLocal is the process-local second clock. It only dampens bursts of
// near-simultaneous notifications inside one running process; it does not
// survive restarts and is not a correctness mechanism.
func (g *Guard) AllowLocal(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastLocal.IsZero() {
		return true
	}
	return now.After(g.lastLocal.Add(g.cooldown))
}

// MarkStep records a successful capacity change on the local clock.
func (g *Guard) MarkStep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastLocal = now
}
