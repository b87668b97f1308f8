package session

import (
	"sync"
	"time"
)

// tokenBucket gates outbound DATA frames to respect the mesh's duty cycle.
// Only DATA is limited; every control frame (PING/PONG/BEGIN/ACK/NAK/
// END/FIN/ABT) bypasses it, since those are small, rare, and often
// latency-critical (an ACK held behind a bucket would stall the peer's
// stop-and-wait sender for no benefit).
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time
}

func newTokenBucket(capacity int, rateHz float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity: float64(capacity),
		rate:     rateHz,
		tokens:   float64(capacity),
		last:     now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// take reports whether a token is available at now, consuming one if so.
// It never blocks: the manager's single event loop calls this once per
// pump pass rather than waiting inline, so a starved sender simply retries
// on the next tick or inbound event.
func (b *tokenBucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
