package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Clock is swapped out in tests.
type Clock func() time.Time

// Limiter is a token bucket. It starts full with burst tokens and regains
// rate tokens per second, never holding more than burst.
type Limiter struct {
	rate   float64
	burst  float64
	tokens float64
	seen   time.Time
	now    Clock
	mu     sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return NewLimiterWithClock(rate, burst, time.Now)
}

func NewLimiterWithClock(rate float64, burst int, now Clock) *Limiter {
	return &Limiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		seen:   now(),
		now:    now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN takes n tokens if the bucket has them. A refused call takes none.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < float64(n) {
		return false
	}
	l.tokens -= float64(n)
	return true
}

// idle reports whether the bucket is full and untouched for at least d.
func (l *Limiter) idle(d time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	quiet := l.now().Sub(l.seen) >= d
	l.refill()
	return quiet && l.tokens >= l.burst
}

// refill credits the time since the last call; callers hold mu.
func (l *Limiter) refill() {
	now := l.now()
	l.tokens = math.Min(l.burst, l.tokens+now.Sub(l.seen).Seconds()*l.rate)
	l.seen = now
}

// ConnLimiters hands out one Limiter per relay connection id. Buckets left
// idle are evicted in the background until Stop.
type ConnLimiters struct {
	rate      float64
	burst     int
	idleAfter time.Duration
	now       Clock

	buckets map[string]*Limiter
	mu      sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

func NewConnLimiters(rate float64, burst int) *ConnLimiters {
	cl := newConnLimiters(rate, burst, 5*time.Minute, time.Now)
	go cl.sweepEvery(time.Minute)
	return cl
}

func newConnLimiters(rate float64, burst int, idleAfter time.Duration, now Clock) *ConnLimiters {
	return &ConnLimiters{
		rate:      rate,
		burst:     burst,
		idleAfter: idleAfter,
		now:       now,
		buckets:   make(map[string]*Limiter),
		stop:      make(chan struct{}),
	}
}

// For returns the bucket of connID, creating it full.
func (cl *ConnLimiters) For(connID string) *Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.buckets[connID]
	if !ok {
		l = NewLimiterWithClock(cl.rate, cl.burst, cl.now)
		cl.buckets[connID] = l
	}
	return l
}

func (cl *ConnLimiters) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.buckets)
}

// Forget drops the bucket of a closed connection.
func (cl *ConnLimiters) Forget(connID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.buckets, connID)
}

func (cl *ConnLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

// sweep evicts idle buckets and returns how many went.
func (cl *ConnLimiters) sweep() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	n := 0
	for id, l := range cl.buckets {
		if l.idle(cl.idleAfter) {
			delete(cl.buckets, id)
			n++
		}
	}
	return n
}

func (cl *ConnLimiters) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.sweep()
		}
	}
}

// Throttle admits at most one event per interval. The board uses it to cap
// network emission of drag, resize and rotate updates.
type Throttle struct {
	interval time.Duration
	last     time.Time
	now      Clock
	mu       sync.Mutex
}

func NewThrottle(interval time.Duration) *Throttle {
	return NewThrottleWithClock(interval, time.Now)
}

func NewThrottleWithClock(interval time.Duration, now Clock) *Throttle {
	return &Throttle{interval: interval, now: now}
}

// Allow reports whether an event may pass now, and if not, how long until one may.
func (t *Throttle) Allow() (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if wait := t.interval - now.Sub(t.last); !t.last.IsZero() && wait > 0 {
		return false, wait
	}
	t.last = now
	return true, 0
}

// Reset lets the next event through immediately.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
}
