// Package ratelimit paces the engine's requests against one target.
//
// Three mechanisms compose: a minimum inter-request delay, a bounded
// in-flight semaphore, and a periodic cooldown that retunes the
// request rate from observed latency. A fast target earns a higher
// ceiling, a struggling one is backed off, and the rate always stays
// inside [MinRate, MaxRate] so a scan neither stalls nor hammers.
//
// One Limiter belongs to one scan of one target. Limiters are never
// shared across concurrent scans.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config controls pacing behavior.
type Config struct {
	// RequestsPerSecond is the starting adaptive rate.
	RequestsPerSecond float64

	// MinDelay is the floor on spacing between consecutive requests,
	// regardless of the adaptive rate.
	MinDelay time.Duration

	// MaxConcurrent bounds requests in flight.
	MaxConcurrent int

	// CooldownEvery inserts a cooldown pause after this many requests.
	CooldownEvery int

	// CooldownTime is the length of that pause.
	CooldownTime time.Duration

	// Adaptive enables latency-based retuning at cooldown boundaries.
	Adaptive bool

	// MinRate and MaxRate clamp the adaptive rate.
	MinRate float64
	MaxRate float64
}

// DefaultConfig returns the production pacing defaults: 10 req/s
// starting rate bounded to [1,20], 1s minimum spacing, 5 in flight,
// and a 2s cooldown every 50 requests.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		MinDelay:          time.Second,
		MaxConcurrent:     5,
		CooldownEvery:     50,
		CooldownTime:      2 * time.Second,
		Adaptive:          true,
		MinRate:           1,
		MaxRate:           20,
	}
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	Requests       int64         `json:"requests"`
	Rate           float64       `json:"rate"`
	AverageLatency time.Duration `json:"average_latency"`
	InFlight       int           `json:"in_flight"`
	Cooldowns      int64         `json:"cooldowns"`
}

// Limiter enforces the configured pacing. All methods are safe for
// concurrent use within the owning scan.
type Limiter struct {
	cfg Config
	sem chan struct{}

	mu        sync.Mutex
	next      time.Time // earliest dispatch time for the next request
	requests  int64
	rate      float64
	cooldowns int64

	// latency window since the last retune
	latencySum   time.Duration
	latencyCount int64
}

// New creates a Limiter. Zero-value numeric fields fall back to their
// DefaultConfig values; MinDelay, CooldownTime and Adaptive are taken
// as given, so a zero MinDelay lets the adaptive rate alone pace the
// scan. Most callers start from DefaultConfig and override fields.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.CooldownEvery <= 0 {
		cfg.CooldownEvery = def.CooldownEvery
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = def.MinRate
	}
	if cfg.MaxRate < cfg.MinRate {
		cfg.MaxRate = def.MaxRate
	}
	if cfg.RequestsPerSecond < cfg.MinRate {
		cfg.RequestsPerSecond = cfg.MinRate
	}
	if cfg.RequestsPerSecond > cfg.MaxRate {
		cfg.RequestsPerSecond = cfg.MaxRate
	}

	return &Limiter{
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxConcurrent),
		rate: cfg.RequestsPerSecond,
	}
}

// spacing returns the current gap enforced between requests.
func (l *Limiter) spacing() time.Duration {
	fromRate := time.Duration(float64(time.Second) / l.rate)
	if l.cfg.MinDelay > fromRate {
		return l.cfg.MinDelay
	}
	return fromRate
}

// Acquire blocks until a concurrency slot is free and the pacing gap
// has elapsed, then claims the slot. The caller must Release exactly
// once per successful Acquire. Returns ctx.Err() if the context ends
// first; the slot is not held in that case.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Reserve a dispatch slot on the serialized timeline. The lock is
	// only held to claim the slot, never while sleeping.
	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.spacing())
	l.requests++

	if l.cfg.CooldownEvery > 0 && l.requests%int64(l.cfg.CooldownEvery) == 0 {
		l.next = l.next.Add(l.cfg.CooldownTime)
		l.cooldowns++
		if l.cfg.Adaptive {
			l.retuneLocked()
		}
	}
	l.mu.Unlock()

	if wait := time.Until(at); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		}
	}
	return nil
}

// Release frees the concurrency slot claimed by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
	default:
		// Release without Acquire is a caller bug; ignore rather
		// than deadlock the scan.
	}
}

// Observe records one request's latency for the next retune.
func (l *Limiter) Observe(latency time.Duration) {
	if latency < 0 {
		return
	}
	l.mu.Lock()
	l.latencySum += latency
	l.latencyCount++
	l.mu.Unlock()
}

// retuneLocked adjusts the rate from the latency window. A mean under
// 100ms raises the rate 20%, over 1s lowers it 20%, both clamped to
// [MinRate, MaxRate]. The window resets afterwards.
func (l *Limiter) retuneLocked() {
	if l.latencyCount == 0 {
		return
	}
	mean := l.latencySum / time.Duration(l.latencyCount)

	switch {
	case mean < 100*time.Millisecond:
		l.rate *= 1.2
	case mean > time.Second:
		l.rate *= 0.8
	}
	if l.rate > l.cfg.MaxRate {
		l.rate = l.cfg.MaxRate
	}
	if l.rate < l.cfg.MinRate {
		l.rate = l.cfg.MinRate
	}

	l.latencySum = 0
	l.latencyCount = 0
}

// Rate returns the current adaptive rate in requests per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Snapshot returns current limiter statistics.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var avg time.Duration
	if l.latencyCount > 0 {
		avg = l.latencySum / time.Duration(l.latencyCount)
	}
	return Stats{
		Requests:       l.requests,
		Rate:           l.rate,
		AverageLatency: avg,
		InFlight:       len(l.sem),
		Cooldowns:      l.cooldowns,
	}
}
