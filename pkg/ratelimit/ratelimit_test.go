package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNew_FillsDefaults(t *testing.T) {
	l := New(Config{})

	if l.cfg.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", l.cfg.MaxConcurrent)
	}
	if l.cfg.CooldownEvery != 50 {
		t.Errorf("CooldownEvery = %d, want 50", l.cfg.CooldownEvery)
	}
	if l.Rate() != 10 {
		t.Errorf("Rate = %v, want 10", l.Rate())
	}
}

func TestNew_ClampsStartingRate(t *testing.T) {
	l := New(Config{RequestsPerSecond: 100, MinRate: 1, MaxRate: 20})
	if l.Rate() != 20 {
		t.Errorf("Rate = %v, want clamped to 20", l.Rate())
	}
}

func TestAcquire_EnforcesSpacing(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 20,
		MinDelay:          40 * time.Millisecond,
		MaxConcurrent:     5,
		CooldownEvery:     1000,
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		l.Release()
	}
	elapsed := time.Since(start)

	// First dispatch is immediate, the next two each wait 40ms.
	if elapsed < 80*time.Millisecond {
		t.Errorf("3 acquisitions took %v, want >= 80ms", elapsed)
	}
}

func TestAcquire_ConcurrencyCap(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 20,
		MinDelay:          time.Millisecond,
		MaxConcurrent:     2,
		CooldownEvery:     1000,
	})
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Third slot is blocked until a release.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(blocked); err == nil {
		t.Error("expected third Acquire to block past the cap")
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 1,
		MinDelay:          time.Second,
		MaxConcurrent:     1,
		CooldownEvery:     1000,
		MinRate:           1,
		MaxRate:           1,
	})

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()

	// Second acquire must wait a full second; cancel first.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(short); err == nil {
		t.Error("expected context error during pacing wait")
	}

	// The slot must have been returned on the failed acquire.
	if got := l.Snapshot().InFlight; got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestRetune_RaisesOnFastTarget(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 10,
		MinDelay:          time.Nanosecond,
		MaxConcurrent:     5,
		CooldownEvery:     2,
		CooldownTime:      0,
		Adaptive:          true,
		MinRate:           1,
		MaxRate:           20,
	})
	ctx := context.Background()

	l.Observe(10 * time.Millisecond)
	l.Observe(20 * time.Millisecond)

	// Second Acquire crosses the cooldown boundary and retunes.
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		l.Release()
	}

	if got := l.Rate(); got <= 10 {
		t.Errorf("Rate = %v, want raised above 10 for fast target", got)
	}
}

func TestRetune_LowersOnSlowTarget(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 10,
		MinDelay:          time.Nanosecond,
		MaxConcurrent:     5,
		CooldownEvery:     2,
		CooldownTime:      0,
		Adaptive:          true,
		MinRate:           1,
		MaxRate:           20,
	})
	ctx := context.Background()

	l.Observe(1500 * time.Millisecond)
	l.Observe(2 * time.Second)

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		l.Release()
	}

	if got := l.Rate(); got >= 10 {
		t.Errorf("Rate = %v, want lowered below 10 for slow target", got)
	}
}

func TestRetune_StaysWithinBounds(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 19,
		MinDelay:          time.Nanosecond,
		MaxConcurrent:     5,
		CooldownEvery:     1,
		CooldownTime:      0,
		Adaptive:          true,
		MinRate:           1,
		MaxRate:           20,
	})
	ctx := context.Background()

	// Many fast rounds: the rate must cap at MaxRate.
	for i := 0; i < 10; i++ {
		l.Observe(time.Millisecond)
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		l.Release()
	}
	if got := l.Rate(); got > 20 {
		t.Errorf("Rate = %v, want <= 20", got)
	}
}

func TestSnapshot(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 20,
		MinDelay:          time.Nanosecond,
		MaxConcurrent:     3,
		CooldownEvery:     1000,
	})
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Observe(30 * time.Millisecond)

	s := l.Snapshot()
	if s.Requests != 1 {
		t.Errorf("Requests = %d, want 1", s.Requests)
	}
	if s.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", s.InFlight)
	}
	if s.AverageLatency != 30*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 30ms", s.AverageLatency)
	}

	l.Release()
	if got := l.Snapshot().InFlight; got != 0 {
		t.Errorf("InFlight after release = %d, want 0", got)
	}
}
