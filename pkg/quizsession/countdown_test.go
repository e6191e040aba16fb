package quizsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemaining(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Minute, Remaining(start, time.Minute, start))
	assert.Equal(t, 30*time.Second, Remaining(start, time.Minute, start.Add(30*time.Second)))
	assert.Zero(t, Remaining(start, time.Minute, start.Add(time.Hour)))
}

func TestCountdown_ExpiresOnce(t *testing.T) {
	clock := newFakeClock()
	ticker := newFakeTicker()
	cd := &Countdown{
		Start:     clock.Now(),
		Limit:     3 * time.Second,
		Now:       clock.Now,
		NewTicker: func(time.Duration) Ticker { return ticker },
	}

	var ticks []time.Duration
	expired := 0
	done := make(chan bool, 1)
	go func() {
		done <- cd.Run(context.Background(), func(d time.Duration) { ticks = append(ticks, d) }, func() { expired++ })
	}()

	clock.Advance(1500 * time.Millisecond)
	ticker.ch <- clock.Now()
	clock.Advance(time.Second)
	ticker.ch <- clock.Now()
	clock.Advance(time.Second)
	ticker.ch <- clock.Now()

	assert.True(t, <-done)
	assert.Equal(t, 1, expired)
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second, 0}, ticks)
}

func TestCountdown_StopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cd := &Countdown{
		Start:     clock.Now(),
		Limit:     time.Minute,
		Now:       clock.Now,
		NewTicker: func(time.Duration) Ticker { return newFakeTicker() },
	}

	done := make(chan bool, 1)
	expired := false
	go func() { done <- cd.Run(ctx, nil, func() { expired = true }) }()
	cancel()

	assert.False(t, <-done)
	assert.False(t, expired)
}
