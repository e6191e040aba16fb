package quizsession

import (
	"context"
	"time"
)

// Remaining is max(0, limit - (now - start)).
func Remaining(start time.Time, limit time.Duration, now time.Time) time.Duration {
	left := limit - now.Sub(start)
	if left < 0 {
		return 0
	}
	return left
}

// Ticker abstracts time.Ticker so tests can drive the countdown.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Countdown 每秒检查一次剩余时间，到期只触发一次 onExpired
type Countdown struct {
	Start     time.Time
	Limit     time.Duration
	Now       func() time.Time
	NewTicker func(d time.Duration) Ticker
}

func NewCountdown(start time.Time, limit time.Duration) *Countdown {
	return &Countdown{Start: start, Limit: limit, Now: time.Now, NewTicker: newRealTicker}
}

func (c *Countdown) Remaining() time.Duration {
	return Remaining(c.Start, c.Limit, c.Now())
}

// Run blocks until the deadline passes or ctx ends. onTick receives the
// remaining time rounded up to whole seconds. It returns true when it expired.
func (c *Countdown) Run(ctx context.Context, onTick func(time.Duration), onExpired func()) bool {
	if c.Remaining() == 0 {
		onExpired()
		return true
	}
	t := c.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C():
			left := c.Remaining()
			if onTick != nil {
				onTick(ceilSecond(left))
			}
			if left == 0 {
				onExpired()
				return true
			}
		}
	}
}

func ceilSecond(d time.Duration) time.Duration {
	if r := d % time.Second; r != 0 {
		return d - r + time.Second
	}
	return d
}
