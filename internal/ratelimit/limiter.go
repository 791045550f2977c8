// Package ratelimit bounds how many inbound events one session may submit.
package ratelimit

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// EventLimiter is a token bucket refilled at perSecond tokens per second with
// room for burst tokens. A limiter built with perSecond <= 0 allows
// everything.
type EventLimiter struct {
	clock   Clock
	lim     *rate.Limiter
	dropped atomic.Uint64
}

func NewEventLimiter(clock Clock, perSecond, burst int) *EventLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	l := &EventLimiter{clock: clock}
	if perSecond > 0 {
		if burst <= 0 {
			burst = perSecond
		}
		l.lim = rate.NewLimiter(rate.Limit(perSecond), burst)
		// Start from a full bucket at the clock's notion of now.
		l.lim.SetBurstAt(clock.Now(), burst)
	}
	return l
}

// Allow consumes one token, reporting false when the bucket is empty.
func (l *EventLimiter) Allow() bool {
	if l == nil || l.lim == nil {
		return true
	}
	if l.lim.AllowN(l.clock.Now(), 1) {
		return true
	}
	l.dropped.Add(1)
	return false
}

// Dropped returns how many events Allow has refused.
func (l *EventLimiter) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}
