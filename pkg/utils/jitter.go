package utils

import (
	"math/rand/v2"
	"time"
)

// SweepJitter is the spread applied to sweeper intervals.
const SweepJitter = 0.1

// Jitter returns base shifted by up to ±fraction of itself. Fractions above
// 1 are capped so the result never goes negative.
//
// Example: Jitter(time.Minute, 0.1) returns 54s-66s
func Jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}
	fraction = min(fraction, 1)
	spread := float64(base) * fraction
	return base + time.Duration((rand.Float64()*2-1)*spread)
}

// Every calls fn once per jittered interval until stop is closed. The first
// call happens after one interval, not immediately.
func Every(stop <-chan struct{}, interval time.Duration, fn func()) {
	timer := time.NewTimer(Jitter(interval, SweepJitter))
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			fn()
			timer.Reset(Jitter(interval, SweepJitter))
		case <-stop:
			return
		}
	}
}
