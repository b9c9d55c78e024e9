package statesync

import (
	"sync"
	"time"
)

// LagCompensator smooths the visible countdown when the link is slow. It is
// display-only: deadlines shown to the user are extrapolated forward by the
// estimated one-way latency, while scores and streaks always come straight
// from authoritative envelopes.
type LagCompensator struct {
	mu        sync.Mutex
	samples   []time.Duration
	window    int
	threshold time.Duration
}

func NewLagCompensator(window int, threshold time.Duration) *LagCompensator {
	if window <= 0 {
		window = 10
	}
	return &LagCompensator{window: window, threshold: threshold}
}

// Observe records one round-trip sample.
func (lc *LagCompensator) Observe(rtt time.Duration) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.samples = append(lc.samples, rtt)
	if len(lc.samples) > lc.window {
		lc.samples = lc.samples[1:]
	}
}

// Average returns the rolling mean round-trip time.
func (lc *LagCompensator) Average() time.Duration {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.averageLocked()
}

func (lc *LagCompensator) averageLocked() time.Duration {
	if len(lc.samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range lc.samples {
		sum += s
	}
	return sum / time.Duration(len(lc.samples))
}

// DisplayDeadline adjusts an authoritative deadline for display. Below the
// threshold the deadline passes through untouched.
func (lc *LagCompensator) DisplayDeadline(authoritative time.Time) time.Time {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	avg := lc.averageLocked()
	if avg <= lc.threshold {
		return authoritative
	}
	// One-way latency estimated as half the round trip.
	return authoritative.Add(avg / 2)
}
