// Package pacing converts presentation timestamps into wall-clock release
// deadlines. Deadlines are anchored to the previous deadline rather than to
// the current time, so normal operation accumulates no drift; after a long
// stall the scheduler does not try to catch up.
package pacing

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock supplies the current time and a cancellable wait.
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until t or until ctx is done, returning ctx.Err()
	// in the latter case.
	SleepUntil(ctx context.Context, t time.Time) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// State is the scheduler's pacing state for one playback cycle.
// LastDeadline never decreases while Started is true.
type State struct {
	Started       bool
	LastTimestamp time.Duration
	LastDeadline  time.Time
}

// Scheduler releases packets at the wall-clock time implied by their
// presentation timestamps. It holds at most one pending deadline and is
// not safe for concurrent use; a cycle's producer owns it exclusively.
type Scheduler struct {
	clock Clock
	state State

	anomalies atomic.Int64
	released  atomic.Int64
}

// NewScheduler creates a Scheduler. A nil clock uses RealClock.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	return &Scheduler{clock: clock}
}

// Release waits until the deadline for a packet with timestamp pts and
// returns that deadline. The first packet of a cycle is released
// immediately and anchors the timeline. A timestamp that does not advance
// past the last one is released immediately without moving the state
// backwards. If ctx ends while waiting, Release returns ctx.Err() and the
// state is left as it was before the call.
func (s *Scheduler) Release(ctx context.Context, pts time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if !s.state.Started {
		now := s.clock.Now()
		s.state = State{Started: true, LastTimestamp: pts, LastDeadline: now}
		s.released.Add(1)
		return now, nil
	}

	if pts <= s.state.LastTimestamp {
		s.anomalies.Add(1)
		s.released.Add(1)
		return s.clock.Now(), nil
	}

	deadline := s.state.LastDeadline.Add(pts - s.state.LastTimestamp)
	if err := s.clock.SleepUntil(ctx, deadline); err != nil {
		return time.Time{}, err
	}
	s.state.LastTimestamp = pts
	s.state.LastDeadline = deadline
	s.released.Add(1)
	return deadline, nil
}

// Reset clears the pacing state so the next packet starts a new timeline.
func (s *Scheduler) Reset() {
	s.state = State{}
}

// State returns a copy of the current pacing state.
func (s *Scheduler) State() State {
	return s.state
}

// Anomalies returns the number of packets released immediately because
// their timestamp did not advance.
func (s *Scheduler) Anomalies() int64 {
	return s.anomalies.Load()
}

// Released returns the number of packets released.
func (s *Scheduler) Released() int64 {
	return s.released.Load()
}
