// Package scheduler drives a status line: it decides when each update policy
// is due, refreshes the slots of due policies, publishes the composed line
// once per iteration, and sleeps until the earliest next firing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// MaxSleep caps every sleep so the line is republished at least once a minute.
const MaxSleep = 60 * time.Second

// MinSleep is the shortest sleep between iterations when no policy is
// overdue. A policy is due only once the clock is past its next firing, so a
// wake exactly on that instant has to wait for the clock to move.
const MinSleep = time.Millisecond

// Sink receives the composed line once per iteration. The line aliases the
// composer's buffer and must not be retained after Publish returns.
type Sink interface {
	Publish(ctx context.Context, line []byte) error
}

// Clock abstracts time for the scheduler loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration)
}

// Iteration summarises one pass of the scheduler loop.
type Iteration struct {
	Seq        uint64
	At         time.Time
	Fired      int
	Sleep      time.Duration
	Line       []byte
	PublishErr error
}

// Observer is notified after every iteration, on the scheduler goroutine.
type Observer interface {
	ObserveIteration(it Iteration)
}

// Config holds everything a Scheduler needs.
type Config struct {
	Arena    *status.Arena
	Composer *status.Composer
	Sink     Sink
	Policies []Policy

	// Clock defaults to the system clock.
	Clock Clock
	// Logger defaults to a no-op logger.
	Logger *slog.Logger
	// Observers are called in order after each iteration.
	Observers []Observer
}

// Scheduler owns the update policies and runs the refresh loop.
// It is not safe for concurrent use; exactly one goroutine calls Run or Step.
type Scheduler struct {
	arena     *status.Arena
	composer  *status.Composer
	sink      Sink
	policies  []*Policy
	clock     Clock
	logger    *slog.Logger
	observers []Observer
	seq       uint64
}

// New validates cfg and returns a Scheduler. Every policy must list at least
// one slot and every listed slot must exist in the arena.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Arena == nil {
		return nil, errors.New("scheduler: arena is required")
	}
	if cfg.Composer == nil {
		return nil, errors.New("scheduler: composer is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("scheduler: sink is required")
	}
	if len(cfg.Policies) == 0 {
		return nil, errors.New("scheduler: at least one update policy is required")
	}

	policies := make([]*Policy, len(cfg.Policies))
	for i := range cfg.Policies {
		p := cfg.Policies[i]
		if len(p.Slots) == 0 {
			return nil, fmt.Errorf("scheduler: policy %d has no slots", i)
		}
		for _, h := range p.Slots {
			if !cfg.Arena.Valid(h) {
				return nil, fmt.Errorf("scheduler: policy %d references unknown slot %d", i, h)
			}
		}
		p.Slots = append([]status.Handle(nil), p.Slots...)
		policies[i] = &p
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scheduler{
		arena:     cfg.Arena,
		composer:  cfg.Composer,
		sink:      cfg.Sink,
		policies:  policies,
		clock:     clock,
		logger:    logger,
		observers: cfg.Observers,
	}, nil
}

// Policies returns the scheduler's policies in declaration order.
func (s *Scheduler) Policies() []*Policy {
	return s.policies
}

// Run loops until ctx is cancelled and returns ctx.Err(). Cancellation is
// observed before each iteration and while sleeping; a producer that is
// already running always completes first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"policies", len(s.policies),
		"slots", s.arena.Len(),
	)
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopping", "iterations", s.seq)
			return err
		}
		if d := s.Step(ctx); d > 0 {
			s.clock.Sleep(ctx, d)
		}
	}
}

// Step runs one iteration: refresh due policies in declaration order,
// compose and publish the line, and return how long to sleep before the
// next iteration (zero when a policy is already overdue).
func (s *Scheduler) Step(ctx context.Context) time.Duration {
	// Producers and the sink run to completion even when shutdown has been
	// requested mid-iteration.
	work := context.WithoutCancel(ctx)

	fired := 0
	for _, p := range s.policies {
		now := s.clock.Now()
		if !p.Due(now) {
			continue
		}
		p.lastFired = now
		for _, h := range p.Slots {
			_ = s.arena.Refresh(work, h)
		}
		p.next = NextFire(p.Kind, p.Period, p.Offset, now)
		fired++
	}

	line := s.composer.Render()
	publishErr := s.sink.Publish(work, line)
	if publishErr != nil {
		s.logger.Warn("publish failed", "error", publishErr)
	}

	now := s.clock.Now()
	sleep := s.NextWake(now)

	s.seq++
	it := Iteration{
		Seq:        s.seq,
		At:         now,
		Fired:      fired,
		Sleep:      sleep,
		Line:       line,
		PublishErr: publishErr,
	}
	for _, o := range s.observers {
		o.ObserveIteration(it)
	}

	s.logger.Debug("iteration complete",
		"seq", s.seq,
		"fired", fired,
		"sleep", sleep,
	)
	return sleep
}

// NextWake returns the time from now until the earliest policy's next
// firing, capped at MaxSleep and at least MinSleep. It returns zero only when
// a policy is already overdue. Instants are compared as a whole, seconds and
// nanoseconds together.
func (s *Scheduler) NextWake(now time.Time) time.Duration {
	closest := now.Add(MaxSleep)
	for _, p := range s.policies {
		if p.next.Before(closest) {
			closest = p.next
		}
	}
	d := closest.Sub(now)
	switch {
	case d < 0:
		return 0
	case d < MinSleep:
		return MinSleep
	default:
		return d
	}
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks on a timer or ctx, whichever fires first.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
