package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// State is the opaque per-slot state a producer keeps between calls.
// The arena never inspects it; only the producer that created it does.
type State any

// Producer refreshes the content of one slot.
type Producer interface {
	// NewState returns the initial state for a slot, or nil when the
	// producer is stateless. It is called once per slot at registration.
	NewState() State

	// Produce writes the slot content into buf. The buffer is empty on entry.
	// Returning an error marks the slot as having no content this cycle.
	Produce(ctx context.Context, buf *Buffer, st State) error
}

// Recorder receives the outcome of every slot refresh.
type Recorder interface {
	ObserveRefresh(slot string, d time.Duration, err error)
}

// Handle is a stable index of a slot within its Arena.
type Handle int

// SlotStats is a point-in-time view of a slot's refresh history.
type SlotStats struct {
	Name         string        `json:"name"`
	Capacity     int           `json:"capacity"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	Circuit      *Circuit      `json:"circuit,omitempty"`
}

// Circuit is the state of a breaker guarding a slot's producer.
type Circuit struct {
	State    string        `json:"state"`
	Failures int           `json:"failures"`
	Skips    int           `json:"skips"`
	Timeout  time.Duration `json:"timeout_ns"`
}

// CircuitReporter is implemented by producers that guard another producer
// with a circuit breaker. Stats includes the report for such slots.
type CircuitReporter interface {
	Circuit() Circuit
}

type slot struct {
	name     string
	producer Producer
	buf      *Buffer
	state    State
	stats    SlotStats
	errs     errTracker
}

// errTracker deduplicates repeated identical producer errors.
type errTracker struct {
	lastMsg    string
	lastTime   time.Time
	suppressed int64
}

// Arena owns every slot's buffer and state. Slots are registered once at
// startup and addressed by Handle afterwards.
type Arena struct {
	slots    []*slot
	byName   map[string]Handle
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewArena creates an empty arena. If logger is nil, a no-op logger is used.
func NewArena(logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Arena{
		byName: make(map[string]Handle),
		logger: logger,
		now:    time.Now,
	}
}

// SetRecorder installs a recorder notified after every refresh.
func (a *Arena) SetRecorder(r Recorder) {
	a.recorder = r
}

// Register allocates a slot with the given buffer capacity and returns its
// handle. Names must be unique within the arena.
func (a *Arena) Register(name string, p Producer, capacity int) (Handle, error) {
	if name == "" {
		return -1, errors.New("status: slot name must not be empty")
	}
	if p == nil {
		return -1, fmt.Errorf("status: slot %q has no producer", name)
	}
	if capacity < 0 {
		return -1, fmt.Errorf("status: slot %q capacity must be non-negative, got %d", name, capacity)
	}
	if _, dup := a.byName[name]; dup {
		return -1, fmt.Errorf("status: duplicate slot name %q", name)
	}

	h := Handle(len(a.slots))
	a.slots = append(a.slots, &slot{
		name:     name,
		producer: p,
		buf:      NewBuffer(capacity),
		state:    p.NewState(),
		stats:    SlotStats{Name: name, Capacity: capacity},
	})
	a.byName[name] = h
	return h, nil
}

// Lookup returns the handle registered under name.
func (a *Arena) Lookup(name string) (Handle, bool) {
	h, ok := a.byName[name]
	return h, ok
}

// Len returns the number of registered slots.
func (a *Arena) Len() int { return len(a.slots) }

// Valid reports whether h addresses a registered slot.
func (a *Arena) Valid(h Handle) bool {
	return h >= 0 && int(h) < len(a.slots)
}

// Name returns the slot's registered name.
func (a *Arena) Name(h Handle) string { return a.slots[h].name }

// Capacity returns the slot's declared buffer capacity.
func (a *Arena) Capacity(h Handle) int { return a.slots[h].buf.Cap() }

// Content returns the slot's current content. The slice aliases the slot
// buffer and is only valid until the slot is refreshed again.
func (a *Arena) Content(h Handle) []byte { return a.slots[h].buf.Bytes() }

// Refresh runs the slot's producer against its own buffer and state.
// On failure the buffer is emptied so no stale bytes survive into the line.
func (a *Arena) Refresh(ctx context.Context, h Handle) error {
	s := a.slots[h]

	s.buf.Reset()
	start := a.now()
	err := s.producer.Produce(ctx, s.buf, s.state)
	elapsed := a.now().Sub(start)

	s.stats.Runs++
	s.stats.LastRun = start
	s.stats.LastDuration = elapsed
	if err != nil {
		s.buf.Reset()
		s.stats.Failures++
		s.stats.LastError = err.Error()
		a.logRefreshError(s, start, err)
	} else {
		s.stats.LastError = ""
	}

	if a.recorder != nil {
		a.recorder.ObserveRefresh(s.name, elapsed, err)
	}
	return err
}

// Stats returns a snapshot of every slot's statistics in declaration order.
func (a *Arena) Stats() []SlotStats {
	out := make([]SlotStats, len(a.slots))
	for i, s := range a.slots {
		out[i] = s.stats
		if r, ok := s.producer.(CircuitReporter); ok {
			c := r.Circuit()
			out[i].Circuit = &c
		}
	}
	return out
}

// Close releases slot states that hold resources (open directories,
// script interpreters).
func (a *Arena) Close() error {
	var errs []error
	for _, s := range a.slots {
		if c, ok := s.state.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("status: close %s state: %w", s.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// logRefreshError suppresses identical errors from the same slot within an
// hour, logging a summary every 100 repeats.
func (a *Arena) logRefreshError(s *slot, now time.Time, err error) {
	msg := err.Error()
	t := &s.errs
	if msg == t.lastMsg && now.Sub(t.lastTime) < time.Hour {
		t.suppressed++
		if t.suppressed%100 == 0 {
			a.logger.Debug("producer failed",
				"slot", s.name,
				"error", err,
				"repeated", t.suppressed,
			)
		}
		return
	}
	if t.suppressed > 0 {
		a.logger.Debug("previous producer error repeated",
			"slot", s.name,
			"repeated", t.suppressed,
		)
	}
	a.logger.Debug("producer failed", "slot", s.name, "error", err)
	t.lastMsg = msg
	t.lastTime = now
	t.suppressed = 0
}
