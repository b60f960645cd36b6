// Package retry provides a circuit breaker that wraps slot producers to handle
// persistent failures gracefully. When a producer fails repeatedly, the
// breaker "opens" and the slot stays empty without calling the producer for
// increasing intervals, reducing wasted sysfs reads and log noise.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// ErrCircuitOpen is returned instead of calling the producer while the
// circuit is open.
var ErrCircuitOpen = errors.New("retry: circuit open")

// Compile-time checks: Breaker is a Producer that reports its circuit.
var (
	_ status.Producer        = (*Breaker)(nil)
	_ status.CircuitReporter = (*Breaker)(nil)
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation; calls pass through to the producer.
	StateClosed State = iota
	// StateOpen means failures exceeded the threshold; calls are skipped.
	StateOpen
	// StateHalfOpen lets one call through to test whether the producer has recovered.
	StateHalfOpen
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// Name identifies the wrapped slot in log messages.
	Name string
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is the initial wait duration before transitioning from Open to HalfOpen.
	ResetTimeout time.Duration
	// MaxResetTimeout caps the exponential backoff.
	MaxResetTimeout time.Duration
	// BackoffMultiplier is the factor by which ResetTimeout increases on each re-open.
	BackoffMultiplier float64
	// Logger for circuit breaker events. Nil is safe (a discard logger is used).
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		MaxFailures:       3,
		ResetTimeout:      1 * time.Minute,
		MaxResetTimeout:   30 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Breaker wraps a status.Producer with failure tracking and automatic
// circuit opening and closing. The scheduler calls producers from a single
// goroutine, so a Breaker needs no locking; it must wrap exactly one slot.
type Breaker struct {
	producer status.Producer
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	state            State
	failures         int
	lastFailure      time.Time
	currentTimeout   time.Duration
	consecutiveSkips int
}

// Wrap returns p guarded by a circuit breaker. Zero or negative
// MaxFailures disables the breaker and returns p unchanged.
func Wrap(p status.Producer, cfg Config) status.Producer {
	if cfg.MaxFailures <= 0 {
		return p
	}
	return NewBreaker(p, cfg)
}

// NewBreaker wraps a producer with circuit breaker logic. Unset backoff
// fields take their DefaultConfig values. If cfg.Logger is nil, a discard
// logger is used.
func NewBreaker(p status.Producer, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.MaxResetTimeout < cfg.ResetTimeout {
		cfg.MaxResetTimeout = max(def.MaxResetTimeout, cfg.ResetTimeout)
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Breaker{
		producer:       p,
		config:         cfg,
		logger:         logger,
		now:            time.Now,
		state:          StateClosed,
		currentTimeout: cfg.ResetTimeout,
	}
}

// NewState delegates to the wrapped producer.
func (b *Breaker) NewState() status.State {
	return b.producer.NewState()
}

// Produce checks the circuit state and either runs the wrapped producer or
// returns ErrCircuitOpen, which leaves the slot empty for this cycle.
func (b *Breaker) Produce(ctx context.Context, buf *status.Buffer, st status.State) error {
	switch b.state {
	case StateClosed:
		return b.produceClosed(ctx, buf, st)

	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.currentTimeout {
			b.consecutiveSkips++
			remaining := b.currentTimeout - elapsed
			b.logger.Debug("circuit breaker open, skipping producer",
				"slot", b.config.Name,
				"failures", b.failures,
				"retry_in", remaining,
				"skips", b.consecutiveSkips,
			)
			return fmt.Errorf("%w for %s (failures: %d, retry in %s)",
				ErrCircuitOpen, b.config.Name, b.failures, remaining.Truncate(time.Second))
		}

		// Timeout elapsed, transition to half-open.
		b.state = StateHalfOpen
		b.logger.Info("circuit breaker transitioning to half-open",
			"slot", b.config.Name,
		)
		return b.produceHalfOpen(ctx, buf, st)

	case StateHalfOpen:
		return b.produceHalfOpen(ctx, buf, st)

	default:
		return fmt.Errorf("retry: circuit breaker in unknown state: %d", b.state)
	}
}

// produceClosed runs the producer in closed (normal) state.
func (b *Breaker) produceClosed(ctx context.Context, buf *status.Buffer, st status.State) error {
	if err := b.producer.Produce(ctx, buf, st); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// produceHalfOpen runs the producer once to test recovery.
func (b *Breaker) produceHalfOpen(ctx context.Context, buf *status.Buffer, st status.State) error {
	if err := b.producer.Produce(ctx, buf, st); err != nil {
		b.failures++
		b.lastFailure = b.now()

		// Increase timeout with backoff, capped at max.
		b.currentTimeout = time.Duration(float64(b.currentTimeout) * b.config.BackoffMultiplier)
		if b.currentTimeout > b.config.MaxResetTimeout {
			b.currentTimeout = b.config.MaxResetTimeout
		}

		b.state = StateOpen
		b.logger.Warn("circuit breaker re-opened after half-open failure",
			"slot", b.config.Name,
			"failures", b.failures,
			"next_timeout", b.currentTimeout,
		)
		return err
	}

	// Success in half-open: close the circuit.
	b.state = StateClosed
	b.failures = 0
	b.consecutiveSkips = 0
	b.currentTimeout = b.config.ResetTimeout
	b.logger.Info("circuit breaker closed after successful trial call",
		"slot", b.config.Name,
	)
	return nil
}

// recordFailure increments failure counters and optionally opens the circuit.
func (b *Breaker) recordFailure() {
	b.failures++
	b.lastFailure = b.now()

	if b.failures >= b.config.MaxFailures {
		b.state = StateOpen
		b.currentTimeout = b.config.ResetTimeout
		b.logger.Warn("circuit breaker opened",
			"slot", b.config.Name,
			"failures", b.failures,
			"timeout", b.currentTimeout,
		)
	}
}

// recordSuccess resets the consecutive failure counter.
func (b *Breaker) recordSuccess() {
	b.failures = 0
	b.consecutiveSkips = 0
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	return b.state
}

// Circuit implements status.CircuitReporter. Timeout is the wait before the
// next half-open attempt once the circuit is open.
func (b *Breaker) Circuit() status.Circuit {
	return status.Circuit{
		State:    b.state.String(),
		Failures: b.failures,
		Skips:    b.consecutiveSkips,
		Timeout:  b.currentTimeout,
	}
}
