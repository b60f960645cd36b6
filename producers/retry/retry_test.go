package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// --- Mock Producer ---

type mockProducer struct {
	text   string
	errors []error
	calls  int
}

func (m *mockProducer) NewState() status.State { return &m.calls }

func (m *mockProducer) Produce(_ context.Context, buf *status.Buffer, _ status.State) error {
	idx := m.calls
	m.calls++
	if idx < len(m.errors) && m.errors[idx] != nil {
		return m.errors[idx]
	}
	_, err := buf.WriteString(m.text)
	return err
}

func newFailingMock(n int) *mockProducer {
	m := &mockProducer{text: "ok"}
	m.errors = make([]error, n)
	for i := range n {
		m.errors[i] = fmt.Errorf("fail-%d", i)
	}
	return m
}

// fakeTime lets tests step the breaker's clock.
type fakeTime struct{ t time.Time }

func (f *fakeTime) now() time.Time          { return f.t }
func (f *fakeTime) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(p status.Producer, cfg Config) (*Breaker, *fakeTime) {
	b := NewBreaker(p, cfg)
	clock := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now
	return b, clock
}

func produce(b *Breaker) (string, error) {
	buf := status.NewBuffer(32)
	err := b.Produce(context.Background(), buf, nil)
	return buf.String(), err
}

// --- Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want 3", cfg.MaxFailures)
	}
	if cfg.ResetTimeout != 1*time.Minute {
		t.Errorf("ResetTimeout = %v, want 1m", cfg.ResetTimeout)
	}
	if cfg.MaxResetTimeout != 30*time.Minute {
		t.Errorf("MaxResetTimeout = %v, want 30m", cfg.MaxResetTimeout)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %f, want 2.0", cfg.BackoffMultiplier)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestWrap_DisabledReturnsProducer(t *testing.T) {
	m := &mockProducer{}
	if got := Wrap(m, Config{}); got != status.Producer(m) {
		t.Errorf("Wrap with MaxFailures 0 = %T, want the producer itself", got)
	}
	if _, ok := Wrap(m, DefaultConfig()).(*Breaker); !ok {
		t.Error("Wrap with MaxFailures 3 should return a *Breaker")
	}
}

func TestNewState_Delegates(t *testing.T) {
	m := &mockProducer{}
	b := NewBreaker(m, DefaultConfig())
	if b.NewState() != status.State(&m.calls) {
		t.Error("NewState should return the wrapped producer's state")
	}
}

func TestProduce_Success_StaysClosed(t *testing.T) {
	b, _ := newTestBreaker(&mockProducer{text: "72°C"}, DefaultConfig())

	got, err := produce(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "72°C" {
		t.Errorf("content = %q, want %q", got, "72°C")
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want StateClosed", b.State())
	}
}

func TestProduce_MaxFailures_OpensCircuit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailures = 3
	b, _ := newTestBreaker(newFailingMock(5), cfg)

	for i := range 2 {
		if _, err := produce(b); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
		if b.State() != StateClosed {
			t.Fatalf("call %d: state = %v, want StateClosed", i, b.State())
		}
	}
	produce(b)
	if b.State() != StateOpen {
		t.Errorf("state = %v, want StateOpen after 3 failures", b.State())
	}
}

func TestProduce_OpenCircuit_SkipsProducer(t *testing.T) {
	m := newFailingMock(5)
	cfg := DefaultConfig()
	cfg.MaxFailures = 2
	cfg.ResetTimeout = time.Hour
	b, clock := newTestBreaker(m, cfg)

	for range 2 {
		produce(b)
	}
	callsBefore := m.calls

	clock.advance(30 * time.Minute)
	_, err := produce(b)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if m.calls != callsBefore {
		t.Errorf("producer called while open; calls %d -> %d", callsBefore, m.calls)
	}
	if c := b.Circuit(); c.Skips != 1 || c.State != "open" {
		t.Errorf("circuit = %+v, want open with 1 skip", c)
	}
}

func TestProduce_HalfOpen_SuccessCloses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailures = 2
	cfg.ResetTimeout = time.Minute
	b, clock := newTestBreaker(newFailingMock(2), cfg)

	for range 2 {
		produce(b)
	}
	clock.advance(time.Minute)

	got, err := produce(b)
	if err != nil {
		t.Fatalf("expected success in half-open, got: %v", err)
	}
	if got != "ok" {
		t.Errorf("content = %q, want %q", got, "ok")
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want StateClosed", b.State())
	}
	want := status.Circuit{State: "closed", Timeout: time.Minute}
	if c := b.Circuit(); c != want {
		t.Errorf("circuit = %+v, want %+v", c, want)
	}
}

func TestProduce_HalfOpen_FailureBacksOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailures = 1
	cfg.ResetTimeout = 5 * time.Second
	cfg.MaxResetTimeout = time.Minute
	cfg.BackoffMultiplier = 3.0
	b, clock := newTestBreaker(newFailingMock(100), cfg)

	produce(b)
	want := []time.Duration{15 * time.Second, 45 * time.Second, time.Minute, time.Minute}
	for i, w := range want {
		clock.advance(b.Circuit().Timeout)
		if _, err := produce(b); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("attempt %d: err = %v, want producer failure", i, err)
		}
		if b.State() != StateOpen {
			t.Fatalf("attempt %d: state = %v, want StateOpen", i, b.State())
		}
		if got := b.Circuit().Timeout; got != w {
			t.Errorf("attempt %d: timeout = %v, want %v", i, got, w)
		}
	}
}

func TestProduce_SuccessResetsFailureCount(t *testing.T) {
	m := &mockProducer{text: "ok", errors: []error{
		errors.New("a"), errors.New("b"), nil, errors.New("c"), errors.New("d"),
	}}
	cfg := DefaultConfig()
	cfg.MaxFailures = 3
	b, _ := newTestBreaker(m, cfg)

	for range 5 {
		produce(b)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want StateClosed (failures were not consecutive)", b.State())
	}
	if got := b.Circuit().Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

func TestBreakerReportedInSlotStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "bat"
	cfg.MaxFailures = 1
	cfg.ResetTimeout = 10 * time.Second
	b, _ := newTestBreaker(newFailingMock(1), cfg)

	arena := status.NewArena(nil)
	h, err := arena.Register("bat", b, 16)
	if err != nil {
		t.Fatal(err)
	}
	if err := arena.Refresh(context.Background(), h); err == nil {
		t.Fatal("expected producer failure")
	}

	stats := arena.Stats()
	want := status.Circuit{State: "open", Failures: 1, Timeout: 10 * time.Second}
	if c := stats[0].Circuit; c == nil || *c != want {
		t.Errorf("circuit = %+v, want %+v", c, want)
	}

	plain := status.NewArena(nil)
	if _, err := plain.Register("clock", &mockProducer{text: "x"}, 16); err != nil {
		t.Fatal(err)
	}
	if c := plain.Stats()[0].Circuit; c != nil {
		t.Errorf("unguarded slot circuit = %+v, want nil", c)
	}
}

func TestNewBreaker_FillsDefaults(t *testing.T) {
	b := NewBreaker(&mockProducer{}, Config{MaxFailures: 2})
	if b.config.ResetTimeout != time.Minute {
		t.Errorf("ResetTimeout = %v, want 1m", b.config.ResetTimeout)
	}
	if b.config.MaxResetTimeout != 30*time.Minute {
		t.Errorf("MaxResetTimeout = %v, want 30m", b.config.MaxResetTimeout)
	}
	if b.config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2", b.config.BackoffMultiplier)
	}
}
