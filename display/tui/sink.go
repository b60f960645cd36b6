package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// Sink publishes lines into a running watch program.
type Sink struct {
	prog  *tea.Program
	stats func() []status.SlotStats
	now   func() time.Time
}

// NewSink creates the program bound to ctx: cancelling ctx stops it. The
// program is not started until Run.
func NewSink(ctx context.Context, opts ...tea.ProgramOption) *Sink {
	opts = append([]tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	}, opts...)
	return &Sink{
		prog: tea.NewProgram(NewModel(), opts...),
		now:  time.Now,
	}
}

// SetStats installs a snapshot function called on every Publish. It runs on
// the publishing goroutine.
func (s *Sink) SetStats(fn func() []status.SlotStats) {
	s.stats = fn
}

// Publish hands the line to the program. It blocks until the program accepts
// the message or has exited, and never fails.
func (s *Sink) Publish(_ context.Context, line []byte) error {
	msg := lineMsg{line: string(line), at: s.now()}
	if s.stats != nil {
		msg.slots = s.stats()
	}
	s.prog.Send(msg)
	return nil
}

// Run drives the program until the user quits or the context given to
// NewSink is cancelled. Cancellation is not reported as an error.
func (s *Sink) Run() error {
	_, err := s.prog.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// Quit asks a running program to exit.
func (s *Sink) Quit() {
	s.prog.Quit()
}
