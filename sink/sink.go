// Package sink delivers the composed status line to its consumer: the X root
// window name, a terminal or pipe, or a file read by another bar.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"gitlab.com/tinyland/lab/pulsebar/state"
)

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if msg := bytes.TrimSpace(out); len(msg) > 0 {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// XRoot sets the X root window name, which dwm displays as its status text.
// Unchanged lines are not republished.
type XRoot struct {
	command string
	run     Runner
	last    []byte
	valid   bool
}

// NewXRoot returns a sink that runs "<command> -name <line>".
func NewXRoot(command string) *XRoot {
	return &XRoot{command: command, run: runCommand}
}

// Publish implements scheduler.Sink.
func (x *XRoot) Publish(ctx context.Context, line []byte) error {
	if x.valid && bytes.Equal(x.last, line) {
		return nil
	}
	if err := x.run(ctx, x.command, "-name", string(line)); err != nil {
		x.valid = false
		return fmt.Errorf("sink: xroot: %w", err)
	}
	x.last = append(x.last[:0], line...)
	x.valid = true
	return nil
}

// Stdout writes one line per publish. On a terminal the line is styled.
type Stdout struct {
	mu    sync.Mutex
	w     io.Writer
	style *lipgloss.Style
}

// NewStdout returns a sink writing to f. When f is a terminal and color is
// set, lines are rendered in that lipgloss colour.
func NewStdout(f *os.File, color string) *Stdout {
	s := &Stdout{w: f}
	if color != "" && term.IsTerminal(f.Fd()) {
		st := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		s.style = &st
	}
	return s
}

// NewWriter returns an unstyled sink writing to w.
func NewWriter(w io.Writer) *Stdout {
	return &Stdout{w: w}
}

// Publish implements scheduler.Sink.
func (s *Stdout) Publish(_ context.Context, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.style != nil {
		_, err = io.WriteString(s.w, s.style.Render(string(line))+"\n")
	} else {
		buf := make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
		_, err = s.w.Write(buf)
	}
	if err != nil {
		return fmt.Errorf("sink: stdout: %w", err)
	}
	return nil
}

// File atomically replaces a file with the latest line.
type File struct {
	path string
}

// NewFile returns a sink writing to path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the target file.
func (f *File) Path() string { return f.path }

// Publish implements scheduler.Sink.
func (f *File) Publish(_ context.Context, line []byte) error {
	if err := state.WriteFile(f.path, line, 0644); err != nil {
		return fmt.Errorf("sink: file: %w", err)
	}
	return nil
}

// Close removes the file so consumers do not show a stale line.
func (f *File) Close() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sink: file: %w", err)
	}
	return nil
}
