package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/config"
	"gitlab.com/tinyland/lab/pulsebar/state"
)

// testConfigYAML is a minimal configuration whose line does not depend on the
// host or the time of day.
const testConfigYAML = `
daemon:
  state_dir: %STATE%
  pid_file: %STATE%/pulsebar.pid
  log_level: error
status:
  capacity: 64
  begin: "["
  delimiter: "|"
  end: "]"
widgets:
  - {name: a, producer: clock, args: {format: pulse, timezone: UTC}}
  - {name: b, producer: clock, args: {format: bar, timezone: UTC}}
updates:
  - {kind: wallclock, period: 1s, widgets: [a]}
  - {kind: ondemand, period: 10s, widgets: [b]}
`

func writeConfig(t *testing.T) (path, stateDir string) {
	t.Helper()
	dir := t.TempDir()
	stateDir = filepath.Join(dir, "state")
	path = filepath.Join(dir, "config.yaml")
	content := strings.ReplaceAll(testConfigYAML, "%STATE%", stateDir)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path, stateDir
}

// runCapture runs the CLI with stdout and stderr redirected to files and
// returns the exit code and both outputs.
func runCapture(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	dir := t.TempDir()
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	if err != nil {
		t.Fatal(err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	if err != nil {
		t.Fatal(err)
	}
	defer stderr.Close()

	code := run(args, stdout, stderr)

	out, _ := os.ReadFile(stdout.Name())
	errOut, _ := os.ReadFile(stderr.Name())
	return code, string(out), string(errOut)
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCapture(t, "-version")
	if code != exitOK {
		t.Errorf("exit code = %d, want %d", code, exitOK)
	}
	if !strings.HasPrefix(out, "pulsebar "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestRun_BadFlag(t *testing.T) {
	code, _, errOut := runCapture(t, "-no-such-flag")
	if code != exitStartup {
		t.Errorf("exit code = %d, want %d", code, exitStartup)
	}
	if !strings.Contains(errOut, "no-such-flag") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_Once(t *testing.T) {
	path, stateDir := writeConfig(t)

	code, out, errOut := runCapture(t, "-config", path, "-once")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	if out != "[pulse|bar]\n" {
		t.Errorf("output = %q, want %q", out, "[pulse|bar]\n")
	}
	if _, err := os.Stat(filepath.Join(stateDir, "health.json")); !os.IsNotExist(err) {
		t.Error("one-shot run should not write health.json")
	}
	if _, err := os.Stat(filepath.Join(stateDir, "pulsebar.pid")); !os.IsNotExist(err) {
		t.Error("one-shot run should not take the PID lock")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"parse error", "widgets: [unclosed", "failed to load config"},
		{"unknown producer", `
widgets:
  - {name: x, producer: nope}
updates:
  - {kind: wallclock, period: 1s, widgets: [x]}
`, "unknown"},
		{"unknown sink", "sink: {kind: dbus}\n", "sink.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			code, _, errOut := runCapture(t, "-config", path)
			if code != exitStartup {
				t.Errorf("exit code = %d, want %d", code, exitStartup)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", errOut, tt.want)
			}
		})
	}
}

func TestRun_SinkFlagOverridesConfig(t *testing.T) {
	path, _ := writeConfig(t)
	code, _, errOut := runCapture(t, "-config", path, "-sink", "carrier-pigeon", "-print-config")
	if code != exitStartup {
		t.Errorf("exit code = %d, want %d", code, exitStartup)
	}
	if !strings.Contains(errOut, "carrier-pigeon") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_PrintConfig(t *testing.T) {
	path, stateDir := writeConfig(t)
	code, out, errOut := runCapture(t, "-config", path, "-print-config", "-verbose")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	for _, want := range []string{"log_level: debug", "state_dir: " + stateDir, "producer: clock", "format: pulse"} {
		if !strings.Contains(out, want) {
			t.Errorf("printed config missing %q:\n%s", want, out)
		}
	}
}

func TestRun_WriteConfig(t *testing.T) {
	path, _ := writeConfig(t)
	out := filepath.Join(t.TempDir(), "nested", "pulsebar.yaml")

	code, stdout, errOut := runCapture(t, "-config", path, "-sink", "stdout", "-write-config", out)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(stdout, "wrote "+out) {
		t.Errorf("stdout = %q", stdout)
	}

	cfg, err := config.LoadConfig(out)
	if err != nil {
		t.Fatalf("LoadConfig(written) error = %v", err)
	}
	if cfg.Sink.Kind != config.SinkStdout || len(cfg.Widgets) != 2 {
		t.Errorf("written config sink = %q, widgets = %d", cfg.Sink.Kind, len(cfg.Widgets))
	}

	// The written file drives the same line as the original.
	code, line, errOut := runCapture(t, "-config", out, "-once")
	if code != exitOK || line != "[pulse|bar]\n" {
		t.Errorf("-once with written config = %d %q, stderr = %s", code, line, errOut)
	}
}

func TestRun_WriteConfigFails(t *testing.T) {
	path, _ := writeConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, errOut := runCapture(t, "-config", path, "-write-config", filepath.Join(blocker, "config.yaml"))
	if code != exitStartup {
		t.Errorf("exit code = %d, want %d", code, exitStartup)
	}
	if !strings.Contains(errOut, "write config") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_HealthMissing(t *testing.T) {
	path, _ := writeConfig(t)
	code, _, errOut := runCapture(t, "-config", path, "-health")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "no health file") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_PIDLockHeld(t *testing.T) {
	path, stateDir := writeConfig(t)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// PID 1 always exists.
	if err := os.WriteFile(filepath.Join(stateDir, "pulsebar.pid"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, _ := runCapture(t, "-config", path, "-sink", "file")
	if code != exitStartup {
		t.Errorf("exit code = %d, want %d", code, exitStartup)
	}
}

func TestRun_SignalStopsDaemon(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT} {
		t.Run(sig.String(), func(t *testing.T) {
			path, stateDir := writeConfig(t)
			pidFile := filepath.Join(stateDir, "pulsebar.pid")
			lineFile := filepath.Join(stateDir, "status.txt")

			dir := t.TempDir()
			stdout, err := os.Create(filepath.Join(dir, "stdout"))
			if err != nil {
				t.Fatal(err)
			}
			defer stdout.Close()
			stderr, err := os.Create(filepath.Join(dir, "stderr"))
			if err != nil {
				t.Fatal(err)
			}
			defer stderr.Close()

			done := make(chan int, 1)
			go func() {
				done <- run([]string{"-config", path, "-sink", "file"}, stdout, stderr)
			}()

			// The line is published after the PID lock and signal handler
			// are in place.
			deadline := time.Now().Add(5 * time.Second)
			for {
				if _, err := os.Stat(lineFile); err == nil {
					break
				}
				if time.Now().After(deadline) {
					errOut, _ := os.ReadFile(stderr.Name())
					t.Fatalf("daemon never published; stderr:\n%s", errOut)
				}
				time.Sleep(10 * time.Millisecond)
			}
			if err := syscall.Kill(os.Getpid(), sig); err != nil {
				t.Fatal(err)
			}

			select {
			case code := <-done:
				if code != exitOK {
					t.Errorf("exit code = %d, want %d", code, exitOK)
				}
			case <-time.After(10 * time.Second):
				t.Fatalf("daemon did not stop after %s", sig)
			}

			if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
				t.Errorf("PID file still present: %v", err)
			}
			if _, err := os.Stat(lineFile); !os.IsNotExist(err) {
				t.Errorf("status line file still present: %v", err)
			}
			store, err := state.NewStore(stateDir, nil)
			if err != nil {
				t.Fatal(err)
			}
			hs, _, err := state.GetTyped[HealthStatus](store, healthKey, time.Hour)
			if err != nil || hs == nil || hs.Status != healthStopped {
				t.Errorf("health after signal = %+v, %v; want status %q", hs, err, healthStopped)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("level", func(t *testing.T) {
		cfg := testDaemonConfig(t)
		cfg.LogLevel = "warn"
		logger, closer, err := newLogger(cfg, os.Stderr)
		if err != nil {
			t.Fatal(err)
		}
		defer closer.Close()
		if logger.Enabled(t.Context(), slog.LevelDebug) {
			t.Error("debug should be disabled at warn level")
		}
	})

	t.Run("bad level", func(t *testing.T) {
		cfg := testDaemonConfig(t)
		cfg.LogLevel = "chatty"
		if _, _, err := newLogger(cfg, os.Stderr); err == nil {
			t.Error("expected error for unknown level")
		}
	})

	t.Run("file", func(t *testing.T) {
		cfg := testDaemonConfig(t)
		cfg.LogFile = filepath.Join(t.TempDir(), "logs", "pulsebar.log")
		logger, closer, err := newLogger(cfg, os.Stderr)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("hello", "slot", "clock")
		closer.Close()

		data, err := os.ReadFile(cfg.LogFile)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "msg=hello slot=clock") {
			t.Errorf("log file = %q", data)
		}
	})
}

func TestRun_Man(t *testing.T) {
	code, out, _ := runCapture(t, "-man")
	if code != exitOK {
		t.Errorf("exit code = %d, want %d", code, exitOK)
	}
	for _, want := range []string{".TH PULSEBAR 1", `.B \-once`, `.BR \-sink`} {
		if !strings.Contains(out, want) {
			t.Errorf("man page missing %q", want)
		}
	}
}
