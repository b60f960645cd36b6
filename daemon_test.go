package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/config"
	"gitlab.com/tinyland/lab/pulsebar/producers"
	"gitlab.com/tinyland/lab/pulsebar/sink"
	"gitlab.com/tinyland/lab/pulsebar/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDaemonConfig(t *testing.T) config.DaemonConfig {
	t.Helper()
	dir := t.TempDir()
	return config.DaemonConfig{
		PIDFile:        filepath.Join(dir, "pulsebar.pid"),
		StateDir:       dir,
		LogLevel:       "info",
		HealthInterval: time.Second,
	}
}

// clockWidget is a clock producer with a constant format.
func clockWidget(t *testing.T, name, text string) config.WidgetConfig {
	t.Helper()
	var args yaml.Node
	if err := yaml.Unmarshal([]byte("{format: "+text+", timezone: UTC}"), &args); err != nil {
		t.Fatal(err)
	}
	return config.WidgetConfig{
		Name:     name,
		Producer: "clock",
		Capacity: config.DefaultWidgetCapacity,
		Args:     *args.Content[0],
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Daemon = testDaemonConfig(t)
	cfg.Status = config.StatusConfig{Capacity: 64, Begin: "[", Delimiter: "|", End: "]"}
	cfg.Sink = config.SinkConfig{Kind: config.SinkFile}
	cfg.Widgets = []config.WidgetConfig{
		clockWidget(t, "a", "alpha"),
		clockWidget(t, "b", "beta"),
	}
	cfg.Updates = []config.UpdateConfig{
		{Kind: "wallclock", Period: time.Second, Widgets: []string{"a", "b"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func TestBuildArena(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widgets[1].Breaker = config.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute}

	arena, err := buildArena(cfg.Widgets, producers.Builtin(), testLogger())
	if err != nil {
		t.Fatalf("buildArena() error = %v", err)
	}
	defer arena.Close()

	if arena.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", arena.Len())
	}
	for i, name := range []string{"a", "b"} {
		h, ok := arena.Lookup(name)
		if !ok || int(h) != i {
			t.Errorf("Lookup(%q) = %d, %v; want %d in declaration order", name, h, ok, i)
		}
	}

	h, _ := arena.Lookup("b")
	if err := arena.Refresh(context.Background(), h); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := string(arena.Content(h)); got != "beta" {
		t.Errorf("Content() = %q, want %q", got, "beta")
	}

	stats := arena.Stats()
	if stats[0].Circuit != nil {
		t.Errorf("slot a circuit = %+v, want none without a breaker", stats[0].Circuit)
	}
	if c := stats[1].Circuit; c == nil || c.State != "closed" || c.Timeout != time.Minute {
		t.Errorf("slot b circuit = %+v, want closed with 1m timeout", c)
	}
}

func TestBuildArenaErrors(t *testing.T) {
	tests := []struct {
		name    string
		widgets []config.WidgetConfig
		want    string
	}{
		{
			name:    "unknown producer",
			widgets: []config.WidgetConfig{{Name: "x", Producer: "nope"}},
			want:    `widget "x"`,
		},
		{
			name: "bad args",
			widgets: []config.WidgetConfig{
				{Name: "x", Producer: "clock", Args: func() yaml.Node {
					var n yaml.Node
					yaml.Unmarshal([]byte("{timezone: Mars/Olympus_Mons}"), &n)
					return *n.Content[0]
				}()},
			},
			want: "Mars",
		},
		{
			name:    "duplicate",
			widgets: []config.WidgetConfig{clockWidget(t, "x", "a"), clockWidget(t, "x", "b")},
			want:    "duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildArena(tt.widgets, producers.Builtin(), testLogger())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("buildArena() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestBuildPolicies(t *testing.T) {
	cfg := testConfig(t)
	arena, err := buildArena(cfg.Widgets, producers.Builtin(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer arena.Close()

	policies, err := buildPolicies([]config.UpdateConfig{
		{Kind: "wallclock", Period: time.Minute, Offset: 30 * time.Second, Widgets: []string{"b"}},
		{Kind: "ondemand", Period: 5 * time.Second, Widgets: []string{"a", "b"}},
	}, arena)
	if err != nil {
		t.Fatalf("buildPolicies() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies, want 2", len(policies))
	}
	if p := policies[0]; p.Period != time.Minute || p.Offset != 30*time.Second || len(p.Slots) != 1 || p.Slots[0] != 1 {
		t.Errorf("policies[0] = %+v", p)
	}
	if p := policies[1]; len(p.Slots) != 2 || p.Slots[0] != 0 || p.Slots[1] != 1 {
		t.Errorf("policies[1] = %+v", p)
	}

	if _, err := buildPolicies([]config.UpdateConfig{{Kind: "wallclock", Widgets: []string{"zz"}}}, arena); err == nil {
		t.Error("expected error for unknown widget")
	}
	if _, err := buildPolicies([]config.UpdateConfig{{Kind: "hourly", Widgets: []string{"a"}}}, arena); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestBuildSink(t *testing.T) {
	store, err := state.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)

	cfg.Sink = config.SinkConfig{Kind: config.SinkFile}
	s, watch := buildSink(context.Background(), cfg, store, os.Stdout)
	f, ok := s.(*sink.File)
	if !ok || watch != nil {
		t.Fatalf("file sink = %T, watch = %v", s, watch)
	}
	if f.Path() != store.Path("status.txt") {
		t.Errorf("default file path = %q", f.Path())
	}

	cfg.Sink = config.SinkConfig{Kind: config.SinkFile, Path: "/run/bar"}
	s, _ = buildSink(context.Background(), cfg, store, os.Stdout)
	if got := s.(*sink.File).Path(); got != "/run/bar" {
		t.Errorf("configured file path = %q", got)
	}

	cfg.Sink = config.SinkConfig{Kind: config.SinkXRoot, Command: "xsetroot"}
	if s, _ := buildSink(context.Background(), cfg, store, os.Stdout); s == nil {
		t.Error("xroot sink is nil")
	} else if _, ok := s.(*sink.XRoot); !ok {
		t.Errorf("xroot sink = %T", s)
	}

	cfg.Sink = config.SinkConfig{Kind: config.SinkStdout}
	if s, _ := buildSink(context.Background(), cfg, store, os.Stdout); s == nil {
		t.Error("stdout sink is nil")
	} else if _, ok := s.(*sink.Stdout); !ok {
		t.Errorf("stdout sink = %T", s)
	}

	cfg.Sink = config.SinkConfig{Kind: config.SinkTUI}
	s, watch = buildSink(context.Background(), cfg, store, os.Stdout)
	if watch == nil || s != watch {
		t.Errorf("tui sink = %T, watch = %v", s, watch)
	}
}

func newTestDaemon(t *testing.T, cfg *config.Config) *daemon {
	t.Helper()
	d, err := newDaemon(context.Background(), cfg, testLogger(), os.Stdout, false)
	if err != nil {
		t.Fatalf("newDaemon() error = %v", err)
	}
	return d
}

func TestDaemon_isRunning(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		want      bool
		wantsFile bool
	}{
		{"no file", "", false, false},
		{"corrupt", "not-a-pid", false, false},
		{"stale", "999999999", false, false},
		{"own pid", strconv.Itoa(os.Getpid()), false, true},
		{"alive", "1", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDaemon(t, testConfig(t))
			defer d.close()
			if tt.content != "" {
				if err := os.WriteFile(d.pidFile, []byte(tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			got, _ := d.isRunning()
			if got != tt.want {
				t.Errorf("isRunning() = %v, want %v", got, tt.want)
			}
			_, err := os.Stat(d.pidFile)
			if exists := err == nil; exists != tt.wantsFile {
				t.Errorf("PID file exists = %v, want %v", exists, tt.wantsFile)
			}
		})
	}
}

func TestDaemon_StartWritesPIDFile(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	if err := d.start(); err != nil {
		t.Fatalf("start() error = %v", err)
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("PID file = %q", data)
	}

	d.close()
	d.removePIDFile()
	if _, err := os.Stat(d.pidFile); !os.IsNotExist(err) {
		t.Error("PID file not removed")
	}
}

func TestDaemon_FailedStartLeavesOutputsAlone(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)
	if err := os.WriteFile(d.pidFile, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(cfg.Daemon.StateDir, "status.txt")
	if err := os.WriteFile(output, []byte("[other]"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := d.start(); err == nil {
		t.Fatal("start() should fail while another instance holds the lock")
	}
	d.close()

	if _, err := os.Stat(output); err != nil {
		t.Error("failed start removed the running instance's output")
	}
	if _, err := os.Stat(filepath.Join(cfg.Daemon.StateDir, "health.json")); !os.IsNotExist(err) {
		t.Error("failed start wrote health.json")
	}
}

func TestDaemon_RunPublishesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)
	if err := d.start(); err != nil {
		t.Fatal(err)
	}
	defer d.removePIDFile()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	output := filepath.Join(cfg.Daemon.StateDir, "status.txt")
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(output)
		if err == nil {
			if string(data) != "[alpha|beta]" {
				t.Errorf("published line = %q", data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no line published within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if err := d.close(); err != nil {
		t.Errorf("close() error = %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("file sink output not removed at shutdown")
	}

	store, _ := state.NewStore(cfg.Daemon.StateDir, nil)
	hs, _, err := state.GetTyped[HealthStatus](store, healthKey, time.Hour)
	if err != nil || hs == nil {
		t.Fatalf("health.json missing: %v", err)
	}
	if hs.Status != healthStopped || hs.Iterations == 0 || len(hs.Slots) != 2 {
		t.Errorf("health = %+v", hs)
	}
}

func TestDaemon_MetricsServerFailureIsRuntimeError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.MetricsAddr = "256.0.0.1:0"
	d := newTestDaemon(t, cfg)
	defer d.close()

	done := make(chan error, 1)
	go func() { done <- d.run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "metrics") {
			t.Errorf("run() error = %v, want metrics failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after the metrics server failed")
	}
}

func TestDaemon_OnceSkipsHealthAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.MetricsAddr = "127.0.0.1:0"
	d, err := newDaemon(context.Background(), cfg, testLogger(), os.Stdout, true)
	if err != nil {
		t.Fatal(err)
	}
	if d.health != nil || d.metrics != nil {
		t.Errorf("one-shot daemon has health=%v metrics=%v", d.health, d.metrics)
	}
	if err := d.close(); err != nil {
		t.Errorf("close() error = %v", err)
	}
}
