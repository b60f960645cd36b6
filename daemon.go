package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/pulsebar/config"
	"gitlab.com/tinyland/lab/pulsebar/display/tui"
	"gitlab.com/tinyland/lab/pulsebar/metrics"
	"gitlab.com/tinyland/lab/pulsebar/producers"
	"gitlab.com/tinyland/lab/pulsebar/producers/retry"
	"gitlab.com/tinyland/lab/pulsebar/scheduler"
	"gitlab.com/tinyland/lab/pulsebar/sink"
	"gitlab.com/tinyland/lab/pulsebar/state"
	"gitlab.com/tinyland/lab/pulsebar/status"
)

// daemon wires the configured widgets, policies and sink into a scheduler
// and runs it alongside the optional metrics server and watch view.
type daemon struct {
	config  *config.Config
	logger  *slog.Logger
	arena   *status.Arena
	sched   *scheduler.Scheduler
	sink    scheduler.Sink
	watch   *tui.Sink
	metrics *metrics.Metrics
	health  *healthWriter
	pidFile string
	started bool
}

// newDaemon allocates every slot and builds the scheduler. ctx bounds the
// watch view when the tui sink is selected; stdout backs the stdout sink.
// A one-shot daemon neither writes health.json nor exports metrics, so it
// can run next to a long-lived instance.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout *os.File, oneShot bool) (*daemon, error) {
	store, err := state.NewStore(cfg.Daemon.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	arena, err := buildArena(cfg.Widgets, producers.Builtin(), logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d := &daemon{
		config:  cfg,
		logger:  logger,
		arena:   arena,
		pidFile: cfg.Daemon.PIDFile,
	}

	policies, err := buildPolicies(cfg.Updates, arena)
	if err != nil {
		arena.Close()
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d.sink, d.watch = buildSink(ctx, cfg, store, stdout)
	if d.watch != nil {
		d.watch.SetStats(arena.Stats)
	}

	var observers []scheduler.Observer
	if !oneShot {
		d.health = newHealthWriter(store, arena, cfg.Daemon.HealthInterval, logger)
		observers = append(observers, d.health)
	}
	if !oneShot && cfg.Daemon.MetricsAddr != "" {
		d.metrics = metrics.New()
		arena.SetRecorder(d.metrics)
		observers = append(observers, d.metrics)
	}

	composer := status.NewComposer(arena, cfg.Status.Capacity, status.Layout{
		Begin:     cfg.Status.Begin,
		Delimiter: cfg.Status.Delimiter,
		End:       cfg.Status.End,
		SkipEmpty: cfg.Status.SkipEmpty,
	})

	d.sched, err = scheduler.New(scheduler.Config{
		Arena:     arena,
		Composer:  composer,
		Sink:      d.sink,
		Policies:  policies,
		Logger:    logger,
		Observers: observers,
	})
	if err != nil {
		arena.Close()
		return nil, fmt.Errorf("daemon: %w", err)
	}
	return d, nil
}

// buildArena registers one slot per widget, in declaration order.
func buildArena(widgets []config.WidgetConfig, reg *producers.Registry, logger *slog.Logger) (*status.Arena, error) {
	arena := status.NewArena(logger)
	for _, w := range widgets {
		p, err := reg.Build(w.Producer, w.Args)
		if err != nil {
			arena.Close()
			return nil, fmt.Errorf("widget %q: %w", w.Name, err)
		}
		p = retry.Wrap(p, retry.Config{
			Name:         w.Name,
			MaxFailures:  w.Breaker.MaxFailures,
			ResetTimeout: w.Breaker.ResetTimeout,
			Logger:       logger,
		})
		if _, err := arena.Register(w.Name, p, w.Capacity); err != nil {
			arena.Close()
			return nil, err
		}
	}
	return arena, nil
}

// buildPolicies resolves widget names to arena handles.
func buildPolicies(updates []config.UpdateConfig, arena *status.Arena) ([]scheduler.Policy, error) {
	policies := make([]scheduler.Policy, 0, len(updates))
	for i, u := range updates {
		kind, err := scheduler.ParseKind(u.Kind)
		if err != nil {
			return nil, fmt.Errorf("updates[%d]: %w", i, err)
		}
		p := scheduler.Policy{Kind: kind, Period: u.Period, Offset: u.Offset}
		for _, name := range u.Widgets {
			h, ok := arena.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("updates[%d]: unknown widget %q", i, name)
			}
			p.Slots = append(p.Slots, h)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// buildSink returns the configured sink. The watch view is returned
// separately because its program has to be run by the daemon.
func buildSink(ctx context.Context, cfg *config.Config, store *state.Store, stdout *os.File) (scheduler.Sink, *tui.Sink) {
	switch cfg.Sink.Kind {
	case config.SinkStdout:
		return sink.NewStdout(stdout, cfg.Sink.Color), nil
	case config.SinkFile:
		path := cfg.Sink.Path
		if path == "" {
			path = store.Path("status.txt")
		}
		return sink.NewFile(path), nil
	case config.SinkTUI:
		w := tui.NewSink(ctx)
		return w, w
	default:
		return sink.NewXRoot(cfg.Sink.Command), nil
	}
}

// writePIDFile writes the current process PID to the PID file.
func (d *daemon) writePIDFile() error {
	if err := os.MkdirAll(filepath.Dir(d.pidFile), 0o755); err != nil {
		return fmt.Errorf("create PID file directory: %w", err)
	}
	pid := os.Getpid()
	if err := state.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	d.logger.Info("wrote PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file on shutdown.
func (d *daemon) removePIDFile() {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Error("failed to remove PID file", "path", d.pidFile, "error", err)
		return
	}
	d.logger.Info("removed PID file", "path", d.pidFile)
}

// isRunning checks if another instance is already running by reading the
// PID file and checking if the process exists. A corrupt or stale PID file
// is cleaned up.
func (d *daemon) isRunning() (bool, int) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		d.logger.Warn("corrupt PID file, removing", "path", d.pidFile, "content", string(data))
		os.Remove(d.pidFile)
		return false, 0
	}
	if pid == os.Getpid() {
		return false, 0
	}

	// Signal 0 only checks that the process exists. EPERM means it exists
	// but belongs to another user.
	err = syscall.Kill(pid, syscall.Signal(0))
	if err != nil && !errors.Is(err, syscall.EPERM) {
		d.logger.Warn("stale PID file, removing", "path", d.pidFile, "pid", pid)
		os.Remove(d.pidFile)
		return false, 0
	}

	return true, pid
}

// start takes the PID lock and applies the configured niceness. Failures
// here are startup failures.
func (d *daemon) start() error {
	if running, pid := d.isRunning(); running {
		return fmt.Errorf("pulsebar already running (PID %d)", pid)
	}
	if err := d.writePIDFile(); err != nil {
		return err
	}
	d.started = true

	if nice := d.config.Daemon.Nice; nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
			d.logger.Warn("setpriority failed", "nice", nice, "error", err)
		} else {
			d.logger.Debug("applied niceness", "nice", nice)
		}
	}
	return nil
}

// run drives the scheduler, the metrics server and the watch view until ctx
// is cancelled, the user quits the watch view or a service fails. The
// returned error is a runtime failure; cancellation is not an error.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if d.metrics != nil {
		g.Go(func() error {
			if err := d.metrics.Serve(gctx, d.config.Daemon.MetricsAddr, d.logger); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	if d.watch != nil {
		g.Go(func() error {
			// Quitting the view stops the daemon.
			defer cancel()
			stop := context.AfterFunc(gctx, d.watch.Quit)
			defer stop()
			if err := d.watch.Run(); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			d.logger.Info("watch view closed")
			return nil
		})
	}

	return g.Wait()
}

// once runs a single iteration: every policy is due on the first step.
func (d *daemon) once(ctx context.Context) {
	d.started = true
	d.sched.Step(ctx)
}

// close releases every slot state. A daemon that got past start also closes
// its sink and records the shutdown in health.json; one that did not must
// leave both to the instance holding the lock.
func (d *daemon) close() error {
	var errs []error
	if d.started {
		if d.health != nil {
			d.health.stop()
		}
		if c, ok := d.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := d.arena.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
