// pulsebar composes a one-line status bar from independently refreshed
// widgets and publishes it to the X root window name, standard output, a
// file or a live terminal view.
//
// Widgets are refreshed by update policies: wall-clock policies fire on
// multiples of their period (plus an offset), on-demand policies fire a
// period after they last ran. Between firings the process sleeps until the
// earliest next deadline.
//
// Usage:
//
//	pulsebar [flags]
//
// Flags:
//
//	-config string  Path to configuration file (default: ~/.config/pulsebar/config.yaml)
//	-once           Refresh every widget once, print the line and exit
//	-sink string    Sink override (xroot|stdout|file|tui)
//	-health         Check daemon health status
//	-json           Output health check as JSON (with -health)
//	-print-config   Print the effective configuration as YAML and exit
//	-write-config path  Write the effective configuration to path and exit
//	-verbose        Enable debug logging
//	-version        Print version and exit
//	-man            Print man page to stdout in roff format
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/config"
	"gitlab.com/tinyland/lab/pulsebar/docs/manpage"
)

// Process exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitStartup = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("pulsebar", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "Path to configuration file (default: ~/.config/pulsebar/config.yaml)")
		once        = fs.Bool("once", false, "Refresh every widget once, print the line and exit")
		sinkKind    = fs.String("sink", "", "Sink override (xroot|stdout|file|tui)")
		runHealth   = fs.Bool("health", false, "Check daemon health status")
		healthJSON  = fs.Bool("json", false, "Output health check as JSON (with -health)")
		printConfig = fs.Bool("print-config", false, "Print the effective configuration as YAML and exit")
		writeConfig = fs.String("write-config", "", "Write the effective configuration as YAML to `path` and exit")
		verbose     = fs.Bool("verbose", false, "Enable debug logging")
		showVersion = fs.Bool("version", false, "Print version and exit")
		showMan     = fs.Bool("man", false, "Print man page to stdout in roff format")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitStartup
	}

	if *showVersion {
		fmt.Fprintf(stdout, "pulsebar %s (%s) built %s\n", version, commit, date)
		return exitOK
	}

	if *showMan {
		fmt.Fprint(stdout, manpage.Generate(fs, version, commit, date))
		return exitOK
	}

	// ---------------------------------------------------------------
	// Configuration
	// ---------------------------------------------------------------

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitStartup
	}
	cfg.ApplyEnv(os.Getenv)
	if *sinkKind != "" {
		cfg.Sink.Kind = *sinkKind
	}
	if *once {
		cfg.Sink.Kind = config.SinkStdout
	}
	if *verbose {
		cfg.Daemon.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config %s: %v\n", path, err)
		return exitStartup
	}

	if *printConfig {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "encode config: %v\n", err)
			return exitStartup
		}
		stdout.Write(data)
		return exitOK
	}

	if *writeConfig != "" {
		if err := config.SaveConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(stderr, "write config: %v\n", err)
			return exitStartup
		}
		fmt.Fprintf(stdout, "wrote %s\n", *writeConfig)
		return exitOK
	}

	if *runHealth {
		return checkHealth(cfg.Daemon.StateDir, cfg.Daemon.HealthInterval, *healthJSON, stdout, stderr)
	}

	logger, closeLog, err := newLogger(cfg.Daemon, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open log: %v\n", err)
		return exitStartup
	}
	defer closeLog.Close()

	// ---------------------------------------------------------------
	// Context with signal handling
	// ---------------------------------------------------------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	d, err := newDaemon(ctx, cfg, logger, stdout, *once)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitStartup
	}

	if *once {
		d.once(ctx)
		if err := d.close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
		return exitOK
	}

	if err := d.start(); err != nil {
		logger.Error("startup failed", "error", err)
		d.close()
		return exitStartup
	}
	defer d.removePIDFile()

	logger.Info("starting pulsebar", "version", version, "sink", cfg.Sink.Kind,
		"widgets", len(cfg.Widgets), "updates", len(cfg.Updates))

	code := exitOK
	if err := d.run(ctx); err != nil {
		logger.Error("pulsebar stopped", "error", err)
		code = exitRuntime
	}
	if err := d.close(); err != nil {
		logger.Warn("shutdown cleanup failed", "error", err)
	}
	logger.Info("pulsebar stopped")
	return code
}

// newLogger builds the text logger described by cfg. Output goes to stderr
// unless a log file is configured, in which case it is appended to.
func newLogger(cfg config.DaemonConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	out := stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
