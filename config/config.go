// Package config provides configuration parsing for pulsebar.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/producers"
	"gitlab.com/tinyland/lab/pulsebar/scheduler"
	"gitlab.com/tinyland/lab/pulsebar/state"
)

// Environment variables that override file settings.
const (
	EnvSink     = "PULSEBAR_SINK"
	EnvLogLevel = "PULSEBAR_LOG_LEVEL"
)

// Sink kinds.
const (
	SinkXRoot  = "xroot"
	SinkStdout = "stdout"
	SinkFile   = "file"
	SinkTUI    = "tui"
)

// Config represents the pulsebar configuration.
type Config struct {
	// Daemon holds process-level settings.
	Daemon DaemonConfig `yaml:"daemon"`

	// Status holds the composed line layout.
	Status StatusConfig `yaml:"status"`

	// Sink selects where the composed line is delivered.
	Sink SinkConfig `yaml:"sink"`

	// Widgets are the slots of the line, in display order.
	Widgets []WidgetConfig `yaml:"widgets"`

	// Updates are the refresh policies.
	Updates []UpdateConfig `yaml:"updates"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	// PIDFile guards against running two instances.
	PIDFile string `yaml:"pid_file"`
	// StateDir holds health.json and the file sink's default output.
	StateDir string `yaml:"state_dir"`
	// LogFile is the path for log output; empty means stderr.
	LogFile string `yaml:"log_file"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// Nice is applied with setpriority at startup when non-zero.
	Nice int `yaml:"nice"`
	// MetricsAddr enables the Prometheus endpoint when set (e.g. "127.0.0.1:9273").
	MetricsAddr string `yaml:"metrics_addr"`
	// HealthInterval bounds how often health.json is rewritten.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// StatusConfig holds the line capacity and its markers.
type StatusConfig struct {
	Capacity  int    `yaml:"capacity"`
	Begin     string `yaml:"begin"`
	Delimiter string `yaml:"delimiter"`
	End       string `yaml:"end"`
	SkipEmpty bool   `yaml:"skip_empty"`
}

// SinkConfig selects and configures the output sink.
type SinkConfig struct {
	// Kind is xroot, stdout, file or tui.
	Kind string `yaml:"kind"`
	// Path is the file sink target; defaults to StateDir/status.txt.
	Path string `yaml:"path"`
	// Command is the program the xroot sink runs.
	Command string `yaml:"command"`
	// Color is a lipgloss colour for the stdout sink on a terminal.
	Color string `yaml:"color"`
}

// WidgetConfig declares one slot.
type WidgetConfig struct {
	Name     string        `yaml:"name"`
	Producer string        `yaml:"producer"`
	Capacity int           `yaml:"capacity"`
	Args     yaml.Node     `yaml:"args,omitempty"`
	Breaker  BreakerConfig `yaml:"breaker,omitempty"`
}

// UnmarshalYAML fills Capacity with DefaultWidgetCapacity when the key is
// absent. An explicit zero is kept and hides the widget.
func (w *WidgetConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain WidgetConfig
	decoded := plain{Capacity: DefaultWidgetCapacity}
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*w = WidgetConfig(decoded)
	return nil
}

// BreakerConfig configures the circuit breaker around a widget's producer.
// MaxFailures 0 disables it.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// UpdateConfig declares one refresh policy.
type UpdateConfig struct {
	Kind    string        `yaml:"kind"`
	Period  time.Duration `yaml:"period"`
	Offset  time.Duration `yaml:"offset"`
	Widgets []string      `yaml:"widgets"`
}

// DefaultWidgetCapacity is the buffer size of each default widget.
const DefaultWidgetCapacity = 32

// DefaultConfig returns a Config populated with sensible defaults: CPU
// temperature and battery every two seconds, and the clock every second.
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Daemon: DaemonConfig{
			PIDFile:        filepath.Join(stateDir, "pulsebar.pid"),
			StateDir:       stateDir,
			LogFile:        "",
			LogLevel:       "info",
			HealthInterval: 30 * time.Second,
		},
		Status: StatusConfig{
			Capacity:  256,
			Begin:     " ",
			Delimiter: " | ",
			End:       " ",
		},
		Sink: SinkConfig{
			Kind:    SinkXRoot,
			Command: "xsetroot",
		},
		Widgets: []WidgetConfig{
			{
				Name:     "cpu-temp",
				Producer: "thermal",
				Capacity: DefaultWidgetCapacity,
				Args: mapNode(
					"dir", "/sys/devices/platform/coretemp.0",
					"sensor", "temp1_input",
				),
			},
			{
				Name:     "battery",
				Producer: "battery",
				Capacity: DefaultWidgetCapacity,
				Args:     mapNode("dir", "/sys/class/power_supply/BAT0"),
			},
			{
				Name:     "clock",
				Producer: "clock",
				Capacity: DefaultWidgetCapacity,
				Args:     mapNode("format", producers.DefaultClockFormat),
			},
		},
		Updates: []UpdateConfig{
			{Kind: "wallclock", Period: time.Second, Widgets: []string{"clock"}},
			{Kind: "wallclock", Period: 2 * time.Second, Widgets: []string{"cpu-temp", "battery"}},
		},
	}
}

// defaultStateDir prefers $XDG_RUNTIME_DIR, which is cleared at logout.
func defaultStateDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pulsebar")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "pulsebar")
}

// DefaultPath returns the configuration file searched when none is given.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pulsebar", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pulsebar", "config.yaml")
}

// mapNode builds a YAML mapping of string scalars from key/value pairs.
func mapNode(kv ...string) yaml.Node {
	n := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, s := range kv {
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s})
	}
	return n
}

// LoadConfig loads configuration from a YAML file, merging with defaults.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return config, nil
}

// ApplyEnv applies environment overrides using getenv (os.Getenv in
// production).
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvSink); v != "" {
		c.Sink.Kind = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Daemon.LogLevel = v
	}
}

// Validate checks the configuration for required fields and logical consistency.
func (c *Config) Validate() error {
	// Daemon validation
	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("daemon.log_level must be debug, info, warn or error, got %q", c.Daemon.LogLevel)
	}
	if c.Daemon.StateDir == "" {
		return errors.New("daemon.state_dir is required")
	}
	if c.Daemon.HealthInterval <= 0 {
		return fmt.Errorf("daemon.health_interval must be positive, got %s", c.Daemon.HealthInterval)
	}
	if c.Daemon.Nice < -20 || c.Daemon.Nice > 19 {
		return fmt.Errorf("daemon.nice must be between -20 and 19, got %d", c.Daemon.Nice)
	}

	// Status and sink validation
	if c.Status.Capacity < 1 {
		return fmt.Errorf("status.capacity must be at least 1, got %d", c.Status.Capacity)
	}
	switch c.Sink.Kind {
	case SinkXRoot:
		if c.Sink.Command == "" {
			return errors.New("sink.command is required for the xroot sink")
		}
	case SinkStdout, SinkFile, SinkTUI:
	default:
		return fmt.Errorf("sink.kind must be xroot, stdout, file or tui, got %q", c.Sink.Kind)
	}

	// Widget validation
	names := make(map[string]bool, len(c.Widgets))
	for i, w := range c.Widgets {
		if w.Name == "" {
			return fmt.Errorf("widgets[%d].name is required", i)
		}
		if names[w.Name] {
			return fmt.Errorf("widgets[%d].name %q is not unique", i, w.Name)
		}
		names[w.Name] = true
		if !producers.Known(w.Producer) {
			return fmt.Errorf("widgets[%d].producer %q is unknown (have %s)",
				i, w.Producer, strings.Join(producers.Builtin().Kinds(), ", "))
		}
		if w.Capacity < 0 {
			return fmt.Errorf("widgets[%d].capacity must be non-negative, got %d", i, w.Capacity)
		}
		if w.Breaker.MaxFailures < 0 {
			return fmt.Errorf("widgets[%d].breaker.max_failures must be non-negative, got %d", i, w.Breaker.MaxFailures)
		}
	}

	// Update validation
	if len(c.Updates) == 0 {
		return errors.New("at least one update is required")
	}
	for i, u := range c.Updates {
		kind, err := scheduler.ParseKind(u.Kind)
		if err != nil {
			return fmt.Errorf("updates[%d].kind: %w", i, err)
		}
		if u.Period < 0 {
			return fmt.Errorf("updates[%d].period must be non-negative, got %s", i, u.Period)
		}
		if kind == scheduler.OnDemand && u.Period == 0 {
			return fmt.Errorf("updates[%d].period is required for ondemand updates", i)
		}
		if len(u.Widgets) == 0 {
			return fmt.Errorf("updates[%d].widgets must not be empty", i)
		}
		for _, name := range u.Widgets {
			if !names[name] {
				return fmt.Errorf("updates[%d] references unknown widget %q", i, name)
			}
		}
	}

	return nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories. The
// file is replaced atomically so a running instance never reads half of it.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := state.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
