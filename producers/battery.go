package producers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// ErrNoBattery is returned when the battery directory cannot be opened.
var ErrNoBattery = errors.New("battery: directory unavailable")

// BatteryArgs configures the battery producer. File names are relative to
// Dir; the charge_* family is tried when an energy_* file is missing.
type BatteryArgs struct {
	Dir          string   `yaml:"dir"`
	Present      string   `yaml:"present"`
	EnergyDesign string   `yaml:"energy_full_design"`
	EnergyNow    string   `yaml:"energy_now"`
	PowerNow     string   `yaml:"power_now"`
	Status       string   `yaml:"status"`
	Symbols      []string `yaml:"symbols"`
}

// DefaultBatteryArgs describes BAT0 under /sys/class/power_supply.
func DefaultBatteryArgs() BatteryArgs {
	return BatteryArgs{
		Dir:          "/sys/class/power_supply/BAT0",
		Present:      "present",
		EnergyDesign: "energy_full_design",
		EnergyNow:    "energy_now",
		PowerNow:     "power_now",
		Status:       "status",
		Symbols:      []string{"?", "+", "-"},
	}
}

var chargeFallback = map[string]string{
	"energy_full_design": "charge_full_design",
	"energy_now":         "charge_now",
	"power_now":          "current_now",
}

// batteryState holds the opened battery directory across calls.
type batteryState struct {
	root *os.Root
}

func (s *batteryState) Close() error {
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// Battery reports charge status, percentage of design capacity and power
// draw in watts.
type Battery struct {
	args BatteryArgs
}

// NewBattery is the Factory for the "battery" kind.
func NewBattery(args yaml.Node) (status.Producer, error) {
	a := DefaultBatteryArgs()
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Dir == "" {
		return nil, errors.New("dir is required")
	}
	if len(a.Symbols) != 3 {
		return nil, fmt.Errorf("symbols: want 3 entries (unknown, charging, discharging), got %d", len(a.Symbols))
	}
	return &Battery{args: a}, nil
}

// NewState returns an unopened directory handle.
func (b *Battery) NewState() status.State { return &batteryState{} }

// Produce reads the battery files and writes "<sym> <pct> <watts>".
func (b *Battery) Produce(_ context.Context, buf *status.Buffer, st status.State) error {
	s, ok := st.(*batteryState)
	if !ok {
		return fmt.Errorf("battery: unexpected state %T", st)
	}
	if s.root == nil {
		root, err := os.OpenRoot(b.args.Dir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoBattery, err)
		}
		s.root = root
	}
	fsys := s.root.FS()

	present, err := fs.ReadFile(fsys, b.args.Present)
	if err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	if strings.TrimSpace(string(present)) != "1" {
		return buf.Set("no battery")
	}

	design, err := readBatteryInt(fsys, b.args.EnergyDesign)
	if err != nil {
		return err
	}
	now, err := readBatteryInt(fsys, b.args.EnergyNow)
	if err != nil {
		return err
	}
	power, err := readBatteryInt(fsys, b.args.PowerNow)
	if err != nil {
		return err
	}
	if design <= 0 || now < 0 {
		return fmt.Errorf("battery: implausible capacity %d/%d", now, design)
	}

	raw, err := fs.ReadFile(fsys, b.args.Status)
	if err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	sym := b.args.Symbols[0]
	switch strings.TrimSpace(string(raw)) {
	case "Charging":
		sym = b.args.Symbols[1]
	case "Discharging":
		sym = b.args.Symbols[2]
	}

	_, err = fmt.Fprintf(buf, "%s %.2f %.2f",
		sym,
		float64(now)/float64(design)*100,
		float64(power)/1e6,
	)
	return err
}

// readBatteryInt reads an integer attribute, trying the charge_* name when
// the energy_* file is absent.
func readBatteryInt(fsys fs.FS, name string) (int64, error) {
	data, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		if alt, ok := chargeFallback[name]; ok {
			data, err = fs.ReadFile(fsys, alt)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("battery: %w", err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("battery: %s: %w", name, err)
	}
	return v, nil
}
