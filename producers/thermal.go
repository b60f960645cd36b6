package producers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// ErrNoSensor is returned when no hwmon sensor matches the configuration.
var ErrNoSensor = errors.New("thermal: sensor not found")

// ThermalArgs selects a hwmon temperature input. Either Dir (a device
// directory containing hwmon/) or Chip (a hwmon name) must be set.
type ThermalArgs struct {
	Dir    string `yaml:"dir"`
	Sensor string `yaml:"sensor"`

	Chip  string `yaml:"chip"`
	Index int    `yaml:"index"`
	// Class is the hwmon class directory scanned for Chip.
	Class string `yaml:"class"`
}

// thermalState caches the resolved sensor path.
type thermalState struct {
	path string
}

// Thermal renders a hwmon temperature in whole degrees Celsius.
type Thermal struct {
	args ThermalArgs
}

// NewThermal is the Factory for the "thermal" kind.
func NewThermal(args yaml.Node) (status.Producer, error) {
	a := ThermalArgs{
		Sensor: "temp1_input",
		Index:  1,
		Class:  "/sys/class/hwmon",
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Dir == "" && a.Chip == "" {
		return nil, errors.New("one of dir or chip is required")
	}
	return &Thermal{args: a}, nil
}

// NewState returns an unresolved sensor.
func (t *Thermal) NewState() status.State { return &thermalState{} }

// Produce reads the sensor (millidegrees) and writes e.g. "72°C".
func (t *Thermal) Produce(_ context.Context, buf *status.Buffer, st status.State) error {
	s, ok := st.(*thermalState)
	if !ok {
		return fmt.Errorf("thermal: unexpected state %T", st)
	}
	if s.path == "" {
		path, err := t.resolve()
		if err != nil {
			return err
		}
		s.path = path
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		// The hwmon index can change across suspend or module reload.
		s.path = ""
		return fmt.Errorf("thermal: %w", err)
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return fmt.Errorf("thermal: parsing %s: %w", s.path, err)
	}
	_, err = fmt.Fprintf(buf, "%2.0f°C", milli/1e3)
	return err
}

func (t *Thermal) resolve() (string, error) {
	if t.args.Dir != "" {
		return firstHwmon(t.args.Dir, t.args.Sensor)
	}
	return findChip(t.args.Class, t.args.Chip, t.args.Index)
}

// firstHwmon returns sensor inside the first non-hidden directory of dir/hwmon.
func firstHwmon(dir, sensor string) (string, error) {
	hwmon := filepath.Join(dir, "hwmon")
	entries, err := os.ReadDir(hwmon)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoSensor, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !e.IsDir() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		return filepath.Join(hwmon, e.Name(), sensor), nil
	}
	return "", fmt.Errorf("%w: no hwmon directory under %s", ErrNoSensor, dir)
}

// findChip scans class for a hwmon whose name file equals chip.
func findChip(class, chip string, index int) (string, error) {
	entries, err := os.ReadDir(class)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoSensor, err)
	}
	for _, e := range entries {
		name, err := os.ReadFile(filepath.Join(class, e.Name(), "name"))
		if err != nil || strings.TrimSpace(string(name)) != chip {
			continue
		}
		path := filepath.Join(class, e.Name(), "temp"+strconv.Itoa(index)+"_input")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chip %q index %d", ErrNoSensor, chip, index)
}
