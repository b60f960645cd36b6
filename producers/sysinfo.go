package producers

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/internal/format"
	"gitlab.com/tinyland/lab/pulsebar/status"
)

// loadScale is LINUX_SYSINFO_LOADS_SCALE.
const loadScale = 65536.0

// sysinfo is overridden in tests.
var sysinfo = unix.Sysinfo

// virtualMemory is overridden in tests.
var virtualMemory = mem.VirtualMemoryWithContext

// NewLoad is the Factory for the "load" kind: 1, 5 and 15 minute load
// averages.
func NewLoad(args yaml.Node) (status.Producer, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	return Func(func(_ context.Context, buf *status.Buffer) error {
		var si unix.Sysinfo_t
		if err := sysinfo(&si); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		_, err := fmt.Fprintf(buf, "%.2f %.2f %.2f",
			float64(si.Loads[0])/loadScale,
			float64(si.Loads[1])/loadScale,
			float64(si.Loads[2])/loadScale,
		)
		return err
	}), nil
}

// NewUptime is the Factory for the "uptime" kind.
func NewUptime(args yaml.Node) (status.Producer, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	return Func(func(_ context.Context, buf *status.Buffer) error {
		var si unix.Sysinfo_t
		if err := sysinfo(&si); err != nil {
			return fmt.Errorf("uptime: %w", err)
		}
		up := time.Duration(si.Uptime) * time.Second
		var scratch [32]byte
		_, err := buf.Write(format.AppendDuration(append(scratch[:0], "up "...), up))
		return err
	}), nil
}

// MemoryArgs configures the memory producer.
type MemoryArgs struct {
	// Label prefixes the percentage; defaults to "mem".
	Label string `yaml:"label"`
}

// NewMemory is the Factory for the "memory" kind: used RAM as a percentage.
func NewMemory(args yaml.Node) (status.Producer, error) {
	a := MemoryArgs{Label: "mem"}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return Func(func(ctx context.Context, buf *status.Buffer) error {
		vm, err := virtualMemory(ctx)
		if err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		_, err = fmt.Fprintf(buf, "%s %.0f%%", a.Label, vm.UsedPercent)
		return err
	}), nil
}
