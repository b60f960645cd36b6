package producers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/internal/format"
	"gitlab.com/tinyland/lab/pulsebar/status"
)

// Disk modes.
const (
	DiskSize = "size" // size of the file at Path
	DiskFree = "free" // filesystem space available to unprivileged users
	DiskUsed = "used" // filesystem used/total
)

// DiskArgs configures the disk producer.
type DiskArgs struct {
	Mode  string `yaml:"mode"`
	Path  string `yaml:"path"`
	Label string `yaml:"label"`
}

// Disk renders a file size or filesystem usage.
type Disk struct {
	args DiskArgs

	stat   func(path string) (os.FileInfo, error)
	statfs func(path string, buf *unix.Statfs_t) error
}

// NewDisk is the Factory for the "disk" kind.
func NewDisk(args yaml.Node) (status.Producer, error) {
	a := DiskArgs{Mode: DiskFree, Path: "/"}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return newDisk(a)
}

func newDisk(a DiskArgs) (*Disk, error) {
	switch a.Mode {
	case DiskSize, DiskFree, DiskUsed:
	default:
		return nil, fmt.Errorf("unknown mode %q", a.Mode)
	}
	if a.Path == "" {
		return nil, errors.New("path is required")
	}
	return &Disk{args: a, stat: os.Stat, statfs: unix.Statfs}, nil
}

// NewState returns nil; the disk producer is stateless.
func (d *Disk) NewState() status.State { return nil }

// Produce writes "[label: ]<size>" or "[label: ]<used>/<total>". A path
// that does not exist renders the label alone.
func (d *Disk) Produce(_ context.Context, buf *status.Buffer, _ status.State) error {
	var scratch [48]byte
	out := scratch[:0]
	if d.args.Label != "" {
		out = append(out, d.args.Label...)
		out = append(out, ": "...)
	}

	switch d.args.Mode {
	case DiskSize:
		fi, err := d.stat(d.args.Path)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return fmt.Errorf("disk: %w", err)
		}
		out = format.AppendCompactSize(out, format.Bytes(uint64(fi.Size())))

	default:
		var st unix.Statfs_t
		err := d.statfs(d.args.Path, &st)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return fmt.Errorf("disk: statfs %s: %w", d.args.Path, err)
		}
		bsize := uint64(st.Frsize)
		if bsize == 0 {
			bsize = uint64(st.Bsize)
		}
		if d.args.Mode == DiskFree {
			out = format.AppendCompactSize(out, format.Bytes(st.Bavail*bsize))
			break
		}
		used := (st.Blocks - st.Bfree) * bsize
		out = format.AppendCompactSize(out, format.Bytes(used))
		out = append(out, '/')
		out = format.AppendCompactSize(out, format.Bytes(st.Blocks*bsize))
	}

	_, err := buf.Write(out)
	return err
}
