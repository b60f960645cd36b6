package producers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/go-strftime"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// DefaultClockFormat is weekday, DDMMYY, HHMMSS and numeric zone.
const DefaultClockFormat = "%u %d%m%y %H%M%S%z"

// ClockArgs configures the clock producer.
type ClockArgs struct {
	// Format is a strftime layout.
	Format string `yaml:"format"`
	// Timezone is an IANA zone name; empty means the local zone.
	Timezone string `yaml:"timezone"`
}

// Clock renders the current time with a strftime layout.
type Clock struct {
	format string
	loc    *time.Location
	now    func() time.Time
}

// NewClock is the Factory for the "clock" kind.
func NewClock(args yaml.Node) (status.Producer, error) {
	a := ClockArgs{Format: DefaultClockFormat}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return newClock(a)
}

func newClock(a ClockArgs) (*Clock, error) {
	if a.Format == "" {
		a.Format = DefaultClockFormat
	}
	loc := time.Local
	if a.Timezone != "" {
		l, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", a.Timezone, err)
		}
		loc = l
	}
	return &Clock{format: a.Format, loc: loc, now: time.Now}, nil
}

// NewState returns nil; the clock is stateless.
func (c *Clock) NewState() status.State { return nil }

// Produce writes the formatted time. An empty rendering is a failure.
func (c *Clock) Produce(_ context.Context, buf *status.Buffer, _ status.State) error {
	var scratch [64]byte
	out := strftime.AppendFormat(scratch[:0], c.format, c.now().In(c.loc))
	if len(out) == 0 {
		return errors.New("clock: empty rendering")
	}
	_, err := buf.Write(out)
	return err
}
