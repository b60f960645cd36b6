package scheduler

import (
	"fmt"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// Kind selects how a policy computes its next firing.
type Kind int

const (
	// WallClock fires on absolute time marks: every Period seconds, shifted
	// by Offset seconds from the Unix epoch.
	WallClock Kind = iota
	// OnDemand fires Period after its previous firing, without alignment.
	OnDemand
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case WallClock:
		return "wallclock"
	case OnDemand:
		return "ondemand"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses a configuration kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wallclock", "wall-clock", "":
		return WallClock, nil
	case "ondemand", "on-demand":
		return OnDemand, nil
	default:
		return 0, fmt.Errorf("scheduler: unknown update kind %q", s)
	}
}

// Policy binds a scheduling rule to the slots it refreshes together.
// LastFired and Next are maintained by the Scheduler only.
type Policy struct {
	Kind   Kind
	Period time.Duration
	Offset time.Duration

	// Slots are refreshed in order whenever the policy fires.
	Slots []status.Handle

	lastFired time.Time
	next      time.Time
}

// LastFired returns when the policy last fired (zero before the first run).
func (p *Policy) LastFired() time.Time { return p.lastFired }

// Next returns when the policy is due next (zero before the first run).
func (p *Policy) Next() time.Time { return p.next }

// Due reports whether the policy must fire at now. A policy is due once
// now has passed its next instant; it is never due while next - now >= 0.
func (p *Policy) Due(now time.Time) bool {
	return p.next.Sub(now) < 0
}

// NextFire computes the instant after now at which a policy of the given
// kind fires again.
//
// Wall-clock policies with a period of one second or less fire one second
// after now. Longer periods are aligned to whole seconds so that
// (next - offset) is a multiple of the period: a 60s policy with no offset
// fires at second :00 of every minute regardless of when the process
// started. On-demand policies fire period after now; non-positive periods
// are treated as one second.
func NextFire(kind Kind, period, offset time.Duration, now time.Time) time.Time {
	switch kind {
	case OnDemand:
		if period <= 0 {
			period = time.Second
		}
		return now.Add(period)

	default:
		if period <= time.Second {
			return now.Add(time.Second)
		}
		p := int64(period / time.Second)
		o := int64(offset / time.Second)
		sec := now.Unix()
		rem := (sec - o) % p
		if rem < 0 {
			rem += p
		}
		return time.Unix(sec+(p-rem), 0)
	}
}
