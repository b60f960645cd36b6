package producers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/internal/format"
	"gitlab.com/tinyland/lab/pulsebar/status"
)

// minRateInterval is the shortest sampling window rates are computed over.
const minRateInterval = 100 * time.Millisecond

// NetifArgs configures the network interface producer.
type NetifArgs struct {
	Interface string `yaml:"interface"`
	// Label replaces the interface name in the output.
	Label string `yaml:"label"`
	// Rates appends receive and transmit rates.
	Rates bool `yaml:"rates"`
}

// netifState keeps the previous counter sample for rate computation.
type netifState struct {
	seeded bool
	rx, tx uint64
	at     time.Time
}

// Netif renders link state, IPv4 address and optional byte rates of one
// interface.
type Netif struct {
	args NetifArgs

	interfaceByName func(name string) (*net.Interface, error)
	addrs           func(ifi *net.Interface) ([]net.Addr, error)
	ioCounters      func(ctx context.Context) ([]gnet.IOCountersStat, error)
	now             func() time.Time
}

// NewNetif is the Factory for the "netif" kind.
func NewNetif(args yaml.Node) (status.Producer, error) {
	var a NetifArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Interface == "" {
		return nil, errors.New("interface is required")
	}
	return newNetif(a), nil
}

func newNetif(a NetifArgs) *Netif {
	if a.Label == "" {
		a.Label = a.Interface
	}
	return &Netif{
		args:            a,
		interfaceByName: net.InterfaceByName,
		addrs:           (*net.Interface).Addrs,
		ioCounters: func(ctx context.Context) ([]gnet.IOCountersStat, error) {
			return gnet.IOCountersWithContext(ctx, true)
		},
		now: time.Now,
	}
}

// NewState returns an unseeded counter sample.
func (n *Netif) NewState() status.State { return &netifState{} }

// Produce writes "label: <state> [rx/s tx/s]". An interface that does not
// exist renders as the bare label.
func (n *Netif) Produce(ctx context.Context, buf *status.Buffer, st status.State) error {
	s, ok := st.(*netifState)
	if !ok {
		return fmt.Errorf("netif: unexpected state %T", st)
	}
	if _, err := fmt.Fprintf(buf, "%s:", n.args.Label); err != nil {
		return err
	}

	ifi, err := n.interfaceByName(n.args.Interface)
	if err != nil {
		// Missing link device.
		return nil
	}
	if ifi.Flags&net.FlagUp == 0 {
		_, err := buf.WriteString(" down")
		return err
	}

	addrs, err := n.addrs(ifi)
	if err != nil {
		return fmt.Errorf("netif: %s addresses: %w", n.args.Interface, err)
	}
	if ip := firstIPv4(addrs); ip != nil {
		_, err = fmt.Fprintf(buf, " %s", ip)
	} else {
		_, err = buf.WriteString(" up")
	}
	if err != nil {
		return err
	}

	if !n.args.Rates {
		return nil
	}
	return n.writeRates(ctx, buf, s)
}

func (n *Netif) writeRates(ctx context.Context, buf *status.Buffer, s *netifState) error {
	counters, err := n.ioCounters(ctx)
	if err != nil {
		return fmt.Errorf("netif: counters: %w", err)
	}
	var cur *gnet.IOCountersStat
	for i := range counters {
		if counters[i].Name == n.args.Interface {
			cur = &counters[i]
			break
		}
	}
	if cur == nil {
		return nil
	}

	now := n.now()
	prev := *s
	s.seeded, s.rx, s.tx, s.at = true, cur.BytesRecv, cur.BytesSent, now

	elapsed := now.Sub(prev.at)
	if !prev.seeded || elapsed < minRateInterval {
		return nil
	}

	rate := func(cur, last uint64) []byte {
		if cur <= last {
			return []byte(" ..")
		}
		perSec := float64(cur-last) / elapsed.Seconds()
		out := append([]byte{' '}, format.AppendCompactSize(nil, format.Bytes(uint64(perSec)))...)
		return append(out, "/s"...)
	}
	if _, err := buf.Write(rate(cur.BytesRecv, prev.rx)); err != nil {
		return err
	}
	_, err = buf.Write(rate(cur.BytesSent, prev.tx))
	return err
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
