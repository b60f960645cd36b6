// Package producers implements the content sources of the status line and
// the registry that maps configuration kind names to them. Each producer
// kind decodes its own arguments from the widget's YAML node.
package producers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// ErrUnknownKind is returned by Build for unregistered producer kinds.
var ErrUnknownKind = errors.New("producers: unknown producer kind")

// Factory builds a producer from its configuration arguments. A zero
// yaml.Node means the widget has no args section.
type Factory func(args yaml.Node) (status.Producer, error)

// Registry holds producer factories keyed by kind name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. An existing factory of the same kind is replaced.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Build constructs a producer of the given kind.
func (r *Registry) Build(kind string, args yaml.Node) (status.Producer, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	p, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("producers: %s: %w", kind, err)
	}
	return p, nil
}

var (
	builtinOnce sync.Once
	builtin     *Registry
)

// Builtin returns the shared registry of every producer kind in this module.
func Builtin() *Registry {
	builtinOnce.Do(func() {
		r := NewRegistry()
		r.Register("clock", NewClock)
		r.Register("battery", NewBattery)
		r.Register("thermal", NewThermal)
		r.Register("netif", NewNetif)
		r.Register("disk", NewDisk)
		r.Register("load", NewLoad)
		r.Register("uptime", NewUptime)
		r.Register("memory", NewMemory)
		r.Register("script", NewScript)
		builtin = r
	})
	return builtin
}

// Known reports whether kind names a built-in producer.
func Known(kind string) bool {
	return Builtin().Has(kind)
}

// decodeArgs decodes args into v, leaving v untouched when args is empty.
func decodeArgs(args yaml.Node, v any) error {
	if args.Kind == 0 {
		return nil
	}
	if err := args.Decode(v); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	return nil
}

// Func adapts a stateless function to status.Producer.
type Func func(ctx context.Context, buf *status.Buffer) error

// NewState returns nil; a Func keeps no state.
func (f Func) NewState() status.State { return nil }

// Produce calls f.
func (f Func) Produce(ctx context.Context, buf *status.Buffer, _ status.State) error {
	return f(ctx, buf)
}

// Stateful adapts a function with typed per-slot state of type S to
// status.Producer. Each slot gets its own *S from Init (or new(S)).
type Stateful[S any] struct {
	Init func() *S
	Fn   func(ctx context.Context, buf *status.Buffer, st *S) error
}

// NewState returns a fresh *S.
func (p Stateful[S]) NewState() status.State {
	if p.Init != nil {
		return p.Init()
	}
	return new(S)
}

// Produce calls Fn with the slot's typed state.
func (p Stateful[S]) Produce(ctx context.Context, buf *status.Buffer, st status.State) error {
	s, ok := st.(*S)
	if !ok {
		return fmt.Errorf("producers: unexpected state %T", st)
	}
	return p.Fn(ctx, buf, s)
}
