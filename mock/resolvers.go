package mock

import (
	"context"
	"sync"

	"github.com/semihalev/dnspick/inspector"
)

// Apply is a recorded apply call.
type Apply struct {
	Interface string
	Address   string
}

// System fakes the host: links, per-interface resolvers and resolver changes.
type System struct {
	mu sync.Mutex

	Links []inspector.Interface
	DNS   map[string]string

	// FailApply makes Apply return false for these interfaces.
	FailApply map[string]bool
	// Ignore makes Apply succeed without changing the resolver.
	Ignore map[string]bool

	applied []Apply
}

// NewSystem return system
func NewSystem(links ...inspector.Interface) *System {
	return &System{
		Links:     links,
		DNS:       make(map[string]string),
		FailApply: make(map[string]bool),
		Ignore:    make(map[string]bool),
	}
}

// ListInterfaces implements inspector.LinkStateReporter.
func (s *System) ListInterfaces(ctx context.Context) []inspector.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]inspector.Interface(nil), s.Links...)
}

// CurrentResolver implements inspector.ResolverStatusReader.
func (s *System) CurrentResolver(ctx context.Context, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.DNS[name]
}

// Apply implements configurator.ResolverApplier.
func (s *System) Apply(ctx context.Context, name, address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = append(s.applied, Apply{Interface: name, Address: address})

	if s.FailApply[name] {
		return false
	}

	if !s.Ignore[name] {
		s.DNS[name] = address
	}

	return true
}

// Applied returns the recorded apply calls.
func (s *System) Applied() []Apply {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Apply(nil), s.applied...)
}
