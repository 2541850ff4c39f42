// Package configurator applies a resolver to an interface.
package configurator

import (
	"context"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/shell"
)

// ResolverApplier sets the resolver of an interface. It returns true only
// when the change was accepted by the system; it does not verify it.
type ResolverApplier interface {
	Apply(ctx context.Context, name, address string) bool
}

// Resolvectl applies resolvers with resolvectl and restarts systemd-resolved.
type Resolvectl struct {
	cfg    *config.Config
	runner shell.Runner
	sink   runlog.Sink
}

// New return resolvectl applier
func New(cfg *config.Config, r shell.Runner, sink runlog.Sink) *Resolvectl {
	return &Resolvectl{cfg: cfg, runner: r, sink: sink}
}

// Apply implements ResolverApplier.
func (c *Resolvectl) Apply(ctx context.Context, name, address string) bool {
	WarnBridge(c.cfg, c.sink, name)

	steps := []struct {
		cmdline string
		args    []string
	}{
		{c.cfg.Commands.SetDNS, []string{name, address}},
		{c.cfg.Commands.FlushCaches, nil},
		{c.cfg.Commands.Restart, nil},
	}

	for _, step := range steps {
		if _, err := shell.RunCommand(ctx, c.runner, step.cmdline, step.args...); err != nil {
			c.sink.Logf("Error setting DNS server %s for %s: %v", address, name, err)
			return false
		}
	}

	c.sink.Logf("DNS server updated to %s for interface %s.", address, name)

	return true
}

// WarnBridge logs that container bridges may ignore resolver changes.
func WarnBridge(cfg *config.Config, sink runlog.Sink, name string) {
	if cfg.IsBridge(name) {
		sink.Logf("Interface %s appears to be a container bridge. Attempting to set DNS, but this may not be supported.", name)
	}
}
