// Package resolved reads and applies per-link resolvers through the
// systemd-resolved D-Bus API instead of the resolvectl command.
package resolved

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/configurator"
	"github.com/semihalev/dnspick/runlog"
	"golang.org/x/sys/unix"
)

const (
	resolveDest    = "org.freedesktop.resolve1"
	resolvePath    = dbus.ObjectPath("/org/freedesktop/resolve1")
	resolveManager = "org.freedesktop.resolve1.Manager"
	linkDNSProp    = "org.freedesktop.resolve1.Link.DNS"

	systemdDest    = "org.freedesktop.systemd1"
	systemdPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager = "org.freedesktop.systemd1.Manager"

	resolvedUnit = "systemd-resolved.service"
)

// linkDNS is the a(iay) element of SetLinkDNS and Link.DNS.
type linkDNS struct {
	Family  int32
	Address []byte
}

// Backend implements inspector.ResolverStatusReader and
// configurator.ResolverApplier over the system bus.
type Backend struct {
	cfg  *config.Config
	sink runlog.Sink

	mu   sync.Mutex
	conn *dbus.Conn

	connect func() (*dbus.Conn, error)
	index   func(name string) (int, error)
}

// New return backend
func New(cfg *config.Config, sink runlog.Sink) *Backend {
	return &Backend{
		cfg:     cfg,
		sink:    sink,
		connect: dbus.SystemBus,
		index: func(name string) (int, error) {
			ifi, err := net.InterfaceByName(name)
			if err != nil {
				return 0, err
			}
			return ifi.Index, nil
		},
	}
}

func (b *Backend) bus() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return b.conn, nil
	}

	conn, err := b.connect()
	if err != nil {
		return nil, fmt.Errorf("dbus: %w", err)
	}
	b.conn = conn

	return conn, nil
}

// CurrentResolver implements inspector.ResolverStatusReader.
func (b *Backend) CurrentResolver(ctx context.Context, name string) string {
	servers, err := b.linkServers(ctx, name)
	if err != nil {
		b.sink.Logf("Error getting current DNS servers for %s: %v", name, err)
		return ""
	}

	if len(servers) == 0 {
		b.sink.Logf("No DNS servers found in systemd-resolved for %s.", name)
		return ""
	}

	b.sink.Logf("Current DNS servers for %s: %s", name, strings.Join(servers, ", "))

	return servers[0]
}

func (b *Backend) linkServers(ctx context.Context, name string) ([]string, error) {
	idx, err := b.index(name)
	if err != nil {
		return nil, err
	}

	conn, err := b.bus()
	if err != nil {
		return nil, err
	}

	var link dbus.ObjectPath
	err = conn.Object(resolveDest, resolvePath).
		CallWithContext(ctx, resolveManager+".GetLink", 0, int32(idx)).
		Store(&link)
	if err != nil {
		return nil, fmt.Errorf("dbus: GetLink: %w", err)
	}

	v, err := conn.Object(resolveDest, link).GetProperty(linkDNSProp)
	if err != nil {
		return nil, fmt.Errorf("dbus: %s: %w", linkDNSProp, err)
	}

	var entries []linkDNS
	if err := dbus.Store([]interface{}{v.Value()}, &entries); err != nil {
		return nil, fmt.Errorf("dbus: %s: %w", linkDNSProp, err)
	}

	var servers []string
	for _, e := range entries {
		if addr, ok := decodeAddress(e); ok {
			servers = append(servers, addr)
		}
	}

	return servers, nil
}

// Apply implements configurator.ResolverApplier.
func (b *Backend) Apply(ctx context.Context, name, address string) bool {
	configurator.WarnBridge(b.cfg, b.sink, name)

	if err := b.apply(ctx, name, address); err != nil {
		b.sink.Logf("Error setting DNS server %s for %s: %v", address, name, err)
		return false
	}

	b.sink.Logf("DNS server updated to %s for interface %s.", address, name)

	return true
}

func (b *Backend) apply(ctx context.Context, name, address string) error {
	entry, err := encodeAddress(address)
	if err != nil {
		return err
	}

	idx, err := b.index(name)
	if err != nil {
		return err
	}

	conn, err := b.bus()
	if err != nil {
		return err
	}

	resolve := conn.Object(resolveDest, resolvePath)

	if err := resolve.CallWithContext(ctx, resolveManager+".SetLinkDNS", 0, int32(idx), []linkDNS{entry}).Err; err != nil {
		return fmt.Errorf("dbus: SetLinkDNS: %w", err)
	}

	if err := resolve.CallWithContext(ctx, resolveManager+".FlushCaches", 0).Err; err != nil {
		return fmt.Errorf("dbus: FlushCaches: %w", err)
	}

	var job dbus.ObjectPath
	err = conn.Object(systemdDest, systemdPath).
		CallWithContext(ctx, systemdManager+".RestartUnit", 0, resolvedUnit, "replace").
		Store(&job)
	if err != nil {
		return fmt.Errorf("dbus: RestartUnit: %w", err)
	}

	return nil
}

func encodeAddress(address string) (linkDNS, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return linkDNS{}, fmt.Errorf("invalid resolver address %q", address)
	}

	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return linkDNS{Family: unix.AF_INET, Address: b[:]}, nil
	}

	b := addr.As16()
	return linkDNS{Family: unix.AF_INET6, Address: b[:]}, nil
}

func decodeAddress(e linkDNS) (string, bool) {
	switch {
	case e.Family == unix.AF_INET && len(e.Address) == 4:
		return netip.AddrFrom4([4]byte(e.Address)).String(), true
	case e.Family == unix.AF_INET6 && len(e.Address) == 16:
		return netip.AddrFrom16([16]byte(e.Address)).String(), true
	}

	return "", false
}
