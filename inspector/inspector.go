// Package inspector enumerates network interfaces and reads the resolver
// configured on each of them.
package inspector

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/shell"
)

// State is the operational state of a link.
type State string

// Link states
const (
	Up   State = "UP"
	Down State = "DOWN"
)

// Interface is a link snapshot taken once per run.
type Interface struct {
	Name  string
	State State
}

// LinkStateReporter enumerates non-loopback interfaces.
type LinkStateReporter interface {
	ListInterfaces(ctx context.Context) []Interface
}

// ResolverStatusReader returns the first resolver configured on an
// interface, or "" when there is none or the lookup failed.
type ResolverStatusReader interface {
	CurrentResolver(ctx context.Context, name string) string
}

// "2: enp88s0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc ... state UP mode DEFAULT"
// "5: veth1a2b@if4: <...> ... state DOWN ..."
var linkRe = regexp.MustCompile(`^\d+: ([^:@\s]+)(?:@[^:\s]+)?: <[^>]*>.*\bstate (UP|DOWN)\b`)

// Links reads the link table with "ip link".
type Links struct {
	runner   shell.Runner
	sink     runlog.Sink
	command  string
	loopback string
}

// NewLinks return links
func NewLinks(cfg *config.Config, r shell.Runner, sink runlog.Sink) *Links {
	return &Links{runner: r, sink: sink, command: cfg.Commands.Links, loopback: cfg.Loopback}
}

// ListInterfaces implements LinkStateReporter.
func (l *Links) ListInterfaces(ctx context.Context) []Interface {
	out, err := shell.RunCommand(ctx, l.runner, l.command)
	if err != nil {
		l.sink.Logf("Error getting network interfaces: %v", err)
		return nil
	}

	return ParseLinks(out, l.loopback)
}

// ParseLinks extracts interfaces in report order, skipping loopback.
// Links in states other than UP or DOWN are not reported.
func ParseLinks(out []byte, loopback string) []Interface {
	var links []Interface

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := linkRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		if m[1] == loopback {
			continue
		}

		links = append(links, Interface{Name: m[1], State: State(m[2])})
	}

	return links
}

// Resolvectl reads per-link resolvers with "resolvectl status <link>".
type Resolvectl struct {
	runner  shell.Runner
	sink    runlog.Sink
	command string
}

// NewResolvectl return resolvectl
func NewResolvectl(cfg *config.Config, r shell.Runner, sink runlog.Sink) *Resolvectl {
	return &Resolvectl{runner: r, sink: sink, command: cfg.Commands.Status}
}

// CurrentResolver implements ResolverStatusReader.
func (r *Resolvectl) CurrentResolver(ctx context.Context, name string) string {
	out, err := shell.RunCommand(ctx, r.runner, r.command, name)
	if err != nil {
		r.sink.Logf("Error getting current DNS servers for %s: %v", name, err)
		return ""
	}

	servers := ParseStatus(out)
	if len(servers) == 0 {
		r.sink.Logf("No DNS servers found in resolvectl output for %s.", name)
		return ""
	}

	r.sink.Logf("Current DNS servers for %s: %s", name, strings.Join(servers, ", "))

	return servers[0]
}

// ParseStatus returns the addresses of every "DNS Servers:" line in order.
func ParseStatus(out []byte) []string {
	var servers []string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "DNS Servers") {
			continue
		}

		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		servers = append(servers, strings.Fields(value)...)
	}

	return servers
}
