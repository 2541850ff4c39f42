package prober

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/shell"
)

var errUnparsable = errors.New("could not parse ping output")

// iputils prints "rtt min/avg/max/mdev", busybox "round-trip min/avg/max".
var summaryRe = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max(?:/(?:mdev|stddev))? = [\d.]+/([\d.]+)/[\d.]+`)

// Ping probes with the system ping command.
type Ping struct {
	runner  shell.Runner
	sink    runlog.Sink
	command string
	count   int
	timeout time.Duration
}

// NewPing returns a ping based prober.
func NewPing(cfg *config.Config, r shell.Runner, sink runlog.Sink) *Ping {
	return &Ping{
		runner:  r,
		sink:    sink,
		command: cfg.Commands.Ping,
		count:   cfg.ProbeCount,
		timeout: cfg.ProbeTimeout.Duration,
	}
}

// Probe implements Prober.
func (p *Ping) Probe(ctx context.Context, address string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := shell.RunCommand(ctx, p.runner, p.command, "-c", strconv.Itoa(p.count), address)
	if err != nil {
		return report(p.sink, Result{Address: address}, err)
	}

	avg, ok := ParseAverage(out)
	if !ok {
		return report(p.sink, Result{Address: address}, errUnparsable)
	}

	return report(p.sink, Result{Address: address, Reachable: true, Latency: avg}, nil)
}

// ParseAverage extracts the average round trip in milliseconds from ping output.
func ParseAverage(out []byte) (float64, bool) {
	m := summaryRe.FindSubmatch(out)
	if m == nil {
		return 0, false
	}

	avg, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil || avg < 0 {
		return 0, false
	}

	return avg, true
}
