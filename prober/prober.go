// Package prober measures reachability and round-trip latency of resolvers.
package prober

import (
	"context"
	"math"
	"strconv"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/shell"
)

// Infinite is the latency of an unreachable address.
var Infinite = math.Inf(1)

// Result of a single probe. Latency is the average round trip in
// milliseconds and is only meaningful when Reachable is true.
type Result struct {
	Address   string
	Reachable bool
	Latency   float64
}

// Unreachable returns the failed result for address.
func Unreachable(address string) Result {
	return Result{Address: address, Latency: Infinite}
}

// Prober probes a resolver address. Failures never escape: they are logged
// and reported as an unreachable Result.
type Prober interface {
	Probe(ctx context.Context, address string) Result
}

// New returns the prober selected by cfg.ProbeMethod.
func New(cfg *config.Config, r shell.Runner, sink runlog.Sink) Prober {
	if cfg.ProbeMethod == config.ProbeDNS {
		return NewDNS(cfg, sink)
	}

	return NewPing(cfg, r, sink)
}

func report(sink runlog.Sink, res Result, err error) Result {
	if err != nil || !res.Reachable {
		res = Unreachable(res.Address)
		sink.Logf("DNS server %s is not reachable. Error: %v", res.Address, err)
		return res
	}

	sink.Logf("DNS server %s is reachable with average latency: %s ms", res.Address, FormatLatency(res.Latency))
	return res
}

// FormatLatency renders a latency for the run log.
func FormatLatency(ms float64) string {
	if math.IsInf(ms, 1) {
		return "inf"
	}

	return strconv.FormatFloat(ms, 'f', -1, 64)
}
