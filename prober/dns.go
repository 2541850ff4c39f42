package prober

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/montanaflynn/stats"
	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/runlog"
)

var errNoAnswer = errors.New("no answer received")

// DNS probes by timing root NS queries sent to the resolver.
type DNS struct {
	// Port is the resolver port, 53 unless set otherwise.
	Port string

	sink    runlog.Sink
	count   int
	timeout time.Duration
}

// NewDNS returns a DNS query based prober.
func NewDNS(cfg *config.Config, sink runlog.Sink) *DNS {
	return &DNS{
		Port:    "53",
		sink:    sink,
		count:   cfg.ProbeCount,
		timeout: cfg.ProbeTimeout.Duration,
	}
}

// Probe implements Prober.
func (d *DNS) Probe(ctx context.Context, address string) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	c := &dns.Client{Net: "udp", Timeout: d.timeout}

	req := new(dns.Msg)
	req.SetQuestion(".", dns.TypeNS)
	req.RecursionDesired = true

	server := net.JoinHostPort(address, d.Port)

	var (
		rtts    []float64
		lastErr error = errNoAnswer
	)

	for i := 0; i < d.count; i++ {
		_, rtt, err := c.ExchangeContext(ctx, req, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		rtts = append(rtts, float64(rtt)/float64(time.Millisecond))
	}

	if len(rtts) == 0 {
		return report(d.sink, Result{Address: address}, lastErr)
	}

	avg, err := stats.Mean(rtts)
	if err != nil {
		return report(d.sink, Result{Address: address}, err)
	}

	return report(d.sink, Result{Address: address, Reachable: true, Latency: avg}, nil)
}
