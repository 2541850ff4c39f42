// Package selector decides, per interface, whether to keep, replace or fall
// back the configured resolver.
//
// Every interface goes through a small state machine, once per run:
//
//	noResolver --(fallback applied and verified)--> evaluate
//	evaluate   --(unreachable or slower than threshold)--> selectFastest
//	evaluate   --(fast enough)--> done
//	selectFastest --> done
//
// Failures end the machine for that interface only; they are logged and
// reported in the Result, never returned as errors.
package selector

import (
	"context"
	"net/netip"
	"sort"
	"strings"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/configurator"
	"github.com/semihalev/dnspick/inspector"
	"github.com/semihalev/dnspick/prober"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/zlog/v2"
)

// Outcome of one interface pass.
type Outcome string

// Outcomes
const (
	Unchanged       Outcome = "unchanged"
	Updated         Outcome = "updated"
	FallbackApplied Outcome = "fallback"
	Failed          Outcome = "failed"
)

// Result is the typed outcome consumed by the run coordinator.
type Result struct {
	Interface string
	Outcome   Outcome

	// Resolver is the resolver reported by the system at the end of the pass,
	// "" when unknown.
	Resolver string

	// Verified is false when an apply was accepted but the follow-up query
	// reported a different resolver.
	Verified bool
}

type state int

const (
	stateNoResolver state = iota
	stateEvaluate
	stateSelect
	stateDone
)

// pass carries the per-interface state of a run.
type pass struct {
	name    string
	current string
	result  Result
}

// Engine is the selection engine.
type Engine struct {
	cfg     *config.Config
	prober  prober.Prober
	status  inspector.ResolverStatusReader
	applier configurator.ResolverApplier
	sink    runlog.Sink
}

// New return engine
func New(cfg *config.Config, p prober.Prober, status inspector.ResolverStatusReader,
	applier configurator.ResolverApplier, sink runlog.Sink) *Engine {
	return &Engine{cfg: cfg, prober: p, status: status, applier: applier, sink: sink}
}

// Process runs the state machine for one UP interface.
func (e *Engine) Process(ctx context.Context, name string) Result {
	p := &pass{name: name}
	p.current = e.status.CurrentResolver(ctx, name)
	p.result = Result{Interface: name, Outcome: Unchanged, Resolver: p.current, Verified: true}

	st := stateEvaluate
	if p.current == "" {
		st = stateNoResolver
	}

	for st != stateDone {
		switch st {
		case stateNoResolver:
			st = e.noResolver(ctx, p)
		case stateEvaluate:
			st = e.evaluate(ctx, p)
		case stateSelect:
			st = e.selectFastest(ctx, p)
		}
	}

	return p.result
}

func (e *Engine) noResolver(ctx context.Context, p *pass) state {
	fallback := e.cfg.Fallback

	e.sink.Logf("No current DNS server found for %s. Setting fallback DNS server.", p.name)

	applied, observed := e.applyAndVerify(ctx, p.name, fallback)
	if !applied {
		e.sink.Logf("Failed to set fallback DNS %s for %s. Skipping.", fallback, p.name)
		p.result.Outcome = Failed
		return stateDone
	}

	p.result.Resolver = observed

	if !sameAddress(observed, fallback) {
		e.sink.Logf("Failed to set fallback DNS %s for %s. Current DNS: %s", fallback, p.name, observed)
		p.result.Outcome = Failed
		p.result.Verified = false
		return stateDone
	}

	p.current = fallback
	p.result.Outcome = FallbackApplied

	return stateEvaluate
}

func (e *Engine) evaluate(ctx context.Context, p *pass) state {
	res := e.prober.Probe(ctx, probeTarget(p.current))
	threshold := e.cfg.LatencyThreshold.Milliseconds()

	if !res.Reachable || res.Latency > threshold {
		e.sink.Logf("Current DNS %s for %s is either unreachable or too slow (Latency: %s ms, Threshold: %s ms)",
			p.current, p.name, prober.FormatLatency(res.Latency), prober.FormatLatency(threshold))
		return stateSelect
	}

	e.sink.Logf("Current DNS %s for %s is performing well (Latency: %s ms).", p.current, p.name, prober.FormatLatency(res.Latency))
	e.sink.Logf("No changes needed for %s.", p.name)

	return stateDone
}

func (e *Engine) selectFastest(ctx context.Context, p *pass) state {
	e.sink.Logf("Testing all DNS servers to find the fastest one for %s...", p.name)

	results := make([]prober.Result, 0, len(e.cfg.Resolvers))
	for _, r := range e.cfg.Resolvers {
		results = append(results, e.prober.Probe(ctx, r.Address))
	}

	best, ok := Fastest(results)
	if !ok {
		fallback := e.cfg.Fallback

		e.sink.Logf("No reachable DNS servers found for %s.", p.name)
		e.sink.Logf("Falling back to default DNS server: %s for %s", fallback, p.name)

		applied, observed := e.applyAndVerify(ctx, p.name, fallback)
		if !applied {
			p.result.Outcome = Failed
			return stateDone
		}

		p.result.Outcome = FallbackApplied
		p.result.Resolver = observed
		p.result.Verified = sameAddress(observed, fallback)

		return stateDone
	}

	e.sink.Logf("Fastest DNS server for %s: %s (Latency: %s ms)", p.name, best.Address, prober.FormatLatency(best.Latency))

	applied, observed := e.applyAndVerify(ctx, p.name, best.Address)
	if !applied {
		e.sink.Logf("Failed to set new DNS %s for %s. Keeping current settings.", best.Address, p.name)
		p.result.Outcome = Failed
		return stateDone
	}

	p.result.Outcome = Updated
	p.result.Resolver = observed

	if !sameAddress(observed, best.Address) {
		e.sink.Logf("Failed to set new DNS %s for %s. Current DNS: %s", best.Address, p.name, observed)
		p.result.Verified = false
	}

	return stateDone
}

// Online probes the connectivity check address.
func (e *Engine) Online(ctx context.Context) bool {
	return e.prober.Probe(ctx, e.cfg.ConnectivityCheck).Reachable
}

// ForceFallback applies the fallback to every UP interface, without any
// measurement. It is the offline path of a run.
func (e *Engine) ForceFallback(ctx context.Context, links []inspector.Interface) []Result {
	var results []Result

	for _, link := range links {
		if link.State != inspector.Up {
			continue
		}

		results = append(results, e.forceFallback(ctx, link.Name))
	}

	return results
}

// forceFallback keeps a panicking interface from ending the offline pass.
func (e *Engine) forceFallback(ctx context.Context, name string) (res Result) {
	res = Result{Interface: name, Outcome: Failed}

	defer func() {
		if r := recover(); r != nil {
			zlog.Error("Recovered in forced fallback", "interface", name, "recover", r)
			e.sink.Logf("Error processing interface %s: %v", name, r)

			res = Result{Interface: name, Outcome: Failed}
		}
	}()

	e.sink.Logf("Setting fallback DNS server %s for %s due to network issues...", e.cfg.Fallback, name)

	applied, observed := e.applyAndVerify(ctx, name, e.cfg.Fallback)
	if applied {
		res.Outcome = FallbackApplied
		res.Resolver = observed
		res.Verified = sameAddress(observed, e.cfg.Fallback)
	}

	return res
}

// applyAndVerify applies address and re-reads the interface resolver.
// A mismatch is only logged; the caller decides what it means.
func (e *Engine) applyAndVerify(ctx context.Context, name, address string) (applied bool, observed string) {
	if !e.applier.Apply(ctx, name, address) {
		return false, ""
	}

	observed = e.status.CurrentResolver(ctx, name)
	if sameAddress(observed, address) {
		e.sink.Logf("Updated DNS settings verified for %s: %s", name, observed)
	} else {
		e.sink.Logf("Warning: failed to verify updated DNS settings for %s. Current DNS: %s", name, observed)
	}

	return true, observed
}

// Fastest returns the reachable result with the lowest latency. Equal
// latencies keep pool order.
func Fastest(results []prober.Result) (prober.Result, bool) {
	reachable := make([]prober.Result, 0, len(results))
	for _, r := range results {
		if r.Reachable {
			reachable = append(reachable, r)
		}
	}

	if len(reachable) == 0 {
		return prober.Result{}, false
	}

	sort.SliceStable(reachable, func(i, j int) bool {
		return reachable[i].Latency < reachable[j].Latency
	})

	return reachable[0], true
}

// sameAddress compares resolver addresses as IPs. resolvectl may print a
// "#server-name" or "%zone" suffix.
func sameAddress(a, b string) bool {
	if a == b {
		return a != ""
	}

	pa, errA := netip.ParseAddr(trimAddress(a))
	pb, errB := netip.ParseAddr(trimAddress(b))
	if errA != nil || errB != nil {
		return false
	}

	return pa.Unmap() == pb.Unmap()
}

// probeTarget drops the "#server-name" suffix, ping and the DNS prober only
// take the address. A "%zone" suffix is kept, link-local servers need it.
func probeTarget(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}

	return s
}

func trimAddress(s string) string {
	if i := strings.IndexAny(s, "#%"); i >= 0 {
		return s[:i]
	}

	return s
}
