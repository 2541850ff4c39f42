package mock

import (
	"context"
	"sync"

	"github.com/semihalev/dnspick/prober"
)

// Prober returns canned results. Unknown addresses are unreachable.
type Prober struct {
	mu sync.Mutex

	Results map[string]prober.Result
	calls   []string
}

// NewProber returns a prober with reachable addresses and their latencies.
func NewProber(latencies map[string]float64) *Prober {
	p := &Prober{Results: make(map[string]prober.Result)}
	for addr, ms := range latencies {
		p.Results[addr] = prober.Result{Address: addr, Reachable: true, Latency: ms}
	}

	return p
}

// Probe implements prober.Prober.
func (p *Prober) Probe(ctx context.Context, address string) prober.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, address)

	if res, ok := p.Results[address]; ok {
		return res
	}

	return prober.Unreachable(address)
}

// Calls returns the probed addresses in order.
func (p *Prober) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.calls...)
}
