// Package coordinator sequences one dnspick run over all interfaces.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/inspector"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/selector"
	"github.com/semihalev/zlog/v2"
)

// RunHistory exposes the timestamps of previous runs.
type RunHistory interface {
	Drift(max time.Duration) (last time.Time, drift bool)
}

// Report summarizes a run.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time

	// Drift is set when the previous run is older than the maximum interval.
	Drift bool
	// Offline is set when the connectivity check failed and the fallback was forced.
	Offline bool

	Results []selector.Result
}

// Coordinator runs the selection engine over the interfaces of the host.
type Coordinator struct {
	cfg     *config.Config
	links   inspector.LinkStateReporter
	engine  *selector.Engine
	history RunHistory
	sink    runlog.Sink
	clock   clockwork.Clock
}

// New return coordinator
func New(cfg *config.Config, links inspector.LinkStateReporter, engine *selector.Engine,
	history RunHistory, sink runlog.Sink, clock clockwork.Clock) *Coordinator {
	return &Coordinator{cfg: cfg, links: links, engine: engine, history: history, sink: sink, clock: clock}
}

// Run performs one pass. It never fails: every problem is absorbed per
// interface and surfaced in the run log and the Report.
func (c *Coordinator) Run(ctx context.Context) *Report {
	rep := &Report{ID: uuid.NewString(), Started: c.clock.Now()}

	// The drift check must see the previous run, so it comes before the
	// first line of this one.
	last, drift := c.history.Drift(c.cfg.MaxInterval.Duration)

	c.sink.Logf("Run mode: Checking and updating DNS settings...")
	zlog.Info("Run started", "run", rep.ID)

	if drift {
		rep.Drift = true
		c.sink.Logf("Warning: Last run was more than %d minutes ago (%s). Scheduler may have failed.",
			int(c.cfg.MaxInterval.Minutes()), last.Format(runlog.TimeLayout))
	}

	defer func() {
		rep.Finished = c.clock.Now()
		zlog.Info("Run finished", "run", rep.ID, "offline", rep.Offline, "interfaces", len(rep.Results),
			"duration", rep.Finished.Sub(rep.Started).String())
	}()

	if !c.engine.Online(ctx) {
		rep.Offline = true

		c.sink.Logf("Network connectivity test: Failed to ping %s. There may be a network issue.", c.cfg.ConnectivityCheck)
		rep.Results = c.engine.ForceFallback(ctx, c.links.ListInterfaces(ctx))

		return rep
	}

	links := c.links.ListInterfaces(ctx)
	if len(links) == 0 {
		c.sink.Logf("No network interfaces found. Exiting.")
		return rep
	}

	for _, link := range links {
		c.sink.Logf("Processing interface %s (State: %s)...", link.Name, link.State)

		if link.State != inspector.Up {
			c.sink.Logf("Interface %s is not UP. Skipping DNS check.", link.Name)
			continue
		}

		res := c.process(ctx, link.Name)
		zlog.Debug("Interface processed", "run", rep.ID, "interface", res.Interface,
			"outcome", string(res.Outcome), "resolver", res.Resolver, "verified", res.Verified)

		rep.Results = append(rep.Results, res)
	}

	c.sink.Logf("Run completed.")

	return rep
}

// process keeps a panicking interface from ending the run.
func (c *Coordinator) process(ctx context.Context, name string) (res selector.Result) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("Recovered in interface processing", "interface", name, "recover", r)
			c.sink.Logf("Error processing interface %s: %v", name, r)

			res = selector.Result{Interface: name, Outcome: selector.Failed}
		}
	}()

	return c.engine.Process(ctx, name)
}
