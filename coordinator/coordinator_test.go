package coordinator

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/inspector"
	"github.com/semihalev/dnspick/mock"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type history struct {
	last  time.Time
	drift bool
}

func (h history) Drift(time.Duration) (time.Time, bool) { return h.last, h.drift }

type panicSystem struct {
	*mock.System
	name string
}

func (p panicSystem) CurrentResolver(ctx context.Context, name string) string {
	if name == p.name {
		panic("resolvectl exploded")
	}
	return p.System.CurrentResolver(ctx, name)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Resolvers = []config.Resolver{{Address: "1.1.1.1"}, {Address: "9.9.9.9"}}
	cfg.Fallback = "1.1.1.1"

	return cfg
}

func links() []inspector.Interface {
	return []inspector.Interface{
		{Name: "eth0", State: inspector.Up},
		{Name: "wlan0", State: inspector.Down},
		{Name: "eth1", State: inspector.Up},
	}
}

func Test_RunOffline(t *testing.T) {
	cfg := testConfig()
	system := mock.NewSystem(links()...)
	system.DNS["eth0"] = "9.9.9.9"
	p := mock.NewProber(map[string]float64{"9.9.9.9": 5, "1.1.1.1": 5})
	sink := new(mock.Sink)

	engine := selector.New(cfg, p, system, system, sink)
	rep := New(cfg, system, engine, history{}, sink, clockwork.NewFakeClock()).Run(context.Background())

	assert.True(t, rep.Offline)
	assert.Equal(t, []string{"8.8.8.8"}, p.Calls())
	assert.Equal(t, []mock.Apply{
		{Interface: "eth0", Address: "1.1.1.1"},
		{Interface: "eth1", Address: "1.1.1.1"},
	}, system.Applied())
	assert.Len(t, rep.Results, 2)
	assert.True(t, sink.Contains("Network connectivity test: Failed to ping 8.8.8.8."))
	assert.False(t, sink.Contains("performing well"))
	assert.False(t, sink.Contains("Run completed."))
}

func Test_RunOnline(t *testing.T) {
	cfg := testConfig()
	system := mock.NewSystem(links()...)
	system.DNS["eth0"] = "9.9.9.9"
	system.DNS["eth1"] = "10.0.0.53"
	system.DNS["wlan0"] = "10.0.0.53"
	p := mock.NewProber(map[string]float64{"8.8.8.8": 20, "9.9.9.9": 15, "1.1.1.1": 7})
	sink := new(mock.Sink)

	engine := selector.New(cfg, p, system, system, sink)
	rep := New(cfg, system, engine, history{}, sink, clockwork.NewFakeClock()).Run(context.Background())

	assert.False(t, rep.Offline)
	assert.False(t, rep.Drift)
	assert.NotEmpty(t, rep.ID)

	require.Len(t, rep.Results, 2)
	assert.Equal(t, selector.Result{Interface: "eth0", Outcome: selector.Unchanged, Resolver: "9.9.9.9", Verified: true}, rep.Results[0])
	assert.Equal(t, selector.Result{Interface: "eth1", Outcome: selector.Updated, Resolver: "1.1.1.1", Verified: true}, rep.Results[1])

	assert.Equal(t, "10.0.0.53", system.DNS["wlan0"])
	assert.True(t, sink.Contains("Interface wlan0 is not UP. Skipping DNS check."))
	assert.True(t, sink.Contains("Run completed."))
}

func Test_RunNoInterfaces(t *testing.T) {
	cfg := testConfig()
	system := mock.NewSystem()
	p := mock.NewProber(map[string]float64{"8.8.8.8": 20})
	sink := new(mock.Sink)

	engine := selector.New(cfg, p, system, system, sink)
	rep := New(cfg, system, engine, history{}, sink, clockwork.NewFakeClock()).Run(context.Background())

	assert.Empty(t, rep.Results)
	assert.True(t, sink.Contains("No network interfaces found. Exiting."))
}

func Test_RunInterfaceFailureDoesNotAbort(t *testing.T) {
	cfg := testConfig()
	system := mock.NewSystem(links()...)
	system.DNS["eth1"] = "9.9.9.9"
	p := mock.NewProber(map[string]float64{"8.8.8.8": 20, "9.9.9.9": 15})
	sink := new(mock.Sink)

	status := panicSystem{System: system, name: "eth0"}
	engine := selector.New(cfg, p, status, system, sink)
	rep := New(cfg, system, engine, history{}, sink, clockwork.NewFakeClock()).Run(context.Background())

	require.Len(t, rep.Results, 2)
	assert.Equal(t, selector.Failed, rep.Results[0].Outcome)
	assert.Equal(t, selector.Unchanged, rep.Results[1].Outcome)
	assert.True(t, sink.Contains("Error processing interface eth0: resolvectl exploded"))
}

func Test_RunDriftWarning(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	out := new(bytes.Buffer)
	log := runlog.NewWithClock(filepath.Join(t.TempDir(), "dns-update.log"), clock, out)

	cfg := testConfig()
	system := mock.NewSystem()
	p := mock.NewProber(map[string]float64{"8.8.8.8": 20})

	log.Logf("Run completed.")
	clock.Advance(41 * time.Minute)

	engine := selector.New(cfg, p, system, system, log)
	rep := New(cfg, system, engine, log, log, clock).Run(context.Background())

	assert.True(t, rep.Drift)
	assert.Contains(t, out.String(), "Warning: Last run was more than 40 minutes ago (2026-10-19 09:00:00). Scheduler may have failed.")

	// Second run within the cadence, the previous run is the one just done.
	out.Reset()
	clock.Advance(30 * time.Minute)

	rep = New(cfg, system, engine, log, log, clock).Run(context.Background())
	assert.False(t, rep.Drift)
	assert.False(t, strings.Contains(out.String(), "Scheduler may have failed"))
}
