package config

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// DefaultPath is the config location used when --config is not given.
const DefaultPath = "/etc/dnspick.toml"

// Config type
type Config struct {
	Version string

	LogFile     string
	LogLevel    string
	MetricsFile string

	InstallPath string
	Schedule    string
	MaxInterval Duration

	LatencyThreshold  Duration
	ProbeTimeout      Duration
	ProbeCount        int
	ProbeMethod       string
	ConnectivityCheck string

	Fallback  string
	Resolvers []Resolver

	Loopback    string
	BridgeHints []string

	Backend  string
	Commands Commands
}

// Resolver is a candidate of the resolver pool.
type Resolver struct {
	Address string
	Label   string
}

// Commands holds the command lines of the system collaborators.
type Commands struct {
	Ping        string
	Links       string
	Status      string
	SetDNS      string `toml:"set_dns"`
	FlushCaches string `toml:"flush_caches"`
	Restart     string
	Crontab     string
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText for duration type
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Milliseconds returns the duration as fractional milliseconds.
func (d Duration) Milliseconds() float64 {
	return float64(d.Duration) / float64(time.Millisecond)
}

// Probe methods
const (
	ProbePing = "ping"
	ProbeDNS  = "dns"
)

// Backends
const (
	BackendResolvectl = "resolvectl"
	BackendDBus       = "dbus"
)

var defaultResolvers = []Resolver{
	{"1.1.1.1", "Cloudflare"},
	{"1.0.0.1", "Cloudflare"},
	{"172.20.20.16", "Hamrah-Mechanic"},
	{"85.15.1.14", "Shatel"},
	{"85.15.1.15", "Shatel"},
	{"10.202.10.202", "403"},
	{"10.202.10.102", "403"},
	{"209.244.0.3", "Level3"},
	{"209.244.0.4", "Level3"},
	{"10.202.10.10", "radar.game"},
	{"10.202.10.11", "radar.game"},
	{"78.157.42.100", "electrotm.org"},
	{"78.157.42.101", "electrotm.org"},
	{"94.103.125.157", "sheltertm.com"},
	{"94.103.125.158", "sheltertm.com"},
	{"181.41.194.177", "beshkanapp.ir"},
	{"181.41.194.186", "beshkanapp.ir"},
	{"5.202.100.100", "pishgaman.net"},
	{"5.202.100.101", "pishgaman.net"},
	{"172.29.0.100", "Host-Iran"},
	{"172.29.2.100", "Host-Iran"},
	{"185.55.226.26", "Begzar"},
	{"185.55.225.25", "Begzar"},
	{"178.22.122.100", "Shecan"},
	{"185.51.200.2", "Shecan"},
}

// Default returns the built-in configuration.
func Default() *Config {
	resolvers := make([]Resolver, len(defaultResolvers))
	copy(resolvers, defaultResolvers)

	return &Config{
		Version:           configver,
		LogFile:           "/var/log/dns-update.log",
		LogLevel:          "warn",
		InstallPath:       "/usr/local/bin/dnspick",
		Schedule:          "*/30 * * * *",
		MaxInterval:       Duration{40 * time.Minute},
		LatencyThreshold:  Duration{100 * time.Millisecond},
		ProbeTimeout:      Duration{10 * time.Second},
		ProbeCount:        2,
		ProbeMethod:       ProbePing,
		ConnectivityCheck: "8.8.8.8",
		Fallback:          "1.1.1.1",
		Resolvers:         resolvers,
		Loopback:          "lo",
		BridgeHints:       []string{"docker"},
		Backend:           BackendResolvectl,
		Commands: Commands{
			Ping:        "ping",
			Links:       "ip link",
			Status:      "resolvectl status",
			SetDNS:      "resolvectl set-dns",
			FlushCaches: "resolvectl flush-caches",
			Restart:     "systemctl restart systemd-resolved",
			Crontab:     "crontab",
		},
	}
}

var defaultConfig = `# Config version, config and build versions can be different.
version = "{{.Version}}"

# Run log, every line is "YYYY-MM-DD HH:MM:SS: message". The scheduler drift check reads it back.
logfile = "{{.LogFile}}"

# Diagnostic log verbosity written to stderr [error,warn,info,debug]
loglevel = "{{.LogLevel}}"

# Prometheus textfile written after every run, left blank for disabled.
# metricsfile = "/var/lib/node_exporter/textfile_collector/dnspick.prom"
metricsfile = ""

# Where --setup installs the binary, the crontab entry is keyed by this path.
installpath = "{{.InstallPath}}"

# Crontab schedule of the periodic --run.
schedule = "{{.Schedule}}"

# Warn when the previous run is older than this.
maxinterval = "{{.MaxInterval}}"

# Resolvers slower than this average round trip are replaced.
latencythreshold = "{{.LatencyThreshold}}"

# Upper bound of a single probe.
probetimeout = "{{.ProbeTimeout}}"

# Echo requests (or DNS queries) per probe.
probecount = {{.ProbeCount}}

# How resolvers are measured [ping,dns]
probemethod = "{{.ProbeMethod}}"

# Address probed before anything else, when unreachable every UP interface gets the fallback.
connectivitycheck = "{{.ConnectivityCheck}}"

# Resolver applied when no measurement based decision can be made. Must be part of the pool.
fallback = "{{.Fallback}}"

# Loopback interface name, never touched.
loopback = "{{.Loopback}}"

# Interface name fragments of container bridges.
bridgehints = [{{range $i, $h := .BridgeHints}}{{if $i}}, {{end}}"{{$h}}"{{end}}]

# How resolvers are read and applied [resolvectl,dbus]
backend = "{{.Backend}}"

[commands]
ping = "{{.Commands.Ping}}"
links = "{{.Commands.Links}}"
status = "{{.Commands.Status}}"
set_dns = "{{.Commands.SetDNS}}"
flush_caches = "{{.Commands.FlushCaches}}"
restart = "{{.Commands.Restart}}"
crontab = "{{.Commands.Crontab}}"

# Candidate pool, the order is the tie-break order.
{{range .Resolvers}}
[[resolvers]]
address = "{{.Address}}"
label = "{{.Label}}"
{{end}}`

// Load loads the given config file, a missing file means built-in defaults.
// On a validation error the decoded config is still returned.
func Load(cfgfile string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		zlog.Debug("Config file not found, using defaults", "path", cfgfile)
		return config, config.Validate()
	}

	zlog.Debug("Loading config file", "path", cfgfile)

	// An explicit pool replaces the default one instead of appending to it.
	config.Resolvers = nil
	config.BridgeHints = nil

	md, err := toml.DecodeFile(cfgfile, config)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if !md.IsDefined("resolvers") {
		config.Resolvers = Default().Resolvers
	}

	if !md.IsDefined("bridgehints") {
		config.BridgeHints = Default().BridgeHints
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.", "path", cfgfile)
	}

	return config, config.Validate()
}

// Validate checks the invariants of the resolver pool and the numeric settings.
func (c *Config) Validate() error {
	var result *multierror.Error

	seen := make(map[netip.Addr]bool, len(c.Resolvers))
	for _, r := range c.Resolvers {
		addr, err := netip.ParseAddr(r.Address)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("resolver %q is not an ip address", r.Address))
			continue
		}

		if seen[addr.Unmap()] {
			result = multierror.Append(result, fmt.Errorf("resolver %q is listed more than once", r.Address))
		}
		seen[addr.Unmap()] = true
	}

	if len(c.Resolvers) == 0 {
		result = multierror.Append(result, fmt.Errorf("resolver pool is empty"))
	}

	if fallback, err := netip.ParseAddr(c.Fallback); err != nil {
		result = multierror.Append(result, fmt.Errorf("fallback %q is not an ip address", c.Fallback))
	} else if !seen[fallback.Unmap()] {
		result = multierror.Append(result, fmt.Errorf("fallback %q is not part of the resolver pool", c.Fallback))
	}

	if _, err := netip.ParseAddr(c.ConnectivityCheck); err != nil {
		result = multierror.Append(result, fmt.Errorf("connectivity check %q is not an ip address", c.ConnectivityCheck))
	}

	if c.ProbeCount < 1 {
		result = multierror.Append(result, fmt.Errorf("probecount must be positive"))
	}

	if c.ProbeTimeout.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("probetimeout must be positive"))
	}

	switch c.ProbeMethod {
	case ProbePing, ProbeDNS:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown probe method %q", c.ProbeMethod))
	}

	switch c.Backend {
	case BackendResolvectl, BackendDBus:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.LogFile == "" {
		result = multierror.Append(result, fmt.Errorf("logfile is required"))
	}

	return result.ErrorOrNil()
}

// IsBridge reports whether the interface name looks like a container bridge.
func (c *Config) IsBridge(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range c.BridgeHints {
		if hint != "" && strings.Contains(name, strings.ToLower(hint)) {
			return true
		}
	}

	return false
}

// Generate writes the default config file to path unless it exists.
func Generate(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := generateConfig(path); err != nil {
		return false, err
	}

	return true, nil
}

func generateConfig(path string) error {
	tmpl, err := template.New("config").Parse(defaultConfig)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, Default()); err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	return nil
}
