/*
Package main implements dnspick - a DNS resolver selector for systemd-resolved hosts.

dnspick runs periodically from cron and keeps every UP network interface
pointed at a fast, reachable resolver:

  - Measures the current resolver of each interface with ping (or a DNS query)
  - Keeps it when it answers under the latency threshold
  - Otherwise probes the configured pool and applies the fastest resolver
  - Applies the fallback resolver when nothing is reachable or no resolver is set
  - Forces the fallback on every interface when the connectivity check fails
  - Warns when the previous run is older than the maximum interval
  - Optionally writes a Prometheus textfile for node_exporter

Architecture:

One run is strictly sequential and goes through these components:

 1. Coordinator - drift check, connectivity check, interface loop
 2. Inspector - interface states from "ip link", current resolver from "resolvectl status"
 3. Selector - per interface state machine (no resolver, evaluate, select fastest)
 4. Prober - latency measurement, infinite when unreachable
 5. Configurator - "resolvectl set-dns", cache flush and systemd-resolved restart
 6. Resolved - optional D-Bus backend replacing Inspector and Configurator for resolvers

Configuration:

dnspick uses a TOML configuration file (default: /etc/dnspick.toml). When the
file is missing the built-in defaults are used; --setup writes them out.

  - Resolver pool and fallback resolver
  - Latency threshold, probe count and timeout
  - Run log and metrics textfile locations
  - Cron schedule and install path
  - Command lines of the system tools

Usage:

	dnspick [flags]

Flags:

	    --config string   location of the config file (default "/etc/dnspick.toml")
	-h, --help            help for dnspick
	    --run             check and update the DNS settings of every interface once
	    --setup           install the binary, the log file, the config and the cron job (root only)
	    --version         show version information

Example:

	# Install and schedule
	sudo dnspick --setup

	# One run with a custom config
	dnspick --run --config ./dnspick.toml
*/
package main // import "github.com/semihalev/dnspick"
