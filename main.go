package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/configurator"
	"github.com/semihalev/dnspick/coordinator"
	"github.com/semihalev/dnspick/inspector"
	"github.com/semihalev/dnspick/installer"
	"github.com/semihalev/dnspick/metrics"
	"github.com/semihalev/dnspick/prober"
	"github.com/semihalev/dnspick/resolved"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/selector"
	"github.com/semihalev/dnspick/shell"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// stderr receives the diagnostics of zlog and the command line errors.
var stderr io.Writer = os.Stderr

type options struct {
	config  string
	setup   bool
	run     bool
	version bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout io.Writer) int {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "dnspick",
		Short:         "Keep the fastest reachable DNS resolver configured on every interface",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.version {
				fmt.Fprintln(cmd.OutOrStdout(), "dnspick v"+version)
				return nil
			}

			return dispatch(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.config, "config", config.DefaultPath, "location of the config file, built-in defaults are used when it is missing")
	flags.BoolVar(&opts.setup, "setup", false, "install the binary, the log file, the config and the cron job (root only)")
	flags.BoolVar(&opts.run, "run", false, "check and update the DNS settings of every interface once")
	flags.BoolVar(&opts.version, "version", false, "show version information")

	cmd.MarkFlagsMutuallyExclusive("setup", "run")

	cmd.SetArgs(args)
	cmd.SetOut(stdout)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(stderr, "dnspick:", err)
		return 1
	}

	return 0
}

func dispatch(ctx context.Context, opts *options) (err error) {
	// Config loading logs too, start at the default level.
	setupLogging(stderr, "")

	cfg, cfgErr := config.Load(opts.config)
	if cfg == nil {
		// The run log location is still needed to report the error.
		cfg = config.Default()
	}

	setupLogging(stderr, cfg.LogLevel)

	logger := runlog.New(cfg.LogFile)

	defer func() {
		if r := recover(); r != nil {
			zlog.Error("Recovered in dnspick", "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}

		if err != nil {
			logger.Logf("Error in script execution: %v", err)
		}
	}()

	if !opts.setup && !opts.run {
		usage(logger)
		return nil
	}

	if cfgErr != nil {
		return cfgErr
	}

	if opts.setup {
		return installer.New(cfg, opts.config, shell.Exec{}, logger).Setup(ctx)
	}

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *runlog.Logger) error {
	runner := shell.Exec{}

	p := prober.New(cfg, runner, logger)

	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
		p = m.Instrument(p)
	}

	var (
		status  inspector.ResolverStatusReader
		applier configurator.ResolverApplier
	)

	switch cfg.Backend {
	case config.BackendDBus:
		backend := resolved.New(cfg, logger)
		status, applier = backend, backend
	default:
		status = inspector.NewResolvectl(cfg, runner, logger)
		applier = configurator.New(cfg, runner, logger)
	}

	engine := selector.New(cfg, p, status, applier, logger)
	links := inspector.NewLinks(cfg, runner, logger)

	rep := coordinator.New(cfg, links, engine, logger, logger, clockwork.NewRealClock()).Run(ctx)

	if m != nil {
		m.ObserveRun(rep.Finished, rep.Results, rep.Offline, rep.Drift)

		if err := m.WriteFile(cfg.MetricsFile); err != nil {
			zlog.Warn("Metrics textfile write failed", "path", cfg.MetricsFile, "error", err.Error())
		}
	}

	return nil
}

func usage(logger runlog.Sink) {
	logger.Logf("Usage: dnspick [--setup | --run] [--config PATH]")
	logger.Logf("  --setup    install dnspick, its log file, config and cron job (requires root)")
	logger.Logf("  --run      check and update DNS settings once")
	logger.Logf("  --config   config file location (default %s)", config.DefaultPath)
}

func setupLogging(w io.Writer, level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(w)

	switch level {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "info":
		logger.SetLevel(zlog.LevelInfo)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		logger.SetLevel(zlog.LevelWarn)
	}

	zlog.SetDefault(logger)
}
