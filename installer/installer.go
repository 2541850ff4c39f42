// Package installer implements "dnspick --setup".
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/runlog"
	"github.com/semihalev/dnspick/shell"
	"github.com/semihalev/zlog/v2"
)

// ErrNotRoot is returned when setup runs without root privileges.
var ErrNotRoot = errors.New("setup must be run as root")

// Installer installs the binary, the run log, the config and the crontab entry.
type Installer struct {
	cfg        *config.Config
	configPath string
	runner     shell.Runner
	sink       runlog.Sink
	stdout     io.Writer

	euid       func() int
	executable func() (string, error)
}

// New return installer
func New(cfg *config.Config, configPath string, r shell.Runner, sink runlog.Sink) *Installer {
	return &Installer{
		cfg:        cfg,
		configPath: configPath,
		runner:     r,
		sink:       sink,
		stdout:     os.Stdout,
		euid:       os.Geteuid,
		executable: os.Executable,
	}
}

// Setup performs the installation and one smoke test run. It is idempotent.
func (i *Installer) Setup(ctx context.Context) error {
	if i.euid() != 0 {
		i.sink.Logf("dnspick --setup must be run as root. Use sudo.")
		return ErrNotRoot
	}

	i.sink.Logf("Setup mode: Configuring dnspick, logging, and cron job...")

	if err := i.installBinary(); err != nil {
		return err
	}

	if err := i.setupLogging(); err != nil {
		return err
	}

	created, err := config.Generate(i.configPath)
	if err != nil {
		return err
	}
	if created {
		i.sink.Logf("Default config written to %s.", i.configPath)
	}

	if err := i.setupCron(ctx); err != nil {
		i.sink.Logf("Error setting up cron job: %v", err)
	}

	i.sink.Logf("Testing dnspick in run mode...")

	out, err := i.runner.Run(ctx, i.cfg.InstallPath, "--run", "--config", i.configPath)
	if i.stdout != nil {
		_, _ = i.stdout.Write(out)
	}
	if err != nil {
		i.sink.Logf("Test run failed: %v", err)
	}

	i.sink.Logf("Setup complete. dnspick will now run on schedule %q via cron.", i.cfg.Schedule)
	i.sink.Logf("Check the log file at %s for details.", i.cfg.LogFile)

	return nil
}

func (i *Installer) installBinary() error {
	dst := i.cfg.InstallPath

	if _, err := os.Stat(dst); err == nil {
		zlog.Debug("Binary already installed", "path", dst)
		return nil
	}

	src, err := i.executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	i.sink.Logf("Copying dnspick to %s...", dst)

	if err := copyFile(src, dst, 0o755); err != nil {
		return fmt.Errorf("install binary: %w", err)
	}

	i.sink.Logf("Binary copied and permissions set to 755 for %s.", dst)

	return nil
}

func (i *Installer) setupLogging() error {
	logFile := i.cfg.LogFile
	logDir := filepath.Dir(logFile)

	i.sink.Logf("Creating log directory %s if it doesn't exist...", logDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	i.sink.Logf("Creating log file %s if it doesn't exist...", logFile)
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	_ = f.Close()

	// The scheduled run may not be root, the log must stay writable.
	if err := os.Chmod(logFile, 0o666); err != nil {
		return fmt.Errorf("chmod log file: %w", err)
	}

	i.sink.Logf("Log file permissions set to 666 for %s.", logFile)

	return nil
}

func (i *Installer) setupCron(ctx context.Context) error {
	entry := CronEntry(i.cfg, i.configPath)

	i.sink.Logf("Configuring cron job with schedule %q...", i.cfg.Schedule)

	// "crontab -l" exits non-zero when there is no crontab yet.
	current, err := shell.RunCommand(ctx, i.runner, i.cfg.Commands.Crontab, "-l")
	if err != nil {
		zlog.Debug("No current crontab", "error", err.Error())
	}

	tmp, err := os.CreateTemp("", "dnspick-crontab-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(RewriteCrontab(string(current), i.cfg.InstallPath, entry)); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if _, err := shell.RunCommand(ctx, i.runner, i.cfg.Commands.Crontab, tmp.Name()); err != nil {
		return err
	}

	i.sink.Logf("Cron job configured: %s", entry)

	return nil
}

// CronEntry returns the crontab line of the periodic run.
func CronEntry(cfg *config.Config, configPath string) string {
	return fmt.Sprintf("%s %s --run --config %s", cfg.Schedule, cfg.InstallPath, configPath)
}

// RewriteCrontab drops every line mentioning installPath and appends entry.
func RewriteCrontab(current, installPath, entry string) string {
	var b strings.Builder

	current = strings.TrimRight(current, "\n")
	if current != "" {
		for _, line := range strings.Split(current, "\n") {
			if strings.Contains(line, installPath) {
				continue
			}

			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	b.WriteString(entry)
	b.WriteByte('\n')

	return b.String()
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	if err := out.Close(); err != nil {
		return err
	}

	return os.Chmod(dst, mode)
}
