package installer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/mock"
	"github.com/semihalev/dnspick/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	installer  *Installer
	cfg        *config.Config
	configPath string
	sink       *mock.Sink
	stdout     *bytes.Buffer

	calls   []string
	crontab string
}

func newFixture(t *testing.T, current string, cronErr error) *fixture {
	dir := t.TempDir()

	src := filepath.Join(dir, "build", "dnspick")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o600))

	cfg := config.Default()
	cfg.InstallPath = filepath.Join(dir, "bin", "dnspick")
	cfg.LogFile = filepath.Join(dir, "log", "dns-update.log")

	f := &fixture{
		cfg:        cfg,
		configPath: filepath.Join(dir, "dnspick.toml"),
		sink:       new(mock.Sink),
		stdout:     new(bytes.Buffer),
	}

	runner := shell.RunnerFunc(func(ctx context.Context, argv ...string) ([]byte, error) {
		f.calls = append(f.calls, strings.Join(argv, " "))

		switch {
		case len(argv) == 2 && argv[0] == "crontab" && argv[1] == "-l":
			return []byte(current), nil
		case len(argv) == 2 && argv[0] == "crontab":
			if cronErr != nil {
				return nil, cronErr
			}
			data, err := os.ReadFile(argv[1])
			if err != nil {
				return nil, err
			}
			f.crontab = string(data)
			return nil, nil
		case argv[0] == cfg.InstallPath:
			return []byte("smoke run output\n"), nil
		}

		return nil, errors.New("unexpected command")
	})

	f.installer = New(cfg, f.configPath, runner, f.sink)
	f.installer.stdout = f.stdout
	f.installer.euid = func() int { return 0 }
	f.installer.executable = func() (string, error) { return src, nil }

	return f
}

func Test_SetupRequiresRoot(t *testing.T) {
	f := newFixture(t, "", nil)
	f.installer.euid = func() int { return 1000 }

	err := f.installer.Setup(context.Background())

	assert.ErrorIs(t, err, ErrNotRoot)
	assert.Empty(t, f.calls)
	assert.True(t, f.sink.Contains("must be run as root"))
}

func Test_Setup(t *testing.T) {
	f := newFixture(t, "0 3 * * * /usr/bin/backup\n*/5 * * * * /old/dnspick --run\n", nil)

	require.NoError(t, f.installer.Setup(context.Background()))

	info, err := os.Stat(f.cfg.InstallPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(f.cfg.LogFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())

	cfg, err := config.Load(f.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Fallback, cfg.Fallback)

	entry := CronEntry(f.cfg, f.configPath)
	assert.Equal(t, "0 3 * * * /usr/bin/backup\n*/5 * * * * /old/dnspick --run\n"+entry+"\n", f.crontab)

	assert.Equal(t, f.cfg.InstallPath+" --run --config "+f.configPath, f.calls[len(f.calls)-1])
	assert.Equal(t, "smoke run output\n", f.stdout.String())
	assert.True(t, f.sink.Contains("Setup complete."))
}

func Test_SetupIsIdempotent(t *testing.T) {
	f := newFixture(t, "", nil)

	require.NoError(t, f.installer.Setup(context.Background()))
	first := f.crontab

	// The second listing already carries our entry.
	var second string
	f.installer.runner = shell.RunnerFunc(func(ctx context.Context, argv ...string) ([]byte, error) {
		if len(argv) == 2 && argv[0] == "crontab" && argv[1] == "-l" {
			return []byte(first), nil
		}
		if len(argv) == 2 && argv[0] == "crontab" {
			data, err := os.ReadFile(argv[1])
			second = string(data)
			return nil, err
		}
		return nil, nil
	})

	require.NoError(t, f.installer.Setup(context.Background()))

	assert.Equal(t, first, second)
	assert.Equal(t, 1, strings.Count(second, f.cfg.InstallPath))
}

func Test_SetupCronFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, "", errors.New("crontab: exit status 1"))

	require.NoError(t, f.installer.Setup(context.Background()))

	assert.True(t, f.sink.Contains("Error setting up cron job"))
	assert.True(t, f.sink.Contains("Setup complete."))
}

func Test_SetupKeepsInstalledBinary(t *testing.T) {
	f := newFixture(t, "", nil)

	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.InstallPath), 0o755))
	require.NoError(t, os.WriteFile(f.cfg.InstallPath, []byte("installed"), 0o755))

	require.NoError(t, f.installer.Setup(context.Background()))

	data, err := os.ReadFile(f.cfg.InstallPath)
	require.NoError(t, err)
	assert.Equal(t, "installed", string(data))
	assert.False(t, f.sink.Contains("Copying dnspick"))
}

func Test_RewriteCrontab(t *testing.T) {
	const entry = "*/30 * * * * /usr/local/bin/dnspick --run --config /etc/dnspick.toml"

	tests := []struct {
		name    string
		current string
		want    string
	}{
		{"empty", "", entry + "\n"},
		{"keeps others", "0 1 * * * /bin/true\n", "0 1 * * * /bin/true\n" + entry + "\n"},
		{"replaces ours", "0 1 * * * /bin/true\n*/10 * * * * /usr/local/bin/dnspick --run\n", "0 1 * * * /bin/true\n" + entry + "\n"},
		{"no trailing newline", "0 1 * * * /bin/true", "0 1 * * * /bin/true\n" + entry + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteCrontab(tt.current, "/usr/local/bin/dnspick", entry))
		})
	}
}

func Test_CronEntry(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "*/30 * * * * /usr/local/bin/dnspick --run --config /etc/dnspick.toml",
		CronEntry(cfg, config.DefaultPath))
}
