package configurator_test

import (
	"context"
	"testing"

	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/configurator"
	"github.com/semihalev/dnspick/mock"
	"github.com/stretchr/testify/assert"
)

func Test_Apply(t *testing.T) {
	runner := mock.NewRunner()
	sink := new(mock.Sink)

	ok := configurator.New(config.Default(), runner, sink).Apply(context.Background(), "enp88s0", "1.0.0.1")
	assert.True(t, ok)

	assert.Equal(t, []string{
		"resolvectl set-dns enp88s0 1.0.0.1",
		"resolvectl flush-caches",
		"systemctl restart systemd-resolved",
	}, runner.Calls())
	assert.True(t, sink.Contains("DNS server updated to 1.0.0.1 for interface enp88s0."))
	assert.False(t, sink.Contains("container bridge"))
}

func Test_ApplySetDNSFails(t *testing.T) {
	runner := mock.NewRunner().Fail("resolvectl set-dns enp88s0 1.0.0.1")
	sink := new(mock.Sink)

	ok := configurator.New(config.Default(), runner, sink).Apply(context.Background(), "enp88s0", "1.0.0.1")
	assert.False(t, ok)

	assert.Equal(t, []string{"resolvectl set-dns enp88s0 1.0.0.1"}, runner.Calls())
	assert.True(t, sink.Contains("Error setting DNS server 1.0.0.1 for enp88s0"))
}

func Test_ApplyRestartFails(t *testing.T) {
	runner := mock.NewRunner().Fail("systemctl restart systemd-resolved")

	ok := configurator.New(config.Default(), runner, new(mock.Sink)).Apply(context.Background(), "enp88s0", "1.0.0.1")
	assert.False(t, ok)
	assert.Len(t, runner.Calls(), 3)
}

func Test_ApplyBridge(t *testing.T) {
	runner := mock.NewRunner()
	sink := new(mock.Sink)

	ok := configurator.New(config.Default(), runner, sink).Apply(context.Background(), "docker0", "1.1.1.1")
	assert.True(t, ok)

	assert.True(t, sink.Contains("Interface docker0 appears to be a container bridge"))
	assert.True(t, runner.Called("resolvectl set-dns docker0 1.1.1.1"))
}
