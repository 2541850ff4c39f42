package resolved

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/semihalev/dnspick/config"
	"github.com/semihalev/dnspick/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func Test_AddressCodec(t *testing.T) {
	e, err := encodeAddress("1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, linkDNS{Family: unix.AF_INET, Address: []byte{1, 1, 1, 1}}, e)

	addr, ok := decodeAddress(e)
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1", addr)

	e, err = encodeAddress("2606:4700:4700::1111")
	require.NoError(t, err)
	assert.Equal(t, int32(unix.AF_INET6), e.Family)
	assert.Len(t, e.Address, 16)

	addr, ok = decodeAddress(e)
	require.True(t, ok)
	assert.Equal(t, "2606:4700:4700::1111", addr)

	e, err = encodeAddress("::ffff:9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, int32(unix.AF_INET), e.Family)

	_, err = encodeAddress("one.one.one.one")
	assert.Error(t, err)

	_, ok = decodeAddress(linkDNS{Family: unix.AF_INET, Address: []byte{1, 2}})
	assert.False(t, ok)
}

func newUnreachableBackend(sink *mock.Sink) *Backend {
	b := New(config.Default(), sink)
	b.connect = func() (*dbus.Conn, error) { return nil, errors.New("no system bus") }
	b.index = func(name string) (int, error) { return 2, nil }

	return b
}

func Test_BackendNoBus(t *testing.T) {
	sink := new(mock.Sink)
	b := newUnreachableBackend(sink)

	assert.Equal(t, "", b.CurrentResolver(context.Background(), "enp88s0"))
	assert.True(t, sink.Contains("Error getting current DNS servers for enp88s0: dbus: no system bus"))

	assert.False(t, b.Apply(context.Background(), "docker0", "1.1.1.1"))
	assert.True(t, sink.Contains("Interface docker0 appears to be a container bridge"))
	assert.True(t, sink.Contains("Error setting DNS server 1.1.1.1 for docker0"))
}

func Test_BackendUnknownInterface(t *testing.T) {
	sink := new(mock.Sink)
	b := New(config.Default(), sink)

	assert.Equal(t, "", b.CurrentResolver(context.Background(), "dnspick-missing0"))
	assert.False(t, b.Apply(context.Background(), "dnspick-missing0", "1.1.1.1"))
	assert.Nil(t, b.conn)
}
