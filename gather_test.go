// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"errors"
	"net"
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
	"github.com/stretchr/testify/require"
)

type errInterfacesNet struct {
	transport.Net
	retErr error
}

func (e *errInterfacesNet) Interfaces() ([]*transport.Interface, error) {
	return nil, e.retErr
}

type fixedInterfacesNet struct {
	transport.Net
	list []*transport.Interface
}

func (f *fixedInterfacesNet) Interfaces() ([]*transport.Interface, error) {
	return f.list, nil
}

func testInterface(index int, name string, flags net.Flags, addrs ...string) *transport.Interface {
	iface := transport.NewInterface(net.Interface{
		Index: index,
		MTU:   1500,
		Name:  name,
		Flags: flags,
	})
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		iface.AddAddress(&net.IPNet{IP: ip, Mask: net.CIDRMask(bits/2, bits)})
	}

	return iface
}

func newFixedNet(t *testing.T, ifaces ...*transport.Interface) transport.Net {
	t.Helper()

	base, err := stdnet.NewNet()
	require.NoError(t, err)

	return &fixedInterfacesNet{Net: base, list: ifaces}
}

var errBoom = errors.New("boom")

func TestLocalInterfacesErrorFromInterfaces(t *testing.T) {
	base, err := stdnet.NewNet()
	require.NoError(t, err)

	addrs, err := localInterfaces(&errInterfacesNet{Net: base, retErr: errBoom}, nil, nil, nil, false)
	require.ErrorIs(t, err, errBoom)
	require.NotNil(t, addrs, "addrs should be a non-nil empty slice")
	require.Empty(t, addrs)
}

func TestLocalInterfaces(t *testing.T) {
	n := newFixedNet(t,
		testInterface(1, "lo", net.FlagUp|net.FlagLoopback, "127.0.0.1", "::1"),
		testInterface(2, "down0", 0, "10.9.9.9"),
		testInterface(3, "eth0", net.FlagUp, "10.0.0.1", "fe80::1", "2001:db8::1"),
		testInterface(4, "empty0", net.FlagUp),
		testInterface(5, "eth1", net.FlagUp, "192.168.1.5"),
	)

	ips := func(addrs []localAddr) []string {
		out := []string{}
		for _, a := range addrs {
			out = append(out, a.ip.String())
		}

		return out
	}

	t.Run("Defaults", func(t *testing.T) {
		addrs, err := localInterfaces(n, nil, nil, nil, false)
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1", "2001:db8::1", "192.168.1.5"}, ips(addrs))

		require.Equal(t, "eth0", addrs[0].iface)
		require.Equal(t, 0, addrs[0].networkIndex)
		require.Equal(t, 0, addrs[1].networkIndex, "same interface, same index")
		require.Equal(t, 1, addrs[2].networkIndex, "interfaces without usable addresses do not count")
		require.Len(t, addrs[0].ip, net.IPv4len)
	})

	t.Run("IPv4Only", func(t *testing.T) {
		addrs, err := localInterfaces(n, nil, nil, []NetworkType{NetworkTypeUDP4}, false)
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1", "192.168.1.5"}, ips(addrs))
	})

	t.Run("IPv6Only", func(t *testing.T) {
		addrs, err := localInterfaces(n, nil, nil, []NetworkType{NetworkTypeUDP6}, false)
		require.NoError(t, err)
		require.Equal(t, []string{"2001:db8::1"}, ips(addrs))
	})

	t.Run("IncludeLoopback", func(t *testing.T) {
		addrs, err := localInterfaces(n, nil, nil, []NetworkType{NetworkTypeUDP4}, true)
		require.NoError(t, err)
		require.Equal(t, []string{"127.0.0.1", "10.0.0.1", "192.168.1.5"}, ips(addrs))
		require.Equal(t, 2, addrs[2].networkIndex)
	})

	t.Run("Filters", func(t *testing.T) {
		addrs, err := localInterfaces(n,
			func(name string) bool { return name != "eth1" },
			func(ip net.IP) bool { return ip.To4() != nil },
			nil, false)
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1"}, ips(addrs))
	})
}

func TestListenUDPInPortRange(t *testing.T) {
	n, err := stdnet.NewNet()
	require.NoError(t, err)
	log := logging.NewDefaultLoggerFactory().NewLogger("test")
	lAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}

	t.Run("InRange", func(t *testing.T) {
		conn, err := listenUDPInPortRange(n, log, 40999, 40990, "udp4", lAddr)
		require.NoError(t, err)
		defer func() { require.NoError(t, conn.Close()) }()

		port := conn.LocalAddr().(*net.UDPAddr).Port //nolint:forcetypeassert
		require.GreaterOrEqual(t, port, 40990)
		require.LessOrEqual(t, port, 40999)
	})

	t.Run("InvertedRange", func(t *testing.T) {
		_, err := listenUDPInPortRange(n, log, 40990, 40999, "udp4", lAddr)
		require.ErrorIs(t, err, ErrPort)
	})

	t.Run("Exhausted", func(t *testing.T) {
		taken, err := listenUDPInPortRange(n, log, 0, 0, "udp4", lAddr)
		require.NoError(t, err)
		defer func() { require.NoError(t, taken.Close()) }()

		port := taken.LocalAddr().(*net.UDPAddr).Port //nolint:forcetypeassert
		_, err = listenUDPInPortRange(n, log, port, port, "udp4", lAddr)
		require.ErrorIs(t, err, ErrPort)
	})
}

func TestOpenBases(t *testing.T) {
	config, err := (&ResolverConfig{
		Net:             newFixedNet(t, testInterface(1, "lo", net.FlagUp|net.FlagLoopback, "127.0.0.1")),
		IncludeLoopback: true,
		NetworkTypes:    []NetworkType{NetworkTypeUDP4},
	}).withDefaults()
	require.NoError(t, err)

	env := newGatherEnv(config, "test")
	sockets := &closerSet{}
	bases, err := env.openBases(sockets)
	require.NoError(t, err)
	require.Len(t, bases, 1)

	b := bases[0]
	require.Equal(t, NetworkTypeUDP4, b.networkType)
	require.True(t, b.addr.IP.Equal(net.IPv4(127, 0, 0, 1)))
	require.NotZero(t, b.addr.Port)
	require.Equal(t, b.conn.LocalAddr().String(), b.addr.String())

	require.NoError(t, sockets.closeAll())

	config.IncludeLoopback = false
	_, err = env.openBases(sockets)
	require.ErrorIs(t, err, ErrNoUsableInterface)
}
