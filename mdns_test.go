// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"net"
	"regexp"
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
	"github.com/stretchr/testify/require"
)

func TestGenerateMulticastDNSName(t *testing.T) {
	name, err := generateMulticastDNSName()
	require.NoError(t, err)
	isMDNSName := regexp.MustCompile(
		`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}.local+$`,
	).MatchString

	require.True(t, isMDNSName(name), "mDNS name must be UUID v4 + \".local\" suffix, got %s", name)
	require.True(t, isMulticastDNSName(name))
	require.False(t, isMulticastDNSName("192.168.1.1"))
}

func TestNetworkTypeFromName(t *testing.T) {
	require.Equal(t, NetworkTypeUDP4, networkTypeFromName("udp"))
	require.Equal(t, NetworkTypeUDP6, networkTypeFromName("udp6"))
	require.Equal(t, NetworkTypeTCP4, networkTypeFromName("TCP"))
	require.Equal(t, NetworkTypeTCP6, networkTypeFromName("tcp6"))
}

func TestMulticastDNSCandidate(t *testing.T) {
	name, err := generateMulticastDNSName()
	require.NoError(t, err)

	c, err := NewCandidate(&CandidateConfig{Network: "udp4", Address: name, Port: 5000})
	require.NoError(t, err)
	require.Nil(t, c.IP())
	require.Equal(t, name, c.Address())
	require.Equal(t, NetworkTypeUDP4, c.NetworkType())
}

func TestCreateMulticastDNSDisabled(t *testing.T) {
	nw, err := stdnet.NewNet()
	require.NoError(t, err)

	lf := logging.NewDefaultLoggerFactory()
	conn, mode, err := createMulticastDNS(nw, MulticastDNSModeDisabled, "", supportedNetworkTypes(), lf, lf.NewLogger("nat"))
	require.NoError(t, err)
	require.Nil(t, conn)
	require.Equal(t, MulticastDNSModeDisabled, mode)
}

// noMulticastNet refuses every UDP socket.
type noMulticastNet struct {
	transport.Net
}

func (noMulticastNet) ListenUDP(string, *net.UDPAddr) (transport.UDPConn, error) {
	return nil, errBoom
}

func TestCreateMulticastDNSFallsBackWithoutSockets(t *testing.T) {
	nw, err := stdnet.NewNet()
	require.NoError(t, err)

	lf := logging.NewDefaultLoggerFactory()
	conn, mode, err := createMulticastDNS(
		noMulticastNet{Net: nw}, MulticastDNSModeQueryAndGather, "host.local",
		supportedNetworkTypes(), lf, lf.NewLogger("nat"),
	)
	require.NoError(t, err)
	require.Nil(t, conn)
	require.Equal(t, MulticastDNSModeDisabled, mode)
}
