// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"net"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/mdns/v2"
	"github.com/pion/transport/v3"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const mdnsSuffix = ".local"

// MulticastDNSMode selects whether host candidates expose their IP address
// or a generated .local name.
type MulticastDNSMode byte

const (
	// MulticastDNSModeDisabled keeps IP addresses on host candidates.
	MulticastDNSModeDisabled MulticastDNSMode = iota + 1

	// MulticastDNSModeQueryAndGather replaces host addresses with one .local
	// name, answered on the local link until the resolver is closed.
	MulticastDNSModeQueryAndGather
)

// generateMulticastDNSName returns a random version 4 UUID followed by
// ".local", the name format browsers use for host candidates.
func generateMulticastDNSName() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return u.String() + mdnsSuffix, nil
}

func isMulticastDNSName(address string) bool {
	return strings.HasSuffix(address, mdnsSuffix)
}

// networkTypeFromName resolves the network type of a candidate that has no IP yet.
func networkTypeFromName(network string) NetworkType {
	network = strings.ToLower(network)
	switch {
	case strings.HasPrefix(network, tcp) && strings.HasSuffix(network, "6"):
		return NetworkTypeTCP6
	case strings.HasPrefix(network, tcp):
		return NetworkTypeTCP4
	case strings.HasSuffix(network, "6"):
		return NetworkTypeUDP6
	default:
		return NetworkTypeUDP4
	}
}

func listenMulticast(n transport.Net, network, group string) (net.PacketConn, error) {
	addr, err := n.ResolveUDPAddr(network, group)
	if err != nil {
		return nil, err
	}

	return n.ListenUDP(network, addr)
}

// createMulticastDNS starts an mDNS responder for name on every IP family
// in networkTypes. Without any multicast socket it falls back to
// MulticastDNSModeDisabled instead of failing.
func createMulticastDNS(
	n transport.Net,
	mode MulticastDNSMode,
	name string,
	networkTypes []NetworkType,
	loggerFactory logging.LoggerFactory,
	log logging.LeveledLogger,
) (*mdns.Conn, MulticastDNSMode, error) {
	if mode != MulticastDNSModeQueryAndGather {
		return nil, MulticastDNSModeDisabled, nil
	}

	var (
		v4 *ipv4.PacketConn
		v6 *ipv6.PacketConn
	)
	if slices.ContainsFunc(networkTypes, NetworkType.IsIPv4) {
		if conn, err := listenMulticast(n, "udp4", mdns.DefaultAddressIPv4); err != nil {
			log.Warnf("No IPv4 mDNS socket: %v", err)
		} else {
			v4 = ipv4.NewPacketConn(conn)
		}
	}
	if slices.ContainsFunc(networkTypes, NetworkType.IsIPv6) {
		if conn, err := listenMulticast(n, "udp6", mdns.DefaultAddressIPv6); err != nil {
			log.Warnf("No IPv6 mDNS socket: %v", err)
		} else {
			v6 = ipv6.NewPacketConn(conn)
		}
	}

	if v4 == nil && v6 == nil {
		log.Warnf("mDNS unavailable, host candidates keep their IP addresses")

		return nil, MulticastDNSModeDisabled, nil
	}

	conn, err := mdns.Server(v4, v6, &mdns.Config{
		LocalNames:    []string{name},
		LoggerFactory: loggerFactory,
	})

	return conn, mode, err
}
