// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"net"

	"github.com/jingle-go/nat/internal/metrics"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
)

// localAddr is a usable address of a local interface.
type localAddr struct {
	ip    net.IP
	iface string

	// networkIndex is the position of the interface among the usable ones.
	networkIndex int
}

func localInterfaces(
	n transport.Net,
	interfaceFilter func(string) bool,
	ipFilter func(net.IP) bool,
	networkTypes []NetworkType,
	includeLoopback bool,
) ([]localAddr, error) {
	addrs := []localAddr{}

	ifaces, err := n.Interfaces()
	if err != nil {
		return addrs, err
	}

	ipv4Requested, ipv6Requested := len(networkTypes) == 0, len(networkTypes) == 0
	for _, typ := range networkTypes {
		if typ.IsIPv4() {
			ipv4Requested = true
		}
		if typ.IsIPv6() {
			ipv6Requested = true
		}
	}

	networkIndex := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue // interface down
		}
		if (iface.Flags&net.FlagLoopback != 0) && !includeLoopback {
			continue // loopback interface
		}
		if interfaceFilter != nil && !interfaceFilter(iface.Name) {
			continue
		}

		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		usable := false
		for _, addr := range ifaceAddrs {
			var ip net.IP
			switch addr := addr.(type) {
			case *net.IPNet:
				ip = addr.IP
			case *net.IPAddr:
				ip = addr.IP
			}
			if ip == nil || (ip.IsLoopback() && !includeLoopback) {
				continue
			}

			if ipv4 := ip.To4(); ipv4 == nil {
				if !ipv6Requested || !isSupportedIPv6(ip) {
					continue
				}
			} else {
				if !ipv4Requested {
					continue
				}
				ip = ipv4
			}

			if ipFilter != nil && !ipFilter(ip) {
				continue
			}

			addrs = append(addrs, localAddr{ip: ip, iface: iface.Name, networkIndex: networkIndex})
			usable = true
		}

		if usable {
			networkIndex++
		}
	}

	return addrs, nil
}

func listenUDPInPortRange(
	n transport.Net,
	log logging.LeveledLogger,
	portMax, portMin int,
	network string,
	lAddr *net.UDPAddr,
) (transport.UDPConn, error) {
	if (lAddr.Port != 0) || ((portMin == 0) && (portMax == 0)) {
		return n.ListenUDP(network, lAddr)
	}

	if portMin == 0 {
		portMin = 1024
	}
	if portMax == 0 {
		portMax = 0xFFFF
	}
	if portMin > portMax {
		return nil, ErrPort
	}

	portStart := ids.portIn(portMin, portMax)
	portCurrent := portStart
	for {
		addr := &net.UDPAddr{IP: lAddr.IP, Port: portCurrent}
		c, e := n.ListenUDP(network, addr)
		if e == nil {
			return c, e //nolint:nilerr
		}
		log.Debugf("Failed to listen %s: %v", addr.String(), e)

		portCurrent++
		if portCurrent > portMax {
			portCurrent = portMin
		}
		if portCurrent == portStart {
			break
		}
	}

	return nil, ErrPort
}

// base is a bound local socket that candidates are learned through.
type base struct {
	conn         transport.UDPConn
	addr         *net.UDPAddr
	networkType  NetworkType
	networkIndex int
}

// gatherEnv is what every gatherer of one resolver shares.
type gatherEnv struct {
	config   *ResolverConfig
	log      logging.LeveledLogger
	strategy string
}

func newGatherEnv(config *ResolverConfig, strategy string) *gatherEnv {
	return &gatherEnv{
		config:   config,
		log:      config.LoggerFactory.NewLogger(loggerScope),
		strategy: strategy,
	}
}

func (env *gatherEnv) failure(kind string) {
	metrics.ProbeFailures.WithLabelValues(env.strategy, kind).Inc()
}

func (env *gatherEnv) listenUDP(network string, ip net.IP) (transport.UDPConn, error) {
	return listenUDPInPortRange(
		env.config.Net, env.log,
		int(env.config.PortMax), int(env.config.PortMin),
		network, &net.UDPAddr{IP: ip, Port: 0},
	)
}

// openBases binds one socket per usable local address. Sockets are added to sockets.
func (env *gatherEnv) openBases(sockets *closerSet) ([]*base, error) {
	addrs, err := localInterfaces(
		env.config.Net,
		env.config.InterfaceFilter,
		env.config.IPFilter,
		env.config.NetworkTypes,
		env.config.IncludeLoopback,
	)
	if err != nil {
		return nil, err
	}

	bases := []*base{}
	for _, addr := range addrs {
		networkType := NetworkTypeUDP4
		if addr.ip.To4() == nil {
			networkType = NetworkTypeUDP6
		}

		conn, err := env.listenUDP(networkType.String(), addr.ip)
		if err != nil {
			env.log.Warnf("Could not listen %s %s: %v", networkType, addr.ip, err)
			env.failure(metrics.FailureListen)

			continue
		}
		sockets.add(conn)

		port := 0
		if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			port = udpAddr.Port
		}

		bases = append(bases, &base{
			conn:         conn,
			addr:         &net.UDPAddr{IP: addr.ip, Port: port},
			networkType:  networkType,
			networkIndex: addr.networkIndex,
		})
	}

	if len(bases) == 0 {
		return nil, ErrNoUsableInterface
	}

	return bases, nil
}
