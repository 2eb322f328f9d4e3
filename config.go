// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
)

const (
	// defaultBindingTimeout bounds a single STUN binding request.
	defaultBindingTimeout = 5 * time.Second

	// defaultRelayTimeout bounds a single TURN allocation.
	defaultRelayTimeout = 10 * time.Second

	// defaultMaxConcurrentProbes limits how many servers are probed at once.
	defaultMaxConcurrentProbes = 8

	loggerScope = "nat"
)

var defaultCandidateTypes = []CandidateType{CandidateTypeHost, CandidateTypeServerReflexive, CandidateTypeRelay} //nolint:gochecknoglobals

// ResolverConfig collects the arguments to resolver construction into
// a single structure, for future-proofness of the interface.
// Every strategy reads the fields it needs and ignores the others.
type ResolverConfig struct {
	// Servers is the static STUN server list. When empty, ServerSource is
	// consulted, then the embedded default list.
	Servers []STUNServer

	// ServerSource supplies the STUN server list when Servers is empty.
	ServerSource ServerSource

	// Directory is an optional alternate source of STUN servers advertised
	// by the signaling network. Its servers are appended to the static list.
	Directory ServiceDirectory

	// URIs is the list of STUN and TURN URIs used by the ICE resolver.
	URIs []*stun.URI

	// NetworkTypes is an optional configuration for disabling or enabling
	// support for specific network types. Defaults to UDP4 and UDP6.
	NetworkTypes []NetworkType

	// CandidateTypes restricts which candidate types the ICE resolver gathers.
	CandidateTypes []CandidateType

	// InterfaceFilter is a function that you can use in order to whitelist or blacklist
	// the interfaces which are used to gather candidates.
	InterfaceFilter func(string) bool

	// IPFilter is a function that you can use in order to whitelist or blacklist
	// the IPs which are used to gather candidates.
	IPFilter func(net.IP) bool

	// IncludeLoopback includes loopback addresses in the candidate list.
	IncludeLoopback bool

	// PortMin and PortMax are optional. Leave them 0 for the default UDP port allocation strategy.
	PortMin uint16
	PortMax uint16

	// BindingTimeout bounds each binding request. Defaults to 5 seconds.
	BindingTimeout time.Duration

	// RelayTimeout bounds each TURN allocation. Defaults to 10 seconds.
	RelayTimeout time.Duration

	// MaxConcurrentProbes limits parallel server probes. Defaults to 8.
	MaxConcurrentProbes int

	// BindingClient performs binding requests. Defaults to a pion/stun based client.
	BindingClient BindingClient

	// MulticastDNSMode controls whether host candidates are published under an mDNS name.
	MulticastDNSMode MulticastDNSMode

	// MulticastDNSHostName controls the published name. If none is specified a random one will be generated.
	MulticastDNSHostName string

	// InsecureSkipVerify controls if self-signed certificates are accepted when connecting
	// to TURN servers via TLS or DTLS.
	InsecureSkipVerify bool

	// LocalUfrag and LocalPwd are the ICE credentials copied onto every
	// ICE candidate. They are generated when empty.
	LocalUfrag string
	LocalPwd   string

	// Component is the ICE component of gathered candidates. Defaults to ComponentRTP.
	Component uint16

	// Net is the network abstraction. Defaults to the standard library network.
	Net transport.Net

	LoggerFactory logging.LoggerFactory
}

// withDefaults returns a copy of the config with every zero value replaced by its default.
func (config *ResolverConfig) withDefaults() (*ResolverConfig, error) {
	c := ResolverConfig{}
	if config != nil {
		c = *config
	}

	if len(c.NetworkTypes) == 0 {
		c.NetworkTypes = supportedNetworkTypes()
	}
	if len(c.CandidateTypes) == 0 {
		c.CandidateTypes = defaultCandidateTypes
	}
	if c.BindingTimeout <= 0 {
		c.BindingTimeout = defaultBindingTimeout
	}
	if c.RelayTimeout <= 0 {
		c.RelayTimeout = defaultRelayTimeout
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = defaultMaxConcurrentProbes
	}
	if c.MulticastDNSMode == 0 {
		c.MulticastDNSMode = MulticastDNSModeDisabled
	}
	if c.Component == 0 {
		c.Component = ComponentRTP
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.BindingClient == nil {
		c.BindingClient = NewBindingClient(c.BindingTimeout)
	}
	if c.Net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return nil, err
		}
		c.Net = n
	}

	return &c, nil
}
