// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net"
	"slices"
	"strings"
	"sync"
)

const (
	defaultLocalPreference = 65535

	// ComponentRTP indicates that the candidate is used for RTP
	ComponentRTP uint16 = 1
	// ComponentRTCP indicates that the candidate is used for RTCP
	ComponentRTCP uint16 = 2

	// rankFieldMax bounds NetworkIndex and Generation inside the preference key.
	rankFieldMax = 1023
	rankKeyMax   = 1<<52 - 1
)

// CandidateRelatedAddress conveys transport addresses related to the
// candidate, useful for diagnostics and other purposes.
type CandidateRelatedAddress struct {
	Address string
	Port    int
}

// String makes CandidateRelatedAddress printable
func (c *CandidateRelatedAddress) String() string {
	if c == nil {
		return ""
	}

	return fmt.Sprintf(" related %s:%d", c.Address, c.Port)
}

// CandidateConfig is the config required to create a new Candidate.
type CandidateConfig struct {
	// Network is "udp" or "tcp", optionally suffixed with 4 or 6. Defaults to "udp".
	Network string

	// Address is an IP literal or a ".local" multicast DNS name.
	Address string
	Port    int

	// Type defaults to CandidateTypeHost.
	Type CandidateType

	// Component defaults to ComponentRTP.
	Component uint16

	// Priority overrides the RFC 5245 priority computed from Type,
	// NetworkIndex and Component when non-zero.
	Priority uint32

	NetworkIndex int
	Generation   int

	Username string
	Password string

	// Foundation is derived from the type, base address and network when empty.
	Foundation string

	// LocalIP is the base address the candidate was learned through.
	LocalIP string

	RelatedAddress *CandidateRelatedAddress
}

// Candidate is one address a peer might be reachable at.
//
// A Candidate is immutable once it is added to a resolver; only the
// local IP may be changed before that point.
type Candidate struct {
	id             string
	networkType    NetworkType
	candidateType  CandidateType
	address        string
	ip             net.IP
	port           int
	component      uint16
	priority       uint32
	networkIndex   int
	generation     int
	username       string
	password       string
	foundation     string
	relatedAddress *CandidateRelatedAddress

	mu      sync.Mutex
	localIP net.IP
	frozen  bool
	seq     uint64
	conn    net.PacketConn
	echo    *CandidateEcho
}

// NewCandidate creates a new candidate from config.
func NewCandidate(config *CandidateConfig) (*Candidate, error) {
	if config.Port < 0 || config.Port > 0xFFFF {
		return nil, fmt.Errorf("%w: %d", ErrPort, config.Port)
	}

	network := config.Network
	if network == "" {
		network = udp
	}

	c := &Candidate{
		id:             ids.candidateID(),
		candidateType:  config.Type,
		address:        config.Address,
		port:           config.Port,
		component:      config.Component,
		networkIndex:   config.NetworkIndex,
		generation:     config.Generation,
		username:       config.Username,
		password:       config.Password,
		relatedAddress: config.RelatedAddress,
	}
	if c.candidateType == CandidateTypeUnspecified {
		c.candidateType = CandidateTypeHost
	}
	if c.component == 0 {
		c.component = ComponentRTP
	}

	if isMulticastDNSName(config.Address) {
		c.networkType = networkTypeFromName(network)
	} else {
		ip := net.ParseIP(config.Address)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrAddressParseFailed, config.Address)
		}

		networkType, err := determineNetworkType(network, ip)
		if err != nil {
			return nil, err
		}
		c.ip = ip
		c.networkType = networkType
	}

	if config.LocalIP != "" {
		if c.localIP = net.ParseIP(config.LocalIP); c.localIP == nil {
			return nil, fmt.Errorf("%w: local %q", ErrAddressParseFailed, config.LocalIP)
		}
	}

	c.priority = config.Priority
	if c.priority == 0 {
		c.priority = computePriority(c.candidateType, c.localPreference(), c.component)
	}

	c.foundation = config.Foundation
	if c.foundation == "" {
		c.foundation = c.computeFoundation()
	}

	return c, nil
}

// NewFixedCandidate creates a host candidate with a fixed address and port.
func NewFixedCandidate(address string, port int) (*Candidate, error) {
	return NewCandidate(&CandidateConfig{Address: address, Port: port})
}

// computePriority implements the RFC 5245 section 4.1.2.1 formula
// priority = (2^24)*(type preference) + (2^8)*(local preference) + (2^0)*(256 - component ID).
func computePriority(candidateType CandidateType, localPreference, component uint16) uint32 {
	return (1<<24)*uint32(candidateType.Preference()) +
		(1<<8)*uint32(localPreference) +
		uint32(256-component)
}

// localPreference ranks interfaces: NetworkIndex 0 is the most preferred.
func (c *Candidate) localPreference() uint16 {
	if c.networkIndex <= 0 {
		return defaultLocalPreference
	}
	if c.networkIndex >= defaultLocalPreference {
		return 0
	}

	return uint16(defaultLocalPreference - c.networkIndex)
}

func (c *Candidate) computeFoundation() string {
	base := c.address
	if c.localIP != nil {
		base = c.localIP.String()
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(c.candidateType))
	buf = append(buf, []byte(base)...)
	buf = append(buf, []byte(c.networkType.String())...)

	return fmt.Sprint(crc32.ChecksumIEEE(buf))
}

// ID returns the unique identifier of this candidate.
func (c *Candidate) ID() string {
	return c.id
}

// Address returns the candidate address: an IP literal or a ".local" name.
func (c *Candidate) Address() string {
	return c.address
}

// IP returns the candidate IP, nil for an unresolved multicast DNS candidate.
func (c *Candidate) IP() net.IP {
	return c.ip
}

// Port returns the candidate port.
func (c *Candidate) Port() int {
	return c.port
}

// NetworkType returns candidate NetworkType.
func (c *Candidate) NetworkType() NetworkType {
	return c.networkType
}

// Type returns candidate type.
func (c *Candidate) Type() CandidateType {
	return c.candidateType
}

// Component returns candidate component.
func (c *Candidate) Component() uint16 {
	return c.component
}

// Priority returns the RFC 5245 priority of the candidate.
func (c *Candidate) Priority() uint32 {
	return c.priority
}

// NetworkIndex returns the interface priority class, lower is preferred.
func (c *Candidate) NetworkIndex() int {
	return c.networkIndex
}

// Generation returns the gathering generation the candidate belongs to.
func (c *Candidate) Generation() int {
	return c.generation
}

// Username returns the ICE short-term username fragment.
func (c *Candidate) Username() string {
	return c.username
}

// Password returns the ICE short-term password.
func (c *Candidate) Password() string {
	return c.password
}

// Foundation returns the candidate foundation.
func (c *Candidate) Foundation() string {
	return c.foundation
}

// RelatedAddress returns *CandidateRelatedAddress.
func (c *Candidate) RelatedAddress() *CandidateRelatedAddress {
	if c.relatedAddress == nil {
		return nil
	}
	related := *c.relatedAddress

	return &related
}

// Preference returns the composite desirability of the candidate in [0, 1].
// It orders by priority, then by lower NetworkIndex, then by higher Generation.
func (c *Candidate) Preference() float64 {
	return float64(c.rankKey()) / rankKeyMax
}

func (c *Candidate) rankKey() uint64 {
	return uint64(c.priority)<<20 |
		uint64(rankFieldMax-clampRank(c.networkIndex))<<10 |
		uint64(clampRank(c.generation))
}

func clampRank(v int) int {
	return min(max(v, 0), rankFieldMax)
}

// LocalIP returns the address used to originate probes for this candidate.
// It falls back to the candidate IP when no base was recorded.
func (c *Candidate) LocalIP() net.IP {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.localIP != nil {
		return c.localIP
	}

	return c.ip
}

// SetLocalIP records the base address of the candidate. It fails once the
// candidate has been added to a resolver.
func (c *Candidate) SetLocalIP(ip net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCandidateFrozen
	}
	c.localIP = ip

	return nil
}

// freeze marks the candidate as exposed and records its insertion sequence.
func (c *Candidate) freeze(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frozen = true
	c.seq = seq
}

// attach records the socket the candidate was gathered through. The socket
// stays owned by the gatherer.
func (c *Candidate) attach(conn net.PacketConn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.frozen {
		c.conn = conn
	}
}

func (c *Candidate) insertion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seq
}

// key is the candidate identity: transport, address and port. Host names
// compare case-insensitively, as in Equal.
func (c *Candidate) key() string {
	return fmt.Sprintf("%s %s", c.networkType.NetworkShort(),
		net.JoinHostPort(strings.ToLower(c.address), fmt.Sprint(c.port)))
}

// Equal reports whether two candidates share the same identity.
func (c *Candidate) Equal(other *Candidate) bool {
	if c == nil || other == nil {
		return c == other
	}

	return c.networkType.NetworkShort() == other.networkType.NetworkShort() &&
		c.port == other.port &&
		strings.EqualFold(c.address, other.address)
}

func (c *Candidate) addr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.ip, Port: c.port}
}

// String makes the Candidate printable
func (c *Candidate) String() string {
	return fmt.Sprintf("%s %s %s:%d%s", c.networkType, c.candidateType, c.address, c.port, c.relatedAddress)
}

// CandidateEcho returns the echo probe bound for this candidate, or nil.
func (c *Candidate) CandidateEcho() *CandidateEcho {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.echo
}

// AddCandidateEcho starts an echo probe for the candidate. A gathered
// candidate probes from the socket it was learned through; any other
// candidate binds a new socket on its local address and port, held until Close.
func (c *Candidate) AddCandidateEcho(config *EchoConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.echo != nil {
		return ErrEchoExists
	}

	var (
		echo *CandidateEcho
		err  error
	)
	if c.conn != nil {
		echo, err = newCandidateEcho(c.conn, false, config)
	} else {
		laddr := &net.UDPAddr{IP: c.localIP, Port: c.port}
		if laddr.IP == nil {
			laddr.IP = c.ip
		}
		echo, err = NewCandidateEcho(laddr, config)
	}
	if err != nil {
		return err
	}
	c.echo = echo

	return nil
}

// Close releases the resources held by the candidate.
func (c *Candidate) Close() error {
	c.mu.Lock()
	echo := c.echo
	c.echo = nil
	c.mu.Unlock()

	if echo == nil {
		return nil
	}

	return echo.Close()
}

// CompareCandidates orders candidates by preference, then priority, then
// earliest insertion. It returns a positive number when a is preferred over b.
// The order is total: remaining ties are broken by identity.
func CompareCandidates(a, b *Candidate) int {
	if r := cmp.Compare(a.rankKey(), b.rankKey()); r != 0 {
		return r
	}
	if r := cmp.Compare(a.priority, b.priority); r != 0 {
		return r
	}
	if r := cmp.Compare(b.insertion(), a.insertion()); r != 0 {
		return r
	}

	return strings.Compare(b.key(), a.key())
}

// PrioritizeCandidates returns a copy of candidates sorted by descending
// priority. Candidates with equal priority keep their discovery order.
func PrioritizeCandidates(candidates []*Candidate) []*Candidate {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b *Candidate) int {
		return cmp.Compare(b.priority, a.priority)
	})

	return sorted
}

// preferred returns the maximum of candidates by CompareCandidates.
func preferred(candidates []*Candidate) (*Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	return slices.MaxFunc(candidates, CompareCandidates), true
}
