// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"iter"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/pion/mdns/v2"
	"github.com/pion/stun/v3"
	"go.uber.org/multierr"
)

// ICEResolver gathers host, server reflexive and relayed candidates the way
// an ICE agent does, and reports them in descending priority.
//
// Every resolution clears the previous candidates, binds fresh sockets and
// starts a new generation.
type ICEResolver struct {
	*TransportResolver
	strategy *iceStrategy
}

// NewICEResolver creates an ICEResolver. STUN URIs in config.URIs yield
// server reflexive candidates and TURN URIs relayed candidates.
func NewICEResolver(config *ResolverConfig) (*ICEResolver, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	ufrag, pwd, err := newCredentials()
	if err != nil {
		return nil, err
	}
	if cfg.LocalUfrag == "" {
		cfg.LocalUfrag = ufrag
	}
	if cfg.LocalPwd == "" {
		cfg.LocalPwd = pwd
	}

	mDNSName := cfg.MulticastDNSHostName
	if cfg.MulticastDNSMode == MulticastDNSModeQueryAndGather {
		if mDNSName == "" {
			if mDNSName, err = generateMulticastDNSName(); err != nil {
				return nil, err
			}
		}
		if !isMulticastDNSName(mDNSName) || strings.Count(mDNSName, ".") != 1 {
			return nil, ErrInvalidMulticastDNSHostName
		}
	}

	strategy := &iceStrategy{
		env:      newGatherEnv(cfg, "ice"),
		mDNSName: mDNSName,
		mDNSMode: cfg.MulticastDNSMode,
	}

	return &ICEResolver{
		TransportResolver: NewTransportResolver(strategy, cfg.LoggerFactory),
		strategy:          strategy,
	}, nil
}

// GatherCandidateAddresses replaces the raw candidate list with a new
// gathering. Interfaces and servers that cannot be used are skipped.
// Sockets of the previous gathering are released, except those backing the
// candidates the last Resolve reported: they stay open until the next
// Resolve drops those candidates, or until Close.
func (r *ICEResolver) GatherCandidateAddresses(ctx context.Context) error {
	return r.strategy.gather(ctx, false)
}

// PrioritizeCandidates sorts the raw candidate list by descending priority,
// keeping discovery order between equal priorities.
func (r *ICEResolver) PrioritizeCandidates() {
	r.strategy.prioritize()
}

// SortedCandidates iterates over the last prioritized candidate list.
// Iterating again yields the same order until the next prioritization.
func (r *ICEResolver) SortedCandidates() iter.Seq[*Candidate] {
	return func(yield func(*Candidate) bool) {
		r.strategy.mu.Lock()
		sorted := r.strategy.sorted
		r.strategy.mu.Unlock()

		for _, c := range sorted {
			if !yield(c) {
				return
			}
		}
	}
}

// LocalCredentials returns the ICE credentials copied onto every candidate.
func (r *ICEResolver) LocalCredentials() (ufrag, pwd string) {
	return r.strategy.env.config.LocalUfrag, r.strategy.env.config.LocalPwd
}

// Generation returns the generation of the last gathering.
func (r *ICEResolver) Generation() int {
	r.strategy.mu.Lock()
	defer r.strategy.mu.Unlock()

	return r.strategy.generation
}

type iceStrategy struct {
	env      *gatherEnv
	mDNSName string
	mDNSMode MulticastDNSMode
	mDNSConn *mdns.Conn

	// gatherMu allows one gathering at a time.
	gatherMu sync.Mutex
	sockets  closerSet
	// reported holds the sockets of the candidates handed to the resolver.
	reported closerSet

	mu         sync.Mutex
	gatherings int
	generation int
	raw        []*Candidate
	sorted     []*Candidate
	conns      map[*Candidate]net.PacketConn
}

func (s *iceStrategy) Name() string {
	return s.env.strategy
}

func (s *iceStrategy) Policy() ResolvePolicy {
	return ResolvePolicyClear
}

func (s *iceStrategy) Prepare(context.Context) error {
	cfg := s.env.config
	if slices.Contains(cfg.CandidateTypes, CandidateTypeHost) ||
		slices.Contains(cfg.CandidateTypes, CandidateTypeServerReflexive) {
		if err := checkInterfaces(s.env); err != nil {
			return err
		}
	}

	if !slices.Contains(cfg.CandidateTypes, CandidateTypeHost) {
		return nil
	}

	conn, mode, err := createMulticastDNS(cfg.Net, s.mDNSMode, s.mDNSName, cfg.NetworkTypes, cfg.LoggerFactory, s.env.log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.mDNSConn, s.mDNSMode = conn, mode
	s.mu.Unlock()

	return nil
}

// gather runs one gathering. With report set, the caller is about to hand
// the candidates to the resolver, which has already dropped the previous
// ones, so the sockets of the previous report are released and the new
// sockets are kept until the next report.
func (s *iceStrategy) gather(ctx context.Context, report bool) error {
	s.gatherMu.Lock()
	defer s.gatherMu.Unlock()

	if report {
		if err := s.reported.closeAll(); err != nil {
			s.env.log.Debugf("Failed to release reported sockets: %v", err)
		}
	}
	if err := s.sockets.closeAll(); err != nil {
		s.env.log.Debugf("Failed to release previous sockets: %v", err)
	}

	s.mu.Lock()
	if s.gatherings > 0 {
		s.generation++
	}
	s.gatherings++
	generation := s.generation
	mDNSMode := s.mDNSMode
	s.raw, s.sorted = nil, nil
	s.conns = map[*Candidate]net.PacketConn{}
	s.mu.Unlock()

	cfg := s.env.config
	decorate := func(c *CandidateConfig) {
		c.Generation = generation
		c.Username = cfg.LocalUfrag
		c.Password = cfg.LocalPwd
	}

	var bases []*base
	if slices.Contains(cfg.CandidateTypes, CandidateTypeHost) ||
		slices.Contains(cfg.CandidateTypes, CandidateTypeServerReflexive) {
		var err error
		bases, err = s.env.openBases(&s.sockets)
		switch {
		case errors.Is(err, ErrNoUsableInterface):
			s.env.log.Warnf("No local interface can be gathered from")
		case err != nil:
			return err
		}
	}
	baseList := func() []*base { return bases }

	local := SerialGatherer{}
	remote := OrderedGatherer{}

	if slices.Contains(cfg.CandidateTypes, CandidateTypeHost) {
		local = append(local, &HostGatherer{
			env:   s.env,
			bases: baseList,
			decorate: func(c *CandidateConfig) {
				decorate(c)
				if mDNSMode == MulticastDNSModeQueryAndGather {
					c.LocalIP = c.Address
					c.Address = s.mDNSName
				}
			},
		})
	}

	if slices.Contains(cfg.CandidateTypes, CandidateTypeServerReflexive) {
		servers := STUNServersFromURIs(cfg.URIs)
		remote = append(remote, &ServerReflexiveGatherer{
			env:      s.env,
			bases:    baseList,
			servers:  func() []STUNServer { return servers },
			socket:   s.probeSocket,
			decorate: decorate,
			ordered:  true,
		})
	}

	if slices.Contains(cfg.CandidateTypes, CandidateTypeRelay) {
		for _, uri := range cfg.URIs {
			if uri.Scheme != stun.SchemeTypeTURN && uri.Scheme != stun.SchemeTypeTURNS {
				continue
			}
			remote = append(remote, &RelayGatherer{
				env:      s.env,
				uri:      uri,
				track:    s.sockets.add,
				decorate: decorate,
			})
		}
	}

	err := SerialGatherer{local, remote}.Gather(ctx, func(_ context.Context, c *Candidate, conn net.PacketConn) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.raw = append(s.raw, c)
		if conn != nil {
			s.conns[c] = conn
		}

		return nil
	})
	if err == nil && report {
		s.sockets.moveTo(&s.reported)
	}

	return err
}

// probeSocket binds a fresh socket for each probe of a gathering.
func (s *iceStrategy) probeSocket(b *base, _ STUNServer) (net.PacketConn, error) {
	conn, err := s.env.listenUDP(b.networkType.String(), b.addr.IP)
	if err != nil {
		return nil, err
	}
	s.sockets.add(conn)

	return conn, nil
}

func (s *iceStrategy) prioritize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sorted = PrioritizeCandidates(s.raw)
}

func (s *iceStrategy) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	if err := s.gather(ctx, true); err != nil {
		return err
	}
	s.prioritize()

	s.mu.Lock()
	sorted := s.sorted
	conns := s.conns
	s.mu.Unlock()

	for _, c := range sorted {
		if err := hdlr(ctx, c, conns[c]); err != nil {
			return err
		}
	}

	return nil
}

func (s *iceStrategy) Close() error {
	s.gatherMu.Lock()
	defer s.gatherMu.Unlock()

	var err error
	s.mu.Lock()
	if s.mDNSConn != nil {
		err = s.mDNSConn.Close()
		s.mDNSConn = nil
	}
	s.mu.Unlock()

	err = multierr.Append(err, s.sockets.closeAll())

	return multierr.Append(err, s.reported.closeAll())
}
