// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/jingle-go/nat/internal/metrics"
)

// STUNResolver learns server reflexive candidates from a list of STUN
// servers and also offers the local host candidates.
//
// Sockets are bound once, by Initialize, and reused by every resolution, so
// resolving again appends only what changed: rediscovered candidates are
// dropped as duplicates.
type STUNResolver struct {
	*TransportResolver
	strategy *stunStrategy
}

// NewSTUNResolver creates a STUNResolver.
func NewSTUNResolver(config *ResolverConfig) (*STUNResolver, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	strategy := &stunStrategy{
		env:    newGatherEnv(cfg, "stun"),
		probes: map[string]net.PacketConn{},
	}

	return &STUNResolver{
		TransportResolver: NewTransportResolver(strategy, cfg.LoggerFactory),
		strategy:          strategy,
	}, nil
}

// LoadSTUNServers reloads the server list used by the next resolution and
// returns it. An unavailable source yields an empty list, never an error.
func (r *STUNResolver) LoadSTUNServers(ctx context.Context) []STUNServer {
	return r.strategy.loadServers(ctx)
}

// Servers returns the server list the next resolution probes.
func (r *STUNResolver) Servers() []STUNServer {
	r.strategy.mu.Lock()
	defer r.strategy.mu.Unlock()

	return slices.Clone(r.strategy.servers)
}

type stunStrategy struct {
	env *gatherEnv

	mu      sync.Mutex
	servers []STUNServer
	bases   []*base
	probes  map[string]net.PacketConn
	sockets closerSet
}

func (s *stunStrategy) Name() string {
	return s.env.strategy
}

func (s *stunStrategy) Policy() ResolvePolicy {
	return ResolvePolicyAppend
}

func (s *stunStrategy) Prepare(ctx context.Context) error {
	bases, err := s.env.openBases(&s.sockets)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bases = bases
	s.mu.Unlock()

	if servers := s.loadServers(ctx); len(servers) == 0 {
		s.env.log.Warn("No STUN servers configured, only host candidates will be found")
	}

	return nil
}

func (s *stunStrategy) loadServers(ctx context.Context) []STUNServer {
	cfg := s.env.config

	var servers []STUNServer
	switch {
	case len(cfg.Servers) > 0:
		servers = slices.Clone(cfg.Servers)
	case cfg.ServerSource != nil:
		loaded, err := cfg.ServerSource.LoadSTUNServers(ctx)
		if err != nil {
			s.env.log.Warnf("Failed to load STUN servers: %v", err)
			s.env.failure(metrics.FailureDirectory)
		}
		servers = loaded
	default:
		servers, _ = DefaultServerSource().LoadSTUNServers(ctx)
	}

	servers = slices.DeleteFunc(servers, func(server STUNServer) bool {
		if err := server.validate(); err != nil {
			s.env.log.Warnf("Ignoring STUN server: %v", err)

			return true
		}

		return false
	})

	if cfg.Directory != nil {
		advertised, err := cfg.Directory.LookupSTUNServers(ctx)
		if err != nil {
			s.env.log.Debugf("No STUN server from directory: %v", err)
		}
		servers = appendUniqueServers(servers, advertised...)
	}

	s.mu.Lock()
	s.servers = servers
	s.mu.Unlock()

	return slices.Clone(servers)
}

func (s *stunStrategy) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	s.mu.Lock()
	bases := slices.Clone(s.bases)
	servers := slices.Clone(s.servers)
	s.mu.Unlock()

	baseList := func() []*base { return bases }

	return ParallelGatherer{
		&HostGatherer{env: s.env, bases: baseList},
		&ServerReflexiveGatherer{
			env:     s.env,
			bases:   baseList,
			servers: func() []STUNServer { return servers },
			socket:  s.probeSocket,
		},
	}.Gather(ctx, hdlr)
}

// probeSocket returns the socket dedicated to probing server from b,
// binding it on first use. The socket outlives the resolution, and so do
// the candidates learned through it, so an echo may read it later.
func (s *stunStrategy) probeSocket(b *base, server STUNServer) (net.PacketConn, error) {
	key := b.addr.String() + "|" + server.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.probes[key]; ok {
		return conn, nil
	}

	raw, err := s.env.listenUDP(b.networkType.String(), b.addr.IP)
	if err != nil {
		return nil, err
	}
	s.sockets.add(raw)

	conn := &sharedConn{PacketConn: raw}
	s.probes[key] = conn

	return conn, nil
}

func (s *stunStrategy) Close() error {
	s.mu.Lock()
	s.probes = map[string]net.PacketConn{}
	s.bases = nil
	s.mu.Unlock()

	return s.sockets.closeAll()
}
