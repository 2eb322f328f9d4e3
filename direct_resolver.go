// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"sync"
)

// DirectResolver offers the addresses of the local interfaces as host candidates.
//
// Every resolution binds fresh sockets and clears the previous candidates.
type DirectResolver struct {
	*TransportResolver
}

// NewDirectResolver creates a DirectResolver.
func NewDirectResolver(config *ResolverConfig) (*DirectResolver, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	strategy := &directStrategy{env: newGatherEnv(cfg, "direct")}

	return &DirectResolver{TransportResolver: NewTransportResolver(strategy, cfg.LoggerFactory)}, nil
}

type directStrategy struct {
	env *gatherEnv

	mu      sync.Mutex
	sockets closerSet
}

func (s *directStrategy) Name() string {
	return s.env.strategy
}

func (s *directStrategy) Policy() ResolvePolicy {
	return ResolvePolicyClear
}

func (s *directStrategy) Prepare(context.Context) error {
	return checkInterfaces(s.env)
}

func (s *directStrategy) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sockets.closeAll(); err != nil {
		s.env.log.Debugf("Failed to release previous sockets: %v", err)
	}

	bases, err := s.env.openBases(&s.sockets)
	if err != nil {
		return err
	}

	host := &HostGatherer{
		env:   s.env,
		bases: func() []*base { return bases },
	}

	return host.Gather(ctx, hdlr)
}

func (s *directStrategy) Close() error {
	return s.sockets.closeAll()
}

// checkInterfaces fails when no local address can originate probes.
func checkInterfaces(env *gatherEnv) error {
	addrs, err := localInterfaces(
		env.config.Net,
		env.config.InterfaceFilter,
		env.config.IPFilter,
		env.config.NetworkTypes,
		env.config.IncludeLoopback,
	)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return ErrNoUsableInterface
	}

	return nil
}
