// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import "context"

// FixedResolver offers one preconfigured address, for hosts with a known
// public mapping.
type FixedResolver struct {
	*TransportResolver
}

// NewFixedResolver creates a FixedResolver for address and port.
func NewFixedResolver(address string, port int, config *ResolverConfig) (*FixedResolver, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	strategy := &fixedStrategy{
		candidate: CandidateConfig{
			Address:   address,
			Port:      port,
			Type:      CandidateTypeHost,
			Component: cfg.Component,
		},
	}

	// Reject a malformed address at construction rather than on resolve.
	if _, err := NewCandidate(&strategy.candidate); err != nil {
		return nil, err
	}

	return &FixedResolver{TransportResolver: NewTransportResolver(strategy, cfg.LoggerFactory)}, nil
}

type fixedStrategy struct {
	candidate CandidateConfig
}

func (s *fixedStrategy) Name() string {
	return "fixed"
}

func (s *fixedStrategy) Policy() ResolvePolicy {
	return ResolvePolicyClear
}

func (s *fixedStrategy) Prepare(context.Context) error {
	return nil
}

func (s *fixedStrategy) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	config := s.candidate
	c, err := NewCandidate(&config)
	if err != nil {
		return err
	}

	return (&StaticGatherer{Candidates: []*Candidate{c}}).Gather(ctx, hdlr)
}

func (s *fixedStrategy) Close() error {
	return nil
}
