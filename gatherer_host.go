// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import "context"

// HostGatherer emits one host candidate per bound local socket.
type HostGatherer struct {
	env   *gatherEnv
	bases func() []*base

	// decorate adjusts each candidate config before the candidate is built.
	decorate func(*CandidateConfig)
}

// Gather implements Gatherer.
func (g *HostGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	for _, b := range g.bases() {
		if err := ctx.Err(); err != nil {
			return err
		}

		config := &CandidateConfig{
			Network:      b.networkType.String(),
			Address:      b.addr.IP.String(),
			Port:         b.addr.Port,
			Type:         CandidateTypeHost,
			Component:    g.env.config.Component,
			NetworkIndex: b.networkIndex,
		}
		if g.decorate != nil {
			g.decorate(config)
		}

		c, err := NewCandidate(config)
		if err != nil {
			g.env.log.Warnf("Failed to create host candidate: %s %s %d: %v", b.networkType, b.addr.IP, b.addr.Port, err)

			continue
		}

		if err := hdlr(ctx, c, b.conn); err != nil {
			return err
		}
	}

	return nil
}
