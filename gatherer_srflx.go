// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"net"

	"github.com/jingle-go/nat/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ServerReflexiveGatherer asks every STUN server, from every bound local
// socket, which public address the socket is mapped to.
type ServerReflexiveGatherer struct {
	env     *gatherEnv
	bases   func() []*base
	servers func() []STUNServer

	// socket returns the socket used to probe server from b.
	socket func(b *base, server STUNServer) (net.PacketConn, error)

	decorate func(*CandidateConfig)

	// ordered holds the candidates back until every request has ended and then
	// passes them on by base, then by server, in list order.
	ordered bool
}

// Gather implements Gatherer. Probes run concurrently, bounded by
// MaxConcurrentProbes; a failing server is logged and skipped.
func (g *ServerReflexiveGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	grp := &errgroup.Group{}
	grp.SetLimit(g.env.config.MaxConcurrentProbes)

	bases, servers := g.bases(), g.servers()
	var found []foundList
	if g.ordered {
		found = make([]foundList, len(bases)*len(servers))
	}
	for i, b := range bases {
		for j, server := range servers {
			deliver := hdlr
			if g.ordered {
				deliver = found[i*len(servers)+j].add
			}
			grp.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}

				return g.probe(ctx, b, server, deliver)
			})
		}
	}

	if err := grp.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range found {
		if err := found[i].replay(ctx, hdlr); err != nil {
			return err
		}
	}

	return nil
}

func (g *ServerReflexiveGatherer) probe(ctx context.Context, b *base, server STUNServer, hdlr CandidateFoundHandler) error {
	network := b.networkType.String()

	serverAddr, err := g.env.config.Net.ResolveUDPAddr(network, server.String())
	if err != nil {
		g.env.log.Debugf("Failed to resolve STUN host: %s %s: %v", network, server, err)
		g.env.failure(metrics.FailureResolve)

		return nil
	}

	conn, err := g.socket(b, server)
	if err != nil {
		g.env.log.Warnf("Failed to listen %s for %s: %v", b.addr.IP, server, err)
		g.env.failure(metrics.FailureListen)

		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, g.env.config.BindingTimeout)
	defer cancel()

	mapped, err := bindingRequest(probeCtx, g.env.config.BindingClient, conn, serverAddr)
	if err != nil {
		g.env.log.Warnf("Could not get server reflexive address %s %s: %v", network, server, err)
		g.env.failure(metrics.FailureBinding)

		return nil
	}

	relPort := b.addr.Port
	if laddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		relPort = laddr.Port
	}

	config := &CandidateConfig{
		Network:      network,
		Address:      mapped.IP.String(),
		Port:         mapped.Port,
		Type:         CandidateTypeServerReflexive,
		Component:    g.env.config.Component,
		NetworkIndex: b.networkIndex,
		LocalIP:      b.addr.IP.String(),
		RelatedAddress: &CandidateRelatedAddress{
			Address: b.addr.IP.String(),
			Port:    relPort,
		},
	}
	if g.decorate != nil {
		g.decorate(config)
	}

	c, err := NewCandidate(config)
	if err != nil {
		g.env.log.Warnf("Failed to create server reflexive candidate: %s %s %d: %v", network, mapped.IP, mapped.Port, err)

		return nil
	}

	return hdlr(ctx, c, conn)
}
