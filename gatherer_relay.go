// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/jingle-go/nat/internal/fakenet"
	"github.com/jingle-go/nat/internal/metrics"
	"github.com/pion/dtls/v3"
	"github.com/pion/stun/v3"
	"github.com/pion/turn/v4"
)

// RelayGatherer allocates a relayed address on one TURN server.
type RelayGatherer struct {
	env *gatherEnv
	uri *stun.URI

	// track takes ownership of sockets and clients created for the allocation.
	track func(io.Closer)

	decorate func(*CandidateConfig)
}

// Gather implements Gatherer. A failing server is logged and skipped.
func (g *RelayGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	uri := g.uri
	switch {
	case uri.Username == "":
		g.env.log.Errorf("Failed to gather relay candidates: %v", ErrUsernameEmpty)
		g.env.failure(metrics.FailureRelay)

		return nil
	case uri.Password == "":
		g.env.log.Errorf("Failed to gather relay candidates: %v", ErrPasswordEmpty)
		g.env.failure(metrics.FailureRelay)

		return nil
	}

	turnServerAddr := net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))

	locConn, relAddr, relPort, err := g.dial(ctx, turnServerAddr)
	if err != nil {
		g.env.log.Warnf("Failed to reach TURN server %s: %v", uri, err)
		g.env.failure(metrics.FailureRelay)

		return nil
	}

	client, err := turn.NewClient(&turn.ClientConfig{
		TURNServerAddr: turnServerAddr,
		Conn:           locConn,
		Username:       uri.Username,
		Password:       uri.Password,
		LoggerFactory:  g.env.config.LoggerFactory,
	})
	if err != nil {
		closeConnAndLog(locConn, g.env, "failed to create new TURN client %s (%s)", turnServerAddr, err)
		g.env.failure(metrics.FailureRelay)

		return nil
	}

	if err = client.Listen(); err != nil {
		client.Close()
		closeConnAndLog(locConn, g.env, "failed to listen on TURN client %s (%s)", turnServerAddr, err)
		g.env.failure(metrics.FailureRelay)

		return nil
	}

	relayConn, err := g.allocate(ctx, client)
	if err != nil {
		closeConnAndLog(locConn, g.env, "failed to allocate on TURN client %s (%s)", turnServerAddr, err)
		g.env.failure(metrics.FailureRelay)

		return nil
	}

	g.track(locConn)
	g.track(closerFunc(func() error {
		client.Close()

		return nil
	}))
	g.track(relayConn)

	rAddr, ok := relayConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		g.env.log.Warnf("Unexpected relayed address type %T", relayConn.LocalAddr())

		return nil
	}

	config := &CandidateConfig{
		Network:   udp,
		Address:   rAddr.IP.String(),
		Port:      rAddr.Port,
		Type:      CandidateTypeRelay,
		Component: g.env.config.Component,
		LocalIP:   relAddr,
		RelatedAddress: &CandidateRelatedAddress{
			Address: relAddr,
			Port:    relPort,
		},
	}
	if g.decorate != nil {
		g.decorate(config)
	}

	c, err := NewCandidate(config)
	if err != nil {
		g.env.log.Warnf("Failed to create relay candidate: %s %s: %v", rAddr.IP, rAddr, err)

		return nil
	}

	return hdlr(ctx, c, relayConn)
}

// dial opens the connection to the TURN server over the transport the URI names.
func (g *RelayGatherer) dial(ctx context.Context, turnServerAddr string) (net.PacketConn, string, int, error) {
	uri := g.uri
	n := g.env.config.Net

	switch {
	case uri.Proto == stun.ProtoTypeUDP && uri.Scheme == stun.SchemeTypeTURN:
		locConn, err := n.ListenPacket(NetworkTypeUDP4.String(), "0.0.0.0:0")
		if err != nil {
			return nil, "", 0, err
		}
		ip, port, _ := parseAddr(locConn.LocalAddr())

		return locConn, ip.String(), port, nil

	case uri.Proto == stun.ProtoTypeTCP && uri.Scheme == stun.SchemeTypeTURN:
		conn, err := g.dialTCP(ctx, turnServerAddr)
		if err != nil {
			return nil, "", 0, err
		}
		ip, port, _ := parseAddr(conn.LocalAddr())

		return turn.NewSTUNConn(conn), ip.String(), port, nil

	case uri.Proto == stun.ProtoTypeUDP && uri.Scheme == stun.SchemeTypeTURNS:
		udpAddr, err := n.ResolveUDPAddr(NetworkTypeUDP4.String(), turnServerAddr)
		if err != nil {
			return nil, "", 0, err
		}

		conn, err := n.DialUDP(NetworkTypeUDP4.String(), nil, udpAddr)
		if err != nil {
			return nil, "", 0, err
		}

		dtlsConn, err := dtls.Client(&fakenet.PacketConn{Conn: conn}, conn.RemoteAddr(), &dtls.Config{
			ServerName:         uri.Host,
			InsecureSkipVerify: g.env.config.InsecureSkipVerify, //nolint:gosec
			LoggerFactory:      g.env.config.LoggerFactory,
		})
		if err != nil {
			_ = conn.Close()

			return nil, "", 0, err
		}
		ip, port, _ := parseAddr(conn.LocalAddr())

		return &fakenet.PacketConn{Conn: dtlsConn}, ip.String(), port, nil

	case uri.Proto == stun.ProtoTypeTCP && uri.Scheme == stun.SchemeTypeTURNS:
		tcpConn, err := g.dialTCP(ctx, turnServerAddr)
		if err != nil {
			return nil, "", 0, err
		}

		tlsConn := tls.Client(tcpConn, &tls.Config{
			ServerName:         uri.Host,
			InsecureSkipVerify: g.env.config.InsecureSkipVerify, //nolint:gosec
		})

		handshakeCtx, cancel := context.WithTimeout(ctx, g.env.config.RelayTimeout)
		defer cancel()
		if err = tlsConn.HandshakeContext(handshakeCtx); err != nil {
			_ = tcpConn.Close()

			return nil, "", 0, err
		}
		ip, port, _ := parseAddr(tcpConn.LocalAddr())

		return turn.NewSTUNConn(tlsConn), ip.String(), port, nil

	default:
		return nil, "", 0, fmt.Errorf("%w: %s %s", ErrProtoType, uri.Scheme, uri.Proto)
	}
}

// dialTCP connects to the TURN server within RelayTimeout and gives up as
// soon as ctx is done.
func (g *RelayGatherer) dialTCP(ctx context.Context, turnServerAddr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: g.env.config.RelayTimeout,
		Cancel:  ctx.Done(), //nolint:staticcheck // transport.Dialer has no DialContext.
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	return g.env.config.Net.CreateDialer(dialer).Dial(NetworkTypeTCP4.String(), turnServerAddr)
}

// allocate requests a relayed address, bounded by RelayTimeout. The client
// is closed when the allocation fails.
func (g *RelayGatherer) allocate(ctx context.Context, client *turn.Client) (net.PacketConn, error) {
	type result struct {
		conn net.PacketConn
		err  error
	}

	done := make(chan result, 1)
	go func() {
		conn, err := client.Allocate()
		done <- result{conn, err}
	}()

	timer := time.NewTimer(g.env.config.RelayTimeout)
	defer timer.Stop()

	var err error
	select {
	case res := <-done:
		if res.err == nil {
			return res.conn, nil
		}
		client.Close()

		return nil, res.err
	case <-timer.C:
		err = errRelayTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Closing the client aborts the pending allocate transaction.
	client.Close()
	if res := <-done; res.conn != nil {
		_ = res.conn.Close()
	}

	return nil, err
}

func closeConnAndLog(c io.Closer, env *gatherEnv, msg string, args ...any) {
	if c == nil {
		env.log.Warnf("Connection is not allocated: "+msg, args...)

		return
	}

	env.log.Warnf(msg, args...)
	if err := c.Close(); err != nil {
		env.log.Warnf("Failed to close conn: %v", err)
	}
}
