// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jingle-go/nat/internal/stun"
)

// BindingClient learns the public address a local socket is mapped to.
type BindingClient interface {
	// BindingRequest sends a binding request to server over conn and
	// returns the reflexive address from the response.
	BindingRequest(ctx context.Context, conn net.PacketConn, server net.Addr) (*net.UDPAddr, error)
}

// NewBindingClient returns a BindingClient that performs STUN binding
// requests, each bounded by timeout.
func NewBindingClient(timeout time.Duration) BindingClient {
	if timeout <= 0 {
		timeout = defaultBindingTimeout
	}

	return &stunBindingClient{timeout: timeout}
}

type stunBindingClient struct {
	timeout time.Duration
}

func (b *stunBindingClient) BindingRequest(ctx context.Context, conn net.PacketConn, server net.Addr) (*net.UDPAddr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	// Cancellation expires the read deadline so the request returns early.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	addr, err := stun.GetXORMappedAddr(conn, server, timeout)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return addr, err
}

// sharedConn is a gathering socket that stays bound across resolutions
// and may later be read by a candidate echo. While an echo reads it,
// binding requests on it are sent through the echo so that the echo
// remains the only reader.
type sharedConn struct {
	net.PacketConn

	mu     sync.Mutex
	reader *CandidateEcho
}

// bindingRequest asks server for the mapping of the socket. Without an
// echo the request is made by client, holding off echoes until it returns.
func (s *sharedConn) bindingRequest(ctx context.Context, client BindingClient, server net.Addr) (*net.UDPAddr, error) {
	s.mu.Lock()
	if echo := s.reader; echo != nil {
		s.mu.Unlock()

		addr, err := echo.bindingRequest(ctx, server)
		if !errors.Is(err, errEchoClosed) {
			return addr, err
		}

		// The echo is going away; ask again once it stopped reading.
		select {
		case <-echo.stopped:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.clearReader(echo)

		return s.bindingRequest(ctx, client, server)
	}
	defer s.mu.Unlock()

	return client.BindingRequest(ctx, s.PacketConn, server)
}

func (s *sharedConn) setReader(e *CandidateEcho) {
	s.mu.Lock()
	s.reader = e
	s.mu.Unlock()
}

func (s *sharedConn) clearReader(e *CandidateEcho) {
	s.mu.Lock()
	if s.reader == e {
		s.reader = nil
	}
	s.mu.Unlock()
}

// bindingRequest routes a request on conn through its echo when one reads it.
func bindingRequest(ctx context.Context, client BindingClient, conn net.PacketConn, server net.Addr) (*net.UDPAddr, error) {
	if shared, ok := conn.(*sharedConn); ok {
		return shared.bindingRequest(ctx, client, server)
	}

	return client.BindingRequest(ctx, conn, server)
}
