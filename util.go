// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"io"
	"net"
	"sync"

	"go.uber.org/multierr"
)

// The conditions of invalidation written below are defined in
// https://tools.ietf.org/html/rfc8445#section-5.1.1.1
func isSupportedIPv6(ip net.IP) bool {
	if len(ip) != net.IPv6len ||
		isZeros(ip[0:12]) || // IPv4-compatible IPv6
		ip[0] == 0xfe && ip[1]&0xc0 == 0xc0 || // IPv6 site-local unicast
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() {
		return false
	}

	return true
}

func isZeros(ip net.IP) bool {
	for i := 0; i < len(ip); i++ {
		if ip[i] != 0 {
			return false
		}
	}

	return true
}

func parseAddr(in net.Addr) (net.IP, int, bool) {
	switch addr := in.(type) {
	case *net.UDPAddr:
		return addr.IP, addr.Port, true
	case *net.TCPAddr:
		return addr.IP, addr.Port, true
	}

	return nil, 0, false
}

// closerSet tracks sockets and clients so they can be released together.
type closerSet struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (s *closerSet) add(c io.Closer) {
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// closeAll closes everything tracked so far, most recent first.
func (s *closerSet) closeAll() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i].Close())
	}

	return err
}

// moveTo hands everything tracked so far over to dst.
func (s *closerSet) moveTo(dst *closerSet) {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	dst.mu.Lock()
	dst.closers = append(dst.closers, closers...)
	dst.mu.Unlock()
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
