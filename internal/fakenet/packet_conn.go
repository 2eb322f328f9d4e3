// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

// Package fakenet contains fake network abstractions
package fakenet

import (
	"net"
)

// PacketConn wraps a net.Conn and emulates net.PacketConn.
// Every datagram is read from and written to the connected peer.
type PacketConn struct {
	net.Conn
}

// ReadFrom reads a packet from the connection.
func (f *PacketConn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	n, err = f.Conn.Read(p)
	addr = f.Conn.RemoteAddr()

	return
}

// WriteTo writes a packet to the connected peer, ignoring addr.
func (f *PacketConn) WriteTo(p []byte, _ net.Addr) (n int, err error) {
	return f.Conn.Write(p)
}
