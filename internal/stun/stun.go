// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

// Package stun contains the STUN binding client used for reflexive address discovery
package stun

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// maxMessageSize is the largest STUN response we are willing to read.
const maxMessageSize = 1280

var (
	errGetMappedAddrResponse = errors.New("failed to get XOR-MAPPED-ADDRESS or MAPPED-ADDRESS from response")
	errNotBindingSuccess     = errors.New("response is not a binding success")
)

// GetXORMappedAddr initiates a stun requests to serverAddr using conn, reads the response and returns
// the mapped address reported by the STUN server. Datagrams that are not STUN messages or that carry
// another transaction ID are discarded until the timeout expires.
func GetXORMappedAddr(conn net.PacketConn, serverAddr net.Addr, timeout time.Duration) (*net.UDPAddr, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}

		// Reset timeout after completion
		defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, err
	}

	if _, err = conn.WriteTo(req.Raw, serverAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, maxMessageSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, err
		}

		if !stun.IsMessage(buf[:n]) {
			continue
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err = res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}

		return MappedAddr(res)
	}
}

// MappedAddr extracts the reflexive address from a binding success response,
// preferring XOR-MAPPED-ADDRESS and falling back to the legacy MAPPED-ADDRESS.
func MappedAddr(res *stun.Message) (*net.UDPAddr, error) {
	if res.Type != stun.BindingSuccess {
		return nil, fmt.Errorf("%w: %s", errNotBindingSuccess, res.Type)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}

	var addr stun.MappedAddress
	if err := addr.GetFrom(res); err != nil {
		return nil, fmt.Errorf("%w: %v", errGetMappedAddrResponse, err) //nolint:errorlint
	}

	return &net.UDPAddr{IP: addr.IP, Port: addr.Port}, nil
}
