// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import "errors"

var (
	// ErrUnknownType indicates an error with Unknown info.
	ErrUnknownType = errors.New("Unknown")

	// ErrClosed indicates the resolver or echo has been closed.
	ErrClosed = errors.New("the resolver is closed")

	// ErrNotInitialized indicates Resolve was called before Initialize.
	ErrNotInitialized = errors.New("resolver has not been initialized")

	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("resolver has already been initialized")

	// ErrResolveInProgress indicates Resolve was called while a resolution is running.
	ErrResolveInProgress = errors.New("resolution already in progress")

	// ErrNoUsableInterface indicates no local interface can originate probes.
	ErrNoUsableInterface = errors.New("no usable local network interface")

	// ErrCandidateExists indicates a candidate with the same address, port and transport is already present.
	ErrCandidateExists = errors.New("candidate already exists")

	// ErrCandidateFrozen indicates a candidate was modified after it was exposed to listeners.
	ErrCandidateFrozen = errors.New("candidate is immutable once added to a resolver")

	// ErrNilCandidate indicates a nil candidate was passed.
	ErrNilCandidate = errors.New("candidate is nil")

	// ErrAddressParseFailed indicates we were unable to parse a candidate address.
	ErrAddressParseFailed = errors.New("failed to parse address")

	// ErrPort indicates malformed port is provided.
	ErrPort = errors.New("invalid port")

	// ErrNoSTUNServer indicates no STUN server could be found.
	ErrNoSTUNServer = errors.New("no STUN server available")

	// ErrSchemeType indicates the scheme type could not be parsed.
	ErrSchemeType = errors.New("unknown scheme type")

	// ErrProtoType indicates an unsupported transport type was provided.
	ErrProtoType = errors.New("invalid transport protocol type")

	// ErrUsernameEmpty indicates agent was give TURN URL with an empty Username.
	ErrUsernameEmpty = errors.New("username is empty")

	// ErrPasswordEmpty indicates agent was give TURN URL with an empty Password.
	ErrPasswordEmpty = errors.New("password is empty")

	// ErrEchoExists indicates the candidate already owns an echo socket.
	ErrEchoExists = errors.New("candidate echo already started")

	// ErrInvalidMulticastDNSHostName indicates an invalid MulticastDNSHostName.
	ErrInvalidMulticastDNSHostName = errors.New("invalid mDNS HostName, must end with .local and can only contain a single '.'")

	errDetermineNetworkType = errors.New("unable to determine networkType")
	errUnknownCandidateType = errors.New("unknown candidate type")
	errInvalidServer        = errors.New("invalid STUN server descriptor")
	errRelayTimeout         = errors.New("relay allocation timed out")
	errNoDirectoryRecords   = errors.New("no STUN SRV records found")
	errDirectoryRcode       = errors.New("directory lookup failed")
	errMismatchedNetwork    = errors.New("candidates are on different network types")
	errNoEcho               = errors.New("local candidate has no echo")
	errEchoClosed           = errors.New("echo closed")
)
