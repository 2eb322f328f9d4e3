// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// CandidatePairState represent the ICE candidate pair state.
type CandidatePairState int32

const (
	// CandidatePairStateWaiting means a check has not been performed for
	// this pair.
	CandidatePairStateWaiting CandidatePairState = iota + 1

	// CandidatePairStateInProgress means a check has been sent for this pair,
	// but the transaction is in progress.
	CandidatePairStateInProgress

	// CandidatePairStateFailed means a check for this pair was already done
	// and failed.
	CandidatePairStateFailed

	// CandidatePairStateSucceeded means a check for this pair was already
	// done and produced a successful result.
	CandidatePairStateSucceeded
)

func (c CandidatePairState) String() string {
	switch c {
	case CandidatePairStateWaiting:
		return "waiting"
	case CandidatePairStateInProgress:
		return "in-progress"
	case CandidatePairStateFailed:
		return "failed"
	case CandidatePairStateSucceeded:
		return "succeeded"
	}

	return ErrUnknownType.Error()
}

// NewCandidatePair pairs a local and a remote candidate.
func NewCandidatePair(local, remote *Candidate, controlling bool) *CandidatePair {
	p := &CandidatePair{
		controlling: controlling,
		Remote:      remote,
		Local:       local,
	}
	p.state.Store(int32(CandidatePairStateWaiting))

	return p
}

// CandidatePair is a combination of a local and remote candidate.
type CandidatePair struct {
	controlling bool
	Remote      *Candidate
	Local       *Candidate

	state atomic.Int32

	currentRoundTripTime atomic.Int64 // in ns
	totalRoundTripTime   atomic.Int64 // in ns
	requestsSent         atomic.Uint64
	responsesReceived    atomic.Uint64
}

func (p *CandidatePair) String() string {
	if p == nil {
		return ""
	}

	return fmt.Sprintf("prio %d (local, prio %d) %s <-> %s (remote, prio %d), state: %s",
		p.Priority(), p.Local.Priority(), p.Local, p.Remote, p.Remote.Priority(), p.State())
}

// Equal reports whether both pairs join the same candidates.
func (p *CandidatePair) Equal(other *CandidatePair) bool {
	if p == nil && other == nil {
		return true
	}
	if p == nil || other == nil {
		return false
	}

	return p.Local.Equal(other.Local) && p.Remote.Equal(other.Remote)
}

// Priority implements RFC 5245 - 5.7.2.  Computing Pair Priority and Ordering Pairs
// Let G be the priority for the candidate provided by the controlling
// agent.  Let D be the priority for the candidate provided by the
// controlled agent.
// pair priority = 2^32*MIN(G,D) + 2*MAX(G,D) + (G>D?1:0).
func (p *CandidatePair) Priority() uint64 {
	var g, d uint32 //nolint:varnamelen
	if p.controlling {
		g = p.Local.Priority()
		d = p.Remote.Priority()
	} else {
		g = p.Remote.Priority()
		d = p.Local.Priority()
	}

	var tie uint64
	if g > d {
		tie = 1
	}

	// 1<<32 overflows uint32; and if both g && d are
	// maxUint32, this result would overflow uint64
	return (1<<32-1)*uint64(min(g, d)) + 2*uint64(max(g, d)) + tie
}

// State returns the state of the last check.
func (p *CandidatePair) State() CandidatePairState {
	return CandidatePairState(p.state.Load())
}

// Check tests the remote candidate with the echo of the local candidate.
// The local candidate must have an echo, see Candidate.AddCandidateEcho.
func (p *CandidatePair) Check(timeout time.Duration) bool {
	echo := p.Local.CandidateEcho()
	if echo == nil || p.Remote.IP() == nil {
		p.state.Store(int32(CandidatePairStateFailed))

		return false
	}

	p.state.Store(int32(CandidatePairStateInProgress))
	p.requestsSent.Add(1)

	start := time.Now()
	if !echo.Test(p.Remote.IP(), p.Remote.Port(), timeout) {
		p.state.Store(int32(CandidatePairStateFailed))

		return false
	}

	p.UpdateRoundTripTime(time.Since(start))
	p.state.Store(int32(CandidatePairStateSucceeded))

	return true
}

// UpdateRoundTripTime sets the current round time of this pair and
// accumulates total round trip time and responses received.
func (p *CandidatePair) UpdateRoundTripTime(rtt time.Duration) {
	p.currentRoundTripTime.Store(rtt.Nanoseconds())
	p.totalRoundTripTime.Add(rtt.Nanoseconds())
	p.responsesReceived.Add(1)
}

// CurrentRoundTripTime returns the current round trip time in seconds
func (p *CandidatePair) CurrentRoundTripTime() float64 {
	return time.Duration(p.currentRoundTripTime.Load()).Seconds()
}

// TotalRoundTripTime returns the accumulated round trip time in seconds
func (p *CandidatePair) TotalRoundTripTime() float64 {
	return time.Duration(p.totalRoundTripTime.Load()).Seconds()
}

// RequestsSent returns the number of checks sent.
func (p *CandidatePair) RequestsSent() uint64 {
	return p.requestsSent.Load()
}

// ResponsesReceived returns the number of checks answered.
func (p *CandidatePair) ResponsesReceived() uint64 {
	return p.responsesReceived.Load()
}

// NewChecklist pairs every local candidate with every remote candidate of
// the same network type and component, by descending pair priority.
func NewChecklist(local, remote []*Candidate, controlling bool) []*CandidatePair {
	pairs := []*CandidatePair{}
	for _, l := range local {
		for _, r := range remote {
			if l.NetworkType() != r.NetworkType() || l.Component() != r.Component() {
				continue
			}
			pairs = append(pairs, NewCandidatePair(l, r, controlling))
		}
	}

	slices.SortStableFunc(pairs, func(a, b *CandidatePair) int {
		return cmp.Compare(b.Priority(), a.Priority())
	})

	return pairs
}

// CheckPair builds a pair after verifying both candidates can be paired.
func CheckPair(local, remote *Candidate, controlling bool, timeout time.Duration) (*CandidatePair, error) {
	if local.NetworkType() != remote.NetworkType() {
		return nil, fmt.Errorf("%w: %s and %s", errMismatchedNetwork, local.NetworkType(), remote.NetworkType())
	}
	if local.CandidateEcho() == nil {
		return nil, fmt.Errorf("%w: %s", errNoEcho, local)
	}

	pair := NewCandidatePair(local, remote, controlling)
	pair.Check(timeout)

	return pair, nil
}
