// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import "sync"

// ResolverListener observes the resolutions of one resolver.
//
// Callbacks for a resolver are delivered one at a time, in the order the
// resolver produced them, and End is always delivered after the last
// CandidateAdded of a resolution. Callbacks may read the resolver but must
// not call AddCandidate, Resolve or Close on it.
type ResolverListener interface {
	// Init is called before the first probe of a resolution.
	Init()

	// CandidateAdded is called exactly once for every candidate added.
	CandidateAdded(c *Candidate)

	// End is called exactly once when a resolution finished.
	End()
}

// ResolverListenerFuncs adapts plain functions to a ResolverListener.
// Nil functions are skipped.
type ResolverListenerFuncs struct {
	OnInit           func()
	OnCandidateAdded func(*Candidate)
	OnEnd            func()
}

// Init implements ResolverListener.
func (f *ResolverListenerFuncs) Init() {
	if f.OnInit != nil {
		f.OnInit()
	}
}

// CandidateAdded implements ResolverListener.
func (f *ResolverListenerFuncs) CandidateAdded(c *Candidate) {
	if f.OnCandidateAdded != nil {
		f.OnCandidateAdded(c)
	}
}

// End implements ResolverListener.
func (f *ResolverListenerFuncs) End() {
	if f.OnEnd != nil {
		f.OnEnd()
	}
}

// Counter is a mutex guarded counter that listeners of several concurrent
// resolvers can share by reference.
type Counter struct {
	mu sync.Mutex
	n  int
}

// Inc increments the counter.
func (c *Counter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}

// Reset sets the counter back to zero.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
}

// CountingListener returns a listener that increments counter for every added candidate.
func CountingListener(counter *Counter) ResolverListener {
	return &ResolverListenerFuncs{
		OnCandidateAdded: func(*Candidate) {
			counter.Inc()
		},
	}
}
