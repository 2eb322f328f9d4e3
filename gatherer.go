// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrIgnoreCandidate is returned by an InterceptingGatherer hook to drop a candidate.
var ErrIgnoreCandidate = errors.New("candidate should be dropped")

// CandidateFoundHandler receives every gathered candidate together with the
// socket it was learned through. The socket stays owned by the gatherer; it
// is nil for candidates without a local socket.
type CandidateFoundHandler func(ctx context.Context, c *Candidate, conn net.PacketConn) error

// Gatherer discovers candidates. Transient failures are logged and skipped;
// only failures that make the whole gathering meaningless are returned.
type Gatherer interface {
	Gather(ctx context.Context, hdlr CandidateFoundHandler) error
}

// GathererFunc adapts a function to a Gatherer.
type GathererFunc func(ctx context.Context, hdlr CandidateFoundHandler) error

// Gather implements Gatherer.
func (f GathererFunc) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	return f(ctx, hdlr)
}

// ParallelGatherer runs every gatherer concurrently.
type ParallelGatherer []Gatherer

// Gather implements Gatherer.
func (pg ParallelGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	grp := &errgroup.Group{}

	for _, g := range pg {
		grp.Go(func() error {
			return g.Gather(ctx, hdlr)
		})
	}

	return grp.Wait()
}

// OrderedGatherer runs every gatherer concurrently, like ParallelGatherer,
// but passes the candidates on in gatherer order once all are done. Equal
// priority candidates from different gatherers then always arrive the same
// way round.
type OrderedGatherer []Gatherer

// Gather implements Gatherer.
func (og OrderedGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	found := make([]foundList, len(og))
	grp := &errgroup.Group{}

	for i, g := range og {
		grp.Go(func() error {
			return g.Gather(ctx, found[i].add)
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}

	for i := range found {
		if err := found[i].replay(ctx, hdlr); err != nil {
			return err
		}
	}

	return nil
}

type foundCandidate struct {
	c    *Candidate
	conn net.PacketConn
}

// foundList buffers the candidates of one gatherer.
type foundList struct {
	mu    sync.Mutex
	items []foundCandidate
}

func (l *foundList) add(_ context.Context, c *Candidate, conn net.PacketConn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, foundCandidate{c: c, conn: conn})

	return nil
}

func (l *foundList) replay(ctx context.Context, hdlr CandidateFoundHandler) error {
	l.mu.Lock()
	items := l.items
	l.mu.Unlock()

	for _, f := range items {
		if err := hdlr(ctx, f.c, f.conn); err != nil {
			return err
		}
	}

	return nil
}

// SerialGatherer runs gatherers one after the other and stops at the first error.
type SerialGatherer []Gatherer

// Gather implements Gatherer.
func (sg SerialGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	for _, g := range sg {
		if err := g.Gather(ctx, hdlr); err != nil {
			return err
		}
	}

	return nil
}

// InterceptingGatherer runs Intercept on every candidate before passing it on.
type InterceptingGatherer struct {
	Gatherer
	Intercept CandidateFoundHandler
}

// Gather implements Gatherer.
func (g *InterceptingGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	return g.Gatherer.Gather(ctx, func(ctx context.Context, c *Candidate, conn net.PacketConn) error {
		if err := g.Intercept(ctx, c, conn); err != nil {
			if errors.Is(err, ErrIgnoreCandidate) {
				return nil
			}

			return fmt.Errorf("filter failed: %w", err)
		}

		return hdlr(ctx, c, conn)
	})
}
