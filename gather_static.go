// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import "context"

// StaticGatherer emits a fixed list of candidates in order.
type StaticGatherer struct {
	Candidates []*Candidate
}

// Gather implements Gatherer.
func (g *StaticGatherer) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	for _, c := range g.Candidates {
		if err := hdlr(ctx, c, nil); err != nil {
			return err
		}
	}

	return nil
}
