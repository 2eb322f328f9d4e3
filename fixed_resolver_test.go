// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedResolver(t *testing.T) {
	r, err := NewFixedResolver("203.0.113.9", 5000, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	counter := &Counter{}
	r.AddListener(CountingListener(counter))

	require.NoError(t, r.Initialize(context.Background()))
	for range 3 {
		require.NoError(t, ResolveAndWait(context.Background(), r))
	}

	c, ok := r.PreferredCandidate()
	require.True(t, ok)
	require.Equal(t, "203.0.113.9", c.Address())
	require.Equal(t, 5000, c.Port())
	require.Equal(t, CandidateTypeHost, c.Type())
	require.Equal(t, NetworkTypeUDP4, c.NetworkType())

	require.Equal(t, 1, r.CandidateCount(), "each resolution replaces the previous candidate")
	require.Equal(t, 3, counter.Value())
}

func TestFixedResolverRejectsBadAddress(t *testing.T) {
	_, err := NewFixedResolver("not-an-ip", 5000, nil)
	require.ErrorIs(t, err, ErrAddressParseFailed)

	_, err = NewFixedResolver("203.0.113.9", 70000, nil)
	require.ErrorIs(t, err, ErrPort)
}
