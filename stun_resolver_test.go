// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jingle-go/nat/internal/metrics"
	"github.com/pion/transport/v3/test"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func candidatesOfType(r Resolver, candidateType CandidateType) []*Candidate {
	out := []*Candidate{}
	for _, c := range r.Candidates() {
		if c.Type() == candidateType {
			out = append(out, c)
		}
	}

	return out
}

func TestSTUNResolver(t *testing.T) {
	defer test.CheckRoutines(t)()

	server := newSTUNResponder(t)
	defer func() { require.NoError(t, server.Close()) }()

	config := loopbackConfig(t)
	config.Servers = []STUNServer{server.Server()}
	config.BindingTimeout = time.Second

	r, err := NewSTUNResolver(config)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	require.NoError(t, r.Initialize(context.Background()))
	require.Equal(t, []STUNServer{server.Server()}, r.Servers())

	require.NoError(t, ResolveAndWait(context.Background(), r))
	require.Equal(t, 2, r.CandidateCount())

	hosts := candidatesOfType(r, CandidateTypeHost)
	srflx := candidatesOfType(r, CandidateTypeServerReflexive)
	require.Len(t, hosts, 1)
	require.Len(t, srflx, 1)

	reflexive := srflx[0]
	require.Equal(t, localhostIPStr, reflexive.Address())
	require.True(t, reflexive.LocalIP().Equal(net.IPv4(127, 0, 0, 1)))
	require.Equal(t, localhostIPStr, reflexive.RelatedAddress().Address)
	require.Equal(t, reflexive.Port(), reflexive.RelatedAddress().Port, "a loopback server sees the probe socket itself")

	best, ok := r.PreferredCandidate()
	require.True(t, ok)
	require.Same(t, hosts[0], best)

	// Sockets are reused, so a second resolution only rediscovers duplicates.
	counter := &Counter{}
	r.AddListener(CountingListener(counter))
	require.NoError(t, ResolveAndWait(context.Background(), r))
	require.Equal(t, 2, r.CandidateCount())
	require.Zero(t, counter.Value())
	require.Equal(t, int32(2), server.requests.Load())
}

func TestSTUNResolverReresolvesThroughEcho(t *testing.T) {
	defer test.CheckRoutines(t)()

	server := newSTUNResponder(t)
	defer func() { require.NoError(t, server.Close()) }()

	config := loopbackConfig(t)
	config.Servers = []STUNServer{server.Server()}
	config.BindingTimeout = time.Second

	r, err := NewSTUNResolver(config)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, ResolveAndWait(context.Background(), r))

	srflx := candidatesOfType(r, CandidateTypeServerReflexive)
	require.Len(t, srflx, 1)
	reflexive := srflx[0]
	require.NoError(t, reflexive.AddCandidateEcho(nil))

	peer := newLoopbackEcho(t)
	defer func() { require.NoError(t, peer.Close()) }()

	failures := metrics.ProbeFailures.WithLabelValues("stun", metrics.FailureBinding)
	before := testutil.ToFloat64(failures)

	const rounds = 10
	for range rounds {
		require.NoError(t, ResolveAndWait(context.Background(), r))
		require.True(t, reflexive.CandidateEcho().Test(echoAddr(peer).IP, echoAddr(peer).Port, time.Second))
	}

	require.Equal(t, before, testutil.ToFloat64(failures))
	require.Equal(t, int32(1+rounds), server.requests.Load())
	require.Equal(t, 2, r.CandidateCount())

	// Once the echo is gone, the resolver reads the socket itself again.
	require.NoError(t, reflexive.Close())
	require.NoError(t, ResolveAndWait(context.Background(), r))
	require.Equal(t, before, testutil.ToFloat64(failures))
	require.Equal(t, int32(2+rounds), server.requests.Load())
}

func TestSTUNResolverSkipsUnreachableServer(t *testing.T) {
	defer test.CheckRoutines(t)()

	server := newSTUNResponder(t)
	defer func() { require.NoError(t, server.Close()) }()

	silent, stop := silentServer(t)
	defer stop()

	config := loopbackConfig(t)
	config.Servers = []STUNServer{silent, server.Server()}
	config.BindingTimeout = 200 * time.Millisecond

	r, err := NewSTUNResolver(config)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	failures := metrics.ProbeFailures.WithLabelValues("stun", metrics.FailureBinding)
	before := testutil.ToFloat64(failures)

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, ResolveAndWait(context.Background(), r))

	require.Len(t, candidatesOfType(r, CandidateTypeServerReflexive), 1)
	require.Equal(t, r.State(), ResolveStateResolved)
	require.Equal(t, before+1, testutil.ToFloat64(failures))
}

func TestSTUNResolverWithoutServers(t *testing.T) {
	defer test.CheckRoutines(t)()

	config := loopbackConfig(t)
	config.ServerSource = StaticServerSource{}

	r, err := NewSTUNResolver(config)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	require.NoError(t, r.Initialize(context.Background()))
	require.Empty(t, r.Servers())

	require.NoError(t, ResolveAndWait(context.Background(), r))
	require.Equal(t, 1, r.CandidateCount(), "only the host candidate is found")
}

type failingServerSource struct{}

func (failingServerSource) LoadSTUNServers(context.Context) ([]STUNServer, error) {
	return nil, errors.New("source unavailable")
}

type fakeDirectory []STUNServer

func (d fakeDirectory) LookupSTUNServers(context.Context) ([]STUNServer, error) {
	return d, nil
}

func TestSTUNResolverLoadSTUNServers(t *testing.T) {
	advertised := STUNServer{Host: "stun.example.net", Port: 3478}
	static := STUNServer{Host: "stun.example.org", Port: 19302}

	t.Run("SourceFailureYieldsEmptyList", func(t *testing.T) {
		config := loopbackConfig(t)
		config.ServerSource = failingServerSource{}

		r, err := NewSTUNResolver(config)
		require.NoError(t, err)
		defer func() { require.NoError(t, r.Close()) }()

		require.Empty(t, r.LoadSTUNServers(context.Background()))
	})

	t.Run("DirectoryServersAreAppended", func(t *testing.T) {
		config := loopbackConfig(t)
		config.Servers = []STUNServer{static, {Host: "", Port: 1}}
		config.Directory = fakeDirectory{static, advertised}

		r, err := NewSTUNResolver(config)
		require.NoError(t, err)
		defer func() { require.NoError(t, r.Close()) }()

		require.Equal(t, []STUNServer{static, advertised}, r.LoadSTUNServers(context.Background()))
		require.Equal(t, []STUNServer{static, advertised}, r.Servers())
	})

	t.Run("DefaultList", func(t *testing.T) {
		r, err := NewSTUNResolver(loopbackConfig(t))
		require.NoError(t, err)
		defer func() { require.NoError(t, r.Close()) }()

		require.NotEmpty(t, r.LoadSTUNServers(context.Background()))
	})
}

type fakeBindingClient struct {
	mapped *net.UDPAddr
}

func (f *fakeBindingClient) BindingRequest(context.Context, net.PacketConn, net.Addr) (*net.UDPAddr, error) {
	return f.mapped, nil
}

func TestSTUNResolverBindingClient(t *testing.T) {
	defer test.CheckRoutines(t)()

	config := loopbackConfig(t)
	config.Servers = []STUNServer{{Host: "127.0.0.1", Port: 3478}}
	config.BindingClient = &fakeBindingClient{mapped: &net.UDPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 40000}}

	r, err := NewSTUNResolver(config)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, ResolveAndWait(context.Background(), r))

	srflx := candidatesOfType(r, CandidateTypeServerReflexive)
	require.Len(t, srflx, 1)
	require.Equal(t, "203.0.113.5", srflx[0].Address())
	require.Equal(t, 40000, srflx[0].Port())
	require.True(t, srflx[0].LocalIP().Equal(net.IPv4(127, 0, 0, 1)))
	require.Equal(t, uint32(1694498815), srflx[0].Priority())
}
