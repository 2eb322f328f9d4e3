// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	policy     ResolvePolicy
	prepareErr error
	gather     func(ctx context.Context, hdlr CandidateFoundHandler) error

	prepared atomic.Int32
	closed   atomic.Bool
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) Policy() ResolvePolicy {
	if s.policy == 0 {
		return ResolvePolicyAppend
	}

	return s.policy
}

func (s *fakeStrategy) Prepare(context.Context) error {
	s.prepared.Add(1)

	return s.prepareErr
}

func (s *fakeStrategy) Gather(ctx context.Context, hdlr CandidateFoundHandler) error {
	if s.gather == nil {
		return nil
	}

	return s.gather(ctx, hdlr)
}

func (s *fakeStrategy) Close() error {
	s.closed.Store(true)

	return nil
}

// emitPorts gathers one loopback host candidate per port.
func emitPorts(t *testing.T, ports ...int) func(context.Context, CandidateFoundHandler) error {
	t.Helper()

	return func(ctx context.Context, hdlr CandidateFoundHandler) error {
		for _, port := range ports {
			c, err := NewCandidate(&CandidateConfig{Address: localhostIPStr, Port: port})
			if err != nil {
				return err
			}
			if err := hdlr(ctx, c, nil); err != nil {
				return err
			}
		}

		return nil
	}
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
	ended  chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ended: make(chan struct{}, 16)}
}

func (l *recordingListener) Init() {
	l.record("init")
}

func (l *recordingListener) CandidateAdded(c *Candidate) {
	l.record(fmt.Sprintf("added %d", c.Port()))
}

func (l *recordingListener) End() {
	l.record("end")
	l.ended <- struct{}{}
}

func (l *recordingListener) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.events...)
}

func (l *recordingListener) waitEnd(t *testing.T) {
	t.Helper()

	select {
	case <-l.ended:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "resolution did not end")
	}
}

func newTestResolver(strategy Strategy) *TransportResolver {
	return NewTransportResolver(strategy, logging.NewDefaultLoggerFactory())
}

func TestResolverLifecycle(t *testing.T) {
	defer test.CheckRoutines(t)()

	strategy := &fakeStrategy{gather: emitPorts(t, 1000, 1001)}
	r := newTestResolver(strategy)
	require.Equal(t, ResolveStateCreated, r.State())
	require.Nil(t, r.Done())

	require.ErrorIs(t, r.Resolve(), ErrNotInitialized)

	require.NoError(t, r.Initialize(context.Background()))
	require.Equal(t, ResolveStateInit, r.State())
	require.ErrorIs(t, r.Initialize(context.Background()), ErrAlreadyInitialized)
	require.Equal(t, int32(1), strategy.prepared.Load())

	listener := newRecordingListener()
	r.AddListener(listener)

	require.NoError(t, r.Resolve())
	listener.waitEnd(t)
	<-r.Done()

	require.Equal(t, ResolveStateResolved, r.State())
	require.Equal(t, []string{"init", "added 1000", "added 1001", "end"}, listener.Events())
	require.Equal(t, 2, r.CandidateCount())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.True(t, strategy.closed.Load())

	require.ErrorIs(t, r.Resolve(), ErrClosed)
	require.ErrorIs(t, r.Initialize(context.Background()), ErrClosed)
	require.ErrorIs(t, r.AddCandidate(mustCandidate(t, &CandidateConfig{Address: localhostIPStr})), ErrClosed)
}

func TestResolverInitializeFailure(t *testing.T) {
	errPrepare := errors.New("no socket")
	r := newTestResolver(&fakeStrategy{prepareErr: errPrepare})
	defer func() { require.NoError(t, r.Close()) }()

	require.ErrorIs(t, r.Initialize(context.Background()), errPrepare)
	require.Equal(t, ResolveStateCreated, r.State())
	require.ErrorIs(t, r.Resolve(), ErrNotInitialized)
}

func TestResolverResolveInProgress(t *testing.T) {
	defer test.CheckRoutines(t)()

	release := make(chan struct{})
	r := newTestResolver(&fakeStrategy{gather: func(ctx context.Context, _ CandidateFoundHandler) error {
		select {
		case <-release:
		case <-ctx.Done():
		}

		return nil
	}})
	require.NoError(t, r.Initialize(context.Background()))

	require.NoError(t, r.Resolve())
	require.Equal(t, ResolveStateResolving, r.State())
	require.ErrorIs(t, r.Resolve(), ErrResolveInProgress)

	close(release)
	<-r.Done()
	require.Equal(t, ResolveStateResolved, r.State())

	require.NoError(t, r.Close())
}

func TestResolverResolveDoesNotBlock(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newTestResolver(&fakeStrategy{gather: func(ctx context.Context, _ CandidateFoundHandler) error {
		<-ctx.Done()

		return ctx.Err()
	}})
	require.NoError(t, r.Initialize(context.Background()))

	listener := newRecordingListener()
	r.AddListener(listener)

	start := time.Now()
	require.NoError(t, r.Resolve())
	require.Less(t, time.Since(start), time.Second)

	// Close interrupts the pending gathering; End is still delivered.
	require.NoError(t, r.Close())
	listener.waitEnd(t)
	require.Equal(t, []string{"init", "end"}, listener.Events())
}

func TestResolverDropsDuplicates(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newTestResolver(&fakeStrategy{gather: emitPorts(t, 1000, 1000, 1001)})
	require.NoError(t, r.Initialize(context.Background()))

	listener := newRecordingListener()
	r.AddListener(listener)

	require.NoError(t, ResolveAndWait(context.Background(), r))
	listener.waitEnd(t)
	require.Equal(t, []string{"init", "added 1000", "added 1001", "end"}, listener.Events())

	dup := mustCandidate(t, &CandidateConfig{Address: localhostIPStr, Port: 1001})
	require.ErrorIs(t, r.AddCandidate(dup), ErrCandidateExists)
	require.ErrorIs(t, r.AddCandidate(nil), ErrNilCandidate)

	named := mustCandidate(t, &CandidateConfig{Address: "jingle-host.local", Port: 2000})
	require.NoError(t, r.AddCandidate(named))
	renamed := mustCandidate(t, &CandidateConfig{Address: "JINGLE-HOST.local", Port: 2000})
	require.ErrorIs(t, r.AddCandidate(renamed), ErrCandidateExists)

	require.NoError(t, r.Close())
}

func TestResolverPolicies(t *testing.T) {
	defer test.CheckRoutines(t)()

	for _, tc := range []struct {
		policy ResolvePolicy
		want   int
	}{
		{ResolvePolicyAppend, 3},
		{ResolvePolicyClear, 2},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			var run atomic.Int32
			r := newTestResolver(&fakeStrategy{
				policy: tc.policy,
				gather: func(ctx context.Context, hdlr CandidateFoundHandler) error {
					// Second run rediscovers 1001 and finds 1002.
					if run.Add(1) == 1 {
						return emitPorts(t, 1000, 1001)(ctx, hdlr)
					}

					return emitPorts(t, 1001, 1002)(ctx, hdlr)
				},
			})
			defer func() { require.NoError(t, r.Close()) }()

			require.NoError(t, r.Initialize(context.Background()))
			require.NoError(t, ResolveAndWait(context.Background(), r))
			require.Equal(t, 2, r.CandidateCount())

			require.NoError(t, ResolveAndWait(context.Background(), r))
			require.Equal(t, tc.want, r.CandidateCount())
		})
	}
}

func TestResolverListenerPanicIsolated(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newTestResolver(&fakeStrategy{gather: emitPorts(t, 1000, 1001, 1002)})
	defer func() { require.NoError(t, r.Close()) }()
	require.NoError(t, r.Initialize(context.Background()))

	r.AddListener(&ResolverListenerFuncs{
		OnCandidateAdded: func(*Candidate) { panic("listener bug") },
	})
	listener := newRecordingListener()
	r.AddListener(listener)

	require.NoError(t, r.Resolve())
	listener.waitEnd(t)

	require.Equal(t, []string{"init", "added 1000", "added 1001", "added 1002", "end"}, listener.Events())
	require.Equal(t, 3, r.CandidateCount())
}

func TestResolverRemoveListener(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newTestResolver(&fakeStrategy{gather: emitPorts(t, 1000)})
	defer func() { require.NoError(t, r.Close()) }()
	require.NoError(t, r.Initialize(context.Background()))

	removed := newRecordingListener()
	kept := newRecordingListener()
	r.AddListener(removed)
	r.AddListener(removed)
	r.AddListener(kept)
	r.AddListener(nil)
	r.RemoveListener(removed)

	require.NoError(t, r.Resolve())
	kept.waitEnd(t)

	require.Empty(t, removed.Events())
	require.Len(t, kept.Events(), 3)
}

func TestResolverListenerCanReadResolver(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newTestResolver(&fakeStrategy{gather: emitPorts(t, 1000, 1001)})
	defer func() { require.NoError(t, r.Close()) }()
	require.NoError(t, r.Initialize(context.Background()))

	var counts []int
	var state ResolveState
	done := make(chan struct{})
	r.AddListener(&ResolverListenerFuncs{
		OnCandidateAdded: func(*Candidate) {
			counts = append(counts, r.CandidateCount())
		},
		OnEnd: func() {
			state = r.State()
			close(done)
		},
	})

	require.NoError(t, r.Resolve())
	<-done

	require.Equal(t, []int{1, 2}, counts)
	require.Equal(t, ResolveStateResolved, state)
}

func TestResolverPreferredCandidate(t *testing.T) {
	r := newTestResolver(&fakeStrategy{})
	defer func() { require.NoError(t, r.Close()) }()

	_, ok := r.PreferredCandidate()
	require.False(t, ok, "an empty set has no preferred candidate")

	for i, priority := range []uint32{1, 15, 100, 2, 78} {
		c := mustCandidate(t, &CandidateConfig{Address: localhostIPStr, Port: 5000 + i, Priority: priority})
		require.NoError(t, r.AddCandidate(c))
	}

	best, ok := r.PreferredCandidate()
	require.True(t, ok)
	require.Equal(t, uint32(100), best.Priority())

	// Frozen once added.
	require.ErrorIs(t, best.SetLocalIP(net.ParseIP("10.0.0.1")), ErrCandidateFrozen)

	candidates := r.Candidates()
	require.Len(t, candidates, 5)
	require.Equal(t, 5000, candidates[0].Port(), "insertion order is kept")
}

func TestConcurrentResolversShareCounter(t *testing.T) {
	defer test.CheckRoutines(t)()

	counter := &Counter{}
	resolvers := []*TransportResolver{}
	for i := 0; i < 4; i++ {
		r := newTestResolver(&fakeStrategy{gather: emitPorts(t, 2000+i*10, 2001+i*10, 2002+i*10)})
		require.NoError(t, r.Initialize(context.Background()))
		r.AddListener(CountingListener(counter))
		resolvers = append(resolvers, r)
	}

	for _, r := range resolvers {
		require.NoError(t, r.Resolve())
	}
	for _, r := range resolvers {
		<-r.Done()
		assert.Equal(t, 3, r.CandidateCount())
		require.NoError(t, r.Close())
	}

	require.Equal(t, 12, counter.Value())
	counter.Reset()
	require.Zero(t, counter.Value())
}

func TestResolveStateString(t *testing.T) {
	for state, want := range map[ResolveState]string{
		ResolveStateCreated:   "created",
		ResolveStateInit:      "init",
		ResolveStateResolving: "resolving",
		ResolveStateResolved:  "resolved",
		ResolveState(42):      ErrUnknownType.Error(),
	} {
		assert.Equal(t, want, state.String())
	}
}
