// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/jingle-go/nat/internal/metrics"
	"github.com/jingle-go/nat/internal/taskloop"
	"github.com/pion/logging"
	"go.uber.org/multierr"
)

// ResolveState is the lifecycle state of a resolver.
type ResolveState int

const (
	// ResolveStateCreated means the resolver was constructed and did no network activity yet.
	ResolveStateCreated ResolveState = iota

	// ResolveStateInit means the resolver acquired its resources.
	ResolveStateInit

	// ResolveStateResolving means probes are in flight.
	ResolveStateResolving

	// ResolveStateResolved means every probe of the last resolution finished.
	ResolveStateResolved
)

func (s ResolveState) String() string {
	switch s {
	case ResolveStateCreated:
		return "created"
	case ResolveStateInit:
		return "init"
	case ResolveStateResolving:
		return "resolving"
	case ResolveStateResolved:
		return "resolved"
	default:
		return ErrUnknownType.Error()
	}
}

// ResolvePolicy decides what happens to the candidate set when a
// resolved resolver resolves again.
type ResolvePolicy int

const (
	// ResolvePolicyAppend keeps earlier candidates; rediscoveries are dropped as duplicates.
	ResolvePolicyAppend ResolvePolicy = iota + 1

	// ResolvePolicyClear discards and closes earlier candidates first.
	ResolvePolicyClear
)

func (p ResolvePolicy) String() string {
	switch p {
	case ResolvePolicyAppend:
		return "append"
	case ResolvePolicyClear:
		return "clear"
	default:
		return ErrUnknownType.Error()
	}
}

// Strategy is the gathering variant a TransportResolver runs.
type Strategy interface {
	Gatherer

	// Name identifies the strategy in logs and metrics.
	Name() string

	// Prepare acquires what gathering needs. It runs once, from Initialize.
	Prepare(ctx context.Context) error

	// Policy is applied when a resolution starts.
	Policy() ResolvePolicy

	// Close releases everything the strategy acquired.
	Close() error
}

// Resolver discovers candidates and reports them to listeners.
type Resolver interface {
	Initialize(ctx context.Context) error
	Resolve() error
	AddCandidate(c *Candidate) error
	PreferredCandidate() (*Candidate, bool)
	Candidates() []*Candidate
	CandidateCount() int
	AddListener(l ResolverListener)
	RemoveListener(l ResolverListener)
	State() ResolveState
	Done() <-chan struct{}
	Close() error
}

var _ Resolver = (*TransportResolver)(nil)

// TransportResolver drives one Strategy through the resolver lifecycle and
// owns the resulting candidate set.
//
// Every mutation of the candidate set and every listener notification runs
// on the resolver's task loop, so listeners of one resolver never run
// concurrently. Reads take a snapshot and may be called from listeners.
type TransportResolver struct {
	strategy Strategy
	log      logging.LeveledLogger
	loop     *taskloop.Loop

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// initMu serializes Initialize and Close.
	initMu sync.Mutex

	mu         sync.RWMutex
	state      ResolveState
	closed     bool
	candidates []*Candidate
	index      map[string]*Candidate
	listeners  []ResolverListener
	seq        uint64
	done       chan struct{}
}

// NewTransportResolver creates a resolver running strategy.
func NewTransportResolver(strategy Strategy, loggerFactory logging.LoggerFactory) *TransportResolver {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TransportResolver{
		strategy: strategy,
		log:      loggerFactory.NewLogger(loggerScope),
		loop:     taskloop.New(nil),
		ctx:      ctx,
		cancel:   cancel,
		index:    map[string]*Candidate{},
	}
}

// Initialize acquires the resources of the strategy: Created to Init.
func (r *TransportResolver) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.RLock()
	state, closed := r.state, r.closed
	r.mu.RUnlock()

	switch {
	case closed:
		return ErrClosed
	case state != ResolveStateCreated:
		return ErrAlreadyInitialized
	}

	if err := r.strategy.Prepare(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s resolver: %w", r.strategy.Name(), err)
	}

	r.mu.Lock()
	r.state = ResolveStateInit
	r.mu.Unlock()

	r.log.Debugf("Initialized %s resolver", r.strategy.Name())

	return nil
}

// Resolve starts a resolution and returns immediately. Completion is
// reported by the End callback and by the Done channel.
func (r *TransportResolver) Resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return ErrClosed
	case r.state == ResolveStateCreated:
		return ErrNotInitialized
	case r.state == ResolveStateResolving:
		return ErrResolveInProgress
	}

	r.state = ResolveStateResolving
	r.done = make(chan struct{})

	r.wg.Add(1)
	go r.run(r.done)

	return nil
}

func (r *TransportResolver) run(done chan struct{}) {
	defer r.wg.Done()
	defer close(done)

	name := r.strategy.Name()
	start := time.Now()

	if r.strategy.Policy() == ResolvePolicyClear {
		r.clear()
	}

	r.notify(func(l ResolverListener) { l.Init() })

	err := r.strategy.Gather(r.ctx, func(_ context.Context, c *Candidate, conn net.PacketConn) error {
		err := r.addCandidate(c, conn)
		if errors.Is(err, ErrCandidateExists) {
			r.log.Debugf("Dropping duplicate candidate %s", c)

			return nil
		}

		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		r.log.Debugf("Resolution of %s resolver interrupted: %v", name, err)
	default:
		r.log.Warnf("Resolution of %s resolver failed: %v", name, err)
	}

	metrics.ResolutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	r.finish()
}

// clear drops and closes the current candidates.
func (r *TransportResolver) clear() {
	var dropped []*Candidate
	_ = r.loop.Do(func() {
		r.mu.Lock()
		dropped = r.candidates
		r.candidates = nil
		r.index = map[string]*Candidate{}
		r.mu.Unlock()
	})

	for _, c := range dropped {
		if err := c.Close(); err != nil {
			r.log.Warnf("Failed to close candidate %s: %v", c, err)
		}
	}
}

// finish marks the resolution done and delivers End after every queued notification.
func (r *TransportResolver) finish() {
	err := r.loop.Do(func() {
		listeners := r.resolved()
		for _, l := range listeners {
			r.safely(l.End)
		}
	})
	if err != nil {
		r.resolved()
	}
}

func (r *TransportResolver) resolved() []ResolverListener {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = ResolveStateResolved

	return slices.Clone(r.listeners)
}

func (r *TransportResolver) notify(fn func(ResolverListener)) {
	_ = r.loop.Do(func() {
		for _, l := range r.listenerSnapshot() {
			r.safely(func() { fn(l) })
		}
	})
}

// safely runs a listener callback, isolating the resolver from its panics.
func (r *TransportResolver) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ListenerPanics.Inc()
			r.log.Errorf("Resolver listener panicked: %v", rec)
		}
	}()

	fn()
}

// AddCandidate adds c to the candidate set and notifies every listener.
func (r *TransportResolver) AddCandidate(c *Candidate) error {
	return r.addCandidate(c, nil)
}

func (r *TransportResolver) addCandidate(c *Candidate, conn net.PacketConn) error {
	if c == nil {
		return ErrNilCandidate
	}

	var err error
	runErr := r.loop.Do(func() {
		key := c.key()

		r.mu.Lock()
		if _, ok := r.index[key]; ok {
			r.mu.Unlock()
			err = ErrCandidateExists

			return
		}
		if conn != nil {
			c.attach(conn)
		}
		r.seq++
		c.freeze(r.seq)
		r.index[key] = c
		r.candidates = append(r.candidates, c)
		listeners := slices.Clone(r.listeners)
		r.mu.Unlock()

		metrics.CandidatesGathered.WithLabelValues(r.strategy.Name(), c.Type().String()).Inc()
		r.log.Debugf("Added candidate %s", c)

		for _, l := range listeners {
			r.safely(func() { l.CandidateAdded(c) })
		}
	})
	if runErr != nil {
		return ErrClosed
	}

	return err
}

// PreferredCandidate returns the most preferred candidate, or false when
// no candidate was found.
func (r *TransportResolver) PreferredCandidate() (*Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return preferred(r.candidates)
}

// Candidates returns the candidates in insertion order.
func (r *TransportResolver) Candidates() []*Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.candidates)
}

// CandidateCount returns the number of candidates.
func (r *TransportResolver) CandidateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.candidates)
}

// AddListener registers l. Listeners must be comparable, usually pointers.
func (r *TransportResolver) AddListener(l ResolverListener) {
	if l == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !slices.Contains(r.listeners, l) {
		r.listeners = append(r.listeners, l)
	}
}

// RemoveListener unregisters l.
func (r *TransportResolver) RemoveListener(l ResolverListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = slices.DeleteFunc(r.listeners, func(existing ResolverListener) bool {
		return existing == l
	})
}

func (r *TransportResolver) listenerSnapshot() []ResolverListener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.listeners)
}

// State returns the lifecycle state.
func (r *TransportResolver) State() ResolveState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state
}

// Done returns a channel closed when the most recent resolution ended,
// nil if Resolve was never called.
func (r *TransportResolver) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.done
}

// Close cancels a running resolution, waits for it and releases every
// candidate and strategy resource. It must not be called from a listener.
func (r *TransportResolver) Close() error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.loop.Close()

	var err error
	for _, c := range r.Candidates() {
		err = multierr.Append(err, c.Close())
	}

	return multierr.Append(err, r.strategy.Close())
}

// ResolveAndWait runs one resolution of r and waits for it to end.
func ResolveAndWait(ctx context.Context, r Resolver) error {
	if err := r.Resolve(); err != nil {
		return err
	}

	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
