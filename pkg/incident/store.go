// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/metrics"
)

// DefaultQueueSize is the capacity of the store's inbound update queue.
const DefaultQueueSize = 256

// ErrAlreadyRunning is returned when a second writer loop is started on the same store.
var ErrAlreadyRunning = errors.New("incident store: writer loop already running")

// Update describes one applied snapshot.
type Update struct {
	Previous State
	Current  State
	// Existed is false the first time an incident is seen.
	Existed bool
	// Regression is non-empty when the new snapshot moved the incident backwards,
	// e.g. a finalized incident reported as open again. The snapshot is applied anyway.
	Regression string
}

// Regression kinds.
const (
	RegressionUnfinalized = "unfinalized"
	RegressionBackwards   = "backwards"
	RegressionReset       = "reset"
)

// ExpectedFunc reports whether moving incident id back to running level to is the
// outcome of a transition this client dispatched.
type ExpectedFunc func(id int64, to int) bool

// Listener is called on the writer goroutine after each applied snapshot.
type Listener func(Update)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithQueueSize sets the capacity of the inbound queue.
func WithQueueSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.queue = make(chan State, n)
		}
	}
}

// WithExpected lets a one-step backwards move pass unflagged when expected
// returns true for it. Without it every backwards move is flagged.
func WithExpected(expected ExpectedFunc) StoreOption {
	return func(s *Store) {
		s.expected = expected
	}
}

// WithClock overrides the clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps the last known state of every incident the client has heard about.
//
// Snapshots enter through Submit and are applied by a single writer (Run), in
// arrival order. Each snapshot replaces the incident's state wholesale: there are
// no sequence numbers, so a late snapshot overwrites a newer one (last write wins).
// Such regressions are logged and counted but not suppressed.
type Store struct {
	mu     sync.RWMutex
	states map[int64]State

	lmu       sync.RWMutex
	listeners []Listener

	queue    chan State
	running  atomic.Bool
	now      func() time.Time
	expected ExpectedFunc
	log      *zap.SugaredLogger
}

// NewStore creates an empty store.
func NewStore(log *zap.SugaredLogger, opts ...StoreOption) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{
		states: make(map[int64]State),
		queue:  make(chan State, DefaultQueueSize),
		now:    time.Now,
		log:    log.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnApply registers a listener for applied snapshots.
func (s *Store) OnApply(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Submit enqueues a snapshot for the writer loop. It blocks while the queue is full
// and returns ctx.Err() if the context ends first.
func (s *Store) Submit(ctx context.Context, st State) error {
	select {
	case s.queue <- st:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued snapshots until ctx is done. Only one Run may be active.
func (s *Store) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-s.queue:
			s.Apply(st)
		}
	}
}

// Apply replaces the state of st.ID synchronously and notifies listeners.
// Outside of tests it is only called from Run.
func (s *Store) Apply(st State) Update {
	if st.ReceivedAt.IsZero() {
		st.ReceivedAt = s.now()
	}

	s.mu.Lock()
	prev, existed := s.states[st.ID]
	s.states[st.ID] = st
	s.mu.Unlock()

	// shared by every store in the process
	if !existed {
		metrics.IncidentsTracked.Inc()
	}

	u := Update{Previous: prev, Current: st, Existed: existed}
	if existed {
		u.Regression = s.regression(prev, st)
	}
	if u.Regression != "" {
		metrics.StateRegressions.WithLabelValues(u.Regression).Inc()
		s.log.Warnw("Applied snapshot moves incident backwards",
			"incident", st.ID, "kind", u.Regression,
			"previous", prev.Phase(), "current", st.Phase())
	} else {
		s.log.Debugw("Applied snapshot", "incident", st.ID, "phase", st.Phase())
	}

	s.lmu.RLock()
	listeners := slices.Clone(s.listeners)
	s.lmu.RUnlock()
	for _, l := range listeners {
		l(u)
	}
	return u
}

func (s *Store) regression(prev, cur State) string {
	if prev.IsFinalized() && !cur.IsFinalized() {
		return RegressionUnfinalized
	}
	from, to := prev.RunningLevel(), cur.RunningLevel()
	if to != 0 && to < from {
		if to == from-1 && s.expected != nil && s.expected(cur.ID, to) {
			return ""
		}
		return RegressionBackwards
	}
	if cur.FinishedLevels() < prev.FinishedLevels() && to == 0 && !cur.IsFinalized() {
		return RegressionReset
	}
	return ""
}

// Get returns the state of one incident. The boolean is false when nothing was
// reported for it yet; the returned state is then the implicit all-idle state.
func (s *Store) Get(id int64) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return NewState(id), false
	}
	return st, true
}

// Snapshot returns all known states ordered by incident id.
func (s *Store) Snapshot() []State {
	s.mu.RLock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b State) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of incidents with a known state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// RunningLevel returns the running level of an incident, or 0.
func (s *Store) RunningLevel(id int64) int {
	st, _ := s.Get(id)
	return st.RunningLevel()
}

// IsFinalized reports whether an incident is finalized.
func (s *Store) IsFinalized(id int64) bool {
	st, _ := s.Get(id)
	return st.IsFinalized()
}
