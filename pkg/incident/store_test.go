// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/escalation-sync/pkg/metrics"
)

func TestStoreGetUnknownIsIdle(t *testing.T) {
	s := NewStore(nil)
	st, ok := s.Get(7)
	assert.False(t, ok)
	assert.Equal(t, int64(7), st.ID)
	assert.Equal(t, 0, st.RunningLevel())
	assert.Equal(t, 0, s.Len())
}

func TestStoreApplyReplacesWholeState(t *testing.T) {
	s := NewStore(nil)

	first := stateWith(10, StatusRunning)
	first.Levels[0].Remaining = 900
	first.Levels[0].Annotation = "first note"
	first.Operator = "ana"
	u := s.Apply(first)
	assert.False(t, u.Existed)

	// the second snapshot carries no annotation and no operator
	second := stateWith(10, StatusFinished, StatusRunning)
	second.Levels[1].Remaining = 1200
	u = s.Apply(second)
	assert.True(t, u.Existed)
	assert.Equal(t, "ana", u.Previous.Operator)

	got, ok := s.Get(10)
	require.True(t, ok)
	assert.Equal(t, 2, got.RunningLevel())
	assert.Empty(t, got.Operator)
	assert.Empty(t, got.Levels[0].Annotation)
	assert.False(t, got.ReceivedAt.IsZero())
}

func TestStoreStampsReceivedAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(nil, WithClock(func() time.Time { return at }))
	s.Apply(NewState(1))
	got, _ := s.Get(1)
	assert.Equal(t, at, got.ReceivedAt)
}

func TestStoreLastWriteWinsFlagsRegression(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(zap.New(core).Sugar())

	fin := stateWith(5, StatusFinished, StatusFinished)
	fin.FinalStatus = FinalFinalized
	s.Apply(fin)

	late := stateWith(5, StatusFinished, StatusRunning)
	u := s.Apply(late)

	assert.Equal(t, RegressionUnfinalized, u.Regression)
	assert.False(t, s.IsFinalized(5), "stale snapshot is still applied")
	assert.Equal(t, 2, s.RunningLevel(5))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "unfinalized", logs.All()[0].ContextMap()["kind"])
}

func TestStoreFlagsRunningLevelMovingBackwards(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(zap.New(core).Sugar())

	s.Apply(stateWith(6, StatusFinished, StatusFinished, StatusRunning))
	u := s.Apply(stateWith(6, StatusRunning))

	assert.Equal(t, RegressionBackwards, u.Regression)
	assert.Equal(t, 1, s.RunningLevel(6), "stale snapshot is still applied")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, RegressionBackwards, logs.All()[0].ContextMap()["kind"])

	// one step back without a matching rollback is flagged as well
	s.Apply(stateWith(6, StatusFinished, StatusRunning))
	u = s.Apply(stateWith(6, StatusRunning))
	assert.Equal(t, RegressionBackwards, u.Regression)
}

func TestStoreExpectedRollbackIsNotFlagged(t *testing.T) {
	var asked []int
	s := NewStore(nil, WithExpected(func(id int64, to int) bool {
		asked = append(asked, to)
		return id == 9 && to == 2
	}))

	s.Apply(stateWith(9, StatusFinished, StatusFinished, StatusRunning))
	u := s.Apply(stateWith(9, StatusFinished, StatusRunning))
	assert.Empty(t, u.Regression)

	// skipping two levels is never a rollback
	s.Apply(stateWith(9, StatusFinished, StatusFinished, StatusFinished, StatusRunning))
	u = s.Apply(stateWith(9, StatusFinished, StatusRunning))
	assert.Equal(t, RegressionBackwards, u.Regression)

	assert.Equal(t, []int{2}, asked)
}

func TestStoreForwardMovesAreNotRegressions(t *testing.T) {
	s := NewStore(nil)
	s.Apply(stateWith(4, StatusRunning))
	assert.Empty(t, s.Apply(stateWith(4, StatusFinished, StatusRunning)).Regression)

	fin := stateWith(4, StatusFinished, StatusFinished)
	fin.FinalStatus = FinalFinalized
	assert.Empty(t, s.Apply(fin).Regression)
}

func TestStoreResetToIdleFlagged(t *testing.T) {
	s := NewStore(nil)
	s.Apply(stateWith(3, StatusFinished, StatusRunning))
	assert.Equal(t, RegressionReset, s.Apply(NewState(3)).Regression)
}

func TestStoreTrackedGaugeCountsNewIncidents(t *testing.T) {
	before := testutil.ToFloat64(metrics.IncidentsTracked)

	a := NewStore(nil)
	b := NewStore(nil)
	a.Apply(NewState(1))
	a.Apply(NewState(2))
	a.Apply(stateWith(2, StatusRunning))
	b.Apply(NewState(1))

	assert.Equal(t, before+3, testutil.ToFloat64(metrics.IncidentsTracked))
}

func TestStoreSnapshotOrdered(t *testing.T) {
	s := NewStore(nil)
	for _, id := range []int64{30, 10, 20} {
		s.Apply(NewState(id))
	}
	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{snap[0].ID, snap[1].ID, snap[2].ID})
}

func TestStoreRunAppliesInOrder(t *testing.T) {
	s := NewStore(nil, WithQueueSize(4))

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	s.OnApply(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.Current.Phase())
		if len(seen) == 3 {
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.NoError(t, s.Submit(ctx, stateWith(1, StatusRunning)))
	require.NoError(t, s.Submit(ctx, stateWith(1, StatusFinished, StatusRunning)))
	require.NoError(t, s.Submit(ctx, stateWith(1, StatusFinished, StatusFinished, StatusRunning)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called for all snapshots")
	}
	mu.Lock()
	assert.Equal(t, []string{"level 1", "level 2", "level 3"}, seen)
	mu.Unlock()
	assert.Equal(t, 3, s.RunningLevel(1))

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestStoreSingleWriter(t *testing.T) {
	s := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = s.Run(ctx)
	}()
	<-started
	require.Eventually(t, func() bool { return s.running.Load() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Run(ctx), ErrAlreadyRunning)
}

func TestStoreSubmitHonoursContext(t *testing.T) {
	s := NewStore(nil, WithQueueSize(1))
	require.NoError(t, s.Submit(context.Background(), NewState(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Submit(ctx, NewState(2)), context.DeadlineExceeded)
}

// Every event in a simulated sequence leaves at most one running level.
func TestStoreRunningLevelInvariant(t *testing.T) {
	s := NewStore(nil)
	seq := []State{
		stateWith(9, StatusRunning),
		stateWith(9, StatusFinished, StatusRunning),
		stateWith(9, StatusFinished, StatusFinished, StatusRunning),
		stateWith(9, StatusFinished, StatusRunning),
		stateWith(9, StatusFinished, StatusFinished, StatusFinished, StatusFinished, StatusRunning),
	}
	for _, st := range seq {
		s.Apply(st)
		got, _ := s.Get(9)
		require.NoError(t, got.Validate())
	}
}
