package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/domain/snapshots"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_AddAndListTasks(t *testing.T) {
	s := NewScheduler(testLogger())
	assert.Empty(t, s.ListTasks())
	assert.False(t, s.IsRunning())

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.AddIntervalTask("zeta", time.Minute, noop))
	require.NoError(t, s.AddCronTask("alpha", "0 0 2 * * *", noop))

	assert.Equal(t, []string{"alpha", "zeta"}, s.ListTasks())

	info := s.GetTaskInfo()
	require.Len(t, info, 2)
	assert.Equal(t, "alpha", info[0].Name)
	assert.Equal(t, "0 0 2 * * *", info[0].Schedule)
	assert.Equal(t, "@every 1m0s", info[1].Schedule)
	assert.Zero(t, info[0].Runs)
	assert.Empty(t, info[0].LastTook)
}

func TestScheduler_AddCronTaskInvalidSpec(t *testing.T) {
	s := NewScheduler(testLogger())
	err := s.AddCronTask("bad", "not a cron", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_ReplaceAndRemove(t *testing.T) {
	s := NewScheduler(testLogger())
	var calls []string
	require.NoError(t, s.AddIntervalTask("job", time.Hour, func(context.Context) error {
		calls = append(calls, "first")
		return nil
	}))
	require.NoError(t, s.AddIntervalTask("job", time.Hour, func(context.Context) error {
		calls = append(calls, "second")
		return nil
	}))
	assert.Len(t, s.ListTasks(), 1)

	assert.True(t, s.RunNow("job"))
	assert.Equal(t, []string{"second"}, calls)

	s.RemoveTask("job")
	assert.Empty(t, s.ListTasks())
	assert.False(t, s.RunNow("job"))
}

func TestScheduler_RunNowRecordsOutcome(t *testing.T) {
	s := NewScheduler(testLogger())
	fail := true
	require.NoError(t, s.AddIntervalTask("flaky", time.Hour, func(context.Context) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}))

	require.True(t, s.RunNow("flaky"))
	info := s.GetTaskInfo()[0]
	assert.Equal(t, int64(1), info.Runs)
	assert.Equal(t, int64(1), info.Failures)
	assert.Equal(t, "boom", info.LastError)
	assert.NotEmpty(t, info.LastTook)

	fail = false
	require.True(t, s.RunNow("flaky"))
	info = s.GetTaskInfo()[0]
	assert.Equal(t, int64(2), info.Runs)
	assert.Equal(t, int64(1), info.Failures)
	assert.Empty(t, info.LastError)
}

func TestScheduler_RunNowAppliesTimeout(t *testing.T) {
	s := NewScheduler(testLogger())
	s.timeout = 10 * time.Millisecond
	require.NoError(t, s.AddIntervalTask("slow", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	require.True(t, s.RunNow("slow"))
	assert.Contains(t, s.GetTaskInfo()[0].LastError, "deadline exceeded")
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(testLogger())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(stopCtx))
}

func TestParseTenants(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		raw     []string
		want    []uuid.UUID
		wantErr bool
	}{
		{name: "empty", raw: nil, want: []uuid.UUID{}},
		{name: "skips blanks", raw: []string{"", id.String()}, want: []uuid.UUID{id}},
		{name: "invalid", raw: []string{"tenant-a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTenants(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeCreator struct {
	mu    sync.Mutex
	calls []uuid.UUID
	ats   []time.Time
	fail  map[uuid.UUID]bool
}

func (f *fakeCreator) CreateScheduled(_ context.Context, tenantID uuid.UUID, at time.Time) (*snapshots.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenantID)
	f.ats = append(f.ats, at)
	if f.fail[tenantID] {
		return nil, errors.New("store unavailable")
	}
	return &snapshots.Snapshot{ID: uuid.New(), TenantID: tenantID}, nil
}

func TestSnapshotTask_Run(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	creator := &fakeCreator{fail: map[uuid.UUID]bool{b: true}}
	task := NewSnapshotTask(creator, []uuid.UUID{a, b, c}, testLogger())
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	task.now = func() time.Time { return at }

	err := task.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), b.String())
	assert.Equal(t, []uuid.UUID{a, b, c}, creator.calls)
	for _, got := range creator.ats {
		assert.Equal(t, at, got)
	}
}

func TestSnapshotTask_RunAllSucceed(t *testing.T) {
	creator := &fakeCreator{}
	task := NewSnapshotTask(creator, []uuid.UUID{uuid.New()}, testLogger())
	assert.NoError(t, task.Run(context.Background()))
	assert.Len(t, creator.calls, 1)
}

type fakeComputer struct {
	centrality   []uuid.UUID
	clusters     []uuid.UUID
	failClusters map[uuid.UUID]bool
}

func (f *fakeComputer) ComputeCentrality(_ context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*graph.CentralityResult, error) {
	f.centrality = append(f.centrality, tenantID)
	return &graph.CentralityResult{NodesScored: 3, MaxDegree: 2}, nil
}

func (f *fakeComputer) ComputeClusters(_ context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (*graph.ClusterResult, error) {
	f.clusters = append(f.clusters, tenantID)
	if f.failClusters[tenantID] {
		return nil, errors.New("cluster update failed")
	}
	return &graph.ClusterResult{ClusterCount: 1, NodesAssigned: 3, LargestSize: 3}, nil
}

func TestMetricsRecomputeTask_Run(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	computer := &fakeComputer{failClusters: map[uuid.UUID]bool{a: true}}
	task := NewMetricsRecomputeTask(computer, []uuid.UUID{a, b}, testLogger())

	err := task.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clusters")
	assert.Equal(t, []uuid.UUID{a, b}, computer.centrality)
	assert.Equal(t, []uuid.UUID{a, b}, computer.clusters)
}

type fakeRecoverer struct {
	minutes int
	n       int
	err     error
}

func (f *fakeRecoverer) RecoverStaleJobs(_ context.Context, minutes int) (int, error) {
	f.minutes = minutes
	return f.n, f.err
}

func TestStaleJobRecoveryTask_Run(t *testing.T) {
	t.Run("passes threshold", func(t *testing.T) {
		q := &fakeRecoverer{n: 2}
		require.NoError(t, NewStaleJobRecoveryTask(q, 30, testLogger()).Run(context.Background()))
		assert.Equal(t, 30, q.minutes)
	})

	t.Run("defaults threshold", func(t *testing.T) {
		q := &fakeRecoverer{}
		require.NoError(t, NewStaleJobRecoveryTask(q, 0, testLogger()).Run(context.Background()))
		assert.Equal(t, 15, q.minutes)
	})

	t.Run("propagates error", func(t *testing.T) {
		q := &fakeRecoverer{err: errors.New("db down")}
		assert.Error(t, NewStaleJobRecoveryTask(q, 5, testLogger()).Run(context.Background()))
	})
}
