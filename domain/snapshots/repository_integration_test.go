package snapshots

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/emergent-company/entitygraph/internal/jobs"
	"github.com/emergent-company/entitygraph/internal/testutil"
)

type RepositorySuite struct {
	testutil.BaseSuite
	repo *Repository
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.SetDBSuffix("snapshots")
	s.BaseSuite.SetupSuite()
}

func (s *RepositorySuite) SetupTest() {
	s.BaseSuite.SetupTest()
	s.repo = NewRepository(s.DB(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *RepositorySuite) insert(status Status, createdAt time.Time, nodeIDs ...uuid.UUID) *Snapshot {
	snap := &Snapshot{
		TenantID:     s.TenantID,
		Name:         "snap",
		SnapshotType: TypeFull,
		Status:       status,
		IncludeNodes: true,
		IncludeEdges: true,
		NodeIDs:      nodeIDs,
		CreatedAt:    createdAt,
	}
	s.Require().NoError(s.repo.Insert(s.Ctx, snap))
	return snap
}

func (s *RepositorySuite) TestClaim() {
	now := time.Now().UTC()
	pending := s.insert(StatusPending, now)
	done := s.insert(StatusComplete, now)

	claimed, err := s.repo.Claim(s.Ctx, s.TenantID, pending.ID)
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Equal(StatusGenerating, claimed.Status)
	s.NotNil(claimed.StartedAt)

	again, err := s.repo.Claim(s.Ctx, s.TenantID, pending.ID)
	s.Require().NoError(err)
	s.NotNil(again)

	none, err := s.repo.Claim(s.Ctx, s.TenantID, done.ID)
	s.Require().NoError(err)
	s.Nil(none)

	other, err := s.repo.Claim(s.Ctx, uuid.New(), pending.ID)
	s.Require().NoError(err)
	s.Nil(other)
}

func (s *RepositorySuite) TestPreviousComplete() {
	base := time.Now().UTC().Add(-time.Hour)
	n1, n2 := uuid.New(), uuid.New()
	older := s.insert(StatusComplete, base, n1)
	newer := s.insert(StatusComplete, base.Add(time.Minute), n1, n2)
	s.insert(StatusFailed, base.Add(2*time.Minute))
	current := s.insert(StatusPending, base.Add(3*time.Minute))

	prev, err := s.repo.PreviousComplete(s.Ctx, s.TenantID, current.ID, current.CreatedAt)
	s.Require().NoError(err)
	s.Require().NotNil(prev)
	s.Equal(newer.ID, prev.ID)
	s.ElementsMatch([]uuid.UUID{n1, n2}, prev.NodeIDs)

	prev, err = s.repo.PreviousComplete(s.Ctx, s.TenantID, newer.ID, newer.CreatedAt)
	s.Require().NoError(err)
	s.Require().NotNil(prev)
	s.Equal(older.ID, prev.ID)

	prev, err = s.repo.PreviousComplete(s.Ctx, s.TenantID, older.ID, older.CreatedAt)
	s.Require().NoError(err)
	s.Nil(prev)
}

func (s *RepositorySuite) TestListOmitsPayload() {
	s.insert(StatusComplete, time.Now().UTC(), uuid.New())
	s.insert(StatusPending, time.Now().UTC())

	items, total, err := s.repo.List(s.Ctx, s.TenantID, ListParams{Limit: 10})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Len(items, 2)
	for _, it := range items {
		s.Empty(it.NodeIDs)
		s.Nil(it.Nodes)
	}
}

func (s *RepositorySuite) TestQueueRoundTrip() {
	snap := s.insert(StatusPending, time.Now().UTC())
	q := jobs.NewQueue(s.DB(), jobs.DefaultQueueConfig("kb.snapshot_jobs", "snapshot_id"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	created, err := q.Enqueue(s.Ctx, nil, s.TenantID, snap.ID)
	s.Require().NoError(err)
	s.True(created)

	dup, err := q.Enqueue(s.Ctx, nil, s.TenantID, snap.ID)
	s.Require().NoError(err)
	s.False(dup)

	claimed, err := q.Dequeue(s.Ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(snap.ID, claimed[0].EntityID)

	s.Require().NoError(q.MarkCompleted(s.Ctx, claimed[0].ID))
	stats, err := q.GetStats(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.Completed)
}
