package services

import (
	"context"
	"testing"
	"time"

	"github.com/reportcollab/collabd/internal/db/dbtest"
	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	reports  *repository.ReportRepositoryImpl
	ops      *repository.OperationRepositoryImpl
	versions *repository.VersionRepositoryImpl
	locks    *DocumentLocks
	journal  *Journal
	snaps    *Snapshotter
	tracker  *DirtyTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := dbtest.Open(t)
	env := &testEnv{
		db:       gdb,
		reports:  repository.NewReportRepository(gdb),
		ops:      repository.NewOperationRepository(gdb),
		versions: repository.NewVersionRepository(gdb),
		tracker:  NewDirtyTracker(),
		locks:    NewDocumentLocks(),
	}
	env.journal = NewJournal(env.ops, env.reports, NewJournalState(), env.locks, zerolog.Nop())
	env.journal.SetChangeTracker(env.tracker)
	require.NoError(t, env.journal.Init(context.Background()))
	env.snaps = NewSnapshotter(env.reports, env.versions, env.locks, zerolog.Nop())
	return env
}

func (e *testEnv) createReport(t *testing.T, r *models.Report) *models.Report {
	t.Helper()
	require.NoError(t, e.db.Create(r).Error)
	return r
}

func (e *testEnv) report(t *testing.T, id string) *models.Report {
	t.Helper()
	r, err := e.reports.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}
