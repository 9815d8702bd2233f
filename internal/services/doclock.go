package services

import (
	"context"
	"sync"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/repository"
)

/*
Writes to a stored report come from three places: the journal applying one
field path, the snapshotter restoring a version, and plain HTTP updates. Each
of them reads the row, changes part of it in memory and saves it back. They
all take the same per-document lock from DocumentLocks so one writer cannot
save over a change another writer made after the first one read the row.

Locks are never removed. A mutex per report ever written is small, and
dropping one while a goroutine waits on it would split writers across two
mutexes.
*/

// DocumentLocks hands out one mutex per document.
type DocumentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDocumentLocks() *DocumentLocks {
	return &DocumentLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until documentID is free and returns the unlock func.
func (d *DocumentLocks) Lock(documentID string) func() {
	d.mu.Lock()
	l, ok := d.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[documentID] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// LockedReportStore is the report repository with updates taken under the
// document lock shared with the journal and the snapshotter.
type LockedReportStore struct {
	*repository.ReportRepositoryImpl
	locks *DocumentLocks
}

func NewLockedReportStore(repo *repository.ReportRepositoryImpl, locks *DocumentLocks) *LockedReportStore {
	return &LockedReportStore{ReportRepositoryImpl: repo, locks: locks}
}

func (s *LockedReportStore) Update(ctx context.Context, id string, update *models.ReportUpdate) (*models.Report, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.ReportRepositoryImpl.Update(ctx, id, update)
}
