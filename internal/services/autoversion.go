package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

/*
Auto-versioning

Edits mark their document dirty together with the contributing user. A ticker
drains the dirty set and hands each document to a small worker pool that
creates the snapshot, so snapshot cost is bounded by the tick and not by the
edit rate. Documents that were not touched since the last tick are skipped.
*/

// ErrShuttingDown is returned when work is submitted after Shutdown.
var ErrShuttingDown = errors.New("auto-versioner is shutting down")

const versionJobTimeout = 30 * time.Second

type contributor struct {
	id   string
	name string
}

// DirtyDocument is a document with edits since its last snapshot.
type DirtyDocument struct {
	DocumentID string
	UserIDs    []string
	UserNames  []string
}

// DirtyTracker records which documents changed and who changed them.
type DirtyTracker struct {
	mu   sync.Mutex
	docs map[string][]contributor
}

func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{docs: make(map[string][]contributor)}
}

// MarkDirty flags documentID and adds the user to its contributors.
func (t *DirtyTracker) MarkDirty(documentID, userID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.docs[documentID]
	if users == nil {
		users = []contributor{}
	}
	if userID != "" {
		i := slices.IndexFunc(users, func(c contributor) bool { return c.id == userID })
		if i < 0 {
			users = append(users, contributor{id: userID, name: displayName})
		} else if displayName != "" {
			users[i].name = displayName
		}
	}
	t.docs[documentID] = users
}

// IsDirty reports whether documentID has pending changes.
func (t *DirtyTracker) IsDirty(documentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.docs[documentID]
	return ok
}

// TakeAll returns every dirty document and clears the tracker.
func (t *DirtyTracker) TakeAll() []DirtyDocument {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DirtyDocument, 0, len(t.docs))
	for id, users := range t.docs {
		d := DirtyDocument{DocumentID: id}
		for _, u := range users {
			d.UserIDs = append(d.UserIDs, u.id)
			d.UserNames = append(d.UserNames, u.name)
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b DirtyDocument) int {
		switch {
		case a.DocumentID < b.DocumentID:
			return -1
		case a.DocumentID > b.DocumentID:
			return 1
		}
		return 0
	})
	t.docs = make(map[string][]contributor)
	return out
}

// restore puts a document back after a failed snapshot.
func (t *DirtyTracker) restore(d DirtyDocument) {
	if len(d.UserIDs) == 0 {
		t.MarkDirty(d.DocumentID, "", "")
		return
	}
	for i, id := range d.UserIDs {
		t.MarkDirty(d.DocumentID, id, d.UserNames[i])
	}
}

// AutoVersioner snapshots dirty documents on a fixed interval using a worker
// pool.
type AutoVersioner struct {
	tracker  *DirtyTracker
	creator  VersionCreator
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger

	// Worker pool components
	jobs    chan DirtyDocument
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	started  bool
	stop     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

// NewAutoVersioner creates the pool but does not start it.
func NewAutoVersioner(
	tracker *DirtyTracker,
	creator VersionCreator,
	notifier Notifier,
	interval time.Duration,
	numWorkers int,
	queueSize int,
	logger zerolog.Logger,
) *AutoVersioner {
	ctx, cancel := context.WithCancel(context.Background())
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	return &AutoVersioner{
		tracker:  tracker,
		creator:  creator,
		notifier: notifier,
		interval: interval,
		logger:   logger.With().Str("component", "autoversion").Logger(),
		jobs:     make(chan DirtyDocument, queueSize),
		workers:  numWorkers,
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start spawns the workers and the ticker loop.
func (a *AutoVersioner) Start() {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
	go a.loop()

	a.logger.Info().Int("workers", a.workers).Dur("interval", a.interval).Msg("auto-versioner started")
}

func (a *AutoVersioner) loop() {
	defer close(a.loopDone)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// worker processes jobs until the queue is closed.
func (a *AutoVersioner) worker(id int) {
	defer a.wg.Done()

	for job := range a.jobs {
		a.process(id, job)
	}
}

func (a *AutoVersioner) process(workerID int, job DirtyDocument) {
	ctx, cancel := context.WithTimeout(context.Background(), versionJobTimeout)
	defer cancel()

	version, err := a.creator.CreateVersion(ctx, job.DocumentID, job.UserIDs, job.UserNames, true)
	if err != nil {
		a.logger.Error().Err(err).Int("worker", workerID).Str("document_id", job.DocumentID).Msg("auto-version failed, will retry next tick")
		a.tracker.restore(job)
		return
	}
	if version == nil {
		return
	}

	if a.notifier != nil {
		a.notifier.Notify(job.DocumentID, models.EventVersionCreated, models.VersionCreatedPayload{
			VersionID:        version.ID,
			VersionNumber:    version.VersionNumber,
			ContributorNames: job.UserNames,
			IsAutoSave:       true,
		})
	}
}

// Tick hands every dirty document to the pool. Clean documents are never
// snapshotted.
func (a *AutoVersioner) Tick() {
	for _, doc := range a.tracker.TakeAll() {
		if err := a.submit(doc); err != nil {
			a.tracker.restore(doc)
			a.logger.Warn().Err(err).Str("document_id", doc.DocumentID).Msg("auto-version not queued")
		}
	}
}

func (a *AutoVersioner) submit(job DirtyDocument) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrShuttingDown
	}

	select {
	case a.jobs <- job:
		return nil
	case <-a.ctx.Done():
		return ErrShuttingDown
	}
}

// Shutdown stops the ticker, flushes pending documents and waits for the
// workers to finish.
func (a *AutoVersioner) Shutdown() {
	a.stopOnce.Do(func() {
		a.mu.RLock()
		started := a.started
		a.mu.RUnlock()

		if started {
			close(a.stop)
			<-a.loopDone
			a.Tick()
		}

		a.mu.Lock()
		a.closed = true
		close(a.jobs)
		a.mu.Unlock()

		a.wg.Wait()
		a.cancel()
		a.logger.Info().Msg("auto-versioner stopped")
	})
}
