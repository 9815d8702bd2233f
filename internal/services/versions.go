package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/repository"

	"github.com/rs/zerolog"
)

const (
	defaultVersionLimit = 10
	maxVersionLimit     = 200

	autoSaveSuffix      = " (auto)"
	beforeRestoreSuffix = " (before restore)"
)

// VersionQuery selects a page of a document's versions.
type VersionQuery struct {
	Limit    int
	Offset   int
	All      bool
	DateFrom *time.Time
	DateTo   *time.Time
}

// RestoreResult is returned by RestoreVersion.
type RestoreResult struct {
	DocumentID      string                  `json:"reportId"`
	RestoredVersion int                     `json:"restoredVersion"`
	Backup          *models.VersionSnapshot `json:"backup,omitempty"`
}

// Snapshotter captures, lists, diffs and restores whole-report versions.
type Snapshotter struct {
	reports  ReportRepository
	versions VersionRepository
	locks    *DocumentLocks
	logger   zerolog.Logger
	now      func() time.Time
}

// NewSnapshotter shares locks with the journal so restores and field writes
// never interleave on one report.
func NewSnapshotter(reports ReportRepository, versions VersionRepository, locks *DocumentLocks, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		reports:  reports,
		versions: versions,
		logger:   logger.With().Str("component", "snapshotter").Logger(),
		locks:    locks,
		now:      time.Now,
	}
}

// CreateVersion snapshots the current report. It returns nil without error
// when the report no longer exists.
func (s *Snapshotter) CreateVersion(ctx context.Context, documentID string, userIDs, userNames []string, isAutoSave bool) (*models.VersionSnapshot, error) {
	suffix := ""
	if isAutoSave {
		suffix = autoSaveSuffix
	}
	return s.createVersion(ctx, documentID, userIDs, userNames, isAutoSave, suffix)
}

// version numbers are allocated under the document lock
func (s *Snapshotter) createVersion(ctx context.Context, documentID string, userIDs, userNames []string, isAutoSave bool, labelSuffix string) (*models.VersionSnapshot, error) {
	unlock := s.locks.Lock(documentID)
	defer unlock()
	return s.createVersionLocked(ctx, documentID, userIDs, userNames, isAutoSave, labelSuffix)
}

func (s *Snapshotter) createVersionLocked(ctx context.Context, documentID string, userIDs, userNames []string, isAutoSave bool, labelSuffix string) (*models.VersionSnapshot, error) {
	report, err := s.reports.GetByID(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("document_id", documentID).Msg("report not found, version skipped")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	latest, err := s.versions.Latest(ctx, documentID)
	if err != nil {
		return nil, err
	}

	number := 1
	var prev *models.ReportSnapshot
	if latest != nil {
		number = latest.VersionNumber + 1
		prev = &latest.Snapshot
	}

	snapshot := report.Snapshot()
	version := &models.VersionSnapshot{
		DocumentID:       documentID,
		VersionNumber:    number,
		Label:            fmt.Sprintf("Version %d%s", number, labelSuffix),
		Snapshot:         snapshot,
		ContributorIDs:   append([]string{}, userIDs...),
		ContributorNames: append([]string{}, userNames...),
		TakenAt:          s.now().UTC(),
		ChangeSummary:    ChangeSummary(prev, snapshot),
		IsAutoSave:       isAutoSave,
	}

	if err := s.versions.Create(ctx, version); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("document_id", documentID).
		Int("version_number", number).
		Bool("auto", isAutoSave).
		Strs("contributors", userNames).
		Msg("version created")

	return version, nil
}

// GetVersion returns one version or repository.ErrNotFound.
func (s *Snapshotter) GetVersion(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	return s.versions.GetByID(ctx, versionID)
}

// ListVersions returns versions newest first. Limit defaults to 10 and is
// capped at 200; All asks for the cap.
func (s *Snapshotter) ListVersions(ctx context.Context, documentID string, q VersionQuery) (*models.VersionPage, error) {
	limit := q.Limit
	switch {
	case q.All:
		limit = maxVersionLimit
	case limit <= 0:
		limit = defaultVersionLimit
	case limit > maxVersionLimit:
		limit = maxVersionLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	versions, total, err := s.versions.List(ctx, documentID, models.VersionFilter{
		Limit:    limit,
		Offset:   offset,
		DateFrom: q.DateFrom,
		DateTo:   q.DateTo,
	})
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []models.VersionSnapshot{}
	}

	return &models.VersionPage{
		Versions: versions,
		Total:    total,
		HasMore:  total > int64(offset+len(versions)),
	}, nil
}

// RestoreVersion snapshots the current state as a backup, then overwrites the
// report's versioned fields with the chosen version. The CRDT replica is not
// reset.
func (s *Snapshotter) RestoreVersion(ctx context.Context, versionID, userID, displayName string) (*RestoreResult, error) {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.reports.GetByID(ctx, version.DocumentID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(version.DocumentID)
	defer unlock()

	backup, err := s.createVersionLocked(ctx, version.DocumentID, []string{userID}, []string{displayName}, false, beforeRestoreSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to back up before restore: %w", err)
	}

	report, err := s.reports.GetByID(ctx, version.DocumentID)
	if err != nil {
		return nil, err
	}
	report.Title = version.Snapshot.Title
	report.DateFrom = version.Snapshot.DateFrom
	report.DateTo = version.Snapshot.DateTo
	report.ContentBlocks = models.CloneBlocks(version.Snapshot.ContentBlocks)

	if err := s.reports.SaveFields(ctx, report); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("document_id", version.DocumentID).
		Int("version_number", version.VersionNumber).
		Str("user_id", userID).
		Msg("version restored")

	return &RestoreResult{
		DocumentID:      version.DocumentID,
		RestoredVersion: version.VersionNumber,
		Backup:          backup,
	}, nil
}

// DiffWithCurrent compares a version of reportID with the live report.
func (s *Snapshotter) DiffWithCurrent(ctx context.Context, reportID, versionID string) (*models.VersionDiff, error) {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.DocumentID != reportID {
		return nil, fmt.Errorf("version %s of report %s: %w", versionID, reportID, repository.ErrNotFound)
	}
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	return &models.VersionDiff{
		From: version,
		Diff: DiffSnapshots(version.Snapshot, report.Snapshot()),
	}, nil
}

// CompareVersions diffs two stored versions.
func (s *Snapshotter) CompareVersions(ctx context.Context, fromID, toID string) (*models.VersionDiff, error) {
	from, err := s.versions.GetByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.versions.GetByID(ctx, toID)
	if err != nil {
		return nil, err
	}

	return &models.VersionDiff{
		From: from,
		To:   to,
		Diff: DiffSnapshots(from.Snapshot, to.Snapshot),
	}, nil
}
