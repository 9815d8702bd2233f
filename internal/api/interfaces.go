package api

import (
	"context"
	"time"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/services"
)

/*
Consumer-driven interfaces: the handlers declare exactly the methods they
call, so tests can swap in small fakes and the service packages never
import this one.
*/

// ReportStore is the storage collaborator behind the report CRUD routes.
type ReportStore interface {
	Create(ctx context.Context, in *models.ReportCreate) (*models.Report, error)
	GetByID(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, limit, offset int) ([]*models.Report, error)
	Update(ctx context.Context, id string, update *models.ReportUpdate) (*models.Report, error)
	Delete(ctx context.Context, id string) error
}

// JournalService is the operation journal as used by the history routes.
type JournalService interface {
	Submit(ctx context.Context, in services.RecordInput) (*models.Operation, error)
	ListSince(ctx context.Context, documentID string, sinceSequence int64, limit int) ([]models.Operation, error)
	ListPaged(ctx context.Context, documentID string, q services.HistoryQuery) (*models.HistoryPage, error)
	FieldHistory(ctx context.Context, documentID, fieldPath string, limit int) ([]models.Operation, error)
	Rollback(ctx context.Context, operationID, userID, displayName string) (*services.RollbackResult, error)
	CurrentSequence() int64
}

// VersionService is the snapshotter as used by the version routes.
type VersionService interface {
	CreateVersion(ctx context.Context, documentID string, userIDs, userNames []string, isAutoSave bool) (*models.VersionSnapshot, error)
	GetVersion(ctx context.Context, versionID string) (*models.VersionSnapshot, error)
	ListVersions(ctx context.Context, documentID string, q services.VersionQuery) (*models.VersionPage, error)
	RestoreVersion(ctx context.Context, versionID, userID, displayName string) (*services.RestoreResult, error)
	DiffWithCurrent(ctx context.Context, reportID, versionID string) (*models.VersionDiff, error)
	CompareVersions(ctx context.Context, fromID, toID string) (*models.VersionDiff, error)
}

// PresenceService exposes the session registry.
type PresenceService interface {
	Editors(documentID string) []models.Editor
	SweepStale(maxAge time.Duration) int
}
