package services

import (
	"context"

	"github.com/reportcollab/collabd/internal/models"
)

/*
Interfaces are declared here, where they are used. The repository package
returns concrete types and never imports this package.
*/

// ReportRepository is what the services need from report storage.
type ReportRepository interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	SaveFields(ctx context.Context, report *models.Report) error
	SaveColumns(ctx context.Context, report *models.Report, columns ...string) error
}

// OperationRepository is what the journal needs from operation storage.
type OperationRepository interface {
	Create(ctx context.Context, op *models.Operation) error
	GetByID(ctx context.Context, id string) (*models.Operation, error)
	MarkApplied(ctx context.Context, id string) error
	MaxSequence(ctx context.Context) (int64, error)
	ListSince(ctx context.Context, documentID string, since int64, limit int) ([]models.Operation, error)
	ListPaged(ctx context.Context, documentID string, filter models.OperationFilter, page, pageSize int) ([]models.Operation, int64, error)
	ListByField(ctx context.Context, documentID, fieldPath string, limit int) ([]models.Operation, error)
	DistinctUsers(ctx context.Context, documentID string) ([]models.HistoryUser, error)
}

// VersionRepository is what the snapshotter needs from version storage.
type VersionRepository interface {
	Create(ctx context.Context, v *models.VersionSnapshot) error
	GetByID(ctx context.Context, id string) (*models.VersionSnapshot, error)
	Latest(ctx context.Context, documentID string) (*models.VersionSnapshot, error)
	List(ctx context.Context, documentID string, filter models.VersionFilter) ([]models.VersionSnapshot, int64, error)
}

// ChangeTracker is told about every accepted edit so the auto-versioner can
// snapshot the document on its next tick.
type ChangeTracker interface {
	MarkDirty(documentID, userID, displayName string)
}

// VersionCreator is the part of the snapshotter the auto-versioner drives.
type VersionCreator interface {
	CreateVersion(ctx context.Context, documentID string, userIDs, userNames []string, isAutoSave bool) (*models.VersionSnapshot, error)
}

// Notifier pushes server events to the connections of a document.
type Notifier interface {
	Notify(documentID, event string, payload any)
}
