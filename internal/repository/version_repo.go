package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/reportcollab/collabd/internal/models"

	"gorm.io/gorm"
)

// VersionRepositoryImpl stores report snapshots.
type VersionRepositoryImpl struct {
	db *gorm.DB
}

func NewVersionRepository(db *gorm.DB) *VersionRepositoryImpl {
	return &VersionRepositoryImpl{db: db}
}

func (r *VersionRepositoryImpl) Create(ctx context.Context, v *models.VersionSnapshot) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("failed to store version: %w", err)
	}
	return nil
}

func (r *VersionRepositoryImpl) GetByID(ctx context.Context, id string) (*models.VersionSnapshot, error) {
	var v models.VersionSnapshot

	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return &v, nil
}

// Latest returns the highest-numbered version of a document, or nil when the
// document has none yet.
func (r *VersionRepositoryImpl) Latest(ctx context.Context, documentID string) (*models.VersionSnapshot, error) {
	var v models.VersionSnapshot

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version_number DESC").
		First(&v).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No versions yet
		}
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}

	return &v, nil
}

// List returns versions newest first plus the total matching count.
func (r *VersionRepositoryImpl) List(ctx context.Context, documentID string, filter models.VersionFilter) ([]models.VersionSnapshot, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.VersionSnapshot{}).
		Where("document_id = ?", documentID)

	if filter.DateFrom != nil {
		query = query.Where("taken_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("taken_at <= ?", *filter.DateTo)
	}
	// Count and Find each start from a copy of the filtered statement.
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count versions: %w", err)
	}

	var versions []models.VersionSnapshot
	err := query.
		Order("version_number DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&versions).Error

	if err != nil {
		return nil, 0, fmt.Errorf("failed to list versions: %w", err)
	}

	return versions, total, nil
}
