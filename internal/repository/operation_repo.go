package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/reportcollab/collabd/internal/models"

	"gorm.io/gorm"
)

/*
Journal query patterns:
- ListSince: catch-up sync (applied operations after a sequence cursor)
- ListPaged: audit view, newest first, filterable
- ListByField: history of one field path
*/

// OperationRepositoryImpl handles edit operation storage
type OperationRepositoryImpl struct {
	db *gorm.DB
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *gorm.DB) *OperationRepositoryImpl {
	return &OperationRepositoryImpl{db: db}
}

// Create stores an operation
func (r *OperationRepositoryImpl) Create(ctx context.Context, op *models.Operation) error {
	if err := r.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("failed to store operation: %w", err)
	}
	return nil
}

// GetByID retrieves an operation by its KSUID
func (r *OperationRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Operation, error) {
	var op models.Operation

	err := r.db.WithContext(ctx).First(&op, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return &op, nil
}

// MarkApplied flips the applied flag once the edit is reflected in the report.
func (r *OperationRepositoryImpl) MarkApplied(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Operation{}).
		Where("id = ?", id).
		Update("applied", true)

	if result.Error != nil {
		return fmt.Errorf("failed to mark operation applied: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}

	return nil
}

// MaxSequence returns the highest sequence number ever assigned, or 0.
func (r *OperationRepositoryImpl) MaxSequence(ctx context.Context) (int64, error) {
	var max int64

	err := r.db.WithContext(ctx).
		Model(&models.Operation{}).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&max).Error

	if err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}

	return max, nil
}

// ListSince returns applied operations with sequence > since, oldest first.
func (r *OperationRepositoryImpl) ListSince(ctx context.Context, documentID string, since int64, limit int) ([]models.Operation, error) {
	var ops []models.Operation

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND applied = ? AND sequence_number > ?", documentID, true, since).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&ops).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	return ops, nil
}

// ListPaged returns one page of a document's journal, newest first, and the
// total number of matching rows.
func (r *OperationRepositoryImpl) ListPaged(ctx context.Context, documentID string, filter models.OperationFilter, page, pageSize int) ([]models.Operation, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Operation{}).
		Where("document_id = ?", documentID)

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.FieldPath != "" {
		query = query.Where("field_path LIKE ?", "%"+filter.FieldPath+"%")
	}
	if filter.DateFrom != nil {
		query = query.Where("occurred_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("occurred_at <= ?", *filter.DateTo)
	}
	// Count and Find each start from a copy of the filtered statement.
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count operations: %w", err)
	}

	var ops []models.Operation
	err := query.
		Order("sequence_number DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&ops).Error

	if err != nil {
		return nil, 0, fmt.Errorf("failed to list operations: %w", err)
	}

	return ops, total, nil
}

// ListByField returns the latest operations on exactly fieldPath.
func (r *OperationRepositoryImpl) ListByField(ctx context.Context, documentID, fieldPath string, limit int) ([]models.Operation, error) {
	var ops []models.Operation

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND field_path = ?", documentID, fieldPath).
		Order("sequence_number DESC").
		Limit(limit).
		Find(&ops).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list field history: %w", err)
	}

	return ops, nil
}

// DistinctUsers lists everyone who ever edited the document.
func (r *OperationRepositoryImpl) DistinctUsers(ctx context.Context, documentID string) ([]models.HistoryUser, error) {
	var users []models.HistoryUser

	err := r.db.WithContext(ctx).
		Model(&models.Operation{}).
		Select("user_id AS id, MAX(display_name) AS name").
		Where("document_id = ?", documentID).
		Group("user_id").
		Order("user_id ASC").
		Scan(&users).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list editors: %w", err)
	}

	return users, nil
}
