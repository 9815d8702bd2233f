package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/reportcollab/collabd/internal/models"

	"gorm.io/gorm"
)

// ReportRepositoryImpl handles all database operations for reports using GORM.
// The services package declares the interface it needs.
type ReportRepositoryImpl struct {
	db *gorm.DB
}

// NewReportRepository creates a new report repository
// Returns concrete type - "Accept interfaces, return structs"
func NewReportRepository(db *gorm.DB) *ReportRepositoryImpl {
	return &ReportRepositoryImpl{db: db}
}

// Create inserts a new report. The KSUID is generated in the BeforeCreate hook.
func (r *ReportRepositoryImpl) Create(ctx context.Context, in *models.ReportCreate) (*models.Report, error) {
	report := &models.Report{
		UUID:          in.UUID,
		Title:         in.Title,
		DateFrom:      in.DateFrom,
		DateTo:        in.DateTo,
		ContentBlocks: in.ContentBlocks,
	}

	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	return report, nil
}

// GetByID retrieves a report. Soft-deleted reports are excluded.
func (r *ReportRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Report, error) {
	var report models.Report

	err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return &report, nil
}

// List returns reports newest first.
func (r *ReportRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.Report, error) {
	var reports []*models.Report

	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&reports).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	return reports, nil
}

// Update applies the non-nil fields of update.
func (r *ReportRepositoryImpl) Update(ctx context.Context, id string, update *models.ReportUpdate) (*models.Report, error) {
	report, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if update.Title != nil {
		report.Title = *update.Title
		columns = append(columns, models.FieldTitle)
	}
	if update.DateFrom != nil {
		report.DateFrom = *update.DateFrom
		columns = append(columns, models.FieldDateFrom)
	}
	if update.DateTo != nil {
		report.DateTo = *update.DateTo
		columns = append(columns, models.FieldDateTo)
	}
	if update.ContentBlocks != nil {
		report.ContentBlocks = update.ContentBlocks
		columns = append(columns, models.FieldContentBlocks)
	}
	if len(columns) == 0 {
		return report, nil
	}

	if err := r.SaveColumns(ctx, report, columns...); err != nil {
		return nil, err
	}

	return report, nil
}

// SaveFields writes the versioned fields of report, including zero values.
func (r *ReportRepositoryImpl) SaveFields(ctx context.Context, report *models.Report) error {
	return r.SaveColumns(ctx, report, models.FieldTitle, models.FieldDateFrom, models.FieldDateTo, models.FieldContentBlocks)
}

// SaveColumns writes only the named columns of report. Columns left out keep
// whatever is stored, even if report was read before they changed.
func (r *ReportRepositoryImpl) SaveColumns(ctx context.Context, report *models.Report, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(report).
		Select(columns).
		Updates(report)

	if result.Error != nil {
		return fmt.Errorf("failed to save report fields: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("report %s: %w", report.ID, ErrNotFound)
	}

	return nil
}

// Delete performs a soft delete on the report
func (r *ReportRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Report{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete report: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("report %s: %w", id, ErrNotFound)
	}

	return nil
}
