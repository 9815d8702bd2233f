package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/rs/zerolog"
)

/*
OPERATION JOURNAL

Every field edit becomes an Operation row before it touches the report:

  1. Record assigns the next sequence number and stores the row with
     applied=false
  2. Apply writes the new value at the field path and flips applied=true
  3. Rollback looks up an earlier operation and submits a new one that puts
     its old value back, so history only ever grows

Sequence numbers come from one process-wide counter seeded from the highest
stored number at startup. Clients resume with "everything after N".

Field paths are dotted ("title", "content_blocks.2.meta.note"). Only the top
level column the path starts in is saved, under the document lock, so two
edits to different columns never overwrite each other.
*/

const (
	defaultHistoryPageSize  = 50
	maxHistoryPageSize      = 200
	defaultFieldHistorySize = 20
	defaultSyncLimit        = 100
)

// JournalState owns the process-wide operation sequence counter. It is seeded
// from the highest persisted sequence so numbers keep increasing across
// restarts.
type JournalState struct {
	mu  sync.Mutex
	seq int64
}

func NewJournalState() *JournalState {
	return &JournalState{}
}

// Init seeds the counter. It never moves the counter backwards.
func (s *JournalState) Init(ctx context.Context, ops OperationRepository) error {
	max, err := ops.MaxSequence(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > s.seq {
		s.seq = max
	}
	return nil
}

// Next assigns a new sequence number.
func (s *JournalState) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Current is the last sequence number handed out.
func (s *JournalState) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// RecordInput describes one field change.
type RecordInput struct {
	DocumentID  string
	UserID      string
	DisplayName string
	FieldPath   string
	OldValue    any
	NewValue    any
}

func (in RecordInput) validate() error {
	switch {
	case in.DocumentID == "":
		return errors.New("document id is required")
	case in.UserID == "":
		return errors.New("user id is required")
	case in.FieldPath == "":
		return errors.New("field path is required")
	}
	return nil
}

// HistoryQuery selects a page of the audit view.
type HistoryQuery struct {
	Page     int
	PageSize int
	Filter   models.OperationFilter
}

// RollbackResult reports what a rollback restored. Applied is false when the
// field path could not be written and nothing changed.
type RollbackResult struct {
	DocumentID    string            `json:"reportId"`
	FieldPath     string            `json:"fieldPath"`
	RestoredValue any               `json:"restoredValue"`
	Applied       bool              `json:"applied"`
	Operation     *models.Operation `json:"operation,omitempty"`
}

// Journal records field-level operations and rolls them back.
type Journal struct {
	ops     OperationRepository
	reports ReportRepository
	state   *JournalState
	locks   *DocumentLocks
	tracker ChangeTracker
	logger  zerolog.Logger
	now     func() time.Time
}

// NewJournal creates the journal service.
// Returns concrete type - "Accept interfaces, return structs"
func NewJournal(ops OperationRepository, reports ReportRepository, state *JournalState, locks *DocumentLocks, logger zerolog.Logger) *Journal {
	return &Journal{
		ops:     ops,
		reports: reports,
		state:   state,
		locks:   locks,
		logger:  logger.With().Str("component", "journal").Logger(),
		now:     time.Now,
	}
}

// SetChangeTracker registers the dirty tracker fed by every recorded operation.
func (j *Journal) SetChangeTracker(t ChangeTracker) {
	j.tracker = t
}

// Init seeds the sequence counter from storage.
func (j *Journal) Init(ctx context.Context) error {
	if err := j.state.Init(ctx, j.ops); err != nil {
		return fmt.Errorf("failed to seed operation sequence: %w", err)
	}
	j.logger.Info().Int64("sequence", j.state.Current()).Msg("operation journal ready")
	return nil
}

// CurrentSequence is the last sequence number assigned.
func (j *Journal) CurrentSequence() int64 {
	return j.state.Current()
}

// Record stores a new operation with applied=false.
func (j *Journal) Record(ctx context.Context, in RecordInput) (*models.Operation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	op := &models.Operation{
		DocumentID:     in.DocumentID,
		UserID:         in.UserID,
		DisplayName:    in.DisplayName,
		OpType:         models.OpTypeUpdate,
		FieldPath:      in.FieldPath,
		OldValue:       in.OldValue,
		NewValue:       in.NewValue,
		Timestamp:      j.now().UTC(),
		SequenceNumber: j.state.Next(),
	}

	if err := j.ops.Create(ctx, op); err != nil {
		return nil, err
	}

	if j.tracker != nil {
		j.tracker.MarkDirty(in.DocumentID, in.UserID, in.DisplayName)
	}

	j.logger.Debug().
		Str("document_id", op.DocumentID).
		Str("operation_id", op.ID).
		Int64("sequence", op.SequenceNumber).
		Str("field", op.FieldPath).
		Msg("operation recorded")

	return op, nil
}

// Apply writes the operation's new value into the report and marks it applied.
func (j *Journal) Apply(ctx context.Context, op *models.Operation) error {
	if err := j.writeField(ctx, op.DocumentID, op.FieldPath, op.NewValue); err != nil {
		return err
	}
	if err := j.ops.MarkApplied(ctx, op.ID); err != nil {
		return err
	}
	op.Applied = true
	return nil
}

// Submit records an operation and applies it. When applying fails the
// operation is kept with applied=false and the error is returned.
func (j *Journal) Submit(ctx context.Context, in RecordInput) (*models.Operation, error) {
	op, err := j.Record(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := j.Apply(ctx, op); err != nil {
		j.logger.Warn().Err(err).
			Str("document_id", op.DocumentID).
			Str("operation_id", op.ID).
			Msg("operation recorded but not applied")
		return op, err
	}
	return op, nil
}

// ListSince returns applied operations after sinceSequence, oldest first.
func (j *Journal) ListSince(ctx context.Context, documentID string, sinceSequence int64, limit int) ([]models.Operation, error) {
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	return j.ops.ListSince(ctx, documentID, sinceSequence, limit)
}

// ListPaged returns the audit view of a document's journal, newest first.
func (j *Journal) ListPaged(ctx context.Context, documentID string, q HistoryQuery) (*models.HistoryPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = defaultHistoryPageSize
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}

	ops, total, err := j.ops.ListPaged(ctx, documentID, q.Filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	users, err := j.ops.DistinctUsers(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	if users == nil {
		users = []models.HistoryUser{}
	}

	return &models.HistoryPage{
		Operations: ops,
		Users:      users,
		Pagination: models.Pagination{
			Page:      page,
			PageSize:  pageSize,
			PageCount: int(math.Ceil(float64(total) / float64(pageSize))),
			Total:     total,
		},
	}, nil
}

// FieldHistory returns the latest operations on exactly fieldPath.
func (j *Journal) FieldHistory(ctx context.Context, documentID, fieldPath string, limit int) ([]models.Operation, error) {
	if limit <= 0 {
		limit = defaultFieldHistorySize
	}
	return j.ops.ListByField(ctx, documentID, fieldPath, limit)
}

// Rollback writes the target operation's old value back into the report and
// appends a compensating operation. History is never rewritten.
func (j *Journal) Rollback(ctx context.Context, operationID, userID, displayName string) (*RollbackResult, error) {
	target, err := j.ops.GetByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	report, err := j.reports.GetByID(ctx, target.DocumentID)
	if err != nil {
		return nil, err
	}

	result := &RollbackResult{
		DocumentID:    target.DocumentID,
		FieldPath:     target.FieldPath,
		RestoredValue: target.OldValue,
	}

	current := target.NewValue
	if fields, err := report.Fields(); err == nil {
		if v, ok := ReadField(fields, target.FieldPath); ok {
			current = v
		}
	}

	if err := j.writeField(ctx, target.DocumentID, target.FieldPath, target.OldValue); err != nil {
		if errors.Is(err, ErrPathConflict) {
			j.logger.Warn().Err(err).
				Str("operation_id", operationID).
				Str("field", target.FieldPath).
				Msg("rollback skipped")
			return result, nil
		}
		return nil, err
	}

	op, err := j.Record(ctx, RecordInput{
		DocumentID:  target.DocumentID,
		UserID:      userID,
		DisplayName: displayName,
		FieldPath:   target.FieldPath,
		OldValue:    current,
		NewValue:    target.OldValue,
	})
	if err != nil {
		return nil, err
	}
	if err := j.ops.MarkApplied(ctx, op.ID); err != nil {
		return nil, err
	}
	op.Applied = true

	result.Applied = true
	result.Operation = op

	j.logger.Info().
		Str("document_id", target.DocumentID).
		Str("operation_id", operationID).
		Int64("sequence", op.SequenceNumber).
		Str("user_id", userID).
		Msg("operation rolled back")

	return result, nil
}

func (j *Journal) writeField(ctx context.Context, documentID, fieldPath string, value any) error {
	if !isVersionedField(fieldPath) {
		return fmt.Errorf("%w: unknown field %q", ErrPathConflict, fieldPath)
	}

	unlock := j.locks.Lock(documentID)
	defer unlock()

	report, err := j.reports.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	fields, err := report.Fields()
	if err != nil {
		return err
	}
	if err := WriteField(fields, fieldPath, value); err != nil {
		return err
	}
	if err := report.ApplyFields(fields); err != nil {
		return fmt.Errorf("%w: %v", ErrPathConflict, err)
	}
	root, _, _ := strings.Cut(fieldPath, ".")
	return j.reports.SaveColumns(ctx, report, root)
}

func isVersionedField(fieldPath string) bool {
	root, _, _ := strings.Cut(fieldPath, ".")
	switch root {
	case models.FieldTitle, models.FieldDateFrom, models.FieldDateTo, models.FieldContentBlocks:
		return true
	}
	return false
}
