package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
Operation journal

Every discrete field change is appended here with a process-wide sequence
number. Rows are immutable except for the Applied and ConflictResolved flags.
A rollback appends a compensating row instead of touching history.

  field-change → record (applied=false) → write report field → mark applied
  → broadcast field-updated
*/

type OpType string

const (
	OpTypeUpdate OpType = "update"
)

// Operation is one field-level change.
type Operation struct {
	ID               string    `json:"id" gorm:"type:varchar(27);primaryKey"`
	DocumentID       string    `json:"document_id" gorm:"type:varchar(64);not null;index:idx_op_doc_seq,priority:1;index:idx_op_doc_time,priority:1"`
	UserID           string    `json:"user_id" gorm:"type:varchar(128);not null;index"`
	DisplayName      string    `json:"display_name" gorm:"type:varchar(255)"`
	OpType           OpType    `json:"op_type" gorm:"type:varchar(32);not null;default:'update'"`
	FieldPath        string    `json:"field_path" gorm:"type:text;not null"`
	OldValue         any       `json:"old_value" gorm:"serializer:json;type:text"`
	NewValue         any       `json:"new_value" gorm:"serializer:json;type:text"`
	Timestamp        time.Time `json:"timestamp" gorm:"column:occurred_at;not null;index:idx_op_doc_time,priority:2"`
	SequenceNumber   int64     `json:"sequence_number" gorm:"not null;uniqueIndex;index:idx_op_doc_seq,priority:2"`
	Applied          bool      `json:"applied" gorm:"not null;default:false"`
	ConflictResolved bool      `json:"conflict_resolved" gorm:"not null;default:false"`
}

// BeforeCreate generates KSUID
func (o *Operation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = ksuid.New().String()
	}
	if o.OpType == "" {
		o.OpType = OpTypeUpdate
	}
	return nil
}

// TableName override
func (Operation) TableName() string {
	return "edit_operations"
}

// OperationFilter narrows the history view. Zero values mean "no filter".
type OperationFilter struct {
	UserID    string
	FieldPath string // substring match
	DateFrom  *time.Time
	DateTo    *time.Time
}

// HistoryUser is a distinct editor of a document.
type HistoryUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	PageCount int   `json:"pageCount"`
	Total     int64 `json:"total"`
}

// HistoryPage is the paged audit view of a document's journal.
type HistoryPage struct {
	Operations []Operation   `json:"operations"`
	Users      []HistoryUser `json:"users"`
	Pagination Pagination    `json:"pagination"`
}
