package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Versioned field names. Field paths in operations start with one of these.
const (
	FieldTitle         = "title"
	FieldDateFrom      = "date_from"
	FieldDateTo        = "date_to"
	FieldContentBlocks = "content_blocks"
)

// Block is one entry of a report's content block list. The "__component" key
// names the block type and "id" is its stable identifier; every other key is a
// block field.
type Block map[string]any

// Component returns the block type, or "" when the block has none.
func (b Block) Component() string {
	s, _ := b["__component"].(string)
	return s
}

// Report is the structured document edited collaboratively. Its ID is the
// document id used by the replica store and the operation journal.
type Report struct {
	ID            string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	UUID          string         `json:"uuid" gorm:"type:varchar(64)"`
	Title         string         `json:"title" gorm:"type:text;not null;default:''"`
	DateFrom      string         `json:"date_from" gorm:"type:varchar(32)"`
	DateTo        string         `json:"date_to" gorm:"type:varchar(32)"`
	ContentBlocks []Block        `json:"content_blocks" gorm:"serializer:json;type:text"`
	CreatedAt     time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"` // Soft delete support
}

// BeforeCreate hook generates KSUID before inserting
func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}

// Snapshot copies the versioned fields.
func (r *Report) Snapshot() ReportSnapshot {
	return ReportSnapshot{
		Title:         r.Title,
		DateFrom:      r.DateFrom,
		DateTo:        r.DateTo,
		ContentBlocks: CloneBlocks(r.ContentBlocks),
		UUID:          r.UUID,
	}
}

// ReplicatedFields returns the scalar text fields seeded into the CRDT
// replica. Empty fields are left out.
func (r *Report) ReplicatedFields() map[string]string {
	fields := make(map[string]string, 3)
	for name, value := range map[string]string{
		FieldTitle:    r.Title,
		FieldDateFrom: r.DateFrom,
		FieldDateTo:   r.DateTo,
	} {
		if value != "" {
			fields[name] = value
		}
	}
	return fields
}

// Fields exposes the versioned fields as a generic JSON tree so field paths
// such as "content_blocks.0.title" can be resolved against it.
func (r *Report) Fields() (map[string]any, error) {
	blocks, err := toTree(r.ContentBlocks)
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []any{}
	}
	return map[string]any{
		FieldTitle:         r.Title,
		FieldDateFrom:      r.DateFrom,
		FieldDateTo:        r.DateTo,
		FieldContentBlocks: blocks,
	}, nil
}

// ApplyFields writes a tree produced by Fields (and possibly modified) back
// onto the report.
func (r *Report) ApplyFields(fields map[string]any) error {
	r.Title = scalarString(fields[FieldTitle])
	r.DateFrom = scalarString(fields[FieldDateFrom])
	r.DateTo = scalarString(fields[FieldDateTo])

	raw, err := json.Marshal(fields[FieldContentBlocks])
	if err != nil {
		return fmt.Errorf("failed to encode content blocks: %w", err)
	}
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return fmt.Errorf("content blocks must be a list of objects: %w", err)
	}
	r.ContentBlocks = blocks
	return nil
}

// ReportSnapshot is the full copy of the versioned fields stored with a version.
type ReportSnapshot struct {
	Title         string  `json:"title"`
	DateFrom      string  `json:"date_from"`
	DateTo        string  `json:"date_to"`
	ContentBlocks []Block `json:"content_blocks"`
	UUID          string  `json:"uuid,omitempty"`
}

type ReportCreate struct {
	UUID          string  `json:"uuid"`
	Title         string  `json:"title"`
	DateFrom      string  `json:"date_from"`
	DateTo        string  `json:"date_to"`
	ContentBlocks []Block `json:"content_blocks"`
}

type ReportUpdate struct {
	Title         *string `json:"title,omitempty"`
	DateFrom      *string `json:"date_from,omitempty"`
	DateTo        *string `json:"date_to,omitempty"`
	ContentBlocks []Block `json:"content_blocks,omitempty"`
}

// CloneBlocks deep-copies a block list through JSON so the copy shares no
// nested maps with the original.
func CloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil
	}
	var out []Block
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func toTree(blocks []Block) ([]any, error) {
	if blocks == nil {
		return nil, nil
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content blocks: %w", err)
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode content blocks: %w", err)
	}
	return out, nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(raw)
	}
}
