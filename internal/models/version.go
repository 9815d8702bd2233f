package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// VersionSnapshot is a full copy of a report's versioned fields.
// It is never mutated after creation.
type VersionSnapshot struct {
	ID               string         `json:"id" gorm:"type:varchar(27);primaryKey"`
	DocumentID       string         `json:"document_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_version_doc_number,priority:1"`
	VersionNumber    int            `json:"version_number" gorm:"not null;uniqueIndex:idx_version_doc_number,priority:2"`
	Label            string         `json:"label" gorm:"type:varchar(255)"`
	Snapshot         ReportSnapshot `json:"snapshot_data" gorm:"column:snapshot_data;serializer:json;type:text"`
	ContributorIDs   pq.StringArray `json:"contributor_ids" gorm:"type:text"`
	ContributorNames pq.StringArray `json:"contributor_names" gorm:"type:text"`
	TakenAt          time.Time      `json:"taken_at" gorm:"not null;index"`
	ChangeSummary    string         `json:"change_summary" gorm:"type:text"`
	IsAutoSave       bool           `json:"is_auto_save" gorm:"not null;default:false"`
}

// BeforeCreate generates KSUID
func (v *VersionSnapshot) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (VersionSnapshot) TableName() string {
	return "report_versions"
}

// VersionFilter narrows a version listing.
type VersionFilter struct {
	Limit    int
	Offset   int
	DateFrom *time.Time
	DateTo   *time.Time
}

type VersionPage struct {
	Versions []VersionSnapshot `json:"versions"`
	Total    int64             `json:"total"`
	HasMore  bool              `json:"hasMore"`
}

// TextSpan is one run of a word-level diff.
type TextSpan struct {
	Value   string `json:"value"`
	Added   bool   `json:"added,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

type ValueChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// FieldChange is a block field difference: word spans when both sides are
// strings, otherwise the old and new values.
type FieldChange struct {
	Spans []TextSpan `json:"spans,omitempty"`
	Old   any        `json:"old,omitempty"`
	New   any        `json:"new,omitempty"`
}

type BlockChangeType string

const (
	BlockAdded    BlockChangeType = "added"
	BlockRemoved  BlockChangeType = "removed"
	BlockModified BlockChangeType = "modified"
)

// BlockChange describes the difference at one position of the block list.
type BlockChange struct {
	Type      BlockChangeType        `json:"type"`
	Index     int                    `json:"index"`
	Component string                 `json:"component,omitempty"`
	Block     Block                  `json:"block,omitempty"`
	Changes   map[string]FieldChange `json:"changes,omitempty"`
}

// ReportDiff is the structured difference between two snapshots. Nil members
// are unchanged.
type ReportDiff struct {
	Title         []TextSpan    `json:"title"`
	DateFrom      *ValueChange  `json:"date_from"`
	DateTo        *ValueChange  `json:"date_to"`
	ContentBlocks []BlockChange `json:"content_blocks"`
}

// VersionDiff is returned by the diff endpoints.
type VersionDiff struct {
	From *VersionSnapshot `json:"from,omitempty"`
	To   *VersionSnapshot `json:"to,omitempty"`
	Diff ReportDiff       `json:"diff"`
}
