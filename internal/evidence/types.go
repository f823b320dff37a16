// Package evidence attaches uploaded files to permits.
package evidence

import (
	"errors"
	"time"
)

// Phase is the stage of work an evidence batch documents.
type Phase string

const (
	PhaseWorking Phase = "working"
	PhaseClosure Phase = "closure"
)

// Category classifies one evidence file.
type Category string

const (
	CategoryPPE                Category = "ppe"
	CategoryBarricading        Category = "barricading"
	CategoryToolCondition      Category = "tool_condition"
	CategoryAreaOrganization   Category = "area_organization"
	CategoryActivityCompletion Category = "activity_completion"
	CategoryBefore             Category = "before"
	CategoryAfter              Category = "after"
	CategoryOther              Category = "other"
)

var categories = map[Phase][]Category{
	PhaseWorking: {CategoryPPE, CategoryBarricading, CategoryToolCondition, CategoryOther},
	PhaseClosure: {CategoryAreaOrganization, CategoryActivityCompletion, CategoryBefore, CategoryAfter, CategoryOther},
}

func (p Phase) Valid() bool {
	_, ok := categories[p]
	return ok
}

// Categories returns the categories accepted for p.
func (p Phase) Categories() []Category {
	return append([]Category(nil), categories[p]...)
}

// Allows reports whether c belongs to the category set of p.
func (p Phase) Allows(c Category) bool {
	for _, v := range categories[p] {
		if v == c {
			return true
		}
	}
	return false
}

var (
	ErrNoFiles           = errors.New("no files uploaded")
	ErrInvalidMetadata   = errors.New("invalid evidence metadata")
	ErrBatchSizeMismatch = errors.New("file and metadata counts differ")
	ErrMissingField      = errors.New("evidence metadata is missing required fields")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrUnsupportedMedia  = errors.New("unsupported file type")
	ErrNotFound          = errors.New("evidence not found")
	ErrDuplicatePath     = errors.New("evidence file path already recorded")
)

// Evidence is one committed evidence file.
type Evidence struct {
	ID          int64     `db:"id" json:"id"`
	PermitID    int64     `db:"permit_id" json:"permit_id"`
	FilePath    string    `db:"file_path" json:"file_path"`
	Phase       Phase     `db:"phase" json:"phase"`
	Category    Category  `db:"category" json:"category"`
	Description string    `db:"description" json:"description"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Latitude    *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude   *float64  `db:"longitude" json:"longitude,omitempty"`
	UploadedBy  *int64    `db:"uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Metadata is one entry of the evidences_data array.
type Metadata struct {
	Category    string   `json:"category" validate:"required"`
	Description string   `json:"description"`
	Timestamp   string   `json:"timestamp" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

// CategoryCount is one row of Stats.
type CategoryCount struct {
	Category Category `db:"category" json:"category"`
	Count    int      `db:"count" json:"count"`
}

// Stats summarizes the evidence of one permit.
type Stats struct {
	Total      int             `json:"total"`
	ByCategory []CategoryCount `json:"by_category"`
}

// PermitRef is the slice of a permit the coordinator needs.
type PermitRef struct {
	ID        int64  `db:"id"`
	CreatedBy int64  `db:"created_by"`
	Status    string `db:"status"`
	SWMSPath  string `db:"swms_path"`
}
