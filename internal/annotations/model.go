package annotations

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// Type enumerates the supported annotation kinds.
type Type string

const (
	// TypeStickyNote is a positioned note with free text.
	TypeStickyNote Type = "sticky_note"
	// TypeHighlight is a set of quads over page text with a color.
	TypeHighlight Type = "highlight"
	// TypeDrawing is a freehand ink path with a stroke color.
	TypeDrawing Type = "drawing"
)

// ParseType validates raw input and returns a Type.
func ParseType(rawInput string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(rawInput))) {
	case TypeStickyNote:
		return TypeStickyNote, nil
	case TypeHighlight:
		return TypeHighlight, nil
	case TypeDrawing:
		return TypeDrawing, nil
	default:
		return "", fmt.Errorf("%w: unknown annotation type %q", ErrValidation, rawInput)
	}
}

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("annotations: invalid document id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("annotations: invalid user id")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Record models one persisted annotation row. Sequence numbers are assigned
// by the store at creation, strictly increasing within a document, and never
// reassigned by the store itself.
type Record struct {
	ID               string         `gorm:"column:annotation_id;primaryKey;size:190;not null"`
	DocumentID       string         `gorm:"column:document_id;size:190;not null;index:idx_annotations_doc_page,priority:1;uniqueIndex:idx_annotations_doc_seq,priority:1"`
	UserID           string         `gorm:"column:user_id;size:190;not null"`
	UserName         string         `gorm:"column:user_name;size:320"`
	PageNumber       int            `gorm:"column:page_number;not null;index:idx_annotations_doc_page,priority:2"`
	Type             Type           `gorm:"column:annotation_type;size:32;not null"`
	Content          datatypes.JSON `gorm:"column:content;not null"`
	SequenceNumber   int64          `gorm:"column:sequence_number;not null;uniqueIndex:idx_annotations_doc_seq,priority:2"`
	PositionX        float64        `gorm:"column:position_x;not null;default:0"`
	PositionY        float64        `gorm:"column:position_y;not null;default:0"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "document_annotations"
}

// StickyNoteContent is the content payload for sticky notes.
type StickyNoteContent struct {
	Text string `json:"text"`
}

// Quad is one text-selection rectangle in page coordinates.
type Quad struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// HighlightContent is the content payload for highlights.
type HighlightContent struct {
	Quads []Quad `json:"quads"`
	Color string `json:"color"`
}

// DrawingContent is the content payload for freehand drawings.
type DrawingContent struct {
	Path        string `json:"path"`
	StrokeColor string `json:"strokeColor"`
}

// MarkupBlob holds the single serialized exchange payload per document,
// derived from the viewer's live object graph. It is a cache, not the
// source of truth; it may transiently lag the annotation rows.
type MarkupBlob struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	Payload          string `gorm:"column:payload;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MarkupBlob) TableName() string {
	return "document_markup_blobs"
}

// DocumentLock is the advisory single-editor claim on a document. An empty
// locked_by means free; a stale locked_at_s also counts as free.
type DocumentLock struct {
	DocumentID      string `gorm:"column:document_id;primaryKey;size:190;not null"`
	LockedBy        string `gorm:"column:locked_by;size:190;not null;default:''"`
	LockedAtSeconds int64  `gorm:"column:locked_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentLock) TableName() string {
	return "document_locks"
}
