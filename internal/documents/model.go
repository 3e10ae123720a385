// Package documents manages the document catalog: uploaded files, the
// current assignee, and the per-document activity trail.
package documents

// Document models one catalog entry. AssignedTo holds the most recent
// assignee; reassignment overwrites it without history, the activity trail
// keeps the history.
type Document struct {
	ID               string `gorm:"column:document_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:320;not null"`
	FileName         string `gorm:"column:file_name;size:320;not null"`
	ContentType      string `gorm:"column:content_type;size:128;not null"`
	SizeBytes        int64  `gorm:"column:size_bytes;not null;default:0"`
	StorageKey       string `gorm:"column:storage_key;size:512;not null"`
	FileURL          string `gorm:"column:file_url;size:1024;not null"`
	UploadedBy       string `gorm:"column:uploaded_by;size:190;not null"`
	AssignedTo       string `gorm:"column:assigned_to;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// ActivityAction enumerates the recorded document events.
type ActivityAction string

const (
	// ActionUploaded records the initial upload.
	ActionUploaded ActivityAction = "uploaded"
	// ActionAssigned records an assignment change.
	ActionAssigned ActivityAction = "assigned"
	// ActionUnassigned records clearing the assignee.
	ActionUnassigned ActivityAction = "unassigned"
	// ActionAnnotationCreated records a new annotation on the document.
	ActionAnnotationCreated ActivityAction = "annotation_created"
	// ActionAnnotationUpdated records an annotation edit.
	ActionAnnotationUpdated ActivityAction = "annotation_updated"
	// ActionAnnotationDeleted records an annotation removal.
	ActionAnnotationDeleted ActivityAction = "annotation_deleted"
)

// ActivityEntry is one row of the append-only document activity trail.
type ActivityEntry struct {
	ID               string         `gorm:"column:activity_id;primaryKey;size:190;not null"`
	DocumentID       string         `gorm:"column:document_id;size:190;not null;index:idx_activity_doc_time,priority:1"`
	ActorID          string         `gorm:"column:actor_id;size:190;not null"`
	Action           ActivityAction `gorm:"column:action;size:32;not null"`
	Detail           string         `gorm:"column:detail;size:512"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;index:idx_activity_doc_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityEntry) TableName() string {
	return "document_activity"
}

// Models lists the tables this package owns, for migration wiring.
func Models() []interface{} {
	return []interface{}{&Document{}, &ActivityEntry{}}
}
