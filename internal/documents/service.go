package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/inkwelldms/inkwell/internal/filestore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrValidation marks rejected input.
	ErrValidation = errors.New("documents: validation failed")
	// ErrNotFound marks a missing document.
	ErrNotFound = errors.New("documents: not found")
)

var noOpLogger = zap.NewNop()

// IDProvider yields identifiers for new documents and activity rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the document catalog.
type ServiceConfig struct {
	Database   *gorm.DB
	Files      filestore.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the document catalog and its activity trail.
type Service struct {
	db         *gorm.DB
	files      filestore.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the document service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("documents: database connection required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("documents: file store required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("documents: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		files:      cfg.Files,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// UploadParams describes a new document upload.
type UploadParams struct {
	Title       string
	FileName    string
	ContentType string
	SizeBytes   int64
	Reader      io.Reader
	UploadedBy  string
}

func (p UploadParams) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title required", ErrValidation)
	}
	if strings.TrimSpace(p.FileName) == "" {
		return fmt.Errorf("%w: file name required", ErrValidation)
	}
	if strings.TrimSpace(p.UploadedBy) == "" {
		return fmt.Errorf("%w: uploader required", ErrValidation)
	}
	if p.Reader == nil {
		return fmt.Errorf("%w: file body required", ErrValidation)
	}
	if !strings.EqualFold(path.Ext(p.FileName), ".pdf") {
		return fmt.Errorf("%w: only pdf files are accepted", ErrValidation)
	}
	return nil
}

// Upload stores the file and creates the catalog row plus an activity entry.
func (s *Service) Upload(ctx context.Context, params UploadParams) (Document, error) {
	if err := params.validate(); err != nil {
		return Document{}, err
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, fmt.Errorf("documents: generate id: %w", err)
	}

	contentType := params.ContentType
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/pdf"
	}

	storageKey := documentID + "/" + path.Base(params.FileName)
	saved, err := s.files.Save(ctx, storageKey, params.Reader, params.SizeBytes, contentType)
	if err != nil {
		s.logger.Error("document file save failed",
			zap.String("document_id", documentID),
			zap.Error(err))
		return Document{}, fmt.Errorf("documents: store file: %w", err)
	}

	nowSeconds := s.clock().UTC().Unix()
	document := Document{
		ID:               documentID,
		Title:            strings.TrimSpace(params.Title),
		FileName:         path.Base(params.FileName),
		ContentType:      contentType,
		SizeBytes:        saved.SizeBytes,
		StorageKey:       saved.Key,
		FileURL:          saved.URL,
		UploadedBy:       params.UploadedBy,
		CreatedAtSeconds: nowSeconds,
		UpdatedAtSeconds: nowSeconds,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		if removeErr := s.files.Remove(ctx, saved.Key); removeErr != nil {
			s.logger.Warn("orphaned file cleanup failed",
				zap.String("storage_key", saved.Key),
				zap.Error(removeErr))
		}
		return Document{}, fmt.Errorf("documents: create row: %w", err)
	}

	s.recordActivity(ctx, documentID, params.UploadedBy, ActionUploaded, document.FileName)
	return document, nil
}

// Get returns one catalog entry.
func (s *Service) Get(ctx context.Context, documentID string) (Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return Document{}, fmt.Errorf("%w: document id required", ErrValidation)
	}
	var document Document
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("documents: load row: %w", err)
	}
	return document, nil
}

// List returns the catalog newest first.
func (s *Service) List(ctx context.Context) ([]Document, error) {
	var rows []Document
	if err := s.db.WithContext(ctx).Order("created_at_s DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("documents: list rows: %w", err)
	}
	return rows, nil
}

// Assign sets the document's assignee. The column holds only the latest
// assignment; assigning over an existing assignee silently replaces it. An
// empty assignee clears the assignment.
func (s *Service) Assign(ctx context.Context, documentID, assigneeID, actorID string) (Document, error) {
	document, err := s.Get(ctx, documentID)
	if err != nil {
		return Document{}, err
	}

	assignee := strings.TrimSpace(assigneeID)
	nowSeconds := s.clock().UTC().Unix()
	updates := map[string]interface{}{
		"assigned_to":  assignee,
		"updated_at_s": nowSeconds,
	}
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("document_id = ?", documentID).
		Updates(updates).Error; err != nil {
		return Document{}, fmt.Errorf("documents: update assignee: %w", err)
	}

	action := ActionAssigned
	detail := assignee
	if assignee == "" {
		action = ActionUnassigned
		detail = document.AssignedTo
	}
	s.recordActivity(ctx, documentID, actorID, action, detail)

	document.AssignedTo = assignee
	document.UpdatedAtSeconds = nowSeconds
	return document, nil
}

// CanAnnotate reports whether the user may edit markup on the document:
// the current assignee and admins may, everyone else reads only.
func (s *Service) CanAnnotate(ctx context.Context, documentID, userID string, isAdmin bool) (bool, error) {
	if isAdmin {
		return true, nil
	}
	document, err := s.Get(ctx, documentID)
	if err != nil {
		return false, err
	}
	return document.AssignedTo != "" && document.AssignedTo == userID, nil
}

// Activity returns the document's trail newest first.
func (s *Service) Activity(ctx context.Context, documentID string) ([]ActivityEntry, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id required", ErrValidation)
	}
	var entries []ActivityEntry
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at_s DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("documents: list activity: %w", err)
	}
	return entries, nil
}

// RecordAction appends an externally observed event to the document's trail.
// Annotation mutations land here so the trail covers the whole document
// lifecycle, not just catalog changes.
func (s *Service) RecordAction(ctx context.Context, documentID, actorID string, action ActivityAction, detail string) {
	s.recordActivity(ctx, documentID, actorID, action, detail)
}

// recordActivity appends a trail row; the trail is advisory and its failures
// never fail the primary operation.
func (s *Service) recordActivity(ctx context.Context, documentID, actorID string, action ActivityAction, detail string) {
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Warn("activity id generation failed", zap.Error(err))
		return
	}
	entry := ActivityEntry{
		ID:               entryID,
		DocumentID:       documentID,
		ActorID:          actorID,
		Action:           action,
		Detail:           detail,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Warn("activity append failed",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}
