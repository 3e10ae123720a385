package annotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opBlobNew = "annotations.blob.new"
	opBlobGet = "annotations.blob.get"
	opBlobPut = "annotations.blob.put"
)

// BlobStoreConfig describes the dependencies of the markup blob store.
type BlobStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// BlobStore persists one serialized markup payload per document with
// unconditional last-write-wins overwrite semantics.
type BlobStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewBlobStore constructs the markup blob store.
func NewBlobStore(cfg BlobStoreConfig) (*BlobStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opBlobNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &BlobStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get returns the stored payload for the document; ok is false when no blob
// has ever been persisted.
func (s *BlobStore) Get(ctx context.Context, documentID DocumentID) (string, bool, error) {
	if documentID == "" {
		return "", false, newServiceError(opBlobGet, reasonInvalidRequest, fmt.Errorf("%w: document id required", ErrValidation))
	}

	var blob MarkupBlob
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID.String()).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("markup blob load failed",
			zap.String("operation", opBlobGet),
			zap.String("document_id", documentID.String()),
			zap.Error(err))
		return "", false, newServiceError(opBlobGet, reasonQueryFailed, err)
	}
	return blob.Payload, true, nil
}

// Put upserts the document's payload, overwriting unconditionally. There is
// no version check; the last writer wins.
func (s *BlobStore) Put(ctx context.Context, documentID DocumentID, payload string) error {
	if documentID == "" {
		return newServiceError(opBlobPut, reasonInvalidRequest, fmt.Errorf("%w: document id required", ErrValidation))
	}

	blob := MarkupBlob{
		DocumentID:       documentID.String(),
		Payload:          payload,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at_s"}),
	}).Create(&blob).Error
	if err != nil {
		s.logger.Error("markup blob upsert failed",
			zap.String("operation", opBlobPut),
			zap.String("document_id", documentID.String()),
			zap.Error(err))
		return newServiceError(opBlobPut, "upsert_failed", err)
	}
	return nil
}
