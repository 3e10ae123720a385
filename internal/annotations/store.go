package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew = "annotations.store.new"
	opCreate   = "annotations.create"
	opGet      = "annotations.get"
	opList     = "annotations.list"
	opUpdate   = "annotations.update"
	opDelete   = "annotations.delete"

	reasonMissingDatabase = "missing_database"
	reasonInvalidRequest  = "invalid_request"
	reasonInsertFailed    = "insert_failed"
	reasonReloadFailed    = "reload_failed"
	reasonQueryFailed     = "query_failed"
	reasonLookupFailed    = "lookup_failed"
	reasonSaveFailed      = "save_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonNotFound        = "not_found"
	reasonForbidden       = "forbidden"
)

// Single INSERT so the computed next sequence and the row land atomically;
// two concurrent creates can never observe the same MAX.
const insertWithSequenceSQL = `INSERT INTO document_annotations
 (annotation_id, document_id, user_id, user_name, page_number, annotation_type, content,
  sequence_number, position_x, position_y, created_at_s, updated_at_s)
 VALUES (?, ?, ?, ?, ?, ?, ?,
  (SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM document_annotations WHERE document_id = ?),
  ?, ?, ?, ?)`

// StoreConfig describes the dependencies of the annotation record store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists per-annotation rows and assigns per-document sequence numbers.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the annotation record store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateParams describes a create request.
type CreateParams struct {
	DocumentID DocumentID
	UserID     UserID
	UserName   string
	PageNumber int
	Type       Type
	Content    json.RawMessage
	PositionX  float64
	PositionY  float64
}

func (p CreateParams) validate() error {
	if p.DocumentID == "" {
		return fmt.Errorf("%w: document id required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrValidation)
	}
	if p.PageNumber < 1 {
		return fmt.Errorf("%w: page number must be >= 1", ErrValidation)
	}
	if _, err := ParseType(string(p.Type)); err != nil {
		return err
	}
	if len(p.Content) == 0 {
		return fmt.Errorf("%w: content required", ErrValidation)
	}
	if p.PositionX < 0 || p.PositionX > 100 || p.PositionY < 0 || p.PositionY > 100 {
		return fmt.Errorf("%w: position out of range", ErrValidation)
	}
	return nil
}

// Create inserts a new annotation row with a store-assigned id and the next
// sequence number for the document.
func (s *Store) Create(ctx context.Context, params CreateParams) (Record, error) {
	if err := params.validate(); err != nil {
		return Record{}, newServiceError(opCreate, reasonInvalidRequest, err)
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("document_id", params.DocumentID.String()))
		return Record{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	nowSeconds := s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Exec(insertWithSequenceSQL,
		recordID,
		params.DocumentID.String(),
		params.UserID.String(),
		params.UserName,
		params.PageNumber,
		string(params.Type),
		string(params.Content),
		params.DocumentID.String(),
		params.PositionX,
		params.PositionY,
		nowSeconds,
		nowSeconds,
	).Error; err != nil {
		s.logError(opCreate, reasonInsertFailed, err, zap.String("document_id", params.DocumentID.String()))
		return Record{}, newServiceError(opCreate, reasonInsertFailed, err)
	}

	var created Record
	if err := s.db.WithContext(ctx).Where("annotation_id = ?", recordID).Take(&created).Error; err != nil {
		s.logError(opCreate, reasonReloadFailed, err, zap.String("annotation_id", recordID))
		return Record{}, newServiceError(opCreate, reasonReloadFailed, err)
	}
	return created, nil
}

// Get returns one annotation row by id.
func (s *Store) Get(ctx context.Context, annotationID string) (Record, error) {
	if annotationID == "" {
		return Record{}, newServiceError(opGet, reasonInvalidRequest, fmt.Errorf("%w: annotation id required", ErrValidation))
	}
	var record Record
	err := s.db.WithContext(ctx).Where("annotation_id = ?", annotationID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(opGet, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, reasonLookupFailed, err, zap.String("annotation_id", annotationID))
		return Record{}, newServiceError(opGet, reasonLookupFailed, err)
	}
	return record, nil
}

// FindByDocument returns the document's annotations ascending by sequence
// number, optionally filtered to a single page.
func (s *Store) FindByDocument(ctx context.Context, documentID DocumentID, pageNumber *int) ([]Record, error) {
	if documentID == "" {
		return nil, newServiceError(opList, reasonInvalidRequest, fmt.Errorf("%w: document id required", ErrValidation))
	}

	query := s.db.WithContext(ctx).Where("document_id = ?", documentID.String())
	if pageNumber != nil {
		query = query.Where("page_number = ?", *pageNumber)
	}

	var records []Record
	if err := query.Order("sequence_number ASC").Find(&records).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String("document_id", documentID.String()))
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}
	return records, nil
}

// UpdatePatch carries the fields an update may change. Nil fields are left
// untouched; an all-nil patch is a no-op.
type UpdatePatch struct {
	Content        json.RawMessage
	Type           *Type
	PageNumber     *int
	PositionX      *float64
	PositionY      *float64
	SequenceNumber *int64
}

func (p UpdatePatch) isEmpty() bool {
	return len(p.Content) == 0 &&
		p.Type == nil &&
		p.PageNumber == nil &&
		p.PositionX == nil &&
		p.PositionY == nil &&
		p.SequenceNumber == nil
}

// Update applies the patch to an annotation owned by the requester and stamps
// updated_at. A no-op patch returns the current record unchanged.
func (s *Store) Update(ctx context.Context, annotationID string, requester UserID, patch UpdatePatch) (Record, error) {
	record, err := s.loadOwned(ctx, opUpdate, annotationID, requester)
	if err != nil {
		return Record{}, err
	}
	if patch.isEmpty() {
		return record, nil
	}

	if len(patch.Content) > 0 {
		record.Content = datatypes.JSON(patch.Content)
	}
	if patch.Type != nil {
		parsed, parseErr := ParseType(string(*patch.Type))
		if parseErr != nil {
			return Record{}, newServiceError(opUpdate, reasonInvalidRequest, parseErr)
		}
		record.Type = parsed
	}
	if patch.PageNumber != nil {
		if *patch.PageNumber < 1 {
			return Record{}, newServiceError(opUpdate, reasonInvalidRequest, fmt.Errorf("%w: page number must be >= 1", ErrValidation))
		}
		record.PageNumber = *patch.PageNumber
	}
	if patch.PositionX != nil {
		record.PositionX = *patch.PositionX
	}
	if patch.PositionY != nil {
		record.PositionY = *patch.PositionY
	}
	if patch.SequenceNumber != nil {
		record.SequenceNumber = *patch.SequenceNumber
	}
	record.UpdatedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opUpdate, reasonSaveFailed, err, zap.String("annotation_id", annotationID))
		return Record{}, newServiceError(opUpdate, reasonSaveFailed, err)
	}
	return record, nil
}

// Delete removes an annotation owned by the requester.
func (s *Store) Delete(ctx context.Context, annotationID string, requester UserID) error {
	record, err := s.loadOwned(ctx, opDelete, annotationID, requester)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Record{}, "annotation_id = ?", record.ID).Error; err != nil {
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("annotation_id", annotationID))
		return newServiceError(opDelete, reasonDeleteFailed, err)
	}
	return nil
}

func (s *Store) loadOwned(ctx context.Context, operation, annotationID string, requester UserID) (Record, error) {
	if annotationID == "" {
		return Record{}, newServiceError(operation, reasonInvalidRequest, fmt.Errorf("%w: annotation id required", ErrValidation))
	}
	if requester == "" {
		return Record{}, newServiceError(operation, reasonInvalidRequest, fmt.Errorf("%w: requester required", ErrValidation))
	}

	var record Record
	err := s.db.WithContext(ctx).Where("annotation_id = ?", annotationID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(operation, reasonLookupFailed, err, zap.String("annotation_id", annotationID))
		return Record{}, newServiceError(operation, reasonLookupFailed, err)
	}
	if record.UserID != requester.String() {
		return Record{}, newServiceError(operation, reasonForbidden, ErrForbidden)
	}
	return record, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("annotation store error", attrs...)
}
