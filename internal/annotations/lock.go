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

// LockExpiry is the age after which a held lock counts as free and may be
// taken over by another editor.
const LockExpiry = 3 * time.Minute

const (
	opLockNew     = "annotations.lock.new"
	opLockAcquire = "annotations.lock.acquire"
	opLockRelease = "annotations.lock.release"
)

// LockStatus reports the outcome of an acquisition attempt. When Granted is
// false, Holder and SinceSeconds describe the current owner so the caller can
// render "locked by X since Y" without a second round trip.
type LockStatus struct {
	Granted      bool
	Holder       string
	SinceSeconds int64
}

// LockGateConfig describes the dependencies of the advisory lock gate.
type LockGateConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Expiry   time.Duration
	Logger   *zap.Logger
}

// LockGate grants per-document advisory locks with expiry-based takeover.
type LockGate struct {
	db     *gorm.DB
	clock  func() time.Time
	expiry time.Duration
	logger *zap.Logger
}

// NewLockGate constructs the lock gate.
func NewLockGate(cfg LockGateConfig) (*LockGate, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLockNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = LockExpiry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &LockGate{db: cfg.Database, clock: clock, expiry: expiry, logger: logger}, nil
}

// Acquire grants the lock when it is free, already owned by the requester, or
// stale past the expiry window. The grant is a single conditional UPDATE, not
// a read-then-write pair, so two racing editors cannot both win.
func (g *LockGate) Acquire(ctx context.Context, documentID DocumentID, userID UserID) (LockStatus, error) {
	if documentID == "" || userID == "" {
		return LockStatus{}, newServiceError(opLockAcquire, reasonInvalidRequest,
			fmt.Errorf("%w: document id and user id required", ErrValidation))
	}

	seed := DocumentLock{DocumentID: documentID.String()}
	if err := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		g.logError(opLockAcquire, "seed_failed", err, documentID)
		return LockStatus{}, newServiceError(opLockAcquire, "seed_failed", err)
	}

	nowSeconds := g.clock().UTC().Unix()
	staleBefore := nowSeconds - int64(g.expiry.Seconds())
	grant := g.db.WithContext(ctx).Model(&DocumentLock{}).
		Where("document_id = ? AND (locked_by = '' OR locked_by = ? OR locked_at_s <= ?)",
			documentID.String(), userID.String(), staleBefore).
		Updates(map[string]interface{}{
			"locked_by":   userID.String(),
			"locked_at_s": nowSeconds,
		})
	if grant.Error != nil {
		g.logError(opLockAcquire, "grant_failed", grant.Error, documentID)
		return LockStatus{}, newServiceError(opLockAcquire, "grant_failed", grant.Error)
	}
	if grant.RowsAffected > 0 {
		return LockStatus{Granted: true, Holder: userID.String(), SinceSeconds: nowSeconds}, nil
	}

	var current DocumentLock
	if err := g.db.WithContext(ctx).Where("document_id = ?", documentID.String()).Take(&current).Error; err != nil {
		g.logError(opLockAcquire, reasonLookupFailed, err, documentID)
		return LockStatus{}, newServiceError(opLockAcquire, reasonLookupFailed, err)
	}
	return LockStatus{Granted: false, Holder: current.LockedBy, SinceSeconds: current.LockedAtSeconds}, nil
}

// Release frees the lock. An admin may always release; a non-admin may only
// release their own claim.
func (g *LockGate) Release(ctx context.Context, documentID DocumentID, userID UserID, isAdmin bool) error {
	if documentID == "" || userID == "" {
		return newServiceError(opLockRelease, reasonInvalidRequest,
			fmt.Errorf("%w: document id and user id required", ErrValidation))
	}

	var current DocumentLock
	err := g.db.WithContext(ctx).Where("document_id = ?", documentID.String()).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		g.logError(opLockRelease, reasonLookupFailed, err, documentID)
		return newServiceError(opLockRelease, reasonLookupFailed, err)
	}
	if current.LockedBy == "" {
		return nil
	}
	if !isAdmin && current.LockedBy != userID.String() {
		return newServiceError(opLockRelease, reasonForbidden, ErrForbidden)
	}

	if err := g.db.WithContext(ctx).Model(&DocumentLock{}).
		Where("document_id = ?", documentID.String()).
		Updates(map[string]interface{}{"locked_by": "", "locked_at_s": 0}).Error; err != nil {
		g.logError(opLockRelease, "clear_failed", err, documentID)
		return newServiceError(opLockRelease, "clear_failed", err)
	}
	return nil
}

func (g *LockGate) logError(operation, reason string, err error, documentID DocumentID) {
	g.logger.Error("document lock error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("document_id", documentID.String()),
		zap.Error(err))
}
