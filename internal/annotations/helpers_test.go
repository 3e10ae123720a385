package annotations

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:annotations_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}, &MarkupBlob{}, &DocumentLock{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// steppingClock advances one second per reading so updated_at stamps are
// strictly ordered in tests.
type steppingClock struct {
	mu  sync.Mutex
	now int64
}

func newSteppingClock(start int64) *steppingClock {
	return &steppingClock{now: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return time.Unix(c.now, 0).UTC()
}

func newTestStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      newSteppingClock(1750000000).Now,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func stickyContent(t *testing.T, text string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(StickyNoteContent{Text: text})
	if err != nil {
		t.Fatalf("failed to marshal content: %v", err)
	}
	return raw
}
