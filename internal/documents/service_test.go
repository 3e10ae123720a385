package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/inkwelldms/inkwell/internal/filestore"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:documents_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// steppingClock advances one second per reading so trail rows are strictly
// ordered in tests.
type steppingClock struct {
	mu  sync.Mutex
	now int64
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return time.Unix(c.now, 0).UTC()
}

type staticIDProvider struct {
	next int
}

func (p *staticIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	files, err := filestore.NewLocalStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("failed to construct file store: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   newTestDatabase(t),
		Files:      files,
		Clock:      (&steppingClock{now: 1750000000}).Now,
		IDProvider: &staticIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func uploadFixture(t *testing.T, service *Service) Document {
	t.Helper()
	document, err := service.Upload(context.Background(), UploadParams{
		Title:       "Q3 contract draft",
		FileName:    "contract.pdf",
		ContentType: "application/pdf",
		SizeBytes:   11,
		Reader:      strings.NewReader("%PDF-1.7 ok"),
		UploadedBy:  "user-admin",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return document
}

func TestUploadCreatesRowFileAndActivity(t *testing.T) {
	service := newTestService(t)
	document := uploadFixture(t, service)

	if document.ID == "" {
		t.Fatal("expected a generated document id")
	}
	if document.FileURL != "http://localhost:8080/files/"+document.StorageKey {
		t.Fatalf("unexpected file url %q", document.FileURL)
	}
	if document.SizeBytes != 11 {
		t.Fatalf("unexpected size %d", document.SizeBytes)
	}

	loaded, err := service.Get(context.Background(), document.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Title != "Q3 contract draft" {
		t.Fatalf("unexpected title %q", loaded.Title)
	}

	trail, err := service.Activity(context.Background(), document.ID)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != ActionUploaded {
		t.Fatalf("unexpected activity trail %+v", trail)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	service := newTestService(t)

	_, err := service.Upload(context.Background(), UploadParams{
		Title:      "notes",
		FileName:   "notes.txt",
		Reader:     strings.NewReader("plain text"),
		UploadedBy: "user-admin",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAssignKeepsOnlyLatestAssignee(t *testing.T) {
	service := newTestService(t)
	document := uploadFixture(t, service)

	first, err := service.Assign(context.Background(), document.ID, "user-dana", "user-admin")
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if first.AssignedTo != "user-dana" {
		t.Fatalf("unexpected assignee %q", first.AssignedTo)
	}

	second, err := service.Assign(context.Background(), document.ID, "user-lee", "user-admin")
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if second.AssignedTo != "user-lee" {
		t.Fatalf("expected reassignment to replace, got %q", second.AssignedTo)
	}

	loaded, err := service.Get(context.Background(), document.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.AssignedTo != "user-lee" {
		t.Fatalf("expected only the latest assignee to persist, got %q", loaded.AssignedTo)
	}

	trail, err := service.Activity(context.Background(), document.ID)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	// upload + two assignments, newest first.
	if len(trail) != 3 {
		t.Fatalf("expected 3 trail rows, got %d", len(trail))
	}
}

func TestAssignEmptyClearsAssignment(t *testing.T) {
	service := newTestService(t)
	document := uploadFixture(t, service)

	if _, err := service.Assign(context.Background(), document.ID, "user-dana", "user-admin"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	cleared, err := service.Assign(context.Background(), document.ID, "", "user-admin")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.AssignedTo != "" {
		t.Fatalf("expected empty assignee, got %q", cleared.AssignedTo)
	}

	trail, err := service.Activity(context.Background(), document.ID)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if trail[0].Action != ActionUnassigned {
		t.Fatalf("expected unassigned entry first, got %q", trail[0].Action)
	}
}

func TestCanAnnotateFollowsAssignment(t *testing.T) {
	service := newTestService(t)
	document := uploadFixture(t, service)

	if _, err := service.Assign(context.Background(), document.ID, "user-dana", "user-admin"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	cases := []struct {
		name    string
		userID  string
		isAdmin bool
		want    bool
	}{
		{name: "assignee may annotate", userID: "user-dana", want: true},
		{name: "stranger may not", userID: "user-lee", want: false},
		{name: "admin always may", userID: "user-lee", isAdmin: true, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := service.CanAnnotate(context.Background(), document.ID, tc.userID, tc.isAdmin)
			if err != nil {
				t.Fatalf("can annotate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestGetMissingDocument(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Get(context.Background(), "doc-never"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
