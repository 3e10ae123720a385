package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func TestCreateAndListRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	documentID := mustDocumentID(t, "doc-1")
	author := mustUserID(t, "user-a")

	created, err := store.Create(context.Background(), CreateParams{
		DocumentID: documentID,
		UserID:     author,
		UserName:   "Alice",
		PageNumber: 2,
		Type:       TypeStickyNote,
		Content:    stickyContent(t, "hello"),
		PositionX:  10,
		PositionY:  20,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.SequenceNumber != 1 {
		t.Fatalf("expected sequence 1, got %d", created.SequenceNumber)
	}
	if created.ID == "" {
		t.Fatalf("expected store-assigned id")
	}

	listed, err := store.FindByDocument(context.Background(), documentID, nil)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one record, got %d", len(listed))
	}

	var content StickyNoteContent
	if err := json.Unmarshal(listed[0].Content, &content); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if content.Text != "hello" {
		t.Fatalf("unexpected content %q", content.Text)
	}

	updated, err := store.Update(context.Background(), created.ID, author, UpdatePatch{
		Content: stickyContent(t, "bye"),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.SequenceNumber != created.SequenceNumber {
		t.Fatalf("sequence must survive updates, got %d", updated.SequenceNumber)
	}
	if updated.UpdatedAtSeconds <= created.UpdatedAtSeconds {
		t.Fatalf("expected newer updated_at, got %d <= %d", updated.UpdatedAtSeconds, created.UpdatedAtSeconds)
	}

	listed, err = store.FindByDocument(context.Background(), documentID, nil)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if err := json.Unmarshal(listed[0].Content, &content); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if content.Text != "bye" {
		t.Fatalf("expected updated content, got %q", content.Text)
	}
}

func TestCreateAssignsDistinctSequencesUnderConcurrency(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	documentID := mustDocumentID(t, "doc-concurrent")
	author := mustUserID(t, "user-a")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = store.Create(context.Background(), CreateParams{
				DocumentID: documentID,
				UserID:     author,
				PageNumber: 1,
				Type:       TypeHighlight,
				Content:    json.RawMessage(`{"quads":[{"x1":0,"y1":0,"x2":1,"y2":1}],"color":"#ffff00"}`),
			})
		}(i)
	}
	wg.Wait()
	for slot, err := range errs {
		if err != nil {
			t.Fatalf("writer %d failed: %v", slot, err)
		}
	}

	records, err := store.FindByDocument(context.Background(), documentID, nil)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != writers {
		t.Fatalf("expected %d records, got %d", writers, len(records))
	}
	seen := make(map[int64]bool, writers)
	for index, record := range records {
		if seen[record.SequenceNumber] {
			t.Fatalf("duplicate sequence number %d", record.SequenceNumber)
		}
		seen[record.SequenceNumber] = true
		if record.SequenceNumber != int64(index)+1 {
			t.Fatalf("expected contiguous sequences, got %d at position %d", record.SequenceNumber, index)
		}
	}
}

func TestSequencesSkipGapsAfterDelete(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	documentID := mustDocumentID(t, "doc-gaps")
	author := mustUserID(t, "user-a")

	first, err := store.Create(context.Background(), CreateParams{
		DocumentID: documentID, UserID: author, PageNumber: 1,
		Type: TypeStickyNote, Content: stickyContent(t, "one"),
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := store.Create(context.Background(), CreateParams{
		DocumentID: documentID, UserID: author, PageNumber: 1,
		Type: TypeStickyNote, Content: stickyContent(t, "two"),
	}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := store.Delete(context.Background(), first.ID, author); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	third, err := store.Create(context.Background(), CreateParams{
		DocumentID: documentID, UserID: author, PageNumber: 1,
		Type: TypeStickyNote, Content: stickyContent(t, "three"),
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if third.SequenceNumber != 3 {
		t.Fatalf("expected sequence to keep increasing past deletes, got %d", third.SequenceNumber)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)

	testCases := []struct {
		name   string
		params CreateParams
	}{
		{
			name: "missing-document",
			params: CreateParams{
				UserID: "user-a", PageNumber: 1, Type: TypeStickyNote,
				Content: json.RawMessage(`{"text":"x"}`),
			},
		},
		{
			name: "bad-page",
			params: CreateParams{
				DocumentID: "doc-1", UserID: "user-a", PageNumber: 0,
				Type: TypeStickyNote, Content: json.RawMessage(`{"text":"x"}`),
			},
		},
		{
			name: "bad-type",
			params: CreateParams{
				DocumentID: "doc-1", UserID: "user-a", PageNumber: 1,
				Type: Type("scribble"), Content: json.RawMessage(`{}`),
			},
		},
		{
			name: "missing-content",
			params: CreateParams{
				DocumentID: "doc-1", UserID: "user-a", PageNumber: 1,
				Type: TypeStickyNote,
			},
		},
		{
			name: "position-out-of-range",
			params: CreateParams{
				DocumentID: "doc-1", UserID: "user-a", PageNumber: 1,
				Type: TypeStickyNote, Content: json.RawMessage(`{"text":"x"}`),
				PositionX: 120,
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := store.Create(context.Background(), testCase.params)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateAndDeleteEnforceOwnership(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	documentID := mustDocumentID(t, "doc-1")
	author := mustUserID(t, "user-a")
	stranger := mustUserID(t, "user-b")

	created, err := store.Create(context.Background(), CreateParams{
		DocumentID: documentID, UserID: author, PageNumber: 1,
		Type: TypeStickyNote, Content: stickyContent(t, "mine"),
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if _, err := store.Update(context.Background(), created.ID, stranger, UpdatePatch{
		Content: stickyContent(t, "stolen"),
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden update, got %v", err)
	}
	if err := store.Delete(context.Background(), created.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := store.Delete(context.Background(), created.ID, author); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if err := store.Delete(context.Background(), created.ID, author); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUpdateNoOpPatchReturnsCurrentRecord(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	documentID := mustDocumentID(t, "doc-1")
	author := mustUserID(t, "user-a")

	created, err := store.Create(context.Background(), CreateParams{
		DocumentID: documentID, UserID: author, PageNumber: 1,
		Type: TypeStickyNote, Content: stickyContent(t, "same"),
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	unchanged, err := store.Update(context.Background(), created.ID, author, UpdatePatch{})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if unchanged.UpdatedAtSeconds != created.UpdatedAtSeconds {
		t.Fatalf("no-op patch must not stamp updated_at")
	}
}

func TestFindByDocumentFiltersPage(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	documentID := mustDocumentID(t, "doc-1")
	author := mustUserID(t, "user-a")

	for _, page := range []int{1, 2, 2} {
		if _, err := store.Create(context.Background(), CreateParams{
			DocumentID: documentID, UserID: author, PageNumber: page,
			Type: TypeStickyNote, Content: stickyContent(t, "x"),
		}); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	page := 2
	records, err := store.FindByDocument(context.Background(), documentID, &page)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records on page 2, got %d", len(records))
	}
}
