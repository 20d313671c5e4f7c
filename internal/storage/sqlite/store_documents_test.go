package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

func TestCreateGetDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	meta := document.Metadata{
		ID:        "doc-1",
		Title:     "Poster Draft",
		CreatedAt: now,
	}
	if err := store.CreateDocument(context.Background(), meta); err != nil {
		t.Fatalf("create document: %v", err)
	}

	got, err := store.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Title != "Poster Draft" {
		t.Fatalf("title = %q, want %q", got.Title, "Poster Draft")
	}
	if got.FormatVersion != document.CurrentFormatVersion {
		t.Fatalf("format version = %d, want %d", got.FormatVersion, document.CurrentFormatVersion)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, now)
	}
	if !got.ModifiedAt.Equal(now) {
		t.Fatalf("modified at = %v, want created at %v", got.ModifiedAt, now)
	}
}

func TestCreateDocumentRejectsDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	createTestDocument(t, store, "doc-dup")

	now := time.Date(2026, time.March, 14, 9, 45, 0, 0, time.UTC)
	err := store.CreateDocument(context.Background(), document.Metadata{
		ID:        "doc-dup",
		Title:     "Second",
		CreatedAt: now,
	})
	if err == nil {
		t.Fatal("expected duplicate document error")
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.GetDocument(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestRenameDocumentUpdatesTitleAndModified(t *testing.T) {
	store := openTempStore(t)
	createTestDocument(t, store, "doc-rename")

	renamedAt := time.Date(2026, time.March, 15, 8, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return renamedAt }
	defer func() { timeNow = orig }()

	if err := store.RenameDocument(context.Background(), "doc-rename", "Final Poster"); err != nil {
		t.Fatalf("rename document: %v", err)
	}

	got, err := store.GetDocument(context.Background(), "doc-rename")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Title != "Final Poster" {
		t.Fatalf("title = %q, want %q", got.Title, "Final Poster")
	}
	if !got.ModifiedAt.Equal(renamedAt) {
		t.Fatalf("modified at = %v, want %v", got.ModifiedAt, renamedAt)
	}
}

func TestRenameDocumentNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.RenameDocument(context.Background(), "missing", "Title")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	createTestDocument(t, store, "doc-del")
	appendTestEvents(t, store, "doc-del", 3)

	if err := store.DeleteDocument(context.Background(), "doc-del"); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	if _, err := store.GetDocument(context.Background(), "doc-del"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after delete = %v, want %v", err, storage.ErrNotFound)
	}
	if _, err := store.LatestSeq(context.Background(), "doc-del"); !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Fatalf("latest seq after delete = %v, want %v", err, storage.ErrDocumentNotFound)
	}

	var count int
	if err := store.sqlDB.QueryRow("SELECT COUNT(*) FROM events WHERE document_id = 'doc-del'").Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascading event delete, %d rows remain", count)
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.DeleteDocument(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}
