package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// CreateDocument inserts a document metadata row.
func (s *Store) CreateDocument(ctx context.Context, meta document.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(meta.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(meta.Title) == "" {
		return fmt.Errorf("document title is required")
	}
	if meta.FormatVersion <= 0 {
		meta.FormatVersion = document.CurrentFormatVersion
	}
	if meta.CreatedAt.IsZero() {
		return fmt.Errorf("created at is required")
	}
	if meta.ModifiedAt.IsZero() {
		meta.ModifiedAt = meta.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO documents (document_id, title, format_version, created_at, modified_at)
VALUES (?, ?, ?, ?, ?)`,
		meta.ID,
		meta.Title,
		meta.FormatVersion,
		toMillis(meta.CreatedAt),
		toMillis(meta.ModifiedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("document %s already exists", meta.ID)
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetDocument retrieves document metadata by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (document.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return document.Metadata{}, err
	}
	if s == nil || s.sqlDB == nil {
		return document.Metadata{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return document.Metadata{}, fmt.Errorf("document id is required")
	}

	var (
		meta       document.Metadata
		createdAt  int64
		modifiedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT document_id, title, format_version, created_at, modified_at
FROM documents WHERE document_id = ?`, documentID).
		Scan(&meta.ID, &meta.Title, &meta.FormatVersion, &createdAt, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return document.Metadata{}, storage.ErrNotFound
		}
		return document.Metadata{}, fmt.Errorf("get document: %w", err)
	}
	meta.CreatedAt = fromMillis(createdAt)
	meta.ModifiedAt = fromMillis(modifiedAt)
	return meta, nil
}

// RenameDocument updates a document's title and modified timestamp.
func (s *Store) RenameDocument(ctx context.Context, documentID, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("document title is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE documents SET title = ?, modified_at = ? WHERE document_id = ?`,
		title, toMillis(timeNow()), documentID)
	if err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and, through foreign keys, its events,
// snapshots, operations, and sequence counter.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("document id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM documents WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
