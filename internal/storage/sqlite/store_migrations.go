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

// ErrFormatTooNew indicates a document written by a newer build. Loading
// aborts with a version-mismatch message instead of guessing.
var ErrFormatTooNew = errors.New("document format version is newer than this build supports")

// formatMigrations maps a format version to the transformation that advances
// a document to the next one. Versions always advance v -> v+1; a very old
// document walks the whole chain.
var formatMigrations = map[int]func(ctx context.Context, tx *sql.Tx, documentID string) error{
	1: migrateFormatV1ToV2,
}

// MigrateDocument advances a document's format version to the current one,
// one version per transaction so partial progress survives a failure at a
// later step. beforeMigrate, when non-nil, runs once before the first step;
// the snapshot manager hooks it to force a pre-migration snapshot.
func (s *Store) MigrateDocument(ctx context.Context, documentID string, beforeMigrate func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("document id is required")
	}

	meta, err := s.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrDocumentNotFound
		}
		return err
	}
	if meta.FormatVersion > document.CurrentFormatVersion {
		return fmt.Errorf("document %s is at format v%d, this build supports up to v%d: %w",
			documentID, meta.FormatVersion, document.CurrentFormatVersion, ErrFormatTooNew)
	}
	if meta.FormatVersion == document.CurrentFormatVersion {
		return nil
	}

	if beforeMigrate != nil {
		if err := beforeMigrate(ctx); err != nil {
			return fmt.Errorf("pre-migration hook: %w", err)
		}
	}

	for version := meta.FormatVersion; version < document.CurrentFormatVersion; version++ {
		migrate, ok := formatMigrations[version]
		if !ok {
			return fmt.Errorf("no migration from format v%d", version)
		}

		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin format migration v%d: %w", version, err)
		}

		if err := migrate(ctx, tx, documentID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("format migration v%d -> v%d: %w", version, version+1, err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET format_version = ? WHERE document_id = ?", version+1, documentID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record format v%d: %w", version+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit format migration v%d: %w", version, err)
		}
	}
	return nil
}

// migrateFormatV1ToV2 renames the legacy v1 event type namespace. Early
// documents wrote drags as object.moved; v2 standardized on
// object.translated with the same payload shape.
func migrateFormatV1ToV2(ctx context.Context, tx *sql.Tx, documentID string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE events SET event_type = 'object.translated' WHERE document_id = ? AND event_type = 'object.moved'",
		documentID); err != nil {
		return fmt.Errorf("rewrite legacy event types: %w", err)
	}
	return nil
}
