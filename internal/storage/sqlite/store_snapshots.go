package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// PutSnapshot stores a snapshot. The snapshot sequence must not exceed the
// document's latest event sequence.
func (s *Store) PutSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snapshot.DocumentID) == "" {
		return fmt.Errorf("document id is required")
	}
	if snapshot.Seq < 0 {
		return fmt.Errorf("snapshot sequence must not be negative")
	}
	if len(snapshot.CompressedState) == 0 {
		return fmt.Errorf("snapshot state is required")
	}
	if strings.TrimSpace(snapshot.CompressionKind) == "" {
		return fmt.Errorf("compression kind is required")
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = timeNow()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := documentExistsTx(ctx, tx, snapshot.DocumentID)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrDocumentNotFound
	}

	var nextSeq int64
	err = tx.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE document_id = ?", snapshot.DocumentID).Scan(&nextSeq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check latest seq: %w", err)
	}
	if snapshot.Seq > nextSeq-1 {
		return fmt.Errorf("snapshot seq %d exceeds latest event seq %d", snapshot.Seq, nextSeq-1)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshots (document_id, seq, compressed_state, compression_kind, uncompressed_size, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.DocumentID,
		snapshot.Seq,
		snapshot.CompressedState,
		snapshot.CompressionKind,
		snapshot.UncompressedSize,
		toMillis(snapshot.CreatedAt),
	); err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("snapshot at seq %d already exists", snapshot.Seq)
		}
		return fmt.Errorf("put snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// NearestSnapshot returns the snapshot with the highest sequence <= maxSeq.
func (s *Store) NearestSnapshot(ctx context.Context, documentID string, maxSeq int64) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return storage.Snapshot{}, fmt.Errorf("document id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT document_id, seq, compressed_state, compression_kind, uncompressed_size, created_at
FROM snapshots WHERE document_id = ? AND seq <= ?
ORDER BY seq DESC LIMIT 1`, documentID, maxSeq)
	return scanSnapshot(row)
}

// ListSnapshots returns snapshots ordered by sequence descending, for
// history browsing.
func (s *Store) ListSnapshots(ctx context.Context, documentID string, limit int) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT document_id, seq, compressed_state, compression_kind, uncompressed_size, created_at
FROM snapshots WHERE document_id = ?
ORDER BY seq DESC LIMIT ?`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []storage.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (storage.Snapshot, error) {
	var (
		snap      storage.Snapshot
		createdAt int64
	)
	err := row.Scan(
		&snap.DocumentID,
		&snap.Seq,
		&snap.CompressedState,
		&snap.CompressionKind,
		&snap.UncompressedSize,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.CreatedAt = fromMillis(createdAt)
	return snap, nil
}
