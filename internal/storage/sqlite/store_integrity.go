package sqlite

import (
	"context"
	"fmt"
	"strings"
)

// requiredSchema lists the tables and columns the engine depends on.
var requiredSchema = map[string][]string{
	"documents":  {"document_id", "title", "format_version", "created_at", "modified_at"},
	"events":     {"event_id", "document_id", "seq", "event_type", "payload_json", "timestamp"},
	"event_seq":  {"document_id", "next_seq"},
	"snapshots":  {"document_id", "seq", "compressed_state", "compression_kind", "uncompressed_size", "created_at"},
	"operations": {"operation_id", "document_id", "label", "start_seq", "end_seq"},
}

var requiredIndexes = []string{
	"idx_events_event_id",
	"idx_operations_document_end",
}

// VerifyIntegrity checks that the schema carries the required tables,
// columns, and indexes, and that no document's event log has sequence gaps.
func (s *Store) VerifyIntegrity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	for table, columns := range requiredSchema {
		var found int
		err := s.sqlDB.QueryRowContext(ctx,
			"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&found)
		if err != nil {
			return fmt.Errorf("missing table %s: %w", table, err)
		}

		present := make(map[string]bool, len(columns))
		rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		for rows.Next() {
			var (
				cid        int
				name       string
				typ        string
				notNull    int
				defaultVal any
				pk         int
			)
			if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
				rows.Close()
				return fmt.Errorf("inspect table %s: %w", table, err)
			}
			present[strings.ToLower(name)] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		rows.Close()

		for _, column := range columns {
			if !present[column] {
				return fmt.Errorf("table %s is missing column %s", table, column)
			}
		}
	}

	for _, index := range requiredIndexes {
		var found int
		err := s.sqlDB.QueryRowContext(ctx,
			"SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = ?", index).Scan(&found)
		if err != nil {
			return fmt.Errorf("missing index %s: %w", index, err)
		}
	}

	return s.verifySequences(ctx)
}

// verifySequences confirms each document's log is gapless: the row count
// must span [min(seq), max(seq)] exactly. Imported history may legitimately
// start above 0 when anchored on a snapshot.
func (s *Store) verifySequences(ctx context.Context) error {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT document_id, COUNT(*), MIN(seq), MAX(seq)
FROM events GROUP BY document_id`)
	if err != nil {
		return fmt.Errorf("verify sequences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			documentID string
			count      int64
			minSeq     int64
			maxSeq     int64
		)
		if err := rows.Scan(&documentID, &count, &minSeq, &maxSeq); err != nil {
			return fmt.Errorf("verify sequences: %w", err)
		}
		if count != maxSeq-minSeq+1 {
			return fmt.Errorf("document %s: event log has gaps (%d events in [%d, %d])", documentID, count, minSeq, maxSeq)
		}
	}
	return rows.Err()
}
