package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/event"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// AppendEvent atomically assigns the next sequence and persists the event.
// Sequences start at 0 and are gapless per document; assignment happens
// inside the append transaction so concurrent writers to the same document
// serialize on the sequence counter row.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	stored, err := s.AppendEvents(ctx, []event.Event{evt})
	if err != nil {
		return event.Event{}, err
	}
	return stored[0], nil
}

// AppendEvents persists a batch of events for one document in a single
// transaction with contiguous sequences.
func (s *Store) AppendEvents(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if len(events) == 0 {
		return nil, nil
	}

	documentID := events[0].DocumentID
	for i := range events {
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = timeNow()
		}
		events[i].Timestamp = events[i].Timestamp.UTC().Truncate(time.Millisecond)
		if err := events[i].Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if events[i].DocumentID != documentID {
			return nil, fmt.Errorf("all events in a batch must share a document id")
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeqTx(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}

	stored := make([]event.Event, len(events))
	for i, evt := range events {
		evt.Seq = seq + int64(i)
		if err := insertEventTx(ctx, tx, evt); err != nil {
			return nil, err
		}
		stored[i] = evt
	}

	if err := advanceSeqTx(ctx, tx, documentID, seq+int64(len(events))); err != nil {
		return nil, err
	}
	if err := touchDocumentTx(ctx, tx, documentID, stored[len(stored)-1].Timestamp); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// ImportEvents persists events that already carry sequence numbers and moves
// the document's counter past the highest one. Only history import uses this
// path; normal recording never supplies sequences.
func (s *Store) ImportEvents(ctx context.Context, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(events) == 0 {
		return nil
	}

	documentID := events[0].DocumentID
	maxSeq := int64(-1)
	for i, evt := range events {
		if err := evt.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if evt.Seq < 0 {
			return fmt.Errorf("event %d: sequence must not be negative", i)
		}
		if evt.DocumentID != documentID {
			return fmt.Errorf("all events in an import must share a document id")
		}
		if evt.Seq > maxSeq {
			maxSeq = evt.Seq
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := documentExistsTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrDocumentNotFound
	}

	for _, evt := range events {
		evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
		if err := insertEventTx(ctx, tx, evt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO event_seq (document_id, next_seq) VALUES (?, ?)
ON CONFLICT(document_id) DO UPDATE SET next_seq = MAX(next_seq, excluded.next_seq)`,
		documentID, maxSeq+1); err != nil {
		return fmt.Errorf("advance event seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns events in [fromSeq, toSeq] ordered by sequence. A
// negative toSeq lifts the upper bound.
func (s *Store) ListEvents(ctx context.Context, documentID string, fromSeq, toSeq int64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document id is required")
	}

	query := `
SELECT event_id, document_id, seq, event_type, payload_json, timestamp
FROM events WHERE document_id = ? AND seq >= ?`
	args := []any{documentID, fromSeq}
	if toSeq >= 0 {
		query += " AND seq <= ?"
		args = append(args, toSeq)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			evt       event.Event
			payload   string
			timestamp int64
		)
		if err := rows.Scan(&evt.ID, &evt.DocumentID, &evt.Seq, &evt.Type, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.PayloadJSON = []byte(payload)
		evt.Timestamp = fromMillis(timestamp)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// LatestSeq returns the highest assigned sequence for a document, or -1 when
// no events exist yet.
func (s *Store) LatestSeq(ctx context.Context, documentID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return 0, fmt.Errorf("document id is required")
	}

	var nextSeq int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE document_id = ?", documentID).Scan(&nextSeq)
	if err == nil {
		return nextSeq - 1, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("latest seq: %w", err)
	}

	var found int
	err = s.sqlDB.QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE document_id = ?", documentID).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrDocumentNotFound
		}
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return -1, nil
}

func nextSeqTx(ctx context.Context, tx *sql.Tx, documentID string) (int64, error) {
	exists, err := documentExistsTx(ctx, tx, documentID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, storage.ErrDocumentNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO event_seq (document_id, next_seq) VALUES (?, 0)", documentID); err != nil {
		return 0, fmt.Errorf("init event seq: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE document_id = ?", documentID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get event seq: %w", err)
	}
	return seq, nil
}

func advanceSeqTx(ctx context.Context, tx *sql.Tx, documentID string, nextSeq int64) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE event_seq SET next_seq = ? WHERE document_id = ?", nextSeq, documentID); err != nil {
		return fmt.Errorf("advance event seq: %w", err)
	}
	return nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO events (event_id, document_id, seq, event_type, payload_json, timestamp)
VALUES (?, ?, ?, ?, ?, ?)`,
		evt.ID,
		evt.DocumentID,
		evt.Seq,
		string(evt.Type),
		string(evt.PayloadJSON),
		toMillis(evt.Timestamp),
	)
	if err != nil {
		if isPrimaryKeyError(err) {
			return fmt.Errorf("append event seq %d: %w", evt.Seq, storage.ErrDuplicateSequence)
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func touchDocumentTx(ctx context.Context, tx *sql.Tx, documentID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET modified_at = ? WHERE document_id = ?", toMillis(at), documentID); err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}
