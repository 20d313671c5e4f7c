package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// PutOperation stores a closed operation.
func (s *Store) PutOperation(ctx context.Context, op storage.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(op.ID) == "" {
		return fmt.Errorf("operation id is required")
	}
	if strings.TrimSpace(op.DocumentID) == "" {
		return fmt.Errorf("document id is required")
	}
	if op.StartSeq < 0 || op.EndSeq < op.StartSeq {
		return fmt.Errorf("operation range [%d, %d] is invalid", op.StartSeq, op.EndSeq)
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO operations (operation_id, document_id, label, start_seq, end_seq)
VALUES (?, ?, ?, ?, ?)`,
		op.ID, op.DocumentID, op.Label, op.StartSeq, op.EndSeq)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("put operation %s: %w", op.ID, err)
		}
		return fmt.Errorf("put operation: %w", err)
	}
	return nil
}

// ListOperations returns closed operations with end_seq <= upToSeq in start
// order. A negative upToSeq lifts the bound.
func (s *Store) ListOperations(ctx context.Context, documentID string, upToSeq int64) ([]storage.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document id is required")
	}

	query := "SELECT operation_id, document_id, label, start_seq, end_seq FROM operations WHERE document_id = ?"
	args := []any{documentID}
	if upToSeq >= 0 {
		query += " AND end_seq <= ?"
		args = append(args, upToSeq)
	}
	query += " ORDER BY start_seq ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []storage.Operation
	for rows.Next() {
		var op storage.Operation
		if err := rows.Scan(&op.ID, &op.DocumentID, &op.Label, &op.StartSeq, &op.EndSeq); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}
