// Package storage defines persistence interfaces for the history engine.
//
// The event log store is the single source of truth for a document. It is
// shared read-many across editing sessions; writes to one document are
// serialized by the implementation so sequence assignment stays gapless.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/event"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrDocumentNotFound indicates an append or snapshot against an unknown
// document.
var ErrDocumentNotFound = errors.New("document not found")

// ErrDuplicateSequence indicates a store-level uniqueness violation on
// (document, sequence). It should never occur absent a driver bug and is
// treated as fatal by callers.
var ErrDuplicateSequence = errors.New("duplicate event sequence")

// Snapshot is a compressed materialization of full document state at a
// sequence. Snapshots are immutable once written and retained for history
// browsing; there is no automatic garbage collection.
type Snapshot struct {
	DocumentID       string
	Seq              int64
	CompressedState  []byte
	CompressionKind  string
	UncompressedSize int64
	CreatedAt        time.Time
}

// Operation is a labeled, atomic group of contiguous events representing one
// undoable user action. Immutable once closed.
type Operation struct {
	ID         string
	DocumentID string
	Label      string
	StartSeq   int64
	EndSeq     int64
}

// EventStore persists the append-only event journal. Sequence assignment is
// the store's sole responsibility: sequences start at 0 and are strictly
// increasing per document with no gaps.
type EventStore interface {
	// AppendEvent assigns the next sequence and persists the event.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	// AppendEvents persists a batch in one transaction with contiguous
	// sequences.
	AppendEvents(ctx context.Context, events []event.Event) ([]event.Event, error)
	// ImportEvents persists events that already carry sequences, advancing
	// the document's sequence counter past them. Used only by history
	// import.
	ImportEvents(ctx context.Context, events []event.Event) error
	// ListEvents returns events with fromSeq <= seq <= toSeq in sequence
	// order. A negative toSeq means no upper bound. The result is a fresh
	// finite query each call.
	ListEvents(ctx context.Context, documentID string, fromSeq, toSeq int64) ([]event.Event, error)
	// LatestSeq returns the highest assigned sequence, or -1 when the
	// document has no events.
	LatestSeq(ctx context.Context, documentID string) (int64, error)
}

// DocumentStore persists document metadata. Deleting a document cascades to
// its events, snapshots, and operations.
type DocumentStore interface {
	CreateDocument(ctx context.Context, meta document.Metadata) error
	GetDocument(ctx context.Context, documentID string) (document.Metadata, error)
	RenameDocument(ctx context.Context, documentID, title string) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// SnapshotStore persists compressed state snapshots.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snapshot Snapshot) error
	// NearestSnapshot returns the snapshot with the highest sequence not
	// exceeding maxSeq.
	NearestSnapshot(ctx context.Context, documentID string, maxSeq int64) (Snapshot, error)
	// ListSnapshots returns snapshots ordered by sequence descending.
	ListSnapshots(ctx context.Context, documentID string, limit int) ([]Snapshot, error)
}

// OperationStore persists closed operations.
type OperationStore interface {
	PutOperation(ctx context.Context, op Operation) error
	// ListOperations returns closed operations with EndSeq <= upToSeq in
	// start-sequence order. A negative upToSeq means no upper bound.
	ListOperations(ctx context.Context, documentID string, upToSeq int64) ([]Operation, error)
}
