// Package export provides bounded, debug-only export and import of a log
// subsection plus its anchoring snapshot.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/event"
	"github.com/teacurran/WireTuner-sub012/internal/replay"
	"github.com/teacurran/WireTuner-sub012/internal/snapshot"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// Version is the bundle schema version this build writes. Bundles with a
// greater exportVersion are rejected outright.
const Version = 1

// DefaultMaxEvents bounds one export range.
const DefaultMaxEvents = 10000

// ErrUnsupportedVersion indicates a bundle written by a newer build.
var ErrUnsupportedVersion = errors.New("bundle export version is newer than this build supports")

// RangeError indicates an invalid or oversized export range.
type RangeError struct {
	Start int64
	End   int64
	Max   int
}

func (e RangeError) Error() string {
	return fmt.Sprintf("range [%d, %d] is invalid or exceeds %d events", e.Start, e.End, e.Max)
}

// SchemaError indicates an event that failed envelope validation during
// import. Any single failure aborts the whole import with no partial writes.
type SchemaError struct {
	Index  int
	Reason error
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("event %d failed validation: %v", e.Index, e.Reason)
}

func (e SchemaError) Unwrap() error {
	return e.Reason
}

// Bundle is the JSON-shaped export document.
type Bundle struct {
	Metadata BundleMetadata  `json:"metadata"`
	Snapshot *BundleSnapshot `json:"snapshot"`
	Events   []BundleEvent   `json:"events"`
}

// BundleMetadata describes the exported range.
type BundleMetadata struct {
	DocumentID    string    `json:"documentId"`
	ExportVersion int       `json:"exportVersion"`
	ExportedAt    time.Time `json:"exportedAt"`
	EventRange    Range     `json:"eventRange"`
	EventCount    int       `json:"eventCount"`
	// SnapshotSeq is -1 when the bundle carries no snapshot.
	SnapshotSeq int64 `json:"snapshotSequence"`
}

// Range is an inclusive sequence interval.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// BundleSnapshot carries the anchoring state as uncompressed JSON so bundles
// stay inspectable with ordinary tools.
type BundleSnapshot struct {
	EventSeq int64           `json:"eventSequence"`
	Data     json.RawMessage `json:"data"`
}

// BundleEvent is the exported event envelope.
type BundleEvent struct {
	EventID    string          `json:"eventId"`
	DocumentID string          `json:"documentId"`
	Seq        int64           `json:"sequence"`
	Type       string          `json:"eventType"`
	Timestamp  int64           `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// Exporter bundles and restores history ranges.
type Exporter struct {
	events    storage.EventStore
	snaps     storage.SnapshotStore
	docs      storage.DocumentStore
	replayer  *replay.Replayer
	maxEvents int
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMaxEvents overrides the export range bound.
func WithMaxEvents(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.maxEvents = n
		}
	}
}

// WithClock overrides export timestamping.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an exporter over the given stores.
func New(events storage.EventStore, snaps storage.SnapshotStore, docs storage.DocumentStore, replayer *replay.Replayer, opts ...Option) *Exporter {
	e := &Exporter{
		events:    events,
		snaps:     snaps,
		docs:      docs,
		replayer:  replayer,
		maxEvents: DefaultMaxEvents,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExportRange bundles metadata, the nearest snapshot at or before startSeq,
// and the inclusive event range.
func (e *Exporter) ExportRange(ctx context.Context, documentID string, startSeq, endSeq int64) (Bundle, error) {
	if startSeq < 0 || endSeq < startSeq {
		return Bundle{}, RangeError{Start: startSeq, End: endSeq, Max: e.maxEvents}
	}
	if endSeq-startSeq+1 > int64(e.maxEvents) {
		return Bundle{}, RangeError{Start: startSeq, End: endSeq, Max: e.maxEvents}
	}

	if _, err := e.docs.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Bundle{}, storage.ErrDocumentNotFound
		}
		return Bundle{}, err
	}

	latest, err := e.events.LatestSeq(ctx, documentID)
	if err != nil {
		return Bundle{}, err
	}
	if endSeq > latest {
		return Bundle{}, fmt.Errorf("end seq %d, latest is %d: %w", endSeq, latest, replay.ErrSequenceOutOfRange)
	}

	events, err := e.events.ListEvents(ctx, documentID, startSeq, endSeq)
	if err != nil {
		return Bundle{}, err
	}

	bundle := Bundle{
		Metadata: BundleMetadata{
			DocumentID:    documentID,
			ExportVersion: Version,
			ExportedAt:    e.now().UTC(),
			EventRange:    Range{Start: startSeq, End: endSeq},
			EventCount:    len(events),
			SnapshotSeq:   -1,
		},
		Events: make([]BundleEvent, 0, len(events)),
	}

	anchor, err := e.anchorSnapshot(ctx, documentID, startSeq)
	if err != nil {
		return Bundle{}, err
	}
	if anchor != nil {
		bundle.Snapshot = anchor
		bundle.Metadata.SnapshotSeq = anchor.EventSeq
	}

	for _, evt := range events {
		bundle.Events = append(bundle.Events, BundleEvent{
			EventID:    evt.ID,
			DocumentID: evt.DocumentID,
			Seq:        evt.Seq,
			Type:       string(evt.Type),
			Timestamp:  evt.Timestamp.UnixMilli(),
			Payload:    evt.PayloadJSON,
		})
	}
	return bundle, nil
}

// ImportBundle validates every event envelope, persists the bundle into
// documentID, and replays to the bundle's end sequence. Validation precedes
// any write: one bad envelope aborts the whole import.
func (e *Exporter) ImportBundle(ctx context.Context, bundle Bundle, documentID string) (document.Document, error) {
	if bundle.Metadata.ExportVersion > Version {
		return document.Document{}, fmt.Errorf("bundle is v%d, importer supports v%d: %w",
			bundle.Metadata.ExportVersion, Version, ErrUnsupportedVersion)
	}
	if strings.TrimSpace(documentID) == "" {
		return document.Document{}, fmt.Errorf("document id is required")
	}

	events := make([]event.Event, 0, len(bundle.Events))
	for i, be := range bundle.Events {
		if err := validateBundleEvent(be, bundle.Metadata.DocumentID); err != nil {
			return document.Document{}, SchemaError{Index: i, Reason: err}
		}
		events = append(events, event.Event{
			ID:          be.EventID,
			DocumentID:  documentID,
			Seq:         be.Seq,
			Timestamp:   time.UnixMilli(be.Timestamp).UTC(),
			Type:        event.Type(be.Type),
			PayloadJSON: be.Payload,
		})
	}

	if _, err := e.docs.GetDocument(ctx, documentID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return document.Document{}, err
		}
		now := e.now().UTC()
		meta := document.Metadata{
			ID:            documentID,
			Title:         "Imported History",
			FormatVersion: document.CurrentFormatVersion,
			CreatedAt:     now,
			ModifiedAt:    now,
		}
		if err := e.docs.CreateDocument(ctx, meta); err != nil {
			return document.Document{}, err
		}
	}

	if err := e.events.ImportEvents(ctx, events); err != nil {
		return document.Document{}, err
	}

	if bundle.Snapshot != nil {
		if err := e.importSnapshot(ctx, *bundle.Snapshot, documentID); err != nil {
			return document.Document{}, err
		}
	}

	return e.replayer.Reconstruct(ctx, documentID, bundle.Metadata.EventRange.End)
}

// anchorSnapshot picks the bundle's replay base. A stored snapshot works
// only when it lands at startSeq-1 or startSeq; anything older would leave
// events between it and the range start in neither the anchor nor the
// bundle, and the imported state would silently diverge from the source.
// When no stored snapshot qualifies, the anchor is reconstructed at
// startSeq-1. A range starting at 0 needs no anchor.
func (e *Exporter) anchorSnapshot(ctx context.Context, documentID string, startSeq int64) (*BundleSnapshot, error) {
	snap, err := e.snaps.NearestSnapshot(ctx, documentID, startSeq)
	if err == nil && snap.Seq >= startSeq-1 {
		data, derr := snapshot.DecodeState(snap)
		if derr == nil {
			return &BundleSnapshot{EventSeq: snap.Seq, Data: data}, nil
		}
		log.Printf("export: snapshot at seq %d failed validation, reconstructing anchor: %v", snap.Seq, derr)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if startSeq == 0 {
		return nil, nil
	}
	state, err := e.replayer.Reconstruct(ctx, documentID, startSeq-1)
	if err != nil {
		return nil, fmt.Errorf("reconstruct anchor at seq %d: %w", startSeq-1, err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode anchor state: %w", err)
	}
	return &BundleSnapshot{EventSeq: startSeq - 1, Data: data}, nil
}

func (e *Exporter) importSnapshot(ctx context.Context, bs BundleSnapshot, documentID string) error {
	var state document.Document
	if err := json.Unmarshal(bs.Data, &state); err != nil {
		return fmt.Errorf("decode bundle snapshot: %w", err)
	}
	state.ID = documentID

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode bundle snapshot: %w", err)
	}
	compressed, err := gzipBytes(data)
	if err != nil {
		return err
	}
	return e.snaps.PutSnapshot(ctx, storage.Snapshot{
		DocumentID:       documentID,
		Seq:              bs.EventSeq,
		CompressedState:  compressed,
		CompressionKind:  snapshot.CompressionGzip,
		UncompressedSize: int64(len(data)),
		CreatedAt:        e.now().UTC(),
	})
}

func validateBundleEvent(be BundleEvent, documentID string) error {
	if _, err := uuid.Parse(strings.TrimSpace(be.EventID)); err != nil {
		return fmt.Errorf("event id must be a UUID: %w", err)
	}
	if be.Seq < 0 {
		return fmt.Errorf("sequence must not be negative")
	}
	if be.Timestamp < 0 {
		return fmt.Errorf("timestamp must not be negative")
	}
	if strings.TrimSpace(be.Type) == "" {
		return fmt.Errorf("event type is required")
	}
	if be.DocumentID != documentID {
		return fmt.Errorf("document id %q does not match bundle document %q", be.DocumentID, documentID)
	}
	return nil
}
