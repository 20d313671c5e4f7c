package export

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/event"
	"github.com/teacurran/WireTuner-sub012/internal/replay"
	"github.com/teacurran/WireTuner-sub012/internal/snapshot"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
	"github.com/teacurran/WireTuner-sub012/internal/storage/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestExporter(store *sqlite.Store, opts ...Option) *Exporter {
	return New(store, store, store, replay.New(store, store, nil), opts...)
}

func seedSource(t *testing.T, store *sqlite.Store, documentID string) {
	t.Helper()
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	if err := store.CreateDocument(context.Background(), document.Metadata{
		ID: documentID, Title: "Source Drawing", CreatedAt: now,
	}); err != nil {
		t.Fatalf("create document: %v", err)
	}

	payloads := []struct {
		eventType event.Type
		payload   any
	}{
		{event.TypeShapeCreated, event.ShapeCreatedPayload{ShapeID: "s1", Kind: document.KindRect, Width: 10, Height: 10}},
		{event.TypeObjectTranslated, event.ObjectTranslatedPayload{ObjectID: "s1", X: 1, Y: 1}},
		{event.TypeObjectTranslated, event.ObjectTranslatedPayload{ObjectID: "s1", X: 2, Y: 2}},
		{event.TypeObjectAttributeSet, event.ObjectAttributeSetPayload{ObjectID: "s1", Name: "fill", Value: "#112233"}},
		{event.TypeObjectTranslated, event.ObjectTranslatedPayload{ObjectID: "s1", X: 8, Y: 4}},
	}
	events := make([]event.Event, 0, len(payloads))
	for _, p := range payloads {
		payloadJSON, err := json.Marshal(p.payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		events = append(events, event.Event{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Seq:         event.SeqUnassigned,
			Timestamp:   now,
			Type:        p.eventType,
			PayloadJSON: payloadJSON,
		})
	}
	if _, err := store.AppendEvents(context.Background(), events); err != nil {
		t.Fatalf("append events: %v", err)
	}
}

func snapshotSource(t *testing.T, store *sqlite.Store, documentID string, seq int64) {
	t.Helper()
	state, err := replay.New(store, store, nil).Reconstruct(context.Background(), documentID, seq)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	m := snapshot.NewManager(store, nil, snapshot.Config{})
	if _, err := m.Create(context.Background(), state, seq); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
}

func TestExportRangeBundlesEventsAndSnapshot(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedSource(t, store, "doc-src")
	snapshotSource(t, store, "doc-src", 2)

	bundle, err := newTestExporter(store).ExportRange(context.Background(), "doc-src", 2, 4)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}

	if bundle.Metadata.ExportVersion != Version {
		t.Fatalf("export version = %d, want %d", bundle.Metadata.ExportVersion, Version)
	}
	if bundle.Metadata.EventCount != 3 || len(bundle.Events) != 3 {
		t.Fatalf("event count = %d/%d, want 3", bundle.Metadata.EventCount, len(bundle.Events))
	}
	if bundle.Snapshot == nil || bundle.Snapshot.EventSeq != 2 {
		t.Fatalf("snapshot anchor = %+v, want seq 2", bundle.Snapshot)
	}
	if bundle.Metadata.SnapshotSeq != 2 {
		t.Fatalf("metadata snapshot seq = %d, want 2", bundle.Metadata.SnapshotSeq)
	}
	if bundle.Events[0].Seq != 2 || bundle.Events[2].Seq != 4 {
		t.Fatalf("event range = [%d, %d], want [2, 4]", bundle.Events[0].Seq, bundle.Events[2].Seq)
	}
	// Snapshot data stays plain JSON so bundles are inspectable.
	var state document.Document
	if err := json.Unmarshal(bundle.Snapshot.Data, &state); err != nil {
		t.Fatalf("bundle snapshot is not plain JSON: %v", err)
	}
}

func TestExportRangeWithoutSnapshot(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedSource(t, store, "doc-src")

	bundle, err := newTestExporter(store).ExportRange(context.Background(), "doc-src", 0, 4)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}
	if bundle.Snapshot != nil || bundle.Metadata.SnapshotSeq != -1 {
		t.Fatalf("expected no snapshot anchor, got %+v", bundle.Snapshot)
	}
}

func TestExportRangeValidation(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedSource(t, store, "doc-src")
	exporter := newTestExporter(store, WithMaxEvents(2))

	var rangeErr RangeError
	if _, err := exporter.ExportRange(context.Background(), "doc-src", -1, 2); !errors.As(err, &rangeErr) {
		t.Fatalf("negative start error = %v, want RangeError", err)
	}
	if _, err := exporter.ExportRange(context.Background(), "doc-src", 3, 1); !errors.As(err, &rangeErr) {
		t.Fatalf("inverted range error = %v, want RangeError", err)
	}
	if _, err := exporter.ExportRange(context.Background(), "doc-src", 0, 4); !errors.As(err, &rangeErr) {
		t.Fatalf("oversized range error = %v, want RangeError", err)
	}
	if _, err := exporter.ExportRange(context.Background(), "missing", 0, 1); !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Fatalf("missing document error = %v, want %v", err, storage.ErrDocumentNotFound)
	}
}

func TestExportRangeBeyondLatest(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedSource(t, store, "doc-src")

	_, err := newTestExporter(store).ExportRange(context.Background(), "doc-src", 0, 99)
	if !errors.Is(err, replay.ErrSequenceOutOfRange) {
		t.Fatalf("error = %v, want %v", err, replay.ErrSequenceOutOfRange)
	}
}

func TestImportBundleRoundTrip(t *testing.T) {
	t.Parallel()

	src := openTestStore(t)
	seedSource(t, src, "doc-src")
	snapshotSource(t, src, "doc-src", 2)

	bundle, err := newTestExporter(src).ExportRange(context.Background(), "doc-src", 2, 4)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}

	dst := openTestStore(t)
	state, err := newTestExporter(dst).ImportBundle(context.Background(), bundle, "doc-dst")
	if err != nil {
		t.Fatalf("import bundle: %v", err)
	}

	want, err := replay.New(src, src, nil).Reconstruct(context.Background(), "doc-src", 4)
	if err != nil {
		t.Fatalf("reference reconstruct: %v", err)
	}
	want.ID = "doc-dst"

	gotJSON, _ := json.Marshal(state)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("imported state diverged:\n got %s\nwant %s", gotJSON, wantJSON)
	}

	// Sequences survive import unchanged.
	events, err := dst.ListEvents(context.Background(), "doc-dst", 0, -1)
	if err != nil {
		t.Fatalf("list imported events: %v", err)
	}
	if len(events) != 3 || events[0].Seq != 2 || events[2].Seq != 4 {
		t.Fatalf("imported sequences = %+v", events)
	}

	// The anchor snapshot came along too.
	snap, err := dst.NearestSnapshot(context.Background(), "doc-dst", 4)
	if err != nil {
		t.Fatalf("nearest snapshot: %v", err)
	}
	if snap.Seq != 2 {
		t.Fatalf("imported snapshot seq = %d, want 2", snap.Seq)
	}

	// The target document was created with a placeholder title.
	meta, err := dst.GetDocument(context.Background(), "doc-dst")
	if err != nil {
		t.Fatalf("get imported document: %v", err)
	}
	if meta.Title != "Imported History" {
		t.Fatalf("title = %q", meta.Title)
	}
}

func TestImportRoundTripWithSnapshotBelowRangeStart(t *testing.T) {
	t.Parallel()

	src := openTestStore(t)
	seedSource(t, src, "doc-src")
	snapshotSource(t, src, "doc-src", 1)

	// The stored snapshot at seq 1 cannot anchor a range starting at 4:
	// the attribute change at seq 3 lives between them. The exporter must
	// reconstruct the anchor at seq 3 instead.
	bundle, err := newTestExporter(src).ExportRange(context.Background(), "doc-src", 4, 4)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}
	if bundle.Snapshot == nil || bundle.Snapshot.EventSeq != 3 {
		t.Fatalf("anchor = %+v, want reconstructed state at seq 3", bundle.Snapshot)
	}

	dst := openTestStore(t)
	state, err := newTestExporter(dst).ImportBundle(context.Background(), bundle, "doc-dst")
	if err != nil {
		t.Fatalf("import bundle: %v", err)
	}

	want, err := replay.New(src, src, nil).Reconstruct(context.Background(), "doc-src", 4)
	if err != nil {
		t.Fatalf("reference reconstruct: %v", err)
	}
	want.ID = "doc-dst"

	gotJSON, _ := json.Marshal(state)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("imported state diverged:\n got %s\nwant %s", gotJSON, wantJSON)
	}
}

func TestExportRangeReconstructsAnchorWithoutSnapshot(t *testing.T) {
	t.Parallel()

	src := openTestStore(t)
	seedSource(t, src, "doc-src")

	bundle, err := newTestExporter(src).ExportRange(context.Background(), "doc-src", 2, 4)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}
	if bundle.Snapshot == nil || bundle.Snapshot.EventSeq != 1 {
		t.Fatalf("anchor = %+v, want reconstructed state at seq 1", bundle.Snapshot)
	}
	if bundle.Metadata.SnapshotSeq != 1 {
		t.Fatalf("metadata snapshot seq = %d, want 1", bundle.Metadata.SnapshotSeq)
	}

	dst := openTestStore(t)
	state, err := newTestExporter(dst).ImportBundle(context.Background(), bundle, "doc-dst")
	if err != nil {
		t.Fatalf("import bundle: %v", err)
	}

	want, err := replay.New(src, src, nil).Reconstruct(context.Background(), "doc-src", 4)
	if err != nil {
		t.Fatalf("reference reconstruct: %v", err)
	}
	want.ID = "doc-dst"

	gotJSON, _ := json.Marshal(state)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("imported state diverged:\n got %s\nwant %s", gotJSON, wantJSON)
	}
}

func TestImportBundleRejectsNewerVersion(t *testing.T) {
	t.Parallel()

	dst := openTestStore(t)
	bundle := Bundle{Metadata: BundleMetadata{ExportVersion: Version + 1}}
	_, err := newTestExporter(dst).ImportBundle(context.Background(), bundle, "doc-dst")
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("error = %v, want %v", err, ErrUnsupportedVersion)
	}
}

func TestImportBundleValidatesBeforeAnyWrite(t *testing.T) {
	t.Parallel()

	src := openTestStore(t)
	seedSource(t, src, "doc-src")
	bundle, err := newTestExporter(src).ExportRange(context.Background(), "doc-src", 0, 2)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}
	bundle.Events[1].EventID = "corrupted"

	dst := openTestStore(t)
	_, err = newTestExporter(dst).ImportBundle(context.Background(), bundle, "doc-dst")
	var schemaErr SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error = %v, want SchemaError", err)
	}
	if schemaErr.Index != 1 {
		t.Fatalf("failing index = %d, want 1", schemaErr.Index)
	}

	// Nothing was written: the target document does not even exist.
	if _, err := dst.GetDocument(context.Background(), "doc-dst"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("target document state = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestImportBundleRejectsForeignDocumentEvents(t *testing.T) {
	t.Parallel()

	src := openTestStore(t)
	seedSource(t, src, "doc-src")
	bundle, err := newTestExporter(src).ExportRange(context.Background(), "doc-src", 0, 1)
	if err != nil {
		t.Fatalf("export range: %v", err)
	}
	bundle.Events[0].DocumentID = "someone-else"

	dst := openTestStore(t)
	_, err = newTestExporter(dst).ImportBundle(context.Background(), bundle, "doc-dst")
	var schemaErr SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error = %v, want SchemaError", err)
	}
}
