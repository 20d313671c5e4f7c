package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/event"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func createTestDocument(t *testing.T, store *Store, documentID string) {
	t.Helper()
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	meta := document.Metadata{
		ID:        documentID,
		Title:     "Test Drawing",
		CreatedAt: now,
	}
	if err := store.CreateDocument(context.Background(), meta); err != nil {
		t.Fatalf("create document %s: %v", documentID, err)
	}
}

func testEvent(t *testing.T, documentID string, eventType event.Type, payload any) event.Event {
	t.Helper()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Seq:         event.SeqUnassigned,
		Timestamp:   time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC),
		Type:        eventType,
		PayloadJSON: payloadJSON,
	}
}

func appendTestEvents(t *testing.T, store *Store, documentID string, count int) []event.Event {
	t.Helper()
	events := make([]event.Event, 0, count)
	for i := 0; i < count; i++ {
		evt := testEvent(t, documentID, event.TypeObjectTranslated,
			event.ObjectTranslatedPayload{ObjectID: "obj-1", X: float64(i), Y: float64(i)})
		events = append(events, evt)
	}
	stored, err := store.AppendEvents(context.Background(), events)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	return stored
}
