package document

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/teacurran/WireTuner-sub012/internal/event"
)

func makeEvent(t *testing.T, seq int64, eventType event.Type, payload any) event.Event {
	t.Helper()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		ID:          uuid.NewString(),
		DocumentID:  "doc-1",
		Seq:         seq,
		Timestamp:   time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC),
		Type:        eventType,
		PayloadJSON: payloadJSON,
	}
}

func drawingEvents(t *testing.T) []event.Event {
	t.Helper()
	return []event.Event{
		makeEvent(t, 0, event.TypePathCreated, event.PathCreatedPayload{
			PathID: "p1",
			Points: []event.Point{{X: 0, Y: 0}, {X: 5, Y: 5}},
			Stroke: "#000000",
		}),
		makeEvent(t, 1, event.TypeShapeCreated, event.ShapeCreatedPayload{
			ShapeID: "s1", Kind: KindRect, X: 10, Y: 10, Width: 40, Height: 20, Fill: "#ff0000",
		}),
		makeEvent(t, 2, event.TypeObjectTranslated, event.ObjectTranslatedPayload{
			ObjectID: "s1", X: 30, Y: 35,
		}),
		makeEvent(t, 3, event.TypeObjectAttributeSet, event.ObjectAttributeSetPayload{
			ObjectID: "p1", Name: "stroke", Value: "#00ff00",
		}),
		makeEvent(t, 4, event.TypeObjectReordered, event.ObjectReorderedPayload{
			ObjectID: "s1", Index: 0,
		}),
	}
}

func TestApplyAllIsDeterministic(t *testing.T) {
	t.Parallel()

	events := drawingEvents(t)
	first, err := ApplyAll(New("doc-1"), events)
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	second, err := ApplyAll(New("doc-1"), events)
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("replaying the same events twice produced different states")
	}
}

func TestApplyPathCreated(t *testing.T) {
	t.Parallel()

	state, err := Apply(New("doc-1"), makeEvent(t, 0, event.TypePathCreated, event.PathCreatedPayload{
		PathID: "p1",
		Points: []event.Point{{X: 1, Y: 2}},
		Stroke: "#123456",
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	obj, ok := state.Objects["p1"]
	if !ok {
		t.Fatal("path not created")
	}
	if obj.Kind != KindPath {
		t.Fatalf("kind = %q, want %q", obj.Kind, KindPath)
	}
	if len(obj.Points) != 1 || obj.Points[0].X != 1 {
		t.Fatalf("points = %+v", obj.Points)
	}
	if obj.Attrs["stroke"] != "#123456" {
		t.Fatalf("stroke = %q", obj.Attrs["stroke"])
	}
	if len(state.Order) != 1 || state.Order[0] != "p1" {
		t.Fatalf("order = %v", state.Order)
	}
}

func TestApplyObjectTranslatedMovesToAbsolutePosition(t *testing.T) {
	t.Parallel()

	events := []event.Event{
		makeEvent(t, 0, event.TypeShapeCreated, event.ShapeCreatedPayload{
			ShapeID: "s1", Kind: KindEllipse, X: 0, Y: 0, Width: 10, Height: 10,
		}),
		makeEvent(t, 1, event.TypeObjectTranslated, event.ObjectTranslatedPayload{ObjectID: "s1", X: 7, Y: 9}),
	}
	state, err := ApplyAll(New("doc-1"), events)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	obj := state.Objects["s1"]
	if obj.X != 7 || obj.Y != 9 {
		t.Fatalf("position = (%v, %v), want (7, 9)", obj.X, obj.Y)
	}
}

func TestApplyObjectDeletedRemovesFromOrder(t *testing.T) {
	t.Parallel()

	events := []event.Event{
		makeEvent(t, 0, event.TypeShapeCreated, event.ShapeCreatedPayload{ShapeID: "a", Kind: KindRect}),
		makeEvent(t, 1, event.TypeShapeCreated, event.ShapeCreatedPayload{ShapeID: "b", Kind: KindRect}),
		makeEvent(t, 2, event.TypeObjectDeleted, event.ObjectDeletedPayload{ObjectID: "a"}),
	}
	state, err := ApplyAll(New("doc-1"), events)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := state.Objects["a"]; ok {
		t.Fatal("deleted object still present")
	}
	if len(state.Order) != 1 || state.Order[0] != "b" {
		t.Fatalf("order = %v, want [b]", state.Order)
	}
}

func TestApplyObjectReordered(t *testing.T) {
	t.Parallel()

	events := []event.Event{
		makeEvent(t, 0, event.TypeShapeCreated, event.ShapeCreatedPayload{ShapeID: "a", Kind: KindRect}),
		makeEvent(t, 1, event.TypeShapeCreated, event.ShapeCreatedPayload{ShapeID: "b", Kind: KindRect}),
		makeEvent(t, 2, event.TypeShapeCreated, event.ShapeCreatedPayload{ShapeID: "c", Kind: KindRect}),
		makeEvent(t, 3, event.TypeObjectReordered, event.ObjectReorderedPayload{ObjectID: "c", Index: 0}),
	}
	state, err := ApplyAll(New("doc-1"), events)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(state.Order, want) {
		t.Fatalf("order = %v, want %v", state.Order, want)
	}
}

func TestApplyRejectsUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Apply(New("doc-1"), makeEvent(t, 0, "object.exploded", map[string]string{}))
	if err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestApplyRejectsMissingObject(t *testing.T) {
	t.Parallel()

	_, err := Apply(New("doc-1"), makeEvent(t, 0, event.TypeObjectTranslated,
		event.ObjectTranslatedPayload{ObjectID: "ghost", X: 1, Y: 1}))
	if err == nil {
		t.Fatal("expected missing object error")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	base, err := Apply(New("doc-1"), makeEvent(t, 0, event.TypeShapeCreated,
		event.ShapeCreatedPayload{ShapeID: "s1", Kind: KindRect, X: 1, Y: 1}))
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}
	before := base.Clone()

	if _, err := Apply(base, makeEvent(t, 1, event.TypeObjectTranslated,
		event.ObjectTranslatedPayload{ObjectID: "s1", X: 99, Y: 99})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !reflect.DeepEqual(base, before) {
		t.Fatal("apply mutated its input state")
	}
}
