package document

import (
	"encoding/json"
	"fmt"

	"github.com/teacurran/WireTuner-sub012/internal/event"
)

// Apply reduces a single event onto a document state and returns the result.
// The input state is never mutated. Apply is deterministic: the same state
// and event always produce the same output, which is what makes replayed
// reconstruction reproducible at any sequence.
func Apply(doc Document, evt event.Event) (Document, error) {
	switch evt.Type {
	case event.TypePathCreated:
		return applyPathCreated(doc, evt)
	case event.TypePathEdited:
		return applyPathEdited(doc, evt)
	case event.TypeShapeCreated:
		return applyShapeCreated(doc, evt)
	case event.TypeObjectTranslated:
		return applyObjectTranslated(doc, evt)
	case event.TypeObjectAttributeSet:
		return applyObjectAttributeSet(doc, evt)
	case event.TypeObjectReordered:
		return applyObjectReordered(doc, evt)
	case event.TypeObjectDeleted:
		return applyObjectDeleted(doc, evt)
	default:
		return Document{}, fmt.Errorf("unknown event type %q at seq %d", evt.Type, evt.Seq)
	}
}

// ApplyAll reduces an ordered range of events onto a base state.
func ApplyAll(doc Document, events []event.Event) (Document, error) {
	out := doc
	for _, evt := range events {
		next, err := Apply(out, evt)
		if err != nil {
			return Document{}, err
		}
		out = next
	}
	return out, nil
}

func applyPathCreated(doc Document, evt event.Event) (Document, error) {
	var payload event.PathCreatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode path.created payload: %w", err)
	}
	if payload.PathID == "" {
		return Document{}, fmt.Errorf("path id is required")
	}
	out := doc.Clone()
	out.Objects[payload.PathID] = Object{
		ID:     payload.PathID,
		Kind:   KindPath,
		Points: toPointValues(payload.Points),
		Attrs:  strokeFillAttrs(payload.Stroke, payload.Fill),
	}
	out.Order = append(out.Order, payload.PathID)
	return out, nil
}

func applyPathEdited(doc Document, evt event.Event) (Document, error) {
	var payload event.PathEditedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode path.edited payload: %w", err)
	}
	obj, ok := doc.Objects[payload.PathID]
	if !ok {
		return Document{}, fmt.Errorf("path %q not found at seq %d", payload.PathID, evt.Seq)
	}
	out := doc.Clone()
	obj = cloneObject(obj)
	obj.Points = toPointValues(payload.Points)
	out.Objects[payload.PathID] = obj
	return out, nil
}

func applyShapeCreated(doc Document, evt event.Event) (Document, error) {
	var payload event.ShapeCreatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode shape.created payload: %w", err)
	}
	if payload.ShapeID == "" {
		return Document{}, fmt.Errorf("shape id is required")
	}
	kind := payload.Kind
	if kind != KindRect && kind != KindEllipse {
		return Document{}, fmt.Errorf("unknown shape kind %q", payload.Kind)
	}
	out := doc.Clone()
	out.Objects[payload.ShapeID] = Object{
		ID:     payload.ShapeID,
		Kind:   kind,
		X:      payload.X,
		Y:      payload.Y,
		Width:  payload.Width,
		Height: payload.Height,
		Attrs:  strokeFillAttrs(payload.Stroke, payload.Fill),
	}
	out.Order = append(out.Order, payload.ShapeID)
	return out, nil
}

func applyObjectTranslated(doc Document, evt event.Event) (Document, error) {
	var payload event.ObjectTranslatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode object.translated payload: %w", err)
	}
	obj, ok := doc.Objects[payload.ObjectID]
	if !ok {
		return Document{}, fmt.Errorf("object %q not found at seq %d", payload.ObjectID, evt.Seq)
	}
	out := doc.Clone()
	obj = cloneObject(obj)
	obj.X = payload.X
	obj.Y = payload.Y
	out.Objects[payload.ObjectID] = obj
	return out, nil
}

func applyObjectAttributeSet(doc Document, evt event.Event) (Document, error) {
	var payload event.ObjectAttributeSetPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode object.attribute_set payload: %w", err)
	}
	if payload.Name == "" {
		return Document{}, fmt.Errorf("attribute name is required")
	}
	obj, ok := doc.Objects[payload.ObjectID]
	if !ok {
		return Document{}, fmt.Errorf("object %q not found at seq %d", payload.ObjectID, evt.Seq)
	}
	out := doc.Clone()
	obj = cloneObject(obj)
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]string)
	}
	obj.Attrs[payload.Name] = payload.Value
	out.Objects[payload.ObjectID] = obj
	return out, nil
}

func applyObjectReordered(doc Document, evt event.Event) (Document, error) {
	var payload event.ObjectReorderedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode object.reordered payload: %w", err)
	}
	if _, ok := doc.Objects[payload.ObjectID]; !ok {
		return Document{}, fmt.Errorf("object %q not found at seq %d", payload.ObjectID, evt.Seq)
	}
	out := doc.Clone()
	order := make([]string, 0, len(out.Order))
	for _, id := range out.Order {
		if id != payload.ObjectID {
			order = append(order, id)
		}
	}
	idx := payload.Index
	if idx < 0 {
		idx = 0
	}
	if idx > len(order) {
		idx = len(order)
	}
	order = append(order[:idx], append([]string{payload.ObjectID}, order[idx:]...)...)
	out.Order = order
	return out, nil
}

func applyObjectDeleted(doc Document, evt event.Event) (Document, error) {
	var payload event.ObjectDeletedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return Document{}, fmt.Errorf("decode object.deleted payload: %w", err)
	}
	if _, ok := doc.Objects[payload.ObjectID]; !ok {
		return Document{}, fmt.Errorf("object %q not found at seq %d", payload.ObjectID, evt.Seq)
	}
	out := doc.Clone()
	delete(out.Objects, payload.ObjectID)
	order := make([]string, 0, len(out.Order))
	for _, objID := range out.Order {
		if objID != payload.ObjectID {
			order = append(order, objID)
		}
	}
	out.Order = order
	return out, nil
}

func toPointValues(points []event.Point) []PointValue {
	out := make([]PointValue, len(points))
	for i, p := range points {
		out[i] = PointValue{X: p.X, Y: p.Y}
	}
	return out
}

// strokeFillAttrs returns nil when both values are empty so that states
// rebuilt from a snapshot compare equal to states replayed from scratch.
func strokeFillAttrs(stroke, fill string) map[string]string {
	if stroke == "" && fill == "" {
		return nil
	}
	attrs := make(map[string]string)
	if stroke != "" {
		attrs["stroke"] = stroke
	}
	if fill != "" {
		attrs["fill"] = fill
	}
	return attrs
}
