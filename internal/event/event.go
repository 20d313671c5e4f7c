// Package event defines the unified change journal records for documents.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SeqUnassigned marks an event that has not been persisted yet. The store
// assigns the real sequence inside the append transaction.
const SeqUnassigned int64 = -1

// Type identifies the kind of change an event records.
type Type string

const (
	// TypePathCreated records a new freehand path.
	TypePathCreated Type = "path.created"
	// TypePathEdited records a replacement of a path's points.
	TypePathEdited Type = "path.edited"
	// TypeShapeCreated records a new primitive shape.
	TypeShapeCreated Type = "shape.created"
	// TypeObjectTranslated records an object moving to an absolute position.
	TypeObjectTranslated Type = "object.translated"
	// TypeObjectAttributeSet records a single styling attribute change.
	TypeObjectAttributeSet Type = "object.attribute_set"
	// TypeObjectReordered records a z-order change.
	TypeObjectReordered Type = "object.reordered"
	// TypeObjectDeleted records an object removal.
	TypeObjectDeleted Type = "object.deleted"
)

// Event is an immutable, sequenced record of a single document change.
type Event struct {
	ID          string
	DocumentID  string
	Seq         int64
	Timestamp   time.Time
	Type        Type
	PayloadJSON json.RawMessage
}

// Validate checks the event envelope. It is applied before persistence on
// both the recording and import paths.
func (e Event) Validate() error {
	if _, err := uuid.Parse(strings.TrimSpace(e.ID)); err != nil {
		return fmt.Errorf("event id must be a UUID: %w", err)
	}
	if strings.TrimSpace(e.DocumentID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.UnixMilli() < 0 {
		return fmt.Errorf("timestamp must not be negative")
	}
	return nil
}

// Point is a 2D coordinate in document space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathCreatedPayload is the payload for path.created.
type PathCreatedPayload struct {
	PathID string  `json:"path_id"`
	Points []Point `json:"points"`
	Stroke string  `json:"stroke,omitempty"`
	Fill   string  `json:"fill,omitempty"`
}

// PathEditedPayload is the payload for path.edited.
type PathEditedPayload struct {
	PathID string  `json:"path_id"`
	Points []Point `json:"points"`
}

// ShapeCreatedPayload is the payload for shape.created.
type ShapeCreatedPayload struct {
	ShapeID string  `json:"shape_id"`
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Stroke  string  `json:"stroke,omitempty"`
	Fill    string  `json:"fill,omitempty"`
}

// ObjectTranslatedPayload is the payload for object.translated. Positions are
// absolute so coalesced drag events can be collapsed to the latest value.
type ObjectTranslatedPayload struct {
	ObjectID string  `json:"object_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// ObjectAttributeSetPayload is the payload for object.attribute_set.
type ObjectAttributeSetPayload struct {
	ObjectID string `json:"object_id"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// ObjectReorderedPayload is the payload for object.reordered.
type ObjectReorderedPayload struct {
	ObjectID string `json:"object_id"`
	Index    int    `json:"index"`
}

// ObjectDeletedPayload is the payload for object.deleted.
type ObjectDeletedPayload struct {
	ObjectID string `json:"object_id"`
}

// Input describes a change submitted by a tool to the recorder.
type Input struct {
	DocumentID string
	Type       Type
	Payload    any

	// CoalesceKey groups continuous events (e.g. the dragged object id) so
	// the sampler can collapse them. Ignored for discrete events.
	CoalesceKey string
	// Continuous marks high-frequency input subject to sampling.
	Continuous bool

	// ContextID identifies the originating tool context for operation
	// grouping. Label names the resulting undoable operation.
	ContextID string
	Label     string
	// EndsOperation is an explicit operation boundary marker.
	EndsOperation bool
}

// New builds an unsequenced event from recording input.
func New(in Input, at time.Time) (Event, error) {
	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return Event{
		ID:          uuid.NewString(),
		DocumentID:  in.DocumentID,
		Seq:         SeqUnassigned,
		Timestamp:   at.UTC().Truncate(time.Millisecond),
		Type:        in.Type,
		PayloadJSON: payloadJSON,
	}, nil
}
