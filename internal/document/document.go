// Package document holds the materialized drawing state and its metadata.
package document

import "time"

// CurrentFormatVersion is the payload dialect written by this build. Older
// documents advance to it one version at a time through store migrations.
const CurrentFormatVersion = 2

// Metadata describes a stored document.
type Metadata struct {
	ID            string
	Title         string
	FormatVersion int
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// Object is a single drawable element.
type Object struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"`
	Points []PointValue      `json:"points,omitempty"`
	X      float64           `json:"x"`
	Y      float64           `json:"y"`
	Width  float64           `json:"width,omitempty"`
	Height float64           `json:"height,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// PointValue mirrors event.Point without importing the event package into
// serialized state.
type PointValue struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Object kinds.
const (
	KindPath    = "path"
	KindRect    = "rect"
	KindEllipse = "ellipse"
)

// Document is the full reconstructed drawing state at a sequence.
type Document struct {
	ID      string            `json:"id"`
	Objects map[string]Object `json:"objects"`
	Order   []string          `json:"order"`
}

// New returns the empty initial state for a document. Replaying from
// sequence 0 always starts here.
func New(id string) Document {
	return Document{
		ID:      id,
		Objects: make(map[string]Object),
		Order:   []string{},
	}
}

// Clone returns a deep copy. Reducers operate on copies so a caller-held
// state is never mutated mid-snapshot.
func (d Document) Clone() Document {
	out := Document{
		ID:      d.ID,
		Objects: make(map[string]Object, len(d.Objects)),
		Order:   make([]string, len(d.Order)),
	}
	copy(out.Order, d.Order)
	for id, obj := range d.Objects {
		out.Objects[id] = cloneObject(obj)
	}
	return out
}

func cloneObject(obj Object) Object {
	out := obj
	if obj.Points != nil {
		out.Points = make([]PointValue, len(obj.Points))
		copy(out.Points, obj.Points)
	}
	if obj.Attrs != nil {
		out.Attrs = make(map[string]string, len(obj.Attrs))
		for k, v := range obj.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}
