package annotation

import (
	"github.com/dgnsrekt/chartsync/internal/geometry"
)

// Kind is the drawn shape variant.
type Kind string

const (
	KindLine Kind = "line"
	KindRect Kind = "rect"
)

// Valid reports whether k is a known shape kind.
func (k Kind) Valid() bool {
	return k == KindLine || k == KindRect
}

// Point is a data-space (time, value) pair.
type Point struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// Endpoints holds the start and end of a shape. For rectangles they are
// opposite corners.
type Endpoints struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Annotation is one shape record. BackendID is empty until the backend has
// confirmed persistence.
type Annotation struct {
	LocalKey      string              `json:"local_key"`
	BackendID     string              `json:"backend_id,omitempty"`
	Kind          Kind                `json:"kind"`
	Endpoints     Endpoints           `json:"endpoints"`
	Subplot       geometry.SubplotRef `json:"subplot"`
	SystemManaged bool                `json:"system_managed,omitempty"`
	Label         string              `json:"label,omitempty"`
}

// Persisted reports whether the backend has confirmed the annotation.
func (a Annotation) Persisted() bool {
	return a.BackendID != ""
}
