// Package events turns raw render-surface payloads into a closed set of typed
// events. Nothing downstream of Translate looks at relayout key strings.
package events

import (
	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/viewport"
	"gonum.org/v1/gonum/spatial/r2"
)

// Event is one of the concrete types below.
type Event interface {
	eventKind() string
}

// PointerMoved carries a paper-space pointer position.
type PointerMoved struct {
	Pointer r2.Vec
}

// Clicked is a pointer click. Additive is set when a modifier key extends the
// selection.
type Clicked struct {
	Pointer  r2.Vec
	Additive bool
}

// ShapeDrawn is a shape the user just finished drawing.
type ShapeDrawn struct {
	Kind      annotation.Kind
	Endpoints annotation.Endpoints
	Subplot   geometry.SubplotRef
}

// ShapeEdited reports new coordinates for the shape at a render index. Nil
// fields were not part of the edit.
type ShapeEdited struct {
	Index int
	X0    *float64
	Y0    *float64
	X1    *float64
	Y1    *float64
}

// RangeChanged reports a new axis range. A nil Range is an auto-fit.
type RangeChanged struct {
	Axis  string
	Range *viewport.Range
}

// ModeChanged reports a new interaction mode.
type ModeChanged struct {
	Mode Mode
}

// LayoutChanged carries fresh axis metrics.
type LayoutChanged struct {
	Layout geometry.Layout
}

// DragState reports the start or end of a drag on the surface.
type DragState struct {
	Active bool
}

// KeyPressed is a keyboard event forwarded by the surface.
type KeyPressed struct {
	Key string
}

func (PointerMoved) eventKind() string  { return "pointer_move" }
func (Clicked) eventKind() string       { return "click" }
func (ShapeDrawn) eventKind() string    { return "shape_drawn" }
func (ShapeEdited) eventKind() string   { return "shape_edited" }
func (RangeChanged) eventKind() string  { return "range_changed" }
func (ModeChanged) eventKind() string   { return "mode_changed" }
func (LayoutChanged) eventKind() string { return "layout" }
func (DragState) eventKind() string     { return "drag" }
func (KeyPressed) eventKind() string    { return "key" }

// KindOf names an event for logs.
func KindOf(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventKind()
}

// Mode is the render surface's drag mode.
type Mode string

const (
	ModePan      Mode = "pan"
	ModeSelect   Mode = "select"
	ModeZoom     Mode = "zoom"
	ModeDrawLine Mode = "drawline"
	ModeDrawRect Mode = "drawrect"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePan, ModeSelect, ModeZoom, ModeDrawLine, ModeDrawRect:
		return true
	}
	return false
}

// HitTesting reports whether pointer moves should be hit-tested in this mode.
// Draw and zoom modes let the surface own the pointer.
func (m Mode) HitTesting() bool {
	return m == ModePan || m == ModeSelect
}
