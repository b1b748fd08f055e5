package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/viewport"
	"gonum.org/v1/gonum/spatial/r2"
)

// Raw is the payload posted by the render surface.
type Raw struct {
	Type    string                     `json:"type" enum:"pointer_move,click,shape_drawn,relayout,layout,drag,key" doc:"Event type"`
	X       float64                    `json:"x,omitempty" doc:"Paper-space pointer x"`
	Y       float64                    `json:"y,omitempty" doc:"Paper-space pointer y"`
	Shift   bool                       `json:"shift,omitempty" doc:"Modifier held (additive selection)"`
	Shape   *RawShape                  `json:"shape,omitempty" doc:"Drawn shape (shape_drawn)"`
	Changes map[string]json.RawMessage `json:"changes,omitempty" doc:"Relayout key/value map (relayout)"`
	Layout  *geometry.Layout           `json:"layout,omitempty" doc:"Axis metrics (layout)"`
	Active  bool                       `json:"active,omitempty" doc:"Drag in progress (drag)"`
	Key     string                     `json:"key,omitempty" doc:"Key name (key)"`
}

// RawShape is a shape in the surface's own descriptor format. Coordinates are
// numbers or date strings.
type RawShape struct {
	Type string          `json:"type" enum:"line,rect"`
	X0   json.RawMessage `json:"x0"`
	Y0   json.RawMessage `json:"y0"`
	X1   json.RawMessage `json:"x1"`
	Y1   json.RawMessage `json:"y1"`
	XRef string          `json:"xref,omitempty"`
	YRef string          `json:"yref,omitempty"`
}

var (
	shapeFieldKey = regexp.MustCompile(`^shapes\[(\d+)\]\.(x0|y0|x1|y1)$`)
	shapeKey      = regexp.MustCompile(`^shapes\[(\d+)\]$`)
	axisRangeKey  = regexp.MustCompile(`^([xy]axis\d*)\.(range\[[01]\]|range|autorange)$`)
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Translate converts a raw payload into typed events. A relayout can yield
// several events; unknown relayout keys are ignored.
func Translate(raw Raw) ([]Event, error) {
	switch raw.Type {
	case "pointer_move":
		return []Event{PointerMoved{Pointer: r2.Vec{X: raw.X, Y: raw.Y}}}, nil
	case "click":
		return []Event{Clicked{Pointer: r2.Vec{X: raw.X, Y: raw.Y}, Additive: raw.Shift}}, nil
	case "shape_drawn":
		if raw.Shape == nil {
			return nil, apperr.Validation("shape_drawn requires shape")
		}
		e, err := translateShape(*raw.Shape)
		if err != nil {
			return nil, err
		}
		return []Event{e}, nil
	case "relayout":
		return translateRelayout(raw.Changes)
	case "layout":
		if raw.Layout == nil {
			return nil, apperr.Validation("layout requires layout")
		}
		return []Event{LayoutChanged{Layout: *raw.Layout}}, nil
	case "drag":
		return []Event{DragState{Active: raw.Active}}, nil
	case "key":
		if raw.Key == "" {
			return nil, apperr.Validation("key requires key")
		}
		return []Event{KeyPressed{Key: raw.Key}}, nil
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown event type %q", raw.Type))
	}
}

func translateShape(s RawShape) (ShapeDrawn, error) {
	var kind annotation.Kind
	switch s.Type {
	case "line":
		kind = annotation.KindLine
	case "rect":
		kind = annotation.KindRect
	default:
		return ShapeDrawn{}, apperr.Validation(fmt.Sprintf("unsupported shape type %q", s.Type))
	}
	var coords [4]float64
	for i, field := range []json.RawMessage{s.X0, s.Y0, s.X1, s.Y1} {
		v, err := parseCoord(field)
		if err != nil {
			return ShapeDrawn{}, apperr.Validation("shape coordinate: " + err.Error())
		}
		coords[i] = v
	}
	return ShapeDrawn{
		Kind: kind,
		Endpoints: annotation.Endpoints{
			Start: annotation.Point{Time: coords[0], Value: coords[1]},
			End:   annotation.Point{Time: coords[2], Value: coords[3]},
		},
		Subplot: geometry.SubplotRef{XAxis: s.XRef, YAxis: s.YRef}.Normalize(),
	}, nil
}

type axisUpdate struct {
	lo, hi    *float64
	whole     *viewport.Range
	autorange bool
}

func translateRelayout(changes map[string]json.RawMessage) ([]Event, error) {
	edits := map[int]*ShapeEdited{}
	axes := map[string]*axisUpdate{}
	var out []Event

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := changes[key]
		if key == "dragmode" {
			var mode string
			if err := json.Unmarshal(val, &mode); err != nil {
				return nil, apperr.Validation("dragmode must be a string")
			}
			out = append(out, ModeChanged{Mode: Mode(mode)})
			continue
		}
		if m := shapeFieldKey.FindStringSubmatch(key); m != nil {
			idx, _ := strconv.Atoi(m[1])
			v, err := parseCoord(val)
			if err != nil {
				return nil, apperr.Validation(key + ": " + err.Error())
			}
			e := edits[idx]
			if e == nil {
				e = &ShapeEdited{Index: idx}
				edits[idx] = e
			}
			switch m[2] {
			case "x0":
				e.X0 = &v
			case "y0":
				e.Y0 = &v
			case "x1":
				e.X1 = &v
			case "y1":
				e.Y1 = &v
			}
			continue
		}
		if m := shapeKey.FindStringSubmatch(key); m != nil {
			idx, _ := strconv.Atoi(m[1])
			var s RawShape
			if err := json.Unmarshal(val, &s); err != nil {
				return nil, apperr.Validation(key + ": invalid shape")
			}
			e := &ShapeEdited{Index: idx}
			for _, p := range []struct {
				raw json.RawMessage
				dst **float64
			}{{s.X0, &e.X0}, {s.Y0, &e.Y0}, {s.X1, &e.X1}, {s.Y1, &e.Y1}} {
				if len(p.raw) == 0 {
					continue
				}
				v, err := parseCoord(p.raw)
				if err != nil {
					return nil, apperr.Validation(key + ": " + err.Error())
				}
				*p.dst = &v
			}
			edits[idx] = e
			continue
		}
		if m := axisRangeKey.FindStringSubmatch(key); m != nil {
			axis := axisRef(m[1])
			u := axes[axis]
			if u == nil {
				u = &axisUpdate{}
				axes[axis] = u
			}
			switch m[2] {
			case "autorange":
				var auto bool
				if json.Unmarshal(val, &auto) == nil && auto {
					u.autorange = true
				}
			case "range":
				var pair []json.RawMessage
				if err := json.Unmarshal(val, &pair); err != nil || len(pair) != 2 {
					return nil, apperr.Validation(key + " must be a two-element array")
				}
				lo, err := parseCoord(pair[0])
				if err != nil {
					return nil, apperr.Validation(key + ": " + err.Error())
				}
				hi, err := parseCoord(pair[1])
				if err != nil {
					return nil, apperr.Validation(key + ": " + err.Error())
				}
				u.whole = &viewport.Range{Min: lo, Max: hi}
			default:
				v, err := parseCoord(val)
				if err != nil {
					return nil, apperr.Validation(key + ": " + err.Error())
				}
				if m[2] == "range[0]" {
					u.lo = &v
				} else {
					u.hi = &v
				}
			}
		}
	}

	idxs := make([]int, 0, len(edits))
	for i := range edits {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		out = append(out, *edits[i])
	}

	names := make([]string, 0, len(axes))
	for a := range axes {
		names = append(names, a)
	}
	sort.Strings(names)
	for _, name := range names {
		u := axes[name]
		switch {
		case u.autorange:
			out = append(out, RangeChanged{Axis: name})
		case u.whole != nil:
			out = append(out, RangeChanged{Axis: name, Range: u.whole})
		case u.lo != nil && u.hi != nil:
			out = append(out, RangeChanged{Axis: name, Range: &viewport.Range{Min: *u.lo, Max: *u.hi}})
		}
	}
	return out, nil
}

// axisRef maps a layout key to a viewport axis id. All x axes share the time
// axis; y axes keep their own id ("yaxis2" -> "y2").
func axisRef(layoutKey string) string {
	if strings.HasPrefix(layoutKey, "xaxis") {
		return viewport.TimeAxis
	}
	return "y" + strings.TrimPrefix(layoutKey, "yaxis")
}

// parseCoord accepts a JSON number or a date string and returns a float; dates
// become unix seconds.
func parseCoord(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected number or date string")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return float64(t.UnixNano()) / 1e9, nil
		}
	}
	return 0, fmt.Errorf("unparseable coordinate %q", s)
}
