// Package geometry holds the pure pixel-space helpers used for hit testing:
// segment distance, axis key resolution and subplot lookup from a paper-space
// pointer position.
package geometry

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// AxisKind distinguishes the horizontal (time) axis from value axes.
type AxisKind int

const (
	AxisX AxisKind = iota
	AxisY
)

func (k AxisKind) letter() string {
	if k == AxisY {
		return "y"
	}
	return "x"
}

// DistanceToSegmentSquared returns the squared Euclidean distance from p to
// the segment a-b. Projections outside the segment clamp to the nearest endpoint.
func DistanceToSegmentSquared(p, a, b r2.Vec) float64 {
	d := r2.Sub(b, a)
	lenSq := r2.Dot(d, d)
	if lenSq == 0 {
		return r2.Norm2(r2.Sub(p, a))
	}
	t := r2.Dot(r2.Sub(p, a), d) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	proj := r2.Add(a, r2.Scale(t, d))
	return r2.Norm2(r2.Sub(p, proj))
}

// ResolveAxisKey maps an axis reference token ("x", "y2", "") to the layout key
// the render surface uses for it ("xaxis", "yaxis2"). Empty input resolves to
// the primary axis. Tokens that are already layout keys, or that cannot be
// resolved for the requested kind, are returned unchanged.
func ResolveAxisKey(ref string, kind AxisKind) string {
	letter := kind.letter()
	if ref == "" {
		return letter + "axis"
	}
	if !strings.HasPrefix(ref, letter) || strings.HasPrefix(ref, letter+"axis") {
		return ref
	}
	suffix := ref[1:]
	if suffix == "" || suffix == "1" {
		return letter + "axis"
	}
	if n, err := strconv.Atoi(suffix); err != nil || n < 1 {
		return ref
	}
	return letter + "axis" + suffix
}

// AxisIndex returns the 1-based subplot index of an axis reference ("y" = 1,
// "y3" = 3). Unparseable references sort last.
func AxisIndex(ref string) int {
	if len(ref) <= 1 {
		return 1
	}
	n, err := strconv.Atoi(ref[1:])
	if err != nil || n < 1 {
		return math.MaxInt32
	}
	return n
}

// SubplotRef names a subplot by its (x-axis, y-axis) reference pair.
type SubplotRef struct {
	XAxis string `json:"xref"`
	YAxis string `json:"yref"`
}

// PriceSubplot is the primary price chart.
var PriceSubplot = SubplotRef{XAxis: "x", YAxis: "y"}

// Normalize fills empty references with the primary axes.
func (s SubplotRef) Normalize() SubplotRef {
	if s.XAxis == "" {
		s.XAxis = "x"
	}
	if s.YAxis == "" {
		s.YAxis = "y"
	}
	return s
}

func (s SubplotRef) String() string {
	n := s.Normalize()
	return n.XAxis + "/" + n.YAxis
}

// Axis describes one rendered axis: its pixel band in paper space and the data
// range currently mapped onto it.
type Axis struct {
	Ref    string     `json:"ref"`
	Anchor string     `json:"anchor,omitempty"`
	Offset float64    `json:"offset"`
	Length float64    `json:"length"`
	Range  [2]float64 `json:"range"`
	Type   string     `json:"type,omitempty" doc:"linear, log or date"`
	Name   string     `json:"name,omitempty" doc:"Subplot name for value axes (price or indicator id)"`
}

func (a Axis) kind() AxisKind {
	if strings.HasPrefix(a.Ref, "y") {
		return AxisY
	}
	return AxisX
}

// Contains reports whether a paper-space coordinate lies inside the axis band.
func (a Axis) Contains(px float64) bool {
	return px >= a.Offset && px <= a.Offset+a.Length
}

// ToPixel converts a data value to a paper-space pixel coordinate. Value axes
// grow upward, so their pixel coordinate is flipped. The result is NaN when
// the axis has no usable range.
func (a Axis) ToPixel(v float64) float64 {
	r0, r1 := a.Range[0], a.Range[1]
	if a.Type == "log" {
		if v <= 0 {
			return math.NaN()
		}
		v = math.Log10(v)
	}
	span := r1 - r0
	if span == 0 || a.Length <= 0 {
		return math.NaN()
	}
	frac := (v - r0) / span
	if a.kind() == AxisY {
		return a.Offset + a.Length - frac*a.Length
	}
	return a.Offset + frac*a.Length
}

// ToData converts a paper-space pixel coordinate back to a data value.
func (a Axis) ToData(px float64) float64 {
	if a.Length <= 0 {
		return math.NaN()
	}
	frac := (px - a.Offset) / a.Length
	if a.kind() == AxisY {
		frac = 1 - frac
	}
	v := a.Range[0] + frac*(a.Range[1]-a.Range[0])
	if a.Type == "log" {
		return math.Pow(10, v)
	}
	return v
}

// Layout is a snapshot of the render surface's axis metrics.
type Layout struct {
	Axes []Axis `json:"axes"`
}

// Axis looks up an axis by reference token or layout key.
func (l Layout) Axis(ref string) (Axis, bool) {
	for _, a := range l.Axes {
		if a.Ref == ref {
			return a, true
		}
	}
	if strings.Contains(ref, "axis") {
		for _, a := range l.Axes {
			if ResolveAxisKey(a.Ref, a.kind()) == ref {
				return a, true
			}
		}
	}
	return Axis{}, false
}

// Has reports whether both axes of the subplot are rendered.
func (l Layout) Has(s SubplotRef) bool {
	s = s.Normalize()
	_, okX := l.Axis(s.XAxis)
	_, okY := l.Axis(s.YAxis)
	return okX && okY
}

// ToPixel converts a data-space (time, value) pair on the given subplot to a
// paper-space pixel vector. ok is false when the subplot is missing or the
// transform is not finite.
func (l Layout) ToPixel(s SubplotRef, t, v float64) (r2.Vec, bool) {
	s = s.Normalize()
	xa, okX := l.Axis(s.XAxis)
	ya, okY := l.Axis(s.YAxis)
	if !okX || !okY {
		return r2.Vec{}, false
	}
	p := r2.Vec{X: xa.ToPixel(t), Y: ya.ToPixel(v)}
	if !finite(p.X) || !finite(p.Y) {
		return r2.Vec{}, false
	}
	return p, true
}

// SubplotAt returns the subplot whose value-axis band contains the pointer's
// paper-space Y and whose anchored time-axis band contains its X. Value axes
// are visited in ascending subplot index so the first one wins when bands overlap.
func SubplotAt(pointer r2.Vec, l Layout) (SubplotRef, bool) {
	var yAxes []Axis
	for _, a := range l.Axes {
		if a.kind() == AxisY {
			yAxes = append(yAxes, a)
		}
	}
	sort.SliceStable(yAxes, func(i, j int) bool {
		return AxisIndex(yAxes[i].Ref) < AxisIndex(yAxes[j].Ref)
	})

	for _, ya := range yAxes {
		if !ya.Contains(pointer.Y) {
			continue
		}
		anchor := ya.Anchor
		if anchor == "" {
			anchor = "x"
		}
		xa, ok := l.Axis(anchor)
		if !ok || !xa.Contains(pointer.X) {
			continue
		}
		return SubplotRef{XAxis: xa.Ref, YAxis: ya.Ref}, true
	}
	return SubplotRef{}, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
