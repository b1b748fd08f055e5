// Package hittest finds the annotation nearest to a pointer in pixel space,
// restricted to the subplot under the pointer.
package hittest

import (
	"math"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultThreshold is the pixel tolerance used when none is given.
const DefaultThreshold = 15.0

// Hit is the result of a successful hit test.
type Hit struct {
	Annotation annotation.Annotation
	Subplot    geometry.SubplotRef
	Distance   float64
}

// Source supplies candidate annotations for a subplot.
type Source interface {
	ListForSubplot(subplot geometry.SubplotRef, includeSystem bool) []annotation.Annotation
}

// Tester runs hit tests against an annotation source.
type Tester struct {
	src Source
}

func New(src Source) *Tester {
	return &Tester{src: src}
}

// FindNearest returns the user annotation closest to the pointer when it is
// within threshold pixels. A non-positive threshold uses DefaultThreshold.
func (t *Tester) FindNearest(pointer r2.Vec, layout geometry.Layout, threshold float64) (Hit, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	subplot, ok := geometry.SubplotAt(pointer, layout)
	if !ok {
		return Hit{}, false
	}

	best := math.Inf(1)
	var bestAnn annotation.Annotation
	for _, a := range t.src.ListForSubplot(subplot, false) {
		segs, ok := pixelSegments(a, subplot, layout)
		if !ok {
			continue
		}
		for _, seg := range segs {
			if d := geometry.DistanceToSegmentSquared(pointer, seg[0], seg[1]); d < best {
				best = d
				bestAnn = a
			}
		}
	}
	if best >= threshold*threshold {
		return Hit{}, false
	}
	return Hit{Annotation: bestAnn, Subplot: subplot, Distance: math.Sqrt(best)}, true
}

// pixelSegments converts an annotation to its pixel-space outline. Lines are a
// single segment; rectangles are their four edges. ok is false when any corner
// does not transform to a finite pixel.
func pixelSegments(a annotation.Annotation, subplot geometry.SubplotRef, layout geometry.Layout) ([][2]r2.Vec, bool) {
	s, e := a.Endpoints.Start, a.Endpoints.End
	switch a.Kind {
	case annotation.KindLine:
		p0, ok0 := layout.ToPixel(subplot, s.Time, s.Value)
		p1, ok1 := layout.ToPixel(subplot, e.Time, e.Value)
		if !ok0 || !ok1 {
			return nil, false
		}
		return [][2]r2.Vec{{p0, p1}}, true
	case annotation.KindRect:
		c0, ok0 := layout.ToPixel(subplot, s.Time, s.Value)
		c1, ok1 := layout.ToPixel(subplot, e.Time, s.Value)
		c2, ok2 := layout.ToPixel(subplot, e.Time, e.Value)
		c3, ok3 := layout.ToPixel(subplot, s.Time, e.Value)
		if !ok0 || !ok1 || !ok2 || !ok3 {
			return nil, false
		}
		return [][2]r2.Vec{{c0, c1}, {c1, c2}, {c2, c3}, {c3, c0}}, true
	}
	return nil, false
}
