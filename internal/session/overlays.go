package session

import (
	"math"
	"strconv"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"gonum.org/v1/gonum/spatial/r2"
)

const crosshairLabel = "crosshair"

// guideLevels are the overbought/oversold lines drawn on oscillator panes.
var guideLevels = map[string][]float64{
	"rsi":        {70, 30},
	"stoch":      {80, 20},
	"stochastic": {80, 20},
}

// moveCrosshair places the vertical crosshair under the pointer, spanning the
// value range of the subplot it is over, or removes it outside every subplot.
func (s *Session) moveCrosshair(p r2.Vec, layout geometry.Layout) {
	subplot, ok := geometry.SubplotAt(p, layout)
	if !ok {
		if s.store.RemoveSystem(crosshairLabel) {
			s.requestShapes()
		}
		return
	}
	xAxis, okX := layout.Axis(subplot.XAxis)
	yAxis, okY := layout.Axis(subplot.YAxis)
	if !okX || !okY {
		return
	}
	t := xAxis.ToData(p.X)
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return
	}
	s.store.SetSystem(crosshairLabel, annotation.KindLine, annotation.Endpoints{
		Start: annotation.Point{Time: t, Value: yAxis.ToData(yAxis.Offset + yAxis.Length)},
		End:   annotation.Point{Time: t, Value: yAxis.ToData(yAxis.Offset)},
	}, subplot)
	s.requestShapes()
}

// syncGuides draws guide lines for every active oscillator whose pane is in
// the layout and removes the rest. Lines span the loaded data, or the visible
// time range before any data arrived.
func (s *Session) syncGuides() {
	s.mu.Lock()
	layout, hasLayout := s.layout, s.hasLayout
	active := make(map[string]bool, len(s.indicators))
	for _, name := range s.indicators {
		active[name] = true
	}
	s.mu.Unlock()

	span, haveSpan := s.model.Coverage()
	for name, levels := range guideLevels {
		subplot, inLayout := paneFor(layout, name)
		show := hasLayout && active[name] && inLayout
		if show && !haveSpan {
			if ax, ok := layout.Axis(subplot.XAxis); ok && ax.Range[0] < ax.Range[1] {
				span.Min, span.Max = ax.Range[0], ax.Range[1]
			} else {
				show = false
			}
		}
		for _, level := range levels {
			label := guideLabel(name, level)
			if !show {
				s.store.RemoveSystem(label)
				continue
			}
			s.store.SetSystem(label, annotation.KindLine, annotation.Endpoints{
				Start: annotation.Point{Time: span.Min, Value: level},
				End:   annotation.Point{Time: span.Max, Value: level},
			}, subplot)
		}
	}
}

// paneFor finds the subplot whose value axis is named after an indicator.
func paneFor(layout geometry.Layout, name string) (geometry.SubplotRef, bool) {
	for _, ax := range layout.Axes {
		if ax.Name != name || len(ax.Ref) == 0 || ax.Ref[0] != 'y' {
			continue
		}
		x := ax.Anchor
		if x == "" {
			x = "x"
		}
		return geometry.SubplotRef{XAxis: x, YAxis: ax.Ref}, true
	}
	return geometry.SubplotRef{}, false
}

func guideLabel(name string, level float64) string {
	return "guide:" + name + ":" + strconv.FormatFloat(level, 'f', -1, 64)
}
