package surface

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/session"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

// BindingName is the runtime binding the page calls with event payloads.
const BindingName = "chartsyncEmit"

// listenerScript hooks the Plotly graph div and forwards events through the
// binding. Times on date axes travel as unix seconds.
const listenerScript = `(function(graphID, binding) {
  if (window.__chartsync) { return "installed"; }
  var gd = document.getElementById(graphID);
  if (!gd || !gd._fullLayout) { return "no-graph"; }
  var symbol = function() { return (gd.dataset && gd.dataset.symbol) || ""; };
  var emit = function(ev) {
    try { window[binding](JSON.stringify({symbol: symbol(), event: ev})); } catch (e) {}
  };
  var toData = function(ax, v) { return ax.type === "date" ? v / 1000 : v; };
  var fromData = function(ax, v) { return ax && ax.type === "date" ? new Date(v * 1000).toISOString() : v; };
  var layout = function() {
    var fl = gd._fullLayout, axes = [];
    Object.keys(fl).forEach(function(k) {
      if (!/^[xy]axis\d*$/.test(k)) { return; }
      var ax = fl[k];
      axes.push({ref: ax._id, anchor: ax.anchor, offset: ax._offset, length: ax._length,
        range: [toData(ax, ax.r2l(ax.range[0])), toData(ax, ax.r2l(ax.range[1]))],
        type: ax.type, name: ax.meta && ax.meta.subplot || ""});
    });
    return {axes: axes};
  };
  var pointer = function(e) {
    var r = gd.getBoundingClientRect();
    return {x: e.clientX - r.left, y: e.clientY - r.top};
  };
  var keys = [];
  gd.addEventListener("mousemove", function(e) { var p = pointer(e); emit({type: "pointer_move", x: p.x, y: p.y}); });
  gd.addEventListener("click", function(e) { var p = pointer(e); emit({type: "click", x: p.x, y: p.y, shift: e.shiftKey}); });
  gd.addEventListener("mousedown", function() { emit({type: "drag", active: true}); });
  window.addEventListener("mouseup", function() { emit({type: "drag", active: false}); });
  window.addEventListener("keydown", function(e) { emit({type: "key", key: e.key}); });
  gd.on("plotly_relayout", function(changes) {
    var count = (gd.layout.shapes || []).length;
    if (changes.shapes && changes.shapes.length > keys.length) {
      var s = changes.shapes[changes.shapes.length - 1];
      emit({type: "shape_drawn", shape: {type: s.type, x0: s.x0, y0: s.y0, x1: s.x1, y1: s.y1, xref: s.xref, yref: s.yref}});
      delete changes.shapes;
    }
    if (Object.keys(changes).length) { emit({type: "relayout", changes: changes}); }
    emit({type: "layout", layout: layout()});
  });
  window.__chartsync = {
    apply: function(msg) {
      var fl = gd._fullLayout, update = {};
      if (msg.shapes) {
        keys = msg.shapes.map(function(s) { return s.key; });
        update.shapes = msg.shapes.map(function(s) {
          var xa = fl[s.xref === "x" ? "xaxis" : "xaxis" + s.xref.slice(1)];
          return {type: s.type, xref: s.xref, yref: s.yref,
            x0: fromData(xa, s.x0), x1: fromData(xa, s.x1), y0: s.y0, y1: s.y1,
            line: {color: s.color, width: s.width, dash: s.dash || "solid"}, editable: !s.system};
        });
      }
      if (msg.styles) {
        keys.forEach(function(k, i) {
          var st = msg.styles[k];
          if (!st) { return; }
          update["shapes[" + i + "].line.color"] = st.color;
          update["shapes[" + i + "].line.width"] = st.width;
          update["shapes[" + i + "].line.dash"] = st.dash || "solid";
        });
      }
      if (msg.ranges) {
        Object.keys(msg.ranges).forEach(function(k) {
          var r = msg.ranges[k];
          if (r === null) { update[k + ".autorange"] = true; return; }
          update[k + ".range"] = [fromData(fl[k], r[0]), fromData(fl[k], r[1])];
        });
      }
      if (Object.keys(update).length) { return Plotly.relayout(gd, update); }
    }
  };
  emit({type: "layout", layout: layout()});
  return "ok";
})(%q, %q)`

// InstallScript returns the expression that installs the page listener.
func InstallScript(graphID string) string {
	return fmt.Sprintf(listenerScript, graphID, BindingName)
}

// Binding is one payload delivered through the runtime binding.
type Binding struct {
	Symbol string     `json:"symbol"`
	Event  events.Raw `json:"event"`
}

// DecodeBinding parses a binding payload. The symbol falls back to def when
// the page does not name one.
func DecodeBinding(payload, def string) (Binding, error) {
	var b Binding
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return Binding{}, fmt.Errorf("decode binding payload: %w", err)
	}
	if b.Symbol = session.NormalizeSymbol(b.Symbol); b.Symbol == "" {
		b.Symbol = session.NormalizeSymbol(def)
	}
	if b.Symbol == "" {
		return Binding{}, fmt.Errorf("binding payload has no symbol")
	}
	return b, nil
}

type renderShape struct {
	Key    string  `json:"key"`
	Type   string  `json:"type"`
	XRef   string  `json:"xref"`
	YRef   string  `json:"yref"`
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Dash   string  `json:"dash,omitempty"`
	System bool    `json:"system,omitempty"`
}

type styleMsg struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
	Dash  string  `json:"dash,omitempty"`
}

type applyMsg struct {
	Shapes []renderShape          `json:"shapes,omitempty"`
	Styles map[string]styleMsg    `json:"styles,omitempty"`
	Ranges map[string]*[2]float64 `json:"ranges,omitempty"`
}

// ApplyScript renders an update as a call into the page listener. ok is
// false for updates the surface does not render.
func ApplyScript(u session.Update) (script string, ok bool, err error) {
	var msg applyMsg
	switch u.Kind {
	case session.UpdateShapes:
		msg.Shapes = make([]renderShape, 0, len(u.Shapes))
		for _, v := range u.Shapes {
			if v.Index < 0 {
				continue
			}
			msg.Shapes = append(msg.Shapes, renderShape{
				Key:    v.LocalKey,
				Type:   string(v.Kind),
				XRef:   v.Subplot.XAxis,
				YRef:   v.Subplot.YAxis,
				X0:     v.Endpoints.Start.Time,
				Y0:     v.Endpoints.Start.Value,
				X1:     v.Endpoints.End.Time,
				Y1:     v.Endpoints.End.Value,
				Color:  v.Style.Color,
				Width:  v.Style.Width,
				Dash:   v.Style.Dash,
				System: v.SystemManaged,
			})
		}
	case session.UpdateStyles:
		msg.Styles = make(map[string]styleMsg, len(u.Styles))
		for k, st := range u.Styles {
			msg.Styles[k] = styleMsg{Color: st.Color, Width: st.Width, Dash: st.Dash}
		}
	case session.UpdateViewport:
		if u.Viewport == nil {
			return "", false, nil
		}
		msg.Ranges = viewportRanges(*u.Viewport)
	default:
		return "", false, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("window.__chartsync && window.__chartsync.apply(%s)", data), true, nil
}

func viewportRanges(snap viewport.Snapshot) map[string]*[2]float64 {
	out := map[string]*[2]float64{"xaxis": nil}
	if snap.Time != nil {
		out["xaxis"] = &[2]float64{snap.Time.Min, snap.Time.Max}
	}
	for axis, r := range snap.Values {
		out[geometry.ResolveAxisKey(axis, geometry.AxisY)] = &[2]float64{r.Min, r.Max}
	}
	return out
}
