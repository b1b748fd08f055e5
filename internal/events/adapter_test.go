package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/viewport"
	"gonum.org/v1/gonum/spatial/r2"
)

func relayout(t *testing.T, body string) Raw {
	t.Helper()
	var changes map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &changes))
	return Raw{Type: "relayout", Changes: changes}
}

func TestTranslatePointerAndClick(t *testing.T) {
	got, err := Translate(Raw{Type: "pointer_move", X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, []Event{PointerMoved{Pointer: r2.Vec{X: 10, Y: 20}}}, got)

	got, err = Translate(Raw{Type: "click", X: 1, Y: 2, Shift: true})
	require.NoError(t, err)
	assert.Equal(t, []Event{Clicked{Pointer: r2.Vec{X: 1, Y: 2}, Additive: true}}, got)
}

func TestTranslateShapeDrawn(t *testing.T) {
	raw := Raw{Type: "shape_drawn", Shape: &RawShape{
		Type: "line",
		X0:   json.RawMessage(`1000`),
		Y0:   json.RawMessage(`100`),
		X1:   json.RawMessage(`"1970-01-01 00:33:20"`),
		Y1:   json.RawMessage(`110`),
		YRef: "y2",
	}}
	got, err := Translate(raw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	drawn := got[0].(ShapeDrawn)
	assert.Equal(t, annotation.KindLine, drawn.Kind)
	assert.Equal(t, 2000.0, drawn.Endpoints.End.Time)
	assert.Equal(t, geometry.SubplotRef{XAxis: "x", YAxis: "y2"}, drawn.Subplot)

	_, err = Translate(Raw{Type: "shape_drawn", Shape: &RawShape{Type: "circle"}})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestTranslateRelayoutShapeEdits(t *testing.T) {
	got, err := Translate(relayout(t, `{
		"shapes[3].x0": 10, "shapes[3].y1": 20,
		"shapes[1]": {"type":"rect","x0":1,"y0":2,"x1":3,"y1":4}
	}`))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0].(ShapeEdited)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, 4.0, *first.Y1)

	second := got[1].(ShapeEdited)
	assert.Equal(t, 3, second.Index)
	assert.Equal(t, 10.0, *second.X0)
	assert.Nil(t, second.Y0)
	assert.Nil(t, second.X1)
	assert.Equal(t, 20.0, *second.Y1)
}

func TestTranslateRelayoutRanges(t *testing.T) {
	got, err := Translate(relayout(t, `{
		"xaxis.range[0]": 1500, "xaxis.range[1]": 2500,
		"yaxis2.range": [30, 70],
		"yaxis.autorange": true,
		"dragmode": "drawrect"
	}`))
	require.NoError(t, err)
	assert.Equal(t, []Event{
		ModeChanged{Mode: ModeDrawRect},
		RangeChanged{Axis: viewport.TimeAxis, Range: &viewport.Range{Min: 1500, Max: 2500}},
		RangeChanged{Axis: "y"},
		RangeChanged{Axis: "y2", Range: &viewport.Range{Min: 30, Max: 70}},
	}, got)
}

func TestTranslateRelayoutDateRange(t *testing.T) {
	got, err := Translate(relayout(t, `{"xaxis2.range": ["1970-01-01 00:16:40", "1970-01-01T00:50:00Z"]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	rc := got[0].(RangeChanged)
	assert.Equal(t, viewport.TimeAxis, rc.Axis)
	assert.Equal(t, &viewport.Range{Min: 1000, Max: 3000}, rc.Range)
}

func TestTranslateRelayoutIgnoresUnknownAndHalfRanges(t *testing.T) {
	got, err := Translate(relayout(t, `{"xaxis.range[0]": 1, "title.text": "x", "width": 800}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranslateRejectsBadInput(t *testing.T) {
	cases := []Raw{
		{Type: "unknown"},
		{Type: "layout"},
		{Type: "key"},
		{Type: "shape_drawn"},
		relayout(t, `{"xaxis.range": [1]}`),
		relayout(t, `{"shapes[0].x0": "not a date"}`),
	}
	for _, raw := range cases {
		_, err := Translate(raw)
		if !apperr.Is(err, apperr.CodeValidation) {
			t.Fatalf("Translate(%+v) error = %v; want VALIDATION", raw, err)
		}
	}
}

func TestModeHitTesting(t *testing.T) {
	for mode, want := range map[Mode]bool{
		ModePan: true, ModeSelect: true, ModeZoom: false, ModeDrawLine: false, ModeDrawRect: false,
	} {
		if got := mode.HitTesting(); got != want {
			t.Fatalf("%s.HitTesting() = %v; want %v", mode, got, want)
		}
	}
	assert.False(t, Mode("lasso").Valid())
}
