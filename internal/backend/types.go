package backend

import (
	"encoding/json"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

// AnnotationRecord is the backend's wire form of an annotation.
type AnnotationRecord struct {
	ID         string  `json:"id,omitempty"`
	Symbol     string  `json:"symbol"`
	Kind       string  `json:"kind"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	StartValue float64 `json:"start_value"`
	EndValue   float64 `json:"end_value"`
	Subplot    string  `json:"subplot"`
	XRef       string  `json:"xref,omitempty"`
	YRef       string  `json:"yref,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
}

// RecordFrom builds a create payload for an annotation.
func RecordFrom(a annotation.Annotation, symbol, resolution, subplotName string) AnnotationRecord {
	ref := a.Subplot.Normalize()
	return AnnotationRecord{
		ID:         a.BackendID,
		Symbol:     symbol,
		Kind:       string(a.Kind),
		StartTime:  a.Endpoints.Start.Time,
		EndTime:    a.Endpoints.End.Time,
		StartValue: a.Endpoints.Start.Value,
		EndValue:   a.Endpoints.End.Value,
		Subplot:    subplotName,
		XRef:       ref.XAxis,
		YRef:       ref.YAxis,
		Resolution: resolution,
	}
}

// Annotation converts the record to a confirmed store annotation.
func (r AnnotationRecord) Annotation() annotation.Annotation {
	return annotation.Annotation{
		BackendID: r.ID,
		Kind:      annotation.Kind(r.Kind),
		Endpoints: annotation.Endpoints{
			Start: annotation.Point{Time: r.StartTime, Value: r.StartValue},
			End:   annotation.Point{Time: r.EndTime, Value: r.EndValue},
		},
		Subplot: geometry.SubplotRef{XAxis: r.XRef, YAxis: r.YRef}.Normalize(),
	}
}

type updateRequest struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	StartValue float64 `json:"start_value"`
	EndValue   float64 `json:"end_value"`
}

// Candle is one OHLC bar. Time is unix seconds.
type Candle struct {
	Time   float64 `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// HistoryRequest is the tuple the viewport watcher sends once its quiet
// window elapses.
type HistoryRequest struct {
	Symbol     string   `json:"symbol"`
	Resolution string   `json:"resolution"`
	From       float64  `json:"from_ts"`
	To         float64  `json:"to_ts"`
	Indicators []string `json:"indicators,omitempty"`
}

// Series is a history response. Indicator payloads are passed through to the
// render surface untouched.
type Series struct {
	Symbol     string                     `json:"symbol"`
	Resolution string                     `json:"resolution"`
	From       float64                    `json:"from_ts"`
	To         float64                    `json:"to_ts"`
	Candles    []Candle                   `json:"candles"`
	Indicators map[string]json.RawMessage `json:"indicators,omitempty"`
}

// Settings is the per-symbol persisted view state.
type Settings struct {
	Resolution  string            `json:"resolution,omitempty"`
	Indicators  []string          `json:"indicators,omitempty"`
	RangePreset string            `json:"range_preset,omitempty"`
	Viewport    viewport.Snapshot `json:"viewport"`
}

// LiveConfig is the live channel reconfiguration message body.
type LiveConfig struct {
	Symbol     string   `json:"symbol"`
	Indicators []string `json:"indicators"`
	Resolution string   `json:"resolution"`
	From       float64  `json:"from_ts"`
	To         float64  `json:"to_ts"`
}
