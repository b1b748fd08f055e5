package session

import (
	"encoding/json"
	"time"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/selection"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

// UpdateKind names what an Update carries.
type UpdateKind string

const (
	UpdateShapes       UpdateKind = "shapes"
	UpdateStyles       UpdateKind = "styles"
	UpdateHistory      UpdateKind = "history"
	UpdateLive         UpdateKind = "live"
	UpdateNotification UpdateKind = "notification"
	UpdateViewport     UpdateKind = "viewport"
)

// ShapeView is an annotation as the render surface sees it. Index is the
// position in the rendered shape list, or -1 when the annotation is hidden
// because its subplot is not in the current layout.
type ShapeView struct {
	annotation.Annotation
	Index     int             `json:"index"`
	Style     selection.Style `json:"style"`
	SaveState string          `json:"save_state"`
	Stale     bool            `json:"stale,omitempty"`
}

// Notification is a user-visible message.
type Notification struct {
	Level     string `json:"level" enum:"info,warning,error"`
	Op        string `json:"op"`
	Message   string `json:"message"`
	LocalKey  string `json:"local_key,omitempty"`
	BackendID string `json:"backend_id,omitempty"`
}

// Update is pushed to sinks whenever the session's visible state changes.
type Update struct {
	Kind         UpdateKind                 `json:"kind"`
	Symbol       string                     `json:"symbol"`
	At           time.Time                  `json:"at"`
	Shapes       []ShapeView                `json:"shapes,omitempty"`
	Styles       map[string]selection.Style `json:"styles,omitempty"`
	History      *backend.Series            `json:"history,omitempty"`
	LiveConfig   *backend.LiveConfig        `json:"live_config,omitempty"`
	LiveFrame    json.RawMessage            `json:"live_frame,omitempty"`
	Notification *Notification              `json:"notification,omitempty"`
	Viewport     *viewport.Snapshot         `json:"viewport,omitempty"`
}

// Sink receives session updates. Publish must not block.
type Sink interface {
	Publish(u Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u Update)

func (f SinkFunc) Publish(u Update) { f(u) }

// MultiSink fans an update out to every non-nil sink.
type MultiSink []Sink

func (m MultiSink) Publish(u Update) {
	for _, s := range m {
		if s != nil {
			s.Publish(u)
		}
	}
}

// Notifier delivers notifications outside the session's own sink.
type Notifier interface {
	Notify(symbol string, n Notification)
}
