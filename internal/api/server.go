package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/hittest"
	"github.com/dgnsrekt/chartsync/internal/relay"
	"github.com/dgnsrekt/chartsync/internal/selection"
	"github.com/dgnsrekt/chartsync/internal/session"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

type Service interface {
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	OpenSession(ctx context.Context, symbol string) (SessionInfo, error)
	PostEvent(ctx context.Context, symbol string, raw events.Raw) (int, error)
	ListAnnotations(ctx context.Context, symbol string) ([]session.ShapeView, error)
	CreateAnnotation(ctx context.Context, symbol string, kind annotation.Kind, ep annotation.Endpoints, subplot geometry.SubplotRef) (session.ShapeView, error)
	MoveAnnotation(ctx context.Context, symbol, key string, ep annotation.Endpoints) (session.ShapeView, error)
	DeleteAnnotation(ctx context.Context, symbol, key string) error
	GetSelection(ctx context.Context, symbol string) (session.SelectionView, error)
	SetSelection(ctx context.Context, symbol string, keys []string) (session.SelectionView, error)
	ClearSelection(ctx context.Context, symbol string) error
	DeleteSelected(ctx context.Context, symbol string) error
	GetViewport(ctx context.Context, symbol string) (ViewportState, error)
	SetViewport(ctx context.Context, symbol, axis string, r *viewport.Range) (ViewportState, error)
	AutoFit(ctx context.Context, symbol string) (ViewportState, error)
	ApplyPreset(ctx context.Context, symbol, preset string) (ViewportState, error)
	SetIndicators(ctx context.Context, symbol string, names []string) (ViewportState, error)
	SetResolution(ctx context.Context, symbol, resolution string) (ViewportState, error)
	GetStyles(ctx context.Context, symbol string) (map[string]selection.Style, error)
	HitTest(ctx context.Context, symbol string, x, y, threshold float64) (hittest.Hit, bool, error)
}

// Options wires optional server surfaces. Nil fields disable them.
type Options struct {
	Broker   *relay.Broker
	Gatherer prometheus.Gatherer
	Version  string
}

type symbolInput struct {
	Symbol string `path:"symbol" doc:"Chart symbol (case-insensitive)"`
}

type viewportOutput struct {
	Body ViewportState
}

type statusOutput struct {
	Body struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	}
}

func newStatus(symbol, status string) *statusOutput {
	out := &statusOutput{}
	out.Body.Symbol = session.NormalizeSymbol(symbol)
	out.Body.Status = status
	return out
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	cfg := huma.DefaultConfig("Chart Sync API", version)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	docs := []byte(docsPage(version))
	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write(docs); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Broker != nil {
		router.Get("/api/v1/stream", relay.SSEHandler(opts.Broker))
		router.Get("/api/v1/sessions/{symbol}/stream", streamHandler(svc, opts.Broker))
	}

	registerSessionHandlers(api, svc)
	registerEventHandlers(api, svc)
	registerAnnotationHandlers(api, svc)
	registerSelectionHandlers(api, svc)
	registerViewportHandlers(api, svc)

	return router
}

// streamHandler opens the session so the client receives its initial state
// through the stream, then follows its updates.
func streamHandler(svc Service, broker *relay.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := session.NormalizeSymbol(chi.URLParam(r, "symbol"))
		if _, err := svc.OpenSession(r.Context(), symbol); err != nil {
			status := http.StatusInternalServerError
			var se huma.StatusError
			if errors.As(mapErr(err), &se) {
				status = se.GetStatus()
			}
			http.Error(w, err.Error(), status)
			return
		}
		relay.Stream(broker, w, r, relay.Filter{
			Symbol: symbol,
			Kinds:  relay.ParseKinds(r.URL.Query().Get("kinds")),
		})
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	var coded *apperr.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case apperr.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case apperr.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case apperr.CodeDuplicateSave:
			return huma.Error409Conflict(coded.Message)
		case apperr.CodeInvalidRange, apperr.CodeStaleAxis:
			return huma.Error422UnprocessableEntity(coded.Message)
		case apperr.CodePersistenceFailure, apperr.CodeBackendUnavailable:
			return huma.Error502BadGateway(coded.Error())
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
