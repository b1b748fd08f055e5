package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/selection"
	"github.com/dgnsrekt/chartsync/internal/session"
)

func registerSessionHandlers(api huma.API, svc Service) {
	type listSessionsOutput struct {
		Body struct {
			Sessions []SessionInfo `json:"sessions"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List open chart sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*listSessionsOutput, error) {
			sessions, err := svc.ListSessions(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSessionsOutput{}
			out.Body.Sessions = sessions
			if out.Body.Sessions == nil {
				out.Body.Sessions = []SessionInfo{}
			}
			return out, nil
		})

	type sessionOutput struct {
		Body SessionInfo
	}

	huma.Register(api, huma.Operation{OperationID: "open-session", Method: http.MethodPost, Path: "/api/v1/sessions/{symbol}", Summary: "Open (and load) a chart session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *symbolInput) (*sessionOutput, error) {
			info, err := svc.OpenSession(ctx, input.Symbol)
			if err != nil {
				return nil, mapErr(err)
			}
			return &sessionOutput{Body: info}, nil
		})

	type stylesOutput struct {
		Body struct {
			Styles map[string]selection.Style `json:"styles"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "get-styles", Method: http.MethodGet, Path: "/api/v1/sessions/{symbol}/styles", Summary: "Get per-annotation render styles", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *symbolInput) (*stylesOutput, error) {
			styles, err := svc.GetStyles(ctx, input.Symbol)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &stylesOutput{}
			out.Body.Styles = styles
			return out, nil
		})
}

func registerEventHandlers(api huma.API, svc Service) {
	type eventOutput struct {
		Body struct {
			Symbol  string `json:"symbol"`
			Applied int    `json:"applied" doc:"Number of typed events the payload produced"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "post-event", Method: http.MethodPost, Path: "/api/v1/sessions/{symbol}/events", Summary: "Submit a render-surface event", Tags: []string{"Events"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   events.Raw
		}) (*eventOutput, error) {
			n, err := svc.PostEvent(ctx, input.Symbol, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &eventOutput{}
			out.Body.Symbol = session.NormalizeSymbol(input.Symbol)
			out.Body.Applied = n
			return out, nil
		})
}
