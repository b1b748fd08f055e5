package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/chartsync/internal/hittest"
	"github.com/dgnsrekt/chartsync/internal/session"
)

type hitTestOutput struct {
	Body struct {
		Found      bool    `json:"found"`
		LocalKey   string  `json:"local_key,omitempty"`
		BackendID  string  `json:"backend_id,omitempty"`
		Subplot    string  `json:"subplot,omitempty"`
		DistancePx float64 `json:"distance_px,omitempty"`
	}
}

func registerSelectionHandlers(api huma.API, svc Service) {
	type selectionOutput struct {
		Body session.SelectionView
	}

	huma.Register(api, huma.Operation{OperationID: "get-selection", Method: http.MethodGet, Path: "/api/v1/sessions/{symbol}/selection", Summary: "Get hovered and selected annotations", Tags: []string{"Selection"}},
		func(ctx context.Context, input *symbolInput) (*selectionOutput, error) {
			sel, err := svc.GetSelection(ctx, input.Symbol)
			if err != nil {
				return nil, mapErr(err)
			}
			return &selectionOutput{Body: sel}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-selection", Method: http.MethodPut, Path: "/api/v1/sessions/{symbol}/selection", Summary: "Replace the selection; the last key becomes last-selected", Tags: []string{"Selection"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				Keys []string `json:"keys" doc:"Local annotation keys in selection order"`
			}
		}) (*selectionOutput, error) {
			sel, err := svc.SetSelection(ctx, input.Symbol, input.Body.Keys)
			if err != nil {
				return nil, mapErr(err)
			}
			return &selectionOutput{Body: sel}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-selection", Method: http.MethodDelete, Path: "/api/v1/sessions/{symbol}/selection", Summary: "Clear the selection", Tags: []string{"Selection"}},
		func(ctx context.Context, input *symbolInput) (*statusOutput, error) {
			if err := svc.ClearSelection(ctx, input.Symbol); err != nil {
				return nil, mapErr(err)
			}
			return newStatus(input.Symbol, "cleared"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-selected", Method: http.MethodDelete, Path: "/api/v1/sessions/{symbol}/selection/shapes", Summary: "Delete every selected annotation", Tags: []string{"Selection"}},
		func(ctx context.Context, input *symbolInput) (*statusOutput, error) {
			if err := svc.DeleteSelected(ctx, input.Symbol); err != nil {
				return nil, mapErr(err)
			}
			return newStatus(input.Symbol, "deleted"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "hit-test", Method: http.MethodPost, Path: "/api/v1/sessions/{symbol}/hit-test", Summary: "Find the annotation nearest a pointer position", Tags: []string{"Selection"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				X         float64 `json:"x" doc:"Paper-space pointer x"`
				Y         float64 `json:"y" doc:"Paper-space pointer y"`
				Threshold float64 `json:"threshold,omitempty" doc:"Pixel threshold (default from tuning)"`
			}
		}) (*hitTestOutput, error) {
			hit, found, err := svc.HitTest(ctx, input.Symbol, input.Body.X, input.Body.Y, input.Body.Threshold)
			if err != nil {
				return nil, mapErr(err)
			}
			return hitBody(hit, found), nil
		})
}

func hitBody(hit hittest.Hit, found bool) *hitTestOutput {
	out := &hitTestOutput{}
	out.Body.Found = found
	if !found {
		return out
	}
	out.Body.LocalKey = hit.Annotation.LocalKey
	out.Body.BackendID = hit.Annotation.BackendID
	out.Body.Subplot = hit.Subplot.String()
	out.Body.DistancePx = hit.Distance
	return out
}
