package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/session"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

func registerViewportHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-viewport", Method: http.MethodGet, Path: "/api/v1/sessions/{symbol}/viewport", Summary: "Get visible ranges, loaded coverage and chart settings", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *symbolInput) (*viewportOutput, error) {
			st, err := svc.GetViewport(ctx, input.Symbol)
			if err != nil {
				return nil, mapErr(err)
			}
			return &viewportOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-viewport", Method: http.MethodPut, Path: "/api/v1/sessions/{symbol}/viewport", Summary: "Set one axis range, or auto-fit it", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				Axis string   `json:"axis,omitempty" doc:"x for time, y/y2/... for value axes (default x)"`
				Auto bool     `json:"auto,omitempty" doc:"Return the axis to auto-fit"`
				Min  *float64 `json:"min,omitempty"`
				Max  *float64 `json:"max,omitempty"`
			}
		}) (*viewportOutput, error) {
			var r *viewport.Range
			if !input.Body.Auto {
				if input.Body.Min == nil || input.Body.Max == nil {
					return nil, mapErr(apperr.Validation("min and max are required unless auto is set"))
				}
				r = &viewport.Range{Min: *input.Body.Min, Max: *input.Body.Max}
			}
			st, err := svc.SetViewport(ctx, input.Symbol, input.Body.Axis, r)
			if err != nil {
				return nil, mapErr(err)
			}
			return &viewportOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "autofit-viewport", Method: http.MethodPost, Path: "/api/v1/sessions/{symbol}/viewport/autofit", Summary: "Return every axis to auto-fit", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *symbolInput) (*viewportOutput, error) {
			st, err := svc.AutoFit(ctx, input.Symbol)
			if err != nil {
				return nil, mapErr(err)
			}
			return &viewportOutput{Body: st}, nil
		})

	type presetsOutput struct {
		Body struct {
			Presets []string `json:"presets"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-presets", Method: http.MethodGet, Path: "/api/v1/presets", Summary: "List range presets", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *struct{}) (*presetsOutput, error) {
			out := &presetsOutput{}
			out.Body.Presets = session.Presets()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "apply-preset", Method: http.MethodPost, Path: "/api/v1/sessions/{symbol}/viewport/preset", Summary: "Apply a named time range preset", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				Preset string `json:"preset" enum:"1D,5D,1M,3M,6M,1Y,ALL" doc:"Range preset"`
			}
		}) (*viewportOutput, error) {
			st, err := svc.ApplyPreset(ctx, input.Symbol, input.Body.Preset)
			if err != nil {
				return nil, mapErr(err)
			}
			return &viewportOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-indicators", Method: http.MethodPut, Path: "/api/v1/sessions/{symbol}/indicators", Summary: "Replace active indicators and reload data", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				Indicators []string `json:"indicators" doc:"Indicator ids, e.g. rsi, stochastic"`
			}
		}) (*viewportOutput, error) {
			st, err := svc.SetIndicators(ctx, input.Symbol, input.Body.Indicators)
			if err != nil {
				return nil, mapErr(err)
			}
			return &viewportOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-resolution", Method: http.MethodPut, Path: "/api/v1/sessions/{symbol}/resolution", Summary: "Switch bar resolution and reload data", Tags: []string{"Viewport"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				Resolution string `json:"resolution" minLength:"1" doc:"Bar resolution, e.g. 1m, 1h, 1D"`
			}
		}) (*viewportOutput, error) {
			st, err := svc.SetResolution(ctx, input.Symbol, input.Body.Resolution)
			if err != nil {
				return nil, mapErr(err)
			}
			return &viewportOutput{Body: st}, nil
		})
}
