package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/session"
)

type pointBody struct {
	Time  float64 `json:"time" doc:"Unix seconds"`
	Value float64 `json:"value"`
}

func (p pointBody) point() annotation.Point {
	return annotation.Point{Time: p.Time, Value: p.Value}
}

func registerAnnotationHandlers(api huma.API, svc Service) {
	type annotationOutput struct {
		Body session.ShapeView
	}

	type listAnnotationsOutput struct {
		Body struct {
			Annotations []session.ShapeView `json:"annotations"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-annotations", Method: http.MethodGet, Path: "/api/v1/sessions/{symbol}/annotations", Summary: "List annotations with render index, style and save state", Tags: []string{"Annotations"}},
		func(ctx context.Context, input *symbolInput) (*listAnnotationsOutput, error) {
			views, err := svc.ListAnnotations(ctx, input.Symbol)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listAnnotationsOutput{}
			out.Body.Annotations = views
			if out.Body.Annotations == nil {
				out.Body.Annotations = []session.ShapeView{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "create-annotation", Method: http.MethodPost, Path: "/api/v1/sessions/{symbol}/annotations", Summary: "Draw an annotation and persist it", Tags: []string{"Annotations"}, DefaultStatus: http.StatusCreated},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Body   struct {
				Kind  string    `json:"kind" enum:"line,rect" doc:"Shape kind"`
				Start pointBody `json:"start"`
				End   pointBody `json:"end"`
				XRef  string    `json:"xref,omitempty" doc:"Horizontal axis reference (default x)"`
				YRef  string    `json:"yref,omitempty" doc:"Vertical axis reference (default y)"`
			}
		}) (*annotationOutput, error) {
			ep := annotation.Endpoints{Start: input.Body.Start.point(), End: input.Body.End.point()}
			subplot := geometry.SubplotRef{XAxis: input.Body.XRef, YAxis: input.Body.YRef}.Normalize()
			v, err := svc.CreateAnnotation(ctx, input.Symbol, annotation.Kind(input.Body.Kind), ep, subplot)
			if err != nil {
				return nil, mapErr(err)
			}
			return &annotationOutput{Body: v}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "move-annotation", Method: http.MethodPut, Path: "/api/v1/sessions/{symbol}/annotations/{key}", Summary: "Move an annotation's endpoints", Tags: []string{"Annotations"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Key    string `path:"key" doc:"Local annotation key"`
			Body   struct {
				Start pointBody `json:"start"`
				End   pointBody `json:"end"`
			}
		}) (*annotationOutput, error) {
			ep := annotation.Endpoints{Start: input.Body.Start.point(), End: input.Body.End.point()}
			v, err := svc.MoveAnnotation(ctx, input.Symbol, input.Key, ep)
			if err != nil {
				return nil, mapErr(err)
			}
			return &annotationOutput{Body: v}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-annotation", Method: http.MethodDelete, Path: "/api/v1/sessions/{symbol}/annotations/{key}", Summary: "Delete an annotation", Tags: []string{"Annotations"}},
		func(ctx context.Context, input *struct {
			Symbol string `path:"symbol"`
			Key    string `path:"key" doc:"Local annotation key"`
		}) (*statusOutput, error) {
			if err := svc.DeleteAnnotation(ctx, input.Symbol, input.Key); err != nil {
				return nil, mapErr(err)
			}
			return newStatus(input.Symbol, "deleted"), nil
		})
}
