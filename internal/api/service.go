package api

import (
	"context"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/hittest"
	"github.com/dgnsrekt/chartsync/internal/selection"
	"github.com/dgnsrekt/chartsync/internal/session"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

// ViewportState is the viewport plus the settings that shape it.
type ViewportState struct {
	viewport.Snapshot
	Preset     string   `json:"preset,omitempty"`
	Resolution string   `json:"resolution"`
	Indicators []string `json:"indicators"`
}

// SessionInfo summarizes an open session.
type SessionInfo struct {
	Symbol     string            `json:"symbol"`
	Resolution string            `json:"resolution"`
	Indicators []string          `json:"indicators"`
	Mode       string            `json:"mode"`
	Shapes     int               `json:"shapes"`
	SaveStates map[string]string `json:"save_states,omitempty"`
}

// RegistryService serves the API from a session registry.
type RegistryService struct {
	reg *session.Registry
}

func NewRegistryService(reg *session.Registry) *RegistryService {
	return &RegistryService{reg: reg}
}

func (s *RegistryService) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	for _, sym := range s.reg.Symbols() {
		sess, ok := s.reg.Lookup(sym)
		if !ok {
			continue
		}
		out = append(out, info(sess))
	}
	return out, nil
}

func (s *RegistryService) OpenSession(ctx context.Context, symbol string) (SessionInfo, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return SessionInfo{}, err
	}
	return info(sess), nil
}

func info(sess *session.Session) SessionInfo {
	return SessionInfo{
		Symbol:     sess.Symbol(),
		Resolution: sess.Resolution(),
		Indicators: sess.Indicators(),
		Mode:       string(sess.Mode()),
		Shapes:     len(sess.Annotations()),
		SaveStates: sess.SaveStates(),
	}
}

func (s *RegistryService) PostEvent(ctx context.Context, symbol string, raw events.Raw) (int, error) {
	return s.reg.Dispatch(ctx, symbol, raw)
}

func (s *RegistryService) ListAnnotations(ctx context.Context, symbol string) ([]session.ShapeView, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return sess.Annotations(), nil
}

func (s *RegistryService) CreateAnnotation(ctx context.Context, symbol string, kind annotation.Kind, ep annotation.Endpoints, subplot geometry.SubplotRef) (session.ShapeView, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return session.ShapeView{}, err
	}
	return sess.CreateAnnotation(ctx, kind, ep, subplot)
}

func (s *RegistryService) MoveAnnotation(ctx context.Context, symbol, key string, ep annotation.Endpoints) (session.ShapeView, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return session.ShapeView{}, err
	}
	if err := sess.MoveAnnotation(key, ep); err != nil {
		return session.ShapeView{}, err
	}
	v, _ := sess.Annotation(key)
	return v, nil
}

func (s *RegistryService) DeleteAnnotation(ctx context.Context, symbol, key string) error {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return err
	}
	return sess.DeleteAnnotation(ctx, key)
}

func (s *RegistryService) GetSelection(ctx context.Context, symbol string) (session.SelectionView, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return session.SelectionView{}, err
	}
	return sess.Selection(), nil
}

func (s *RegistryService) SetSelection(ctx context.Context, symbol string, keys []string) (session.SelectionView, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return session.SelectionView{}, err
	}
	if err := sess.Select(keys); err != nil {
		return session.SelectionView{}, err
	}
	return sess.Selection(), nil
}

func (s *RegistryService) ClearSelection(ctx context.Context, symbol string) error {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return err
	}
	sess.ClearSelection()
	return nil
}

func (s *RegistryService) DeleteSelected(ctx context.Context, symbol string) error {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return err
	}
	return sess.DeleteSelected(ctx)
}

func (s *RegistryService) GetViewport(ctx context.Context, symbol string) (ViewportState, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return ViewportState{}, err
	}
	return viewportState(sess), nil
}

func viewportState(sess *session.Session) ViewportState {
	return ViewportState{
		Snapshot:   sess.Viewport(),
		Preset:     sess.Preset(),
		Resolution: sess.Resolution(),
		Indicators: sess.Indicators(),
	}
}

func (s *RegistryService) SetViewport(ctx context.Context, symbol, axis string, r *viewport.Range) (ViewportState, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return ViewportState{}, err
	}
	if err := sess.SetViewport(axis, r); err != nil {
		return ViewportState{}, err
	}
	return viewportState(sess), nil
}

func (s *RegistryService) AutoFit(ctx context.Context, symbol string) (ViewportState, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return ViewportState{}, err
	}
	if err := sess.AutoFit(); err != nil {
		return ViewportState{}, err
	}
	return viewportState(sess), nil
}

func (s *RegistryService) ApplyPreset(ctx context.Context, symbol, preset string) (ViewportState, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return ViewportState{}, err
	}
	if err := sess.ApplyPreset(preset); err != nil {
		return ViewportState{}, err
	}
	return viewportState(sess), nil
}

func (s *RegistryService) SetIndicators(ctx context.Context, symbol string, names []string) (ViewportState, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return ViewportState{}, err
	}
	if err := sess.SetIndicators(ctx, names); err != nil {
		return ViewportState{}, err
	}
	return viewportState(sess), nil
}

func (s *RegistryService) SetResolution(ctx context.Context, symbol, resolution string) (ViewportState, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return ViewportState{}, err
	}
	if err := sess.SetResolution(ctx, resolution); err != nil {
		return ViewportState{}, err
	}
	return viewportState(sess), nil
}

func (s *RegistryService) GetStyles(ctx context.Context, symbol string) (map[string]selection.Style, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return sess.Styles(), nil
}

func (s *RegistryService) HitTest(ctx context.Context, symbol string, x, y, threshold float64) (hittest.Hit, bool, error) {
	sess, err := s.reg.Get(ctx, symbol)
	if err != nil {
		return hittest.Hit{}, false, err
	}
	return sess.HitTest(r2.Vec{X: x, Y: y}, threshold)
}
