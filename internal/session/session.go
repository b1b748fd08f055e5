// Package session owns the per-symbol engine state: annotation store,
// selection, viewport, sync coordinator and viewport watcher. Event handlers
// run under the session lock and never perform I/O while holding it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/config"
	"github.com/dgnsrekt/chartsync/internal/debounce"
	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/hittest"
	"github.com/dgnsrekt/chartsync/internal/metrics"
	"github.com/dgnsrekt/chartsync/internal/selection"
	"github.com/dgnsrekt/chartsync/internal/syncer"
	"github.com/dgnsrekt/chartsync/internal/viewport"
	"github.com/dgnsrekt/chartsync/internal/watcher"
	"gonum.org/v1/gonum/spatial/r2"
)

const (
	keyShapes   = "refresh:shapes"
	keyStyles   = "refresh:styles"
	keySettings = "settings"
)

// Backend is everything a session needs from the chart backend.
type Backend interface {
	syncer.Backend
	watcher.Fetcher
	GetSettings(ctx context.Context, symbol string) (backend.Settings, error)
	SetSettings(ctx context.Context, symbol string, s backend.Settings) error
}

// Live is a live data channel a session can own.
type Live interface {
	watcher.Live
	Close()
}

// Deps are shared by every session of a registry.
type Deps struct {
	Backend           Backend
	NewLive           func(symbol string, onFrame backend.LiveHandler) Live
	Sink              Sink
	Notifier          Notifier
	Recorder          syncer.Recorder
	Metrics           *metrics.Metrics
	Tuning            config.Tuning
	Clock             debounce.Clock
	DefaultResolution string
	Now               func() time.Time
}

// SelectionView is the hover and selection state.
type SelectionView struct {
	Hovered      string   `json:"hovered,omitempty"`
	Selected     []string `json:"selected"`
	LastSelected string   `json:"last_selected,omitempty"`
}

// Session is the engine for one symbol.
type Session struct {
	symbol string
	deps   Deps

	store     *annotation.Store
	selection *selection.Manager
	model     *viewport.Model
	tester    *hittest.Tester
	debounce  *debounce.Debouncer
	coord     *syncer.Coordinator
	watcher   *watcher.Watcher
	live      Live

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	resolution string
	indicators []string
	preset     string
	mode       events.Mode
	dragging   bool
	layout     geometry.Layout
	hasLayout  bool
	shapeIndex []string
	closed     bool
}

// New builds a session. Call Load to pull persisted state.
func New(symbol string, deps Deps) *Session {
	if deps.Sink == nil {
		deps.Sink = SinkFunc(func(Update) {})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tuning == (config.Tuning{}) {
		deps.Tuning = config.DefaultTuning()
	}
	if deps.DefaultResolution == "" {
		deps.DefaultResolution = "1h"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		symbol:     symbol,
		deps:       deps,
		store:      annotation.NewStore(),
		model:      viewport.NewModel(),
		debounce:   debounce.New(deps.Clock),
		ctx:        ctx,
		cancel:     cancel,
		resolution: deps.DefaultResolution,
		mode:       events.ModePan,
	}
	s.selection = selection.NewManager(s.requestStyles)
	s.tester = hittest.New(s.store)
	s.coord = syncer.New(syncer.Config{
		Symbol:      symbol,
		Store:       s.store,
		Backend:     deps.Backend,
		Debouncer:   s.debounce,
		UpdateDelay: deps.Tuning.DragSave(),
		Record:      s.record,
		Listener:    syncListener{s},
		Recorder:    deps.Recorder,
		Metrics:     deps.Metrics,
	})
	if deps.NewLive != nil {
		s.live = deps.NewLive(symbol, s.liveFrame)
	}
	wcfg := watcher.Config{
		Model:          s.model,
		Debouncer:      s.debounce,
		Fetcher:        deps.Backend,
		Target:         s.target,
		Listener:       watchListener{s},
		Metrics:        deps.Metrics,
		PanDelay:       deps.Tuning.PanQuiet(),
		AxisDelay:      deps.Tuning.AxisQuiet(),
		LiveOpenDelay:  deps.Tuning.LiveOpenDelay(),
		CoverageBuffer: deps.Tuning.CoverageBuffer,
		FetchMultiple:  deps.Tuning.FetchMultiplier,
	}
	if s.live != nil {
		wcfg.Live = s.live
	}
	s.watcher = watcher.New(wcfg)
	deps.Metrics.SessionOpened()
	return s
}

// Symbol returns the session's symbol.
func (s *Session) Symbol() string { return s.symbol }

// Load pulls settings and annotations from the backend, then fetches history
// for the restored viewport. A history failure is reported but not returned.
func (s *Session) Load(ctx context.Context) error {
	settings, err := s.deps.Backend.GetSettings(ctx, s.symbol)
	if err != nil {
		slog.Warn("settings load failed, using defaults", "symbol", s.symbol, "error", err)
	} else {
		s.applySettings(settings)
	}

	recs, err := s.deps.Backend.ListAnnotations(ctx, s.symbol, nil)
	if err != nil {
		return fmt.Errorf("load annotations for %s: %w", s.symbol, err)
	}
	loaded := make([]annotation.Annotation, 0, len(recs))
	for _, r := range recs {
		loaded = append(loaded, r.Annotation())
	}
	s.store.Load(loaded)
	slog.Info("session loaded", "symbol", s.symbol, "annotations", s.store.Len(), "resolution", s.Resolution())

	if err := s.watcher.Refresh(ctx); err != nil {
		s.notify(Notification{Level: "warning", Op: "fetch", Message: err.Error()})
	}
	s.publishShapes()
	return nil
}

func (s *Session) applySettings(st backend.Settings) {
	s.mu.Lock()
	if st.Resolution != "" {
		s.resolution = st.Resolution
	}
	s.indicators = normalizeIndicators(st.Indicators)
	s.preset = st.RangePreset
	s.mu.Unlock()
	s.model.Restore(st.Viewport)
}

// HandleEvent applies one typed render-surface event.
func (s *Session) HandleEvent(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.PointerMoved:
		s.pointerMoved(ev.Pointer)
		return nil
	case events.Clicked:
		s.clicked(ev.Pointer, ev.Additive)
		return nil
	case events.ShapeDrawn:
		_, err := s.CreateAnnotation(ctx, ev.Kind, ev.Endpoints, ev.Subplot)
		return err
	case events.ShapeEdited:
		return s.shapeEdited(ev)
	case events.RangeChanged:
		return s.rangeChanged(ev.Axis, ev.Range)
	case events.ModeChanged:
		return s.setMode(ev.Mode)
	case events.LayoutChanged:
		s.setLayout(ev.Layout)
		return nil
	case events.DragState:
		s.mu.Lock()
		s.dragging = ev.Active
		s.mu.Unlock()
		if ev.Active {
			s.selection.SetHovered("")
		}
		return nil
	case events.KeyPressed:
		switch ev.Key {
		case "Delete", "Backspace":
			return s.DeleteSelected(ctx)
		case "Escape":
			s.selection.ClearSelection()
		}
		return nil
	default:
		return apperr.Validation(fmt.Sprintf("unsupported event %T", e))
	}
}

func (s *Session) pointerMoved(p r2.Vec) {
	s.mu.Lock()
	if !s.hasLayout {
		s.mu.Unlock()
		return
	}
	layout := s.layout
	hitTesting := s.mode.HitTesting() && !s.dragging
	s.mu.Unlock()

	s.moveCrosshair(p, layout)

	if !hitTesting {
		return
	}
	hovered := ""
	if hit, ok := s.tester.FindNearest(p, layout, s.deps.Tuning.HitThresholdPx); ok {
		hovered = hit.Annotation.LocalKey
	}
	s.selection.SetHovered(hovered)
}

func (s *Session) clicked(p r2.Vec, additive bool) {
	s.mu.Lock()
	if !s.hasLayout || !s.mode.HitTesting() {
		s.mu.Unlock()
		return
	}
	layout := s.layout
	s.mu.Unlock()

	hit, ok := s.tester.FindNearest(p, layout, s.deps.Tuning.HitThresholdPx)
	switch {
	case ok:
		s.selection.ToggleSelected(hit.Annotation.LocalKey, additive)
	case !additive:
		s.selection.ClearSelection()
	}
}

// CreateAnnotation registers a user shape and persists it. The returned view
// reflects the state after the create settled.
func (s *Session) CreateAnnotation(ctx context.Context, kind annotation.Kind, ep annotation.Endpoints, subplot geometry.SubplotRef) (ShapeView, error) {
	subplot = subplot.Normalize()
	s.mu.Lock()
	if s.hasLayout && !s.layout.Has(subplot) {
		s.mu.Unlock()
		return ShapeView{}, apperr.StaleAxis(subplot.String())
	}
	s.mu.Unlock()

	key, err := s.store.Create(kind, ep, subplot)
	if err != nil {
		return ShapeView{}, err
	}
	slog.Debug("annotation drawn", "symbol", s.symbol, "local_key", key, "kind", kind)
	s.requestShapes()

	if _, err := s.coord.PersistCreate(ctx, key); err != nil {
		return ShapeView{}, err
	}
	v, _ := s.view(key)
	return v, nil
}

func (s *Session) shapeEdited(ev events.ShapeEdited) error {
	s.mu.Lock()
	if ev.Index < 0 || ev.Index >= len(s.shapeIndex) {
		s.mu.Unlock()
		return apperr.NotFound(fmt.Sprintf("no shape at index %d", ev.Index))
	}
	key := s.shapeIndex[ev.Index]
	s.mu.Unlock()

	a, ok := s.store.Get(key)
	if !ok {
		return apperr.NotFound("annotation " + key + " not found")
	}
	if a.SystemManaged {
		return nil
	}
	ep := a.Endpoints
	if ev.X0 != nil {
		ep.Start.Time = *ev.X0
	}
	if ev.Y0 != nil {
		ep.Start.Value = *ev.Y0
	}
	if ev.X1 != nil {
		ep.End.Time = *ev.X1
	}
	if ev.Y1 != nil {
		ep.End.Value = *ev.Y1
	}
	return s.MoveAnnotation(key, ep)
}

// MoveAnnotation replaces a user annotation's endpoints and schedules the
// debounced save.
func (s *Session) MoveAnnotation(localKey string, ep annotation.Endpoints) error {
	if err := s.store.SetEndpoints(localKey, ep); err != nil {
		return err
	}
	a, _ := s.store.Get(localKey)
	s.coord.PersistUpdate(a)
	return nil
}

func (s *Session) rangeChanged(axis string, r *viewport.Range) error {
	user, err := s.watcher.RangeChanged(axis, r, watcher.OriginUser)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.patchLayoutRange(axis, r)
	if user && axis == viewport.TimeAxis {
		s.preset = ""
	}
	s.mu.Unlock()
	if user {
		s.scheduleSettings()
	}
	return nil
}

// patchLayoutRange keeps hit-test transforms in step with range edits that
// arrive before the next layout event.
func (s *Session) patchLayoutRange(axis string, r *viewport.Range) {
	if !s.hasLayout || r == nil {
		return
	}
	for i, a := range s.layout.Axes {
		ref := a.Ref
		switch {
		case axis == viewport.TimeAxis && strings.HasPrefix(ref, "x"):
		case ref == axis:
		default:
			continue
		}
		s.layout.Axes[i].Range = [2]float64{r.Min, r.Max}
	}
}

func (s *Session) setMode(m events.Mode) error {
	if !m.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown interaction mode %q", m))
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	if !m.HitTesting() {
		s.selection.SetHovered("")
	}
	return nil
}

// Mode returns the interaction mode.
func (s *Session) Mode() events.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) setLayout(l geometry.Layout) {
	s.mu.Lock()
	s.layout = l
	s.hasLayout = true
	s.mu.Unlock()
	s.syncGuides()
	s.requestShapes()
}

// HitTest runs the hit tester against the last layout.
func (s *Session) HitTest(p r2.Vec, threshold float64) (hittest.Hit, bool, error) {
	s.mu.Lock()
	layout, ok := s.layout, s.hasLayout
	s.mu.Unlock()
	if !ok {
		return hittest.Hit{}, false, apperr.Validation("no layout reported yet")
	}
	if threshold <= 0 {
		threshold = s.deps.Tuning.HitThresholdPx
	}
	hit, found := s.tester.FindNearest(p, layout, threshold)
	return hit, found, nil
}

// Select replaces the selection with keys, in order; the last becomes the
// last selected.
func (s *Session) Select(keys []string) error {
	for _, k := range keys {
		a, ok := s.store.Get(k)
		if !ok {
			return apperr.NotFound("annotation " + k + " not found")
		}
		if a.SystemManaged {
			return apperr.Validation("system-managed annotation cannot be selected")
		}
	}
	s.selection.ClearSelection()
	for _, k := range keys {
		if !s.selection.IsSelected(k) {
			s.selection.ToggleSelected(k, true)
		}
	}
	return nil
}

// ToggleSelected toggles one annotation in the selection.
func (s *Session) ToggleSelected(key string, additive bool) error {
	a, ok := s.store.Get(key)
	if !ok {
		return apperr.NotFound("annotation " + key + " not found")
	}
	if a.SystemManaged {
		return apperr.Validation("system-managed annotation cannot be selected")
	}
	s.selection.ToggleSelected(key, additive)
	return nil
}

// ClearSelection empties the selection.
func (s *Session) ClearSelection() {
	s.selection.ClearSelection()
}

// Selection returns hover and selection state.
func (s *Session) Selection() SelectionView {
	sel := s.selection.Selected()
	if sel == nil {
		sel = []string{}
	}
	return SelectionView{
		Hovered:      s.selection.Hovered(),
		Selected:     sel,
		LastSelected: s.selection.LastSelected(),
	}
}

// DeleteSelected deletes every selected annotation. Failures are joined.
func (s *Session) DeleteSelected(ctx context.Context) error {
	var errs []error
	for _, key := range s.selection.Selected() {
		if err := s.DeleteAnnotation(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteAnnotation deletes a user annotation. Pending annotations are dropped
// locally; confirmed ones are removed after the backend acknowledges.
func (s *Session) DeleteAnnotation(ctx context.Context, localKey string) error {
	a, ok := s.store.Get(localKey)
	if !ok {
		return apperr.NotFound("annotation " + localKey + " not found")
	}
	if a.SystemManaged {
		return apperr.Validation("system-managed annotation cannot be deleted")
	}
	if !a.Persisted() {
		s.coord.DiscardPending(localKey)
		s.selection.Forget(localKey)
		return nil
	}
	if err := s.coord.PersistDelete(ctx, a.BackendID); err != nil {
		return err
	}
	s.selection.Forget(localKey)
	return nil
}

// Annotations returns every user annotation with its style and save state.
func (s *Session) Annotations() []ShapeView {
	shapes, _ := s.render()
	out := make([]ShapeView, 0, len(shapes))
	for _, v := range shapes {
		if !v.SystemManaged {
			out = append(out, v)
		}
	}
	return out
}

// Annotation returns one annotation view.
func (s *Session) Annotation(localKey string) (ShapeView, bool) {
	return s.view(localKey)
}

func (s *Session) view(localKey string) (ShapeView, bool) {
	shapes, _ := s.render()
	for _, v := range shapes {
		if v.LocalKey == localKey {
			return v, true
		}
	}
	return ShapeView{}, false
}

// Styles returns the style of every rendered shape keyed by local key.
func (s *Session) Styles() map[string]selection.Style {
	_, styles := s.render()
	return styles
}

// Viewport returns the viewport model state.
func (s *Session) Viewport() viewport.Snapshot {
	return s.model.Snapshot()
}

// SetViewport sets (or with nil, auto-fits) one axis as a user action.
func (s *Session) SetViewport(axis string, r *viewport.Range) error {
	if axis == "" {
		axis = viewport.TimeAxis
	}
	if err := s.rangeChanged(axis, r); err != nil {
		return err
	}
	s.watcher.MarkProgrammatic(axis, r)
	s.publishViewport()
	return nil
}

// AutoFit returns every axis to auto-fit.
func (s *Session) AutoFit() error {
	axes := []string{viewport.TimeAxis}
	snap := s.model.Snapshot()
	for axis := range snap.Values {
		axes = append(axes, axis)
	}
	slices.Sort(axes[1:])
	for _, axis := range axes {
		if err := s.rangeChanged(axis, nil); err != nil {
			return err
		}
		s.watcher.MarkProgrammatic(axis, nil)
	}
	s.mu.Lock()
	s.preset = ""
	s.mu.Unlock()
	s.publishViewport()
	return nil
}

// Preset returns the active range preset, or "".
func (s *Session) Preset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

// ApplyPreset sets the time axis to a named span ending at the latest loaded
// data (or now).
func (s *Session) ApplyPreset(name string) error {
	name = strings.ToUpper(strings.TrimSpace(name))
	span, ok := presetSpans[name]
	if !ok {
		return apperr.Validation(fmt.Sprintf("unknown range preset %q", name))
	}

	var r *viewport.Range
	if span > 0 {
		end := float64(s.deps.Now().Unix())
		if cov, ok := s.model.Coverage(); ok && cov.Max > 0 && cov.Max < end {
			end = cov.Max
		}
		r = &viewport.Range{Min: end - span.Seconds(), Max: end}
	}
	if err := s.rangeChanged(viewport.TimeAxis, r); err != nil {
		return err
	}
	s.watcher.MarkProgrammatic(viewport.TimeAxis, r)

	s.mu.Lock()
	s.preset = name
	s.mu.Unlock()
	s.scheduleSettings()
	s.publishViewport()
	return nil
}

// Indicators returns the active indicator set.
func (s *Session) Indicators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.indicators)
}

// SetIndicators replaces the active indicators, refreshes data and updates
// the guide overlays.
func (s *Session) SetIndicators(ctx context.Context, names []string) error {
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return apperr.Validation("indicator names must not be empty")
		}
	}
	s.mu.Lock()
	s.indicators = normalizeIndicators(names)
	s.mu.Unlock()

	s.syncGuides()
	s.requestShapes()
	s.scheduleSettings()
	return s.watcher.Refresh(ctx)
}

// Resolution returns the bar resolution.
func (s *Session) Resolution() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution
}

// SetResolution switches the bar resolution and reloads data.
func (s *Session) SetResolution(ctx context.Context, res string) error {
	res = strings.TrimSpace(res)
	if res == "" {
		return apperr.Validation("resolution is required")
	}
	s.mu.Lock()
	s.resolution = res
	s.mu.Unlock()
	s.scheduleSettings()
	return s.watcher.Refresh(ctx)
}

// SaveStates returns annotations with a non-idle save state.
func (s *Session) SaveStates() map[string]string {
	out := map[string]string{}
	for k, st := range s.coord.States() {
		out[k] = st.String()
	}
	return out
}

// FlushSettings saves settings now if a save is pending.
func (s *Session) FlushSettings() bool {
	return s.debounce.Flush(keySettings)
}

// Close flushes pending settings and stops timers and the live channel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.debounce.Flush(keySettings)
	s.watcher.Close()
	s.coord.Close()
	s.debounce.Stop()
	s.cancel()
	if s.live != nil {
		s.live.Close()
	}
	s.deps.Metrics.SessionClosed()
	slog.Info("session closed", "symbol", s.symbol)
}

func (s *Session) target() watcher.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return watcher.Target{
		Symbol:     s.symbol,
		Resolution: s.resolution,
		Indicators: slices.Clone(s.indicators),
	}
}

func (s *Session) record(a annotation.Annotation) backend.AnnotationRecord {
	s.mu.Lock()
	res := s.resolution
	name := s.subplotNameLocked(a.Subplot)
	s.mu.Unlock()
	return backend.RecordFrom(a, s.symbol, res, name)
}

// subplotNameLocked names a subplot by its value axis name in the layout,
// "price" for the primary axis.
func (s *Session) subplotNameLocked(ref geometry.SubplotRef) string {
	ref = ref.Normalize()
	if s.hasLayout {
		if ax, ok := s.layout.Axis(ref.YAxis); ok && ax.Name != "" {
			return ax.Name
		}
	}
	if ref.YAxis == "y" {
		return "price"
	}
	return ref.YAxis
}

func (s *Session) scheduleSettings() {
	s.debounce.Trigger(keySettings, s.deps.Tuning.AxisQuiet(), s.saveSettings)
}

func (s *Session) saveSettings() {
	s.mu.Lock()
	st := backend.Settings{
		Resolution:  s.resolution,
		Indicators:  slices.Clone(s.indicators),
		RangePreset: s.preset,
	}
	s.mu.Unlock()
	st.Viewport = s.model.Snapshot()

	if err := s.deps.Backend.SetSettings(s.ctx, s.symbol, st); err != nil {
		slog.Error("settings save failed", "symbol", s.symbol, "error", err)
		s.notify(Notification{Level: "error", Op: "settings", Message: err.Error()})
		return
	}
	slog.Debug("settings saved", "symbol", s.symbol)
}

func (s *Session) notify(n Notification) {
	s.publish(Update{Kind: UpdateNotification, Notification: &n})
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(s.symbol, n)
	}
}

func (s *Session) publish(u Update) {
	u.Symbol = s.symbol
	if u.At.IsZero() {
		u.At = s.deps.Now().UTC()
	}
	s.deps.Sink.Publish(u)
}

func (s *Session) publishViewport() {
	snap := s.model.Snapshot()
	s.publish(Update{Kind: UpdateViewport, Viewport: &snap})
}

func (s *Session) liveFrame(msg json.RawMessage) {
	s.publish(Update{Kind: UpdateLive, LiveFrame: append(json.RawMessage(nil), msg...)})
}

func normalizeIndicators(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

type syncListener struct{ s *Session }

func (l syncListener) AnnotationsChanged() { l.s.requestShapes() }

func (l syncListener) PersistFailed(op string, a annotation.Annotation, err error) {
	if op == syncer.OpCreate {
		l.s.selection.Forget(a.LocalKey)
	}
	l.s.notify(Notification{
		Level:     "error",
		Op:        op,
		Message:   err.Error(),
		LocalKey:  a.LocalKey,
		BackendID: a.BackendID,
	})
}

type watchListener struct{ s *Session }

func (l watchListener) HistoryLoaded(series backend.Series) {
	l.s.syncGuides()
	l.s.publish(Update{Kind: UpdateHistory, History: &series})
	l.s.requestShapes()
}

func (l watchListener) LiveConfigured(cfg backend.LiveConfig) {
	l.s.publish(Update{Kind: UpdateLive, LiveConfig: &cfg})
}

func (l watchListener) AxisSettled() {
	l.s.publishViewport()
}

func (l watchListener) WatchFailed(op string, err error) {
	l.s.notify(Notification{Level: "warning", Op: op, Message: err.Error()})
}
