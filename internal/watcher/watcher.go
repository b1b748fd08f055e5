// Package watcher debounces viewport range changes into history fetches or
// live channel reconfigurations.
package watcher

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/debounce"
	"github.com/dgnsrekt/chartsync/internal/metrics"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

const (
	DefaultPanDelay       = 2000 * time.Millisecond
	DefaultAxisDelay      = 2500 * time.Millisecond
	DefaultLiveOpenDelay  = 100 * time.Millisecond
	DefaultCoverageBuffer = 0.10
	DefaultFetchMultiple  = 2.0
)

const (
	keyPan      = "viewport:pan"
	keyAxis     = "viewport:axis"
	keyLiveOpen = "viewport:live-open"
)

// Decisions reported when the pan window elapses.
const (
	DecisionFetch       = "fetch"
	DecisionReconfigure = "reconfigure"
	DecisionOpen        = "open"
	DecisionSkip        = "skip"
)

// Origin classifies a range change.
type Origin int

const (
	OriginUser Origin = iota
	OriginProgrammatic
)

// Fetcher loads history.
type Fetcher interface {
	FetchHistory(ctx context.Context, req backend.HistoryRequest) (backend.Series, error)
}

// Live is the streaming channel.
type Live interface {
	IsOpen() bool
	Open(ctx context.Context, cfg backend.LiveConfig) error
	Reconfigure(cfg backend.LiveConfig) error
}

// Target is what the session is currently showing.
type Target struct {
	Symbol     string
	Resolution string
	Indicators []string
}

// Listener receives the watcher's results. Calls come from timer goroutines.
type Listener interface {
	HistoryLoaded(series backend.Series)
	LiveConfigured(cfg backend.LiveConfig)
	AxisSettled()
	WatchFailed(op string, err error)
}

// Config wires a Watcher. Zero durations and ratios take the defaults.
type Config struct {
	Model          *viewport.Model
	Debouncer      *debounce.Debouncer
	Fetcher        Fetcher
	Live           Live
	Target         func() Target
	Listener       Listener
	Metrics        *metrics.Metrics
	PanDelay       time.Duration
	AxisDelay      time.Duration
	LiveOpenDelay  time.Duration
	CoverageBuffer float64
	FetchMultiple  float64
}

// Watcher is the viewport change debouncer. The pan/zoom window and the
// value-axis window are independent debounce keys.
type Watcher struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	programmatic map[string]expectation
	last         *backend.HistoryRequest
}

// New creates a Watcher.
func New(cfg Config) *Watcher {
	if cfg.Debouncer == nil {
		cfg.Debouncer = debounce.New(nil)
	}
	if cfg.PanDelay <= 0 {
		cfg.PanDelay = DefaultPanDelay
	}
	if cfg.AxisDelay <= 0 {
		cfg.AxisDelay = DefaultAxisDelay
	}
	if cfg.LiveOpenDelay <= 0 {
		cfg.LiveOpenDelay = DefaultLiveOpenDelay
	}
	if cfg.CoverageBuffer <= 0 {
		cfg.CoverageBuffer = DefaultCoverageBuffer
	}
	if cfg.FetchMultiple < 1 {
		cfg.FetchMultiple = DefaultFetchMultiple
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		programmatic: make(map[string]expectation),
	}
}

// MarkProgrammatic records that the engine itself is about to move axis to r
// (nil for auto-fit). The next change reported for axis is programmatic when
// it matches r; any next change clears the mark.
func (w *Watcher) MarkProgrammatic(axis string, r *viewport.Range) {
	w.mu.Lock()
	w.programmatic[axis] = expectation{r: clone(r)}
	w.mu.Unlock()
}

func (w *Watcher) consumeProgrammatic(axis string, r *viewport.Range) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	exp, ok := w.programmatic[axis]
	if !ok {
		return false
	}
	delete(w.programmatic, axis)
	return sameRange(exp.r, r)
}

type expectation struct {
	r *viewport.Range
}

func clone(r *viewport.Range) *viewport.Range {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func sameRange(a, b *viewport.Range) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	const eps = 1e-6
	return math.Abs(a.Min-b.Min) <= eps && math.Abs(a.Max-b.Max) <= eps
}

// RangeChanged applies a range change to the model and, for user-driven
// changes, restarts the matching quiet window. A nil range is an auto-fit;
// auto-fitting an axis that had no manual range is never user-driven. It
// reports whether the change was treated as user-driven.
func (w *Watcher) RangeChanged(axis string, r *viewport.Range, origin Origin) (bool, error) {
	if w.consumeProgrammatic(axis, r) {
		origin = OriginProgrammatic
	}
	if r == nil && w.cfg.Model.IsAuto(axis) {
		origin = OriginProgrammatic
	}
	if err := w.cfg.Model.SetRange(axis, r); err != nil {
		return false, err
	}
	if origin == OriginProgrammatic {
		return false, nil
	}

	if axis == viewport.TimeAxis {
		w.cfg.Debouncer.Trigger(keyPan, w.cfg.PanDelay, w.settle)
	} else {
		w.cfg.Debouncer.Trigger(keyAxis, w.cfg.AxisDelay, w.axisSettled)
	}
	return true, nil
}

// Pending reports whether a pan/zoom decision is waiting for its quiet window.
func (w *Watcher) Pending() bool {
	return w.cfg.Debouncer.Pending(keyPan)
}

// LastRequest returns the most recent history request issued.
func (w *Watcher) LastRequest() (backend.HistoryRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return backend.HistoryRequest{}, false
	}
	return *w.last, true
}

// Refresh drops the pending pan window, fetches history for the visible range
// now and reconfigures an open live channel. It is used after a resolution or
// indicator change, when the loaded data no longer matches.
func (w *Watcher) Refresh(ctx context.Context) error {
	w.cfg.Debouncer.Cancel(keyPan)
	w.cfg.Model.ResetCoverage()
	span, ok := w.requestSpan()
	if !ok {
		span = viewport.Range{}
	}
	if err := w.fetch(ctx, span); err != nil {
		return err
	}
	if w.cfg.Live != nil && w.cfg.Live.IsOpen() {
		cfg := w.liveConfig()
		if err := w.cfg.Live.Reconfigure(cfg); err != nil {
			return err
		}
		w.configured(cfg)
	}
	return nil
}

// Close cancels pending windows and in-flight work.
func (w *Watcher) Close() {
	w.cfg.Debouncer.Cancel(keyPan)
	w.cfg.Debouncer.Cancel(keyAxis)
	w.cfg.Debouncer.Cancel(keyLiveOpen)
	w.cancel()
}

func (w *Watcher) settle() {
	decision := w.Decide()
	w.cfg.Metrics.ViewportDecision(decision)
	slog.Debug("viewport settled", "decision", decision)

	switch decision {
	case DecisionFetch:
		span, _ := w.requestSpan()
		if err := w.fetch(w.ctx, span); err != nil {
			w.failed("fetch", err)
		}
	case DecisionReconfigure:
		cfg := w.liveConfig()
		if err := w.cfg.Live.Reconfigure(cfg); err != nil {
			w.failed("reconfigure", err)
			return
		}
		w.configured(cfg)
	case DecisionOpen:
		w.cfg.Debouncer.Trigger(keyLiveOpen, w.cfg.LiveOpenDelay, w.openLive)
	}
}

// Decide evaluates the visible time range against the loaded coverage.
func (w *Watcher) Decide() string {
	visible := w.cfg.Model.GetRange(viewport.TimeAxis)
	if visible == nil {
		return DecisionSkip
	}
	cov, ok := w.cfg.Model.Coverage()
	if !ok || !cov.Contains(visible.Expand(w.cfg.CoverageBuffer)) {
		return DecisionFetch
	}
	if w.cfg.Live == nil {
		return DecisionSkip
	}
	if w.cfg.Live.IsOpen() {
		return DecisionReconfigure
	}
	return DecisionOpen
}

// requestSpan is the visible range widened to FetchMultiple times its width.
func (w *Watcher) requestSpan() (viewport.Range, bool) {
	visible := w.cfg.Model.GetRange(viewport.TimeAxis)
	if visible == nil {
		if cov, ok := w.cfg.Model.Coverage(); ok {
			return cov, true
		}
		return viewport.Range{}, false
	}
	return visible.Expand((w.cfg.FetchMultiple - 1) / 2), true
}

func (w *Watcher) fetch(ctx context.Context, span viewport.Range) error {
	t := w.target()
	req := backend.HistoryRequest{
		Symbol:     t.Symbol,
		Resolution: t.Resolution,
		From:       span.Min,
		To:         span.Max,
		Indicators: t.Indicators,
	}
	w.mu.Lock()
	w.last = &req
	w.mu.Unlock()

	series, err := w.cfg.Fetcher.FetchHistory(ctx, req)
	if err != nil {
		return err
	}
	if series.From < series.To {
		w.cfg.Model.ExtendCoverage(viewport.Range{Min: series.From, Max: series.To})
	}
	if w.cfg.Listener != nil {
		w.cfg.Listener.HistoryLoaded(series)
	}
	return nil
}

func (w *Watcher) openLive() {
	cfg := w.liveConfig()
	if err := w.cfg.Live.Open(w.ctx, cfg); err != nil {
		w.failed("open", err)
		return
	}
	w.configured(cfg)
}

func (w *Watcher) liveConfig() backend.LiveConfig {
	t := w.target()
	cfg := backend.LiveConfig{
		Symbol:     t.Symbol,
		Indicators: t.Indicators,
		Resolution: t.Resolution,
	}
	if visible := w.cfg.Model.GetRange(viewport.TimeAxis); visible != nil {
		cfg.From, cfg.To = visible.Min, visible.Max
	}
	if cfg.Indicators == nil {
		cfg.Indicators = []string{}
	}
	return cfg
}

func (w *Watcher) target() Target {
	if w.cfg.Target == nil {
		return Target{}
	}
	return w.cfg.Target()
}

func (w *Watcher) axisSettled() {
	if w.cfg.Listener != nil {
		w.cfg.Listener.AxisSettled()
	}
}

func (w *Watcher) configured(cfg backend.LiveConfig) {
	if w.cfg.Listener != nil {
		w.cfg.Listener.LiveConfigured(cfg)
	}
}

func (w *Watcher) failed(op string, err error) {
	slog.Warn("viewport sync failed", "op", op, "error", err)
	if w.cfg.Listener != nil {
		w.cfg.Listener.WatchFailed(op, err)
	}
}
