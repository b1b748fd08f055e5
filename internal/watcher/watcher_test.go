package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/debounce"
	"github.com/dgnsrekt/chartsync/internal/viewport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	mu   sync.Mutex
	reqs []backend.HistoryRequest
	err  error
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, req backend.HistoryRequest) (backend.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return backend.Series{}, f.err
	}
	return backend.Series{Symbol: req.Symbol, From: req.From, To: req.To}, nil
}

type fakeLive struct {
	open     bool
	opened   []backend.LiveConfig
	reconfig []backend.LiveConfig
}

func (l *fakeLive) IsOpen() bool { return l.open }

func (l *fakeLive) Open(ctx context.Context, cfg backend.LiveConfig) error {
	l.open = true
	l.opened = append(l.opened, cfg)
	return nil
}

func (l *fakeLive) Reconfigure(cfg backend.LiveConfig) error {
	l.reconfig = append(l.reconfig, cfg)
	return nil
}

type recorder struct {
	history  []backend.Series
	live     []backend.LiveConfig
	axis     int
	failures []string
}

func (r *recorder) HistoryLoaded(s backend.Series)        { r.history = append(r.history, s) }
func (r *recorder) LiveConfigured(cfg backend.LiveConfig) { r.live = append(r.live, cfg) }
func (r *recorder) AxisSettled()                          { r.axis++ }
func (r *recorder) WatchFailed(op string, err error)      { r.failures = append(r.failures, op) }

type fixture struct {
	model   *viewport.Model
	clock   *debounce.ManualClock
	fetcher *fakeFetcher
	live    *fakeLive
	rec     *recorder
	w       *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		model:   viewport.NewModel(),
		clock:   debounce.NewManualClock(),
		fetcher: &fakeFetcher{},
		live:    &fakeLive{},
		rec:     &recorder{},
	}
	f.w = New(Config{
		Model:     f.model,
		Debouncer: debounce.New(f.clock),
		Fetcher:   f.fetcher,
		Live:      f.live,
		Target: func() Target {
			return Target{Symbol: "SPY", Resolution: "1h", Indicators: []string{"rsi"}}
		},
		Listener: f.rec,
	})
	t.Cleanup(f.w.Close)
	return f
}

func rng(min, max float64) *viewport.Range {
	return &viewport.Range{Min: min, Max: max}
}

func TestPanInsideCoverageReconfiguresLiveChannel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.model.SetRange(viewport.TimeAxis, rng(1000, 2000)))
	f.model.SetCoverage(viewport.Range{Min: 0, Max: 3000})
	f.live.open = true

	user, err := f.w.RangeChanged(viewport.TimeAxis, rng(1500, 2500), OriginUser)
	require.NoError(t, err)
	assert.True(t, user)

	f.clock.Advance(1999 * time.Millisecond)
	assert.Empty(t, f.live.reconfig)
	f.clock.Advance(time.Millisecond)

	assert.Empty(t, f.fetcher.reqs)
	require.Len(t, f.live.reconfig, 1)
	cfg := f.live.reconfig[0]
	assert.Equal(t, "SPY", cfg.Symbol)
	assert.Equal(t, []string{"rsi"}, cfg.Indicators)
	assert.Equal(t, 1500.0, cfg.From)
	assert.Equal(t, 2500.0, cfg.To)
	assert.Len(t, f.rec.live, 1)
}

func TestPanOutsideCoverageFetchesExpandedSpan(t *testing.T) {
	f := newFixture(t)
	f.model.SetCoverage(viewport.Range{Min: 1200, Max: 2200})

	_, err := f.w.RangeChanged(viewport.TimeAxis, rng(1500, 2500), OriginUser)
	require.NoError(t, err)
	f.clock.Advance(DefaultPanDelay)

	require.Len(t, f.fetcher.reqs, 1)
	req := f.fetcher.reqs[0]
	assert.Equal(t, 1000.0, req.From)
	assert.Equal(t, 3000.0, req.To)
	assert.Equal(t, "1h", req.Resolution)
	assert.Empty(t, f.live.reconfig)

	cov, ok := f.model.Coverage()
	require.True(t, ok)
	assert.Equal(t, viewport.Range{Min: 1000, Max: 3000}, cov)
	assert.Len(t, f.rec.history, 1)

	last, ok := f.w.LastRequest()
	require.True(t, ok)
	assert.Equal(t, req, last)
}

func TestNewerChangeSupersedesPendingRequest(t *testing.T) {
	f := newFixture(t)
	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(100, 200), OriginUser)
	f.clock.Advance(1500 * time.Millisecond)
	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(5000, 6000), OriginUser)
	f.clock.Advance(1500 * time.Millisecond)
	assert.Empty(t, f.fetcher.reqs)
	assert.True(t, f.w.Pending())

	f.clock.Advance(500 * time.Millisecond)
	require.Len(t, f.fetcher.reqs, 1)
	assert.Equal(t, 4500.0, f.fetcher.reqs[0].From)
	assert.Equal(t, 6500.0, f.fetcher.reqs[0].To)
}

func TestLiveChannelOpensAfterDelayWhenClosed(t *testing.T) {
	f := newFixture(t)
	f.model.SetCoverage(viewport.Range{Min: 0, Max: 3000})

	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(1500, 2500), OriginUser)
	f.clock.Advance(DefaultPanDelay)
	assert.Empty(t, f.live.opened)

	f.clock.Advance(DefaultLiveOpenDelay)
	require.Len(t, f.live.opened, 1)
	assert.Equal(t, 2500.0, f.live.opened[0].To)
	assert.Empty(t, f.live.reconfig)
}

func TestProgrammaticChangesDoNotStartTimer(t *testing.T) {
	f := newFixture(t)

	f.w.MarkProgrammatic(viewport.TimeAxis, rng(1, 2))
	user, err := f.w.RangeChanged(viewport.TimeAxis, rng(1, 2), OriginUser)
	require.NoError(t, err)
	assert.False(t, user)
	assert.Equal(t, rng(1, 2), f.model.GetRange(viewport.TimeAxis))
	assert.False(t, f.w.Pending())

	user, _ = f.w.RangeChanged(viewport.TimeAxis, rng(3, 4), OriginProgrammatic)
	assert.False(t, user)
	assert.False(t, f.w.Pending())

	// the mark is one-shot
	user, _ = f.w.RangeChanged(viewport.TimeAxis, rng(5, 6), OriginUser)
	assert.True(t, user)
	assert.True(t, f.w.Pending())
}

func TestMismatchedMarkIsUserDriven(t *testing.T) {
	f := newFixture(t)

	f.w.MarkProgrammatic(viewport.TimeAxis, rng(1, 2))
	user, _ := f.w.RangeChanged(viewport.TimeAxis, rng(7, 9), OriginUser)
	assert.True(t, user)

	// the mismatch consumed the mark
	user, _ = f.w.RangeChanged(viewport.TimeAxis, rng(1, 2), OriginUser)
	assert.True(t, user)
}

func TestAutoFitWithoutManualRangeIsProgrammatic(t *testing.T) {
	f := newFixture(t)

	user, err := f.w.RangeChanged(viewport.TimeAxis, nil, OriginUser)
	require.NoError(t, err)
	assert.False(t, user)
	assert.False(t, f.w.Pending())

	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(10, 20), OriginUser)
	f.clock.Advance(DefaultPanDelay)

	user, _ = f.w.RangeChanged(viewport.TimeAxis, nil, OriginUser)
	assert.True(t, user, "auto-fit after a manual range is a user change")
	assert.True(t, f.model.IsAuto(viewport.TimeAxis))
}

func TestInvalidRangeKeepsPreviousAndNoTimer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.model.SetRange(viewport.TimeAxis, rng(1, 2)))

	_, err := f.w.RangeChanged(viewport.TimeAxis, rng(5, 5), OriginUser)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRange))
	assert.Equal(t, rng(1, 2), f.model.GetRange(viewport.TimeAxis))
	assert.False(t, f.w.Pending())
}

func TestValueAxisUsesIndependentWindow(t *testing.T) {
	f := newFixture(t)

	_, _ = f.w.RangeChanged("y2", rng(0, 100), OriginUser)
	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(1, 2), OriginUser)

	f.clock.Advance(DefaultPanDelay)
	assert.Len(t, f.fetcher.reqs, 1)
	assert.Equal(t, 0, f.rec.axis)

	f.clock.Advance(DefaultAxisDelay - DefaultPanDelay)
	assert.Equal(t, 1, f.rec.axis)
	assert.Len(t, f.fetcher.reqs, 1)
}

func TestFetchFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = apperr.New(apperr.CodeBackendUnavailable, "fetch history failed", errors.New("down"))

	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(1, 2), OriginUser)
	f.clock.Advance(DefaultPanDelay)

	assert.Equal(t, []string{"fetch"}, f.rec.failures)
	_, ok := f.model.Coverage()
	assert.False(t, ok)
}

func TestRefreshFetchesImmediately(t *testing.T) {
	f := newFixture(t)
	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(100, 200), OriginUser)
	f.model.SetCoverage(viewport.Range{Min: 0, Max: 1000})

	require.NoError(t, f.w.Refresh(context.Background()))
	require.Len(t, f.fetcher.reqs, 1)
	assert.Equal(t, 50.0, f.fetcher.reqs[0].From)
	assert.Equal(t, 250.0, f.fetcher.reqs[0].To)
	assert.False(t, f.w.Pending())

	cov, _ := f.model.Coverage()
	assert.Equal(t, viewport.Range{Min: 50, Max: 250}, cov)
}

func TestRefreshReconfiguresOpenLiveChannel(t *testing.T) {
	f := newFixture(t)
	f.live.open = true
	_, _ = f.w.RangeChanged(viewport.TimeAxis, rng(100, 200), OriginProgrammatic)

	require.NoError(t, f.w.Refresh(context.Background()))
	require.Len(t, f.live.reconfig, 1)
	assert.Equal(t, []string{"rsi"}, f.live.reconfig[0].Indicators)
	assert.Equal(t, 100.0, f.live.reconfig[0].From)
}
