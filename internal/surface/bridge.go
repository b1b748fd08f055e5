// Package surface attaches to the dashboard tab in a running Chromium over
// CDP, forwards chart interaction from the page to sessions and renders
// session updates back onto the Plotly graph.
package surface

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/session"
)

const (
	inboundQueueSize  = 1024
	outboundQueueSize = 256
	evalTimeout       = 5 * time.Second
	defaultGraphID    = "chart"
)

// Dispatcher applies a raw surface payload to a symbol's session.
type Dispatcher interface {
	Dispatch(ctx context.Context, symbol string, raw events.Raw) (int, error)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, symbol string, raw events.Raw) (int, error)

func (f DispatchFunc) Dispatch(ctx context.Context, symbol string, raw events.Raw) (int, error) {
	return f(ctx, symbol, raw)
}

// Config controls which tabs are attached.
type Config struct {
	CDPURL        string
	TabURLFilter  string
	GraphID       string
	DefaultSymbol string
}

type tab struct {
	id     target.ID
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	symbol string
}

type inbound struct {
	tabID   target.ID
	payload string
}

// Bridge is a session.Sink that mirrors updates onto attached tabs.
type Bridge struct {
	cfg      Config
	dispatch Dispatcher

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu   sync.RWMutex
	tabs map[target.ID]*tab

	in   chan inbound
	out  chan session.Update
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewBridge(cfg Config, dispatch Dispatcher) *Bridge {
	if cfg.GraphID == "" {
		cfg.GraphID = defaultGraphID
	}
	return &Bridge{
		cfg:      cfg,
		dispatch: dispatch,
		tabs:     make(map[target.ID]*tab),
		in:       make(chan inbound, inboundQueueSize),
		out:      make(chan session.Update, outboundQueueSize),
		done:     make(chan struct{}),
	}
}

// Connect attaches to every page target whose URL matches the filter.
func (b *Bridge) Connect(ctx context.Context) error {
	slog.Info("connecting to chromium", "url", b.cfg.CDPURL)

	b.allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.cfg.CDPURL)

	tempCtx, tempCancel := chromedp.NewContext(b.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}

	attached := 0
	for _, t := range targets {
		if t.Type != "page" || !b.matchesTabURL(t.URL) {
			continue
		}
		if err := b.attach(ctx, t.TargetID, t.URL); err != nil {
			slog.Error("failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}
	if attached == 0 {
		return fmt.Errorf("no tabs found matching SURFACE_TAB_FILTER=%q", b.cfg.TabURLFilter)
	}

	b.wg.Add(2)
	go b.inboundLoop()
	go b.outboundLoop()

	slog.Info("surface attached", "tabs", attached, "tab_url_filter", b.cfg.TabURLFilter)
	return nil
}

func (b *Bridge) attach(ctx context.Context, id target.ID, url string) error {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx, chromedp.WithTargetID(id))
	t := &tab{id: id, url: url, ctx: tabCtx, cancel: cancel, symbol: session.NormalizeSymbol(b.cfg.DefaultSymbol)}

	err := chromedp.Run(tabCtx,
		runtime.Enable(),
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(BindingName).Do(ctx)
		}),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to enable runtime binding: %w", err)
	}

	b.mu.Lock()
	b.tabs[id] = t
	b.mu.Unlock()

	chromedp.ListenTarget(tabCtx, b.eventHandler(id))

	if err := b.install(ctx, t); err != nil {
		slog.Warn("listener install failed (will retry on load)", "target_id", id, "error", err)
	}
	slog.Info("attached to tab", "target_id", id, "url", truncateURL(url))
	return nil
}

func (b *Bridge) install(ctx context.Context, t *tab) error {
	evalCtx, cancel := context.WithTimeout(t.ctx, evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var status string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(InstallScript(b.cfg.GraphID), &status)); err != nil {
		return err
	}
	if status == "no-graph" {
		return fmt.Errorf("graph %q not found", b.cfg.GraphID)
	}
	return nil
}

// eventHandler runs on the CDP event goroutine and must not block or call
// chromedp.Run.
func (b *Bridge) eventHandler(id target.ID) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name != BindingName {
				return
			}
			select {
			case b.in <- inbound{tabID: id, payload: e.Payload}:
			default:
				slog.Warn("surface inbound queue full, dropping event", "target_id", id)
			}
		case *page.EventLoadEventFired:
			b.mu.RLock()
			t, ok := b.tabs[id]
			b.mu.RUnlock()
			if !ok {
				return
			}
			go func() {
				if err := b.install(context.Background(), t); err != nil {
					slog.Warn("listener reinstall failed", "target_id", id, "error", err)
				}
			}()
		}
	}
}

func (b *Bridge) inboundLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.in:
			b.handleBinding(msg)
		}
	}
}

func (b *Bridge) handleBinding(msg inbound) {
	b.mu.RLock()
	t, ok := b.tabs[msg.tabID]
	def := ""
	if ok {
		def = t.symbol
	}
	b.mu.RUnlock()

	bind, err := DecodeBinding(msg.payload, def)
	if err != nil {
		slog.Debug("surface payload rejected", "target_id", msg.tabID, "error", err)
		return
	}
	if ok && bind.Symbol != def {
		b.mu.Lock()
		t.symbol = bind.Symbol
		b.mu.Unlock()
	}
	if _, err := b.dispatch.Dispatch(context.Background(), bind.Symbol, bind.Event); err != nil {
		slog.Warn("surface event failed", "symbol", bind.Symbol, "type", bind.Event.Type, "error", err)
	}
}

// Publish implements session.Sink.
func (b *Bridge) Publish(u session.Update) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.out <- u:
	default:
		slog.Warn("surface render queue full, dropping update", "symbol", u.Symbol, "kind", u.Kind)
	}
}

func (b *Bridge) outboundLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case u := <-b.out:
			b.render(u)
		}
	}
}

func (b *Bridge) render(u session.Update) {
	script, ok, err := ApplyScript(u)
	if err != nil {
		slog.Warn("surface encode failed", "symbol", u.Symbol, "kind", u.Kind, "error", err)
		return
	}
	if !ok {
		return
	}
	for _, t := range b.tabsFor(u.Symbol) {
		evalCtx, cancel := context.WithTimeout(t.ctx, evalTimeout)
		if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, nil)); err != nil {
			slog.Debug("surface render failed", "target_id", t.id, "kind", u.Kind, "error", err)
		}
		cancel()
	}
}

func (b *Bridge) tabsFor(symbol string) []*tab {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*tab
	for _, t := range b.tabs {
		if t.symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// TabCount returns the number of attached tabs.
func (b *Bridge) TabCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tabs)
}

func (b *Bridge) Close() error {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()

	b.mu.Lock()
	for _, t := range b.tabs {
		t.cancel()
	}
	b.tabs = make(map[target.ID]*tab)
	b.mu.Unlock()

	if b.allocCancel != nil {
		b.allocCancel()
	}
	slog.Info("surface bridge closed")
	return nil
}

func (b *Bridge) matchesTabURL(url string) bool {
	if b.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(b.cfg.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
