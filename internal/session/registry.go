package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/events"
)

type entry struct {
	ready chan struct{}
	s     *Session
	err   error
}

// Registry opens one session per symbol on first use.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, sessions: make(map[string]*entry)}
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Get returns the session for symbol, creating and loading it if needed.
// Concurrent callers for the same symbol share one load. A failed load is
// not cached.
func (r *Registry) Get(ctx context.Context, symbol string) (*Session, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperr.Validation("symbol is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, apperr.New(apperr.CodeBackendUnavailable, "registry closed", nil)
	}
	if e, ok := r.sessions[symbol]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.s, e.err
	}
	e := &entry{ready: make(chan struct{})}
	r.sessions[symbol] = e
	r.mu.Unlock()

	s := New(symbol, r.deps)
	if err := s.Load(ctx); err != nil {
		s.Close()
		e.err = err
		r.mu.Lock()
		delete(r.sessions, symbol)
		r.mu.Unlock()
		close(e.ready)
		return nil, err
	}
	e.s = s
	close(e.ready)
	return s, nil
}

// Dispatch translates a raw surface payload and applies each resulting event
// to the symbol's session in order. Every event is attempted; failures are
// joined.
func (r *Registry) Dispatch(ctx context.Context, symbol string, raw events.Raw) (int, error) {
	evs, err := events.Translate(raw)
	if err != nil {
		return 0, err
	}
	s, err := r.Get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, ev := range evs {
		if err := s.HandleEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return len(evs), errors.Join(errs...)
}

// Lookup returns an already loaded session.
func (r *Registry) Lookup(symbol string) (*Session, bool) {
	r.mu.Lock()
	e, ok := r.sessions[NormalizeSymbol(symbol)]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.s, e.s != nil
	default:
		return nil, false
	}
}

// Symbols lists loaded sessions.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for sym := range r.sessions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Close closes every session. Later Gets fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.s != nil {
			e.s.Close()
		}
	}
}
