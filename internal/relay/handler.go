package relay

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dgnsrekt/chartsync/internal/session"
)

// Filter selects which events a stream forwards. Empty fields match all.
type Filter struct {
	Symbol string
	Kinds  map[string]bool
}

// ParseKinds turns "shapes,styles" into a kind set. It returns nil for an
// empty list.
func ParseKinds(q string) map[string]bool {
	if q == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	if len(kinds) == 0 {
		return nil
	}
	return kinds
}

func (f Filter) match(evt Event) bool {
	if f.Symbol != "" && evt.Symbol != f.Symbol {
		return false
	}
	if f.Kinds != nil && !f.Kinds[evt.Kind] {
		return false
	}
	return true
}

// Stream writes matching events to w as SSE until the request ends or the
// subscription is closed.
func Stream(broker *Broker, w http.ResponseWriter, r *http.Request, filter Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !filter.match(evt) {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
			flusher.Flush()
		}
	}
}

// SSEHandler streams every session's updates. Clients may filter with
// ?symbol=AAPL and ?kinds=shapes,styles.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		Stream(broker, w, r, Filter{
			Symbol: session.NormalizeSymbol(q.Get("symbol")),
			Kinds:  ParseKinds(q.Get("kinds")),
		})
	}
}
