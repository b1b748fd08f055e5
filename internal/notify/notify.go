// Package notify delivers persistence-failure notifications to channels
// outside the chart: an ntfy topic and Sentry.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chartsync/internal/session"
)

const (
	queueSize   = 64
	sendTimeout = 10 * time.Second
)

// Send posts message to an ntfy endpoint. A non-empty title is sent in the
// Title header.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

type queued struct {
	title   string
	message string
}

// Ntfy forwards warning and error notifications to an ntfy topic from a
// background worker. Notify never blocks; a full queue drops the message.
type Ntfy struct {
	client   *http.Client
	endpoint string
	queue    chan queued
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewNtfy starts the delivery worker. client may be nil.
func NewNtfy(endpoint string, client *http.Client) *Ntfy {
	n := &Ntfy{
		client:   client,
		endpoint: endpoint,
		queue:    make(chan queued, queueSize),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify implements session.Notifier.
func (n *Ntfy) Notify(symbol string, note session.Notification) {
	if note.Level == "info" {
		return
	}
	q := queued{
		title:   fmt.Sprintf("chartsync %s: %s failed", symbol, note.Op),
		message: Format(symbol, note),
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- q:
	default:
		slog.Warn("ntfy queue full, dropping notification", "symbol", symbol, "op", note.Op)
	}
}

func (n *Ntfy) run() {
	defer close(n.done)
	for q := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := Send(ctx, n.client, n.endpoint, q.title, q.message); err != nil {
			slog.Warn("ntfy send failed", "endpoint", n.endpoint, "error", err)
		}
		cancel()
	}
}

// Close drains queued messages and stops the worker.
func (n *Ntfy) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

// Format renders a notification as one line of text.
func Format(symbol string, note session.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", symbol, note.Message)
	if note.LocalKey != "" {
		fmt.Fprintf(&b, " local_key=%s", note.LocalKey)
	}
	if note.BackendID != "" {
		fmt.Fprintf(&b, " backend_id=%s", note.BackendID)
	}
	return b.String()
}

// Fanout delivers a notification to every non-nil notifier.
type Fanout []session.Notifier

func (f Fanout) Notify(symbol string, note session.Notification) {
	for _, n := range f {
		if n != nil {
			n.Notify(symbol, note)
		}
	}
}
