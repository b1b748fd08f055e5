package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/chartsync/internal/metrics"
)

// LiveHandler receives each server message on the live channel.
type LiveHandler func(msg json.RawMessage)

// LiveChannel is a streaming WebSocket connection to the backend. Open
// sends the initial config; Reconfigure replaces it on the open socket.
type LiveChannel struct {
	url     string
	handler LiveHandler
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

// NewLiveChannel creates an unopened channel. handler may be nil.
func NewLiveChannel(url string, handler LiveHandler, m *metrics.Metrics) *LiveChannel {
	return &LiveChannel{url: url, handler: handler, metrics: m}
}

// IsOpen reports whether the socket is connected.
func (l *LiveChannel) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Open dials the live endpoint and sends cfg. Opening an open channel only
// reconfigures it.
func (l *LiveChannel) Open(ctx context.Context, cfg LiveConfig) error {
	l.mu.Lock()
	if l.conn != nil {
		l.mu.Unlock()
		return l.Reconfigure(cfg)
	}
	if l.url == "" {
		l.mu.Unlock()
		return fmt.Errorf("live channel: no url configured")
	}

	slog.Debug("live channel connecting", "url", l.url, "symbol", cfg.Symbol)
	conn, _, _, err := ws.Dial(ctx, l.url)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("live channel: dial: %w", err)
	}
	l.conn = conn
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go l.readLoop(conn, done)
	return l.Reconfigure(cfg)
}

// Reconfigure sends a config message on the open socket.
func (l *LiveChannel) Reconfigure(cfg LiveConfig) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		l.metrics.LiveReconfigure("closed")
		return fmt.Errorf("live channel: not open")
	}

	data, err := json.Marshal(struct {
		Type string `json:"type"`
		LiveConfig
	}{Type: "config", LiveConfig: cfg})
	if err != nil {
		return fmt.Errorf("live channel: marshal: %w", err)
	}

	l.writeMu.Lock()
	err = wsutil.WriteClientText(conn, data)
	l.writeMu.Unlock()
	if err != nil {
		l.metrics.LiveReconfigure("error")
		l.drop(conn)
		return fmt.Errorf("live channel: send: %w", err)
	}
	l.metrics.LiveReconfigure("ok")
	slog.Debug("live channel configured",
		"symbol", cfg.Symbol,
		"resolution", cfg.Resolution,
		"from_ts", cfg.From,
		"to_ts", cfg.To,
	)
	return nil
}

// Close shuts the socket and waits for the read loop to exit.
func (l *LiveChannel) Close() {
	l.mu.Lock()
	conn, done := l.conn, l.done
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	<-done
}

func (l *LiveChannel) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("live channel read loop exit", "error", err)
			l.drop(conn)
			return
		}
		if l.handler != nil && json.Valid(data) {
			l.handler(json.RawMessage(data))
		}
	}
}

// drop clears conn if it is still the current connection.
func (l *LiveChannel) drop(conn net.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	_ = conn.Close()
}
