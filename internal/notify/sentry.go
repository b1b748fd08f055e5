package notify

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dgnsrekt/chartsync/internal/session"
)

const sentryFlushTimeout = 2 * time.Second

// Sentry reports notifications as Sentry messages on a dedicated hub.
type Sentry struct {
	hub *sentry.Hub
}

// SentryOptions configures NewSentry. Transport is optional.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	Transport   sentry.Transport
}

// NewSentry builds a client and hub. It fails when neither a DSN nor a
// transport is configured.
func NewSentry(opts SentryOptions) (*Sentry, error) {
	if opts.DSN == "" && opts.Transport == nil {
		return nil, errors.New("sentry dsn is empty")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		Transport:        opts.Transport,
		AttachStacktrace: false,
		SampleRate:       1.0,
	})
	if err != nil {
		return nil, err
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func sentryLevel(level string) sentry.Level {
	switch level {
	case "error":
		return sentry.LevelError
	case "warning":
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

// Notify implements session.Notifier.
func (s *Sentry) Notify(symbol string, note session.Notification) {
	if note.Level == "info" {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(note.Level))
		scope.SetTag("component", "sync")
		scope.SetTag("symbol", symbol)
		scope.SetTag("operation", note.Op)
		scope.SetContext("annotation", map[string]any{
			"local_key":  note.LocalKey,
			"backend_id": note.BackendID,
		})
		s.hub.CaptureMessage(Format(symbol, note))
	})
}

// Close flushes buffered events.
func (s *Sentry) Close() {
	s.hub.Flush(sentryFlushTimeout)
}
