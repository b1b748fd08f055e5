// Package journal appends annotation persistence outcomes to JSONL files
// organized by UTC date.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultBufferSize = 512
	defaultMaxSizeMB  = 25
	fileName          = "persist.jsonl"
)

var ErrClosed = errors.New("journal is closed")

// Entry is one persistence outcome.
type Entry struct {
	At        time.Time `json:"at"`
	Op        string    `json:"op"`
	Symbol    string    `json:"symbol"`
	LocalKey  string    `json:"local_key,omitempty"`
	BackendID string    `json:"backend_id,omitempty"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
}

// Options tunes a Writer. Zero values take defaults.
type Options struct {
	BufferSize int
	MaxSizeMB  int
	Now        func() time.Time
}

// Writer queues entries and writes them from a single goroutine into
// <baseDir>/<YYYY-MM-DD>/persist.jsonl, rotating by size with lumberjack.
type Writer struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time
	writeCh   chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// New starts a writer rooted at baseDir.
func New(baseDir string, opts Options) *Writer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: opts.MaxSizeMB,
		now:       opts.Now,
		writeCh:   make(chan Entry, opts.BufferSize),
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Record implements syncer.Recorder. It never blocks; a full buffer drops
// the entry.
func (w *Writer) Record(op, symbol, localKey, backendID string, err error) {
	e := Entry{
		At:        w.now().UTC(),
		Op:        op,
		Symbol:    symbol,
		LocalKey:  localKey,
		BackendID: backendID,
		Result:    "ok",
	}
	if err != nil {
		e.Result = "error"
		e.Error = err.Error()
	}
	if werr := w.Write(e); werr != nil {
		slog.Debug("journal entry dropped", "op", op, "symbol", symbol, "error", werr)
	}
}

// Write queues an entry for async writing.
func (w *Writer) Write(e Entry) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- e:
		return nil
	default:
		slog.Warn("journal buffer full, dropping entry", "op", e.Op, "symbol", e.Symbol)
		return fmt.Errorf("journal buffer full")
	}
}

// Close flushes queued entries and closes the current file.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.writeCh:
			w.writeEntry(e)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case e := <-w.writeCh:
			w.writeEntry(e)
		default:
			return
		}
	}
}

func (w *Writer) writeEntry(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := e.At.UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "date", date, "error", err)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	filename := filepath.Join(dir, fileName)
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("opened journal file", "file", filename)
	return nil
}

// Path returns the journal file for a date.
func (w *Writer) Path(date time.Time) string {
	return filepath.Join(w.baseDir, date.UTC().Format("2006-01-02"), fileName)
}
