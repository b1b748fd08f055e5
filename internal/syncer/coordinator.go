// Package syncer serializes annotation create, update and delete calls to the
// backend and reconciles the local store with the outcome.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/debounce"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/metrics"
)

// DefaultUpdateDelay is the quiet window after the last drag delta.
const DefaultUpdateDelay = 500 * time.Millisecond

// Operation names used in logs, metrics and the journal.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpResync = "resync"
)

// SaveState is the persistence state of one annotation.
type SaveState int

const (
	SaveIdle SaveState = iota
	SaveSaving
	SaveFailed
)

func (s SaveState) String() string {
	switch s {
	case SaveSaving:
		return "saving"
	case SaveFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Backend is the persistence boundary.
type Backend interface {
	CreateAnnotation(ctx context.Context, rec backend.AnnotationRecord) (string, error)
	UpdateAnnotation(ctx context.Context, id string, rec backend.AnnotationRecord) error
	DeleteAnnotation(ctx context.Context, symbol, id string) error
	ListAnnotations(ctx context.Context, symbol string, subplot *geometry.SubplotRef) ([]backend.AnnotationRecord, error)
}

// Listener is told about store changes made by the coordinator and about
// persistence failures that must reach the user.
type Listener interface {
	AnnotationsChanged()
	PersistFailed(op string, a annotation.Annotation, err error)
}

// Recorder receives every persistence outcome.
type Recorder interface {
	Record(op, symbol, localKey, backendID string, err error)
}

// RecordFunc builds the backend payload for an annotation.
type RecordFunc func(a annotation.Annotation) backend.AnnotationRecord

// Config wires a Coordinator.
type Config struct {
	Symbol      string
	Store       *annotation.Store
	Backend     Backend
	Debouncer   *debounce.Debouncer
	UpdateDelay time.Duration
	Record      RecordFunc
	Listener    Listener
	Recorder    Recorder
	Metrics     *metrics.Metrics
}

// Coordinator owns the per-annotation save state map.
type Coordinator struct {
	symbol      string
	store       *annotation.Store
	backend     Backend
	debounce    *debounce.Debouncer
	updateDelay time.Duration
	record      RecordFunc
	listener    Listener
	recorder    Recorder
	metrics     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	states    map[string]SaveState
	dirty     map[string]bool
	abandoned map[string]bool
}

// New creates a Coordinator. Debounced updates run with a context that Close
// cancels.
func New(cfg Config) *Coordinator {
	if cfg.UpdateDelay <= 0 {
		cfg.UpdateDelay = DefaultUpdateDelay
	}
	if cfg.Debouncer == nil {
		cfg.Debouncer = debounce.New(nil)
	}
	if cfg.Record == nil {
		symbol := cfg.Symbol
		cfg.Record = func(a annotation.Annotation) backend.AnnotationRecord {
			return backend.RecordFrom(a, symbol, "", a.Subplot.String())
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		symbol:      cfg.Symbol,
		store:       cfg.Store,
		backend:     cfg.Backend,
		debounce:    cfg.Debouncer,
		updateDelay: cfg.UpdateDelay,
		record:      cfg.Record,
		listener:    cfg.Listener,
		recorder:    cfg.Recorder,
		metrics:     cfg.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		states:      make(map[string]SaveState),
		dirty:       make(map[string]bool),
		abandoned:   make(map[string]bool),
	}
}

// State returns the save state of a local key.
func (c *Coordinator) State(localKey string) SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[localKey]
}

// States copies the save state map, omitting idle entries.
func (c *Coordinator) States() map[string]SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]SaveState, len(c.states))
	for k, s := range c.states {
		if s != SaveIdle {
			out[k] = s
		}
	}
	return out
}

// PersistCreate saves a pending annotation and returns its backend id. A
// second call while the first is outstanding fails with DUPLICATE_SAVE. On
// failure the annotation is discarded locally.
func (c *Coordinator) PersistCreate(ctx context.Context, localKey string) (string, error) {
	c.mu.Lock()
	if c.states[localKey] == SaveSaving {
		c.mu.Unlock()
		return "", apperr.DuplicateSave(localKey)
	}
	a, ok := c.store.Get(localKey)
	if !ok {
		c.mu.Unlock()
		return "", apperr.NotFound("annotation " + localKey + " not found")
	}
	if a.SystemManaged {
		c.mu.Unlock()
		return "", apperr.Validation("system-managed annotation cannot be persisted")
	}
	if a.Persisted() {
		c.mu.Unlock()
		return a.BackendID, nil
	}
	c.states[localKey] = SaveSaving
	c.mu.Unlock()

	c.metrics.SaveStarted()
	id, err := c.backend.CreateAnnotation(ctx, c.record(a))
	c.metrics.SaveFinished()

	c.mu.Lock()
	abandoned := c.abandoned[localKey]
	delete(c.abandoned, localKey)
	dirty := c.dirty[localKey]
	delete(c.dirty, localKey)
	delete(c.states, localKey)
	c.mu.Unlock()

	if err != nil {
		c.store.DiscardUnsaved(localKey)
		c.fail(OpCreate, a, err)
		c.changed()
		return "", err
	}

	if abandoned {
		c.dropOrphan(a, id)
		return "", apperr.NotFound("annotation " + localKey + " was deleted while saving")
	}
	if cerr := c.store.ConfirmSaved(localKey, id); cerr != nil {
		if apperr.Is(cerr, apperr.CodeNotFound) {
			c.dropOrphan(a, id)
		}
		return "", cerr
	}
	a.BackendID = id
	c.succeed(OpCreate, a)
	slog.Info("annotation saved", "symbol", c.symbol, "local_key", localKey, "backend_id", id)
	c.changed()

	if dirty {
		c.scheduleUpdate(localKey)
	}
	return id, nil
}

// PersistUpdate schedules a debounced save of the annotation's current
// endpoints. Edits to an annotation whose create is still outstanding are
// sent once the create is confirmed.
func (c *Coordinator) PersistUpdate(a annotation.Annotation) {
	if a.SystemManaged {
		return
	}
	if !a.Persisted() {
		c.mu.Lock()
		if c.states[a.LocalKey] == SaveSaving {
			c.dirty[a.LocalKey] = true
		}
		c.mu.Unlock()
		return
	}
	c.scheduleUpdate(a.LocalKey)
}

// FlushUpdate sends a pending debounced update now.
func (c *Coordinator) FlushUpdate(localKey string) bool {
	return c.debounce.Flush(updateKey(localKey))
}

// UpdatePending reports whether an update is waiting for its quiet window.
func (c *Coordinator) UpdatePending(localKey string) bool {
	return c.debounce.Pending(updateKey(localKey))
}

func (c *Coordinator) scheduleUpdate(localKey string) {
	c.debounce.Trigger(updateKey(localKey), c.updateDelay, func() {
		c.sendUpdate(localKey)
	})
}

func (c *Coordinator) sendUpdate(localKey string) {
	a, ok := c.store.Get(localKey)
	if !ok || !a.Persisted() {
		return
	}

	c.mu.Lock()
	if c.states[localKey] == SaveSaving {
		c.dirty[localKey] = true
		c.mu.Unlock()
		return
	}
	c.states[localKey] = SaveSaving
	c.mu.Unlock()

	c.metrics.SaveStarted()
	err := c.backend.UpdateAnnotation(c.ctx, a.BackendID, c.record(a))
	c.metrics.SaveFinished()

	c.mu.Lock()
	dirty := c.dirty[localKey]
	delete(c.dirty, localKey)
	if err != nil {
		c.states[localKey] = SaveFailed
	} else {
		delete(c.states, localKey)
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(OpUpdate, a, err)
		c.Resync(c.ctx, a.Subplot)
		return
	}
	c.succeed(OpUpdate, a)
	if dirty {
		c.scheduleUpdate(localKey)
	}
}

// Resync replaces the subplot's confirmed annotations with the backend's list.
func (c *Coordinator) Resync(ctx context.Context, subplot geometry.SubplotRef) error {
	ref := subplot.Normalize()
	recs, err := c.backend.ListAnnotations(ctx, c.symbol, &ref)
	if err != nil {
		slog.Error("annotation resync failed", "symbol", c.symbol, "subplot", ref.String(), "error", err)
		c.metrics.Persist(OpResync, "error")
		return err
	}
	confirmed := make([]annotation.Annotation, 0, len(recs))
	for _, r := range recs {
		confirmed = append(confirmed, r.Annotation())
	}
	c.store.ReplaceSubplot(ref, confirmed)
	c.metrics.Persist(OpResync, "ok")
	slog.Info("annotations resynced", "symbol", c.symbol, "subplot", ref.String(), "count", len(confirmed))
	c.changed()
	return nil
}

// PersistDelete deletes a confirmed annotation. The local record is removed
// only after the backend acknowledges; on failure it is restored to its
// pre-delete state. Unknown ids are a no-op. A delete while another save of
// the same annotation is outstanding fails with DUPLICATE_SAVE.
func (c *Coordinator) PersistDelete(ctx context.Context, backendID string) error {
	before, ok := c.store.GetByBackendID(backendID)
	if !ok {
		return nil
	}
	c.mu.Lock()
	if c.states[before.LocalKey] == SaveSaving {
		c.mu.Unlock()
		return apperr.DuplicateSave(before.LocalKey)
	}
	c.states[before.LocalKey] = SaveSaving
	c.mu.Unlock()
	c.debounce.Cancel(updateKey(before.LocalKey))

	c.metrics.SaveStarted()
	err := c.backend.DeleteAnnotation(ctx, c.symbol, backendID)
	c.metrics.SaveFinished()

	if err != nil {
		c.mu.Lock()
		delete(c.dirty, before.LocalKey)
		c.mu.Unlock()
		if _, still := c.store.GetByBackendID(backendID); still {
			if rerr := c.store.Restore(before); rerr != nil {
				slog.Warn("annotation restore failed", "backend_id", backendID, "error", rerr)
			}
			c.mu.Lock()
			c.states[before.LocalKey] = SaveFailed
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			delete(c.states, before.LocalKey)
			c.mu.Unlock()
		}
		c.fail(OpDelete, before, err)
		c.changed()
		return err
	}

	c.store.Remove(backendID)
	c.mu.Lock()
	delete(c.states, before.LocalKey)
	delete(c.dirty, before.LocalKey)
	c.mu.Unlock()
	c.succeed(OpDelete, before)
	c.changed()
	return nil
}

// DiscardPending drops an unsaved annotation. If its create is in flight the
// backend record is deleted once the id arrives.
func (c *Coordinator) DiscardPending(localKey string) bool {
	c.mu.Lock()
	if c.states[localKey] == SaveSaving {
		c.abandoned[localKey] = true
	} else {
		delete(c.states, localKey)
	}
	delete(c.dirty, localKey)
	c.mu.Unlock()

	removed := c.store.DiscardUnsaved(localKey)
	if removed {
		c.changed()
	}
	return removed
}

// Close cancels in-flight debounced updates.
func (c *Coordinator) Close() {
	c.cancel()
}

func (c *Coordinator) dropOrphan(a annotation.Annotation, id string) {
	slog.Info("deleting annotation saved after local removal", "symbol", c.symbol, "local_key", a.LocalKey, "backend_id", id)
	if err := c.backend.DeleteAnnotation(c.ctx, c.symbol, id); err != nil {
		slog.Warn("orphan annotation delete failed", "backend_id", id, "error", err)
	}
}

func (c *Coordinator) succeed(op string, a annotation.Annotation) {
	c.metrics.Persist(op, "ok")
	if c.recorder != nil {
		c.recorder.Record(op, c.symbol, a.LocalKey, a.BackendID, nil)
	}
}

func (c *Coordinator) fail(op string, a annotation.Annotation, err error) {
	slog.Error("annotation persistence failed",
		"op", op,
		"symbol", c.symbol,
		"local_key", a.LocalKey,
		"backend_id", a.BackendID,
		"error", err,
	)
	c.metrics.Persist(op, "error")
	if c.recorder != nil {
		c.recorder.Record(op, c.symbol, a.LocalKey, a.BackendID, err)
	}
	if c.listener != nil {
		c.listener.PersistFailed(op, a, err)
	}
}

func (c *Coordinator) changed() {
	if c.listener != nil {
		c.listener.AnnotationsChanged()
	}
}

func updateKey(localKey string) string {
	return "update:" + localKey
}
