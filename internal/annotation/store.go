// Package annotation is the in-process list of drawn shapes, both pending and
// backend-confirmed, plus the system overlays the engine draws itself.
package annotation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/google/uuid"
)

const systemKeyPrefix = "sys:"

// Store is the authoritative annotation list. Keys are local keys; the order
// slice is the render order.
type Store struct {
	mu        sync.RWMutex
	items     map[string]*Annotation
	order     []string
	byBackend map[string]string
}

func NewStore() *Store {
	return &Store{
		items:     make(map[string]*Annotation),
		byBackend: make(map[string]string),
	}
}

// Create registers a pending user annotation and returns its local key.
func (s *Store) Create(kind Kind, endpoints Endpoints, subplot geometry.SubplotRef) (string, error) {
	if !kind.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown shape kind %q", kind))
	}
	key := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(&Annotation{
		LocalKey:  key,
		Kind:      kind,
		Endpoints: endpoints,
		Subplot:   subplot.Normalize(),
	})
	return key, nil
}

// SetSystem creates or moves a system-managed overlay identified by label.
func (s *Store) SetSystem(label string, kind Kind, endpoints Endpoints, subplot geometry.SubplotRef) string {
	key := systemKeyPrefix + label

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.items[key]; ok {
		a.Kind = kind
		a.Endpoints = endpoints
		a.Subplot = subplot.Normalize()
		return key
	}
	s.insertLocked(&Annotation{
		LocalKey:      key,
		Kind:          kind,
		Endpoints:     endpoints,
		Subplot:       subplot.Normalize(),
		SystemManaged: true,
		Label:         label,
	})
	return key
}

// RemoveSystem drops a system overlay. It reports whether one existed.
func (s *Store) RemoveSystem(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(systemKeyPrefix + label)
}

// ConfirmSaved records the backend id for a pending annotation. It fails when
// the local key is gone (a concurrent delete won) or the id is already taken.
func (s *Store) ConfirmSaved(localKey, backendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[localKey]
	if !ok {
		slog.Warn("annotation confirm for missing key", "local_key", localKey, "backend_id", backendID)
		return apperr.NotFound("annotation " + localKey + " no longer exists")
	}
	if a.SystemManaged {
		return apperr.Validation("system-managed annotation cannot be persisted")
	}
	if backendID == "" {
		return apperr.Validation("backend id is required")
	}
	if owner, taken := s.byBackend[backendID]; taken && owner != localKey {
		return apperr.Validation("backend id " + backendID + " already assigned")
	}
	if a.BackendID != "" && a.BackendID != backendID {
		delete(s.byBackend, a.BackendID)
	}
	a.BackendID = backendID
	s.byBackend[backendID] = localKey
	return nil
}

// DiscardUnsaved removes a pending annotation whose save failed. Confirmed
// annotations are left alone.
func (s *Store) DiscardUnsaved(localKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[localKey]
	if !ok || a.BackendID != "" || a.SystemManaged {
		return false
	}
	return s.deleteLocked(localKey)
}

// Update replaces the endpoints of a confirmed annotation.
func (s *Store) Update(backendID string, endpoints Endpoints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byBackend[backendID]
	if !ok {
		return apperr.NotFound("annotation " + backendID + " not found")
	}
	s.items[key].Endpoints = endpoints
	return nil
}

// SetEndpoints replaces the endpoints of any user annotation by local key,
// pending or confirmed.
func (s *Store) SetEndpoints(localKey string, endpoints Endpoints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[localKey]
	if !ok {
		return apperr.NotFound("annotation " + localKey + " not found")
	}
	if a.SystemManaged {
		return apperr.Validation("system-managed annotation is not editable")
	}
	a.Endpoints = endpoints
	return nil
}

// Remove deletes a confirmed annotation. Removing an unknown id is a no-op.
func (s *Store) Remove(backendID string) (Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byBackend[backendID]
	if !ok {
		return Annotation{}, false
	}
	a := *s.items[key]
	s.deleteLocked(key)
	return a, true
}

// Restore puts a confirmed annotation back exactly as given, replacing any
// current record with the same local key.
func (s *Store) Restore(a Annotation) error {
	if a.BackendID == "" || a.SystemManaged {
		return apperr.Validation("only confirmed user annotations can be restored")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, taken := s.byBackend[a.BackendID]; taken && owner != a.LocalKey {
		s.deleteLocked(owner)
	}
	if cur, ok := s.items[a.LocalKey]; ok {
		*cur = a
		s.byBackend[a.BackendID] = a.LocalKey
		return nil
	}
	cp := a
	s.insertLocked(&cp)
	return nil
}

// Get returns a copy of the annotation with the given local key.
func (s *Store) Get(localKey string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[localKey]
	if !ok {
		return Annotation{}, false
	}
	return *a, true
}

// GetByBackendID returns a copy of the confirmed annotation with the given id.
func (s *Store) GetByBackendID(backendID string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byBackend[backendID]
	if !ok {
		return Annotation{}, false
	}
	return *s.items[key], true
}

// ListForSubplot returns the subplot's annotations in render order.
func (s *Store) ListForSubplot(subplot geometry.SubplotRef, includeSystem bool) []Annotation {
	subplot = subplot.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Annotation
	for _, key := range s.order {
		a := s.items[key]
		if a.Subplot != subplot || (a.SystemManaged && !includeSystem) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// All returns every annotation in render order.
func (s *Store) All(includeSystem bool) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Annotation, 0, len(s.order))
	for _, key := range s.order {
		a := s.items[key]
		if a.SystemManaged && !includeSystem {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Len returns the number of user annotations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.items {
		if !a.SystemManaged {
			n++
		}
	}
	return n
}

// ReplaceSubplot swaps every confirmed annotation of a subplot for the
// authoritative list from the backend. Pending annotations are kept, and
// records whose backend id survives keep their local key.
func (s *Store) ReplaceSubplot(subplot geometry.SubplotRef, confirmed []Annotation) {
	subplot = subplot.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]bool, len(confirmed))
	for _, a := range confirmed {
		keep[a.BackendID] = true
	}
	for _, key := range append([]string(nil), s.order...) {
		a := s.items[key]
		if a.SystemManaged || a.BackendID == "" || a.Subplot != subplot {
			continue
		}
		if !keep[a.BackendID] {
			s.deleteLocked(key)
		}
	}
	for _, a := range confirmed {
		if a.BackendID == "" {
			continue
		}
		a.Subplot = subplot
		a.SystemManaged = false
		if key, ok := s.byBackend[a.BackendID]; ok {
			cur := s.items[key]
			cur.Kind = a.Kind
			cur.Endpoints = a.Endpoints
			cur.Subplot = a.Subplot
			continue
		}
		a.LocalKey = uuid.NewString()
		cp := a
		s.insertLocked(&cp)
	}
}

// Load replaces all user annotations with backend records, keeping system
// overlays. Records with a duplicate backend id are dropped.
func (s *Store) Load(confirmed []Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range append([]string(nil), s.order...) {
		if !s.items[key].SystemManaged {
			s.deleteLocked(key)
		}
	}
	for _, a := range confirmed {
		if a.BackendID == "" || !a.Kind.Valid() {
			continue
		}
		if _, dup := s.byBackend[a.BackendID]; dup {
			slog.Warn("dropping duplicate annotation from backend", "backend_id", a.BackendID)
			continue
		}
		a.LocalKey = uuid.NewString()
		a.Subplot = a.Subplot.Normalize()
		a.SystemManaged = false
		cp := a
		s.insertLocked(&cp)
	}
}

func (s *Store) insertLocked(a *Annotation) {
	s.items[a.LocalKey] = a
	s.order = append(s.order, a.LocalKey)
	if a.BackendID != "" {
		s.byBackend[a.BackendID] = a.LocalKey
	}
}

func (s *Store) deleteLocked(key string) bool {
	a, ok := s.items[key]
	if !ok {
		return false
	}
	delete(s.items, key)
	if a.BackendID != "" && s.byBackend[a.BackendID] == key {
		delete(s.byBackend, a.BackendID)
	}
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
