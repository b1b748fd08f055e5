// Package selection tracks the hovered annotation, the selected set and the
// most recently selected annotation used for priority styling.
package selection

import (
	"slices"
	"sync"
)

// Manager holds hover and selection state keyed by annotation local key.
type Manager struct {
	mu           sync.Mutex
	hovered      string
	selected     []string
	lastSelected string
	onChange     func()
}

// NewManager creates a Manager. onChange, if non-nil, is called after every
// state change that affects styling; callers debounce it.
func NewManager(onChange func()) *Manager {
	return &Manager{onChange: onChange}
}

// SetHovered updates the hovered id ("" for none). It reports whether the
// value changed; refresh is only requested on change.
func (m *Manager) SetHovered(id string) bool {
	m.mu.Lock()
	if m.hovered == id {
		m.mu.Unlock()
		return false
	}
	m.hovered = id
	m.mu.Unlock()
	m.changed()
	return true
}

// ToggleSelected makes id the only selection, or with additive set adds or
// removes id from the current selection. Adding always makes id the last
// selected.
func (m *Manager) ToggleSelected(id string, additive bool) {
	m.mu.Lock()
	switch {
	case !additive:
		m.selected = []string{id}
		m.lastSelected = id
	case slices.Contains(m.selected, id):
		m.removeLocked(id)
	default:
		m.selected = append(m.selected, id)
		m.lastSelected = id
	}
	m.mu.Unlock()
	m.changed()
}

// ClearSelection empties the selected set.
func (m *Manager) ClearSelection() {
	m.mu.Lock()
	m.selected = nil
	m.lastSelected = ""
	m.mu.Unlock()
	m.changed()
}

// Forget drops every reference to id, for annotations that left the store.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	touched := false
	if m.hovered == id {
		m.hovered = ""
		touched = true
	}
	if slices.Contains(m.selected, id) {
		m.removeLocked(id)
		touched = true
	}
	m.mu.Unlock()
	if touched {
		m.changed()
	}
}

func (m *Manager) removeLocked(id string) {
	m.selected = slices.DeleteFunc(m.selected, func(s string) bool { return s == id })
	if m.lastSelected == id {
		m.lastSelected = ""
		if n := len(m.selected); n > 0 {
			m.lastSelected = m.selected[n-1]
		}
	}
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// Hovered returns the hovered id, or "".
func (m *Manager) Hovered() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hovered
}

// Selected returns the selected ids in selection order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.selected)
}

// LastSelected returns the most recently selected id, or "".
func (m *Manager) LastSelected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSelected
}

// IsSelected reports whether id is in the selected set.
func (m *Manager) IsSelected(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.selected, id)
}

// ClassOf returns the styling class for id. Priority, highest first:
// last selected, selected, hovered, default.
func (m *Manager) ClassOf(id string) Class {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case id == m.lastSelected && slices.Contains(m.selected, id):
		return ClassLastSelected
	case slices.Contains(m.selected, id):
		return ClassSelected
	case id == m.hovered:
		return ClassHovered
	}
	return ClassDefault
}
