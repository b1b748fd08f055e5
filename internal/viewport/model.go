// Package viewport holds the active time range, the per-subplot value ranges
// and the span of data currently loaded. A nil range means auto-fit.
package viewport

import (
	"sync"

	"github.com/dgnsrekt/chartsync/internal/apperr"
)

// TimeAxis is the shared horizontal axis id.
const TimeAxis = "x"

// Range is an inclusive (min, max) pair in data units.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Width returns Max - Min.
func (r Range) Width() float64 { return r.Max - r.Min }

// Contains reports whether other lies entirely inside r.
func (r Range) Contains(other Range) bool {
	return other.Min >= r.Min && other.Max <= r.Max
}

// Expand widens r by ratio × width on each side.
func (r Range) Expand(ratio float64) Range {
	pad := r.Width() * ratio
	return Range{Min: r.Min - pad, Max: r.Max + pad}
}

// ChangeFunc observes range mutations. r is nil when the axis went back to auto.
type ChangeFunc func(axis string, r *Range)

// Snapshot is the serializable view of the model.
type Snapshot struct {
	Time     *Range           `json:"time,omitempty"`
	Values   map[string]Range `json:"values,omitempty"`
	Coverage *Range           `json:"coverage,omitempty"`
}

// Model stores viewport ranges. It is safe for concurrent use.
type Model struct {
	mu        sync.RWMutex
	ranges    map[string]Range
	coverage  *Range
	observers []ChangeFunc
}

func NewModel() *Model {
	return &Model{ranges: make(map[string]Range)}
}

// OnChange registers an observer called after every successful SetRange.
func (m *Model) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// GetRange returns the explicit range for an axis, or nil when it is auto-fit.
func (m *Model) GetRange(axis string) *Range {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ranges[axis]
	if !ok {
		return nil
	}
	return &r
}

// IsAuto reports whether the axis has no explicit range.
func (m *Model) IsAuto(axis string) bool {
	return m.GetRange(axis) == nil
}

// SetRange sets or clears (nil) the range for an axis. A range with
// Min >= Max is rejected and the previous range is kept.
func (m *Model) SetRange(axis string, r *Range) error {
	if r != nil && !(r.Min < r.Max) {
		return apperr.InvalidRange(r.Min, r.Max)
	}

	m.mu.Lock()
	if r == nil {
		delete(m.ranges, axis)
	} else {
		m.ranges[axis] = *r
	}
	observers := append([]ChangeFunc(nil), m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(axis, r)
	}
	return nil
}

// ClearAll resets every axis to auto-fit.
func (m *Model) ClearAll() {
	m.mu.Lock()
	axes := make([]string, 0, len(m.ranges))
	for axis := range m.ranges {
		axes = append(axes, axis)
	}
	m.ranges = make(map[string]Range)
	observers := append([]ChangeFunc(nil), m.observers...)
	m.mu.Unlock()

	for _, axis := range axes {
		for _, fn := range observers {
			fn(axis, nil)
		}
	}
}

// Coverage returns the time span of loaded data.
func (m *Model) Coverage() (Range, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.coverage == nil {
		return Range{}, false
	}
	return *m.coverage, true
}

// SetCoverage replaces the loaded data span.
func (m *Model) SetCoverage(r Range) {
	m.mu.Lock()
	m.coverage = &r
	m.mu.Unlock()
}

// ResetCoverage forgets the loaded span, e.g. after a resolution change.
func (m *Model) ResetCoverage() {
	m.mu.Lock()
	m.coverage = nil
	m.mu.Unlock()
}

// ExtendCoverage merges r into the loaded span when they overlap or touch;
// a disjoint span replaces the old one, since the render surface only keeps
// the most recent contiguous series.
func (m *Model) ExtendCoverage(r Range) Range {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coverage == nil || r.Max < m.coverage.Min || r.Min > m.coverage.Max {
		m.coverage = &r
		return r
	}
	merged := *m.coverage
	if r.Min < merged.Min {
		merged.Min = r.Min
	}
	if r.Max > merged.Max {
		merged.Max = r.Max
	}
	m.coverage = &merged
	return merged
}

// Snapshot copies the current state.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Snapshot
	if r, ok := m.ranges[TimeAxis]; ok {
		s.Time = &r
	}
	for axis, r := range m.ranges {
		if axis == TimeAxis {
			continue
		}
		if s.Values == nil {
			s.Values = make(map[string]Range)
		}
		s.Values[axis] = r
	}
	if m.coverage != nil {
		c := *m.coverage
		s.Coverage = &c
	}
	return s
}

// Restore loads persisted ranges without notifying observers. Invalid ranges
// in the snapshot are skipped.
func (m *Model) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = make(map[string]Range)
	if s.Time != nil && s.Time.Min < s.Time.Max {
		m.ranges[TimeAxis] = *s.Time
	}
	for axis, r := range s.Values {
		if r.Min < r.Max {
			m.ranges[axis] = r
		}
	}
}
