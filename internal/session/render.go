package session

import (
	"github.com/dgnsrekt/chartsync/internal/selection"
)

// render builds the shape list in store order. Annotations whose subplot is
// missing from the layout are hidden (Index -1, Stale) but kept.
func (s *Session) render() ([]ShapeView, map[string]selection.Style) {
	all := s.store.All(true)
	states := s.coord.States()
	palette := s.deps.Tuning.Palette

	s.mu.Lock()
	defer s.mu.Unlock()

	shapes := make([]ShapeView, 0, len(all))
	styles := make(map[string]selection.Style, len(all))
	next := 0
	for _, a := range all {
		v := ShapeView{Annotation: a, Index: -1, SaveState: states[a.LocalKey].String()}
		if s.hasLayout && !s.layout.Has(a.Subplot) {
			v.Stale = true
			shapes = append(shapes, v)
			continue
		}
		if a.SystemManaged {
			v.Style = palette.System
		} else {
			v.Style = palette.For(s.selection.ClassOf(a.LocalKey))
		}
		v.Index = next
		next++
		styles[a.LocalKey] = v.Style
		shapes = append(shapes, v)
	}
	return shapes, styles
}

func (s *Session) requestShapes() {
	s.debounce.Trigger(keyShapes, s.deps.Tuning.StyleRefresh(), s.publishShapes)
}

func (s *Session) requestStyles() {
	s.debounce.Trigger(keyStyles, s.deps.Tuning.StyleRefresh(), s.publishStyles)
}

// publishShapes pushes the rendered shape list. Hidden annotations are left
// out; they stay in the store until their subplot returns. Relayout edits
// resolve shapes[i] against the list sent here.
func (s *Session) publishShapes() {
	s.debounce.Cancel(keyStyles)
	shapes, _ := s.render()
	visible := make([]ShapeView, 0, len(shapes))
	index := make([]string, 0, len(shapes))
	for _, v := range shapes {
		if v.Index >= 0 {
			visible = append(visible, v)
			index = append(index, v.LocalKey)
		}
	}
	s.mu.Lock()
	s.shapeIndex = index
	s.mu.Unlock()
	s.publish(Update{Kind: UpdateShapes, Shapes: visible})
}

func (s *Session) publishStyles() {
	_, styles := s.render()
	s.publish(Update{Kind: UpdateStyles, Styles: styles})
}
