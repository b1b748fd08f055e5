package selection

import (
	"slices"
	"testing"
)

func TestSetHoveredOnlyRefreshesOnChange(t *testing.T) {
	var refreshes int
	m := NewManager(func() { refreshes++ })

	if !m.SetHovered("a") {
		t.Fatal("SetHovered(a) = false; want true")
	}
	if m.SetHovered("a") {
		t.Fatal("SetHovered(a) again = true; want false")
	}
	m.SetHovered("")
	if refreshes != 2 {
		t.Fatalf("refreshes = %d; want 2", refreshes)
	}
}

func TestToggleSelectedReplaceAndAdditive(t *testing.T) {
	m := NewManager(nil)
	m.ToggleSelected("a", false)
	m.ToggleSelected("b", false)
	if got := m.Selected(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("Selected() = %v; want [b]", got)
	}

	m.ToggleSelected("c", true)
	if got := m.Selected(); !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("Selected() = %v; want [b c]", got)
	}
	if m.LastSelected() != "c" {
		t.Fatalf("LastSelected() = %q; want c", m.LastSelected())
	}

	m.ToggleSelected("c", true)
	if got := m.Selected(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("Selected() = %v; want [b]", got)
	}
	if m.LastSelected() != "b" {
		t.Fatalf("LastSelected() after removal = %q; want b", m.LastSelected())
	}
}

func TestLastSelectedStylingPriority(t *testing.T) {
	m := NewManager(nil)
	m.ToggleSelected("A", false)
	m.ToggleSelected("B", true)
	m.SetHovered("A")

	if got := m.LastSelected(); got != "B" {
		t.Fatalf("LastSelected() = %q; want B", got)
	}
	if got := m.ClassOf("B"); got != ClassLastSelected {
		t.Fatalf("ClassOf(B) = %v; want last_selected", got)
	}
	if got := m.ClassOf("A"); got != ClassSelected {
		t.Fatalf("ClassOf(A) = %v; want selected (selection beats hover)", got)
	}

	m.SetHovered("C")
	if got := m.ClassOf("C"); got != ClassHovered {
		t.Fatalf("ClassOf(C) = %v; want hovered", got)
	}
	if got := m.ClassOf("D"); got != ClassDefault {
		t.Fatalf("ClassOf(D) = %v; want default", got)
	}

	p := DefaultPalette
	if p.For(m.ClassOf("B")) == p.For(m.ClassOf("A")) {
		t.Fatal("last selected and selected share a style")
	}
}

func TestClearAndForget(t *testing.T) {
	var refreshes int
	m := NewManager(func() { refreshes++ })
	m.ToggleSelected("a", false)
	m.ToggleSelected("b", true)
	m.SetHovered("b")

	m.Forget("b")
	if m.Hovered() != "" || m.IsSelected("b") || m.LastSelected() != "a" {
		t.Fatalf("Forget(b) left hovered=%q selected=%v last=%q", m.Hovered(), m.Selected(), m.LastSelected())
	}
	m.Forget("zzz")

	m.ClearSelection()
	if len(m.Selected()) != 0 || m.LastSelected() != "" {
		t.Fatalf("ClearSelection() left %v / %q", m.Selected(), m.LastSelected())
	}
	if refreshes != 5 {
		t.Fatalf("refreshes = %d; want 5", refreshes)
	}
}
