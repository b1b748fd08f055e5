package selection

// Class is the visual treatment an annotation receives.
type Class int

const (
	ClassDefault Class = iota
	ClassHovered
	ClassSelected
	ClassLastSelected
)

func (c Class) String() string {
	switch c {
	case ClassHovered:
		return "hovered"
	case ClassSelected:
		return "selected"
	case ClassLastSelected:
		return "last_selected"
	}
	return "default"
}

// Style is the line treatment pushed to the render surface.
type Style struct {
	Color string  `json:"color" yaml:"color"`
	Width float64 `json:"width" yaml:"width"`
	Dash  string  `json:"dash,omitempty" yaml:"dash,omitempty"`
}

// Palette maps each class to a style.
type Palette struct {
	Default      Style `yaml:"default"`
	Hovered      Style `yaml:"hovered"`
	Selected     Style `yaml:"selected"`
	LastSelected Style `yaml:"last_selected"`
	System       Style `yaml:"system"`
}

// DefaultPalette matches the dashboard's dark theme.
var DefaultPalette = Palette{
	Default:      Style{Color: "#58a6ff", Width: 2},
	Hovered:      Style{Color: "#f0883e", Width: 3},
	Selected:     Style{Color: "#d29922", Width: 3},
	LastSelected: Style{Color: "#f85149", Width: 4},
	System:       Style{Color: "#8b949e", Width: 1, Dash: "dot"},
}

// For returns the style of a class.
func (p Palette) For(c Class) Style {
	switch c {
	case ClassHovered:
		return p.Hovered
	case ClassSelected:
		return p.Selected
	case ClassLastSelected:
		return p.LastSelected
	}
	return p.Default
}
