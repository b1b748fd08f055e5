package geometry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

func TestDistanceToSegmentSquared(t *testing.T) {
	a := r2.Vec{X: 0, Y: 0}
	b := r2.Vec{X: 10, Y: 0}

	tests := []struct {
		name string
		p    r2.Vec
		want float64
	}{
		{"on segment", r2.Vec{X: 5, Y: 0}, 0},
		{"above middle", r2.Vec{X: 5, Y: 3}, 9},
		{"before start clamps", r2.Vec{X: -3, Y: 4}, 25},
		{"after end clamps", r2.Vec{X: 13, Y: 4}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DistanceToSegmentSquared(tt.p, a, b); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("DistanceToSegmentSquared() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestDistanceToDegenerateSegment(t *testing.T) {
	p := r2.Vec{X: 3, Y: 4}
	a := r2.Vec{X: 0, Y: 0}
	if got := DistanceToSegmentSquared(p, a, a); got != 25 {
		t.Fatalf("DistanceToSegmentSquared() = %v; want 25", got)
	}
}

func TestResolveAxisKey(t *testing.T) {
	tests := []struct {
		ref  string
		kind AxisKind
		want string
	}{
		{"", AxisX, "xaxis"},
		{"", AxisY, "yaxis"},
		{"x", AxisX, "xaxis"},
		{"y", AxisY, "yaxis"},
		{"y1", AxisY, "yaxis"},
		{"y3", AxisY, "yaxis3"},
		{"x2", AxisX, "xaxis2"},
		{"yaxis2", AxisY, "yaxis2"},
		{"y2", AxisX, "y2"},
		{"paper", AxisY, "paper"},
		{"yfoo", AxisY, "yfoo"},
	}
	for _, tt := range tests {
		if got := ResolveAxisKey(tt.ref, tt.kind); got != tt.want {
			t.Errorf("ResolveAxisKey(%q, %v) = %q; want %q", tt.ref, tt.kind, got, tt.want)
		}
	}
}

func twoPaneLayout() Layout {
	return Layout{Axes: []Axis{
		{Ref: "x", Offset: 50, Length: 800, Range: [2]float64{1000, 2000}},
		{Ref: "y", Anchor: "x", Offset: 20, Length: 400, Range: [2]float64{90, 120}},
		{Ref: "y2", Anchor: "x", Offset: 440, Length: 150, Range: [2]float64{0, 100}, Name: "RSI"},
	}}
}

func TestSubplotAt(t *testing.T) {
	l := twoPaneLayout()

	tests := []struct {
		name   string
		p      r2.Vec
		want   SubplotRef
		wantOK bool
	}{
		{"price pane", r2.Vec{X: 300, Y: 100}, SubplotRef{"x", "y"}, true},
		{"indicator pane", r2.Vec{X: 300, Y: 500}, SubplotRef{"x", "y2"}, true},
		{"gap between panes", r2.Vec{X: 300, Y: 430}, SubplotRef{}, false},
		{"left of x band", r2.Vec{X: 10, Y: 100}, SubplotRef{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SubplotAt(tt.p, l)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("SubplotAt() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSubplotAtOverlapPrefersLowerIndex(t *testing.T) {
	l := Layout{Axes: []Axis{
		{Ref: "x", Offset: 0, Length: 100, Range: [2]float64{0, 1}},
		{Ref: "y3", Anchor: "x", Offset: 0, Length: 100, Range: [2]float64{0, 1}},
		{Ref: "y2", Anchor: "x", Offset: 50, Length: 100, Range: [2]float64{0, 1}},
	}}
	got, ok := SubplotAt(r2.Vec{X: 10, Y: 75}, l)
	if !ok || got.YAxis != "y2" {
		t.Fatalf("SubplotAt() = %v, %v; want y2", got, ok)
	}
}

func TestAxisTransformsRoundTrip(t *testing.T) {
	l := twoPaneLayout()
	p, ok := l.ToPixel(PriceSubplot, 1500, 105)
	if !ok {
		t.Fatal("ToPixel() ok = false")
	}
	if p.X != 450 || p.Y != 220 {
		t.Fatalf("ToPixel() = %v; want {450 220}", p)
	}
	ya, _ := l.Axis("yaxis")
	if got := ya.ToData(p.Y); math.Abs(got-105) > 1e-9 {
		t.Fatalf("ToData() = %v; want 105", got)
	}
}

func TestToPixelStaleOrDegenerate(t *testing.T) {
	l := twoPaneLayout()
	if _, ok := l.ToPixel(SubplotRef{XAxis: "x", YAxis: "y4"}, 1500, 10); ok {
		t.Fatal("ToPixel() on missing axis ok = true; want false")
	}
	l.Axes[0].Range = [2]float64{1000, 1000}
	if _, ok := l.ToPixel(PriceSubplot, 1500, 100); ok {
		t.Fatal("ToPixel() on zero-span axis ok = true; want false")
	}
}

func TestLogAxisToPixel(t *testing.T) {
	a := Axis{Ref: "y", Offset: 0, Length: 100, Range: [2]float64{0, 2}, Type: "log"}
	if got := a.ToPixel(10); got != 50 {
		t.Fatalf("ToPixel(10) = %v; want 50", got)
	}
	if got := a.ToPixel(-1); !math.IsNaN(got) {
		t.Fatalf("ToPixel(-1) = %v; want NaN", got)
	}
}
