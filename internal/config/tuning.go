package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/chartsync/internal/selection"
)

// Tuning holds the engine's empirical constants. Durations are milliseconds.
type Tuning struct {
	HitThresholdPx   float64           `yaml:"hit_threshold_px"`
	DragSaveMS       int               `yaml:"drag_save_ms"`
	PanQuietMS       int               `yaml:"pan_quiet_ms"`
	AxisQuietMS      int               `yaml:"axis_quiet_ms"`
	LiveOpenDelayMS  int               `yaml:"live_open_delay_ms"`
	StyleRefreshMS   int               `yaml:"style_refresh_ms"`
	CoverageBuffer   float64           `yaml:"coverage_buffer"`
	FetchMultiplier  float64           `yaml:"fetch_multiplier"`
	HistoryCacheTTLS int               `yaml:"history_cache_ttl_s"`
	Palette          selection.Palette `yaml:"palette"`
}

// DefaultTuning returns the built-in constants.
func DefaultTuning() Tuning {
	return Tuning{
		HitThresholdPx:   15,
		DragSaveMS:       500,
		PanQuietMS:       2000,
		AxisQuietMS:      2500,
		LiveOpenDelayMS:  100,
		StyleRefreshMS:   50,
		CoverageBuffer:   0.10,
		FetchMultiplier:  2,
		HistoryCacheTTLS: 30,
		Palette:          selection.DefaultPalette,
	}
}

// LoadTuning reads a YAML tuning file over the defaults. Keys absent from the
// file keep their default values.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("tuning config: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("tuning config: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning config: %w", err)
	}
	return t, nil
}

// Validate rejects values the engine cannot work with.
func (t Tuning) Validate() error {
	switch {
	case t.HitThresholdPx <= 0:
		return fmt.Errorf("hit_threshold_px must be positive")
	case t.DragSaveMS <= 0 || t.PanQuietMS <= 0 || t.AxisQuietMS <= 0:
		return fmt.Errorf("quiet windows must be positive")
	case t.LiveOpenDelayMS < 0 || t.StyleRefreshMS < 0:
		return fmt.Errorf("delays must not be negative")
	case t.CoverageBuffer < 0:
		return fmt.Errorf("coverage_buffer must not be negative")
	case t.FetchMultiplier < 1:
		return fmt.Errorf("fetch_multiplier must be at least 1")
	}
	return nil
}

func (t Tuning) DragSave() time.Duration      { return ms(t.DragSaveMS) }
func (t Tuning) PanQuiet() time.Duration      { return ms(t.PanQuietMS) }
func (t Tuning) AxisQuiet() time.Duration     { return ms(t.AxisQuietMS) }
func (t Tuning) LiveOpenDelay() time.Duration { return ms(t.LiveOpenDelayMS) }
func (t Tuning) StyleRefresh() time.Duration  { return ms(t.StyleRefreshMS) }
func (t Tuning) HistoryCacheTTL() time.Duration {
	return time.Duration(t.HistoryCacheTTLS) * time.Second
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
