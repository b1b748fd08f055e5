package session

import "time"

const day = 24 * time.Hour

// presetSpans maps range preset names to their time span. ALL is zero and
// means auto-fit.
var presetSpans = map[string]time.Duration{
	"1D":  day,
	"5D":  5 * day,
	"1M":  30 * day,
	"3M":  90 * day,
	"6M":  180 * day,
	"1Y":  365 * day,
	"ALL": 0,
}

// Presets lists the preset names in display order.
func Presets() []string {
	return []string{"1D", "5D", "1M", "3M", "6M", "1Y", "ALL"}
}
